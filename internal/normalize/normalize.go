// Package normalize converts raw ESI order payloads into canonical trade
// records. It validates and coerces every field, keeps only the best buy
// and best sell order per station and item type, and counts everything it
// drops. Normalization is pure: the same input always yields the same
// records.
package normalize

import (
	"time"

	"evetrade-sync/internal/record"
	"evetrade-sync/pkg/esi"
	"evetrade-sync/pkg/universe"
)

// NonStationIDThreshold is the highest location id that can be an NPC
// station. The regional order feed reports player structures above this
// ceiling; those are served by the authed structure feed instead.
const NonStationIDThreshold = 99_999_999

// Drop reasons surfaced in the run summary.
const (
	ReasonMissingIdentity  = "missing_identity"
	ReasonBadPrice         = "bad_price"
	ReasonBadVolume        = "bad_volume"
	ReasonBadTimestamp     = "bad_timestamp"
	ReasonStructureFeed    = "structure_location"
	ReasonUnknownStructure = "unknown_structure"
)

// Stats counts the outcome of one normalization batch. Drops are an
// observability signal, never an error.
type Stats struct {
	Seen    int
	Kept    int
	Dropped map[string]int
}

// DroppedTotal sums drops across all reasons.
func (s Stats) DroppedTotal() int {
	total := 0
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

func (s *Stats) drop(reason string) {
	if s.Dropped == nil {
		s.Dropped = make(map[string]int)
	}
	s.Dropped[reason]++
}

// Order validates one raw order and coerces it into a trade record.
// The second return is the drop reason, empty when the record is kept.
func Order(regionID, systemID int64, citadel bool, raw esi.RawOrder) (record.TradeRecord, string) {
	if raw.TypeID <= 0 || raw.LocationID <= 0 {
		return record.TradeRecord{}, ReasonMissingIdentity
	}
	if raw.Price <= 0 {
		return record.TradeRecord{}, ReasonBadPrice
	}
	if raw.VolumeRemain < 0 || raw.VolumeTotal <= 0 || raw.VolumeRemain > raw.VolumeTotal {
		return record.TradeRecord{}, ReasonBadVolume
	}
	issued, err := time.Parse(time.RFC3339, raw.Issued)
	if err != nil {
		return record.TradeRecord{}, ReasonBadTimestamp
	}
	if systemID == 0 {
		systemID = raw.SystemID
	}
	return record.TradeRecord{
		OrderID:      raw.OrderID,
		RegionID:     regionID,
		TypeID:       raw.TypeID,
		StationID:    raw.LocationID,
		SystemID:     systemID,
		IsBuyOrder:   raw.IsBuyOrder,
		Price:        raw.Price,
		VolumeRemain: raw.VolumeRemain,
		VolumeTotal:  raw.VolumeTotal,
		MinVolume:    raw.MinVolume,
		VolumeTraded: raw.VolumeTotal - raw.VolumeRemain,
		Citadel:      citadel,
		Issued:       issued.UTC(),
	}, ""
}

// RegionOrders normalizes a regional order feed. Player-structure locations
// are dropped here (the structure feed owns them) and only the best buy and
// best sell per station and type survive.
func RegionOrders(regionID int64, raws []esi.RawOrder) ([]record.TradeRecord, Stats) {
	stats := Stats{Seen: len(raws)}
	records := make([]record.TradeRecord, 0, len(raws))
	for _, raw := range raws {
		if raw.LocationID > NonStationIDThreshold {
			stats.drop(ReasonStructureFeed)
			continue
		}
		rec, reason := Order(regionID, 0, false, raw)
		if reason != "" {
			stats.drop(reason)
			continue
		}
		records = append(records, rec)
	}
	best := bestOrders(records)
	stats.Kept = len(best)
	return best, stats
}

// StructureOrders normalizes a player-structure order feed. Region and
// system come from the structure catalog; orders for structures missing
// from the catalog are dropped.
func StructureOrders(structures map[int64]universe.Structure, raws []esi.RawOrder) ([]record.TradeRecord, Stats) {
	stats := Stats{Seen: len(raws)}
	records := make([]record.TradeRecord, 0, len(raws))
	for _, raw := range raws {
		info, ok := structures[raw.LocationID]
		if !ok {
			stats.drop(ReasonUnknownStructure)
			continue
		}
		rec, reason := Order(info.RegionID, info.SystemID, true, raw)
		if reason != "" {
			stats.drop(reason)
			continue
		}
		records = append(records, rec)
	}
	best := bestOrders(records)
	stats.Kept = len(best)
	return best, stats
}

// Merge folds another batch's stats into s.
func (s *Stats) Merge(other Stats) {
	s.Seen += other.Seen
	s.Kept += other.Kept
	for reason, n := range other.Dropped {
		if s.Dropped == nil {
			s.Dropped = make(map[string]int)
		}
		s.Dropped[reason] += n
	}
}

type bookKey struct {
	stationID int64
	typeID    int64
}

type bookSides struct {
	buy     record.TradeRecord
	hasBuy  bool
	sell    record.TradeRecord
	hasSell bool
}

// bestOrders keeps the highest-priced buy and lowest-priced sell per
// station and type. Everything else is redundant for trade comparison.
func bestOrders(records []record.TradeRecord) []record.TradeRecord {
	books := make(map[bookKey]*bookSides)
	order := make([]bookKey, 0, len(records))
	for _, rec := range records {
		key := bookKey{stationID: rec.StationID, typeID: rec.TypeID}
		sides, ok := books[key]
		if !ok {
			sides = &bookSides{}
			books[key] = sides
			order = append(order, key)
		}
		if rec.IsBuyOrder {
			if !sides.hasBuy || rec.Price > sides.buy.Price {
				sides.buy, sides.hasBuy = rec, true
			}
		} else {
			if !sides.hasSell || rec.Price < sides.sell.Price {
				sides.sell, sides.hasSell = rec, true
			}
		}
	}

	out := make([]record.TradeRecord, 0, len(order)*2)
	for _, key := range order {
		sides := books[key]
		if sides.hasBuy {
			out = append(out, sides.buy)
		}
		if sides.hasSell {
			out = append(out, sides.sell)
		}
	}
	return out
}
