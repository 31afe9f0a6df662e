// Package record defines the canonical trade record produced by
// normalization and shared by every sink.
package record

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Identity is the stable composite key of a trade record. One record exists
// per region, item type, station and book side.
type Identity struct {
	RegionID  int64
	TypeID    int64
	StationID int64
	IsBuy     bool
}

// String renders the identity in its key form, e.g. "10000002:34:60003760:sell".
func (id Identity) String() string {
	side := "sell"
	if id.IsBuy {
		side = "buy"
	}
	return fmt.Sprintf("%d:%d:%d:%s", id.RegionID, id.TypeID, id.StationID, side)
}

// ParseIdentity decodes the key form produced by String.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Identity{}, fmt.Errorf("record: malformed identity %q", s)
	}
	var id Identity
	var err error
	if id.RegionID, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return Identity{}, fmt.Errorf("record: malformed identity %q: %w", s, err)
	}
	if id.TypeID, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return Identity{}, fmt.Errorf("record: malformed identity %q: %w", s, err)
	}
	if id.StationID, err = strconv.ParseInt(parts[2], 10, 64); err != nil {
		return Identity{}, fmt.Errorf("record: malformed identity %q: %w", s, err)
	}
	switch parts[3] {
	case "buy":
		id.IsBuy = true
	case "sell":
		id.IsBuy = false
	default:
		return Identity{}, fmt.Errorf("record: malformed identity side %q", s)
	}
	return id, nil
}

// TradeRecord is the canonical, validated unit of market data. It is the
// document stored in the search index and (msgpack-encoded) the value
// stored in the cache.
type TradeRecord struct {
	OrderID      int64     `json:"order_id" msgpack:"order_id"`
	RegionID     int64     `json:"region_id" msgpack:"region_id"`
	TypeID       int64     `json:"type_id" msgpack:"type_id"`
	StationID    int64     `json:"station_id" msgpack:"station_id"`
	SystemID     int64     `json:"system_id,omitempty" msgpack:"system_id,omitempty"`
	IsBuyOrder   bool      `json:"is_buy_order" msgpack:"is_buy_order"`
	Price        float64   `json:"price" msgpack:"price"`
	VolumeRemain int64     `json:"volume_remain" msgpack:"volume_remain"`
	VolumeTotal  int64     `json:"volume_total" msgpack:"volume_total"`
	MinVolume    int64     `json:"min_volume" msgpack:"min_volume"`
	VolumeTraded int64     `json:"volume_traded" msgpack:"volume_traded"`
	Citadel      bool      `json:"citadel" msgpack:"citadel"`
	Issued       time.Time `json:"issued" msgpack:"issued"`
}

// Identity returns the record's composite key.
func (r TradeRecord) Identity() Identity {
	return Identity{
		RegionID:  r.RegionID,
		TypeID:    r.TypeID,
		StationID: r.StationID,
		IsBuy:     r.IsBuyOrder,
	}
}

// State is the per-run set of fetched records keyed by identity. It is
// built fresh every sync pass and discarded at the end of it.
type State map[Identity]TradeRecord

// Add merges a record into the state. When two observations share an
// identity the one issued later wins; an equal timestamp also replaces, so
// within one feed the last page read is authoritative.
func (s State) Add(r TradeRecord) {
	id := r.Identity()
	if existing, ok := s[id]; ok && existing.Issued.After(r.Issued) {
		return
	}
	s[id] = r
}

// Merge folds another batch of records into the state.
func (s State) Merge(records []TradeRecord) {
	for _, r := range records {
		s.Add(r)
	}
}

// Records returns the state's records in deterministic identity order.
func (s State) Records() []TradeRecord {
	out := make([]TradeRecord, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	sortRecords(out)
	return out
}

func sortRecords(records []TradeRecord) {
	// Identity order: region, type, station, sells before buys.
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.RegionID != b.RegionID {
			return a.RegionID < b.RegionID
		}
		if a.TypeID != b.TypeID {
			return a.TypeID < b.TypeID
		}
		if a.StationID != b.StationID {
			return a.StationID < b.StationID
		}
		return !a.IsBuyOrder && b.IsBuyOrder
	})
}
