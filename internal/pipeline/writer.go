package pipeline

import (
	"context"
	"sort"

	"evetrade-sync/internal/record"
	"evetrade-sync/internal/sink"
)

// WriteReport accounts for one Apply pass across both sinks.
type WriteReport struct {
	CacheUpserts int
	CacheDeletes int
	IndexUpserts int
	IndexDeletes int
	// CacheFailed holds identities the cache rejected. They were withheld
	// from the index, so both sinks simply lag reality for them until the
	// next run re-upserts.
	CacheFailed []string
	// Inconsistent holds identities the cache accepted but the index did
	// not. These are the divergent ones a PartialWriteError enumerates.
	Inconsistent []string
}

// Writer applies a change set to the cache and then the index. The cache
// goes first because it is the source of the next run's previous-key set:
// an identity missing from the cache will simply be re-reconciled, while an
// identity missing from the index would go dark for searchers.
type Writer struct {
	cache sink.Cache
	index sink.Index
}

func NewWriter(cache sink.Cache, index sink.Index) *Writer {
	return &Writer{cache: cache, index: index}
}

// Apply writes the change set to both sinks. A wholesale cache failure
// aborts before the index is touched and returns *WriteError. Per-key cache
// failures withhold those identities from the index so the sinks cannot
// diverge through them. Identities the index then rejects after a
// successful cache write are returned in a *PartialWriteError alongside the
// report.
func (w *Writer) Apply(ctx context.Context, cs *ChangeSet) (*WriteReport, error) {
	report := &WriteReport{}

	cacheFailedPut, err := w.cache.PutRecords(ctx, cs.Upserts)
	if err != nil {
		return report, &WriteError{Sink: "cache", Op: "put", Err: err}
	}
	cacheFailedDel, err := w.cache.DeleteKeys(ctx, cs.Deletes)
	if err != nil {
		return report, &WriteError{Sink: "cache", Op: "delete", Err: err}
	}
	report.CacheUpserts = len(cs.Upserts) - len(cacheFailedPut)
	report.CacheDeletes = len(cs.Deletes) - len(cacheFailedDel)
	report.CacheFailed = append(report.CacheFailed, cacheFailedPut...)
	report.CacheFailed = append(report.CacheFailed, cacheFailedDel...)
	sort.Strings(report.CacheFailed)

	upserts := withoutRecords(cs.Upserts, cacheFailedPut)
	deletes := withoutKeys(cs.Deletes, cacheFailedDel)

	indexFailedUp, err := w.index.BulkUpsert(ctx, upserts)
	if err != nil {
		// The cache already holds these records; the index has none of them.
		report.Inconsistent = identitiesOf(upserts)
		report.Inconsistent = append(report.Inconsistent, deletes...)
		sort.Strings(report.Inconsistent)
		return report, &PartialWriteError{Identities: report.Inconsistent}
	}
	report.IndexUpserts = len(upserts) - len(indexFailedUp)
	report.Inconsistent = append(report.Inconsistent, indexFailedUp...)

	indexFailedDel, err := w.index.BulkDelete(ctx, deletes)
	if err != nil {
		report.Inconsistent = append(report.Inconsistent, deletes...)
		sort.Strings(report.Inconsistent)
		return report, &PartialWriteError{Identities: report.Inconsistent}
	}
	report.IndexDeletes = len(deletes) - len(indexFailedDel)
	report.Inconsistent = append(report.Inconsistent, indexFailedDel...)
	sort.Strings(report.Inconsistent)

	if len(report.Inconsistent) > 0 {
		return report, &PartialWriteError{Identities: report.Inconsistent}
	}
	return report, nil
}

func withoutRecords(records []record.TradeRecord, failed []string) []record.TradeRecord {
	if len(failed) == 0 {
		return records
	}
	skip := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		skip[id] = struct{}{}
	}
	kept := make([]record.TradeRecord, 0, len(records))
	for _, rec := range records {
		if _, ok := skip[rec.Identity().String()]; ok {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

func withoutKeys(keys, failed []string) []string {
	if len(failed) == 0 {
		return keys
	}
	skip := make(map[string]struct{}, len(failed))
	for _, id := range failed {
		skip[id] = struct{}{}
	}
	kept := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := skip[key]; ok {
			continue
		}
		kept = append(kept, key)
	}
	return kept
}

func identitiesOf(records []record.TradeRecord) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Identity().String())
	}
	return out
}
