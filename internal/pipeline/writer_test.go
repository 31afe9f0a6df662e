package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evetrade-sync/internal/record"
)

// stubCache and stubIndex share an operation log so tests can assert the
// cache-before-index write order.

type stubCache struct {
	log *[]string

	keys      []string
	keysErr   error
	putFailed []string
	putErr    error
	delFailed []string
	delErr    error

	gotPuts    []record.TradeRecord
	gotDeletes []string
}

func (s *stubCache) Keys(ctx context.Context) ([]string, error) {
	*s.log = append(*s.log, "cache.keys")
	return s.keys, s.keysErr
}

func (s *stubCache) PutRecords(ctx context.Context, records []record.TradeRecord) ([]string, error) {
	*s.log = append(*s.log, "cache.put")
	s.gotPuts = append(s.gotPuts, records...)
	return s.putFailed, s.putErr
}

func (s *stubCache) DeleteKeys(ctx context.Context, identities []string) ([]string, error) {
	*s.log = append(*s.log, "cache.delete")
	s.gotDeletes = append(s.gotDeletes, identities...)
	return s.delFailed, s.delErr
}

type stubIndex struct {
	log *[]string

	upsertFailed []string
	upsertErr    error
	deleteFailed []string
	deleteErr    error
	latest       time.Time
	latestErr    error

	gotUpserts []record.TradeRecord
	gotDeletes []string
}

func (s *stubIndex) EnsureIndex(ctx context.Context) error {
	*s.log = append(*s.log, "index.ensure")
	return nil
}

func (s *stubIndex) BulkUpsert(ctx context.Context, records []record.TradeRecord) ([]string, error) {
	*s.log = append(*s.log, "index.upsert")
	s.gotUpserts = append(s.gotUpserts, records...)
	return s.upsertFailed, s.upsertErr
}

func (s *stubIndex) BulkDelete(ctx context.Context, identities []string) ([]string, error) {
	*s.log = append(*s.log, "index.delete")
	s.gotDeletes = append(s.gotDeletes, identities...)
	return s.deleteFailed, s.deleteErr
}

func (s *stubIndex) LatestIssued(ctx context.Context) (time.Time, error) {
	return s.latest, s.latestErr
}

func newStubs() (*stubCache, *stubIndex, *[]string) {
	log := &[]string{}
	return &stubCache{log: log}, &stubIndex{log: log}, log
}

func testChangeSet() *ChangeSet {
	return &ChangeSet{
		Upserts: []record.TradeRecord{
			testRecord(10000002, 34, 60003760, false, 5.2),
			testRecord(10000002, 34, 60003760, true, 4.9),
			testRecord(10000043, 44992, 60008494, false, 3_950_000),
		},
		Deletes: []string{"10000002:35:60003760:sell"},
	}
}

func TestWriterAppliesCacheBeforeIndex(t *testing.T) {
	cache, index, log := newStubs()
	w := NewWriter(cache, index)

	report, err := w.Apply(context.Background(), testChangeSet())
	require.NoError(t, err)

	require.Equal(t, []string{"cache.put", "cache.delete", "index.upsert", "index.delete"}, *log)
	require.Equal(t, 3, report.CacheUpserts)
	require.Equal(t, 1, report.CacheDeletes)
	require.Equal(t, 3, report.IndexUpserts)
	require.Equal(t, 1, report.IndexDeletes)
	require.Empty(t, report.CacheFailed)
	require.Empty(t, report.Inconsistent)
}

func TestWriterCacheFailureAbortsBeforeIndex(t *testing.T) {
	cache, index, log := newStubs()
	cache.putErr = errors.New("connection refused")
	w := NewWriter(cache, index)

	_, err := w.Apply(context.Background(), testChangeSet())

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	require.Equal(t, "cache", writeErr.Sink)
	require.Equal(t, []string{"cache.put"}, *log, "index must not be touched after a cache failure")
}

func TestWriterCacheDeleteFailureAbortsBeforeIndex(t *testing.T) {
	cache, index, log := newStubs()
	cache.delErr = errors.New("connection reset")
	w := NewWriter(cache, index)

	_, err := w.Apply(context.Background(), testChangeSet())

	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	require.Equal(t, "delete", writeErr.Op)
	require.Equal(t, []string{"cache.put", "cache.delete"}, *log)
	require.Empty(t, index.gotUpserts)
}

func TestWriterWithholdsCacheRejectsFromIndex(t *testing.T) {
	cache, index, _ := newStubs()
	cache.putFailed = []string{"10000002:34:60003760:buy"}
	w := NewWriter(cache, index)

	report, err := w.Apply(context.Background(), testChangeSet())
	require.NoError(t, err, "cache-side per-key failures keep the sinks consistent")

	require.Equal(t, []string{"10000002:34:60003760:buy"}, report.CacheFailed)
	require.Len(t, index.gotUpserts, 2)
	for _, rec := range index.gotUpserts {
		require.NotEqual(t, "10000002:34:60003760:buy", rec.Identity().String())
	}
}

func TestWriterIndexPartialFailure(t *testing.T) {
	cache, index, _ := newStubs()
	index.upsertFailed = []string{"10000043:44992:60008494:sell"}
	w := NewWriter(cache, index)

	report, err := w.Apply(context.Background(), testChangeSet())

	var partial *PartialWriteError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, []string{"10000043:44992:60008494:sell"}, partial.Identities)
	require.Equal(t, partial.Identities, report.Inconsistent)
	require.Equal(t, 2, report.IndexUpserts)
}

func TestWriterIndexTotalFailureEnumeratesEverything(t *testing.T) {
	cache, index, _ := newStubs()
	index.upsertErr = errors.New("cluster unavailable")
	w := NewWriter(cache, index)

	report, err := w.Apply(context.Background(), testChangeSet())

	var partial *PartialWriteError
	require.ErrorAs(t, err, &partial)
	// Everything the cache accepted is now ahead of the index.
	require.Equal(t, []string{
		"10000002:34:60003760:buy",
		"10000002:34:60003760:sell",
		"10000002:35:60003760:sell",
		"10000043:44992:60008494:sell",
	}, partial.Identities)
	require.Equal(t, partial.Identities, report.Inconsistent)
}

func TestWriterIndexDeleteFailure(t *testing.T) {
	cache, index, _ := newStubs()
	index.deleteFailed = []string{"10000002:35:60003760:sell"}
	w := NewWriter(cache, index)

	report, err := w.Apply(context.Background(), testChangeSet())

	var partial *PartialWriteError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, []string{"10000002:35:60003760:sell"}, partial.Identities)
	require.Equal(t, 0, report.IndexDeletes)
}

func TestWriterEmptyChangeSet(t *testing.T) {
	cache, index, _ := newStubs()
	w := NewWriter(cache, index)

	report, err := w.Apply(context.Background(), &ChangeSet{})
	require.NoError(t, err)
	require.Zero(t, report.CacheUpserts)
	require.Zero(t, report.IndexUpserts)
}
