// Package sink holds the two output boundaries of the pipeline: the Redis
// key-value cache and the Elasticsearch search index. The cache doubles as
// the read source for previous-run key membership.
package sink

import (
	"context"
	"errors"
	"time"

	"evetrade-sync/internal/record"
)

// ErrNoDocuments is returned by LatestIssued when the index holds nothing
// at all, which the freshness check treats as "cannot tell" rather than
// "stale".
var ErrNoDocuments = errors.New("sink: index has no documents")

// Cache is the key-value sink. PutRecords and DeleteKeys report per-key
// failures; a non-nil error means the sink as a whole failed and nothing
// can be assumed written.
type Cache interface {
	// Keys lists the identity strings currently present in the cache.
	Keys(ctx context.Context) ([]string, error)
	PutRecords(ctx context.Context, records []record.TradeRecord) (failed []string, err error)
	DeleteKeys(ctx context.Context, identities []string) (failed []string, err error)
}

// Index is the search index sink. Bulk operations report per-document
// failures the same way Cache does. LatestIssued serves the freshness
// check and must not mutate anything.
type Index interface {
	EnsureIndex(ctx context.Context) error
	BulkUpsert(ctx context.Context, records []record.TradeRecord) (failed []string, err error)
	BulkDelete(ctx context.Context, identities []string) (failed []string, err error)
	LatestIssued(ctx context.Context) (time.Time, error)
}
