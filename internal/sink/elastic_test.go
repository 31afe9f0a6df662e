package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"evetrade-sync/internal/config"
	"evetrade-sync/internal/record"
)

// newElasticServer mocks the handful of Elasticsearch endpoints the sink
// uses. Responses carry the product header the v8 client insists on.
func newElasticServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *ElasticIndex) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	idx, err := NewElasticIndex(config.ElasticConf{
		Addresses: []string{server.URL},
		Index:     "market-data",
	})
	require.NoError(t, err)
	return server, idx
}

func indexRecord(typeID int64) record.TradeRecord {
	return record.TradeRecord{
		OrderID:     9,
		RegionID:    10000002,
		TypeID:      typeID,
		StationID:   60003760,
		Price:       5.05,
		VolumeTotal: 10,
		Issued:      time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC),
	}
}

func TestEnsureIndexCreatesWhenMissing(t *testing.T) {
	var createdBody string
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/market-data":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPut && r.URL.Path == "/market-data":
			body, _ := io.ReadAll(r.Body)
			createdBody = string(body)
			fmt.Fprint(w, `{"acknowledged":true}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	})

	require.NoError(t, idx.EnsureIndex(context.Background()))
	require.Contains(t, createdBody, `"issued"`)
	require.Contains(t, createdBody, `"type": "date"`)
}

func TestEnsureIndexNoopWhenPresent(t *testing.T) {
	var createCalled bool
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			createCalled = true
		}
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, idx.EnsureIndex(context.Background()))
	require.False(t, createCalled)
}

func TestBulkUpsertReportsPerDocumentFailures(t *testing.T) {
	var bulkBody string
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/market-data/_bulk", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		bulkBody = string(body)
		fmt.Fprint(w, `{
			"errors": true,
			"items": [
				{"index": {"_id": "10000002:34:60003760:sell", "status": 201}},
				{"index": {"_id": "10000002:35:60003760:sell", "status": 429,
					"error": {"type": "es_rejected_execution_exception", "reason": "queue full"}}}
			]
		}`)
	})

	failed, err := idx.BulkUpsert(context.Background(), []record.TradeRecord{
		indexRecord(34),
		indexRecord(35),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"10000002:35:60003760:sell"}, failed)

	lines := strings.Split(strings.TrimSpace(bulkBody), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], `"_id":"10000002:34:60003760:sell"`)
	require.Contains(t, lines[1], `"region_id":10000002`)
}

func TestBulkUpsertAllClean(t *testing.T) {
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"errors": false, "items": [{"index": {"_id": "a", "status": 201}}]}`)
	})
	failed, err := idx.BulkUpsert(context.Background(), []record.TradeRecord{indexRecord(34)})
	require.NoError(t, err)
	require.Empty(t, failed)
}

func TestBulkUpsertClusterFailure(t *testing.T) {
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"cluster_block_exception"}`, http.StatusServiceUnavailable)
	})
	_, err := idx.BulkUpsert(context.Background(), []record.TradeRecord{indexRecord(34)})
	require.Error(t, err)
}

func TestBulkDeleteTreatsMissingAsDeleted(t *testing.T) {
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"errors": true,
			"items": [
				{"delete": {"_id": "10000002:34:60003760:sell", "status": 200}},
				{"delete": {"_id": "10000002:35:60003760:sell", "status": 404}},
				{"delete": {"_id": "10000002:36:60003760:sell", "status": 500,
					"error": {"type": "internal", "reason": "boom"}}}
			]
		}`)
	})

	failed, err := idx.BulkDelete(context.Background(), []string{
		"10000002:34:60003760:sell",
		"10000002:35:60003760:sell",
		"10000002:36:60003760:sell",
	})
	require.NoError(t, err)
	require.Equal(t, []string{"10000002:36:60003760:sell"}, failed)
}

func TestBulkEmptyBatchesSkipTheNetwork(t *testing.T) {
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty batches")
	})

	failed, err := idx.BulkUpsert(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, failed)

	failed, err = idx.BulkDelete(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, failed)
}

func TestLatestIssued(t *testing.T) {
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/market-data/_search", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), `"issued":{"order":"desc"}`)
		fmt.Fprint(w, `{
			"hits": {
				"total": {"value": 12000},
				"hits": [{"_source": {"issued": "2026-08-31T10:00:00Z"}}]
			}
		}`)
	})

	latest, err := idx.LatestIssued(context.Background())
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC), latest.UTC())
}

func TestLatestIssuedEmptyIndex(t *testing.T) {
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"hits": {"total": {"value": 0}, "hits": []}}`)
	})

	_, err := idx.LatestIssued(context.Background())
	require.True(t, errors.Is(err, ErrNoDocuments))
}

func TestLatestIssuedClusterError(t *testing.T) {
	_, idx := newElasticServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"index_not_found_exception"}`, http.StatusNotFound)
	})

	_, err := idx.LatestIssued(context.Background())
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNoDocuments))
}
