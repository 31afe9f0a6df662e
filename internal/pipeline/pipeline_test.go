package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"evetrade-sync/pkg/esi"
	"evetrade-sync/pkg/universe"
)

// fakeMarket serves a universe list and per-region order feeds the way the
// live endpoints do, enough for a full pipeline pass.
type fakeMarket struct {
	universe string
	orders   map[int64]string
}

func (f *fakeMarket) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/universeList.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, f.universe)
	})
	for regionID, payload := range f.orders {
		payload := payload
		mux.HandleFunc(fmt.Sprintf("/latest/markets/%d/orders/", regionID), func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Pages", "1")
			fmt.Fprint(w, payload)
		})
	}
	return mux
}

func newTestPipeline(t *testing.T, market *fakeMarket) (*Pipeline, *stubCache, *stubIndex, *[]string) {
	t.Helper()
	server := httptest.NewServer(market.handler())
	t.Cleanup(server.Close)

	client := esi.NewClient(esi.WithBaseURL(server.URL), esi.WithMaxRetries(1))
	catalog := universe.NewCatalog(universe.Config{
		UniverseURL:      server.URL + "/universeList.json",
		StructureInfoURL: server.URL + "/structureInfo.json",
	})
	cache, index, log := newStubs()
	p := New(client, catalog, cache, index, Options{RegionConcurrency: 2})
	return p, cache, index, log
}

func TestPipelineRun(t *testing.T) {
	market := &fakeMarket{
		universe: `{
			"Jita IV - Moon 4": {"region": 10000002},
			"Amarr VIII": {"region": 10000043}
		}`,
		orders: map[int64]string{
			10000002: `[
				{"order_id": 1, "type_id": 34, "location_id": 60003760, "system_id": 30000142,
				 "price": 5.2, "volume_remain": 100, "volume_total": 200, "is_buy_order": false,
				 "issued": "2026-08-30T12:00:00Z", "duration": 90, "range": "region"},
				{"order_id": 2, "type_id": 34, "location_id": 60003760, "system_id": 30000142,
				 "price": 4.9, "volume_remain": 50, "volume_total": 50, "is_buy_order": true,
				 "issued": "2026-08-30T12:00:00Z", "duration": 90, "range": "station"}
			]`,
			10000043: `[
				{"order_id": 3, "type_id": 44992, "location_id": 60008494, "system_id": 30002187,
				 "price": 3950000, "volume_remain": 5, "volume_total": 10, "is_buy_order": false,
				 "issued": "2026-08-30T12:00:00Z", "duration": 90, "range": "region"}
			]`,
		},
	}

	p, cache, index, log := newTestPipeline(t, market)
	cache.keys = []string{"10000002:35:60003760:sell"} // from a previous run, gone now

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, summary.Regions)
	require.Equal(t, 3, summary.Upserts)
	require.Equal(t, 1, summary.Deletes)
	require.Equal(t, 1, summary.PreviousKeys)
	require.Equal(t, 3, summary.Stats.Seen)
	require.Equal(t, 3, summary.Stats.Kept)

	require.Equal(t, []string{"10000002:35:60003760:sell"}, cache.gotDeletes)
	require.Len(t, index.gotUpserts, 3)

	// Previous keys are read before any write is issued.
	require.Equal(t, "index.ensure", (*log)[0])
	require.Equal(t, "cache.keys", (*log)[1])
	require.Equal(t, []string{"cache.put", "cache.delete", "index.upsert", "index.delete"}, (*log)[2:])
}

func TestPipelineRunIdempotent(t *testing.T) {
	market := &fakeMarket{
		universe: `{"Jita IV - Moon 4": {"region": 10000002}}`,
		orders: map[int64]string{
			10000002: `[
				{"order_id": 1, "type_id": 34, "location_id": 60003760, "system_id": 30000142,
				 "price": 5.2, "volume_remain": 100, "volume_total": 200, "is_buy_order": false,
				 "issued": "2026-08-30T12:00:00Z", "duration": 90, "range": "region"}
			]`,
		},
	}

	p, cache, _, _ := newTestPipeline(t, market)

	first, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, first.Upserts)
	require.Zero(t, first.Deletes)

	// Second pass over unchanged data: same upserts, still no deletes.
	cache.keys = []string{"10000002:34:60003760:sell"}
	second, err := p.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Upserts, second.Upserts)
	require.Zero(t, second.Deletes)
}

func TestPipelineRefusesEmptyFetch(t *testing.T) {
	market := &fakeMarket{
		universe: `{"Jita IV - Moon 4": {"region": 10000002}}`,
		orders:   map[int64]string{10000002: `[]`},
	}

	p, cache, index, log := newTestPipeline(t, market)
	cache.keys = []string{"10000002:34:60003760:sell"}

	_, err := p.Run(context.Background())

	var empty *EmptyFetchError
	require.ErrorAs(t, err, &empty)
	require.Equal(t, 1, empty.PreviousKeys)
	require.Empty(t, cache.gotPuts)
	require.Empty(t, cache.gotDeletes)
	require.Empty(t, index.gotUpserts)
	require.NotContains(t, *log, "cache.put")
	require.NotContains(t, *log, "cache.delete")
}

func TestPipelineAbortsOnRegionFetchFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/universeList.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Jita IV - Moon 4": {"region": 10000002}}`)
	})
	mux.HandleFunc("/latest/markets/10000002/orders/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := esi.NewClient(esi.WithBaseURL(server.URL), esi.WithMaxRetries(1))
	catalog := universe.NewCatalog(universe.Config{UniverseURL: server.URL + "/universeList.json"})
	cache, index, _ := newStubs()
	p := New(client, catalog, cache, index, Options{})

	_, err := p.Run(context.Background())

	var fetchErr *esi.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Empty(t, cache.gotPuts, "no sink write after a fetch failure")
	require.Empty(t, index.gotUpserts)
}
