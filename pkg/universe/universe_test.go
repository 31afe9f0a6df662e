package universe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegionIDsDistinctSorted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"Jita IV - Moon 4": {"region": 10000002},
			"Amarr VIII": {"region": 10000043},
			"Perimeter II": {"region": 10000002},
			"broken entry": {}
		}`)
	}))
	defer server.Close()

	catalog := NewCatalog(Config{UniverseURL: server.URL})
	regions, err := catalog.RegionIDs(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{10000002, 10000043}, regions)
}

func TestRegionIDsUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer server.Close()

	catalog := NewCatalog(Config{UniverseURL: server.URL})
	_, err := catalog.RegionIDs(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 403")
}

func TestStructures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"1035466617946": {"name": "4-HWWF Keepstar", "system_id": 30000240, "region_id": 10000003},
			"not-an-id": {"name": "garbage", "system_id": 1, "region_id": 1}
		}`)
	}))
	defer server.Close()

	catalog := NewCatalog(Config{StructureInfoURL: server.URL})
	structures, err := catalog.Structures(context.Background())
	require.NoError(t, err)
	require.Len(t, structures, 1)
	require.Equal(t, int64(10000003), structures[1035466617946].RegionID)
	require.Equal(t, "4-HWWF Keepstar", structures[1035466617946].Name)
}

func TestNewCatalogDefaults(t *testing.T) {
	catalog := NewCatalog(Config{})
	require.Equal(t, defaultUniverseURL, catalog.universeURL)
	require.Equal(t, defaultStructureInfoURL, catalog.structureURL)
}
