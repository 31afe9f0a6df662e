// Package universe loads the published EVETrade resource catalogs: the
// station/region universe list and the known player-structure directory.
// Both are static JSON documents served from object storage.
package universe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"
)

const (
	defaultUniverseURL      = "https://evetrade.s3.amazonaws.com/resources/universeList.json"
	defaultStructureInfoURL = "https://evetrade.s3.amazonaws.com/resources/structureInfo.json"
	defaultHTTPTimeout      = 30 * time.Second
)

// Config points the catalog at the resource documents.
type Config struct {
	UniverseURL      string `json:",default=https://evetrade.s3.amazonaws.com/resources/universeList.json"`
	StructureInfoURL string `json:",default=https://evetrade.s3.amazonaws.com/resources/structureInfo.json"`
}

// Station is one entry of the universe list. Only the region binding is
// needed for sync; the document carries more that we ignore.
type Station struct {
	Region int64 `json:"region"`
}

// Structure describes a player structure with a public market.
type Structure struct {
	Name     string `json:"name"`
	SystemID int64  `json:"system_id"`
	RegionID int64  `json:"region_id"`
}

// Catalog fetches and decodes the resource documents.
type Catalog struct {
	universeURL  string
	structureURL string
	httpClient   *http.Client
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Catalog) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewCatalog constructs a catalog from config, applying defaults for any
// unset URL.
func NewCatalog(cfg Config, opts ...Option) *Catalog {
	c := &Catalog{
		universeURL:  cfg.UniverseURL,
		structureURL: cfg.StructureInfoURL,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	if c.universeURL == "" {
		c.universeURL = defaultUniverseURL
	}
	if c.structureURL == "" {
		c.structureURL = defaultStructureInfoURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegionIDs returns the distinct region ids present in the universe list,
// sorted ascending.
func (c *Catalog) RegionIDs(ctx context.Context) ([]int64, error) {
	var stations map[string]Station
	if err := c.getJSON(ctx, c.universeURL, &stations); err != nil {
		return nil, fmt.Errorf("universe: fetch region ids: %w", err)
	}

	seen := make(map[int64]struct{})
	for _, station := range stations {
		if station.Region > 0 {
			seen[station.Region] = struct{}{}
		}
	}
	regions := make([]int64, 0, len(seen))
	for id := range seen {
		regions = append(regions, id)
	}
	sort.Slice(regions, func(i, j int) bool { return regions[i] < regions[j] })
	return regions, nil
}

// Structures returns the known player structures keyed by structure id.
func (c *Catalog) Structures(ctx context.Context) (map[int64]Structure, error) {
	var raw map[string]Structure
	if err := c.getJSON(ctx, c.structureURL, &raw); err != nil {
		return nil, fmt.Errorf("universe: fetch structure info: %w", err)
	}

	structures := make(map[int64]Structure, len(raw))
	for key, info := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		structures[id] = info
	}
	return structures, nil
}

func (c *Catalog) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
