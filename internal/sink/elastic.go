package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"evetrade-sync/internal/config"
	"evetrade-sync/internal/record"
)

// indexMapping types the fields the freshness check and downstream query
// services sort and filter on. Everything else is dynamic.
const indexMapping = `{
  "mappings": {
    "properties": {
      "order_id":      {"type": "long"},
      "region_id":     {"type": "long"},
      "type_id":       {"type": "long"},
      "station_id":    {"type": "long"},
      "system_id":     {"type": "long"},
      "is_buy_order":  {"type": "boolean"},
      "price":         {"type": "double"},
      "volume_remain": {"type": "long"},
      "volume_total":  {"type": "long"},
      "min_volume":    {"type": "long"},
      "volume_traded": {"type": "long"},
      "citadel":       {"type": "boolean"},
      "issued":        {"type": "date"}
    }
  }
}`

// ElasticIndex implements Index on an Elasticsearch cluster. Documents are
// keyed by record identity so re-upserting the same record is idempotent.
type ElasticIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewElasticIndex builds the search index sink from config.
func NewElasticIndex(cfg config.ElasticConf) (*ElasticIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("index: build client: %w", err)
	}
	return &ElasticIndex{client: client, index: cfg.Index}, nil
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (e *ElasticIndex) EnsureIndex(ctx context.Context) error {
	res, err := e.client.Indices.Exists([]string{e.index},
		e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index: check %s: %w", e.index, err)
	}
	defer drain(res)
	switch res.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return fmt.Errorf("index: check %s: status %d", e.index, res.StatusCode)
	}

	created, err := e.client.Indices.Create(e.index,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(strings.NewReader(indexMapping)))
	if err != nil {
		return fmt.Errorf("index: create %s: %w", e.index, err)
	}
	defer drain(created)
	if created.IsError() {
		return fmt.Errorf("index: create %s: %s", e.index, created.String())
	}
	return nil
}

// BulkUpsert indexes every record under its identity id in one bulk
// request. Documents rejected by the cluster are reported individually.
func (e *ElasticIndex) BulkUpsert(ctx context.Context, records []record.TradeRecord) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	for _, rec := range records {
		id := rec.Identity().String()
		meta := fmt.Sprintf(`{"index":{"_id":%q}}`, id)
		doc, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("index: encode %s: %w", id, err)
		}
		buf.WriteString(meta)
		buf.WriteByte('\n')
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return e.bulk(ctx, &buf, "index", nil)
}

// BulkDelete removes documents by identity. A document already absent is
// treated as deleted, keeping deletes idempotent.
func (e *ElasticIndex) BulkDelete(ctx context.Context, identities []string) ([]string, error) {
	if len(identities) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	for _, id := range identities {
		buf.WriteString(fmt.Sprintf(`{"delete":{"_id":%q}}`, id))
		buf.WriteByte('\n')
	}
	okStatuses := map[int]bool{http.StatusNotFound: true}
	return e.bulk(ctx, &buf, "delete", okStatuses)
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

func (e *ElasticIndex) bulk(ctx context.Context, body io.Reader, action string, extraOK map[int]bool) ([]string, error) {
	res, err := e.client.Bulk(body,
		e.client.Bulk.WithContext(ctx),
		e.client.Bulk.WithIndex(e.index))
	if err != nil {
		return nil, fmt.Errorf("index: bulk %s: %w", action, err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, fmt.Errorf("index: bulk %s: %s", action, res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("index: decode bulk %s response: %w", action, err)
	}
	if !parsed.Errors {
		return nil, nil
	}

	var failed []string
	for _, item := range parsed.Items {
		result, ok := item[action]
		if !ok {
			continue
		}
		if result.Status >= 200 && result.Status < 300 {
			continue
		}
		if extraOK[result.Status] {
			continue
		}
		failed = append(failed, result.ID)
	}
	return failed, nil
}

type latestIssuedResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source struct {
				Issued time.Time `json:"issued"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// LatestIssued returns the newest observation timestamp in the index.
// Returns ErrNoDocuments when the index is empty.
func (e *ElasticIndex) LatestIssued(ctx context.Context) (time.Time, error) {
	const query = `{"size":1,"sort":[{"issued":{"order":"desc"}}],"query":{"match_all":{}}}`
	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.index),
		e.client.Search.WithBody(strings.NewReader(query)))
	if err != nil {
		return time.Time{}, fmt.Errorf("index: latest issued: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return time.Time{}, fmt.Errorf("index: latest issued: %s", res.String())
	}

	var parsed latestIssuedResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return time.Time{}, fmt.Errorf("index: decode latest issued: %w", err)
	}
	if len(parsed.Hits.Hits) == 0 {
		return time.Time{}, ErrNoDocuments
	}
	return parsed.Hits.Hits[0].Source.Issued, nil
}

func drain(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}
}
