// Package search keeps the content search index in step with content
// creation and verification status transitions.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/truthsignal/consensus-engine/internal/model"
)

const DefaultIndex = "veridia_content"

// Indexer writes content documents. All operations are idempotent partial
// overwrites, and status updates older than the indexed one are ignored.
type Indexer interface {
	IndexContent(ctx context.Context, seed model.ContentSeed) error
	UpdateStatus(ctx context.Context, contentID string, status model.VerificationStatus, at time.Time) error
	SetAssessment(ctx context.Context, contentID string, a model.Assessment) error
}

const indexMapping = `{
  "settings": {"number_of_shards": 1, "number_of_replicas": 0},
  "mappings": {
    "properties": {
      "content_id":     {"type": "keyword"},
      "title":          {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "source_url":     {"type": "keyword"},
      "category":       {"type": "keyword"},
      "author_id":      {"type": "keyword"},
      "status":         {"type": "keyword"},
      "status_version": {"type": "long"},
      "ai_status":      {"type": "keyword"},
      "ai_confidence":  {"type": "float"},
      "created_at":     {"type": "date"},
      "indexed_at":     {"type": "date"}
    }
  }
}`

// Only a newer transition may overwrite the status field.
const statusScript = `if (ctx._source.status_version == null || ctx._source.status_version < params.version) {
  ctx._source.status = params.status;
  ctx._source.status_version = params.version;
  ctx._source.indexed_at = params.indexed_at;
} else {
  ctx.op = 'none';
}`

type ElasticIndexer struct {
	es    *elasticsearch.Client
	index string
	now   func() time.Time
}

// NewElasticIndexer creates a client for addr. It does not contact the cluster.
func NewElasticIndexer(addr, index string) (*ElasticIndexer, error) {
	if index == "" {
		index = DefaultIndex
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &ElasticIndexer{es: es, index: index, now: time.Now}, nil
}

// EnsureIndex creates the index with its mapping if it does not exist.
func (x *ElasticIndexer) EnsureIndex(ctx context.Context) error {
	res, err := x.es.Indices.Exists([]string{x.index}, x.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index exists: %w", err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = x.es.Indices.Create(x.index,
		x.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		x.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer drain(res)
	if res.IsError() && !strings.Contains(readBody(res), "resource_already_exists_exception") {
		return fmt.Errorf("create index %s: %s", x.index, res.Status())
	}
	log.Info().Str("index", x.index).Msg("search: index created")
	return nil
}

// IndexContent writes the descriptive fields of a content item. An existing
// document keeps its status.
func (x *ElasticIndexer) IndexContent(ctx context.Context, seed model.ContentSeed) error {
	now := x.now().UTC()
	fields := map[string]any{
		"content_id": seed.ContentID,
		"title":      seed.Title,
		"source_url": seed.SourceURL,
		"category":   seed.Category,
		"author_id":  seed.AuthorID,
		"indexed_at": now,
	}
	if !seed.CreatedAt.IsZero() {
		fields["created_at"] = seed.CreatedAt.UTC()
	}
	return x.update(ctx, seed.ContentID, map[string]any{"doc": fields, "upsert": withPendingStatus(fields)})
}

// SetAssessment records the AI pre-screen verdict. It touches only the ai_*
// fields, so it may land before or after IndexContent.
func (x *ElasticIndexer) SetAssessment(ctx context.Context, contentID string, a model.Assessment) error {
	fields := map[string]any{
		"content_id":    contentID,
		"ai_status":     a.Status,
		"ai_confidence": a.Confidence,
		"indexed_at":    x.now().UTC(),
	}
	return x.update(ctx, contentID, map[string]any{"doc": fields, "upsert": withPendingStatus(fields)})
}

// withPendingStatus copies fields for a first write of the document.
func withPendingStatus(fields map[string]any) map[string]any {
	upsert := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		upsert[k] = v
	}
	upsert["status"] = model.StatusPending
	upsert["status_version"] = 0
	return upsert
}

// UpdateStatus overwrites the status if at is newer than the indexed status.
func (x *ElasticIndexer) UpdateStatus(ctx context.Context, contentID string, status model.VerificationStatus, at time.Time) error {
	now := x.now().UTC()
	version := at.UnixMilli()
	return x.update(ctx, contentID, map[string]any{
		"script": map[string]any{
			"source": statusScript,
			"lang":   "painless",
			"params": map[string]any{
				"status":     status,
				"version":    version,
				"indexed_at": now,
			},
		},
		"upsert": map[string]any{
			"content_id":     contentID,
			"status":         status,
			"status_version": version,
			"indexed_at":     now,
		},
	})
}

func (x *ElasticIndexer) update(ctx context.Context, id string, body map[string]any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	res, err := x.es.Update(x.index, id, bytes.NewReader(b),
		x.es.Update.WithContext(ctx),
		x.es.Update.WithRetryOnConflict(3),
	)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("update %s: %s: %s", id, res.Status(), readBody(res))
	}
	return nil
}

// Ping checks cluster reachability for readiness probes.
func (x *ElasticIndexer) Ping(ctx context.Context) error {
	res, err := x.es.Ping(x.es.Ping.WithContext(ctx))
	if err != nil {
		return err
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping: %s", res.Status())
	}
	return nil
}

func readBody(res *esapi.Response) string {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return string(b)
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}

// LogIndexer records index writes in the log. Used when no cluster is configured.
type LogIndexer struct{}

func (LogIndexer) IndexContent(_ context.Context, seed model.ContentSeed) error {
	log.Debug().Str("content_id", seed.ContentID).Msg("search: index skipped, no cluster configured")
	return nil
}

func (LogIndexer) SetAssessment(_ context.Context, contentID string, a model.Assessment) error {
	log.Debug().Str("content_id", contentID).Str("ai_status", string(a.Status)).Msg("search: assessment skipped, no cluster configured")
	return nil
}

func (LogIndexer) UpdateStatus(_ context.Context, contentID string, status model.VerificationStatus, _ time.Time) error {
	log.Debug().Str("content_id", contentID).Str("status", string(status)).Msg("search: status update skipped, no cluster configured")
	return nil
}
