// Package vector maintains the Qdrant evidence index: every kept evidence
// snippet is embedded and upserted so later jobs can find prior evidence for
// similar claims without re-searching the web.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"golang.org/x/sync/singleflight"

	"github.com/veridex-ai/veridex/internal/embedding"
	"github.com/veridex-ai/veridex/internal/model"
)

// Config holds the Qdrant connection settings.
type Config struct {
	URL        string // e.g. "https://xyz.cloud.qdrant.io:6333" or "http://localhost:6333"
	APIKey     string
	Collection string
	Dims       uint64
}

// Index implements the retrieval stage's VectorStore on Qdrant.
type Index struct {
	client     *qdrant.Client
	embedder   embedding.Provider
	collection string
	dims       uint64
	logger     *slog.Logger

	healthGroup singleflight.Group
	healthErr   atomic.Value // stores *error; inner error may be nil
	healthAt    atomic.Int64 // unix nanos of last check
}

// parseURL extracts host, port, and TLS flag from a Qdrant URL.
// Accepts forms like "https://host:6333", "http://host:6333", or "host:6334".
func parseURL(rawURL string) (host string, port int, useTLS bool, err error) {
	u, parseErr := url.Parse(rawURL)
	if parseErr != nil || u.Host == "" {
		return "", 0, false, fmt.Errorf("vector: invalid qdrant URL: %q", rawURL)
	}

	useTLS = u.Scheme == "https"
	host = u.Hostname()

	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return "", 0, false, fmt.Errorf("vector: invalid port in qdrant URL: %q", portStr)
		}
		// The REST port (6333) means the user pasted the HTTP URL; use gRPC.
		if p == 6333 {
			port = 6334
		} else {
			port = p
		}
	} else {
		port = 6334
	}

	return host, port, useTLS, nil
}

// New connects to Qdrant over gRPC.
func New(cfg Config, embedder embedding.Provider, logger *slog.Logger) (*Index, error) {
	host, port, useTLS, err := parseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("vector: connect to qdrant at %s:%d: %w", host, port, err)
	}

	return &Index{
		client:     client,
		embedder:   embedder,
		collection: cfg.Collection,
		dims:       cfg.Dims,
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it doesn't already exist and
// ensures all payload indexes are present. CreateFieldIndex is idempotent on
// Qdrant, so indexes added after the collection was first created are
// backfilled on restart.
func (ix *Index) EnsureCollection(ctx context.Context) error {
	exists, err := ix.client.CollectionExists(ctx, ix.collection)
	if err != nil {
		return fmt.Errorf("vector: check collection exists: %w", err)
	}

	if !exists {
		m := uint64(16)
		efConstruct := uint64(128)

		if err := ix.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: ix.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     ix.dims,
				Distance: qdrant.Distance_Cosine,
				HnswConfig: &qdrant.HnswConfigDiff{
					M:           &m,
					EfConstruct: &efConstruct,
				},
			}),
		}); err != nil {
			return fmt.Errorf("vector: create collection %q: %w", ix.collection, err)
		}
		ix.logger.Info("qdrant: created collection", "collection", ix.collection, "dims", ix.dims)
	} else {
		ix.logger.Info("qdrant: collection already exists", "collection", ix.collection)
	}

	keywordType := qdrant.FieldType_FieldTypeKeyword
	for _, field := range []string{"source", "domain", "tier", "provider"} {
		if _, err := ix.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: ix.collection,
			FieldName:      field,
			FieldType:      &keywordType,
		}); err != nil {
			return fmt.Errorf("vector: ensure index on %q: %w", field, err)
		}
	}

	floatType := qdrant.FieldType_FieldTypeFloat
	for _, field := range []string{"credibility", "final_score", "published_unix"} {
		if _, err := ix.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: ix.collection,
			FieldName:      field,
			FieldType:      &floatType,
		}); err != nil {
			return fmt.Errorf("vector: ensure index on %q: %w", field, err)
		}
	}

	ix.logger.Info("qdrant: payload indexes ensured", "collection", ix.collection)
	return nil
}

// UpsertEvidence embeds the kept snippets for one claim and upserts them,
// keyed by evidence ID so re-running a claim overwrites rather than
// duplicates.
func (ix *Index) UpsertEvidence(ctx context.Context, claim model.Claim, snippets []model.EvidenceSnippet) error {
	if len(snippets) == 0 {
		return nil
	}

	texts := make([]string, len(snippets))
	for i, s := range snippets {
		texts[i] = s.Text
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("vector: embed %d snippets: %w", len(snippets), err)
	}
	if len(vectors) != len(snippets) {
		return fmt.Errorf("vector: embedder returned %d vectors for %d snippets", len(vectors), len(snippets))
	}

	points := make([]*qdrant.PointStruct, len(snippets))
	for i, s := range snippets {
		payload := map[string]any{
			"claim_text":  truncateText(claim.Text, 300),
			"text":        truncateText(s.Text, 1200),
			"source":      s.Source,
			"url":         s.URL,
			"tier":        string(s.Tier),
			"provider":    s.Provider,
			"credibility": s.CredibilityScore,
			"final_score": s.FinalScore,
		}
		if host := hostOf(s.URL); host != "" {
			payload["domain"] = host
		}
		if s.PublishedDate != nil {
			if t, err := time.Parse("2006-01-02", *s.PublishedDate); err == nil {
				payload["published_unix"] = float64(t.Unix())
			}
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(s.ID.String()),
			Vectors: qdrant.NewVectorsDense(vectors[i]),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err = ix.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: ix.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vector: upsert %d points: %w", len(points), err)
	}
	return nil
}

// SimilarEvidence is one prior-evidence hit from the index.
type SimilarEvidence struct {
	EvidenceID uuid.UUID
	Score      float32
	URL        string
	Text       string
}

// FindSimilar returns prior evidence semantically close to the query text.
// minCredibility filters at the index so low-grade sources never surface.
func (ix *Index) FindSimilar(ctx context.Context, text string, minCredibility float64, limit int) ([]SimilarEvidence, error) {
	if limit <= 0 {
		limit = 10
	}

	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("vector: embed query: %w", err)
	}

	var filter *qdrant.Filter
	if minCredibility > 0 {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{
			qdrant.NewRange("credibility", &qdrant.Range{Gte: qdrant.PtrOf(minCredibility)}),
		}}
	}

	fetchLimit := uint64(limit) //nolint:gosec
	scored, err := ix.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: ix.collection,
		Query:          qdrant.NewQueryDense(vec),
		Filter:         filter,
		Limit:          &fetchLimit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vector: qdrant query: %w", err)
	}

	results := make([]SimilarEvidence, 0, len(scored))
	for _, sp := range scored {
		idStr := sp.Id.GetUuid()
		if idStr == "" {
			continue
		}
		evidenceID, err := uuid.Parse(idStr)
		if err != nil {
			ix.logger.Warn("qdrant: invalid UUID in point ID", "id", idStr)
			continue
		}
		hit := SimilarEvidence{EvidenceID: evidenceID, Score: sp.Score}
		if payload := sp.Payload; payload != nil {
			if v, ok := payload["url"]; ok {
				hit.URL = v.GetStringValue()
			}
			if v, ok := payload["text"]; ok {
				hit.Text = v.GetStringValue()
			}
		}
		results = append(results, hit)
	}
	return results, nil
}

// DeleteByIDs removes specific evidence points.
func (ix *Index) DeleteByIDs(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id.String())
	}

	_, err := ix.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: ix.collection,
		Wait:           qdrant.PtrOf(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: delete %d points: %w", len(ids), err)
	}
	return nil
}

// Healthy returns nil if Qdrant is reachable. Results are cached for 5
// seconds; concurrent checks after expiry are deduplicated via singleflight.
func (ix *Index) Healthy(ctx context.Context) error {
	if time.Since(time.Unix(0, ix.healthAt.Load())) < 5*time.Second {
		return ix.loadHealthErr()
	}

	// Use context.Background() instead of the caller's ctx because
	// singleflight reuses the first caller's context; if that caller cancels,
	// all waiters would get a stale error.
	result, _, _ := ix.healthGroup.Do("health", func() (any, error) {
		checkCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		_, err := ix.client.HealthCheck(checkCtx)
		if err != nil {
			ix.storeHealthErr(fmt.Errorf("vector: qdrant unhealthy: %w", err))
		} else {
			ix.storeHealthErr(nil)
		}
		ix.healthAt.Store(time.Now().UnixNano())
		return ix.loadHealthErr(), nil
	})
	if result == nil {
		return nil
	}
	return result.(error)
}

// storeHealthErr wraps the error in a pointer; atomic.Value cannot store a
// bare nil.
func (ix *Index) storeHealthErr(err error) {
	ix.healthErr.Store(&err)
}

func (ix *Index) loadHealthErr() error {
	v := ix.healthErr.Load()
	if v == nil {
		return nil
	}
	return *v.(*error)
}

// Close shuts down the Qdrant gRPC connection.
func (ix *Index) Close() error {
	return ix.client.Close()
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
