package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/ratelimit"
	"github.com/mentorfy/ingestpipe/pkg/resilience"
)

// approxCharsPerToken is the same 4-chars-per-token packing heuristic
// spec §4.4 specifies for the Chunker, reused here to estimate episode
// body size for the Rate Governor's token reservation (spec §4.6: "the
// tokenizer's estimate for the episode body").
const approxCharsPerToken = 4

func estimateTokens(s string) int {
	n := len(s) / approxCharsPerToken
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}

// MappingStore is the subset of store.Store the Ingestor needs,
// narrowed to avoid a dependency cycle between engine/graph and
// engine/store.
type MappingStore interface {
	InsertMapping(ctx context.Context, m domain.KGEntityMapping) error
	DeleteMappingsForDocument(ctx context.Context, documentID string) error
}

// Chunk is the minimal shape the Ingestor needs from a DocumentChunk.
// ReferenceTime carries the owning document's creation time through to
// the episode (spec §4.6: "reference_time = document.created_at").
type Chunk struct {
	ID            string
	Content       string
	Name          string
	ReferenceTime time.Time
}

// Ingestor is the Graph Ingest Adapter (spec §4.6, C5): it fans out one
// AddEpisode call per chunk, bounded by MaxConcurrent and gated by the
// shared Rate Governor, records provenance in MappingStore, and rolls
// back everything it already wrote if any chunk fails (spec §4.6:
// "all-or-nothing per document").
type Ingestor struct {
	engine        Engine
	mappings      MappingStore
	governor      *ratelimit.Governor
	breaker       *resilience.Breaker
	rateProvider  string
	rpmCap        int
	tpmCap        int
	maxConcurrent int
}

// NewIngestor builds an Ingestor. maxConcurrent bounds in-flight
// AddEpisode calls for a single document. tpmCap bounds the episode
// body token budget per minute (spec §4.6); 0 disables token
// reservation (request-rate gating still applies).
func NewIngestor(engine Engine, mappings MappingStore, governor *ratelimit.Governor, breaker *resilience.Breaker, rateProvider string, rpmCap, tpmCap, maxConcurrent int) *Ingestor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Ingestor{
		engine:        engine,
		mappings:      mappings,
		governor:      governor,
		breaker:       breaker,
		rateProvider:  rateProvider,
		rpmCap:        rpmCap,
		tpmCap:        tpmCap,
		maxConcurrent: maxConcurrent,
	}
}

// IngestDocument adds one episode per chunk under groupID (tenant),
// recording a KGEntityMapping for each success. If any chunk fails
// after others succeeded, it compensates: deletes the mapping rows it
// already wrote and best-effort removes the episodes they point at,
// then returns a retryable PartialIngestError (spec §4.6, §4.8).
func (ing *Ingestor) IngestDocument(ctx context.Context, tenantID, documentID string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	type result struct {
		episodeUUID string
		chunkID     string
		err         error
	}
	results := make([]result, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.maxConcurrent)

	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			episodeUUID, err := ing.addOne(gctx, tenantID, documentID, c)
			results[i] = result{episodeUUID: episodeUUID, chunkID: c.ID, err: err}
			return nil // collect all results rather than short-circuiting
		})
	}
	_ = g.Wait() // inner goroutines never return an error; failures live in results

	var succeeded []result
	var firstErr error
	failedCount := 0
	for _, r := range results {
		if r.err != nil {
			failedCount++
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		succeeded = append(succeeded, r)
	}

	if failedCount == 0 {
		for _, r := range succeeded {
			m := domain.KGEntityMapping{
				ID:         uuid.NewString(),
				TenantID:   tenantID,
				DocumentID: documentID,
				ExternalID: r.episodeUUID,
				Provider:   domain.GraphProvider,
				ChunkIDs:   []string{r.chunkID},
			}
			if err := ing.mappings.InsertMapping(ctx, m); err != nil {
				return fmt.Errorf("graph: record mapping for chunk %s: %w", r.chunkID, err)
			}
		}
		return nil
	}

	// Partial failure: compensate by removing every episode this call
	// created, and any provenance rows written before we noticed the
	// failure, then surface a retryable error (spec §4.6, §4.8).
	for _, r := range succeeded {
		if rmErr := ing.engine.RemoveEpisode(ctx, tenantID, r.episodeUUID); rmErr != nil {
			// best-effort: a failed removal is not retried, and the episode
			// stays in the graph with no mapping row pointing at it.
			_ = rmErr
		}
	}
	if err := ing.mappings.DeleteMappingsForDocument(ctx, documentID); err != nil {
		return fmt.Errorf("graph: compensating mapping cleanup for %s: %w", documentID, err)
	}

	return &domain.PartialIngestError{
		DocumentID: documentID,
		Succeeded:  len(succeeded),
		Failed:     failedCount,
		Cause:      firstErr,
	}
}

func (ing *Ingestor) addOne(ctx context.Context, tenantID, documentID string, c Chunk) (string, error) {
	if ing.governor != nil {
		if err := ing.governor.WaitForRequest(ctx, ing.rateProvider, ing.rpmCap); err != nil {
			return "", fmt.Errorf("graph: rate governor: %w", err)
		}
		if ing.tpmCap > 0 {
			estTokens := estimateTokens(c.Name) + estimateTokens(c.Content)
			if err := ing.governor.WaitForTokens(ctx, ing.rateProvider, estTokens, ing.tpmCap); err != nil {
				return "", fmt.Errorf("graph: rate governor tokens: %w", err)
			}
		}
	}

	var episodeUUID string
	run := func(ctx context.Context) error {
		uuid, err := ing.engine.AddEpisode(ctx, Episode{
			GroupID:   tenantID,
			Name:      c.Name,
			Content:   c.Content,
			Source:    documentID,
			CreatedAt: c.ReferenceTime,
		})
		if err != nil {
			return err
		}
		episodeUUID = uuid
		return nil
	}

	var err error
	if ing.breaker != nil {
		err = ing.breaker.Call(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("graph: add episode for chunk %s: %w", c.ID, err)
	}
	return episodeUUID, nil
}
