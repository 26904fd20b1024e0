package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mentorfy/ingestpipe/engine/domain"
	"github.com/mentorfy/ingestpipe/engine/graph"
	"github.com/mentorfy/ingestpipe/engine/store"
)

// Deletion is the Deletion Coordinator (spec §4.10, C10): cancels
// in-flight jobs, removes graph episodes, then cascades the document
// row away. Grounded on the teacher's cleanup helpers that fan work
// out with an errgroup and tolerate "already gone" downstream state.
type Deletion struct {
	store       store.Store
	coordinator *Coordinator
	graph       graph.Engine
	log         *slog.Logger
}

// NewDeletion builds a Deletion coordinator.
func NewDeletion(st store.Store, coord *Coordinator, g graph.Engine, log *slog.Logger) *Deletion {
	if log == nil {
		log = slog.Default()
	}
	return &Deletion{store: st, coordinator: coord, graph: g, log: log}
}

// Delete removes documentID end to end (spec §4.10): verifies tenant
// match, cancels in-flight jobs, removes every mapped graph episode
// (missing entities are non-fatal), then deletes the document row,
// which cascades to chunks and mappings.
func (d *Deletion) Delete(ctx context.Context, documentID, tenantID string) error {
	doc, err := d.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("pipeline: delete: load document %s: %w", documentID, err)
	}
	if doc.TenantID != tenantID {
		return fmt.Errorf("pipeline: delete: %w", domain.ErrTenantMismatch)
	}

	if err := d.coordinator.Cancel(ctx, documentID, tenantID); err != nil {
		return fmt.Errorf("pipeline: delete: cancel jobs: %w", err)
	}

	mappings, err := d.store.MappingsForDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("pipeline: delete: load mappings: %w", err)
	}
	for _, m := range mappings {
		if m.Provider != domain.GraphProvider {
			return fmt.Errorf("pipeline: delete: %w: %s", domain.ErrUnsupportedProvider, m.Provider)
		}
		if err := d.graph.RemoveEpisode(ctx, tenantID, m.ExternalID); err != nil {
			// Idempotent by contract; a real failure still blocks deletion
			// so mapping rows don't point at graph state we never removed.
			return fmt.Errorf("pipeline: delete: remove episode %s: %w", m.ExternalID, err)
		}
	}

	if err := d.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("pipeline: delete: remove document row: %w", err)
	}
	return nil
}

// DeleteBatch runs Delete for every document concurrently (spec
// §4.10): cancellation, graph removal, and row deletion happen in
// parallel per document. Every document's mappings are checked first:
// an unsupported provider label anywhere in the batch aborts the whole
// call before any document is touched.
func (d *Deletion) DeleteBatch(ctx context.Context, documentIDs []string, tenantID string) error {
	for _, id := range documentIDs {
		mappings, err := d.store.MappingsForDocument(ctx, id)
		if err != nil {
			return fmt.Errorf("pipeline: delete batch: load mappings for %s: %w", id, err)
		}
		for _, m := range mappings {
			if m.Provider != domain.GraphProvider {
				return fmt.Errorf("pipeline: delete batch: document %s: %w: %s", id, domain.ErrUnsupportedProvider, m.Provider)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range documentIDs {
		id := id
		g.Go(func() error {
			return d.Delete(gctx, id, tenantID)
		})
	}
	return g.Wait()
}
