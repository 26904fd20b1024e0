package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

func seedDocument(t *testing.T, st *fakeStore, tenantID string) domain.Document {
	t.Helper()
	doc := domain.Document{ID: uuid.NewString(), TenantID: tenantID, FileType: "application/pdf", SourceName: "x.pdf"}
	doc, err := st.CreateDocument(context.Background(), doc)
	if err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return doc
}

func TestDeleteCascadesMappingsAndDocument(t *testing.T) {
	st := newFakeStore()
	broker := newFakeBroker()
	coord := NewCoordinator(st, broker, nil)
	fg := newFakeGraph()
	d := NewDeletion(st, coord, fg, nil)

	doc := seedDocument(t, st, "tenant-a")
	if err := st.InsertMapping(context.Background(), domain.KGEntityMapping{ID: uuid.NewString(), TenantID: "tenant-a", DocumentID: doc.ID, ExternalID: "episode-1", Provider: domain.GraphProvider}); err != nil {
		t.Fatalf("insert mapping: %v", err)
	}
	if err := st.InsertMapping(context.Background(), domain.KGEntityMapping{ID: uuid.NewString(), TenantID: "tenant-a", DocumentID: doc.ID, ExternalID: "episode-2", Provider: domain.GraphProvider}); err != nil {
		t.Fatalf("insert mapping: %v", err)
	}

	if err := d.Delete(context.Background(), doc.ID, "tenant-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if len(fg.removed) != 2 {
		t.Fatalf("expected 2 episodes removed, got %d", len(fg.removed))
	}
	if !st.deleted[doc.ID] {
		t.Fatal("expected document row deleted")
	}
	if _, err := st.GetDocument(context.Background(), doc.ID); err == nil {
		t.Fatal("expected document to be gone")
	}
}

func TestDeleteRejectsTenantMismatch(t *testing.T) {
	st := newFakeStore()
	broker := newFakeBroker()
	coord := NewCoordinator(st, broker, nil)
	fg := newFakeGraph()
	d := NewDeletion(st, coord, fg, nil)

	doc := seedDocument(t, st, "tenant-a")

	err := d.Delete(context.Background(), doc.ID, "tenant-b")
	if err == nil {
		t.Fatal("expected tenant mismatch error")
	}
	if st.deleted[doc.ID] {
		t.Fatal("document should not have been deleted")
	}
}

func TestDeleteAbortsOnUnsupportedProvider(t *testing.T) {
	st := newFakeStore()
	broker := newFakeBroker()
	coord := NewCoordinator(st, broker, nil)
	fg := newFakeGraph()
	d := NewDeletion(st, coord, fg, nil)

	doc := seedDocument(t, st, "tenant-a")
	if err := st.InsertMapping(context.Background(), domain.KGEntityMapping{ID: uuid.NewString(), TenantID: "tenant-a", DocumentID: doc.ID, ExternalID: "episode-1", Provider: "weaviate"}); err != nil {
		t.Fatalf("insert mapping: %v", err)
	}

	err := d.Delete(context.Background(), doc.ID, "tenant-a")
	if !errors.Is(err, domain.ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if st.deleted[doc.ID] {
		t.Fatal("document should not have been deleted when a mapping has an unsupported provider")
	}
	if len(fg.removed) != 0 {
		t.Fatal("expected no episode removal when the batch aborts")
	}
}

func TestDeleteBatchAbortsWholeBatchOnUnsupportedProvider(t *testing.T) {
	st := newFakeStore()
	broker := newFakeBroker()
	coord := NewCoordinator(st, broker, nil)
	fg := newFakeGraph()
	d := NewDeletion(st, coord, fg, nil)

	good := seedDocument(t, st, "tenant-a")
	bad := seedDocument(t, st, "tenant-a")
	if err := st.InsertMapping(context.Background(), domain.KGEntityMapping{ID: uuid.NewString(), TenantID: "tenant-a", DocumentID: bad.ID, ExternalID: "episode-1", Provider: "weaviate"}); err != nil {
		t.Fatalf("insert mapping: %v", err)
	}

	err := d.DeleteBatch(context.Background(), []string{good.ID, bad.ID}, "tenant-a")
	if !errors.Is(err, domain.ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
	if st.deleted[good.ID] {
		t.Fatal("expected the whole batch to abort, but the unaffected document was deleted")
	}
	if st.deleted[bad.ID] {
		t.Fatal("expected the unsupported-provider document to remain")
	}
}
