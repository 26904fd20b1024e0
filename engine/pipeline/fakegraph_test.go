package pipeline

import (
	"context"
	"sync"

	"github.com/mentorfy/ingestpipe/engine/graph"
)

// fakeGraph records RemoveEpisode calls for the deletion coordinator
// tests; AddEpisode/Search are unused by this package's tests.
type fakeGraph struct {
	mu       sync.Mutex
	removed  []string
	failWith error
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{}
}

func (g *fakeGraph) AddEpisode(_ context.Context, ep graph.Episode) (string, error) {
	return ep.UUID, nil
}

func (g *fakeGraph) RemoveEpisode(_ context.Context, _ string, episodeUUID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWith != nil {
		return g.failWith
	}
	g.removed = append(g.removed, episodeUUID)
	return nil
}

func (g *fakeGraph) Search(_ context.Context, _, _ string, _ int) ([]graph.Episode, error) {
	return nil, nil
}

var _ graph.Engine = (*fakeGraph)(nil)
