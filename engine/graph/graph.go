// Package graph implements the Graph Ingest Adapter's engine boundary
// (spec §4.6, C5): per-chunk episode ingestion into a tenant-isolated
// knowledge graph. Grounded on the teacher's engine/graph/graph.go
// session/cypher idiom, generalized from component/edge nodes to
// episode nodes keyed by group_id (tenant).
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Episode is one chunk's knowledge-graph representation: the graph
// engine's unit of ingestion and the unit the deletion coordinator
// removes (spec §4.6, §4.10).
type Episode struct {
	UUID      string
	GroupID   string // tenant isolation boundary
	Name      string
	Content   string
	Source    string
	CreatedAt time.Time
}

// Engine is the Graph Ingest Adapter's dependency on an external graph
// store: add one episode, remove one episode, and search within a
// tenant's subgraph (spec §4.6, §6).
type Engine interface {
	AddEpisode(ctx context.Context, ep Episode) (string, error)
	RemoveEpisode(ctx context.Context, groupID, episodeUUID string) error
	Search(ctx context.Context, groupID, query string, limit int) ([]Episode, error)
}

// Neo4jEngine is the Engine backed by a real Neo4j graph, isolating
// tenants by tagging every Episode node with group_id and scoping
// every query to it.
type Neo4jEngine struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jEngine wraps an existing driver.
func NewNeo4jEngine(driver neo4j.DriverWithContext) *Neo4jEngine {
	return &Neo4jEngine{driver: driver}
}

// AddEpisode creates (or, if ep.UUID is already set, upserts) an
// Episode node scoped to ep.GroupID, returning the episode's uuid.
func (g *Neo4jEngine) AddEpisode(ctx context.Context, ep Episode) (string, error) {
	if ep.UUID == "" {
		ep.UUID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}

	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MERGE (e:Episode {uuid: $uuid})
	           SET e.group_id = $group_id, e.name = $name, e.content = $content,
	               e.source = $source, e.created_at = $created_at`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"uuid":       ep.UUID,
		"group_id":   ep.GroupID,
		"name":       ep.Name,
		"content":    ep.Content,
		"source":     ep.Source,
		"created_at": ep.CreatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("graph: add episode: %w", err)
	}
	return ep.UUID, nil
}

// RemoveEpisode deletes an Episode node, scoped by groupID so one
// tenant's deletion coordinator can never touch another tenant's node.
// A missing node is not an error (idempotent, spec §4.10).
func (g *Neo4jEngine) RemoveEpisode(ctx context.Context, groupID, episodeUUID string) error {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (e:Episode {uuid: $uuid, group_id: $group_id}) DETACH DELETE e`
	_, err := sess.Run(ctx, cypher, map[string]any{"uuid": episodeUUID, "group_id": groupID})
	if err != nil {
		return fmt.Errorf("graph: remove episode %s: %w", episodeUUID, err)
	}
	return nil
}

// Search returns up to limit episodes within groupID whose content
// contains query, newest first. A thin substring search stands in for
// the graph engine's real retrieval ranking, which is out of scope
// (spec §1 Non-goals: "retrieval/query-time ranking").
func (g *Neo4jEngine) Search(ctx context.Context, groupID, query string, limit int) ([]Episode, error) {
	sess := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	cypher := `MATCH (e:Episode {group_id: $group_id})
	           WHERE toLower(e.content) CONTAINS toLower($query)
	           RETURN e.uuid AS uuid, e.group_id AS group_id, e.name AS name,
	                  e.content AS content, e.source AS source, e.created_at AS created_at
	           ORDER BY e.created_at DESC
	           LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{"group_id": groupID, "query": query, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("graph: search: %w", err)
	}

	var out []Episode
	for result.Next(ctx) {
		rec := result.Record()
		ep := Episode{}
		if v, ok := rec.Get("uuid"); ok {
			ep.UUID, _ = v.(string)
		}
		if v, ok := rec.Get("group_id"); ok {
			ep.GroupID, _ = v.(string)
		}
		if v, ok := rec.Get("name"); ok {
			ep.Name, _ = v.(string)
		}
		if v, ok := rec.Get("content"); ok {
			ep.Content, _ = v.(string)
		}
		if v, ok := rec.Get("source"); ok {
			ep.Source, _ = v.(string)
		}
		if v, ok := rec.Get("created_at"); ok {
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					ep.CreatedAt = t
				}
			}
		}
		out = append(out, ep)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graph: search iterate: %w", err)
	}
	return out, nil
}
