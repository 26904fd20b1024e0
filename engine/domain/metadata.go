package domain

import "time"

// Metadata is a document's free-form metadata, namespaced into what
// came from the source (upload/import) and what processing has added.
// Only this namespaced shape is ever persisted; legacy flat rows are
// migrated on read by MigrateFlatMetadata (spec §9 "Metadata merge hazards").
type Metadata struct {
	Source     map[string]any
	Processing map[string]any
}

// sourceFields identifies which flat-metadata keys belong in the
// Source namespace when migrating a legacy row.
var sourceFields = map[string]bool{
	"google_drive_file_id": true,
	"original_name":        true,
	"parents":              true,
	"mime_type":            true,
	"uploaded_by":          true,
	"uploaded_at":          true,
	"imported_by":          true,
	"imported_at":          true,
	"folder_context":       true,
}

// MergeMetadata combines new processing results into existing
// metadata, preserving the source namespace no matter its prior shape.
// This is the function spec §9 calls out by name: a reimplementation
// must preserve `source` across every processing write, because the
// gdrive origin adapter compares `source.ingested_at` against the
// origin's `modifiedTime` to decide whether to re-process a file.
func MergeMetadata(existing Metadata, processingResults map[string]any) Metadata {
	result := Metadata{
		Source:     copyMap(existing.Source),
		Processing: copyMap(existing.Processing),
	}
	for k, v := range processingResults {
		result.Processing[k] = v
	}
	result.Processing["last_updated"] = time.Now().UTC().Format(time.RFC3339)
	return result
}

// MigrateFlatMetadata converts a legacy flat metadata map (no
// source/processing namespaces) into the namespaced shape, classifying
// each key by sourceFields membership.
func MigrateFlatMetadata(flat map[string]any) Metadata {
	m := Metadata{Source: map[string]any{}, Processing: map[string]any{}}
	for k, v := range flat {
		if sourceFields[k] {
			m.Source[k] = v
		} else {
			m.Processing[k] = v
		}
	}
	return m
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MergeJobMetadata merges retry bookkeeping into a pipeline_job's
// metadata map without clobbering unrelated keys (spec §4.8 step 2:
// "merged, not overwritten").
func MergeJobMetadata(existing map[string]any, updates map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(updates))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}
