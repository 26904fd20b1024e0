// Package extract implements the Extraction Service (spec §4.4, C3):
// pure functions that turn file bytes plus a MIME type into text,
// dispatching to a document parser, a subtitle stripper, or the
// transcription provider for audio/video. Grounded on
// original_source's utils/file_utils.py (MIME tables, size limits) and
// utils/text_extraction.py (parsing heuristics).
package extract

import (
	"fmt"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// Category buckets a MIME type into the extraction path that handles it.
type Category string

const (
	CategoryAudio    Category = "audio"
	CategoryVideo    Category = "video"
	CategoryDocument Category = "document"
	CategorySubtitle Category = "subtitle"
)

// Size limits enforced before download (spec §4.4).
const (
	MaxAudioVideoBytes int64 = 1200 * 1024 * 1024
	MaxDocumentBytes   int64 = 50 * 1024 * 1024
)

var audioMIMEs = map[string]bool{
	"audio/mpeg": true, // MP3
	"audio/mp4":  true, // M4A
	"audio/wav":  true,
	"audio/flac": true,
	"audio/ogg":  true,
	"audio/opus": true,
}

var videoMIMEs = map[string]bool{
	"video/mp4":       true,
	"video/quicktime": true, // MOV
	"video/x-msvideo": true, // AVI
	"video/x-matroska": true, // MKV
	"video/webm":      true,
	"video/mpeg":      true,
}

// MIME constants for the document family (spec §4.4).
const (
	MimePDF       = "application/pdf"
	MimeDOCX      = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimeDOC       = "application/msword"
	MimeTXT       = "text/plain"
	MimeGoogleDoc = "application/vnd.google-apps.document"
	MimeVTT       = "text/vtt"
	MimeSRT       = "application/x-subrip"
	MimeSRTAlt    = "text/srt"
)

var documentExt = map[string]string{
	MimePDF:       ".pdf",
	MimeDOCX:      ".docx",
	MimeDOC:       ".doc",
	MimeTXT:       ".txt",
	MimeGoogleDoc: ".docx", // Google Docs exports as DOCX (spec §6)
}

var subtitleExt = map[string]string{
	MimeVTT:    ".vtt",
	MimeSRT:    ".srt",
	MimeSRTAlt: ".srt",
}

// Categorize classifies a MIME type into the bucket that determines
// which extraction path handles it, or domain.ErrUnsupportedMIME.
func Categorize(mimeType string) (Category, error) {
	switch {
	case audioMIMEs[mimeType]:
		return CategoryAudio, nil
	case videoMIMEs[mimeType]:
		return CategoryVideo, nil
	case documentExt[mimeType] != "":
		return CategoryDocument, nil
	case subtitleExt[mimeType] != "":
		return CategorySubtitle, nil
	default:
		return "", fmt.Errorf("extract: mime %q: %w", mimeType, domain.ErrUnsupportedMIME)
	}
}

// ExtensionFor returns the storage-key extension for mimeType, the
// empty string for audio/video (never written to the object store
// under their own extension; see engine/extract/media.go).
func ExtensionFor(mimeType string) string {
	if ext, ok := documentExt[mimeType]; ok {
		return ext
	}
	if ext, ok := subtitleExt[mimeType]; ok {
		return ext
	}
	return ""
}

// CheckSize enforces the category's size limit before download (spec
// §4.4: "reject files > 1200MB"/"reject > 50MB").
func CheckSize(cat Category, sizeBytes int64) error {
	switch cat {
	case CategoryAudio, CategoryVideo:
		if sizeBytes > MaxAudioVideoBytes {
			return fmt.Errorf("extract: %d bytes exceeds audio/video limit: %w", sizeBytes, domain.ErrFileTooLarge)
		}
	case CategoryDocument, CategorySubtitle:
		if sizeBytes > MaxDocumentBytes {
			return fmt.Errorf("extract: %d bytes exceeds document limit: %w", sizeBytes, domain.ErrFileTooLarge)
		}
	}
	return nil
}
