package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// ExtractSubtitle strips cue numbers and timestamps from VTT/SRT text,
// returning the spoken-word content as one space-joined string; cue
// boundaries do not become paragraph breaks (spec §4.4).
// Grounded on original_source's extract_text_from_vtt/_srt.
func ExtractSubtitle(mimeType string, data []byte) (string, error) {
	switch mimeType {
	case MimeVTT:
		return extractVTT(string(data)), nil
	case MimeSRT, MimeSRTAlt:
		return extractSRT(string(data)), nil
	default:
		return "", fmt.Errorf("extract: subtitle mime %q: %w", mimeType, domain.ErrUnsupportedMIME)
	}
}

var vttTimestampLine = regexp.MustCompile(`-->`)

// extractVTT walks the cue file line by line: the WEBVTT header, blank
// lines, NOTE/STYLE/REGION blocks, and timestamp lines are skipped;
// everything else inside a cue is spoken text.
func extractVTT(content string) string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var out []string
	skipBlock := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if i == 0 && strings.HasPrefix(trimmed, "WEBVTT") {
			continue
		}
		if trimmed == "" {
			skipBlock = false
			continue
		}
		if strings.HasPrefix(trimmed, "NOTE") || strings.HasPrefix(trimmed, "STYLE") || strings.HasPrefix(trimmed, "REGION") {
			skipBlock = true
			continue
		}
		if skipBlock {
			continue
		}
		if vttTimestampLine.MatchString(trimmed) {
			continue
		}
		// a bare cue identifier line (no text) precedes its timestamp line
		if isCueIdentifier(trimmed, lines, i) {
			continue
		}
		out = append(out, stripVTTTags(trimmed))
	}
	return joinSpoken(out)
}

var vttTagStrip = regexp.MustCompile(`<[^>]+>`)

func stripVTTTags(line string) string {
	return vttTagStrip.ReplaceAllString(line, "")
}

func isCueIdentifier(line string, lines []string, idx int) bool {
	if idx+1 >= len(lines) {
		return false
	}
	next := strings.TrimSpace(lines[idx+1])
	return vttTimestampLine.MatchString(next)
}

var srtSequenceNumber = regexp.MustCompile(`^\d+$`)

// extractSRT skips sequence-number lines and timestamp lines, keeping
// everything else as spoken text.
func extractSRT(content string) string {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if srtSequenceNumber.MatchString(trimmed) {
			continue
		}
		if vttTimestampLine.MatchString(trimmed) {
			continue
		}
		out = append(out, trimmed)
	}
	return joinSpoken(out)
}

func joinSpoken(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, " "))
}
