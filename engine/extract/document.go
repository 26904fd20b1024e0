package extract

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// ExtractDocument turns raw bytes of a pdf/docx/txt/Google-Docs file
// into plain text, preserving paragraph structure (spec §4.4). Legacy
// binary .doc input is not extracted: it fails with
// domain.ErrUnsupportedMIME.
func ExtractDocument(mimeType string, data []byte) (string, error) {
	switch mimeType {
	case MimePDF:
		return extractPDF(data)
	case MimeDOCX, MimeGoogleDoc:
		return extractDOCX(data)
	case MimeDOC:
		// No ecosystem library in the retrieved pack parses the legacy
		// binary Word format (original_source's own doc handler falls
		// back to best-effort byte decoding, which this rewrite does
		// not reproduce); surfaced as a non-retryable unsupported-MIME
		// failure instead of guessing at binary heuristics.
		return "", fmt.Errorf("extract: legacy .doc format not supported: %w", domain.ErrUnsupportedMIME)
	case MimeTXT:
		return normalizeTXT(data), nil
	default:
		return "", fmt.Errorf("extract: document mime %q: %w", mimeType, domain.ErrUnsupportedMIME)
	}
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("extract: open pdf: %w", err)
	}

	var pages []string
	totalPage := r.NumPage()
	for i := 1; i <= totalPage; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue // a single bad page should not fail the whole document
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, fixPDFSpacing(text))
		}
	}
	return strings.Join(pages, "\n\n=== PAGE BREAK ===\n\n"), nil
}

// fixPDFSpacing repairs the common artifacts of naive PDF text
// extraction, in the same order original_source's _fix_pdf_spacing
// applies them: lowercase/uppercase boundaries, punctuation, and
// digit/letter boundaries, then paragraph reconstruction.
var (
	lowerUpperBoundary = regexp.MustCompile(`([a-z])([A-Z])`)
	punctLetterBoundary = regexp.MustCompile(`([.!?;:])([A-Za-z])`)
	digitLetterBoundary = regexp.MustCompile(`(\d)([A-Za-z])`)
	letterDigitBoundary = regexp.MustCompile(`([A-Za-z])(\d)`)
	multiSpace          = regexp.MustCompile(` +`)
)

func fixPDFSpacing(text string) string {
	if text == "" {
		return ""
	}
	text = lowerUpperBoundary.ReplaceAllString(text, "$1 $2")
	text = punctLetterBoundary.ReplaceAllString(text, "$1 $2")
	text = digitLetterBoundary.ReplaceAllString(text, "$1 $2")
	text = letterDigitBoundary.ReplaceAllString(text, "$1 $2")

	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		line = multiSpace.ReplaceAllString(strings.TrimSpace(line), " ")
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}

	// Reconstruct paragraphs: a short all-caps line is a header, a line
	// ending in sentence punctuation closes the current paragraph.
	var paragraphs []string
	var current []string
	for _, line := range cleaned {
		switch {
		case len(line) < 10 && line == strings.ToUpper(line):
			if len(current) > 0 {
				paragraphs = append(paragraphs, strings.Join(current, " "))
				current = nil
			}
			paragraphs = append(paragraphs, line)
		case strings.HasSuffix(line, ".") || strings.HasSuffix(line, "!") || strings.HasSuffix(line, "?"):
			current = append(current, line)
			paragraphs = append(paragraphs, strings.Join(current, " "))
			current = nil
		default:
			current = append(current, line)
		}
	}
	if len(current) > 0 {
		paragraphs = append(paragraphs, strings.Join(current, " "))
	}
	return strings.Join(paragraphs, "\n\n")
}

// extractDOCX writes the bytes to a temp file because nguyenthenguyen/docx's
// reader is file-path based; document.xml's raw markup is then reduced
// to plain text, paragraph breaks preserved as blank lines.
func extractDOCX(data []byte) (string, error) {
	tmp, err := os.CreateTemp("", "ingestpipe-docx-*.docx")
	if err != nil {
		return "", fmt.Errorf("extract: docx temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("extract: docx write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("extract: docx close temp: %w", err)
	}

	r, err := docx.ReadDocxFile(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("extract: open docx: %w", err)
	}
	defer r.Close()

	raw := r.Editable().GetContent()
	return plainTextFromDocxXML(raw), nil
}

var (
	docxParaEnd  = regexp.MustCompile(`</w:p>`)
	docxTagStrip = regexp.MustCompile(`<[^>]+>`)
	docxEntities = strings.NewReplacer(
		"&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'",
	)
)

// plainTextFromDocxXML converts document.xml markup to plain text:
// every paragraph end becomes a blank line, all other tags are
// stripped, and the common XML entities are unescaped.
func plainTextFromDocxXML(xmlContent string) string {
	withBreaks := docxParaEnd.ReplaceAllString(xmlContent, "</w:p>\n\n")
	stripped := docxTagStrip.ReplaceAllString(withBreaks, "")
	unescaped := docxEntities.Replace(stripped)

	var paragraphs []string
	for _, p := range strings.Split(unescaped, "\n\n") {
		p = multiSpace.ReplaceAllString(strings.TrimSpace(p), " ")
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

func normalizeTXT(data []byte) string {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}
