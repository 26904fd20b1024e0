package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

func TestExtractSubtitleVTT(t *testing.T) {
	vtt := "WEBVTT\n\n1\n00:00:01.000 --> 00:00:02.000\nHello <b>world</b>\n\n2\n00:00:02.500 --> 00:00:04.000\nSecond line\n\nNOTE this is a comment\nskipped entirely\n"
	got, err := ExtractSubtitle(MimeVTT, []byte(vtt))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(got, "-->") {
		t.Fatalf("expected timestamps stripped, got %q", got)
	}
	if strings.Contains(got, "<b>") {
		t.Fatalf("expected tags stripped, got %q", got)
	}
	if strings.Contains(got, "skipped entirely") {
		t.Fatalf("expected NOTE block content skipped, got %q", got)
	}
	if !strings.Contains(got, "Hello world") {
		t.Fatalf("expected spoken text preserved, got %q", got)
	}
	if !strings.Contains(got, "Second line") {
		t.Fatalf("expected second cue preserved, got %q", got)
	}
}

func TestExtractSubtitleSRT(t *testing.T) {
	srt := "1\n00:00:01,000 --> 00:00:02,000\nHello world\n\n2\n00:00:02,500 --> 00:00:04,000\nSecond line\n"
	got, err := ExtractSubtitle(MimeSRT, []byte(srt))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(got, "-->") {
		t.Fatalf("expected timestamps stripped, got %q", got)
	}
	if strings.Contains(got, "1") || strings.Contains(got, "2") {
		t.Fatalf("expected sequence numbers stripped, got %q", got)
	}
	if !strings.Contains(got, "Hello world") || !strings.Contains(got, "Second line") {
		t.Fatalf("expected both cues preserved, got %q", got)
	}
}

func TestExtractSubtitleRejectsUnknownMIME(t *testing.T) {
	_, err := ExtractSubtitle("text/plain", []byte("x"))
	if !errors.Is(err, domain.ErrUnsupportedMIME) {
		t.Fatalf("expected ErrUnsupportedMIME, got %v", err)
	}
}
