package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// Transcript is the text and provider metadata recovered from an
// audio source.
type Transcript struct {
	Text            string
	Confidence      float64
	DurationSeconds float64
}

// TranscriptionClient is a thin wrapper around an external hosted
// transcription API (Deepgram in original_source's
// transcription_service.py _transcribe_with_deepgram), posting raw
// audio bytes and parsing back the best transcript alternative.
type TranscriptionClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewTranscriptionClient builds a client against baseURL (e.g.
// "https://api.deepgram.com/v1/listen") using apiKey as a Token bearer
// credential.
func NewTranscriptionClient(baseURL, apiKey string) *TranscriptionClient {
	return &TranscriptionClient{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

type deepgramResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe uploads audio bytes for transcription and returns the
// top-confidence alternative from the first channel. A request that
// fails at the transport level is retried up to twice; HTTP error
// responses are returned without a retry.
func (c *TranscriptionClient) Transcribe(ctx context.Context, audio io.Reader, mimeType string) (Transcript, error) {
	const networkRetries = 2
	data, err := io.ReadAll(audio)
	if err != nil {
		return Transcript{}, fmt.Errorf("extract: read audio: %w", err)
	}

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(data))
		if err != nil {
			return Transcript{}, fmt.Errorf("extract: build transcription request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+c.apiKey)
		req.Header.Set("Content-Type", contentTypeFor(mimeType))

		resp, err = c.httpClient.Do(req)
		if err == nil {
			break
		}
		if attempt >= networkRetries || ctx.Err() != nil {
			return Transcript{}, fmt.Errorf("extract: transcription request: %w", err)
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, fmt.Errorf("extract: read transcription response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Transcript{}, &domain.RateLimitError{Provider: "transcription", RetryAfter: retryAfterSeconds(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode >= 400 {
		return Transcript{}, &domain.TransportHTTPError{Provider: "transcription", Status: resp.StatusCode, Body: string(body)}
	}

	var parsed deepgramResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Transcript{}, fmt.Errorf("extract: decode transcription response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return Transcript{}, fmt.Errorf("extract: transcription returned no alternatives")
	}
	best := parsed.Results.Channels[0].Alternatives[0]
	return Transcript{
		Text:            best.Transcript,
		Confidence:      best.Confidence,
		DurationSeconds: parsed.Metadata.Duration,
	}, nil
}

func contentTypeFor(mimeType string) string {
	if mimeType == "" {
		return "audio/mpeg"
	}
	return mimeType
}

func retryAfterSeconds(header string) int {
	if header == "" {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(header, "%d", &n); err != nil {
		return 0
	}
	return n
}
