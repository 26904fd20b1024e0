package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

func TestClassifyRetriesUnknownErrors(t *testing.T) {
	d := Classify(errors.New("boom"), 0)
	if !d.Retry {
		t.Fatal("expected unknown error to default retryable")
	}
	if d.Delay != 60*time.Second {
		t.Fatalf("expected first delay 60s, got %v", d.Delay)
	}
	if d.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", d.RetryCount)
	}
}

func TestClassifyNonRetryableValidationError(t *testing.T) {
	err := domain.NewValidationError("tenant_id", "x", domain.ErrTenantMismatch)
	d := Classify(err, 0)
	if d.Retry {
		t.Fatal("expected validation error to be non-retryable")
	}
}

func TestClassifyExhaustsMaxRetries(t *testing.T) {
	d := Classify(errors.New("still failing"), MaxRetries)
	if d.Retry {
		t.Fatal("expected retries exhausted at MaxRetries")
	}
}

func TestClassifyDelaySequence(t *testing.T) {
	want := []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	for i, w := range want {
		d := Classify(errors.New("fail"), i)
		if !d.Retry {
			t.Fatalf("attempt %d: expected retry", i)
		}
		if d.Delay != w {
			t.Fatalf("attempt %d: expected delay %v, got %v", i, w, d.Delay)
		}
		if d.RetryCount != i+1 {
			t.Fatalf("attempt %d: expected retry count %d, got %d", i, i+1, d.RetryCount)
		}
	}
}

func TestClassifyRateLimitOverridesDelay(t *testing.T) {
	err := &domain.RateLimitError{Provider: "anthropic", RetryAfter: 42}
	d := Classify(err, 0)
	if !d.Retry {
		t.Fatal("expected rate limit error to be retryable")
	}
	if d.Delay != 42*time.Second {
		t.Fatalf("expected retry_after override of 42s, got %v", d.Delay)
	}
}
