// Package pipeline wires the Queue Broker, Rate Governor, Storage
// Gateway, Extraction Service, Chunker, and Graph Ingest Adapter
// together into the Pipeline Coordinator, Worker Runtime, Orphan
// Reaper, and Deletion Coordinator (spec §4.1, §4.7-§4.10). Grounded on
// the teacher's cmd/ingest watch-loop-plus-workers shape, generalized
// from a single directory watcher into four independently scaled queue
// consumers.
package pipeline

import (
	"errors"
	"time"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// retryDelays is the fixed backoff schedule for attempts 1, 2, 3
// (spec §4.8). A job's 4th failure is terminal.
var retryDelays = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
}

// MaxRetries is the number of retries a phase gets before the job is
// marked failed permanently (spec §4.8).
const MaxRetries = 3

// Decision is what the worker runtime does after a phase handler
// returns an error.
type Decision struct {
	Retry      bool
	Delay      time.Duration
	RetryCount int
}

// Classify decides whether a failed phase attempt should be retried,
// and after how long, given the error it failed with and how many
// times this (job, phase label) chain has already retried.
//
// A RateLimitError's RetryAfter, when present, overrides the fixed
// delay sequence for that one retry (spec §4.8); the error-type
// taxonomy (domain.IsRetryableName) decides whether to retry at all.
func Classify(err error, priorRetryCount int) Decision {
	errorType := domain.ErrorTypeOf(err)
	if !domain.IsRetryableName(errorType) {
		return Decision{Retry: false}
	}
	if priorRetryCount >= MaxRetries {
		return Decision{Retry: false}
	}

	delay := retryDelays[priorRetryCount]
	var rle *domain.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		delay = time.Duration(rle.RetryAfter) * time.Second
	}

	return Decision{Retry: true, Delay: delay, RetryCount: priorRetryCount + 1}
}
