package pipeline

import (
	"time"

	"github.com/mentorfy/ingestpipe/engine/domain"
)

// baseExecutionTime is the expected wall-clock budget for one attempt
// at a phase, before retries and the safety buffer (spec §4.3).
var baseExecutionTime = map[domain.PhaseLabel]time.Duration{
	domain.PhaseIngestion:  10 * time.Minute,
	domain.PhaseExtraction: 10 * time.Minute,
	domain.PhaseChunking:   5 * time.Minute,
	domain.PhaseKGIngest:   20 * time.Minute,
}

const safetyBuffer = 5 * time.Minute

func retryDelaysTotal() time.Duration {
	var total time.Duration
	for _, d := range retryDelays {
		total += d
	}
	return total
}

// ExpectedCompletion computes a phase row's expected_completion_at:
// base_execution_time(phase) + sum(retry_delays) + safety_buffer
// (spec §4.3).
func ExpectedCompletion(phase domain.PhaseLabel, now time.Time) time.Time {
	base, ok := baseExecutionTime[phase]
	if !ok {
		base = 10 * time.Minute
	}
	return now.Add(base + retryDelaysTotal() + safetyBuffer)
}
