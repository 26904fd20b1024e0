package worker

import "github.com/mentorfy/ingestpipe/pkg/metrics"

// phaseMetrics names the completed/failed/retried counters for phase
// outcomes (no histogram is recorded), grounded on the teacher's cmd/ingest metrics block
// (mDocsTotal/mErrorsTotal/mStageDur, one metric per concern, labeled
// rather than duplicated per phase).
type phaseMetrics struct {
	reg *metrics.Registry
}

func newPhaseMetrics(reg *metrics.Registry) *phaseMetrics {
	return &phaseMetrics{reg: reg}
}

func (m *phaseMetrics) completed(phase string) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("ingestpipe_phase_completed_total", "phase", phase), "Phases completed").Inc()
}

func (m *phaseMetrics) failed(phase, errorType string) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("ingestpipe_phase_failed_total", "phase", phase, "error_type", errorType), "Phases failed").Inc()
}

func (m *phaseMetrics) retried(phase string) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("ingestpipe_phase_retried_total", "phase", phase), "Phases retried").Inc()
}
