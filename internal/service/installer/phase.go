package installer

import (
	"context"

	"github.com/thunderkeep/thunderkeep/internal/logger"
)

// Phase names where a pipeline run currently is. Failure handling is a
// first-class transition: a failing middle phase moves through RollingBack,
// and Failed is reached only when recovery itself cannot complete.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhaseDownloading
	PhaseExtracting
	PhaseSwapping
	PhaseCommitted
	PhaseRollingBack
	PhaseFailed
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseResolving:
		return "resolving"
	case PhaseDownloading:
		return "downloading"
	case PhaseExtracting:
		return "extracting"
	case PhaseSwapping:
		return "swapping"
	case PhaseCommitted:
		return "committed"
	case PhaseRollingBack:
		return "rolling back"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// transition records and logs the phase change for one pipeline run.
func (m *Manager) transition(ctx context.Context, next Phase) {
	logger.DebugKV(ctx, "Pipeline phase change", "from", m.phase.String(), "to", next.String())
	m.phase = next
}

// Phase returns the phase the last pipeline run reached.
func (m *Manager) Phase() Phase {
	return m.phase
}
