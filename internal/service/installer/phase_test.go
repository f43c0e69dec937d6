package installer

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/thunderkeep/thunderkeep/internal/logger"
)

// observedContext returns a context whose logger records every entry, so
// tests can assert on the phase transitions a run logged.
func observedContext() (context.Context, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return logger.ToContext(context.Background(), zap.New(core).Sugar()), logs
}

func loggedTransitionsTo(logs *observer.ObservedLogs, phase string) int {
	count := 0

	for _, entry := range logs.All() {
		if entry.Message != "Pipeline phase change" {
			continue
		}

		if to, ok := entry.ContextMap()["to"].(string); ok && to == phase {
			count++
		}
	}

	return count
}

// TestPhases_ResolveFailureSkipsRollingBack ensures a failure with nothing
// staged or downloaded goes straight back to idle.
func TestPhases_ResolveFailureSkipsRollingBack(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "1.2.0")
	p.resolver.err = os.ErrInvalid

	ctx, logs := observedContext()

	_, err := p.manager.Update(ctx)
	require.ErrorIs(t, err, os.ErrInvalid)
	require.Equal(t, PhaseIdle, p.manager.Phase())
	require.Zero(t, loggedTransitionsTo(logs, PhaseRollingBack.String()),
		"a resolve failure has nothing to unwind")
}

// TestPhases_DownloadFailurePassesThroughRollingBack ensures middle-phase
// failures record the recovery transition before settling at idle.
func TestPhases_DownloadFailurePassesThroughRollingBack(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "1.2.0")
	p.downloader.err = os.ErrDeadlineExceeded

	ctx, logs := observedContext()

	_, err := p.manager.Update(ctx)
	require.ErrorIs(t, err, os.ErrDeadlineExceeded)
	require.Equal(t, PhaseIdle, p.manager.Phase())
	require.Equal(t, 1, loggedTransitionsTo(logs, PhaseRollingBack.String()))
}

// TestPhases_SuccessfulRunEndsCommitted covers the happy-path terminal state.
func TestPhases_SuccessfulRunEndsCommitted(t *testing.T) {
	t.Parallel()

	p := newPipeline(t, "1.2.0")

	_, err := p.manager.Update(context.Background())
	require.NoError(t, err)
	require.Equal(t, PhaseCommitted, p.manager.Phase())
}
