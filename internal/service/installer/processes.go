package installer

import (
	"context"
	"os"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/thunderkeep/thunderkeep/internal/logger"
)

// warnIfApplicationRunning scans the process table for the managed
// application before the swap. The swap itself is safe either way (the old
// versioned directory stays intact), but a running instance keeps using the
// old version until restarted, which is worth telling the operator.
func (m *Manager) warnIfApplicationRunning(ctx context.Context) {
	if m.appExecutable == "" {
		return
	}

	processes, err := ps.Processes()
	if err != nil {
		logger.DebugKV(ctx, "Unable to inspect process table", "error", err)
		return
	}

	selfPID := os.Getpid()

	var pids []int

	for _, process := range processes {
		if process.Pid() == selfPID {
			continue
		}

		if strings.EqualFold(process.Executable(), m.appExecutable) {
			pids = append(pids, process.Pid())
		}
	}

	if len(pids) > 0 {
		logger.WarnKV(ctx, "Application is running and will keep its old version until restarted",
			"executable", m.appExecutable, "pids", pids)
	}
}
