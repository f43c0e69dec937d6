package downloader

import (
	"context"

	"github.com/dustin/go-humanize"

	"github.com/thunderkeep/thunderkeep/internal/logger"
)

// ProgressFunc receives download progress as bytes arrive. Total is the
// declared archive size, or -1 when unknown.
type ProgressFunc func(done, total int64)

// progressLogStep is how many bytes may arrive between progress log lines.
const progressLogStep = 16 << 20

// progressReporter builds the io.Writer leg that tracks arriving bytes.
// When no callback is configured, progress is logged at intervals instead.
func (s *Service) progressReporter(ctx context.Context, total int64) *progressWriter {
	fn := s.progress
	if fn == nil {
		var lastLogged int64

		fn = func(done, total int64) {
			if done-lastLogged < progressLogStep {
				return
			}

			lastLogged = done

			if total > 0 {
				logger.InfoKV(ctx, "Downloading",
					"received", humanize.IBytes(uint64(done)),
					"of", humanize.IBytes(uint64(total)))
			} else {
				logger.InfoKV(ctx, "Downloading", "received", humanize.IBytes(uint64(done)))
			}
		}
	}

	return &progressWriter{ctx: ctx, total: total, fn: fn}
}

// progressWriter counts bytes flowing through a MultiWriter.
type progressWriter struct {
	ctx   context.Context
	done  int64
	total int64
	fn    ProgressFunc
}

// Write never fails; it only observes the stream.
func (w *progressWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	w.fn(w.done, w.total)

	return len(p), nil
}

// finish emits the closing progress line once the archive is committed.
func (w *progressWriter) finish() {
	logger.InfoKV(w.ctx, "Download complete", "size", humanize.IBytes(uint64(w.done)))
}
