package remote

import (
	"io"
	"sync/atomic"
	"time"
)

// stallGuard wraps an upload body, counting bytes as the transport consumes
// them. A watchdog compares the count across fixed windows and cancels the
// request when throughput drops below one byte per second, mirroring the
// low-speed-limit transport setting the engine's timeout semantics require.
type stallGuard struct {
	r        io.Reader
	sent     atomic.Int64
	total    int64
	progress ProgressFunc
	aborted  atomic.Bool
}

func newStallGuard(r io.Reader, total int64, progress ProgressFunc) *stallGuard {
	return &stallGuard{r: r, total: total, progress: progress}
}

func (g *stallGuard) Read(p []byte) (int, error) {
	n, err := g.r.Read(p)
	if n > 0 {
		sent := g.sent.Add(int64(n))
		if g.progress != nil {
			g.progress(sent, g.total)
		}
	}
	return n, err
}

// watch starts the watchdog and returns a stop function. The minimum
// acceptable progress per window is one byte per second of window length.
func (g *stallGuard) watch(window time.Duration, cancel func()) (stop func()) {
	if window <= 0 {
		return func() {}
	}
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()

		floor := int64(window / time.Second)
		last := g.sent.Load()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				now := g.sent.Load()
				if now-last < floor {
					g.aborted.Store(true)
					cancel()
					return
				}
				last = now
			}
		}
	}()

	return func() { close(done) }
}

func (g *stallGuard) stalled() bool {
	return g.aborted.Load()
}
