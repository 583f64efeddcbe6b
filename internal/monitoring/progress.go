package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/volstitch/internal/tiling"
	"github.com/banshee-data/volstitch/internal/timeutil"
)

// Progress counts the batches and patches delivered to the engine and logs a
// line through Logf at most once per interval, plus once when the last patch
// arrives.
type Progress struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	interval time.Duration
	total    int // expected patches; 0 if unknown

	batches int
	patches int
	start   time.Time
	last    time.Time
}

// Snapshot is a point-in-time view of a Progress.
type Snapshot struct {
	Batches int
	Patches int
	Total   int
	Elapsed time.Duration
}

// Fraction returns the completed share of Total, or 0 when Total is unknown.
func (s Snapshot) Fraction() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Patches) / float64(s.Total)
}

// Rate returns patches per second.
func (s Snapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Patches) / s.Elapsed.Seconds()
}

// NewProgress starts tracking a pass over totalPatches patches.
func NewProgress(totalPatches int, interval time.Duration, clock timeutil.Clock) *Progress {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	now := clock.Now()
	return &Progress{clock: clock, interval: interval, total: totalPatches, start: now, last: now}
}

// Observe records one delivered batch of n patches.
func (p *Progress) Observe(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.batches++
	p.patches += n
	now := p.clock.Now()
	if now.Sub(p.last) < p.interval && (p.total == 0 || p.patches < p.total) {
		return
	}
	p.last = now
	s := p.snapshotLocked(now)
	if s.Total > 0 {
		Logf("stitch progress: %d/%d patches (%.1f%%) in %d batches, %.1f patches/s",
			s.Patches, s.Total, 100*s.Fraction(), s.Batches, s.Rate())
		return
	}
	Logf("stitch progress: %d patches in %d batches, %.1f patches/s", s.Patches, s.Batches, s.Rate())
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked(p.clock.Now())
}

func (p *Progress) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{Batches: p.batches, Patches: p.patches, Total: p.total, Elapsed: now.Sub(p.start)}
}

// Wrap returns a source that reports every batch it delivers to p.
func (p *Progress) Wrap(src tiling.Source) tiling.Source {
	return &observedSource{Source: src, progress: p}
}

type observedSource struct {
	tiling.Source
	progress *Progress
}

func (s *observedSource) Next(ctx context.Context) (tiling.Batch, error) {
	b, err := s.Source.Next(ctx)
	if err == nil {
		s.progress.Observe(b.Len())
	}
	return b, err
}
