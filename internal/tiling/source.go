package tiling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/volstitch/internal/volume"
)

// Batch is a group of patches together with their placements in the source
// volume. Patches[i] was cut from Placements[i].
type Batch struct {
	Patches    []*volume.Volume
	Placements []volume.Region
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int { return len(b.Patches) }

// Source delivers batches to a single consumer. Next returns io.EOF once
// every placement has been delivered.
type Source interface {
	// Shape is the spatial shape of the volume placements refer to.
	Shape() volume.Triple
	Next(ctx context.Context) (Batch, error)
}

// ArraySource cuts patches from an in-memory volume.
type ArraySource struct {
	vol        *volume.Volume
	pad        volume.Triple
	placements []volume.Region
	order      []int
	batchSize  int
	prefetch   int
	workers    int

	next int // synchronous mode cursor

	startOnce sync.Once
	batches   chan Batch
	errc      chan error
	stop      context.CancelFunc
	done      bool
	doneErr   error
}

// SourceOption configures an ArraySource.
type SourceOption func(*ArraySource) error

// WithBatchSize sets how many patches are delivered per batch (default 1).
func WithBatchSize(n int) SourceOption {
	return func(s *ArraySource) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		s.batchSize = n
		return nil
	}
}

// WithPrefetch enables background slicing: up to n batches are prepared
// ahead of the consumer by workers goroutines. n == 0 keeps slicing on the
// consumer's goroutine.
func WithPrefetch(n, workers int) SourceOption {
	return func(s *ArraySource) error {
		if n < 0 || workers < 0 {
			return fmt.Errorf("prefetch and workers must be non-negative, got %d/%d", n, workers)
		}
		s.prefetch = n
		s.workers = workers
		if s.workers == 0 {
			s.workers = 1
		}
		return nil
	}
}

// WithMirrorPadding mirror-pads the volume before tiling. Placements refer to
// the padded volume; Padding reports the amounts so the consumer can crop.
func WithMirrorPadding(pad volume.Triple) SourceOption {
	return func(s *ArraySource) error {
		padded, err := volume.MirrorPad(s.vol, pad)
		if err != nil {
			return err
		}
		s.vol = padded
		s.pad = pad
		return nil
	}
}

// WithOrder delivers placements in the given permutation of the plan order.
// The permutation applies to the final tiling, after any mirror padding.
func WithOrder(perm []int) SourceOption {
	return func(s *ArraySource) error {
		s.order = append([]int(nil), perm...)
		return nil
	}
}

// NewArraySource tiles vol with plan. Options are applied in order; mirror
// padding re-tiles the padded volume.
func NewArraySource(vol *volume.Volume, plan Plan, opts ...SourceOption) (*ArraySource, error) {
	s := &ArraySource{vol: vol, batchSize: 1, workers: 1}

	var err error
	if s.placements, err = plan.Placements(vol.Channels, vol.Shape); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		before := s.vol
		if err := opt(s); err != nil {
			return nil, err
		}
		if s.vol != before {
			if s.placements, err = plan.Placements(s.vol.Channels, s.vol.Shape); err != nil {
				return nil, err
			}
		}
	}
	if s.order != nil {
		if s.placements, err = reorder(s.placements, s.order); err != nil {
			return nil, err
		}
	}
	diagf("tiled %d×%s with patch %s stride %s: %d placements, batch size %d",
		s.vol.Channels, s.vol.Shape, plan.Patch, plan.Stride, len(s.placements), s.batchSize)
	return s, nil
}

func reorder(placements []volume.Region, perm []int) ([]volume.Region, error) {
	if len(perm) != len(placements) {
		return nil, fmt.Errorf("order has %d entries, plan has %d placements", len(perm), len(placements))
	}
	seen := make([]bool, len(perm))
	out := make([]volume.Region, len(perm))
	for i, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return nil, fmt.Errorf("order is not a permutation (entry %d = %d)", i, p)
		}
		seen[p] = true
		out[i] = placements[p]
	}
	return out, nil
}

// Shape returns the spatial shape of the (possibly padded) volume.
func (s *ArraySource) Shape() volume.Triple { return s.vol.Shape }

// Padding returns the mirror padding applied to the volume.
func (s *ArraySource) Padding() volume.Triple { return s.pad }

// Placements returns the placements in delivery order.
func (s *ArraySource) Placements() []volume.Region { return s.placements }

// NumBatches returns how many batches the source will deliver.
func (s *ArraySource) NumBatches() int {
	return (len(s.placements) + s.batchSize - 1) / s.batchSize
}

// Next returns the next batch, or io.EOF when the source is exhausted.
func (s *ArraySource) Next(ctx context.Context) (Batch, error) {
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}
	if s.prefetch == 0 {
		if s.next >= s.NumBatches() {
			return Batch{}, io.EOF
		}
		b, err := s.build(ctx, s.next)
		if err != nil {
			return Batch{}, err
		}
		tracef("batch %d/%d (%d patches)", s.next+1, s.NumBatches(), b.Len())
		s.next++
		return b, nil
	}

	s.startOnce.Do(s.start)
	if s.batches == nil {
		return Batch{}, errors.New("tiling: source closed before first batch")
	}
	if s.done {
		return Batch{}, s.doneErr
	}
	select {
	case <-ctx.Done():
		return Batch{}, ctx.Err()
	case b, ok := <-s.batches:
		if !ok {
			s.done = true
			s.doneErr = io.EOF
			if err := <-s.errc; err != nil {
				s.doneErr = err
			}
			return Batch{}, s.doneErr
		}
		return b, nil
	}
}

// Close stops background prefetching. It is safe to call more than once and
// on sources that never started.
func (s *ArraySource) Close() error {
	s.startOnce.Do(func() {})
	if s.stop != nil {
		s.stop()
	}
	return nil
}

func (s *ArraySource) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.batches = make(chan Batch, s.prefetch)
	s.errc = make(chan error, 1)

	go func() {
		defer close(s.batches)
		for i := 0; i < s.NumBatches(); i++ {
			b, err := s.build(ctx, i)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					opsf("prefetch of batch %d failed: %v", i, err)
				}
				s.errc <- err
				return
			}
			select {
			case s.batches <- b:
				tracef("prefetched batch %d/%d (%d patches)", i+1, s.NumBatches(), b.Len())
			case <-ctx.Done():
				s.errc <- ctx.Err()
				return
			}
		}
		s.errc <- nil
	}()
}

// build cuts batch i. Patches are copied on up to s.workers goroutines.
func (s *ArraySource) build(ctx context.Context, i int) (Batch, error) {
	lo := i * s.batchSize
	hi := lo + s.batchSize
	if hi > len(s.placements) {
		hi = len(s.placements)
	}
	b := Batch{
		Patches:    make([]*volume.Volume, hi-lo),
		Placements: append([]volume.Region(nil), s.placements[lo:hi]...),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for j := range b.Placements {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			b.Patches[j] = s.vol.Extract(b.Placements[j])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Batch{}, err
	}
	return b, nil
}
