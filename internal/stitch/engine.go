package stitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/banshee-data/volstitch/internal/infer"
	"github.com/banshee-data/volstitch/internal/tiling"
	"github.com/banshee-data/volstitch/internal/timeutil"
	"github.com/banshee-data/volstitch/internal/volume"
)

// Config is the engine's configuration surface.
type Config struct {
	// Plan is the patch/stride pair the source tiles with. It is only used
	// to validate the halo against the available overlap.
	Plan tiling.Plan
	// Halo is trimmed from every non-boundary side of each prediction.
	Halo volume.Triple
	// MirrorPadding, when set, is cropped from both ends of each axis after
	// normalisation.
	MirrorPadding *volume.Triple
	// Heads is the number of outputs expected from the adapter. Zero accepts
	// whatever the adapter reports.
	Heads int
	// PredictionChannel, when set, keeps only that channel of every head.
	PredictionChannel *int
	// Workers > 1 runs inference on that many goroutines. Accumulation stays
	// on a single consumer.
	Workers int
	// Clock times the run for Stats.Elapsed. Nil uses the wall clock.
	Clock timeutil.Clock
}

// Stats summarises a run.
type Stats struct {
	Batches     int
	Patches     int
	Shape       volume.Triple // accumulation (pre-crop) spatial shape
	OutChannels int
	Elapsed     time.Duration
}

// Result is the outcome of Engine.Run.
//
// Complete is true only when every batch was accumulated and normalised. On
// cancellation or a coverage defect, Heads is nil and Buffer holds the raw,
// unnormalised sums and counts.
type Result struct {
	Heads    []*volume.Volume
	Complete bool
	Buffer   *Accumulator
	Stats    Stats
}

// Engine runs one stitching pass over one volume. Create a new Engine per
// input; Run may be called once.
type Engine struct {
	cfg         Config
	adapter     infer.Adapter
	heads       int
	outChannels int
	used        bool
}

// New validates cfg against adapter and returns an engine. All configuration
// problems surface here as *ConfigurationError, before any work is done.
func New(cfg Config, adapter infer.Adapter) (*Engine, error) {
	if adapter == nil {
		return nil, configErrorf("adapter", "nil adapter")
	}
	if err := cfg.Plan.Validate(); err != nil {
		return nil, configErrorf("plan", "%v", err)
	}
	if cfg.Halo.AnyNegative() {
		return nil, configErrorf("halo", "must be non-negative, got %s", cfg.Halo)
	}
	overlap := cfg.Plan.Overlap()
	if slack := overlap.Sub(cfg.Halo); slack.AnyNegative() {
		return nil, configErrorf("halo", "not enough patch overlap for stride %s and halo %s (overlap %s)",
			cfg.Plan.Stride, cfg.Halo, overlap)
	}
	for axis := 0; axis < 3; axis++ {
		if 2*cfg.Halo[axis] > cfg.Plan.Patch[axis] {
			return nil, configErrorf("halo", "halo %s trims more than patch %s", cfg.Halo, cfg.Plan.Patch)
		}
	}
	if cfg.MirrorPadding != nil && cfg.MirrorPadding.AnyNegative() {
		return nil, configErrorf("mirror_padding", "must be non-negative, got %s", *cfg.MirrorPadding)
	}
	if cfg.Workers < 0 {
		return nil, configErrorf("workers", "must be non-negative, got %d", cfg.Workers)
	}

	heads := adapter.Heads()
	if heads <= 0 {
		return nil, configErrorf("heads", "adapter reports %d heads", heads)
	}
	if cfg.Heads != 0 && cfg.Heads != heads {
		return nil, configErrorf("heads", "configured %d output heads, adapter produces %d", cfg.Heads, heads)
	}
	outChannels := adapter.OutChannels()
	if outChannels <= 0 {
		return nil, configErrorf("adapter", "adapter reports %d output channels", outChannels)
	}
	if sel := cfg.PredictionChannel; sel != nil {
		if *sel < 0 || *sel >= outChannels {
			return nil, configErrorf("prediction_channel", "%d outside adapter output [0, %d)", *sel, outChannels)
		}
		outChannels = 1
	}
	if rank := infer.RankOf(adapter); rank == 2 && cfg.Plan.Patch[volume.AxisZ] != 1 {
		return nil, configErrorf("adapter", "2D adapter needs patch depth 1, got patch %s", cfg.Plan.Patch)
	}

	return &Engine{cfg: cfg, adapter: adapter, heads: heads, outChannels: outChannels}, nil
}

// Heads returns the number of output heads.
func (e *Engine) Heads() int { return e.heads }

// OutChannels returns the channel count of every output head.
func (e *Engine) OutChannels() int { return e.outChannels }

// Run pulls every batch from src, runs the adapter, trims and accumulates the
// predictions, and returns the normalised heads in order.
//
// Adapter errors are returned unchanged. A cancelled ctx yields an
// incomplete Result together with an error matching ErrCancelled.
func (e *Engine) Run(ctx context.Context, src tiling.Source) (*Result, error) {
	if e.used {
		return nil, ErrEngineUsed
	}
	e.used = true

	shape := src.Shape()
	pad := e.padding()
	for axis := 0; axis < 3; axis++ {
		if pad[axis] > 0 && 2*pad[axis] >= shape[axis] {
			return nil, configErrorf("mirror_padding", "%s removes all of axis %d (extent %d)", pad, axis, shape[axis])
		}
	}

	clock := e.cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()
	acc := NewAccumulator(e.outChannels, shape, e.heads)
	res := &Result{Buffer: acc, Stats: Stats{Shape: shape, OutChannels: e.outChannels}}
	diagf("run: %d head(s) of %d×%s, halo %s, mirror padding %s, workers %d",
		e.heads, e.outChannels, shape, e.cfg.Halo, pad, e.cfg.Workers)

	var err error
	if e.cfg.Workers > 1 {
		err = e.runParallel(ctx, src, res)
	} else {
		err = e.runSequential(ctx, src, res)
	}
	res.Stats.Elapsed = clock.Since(start)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			opsf("run cancelled after %d batches (%d patches); returning partial state", res.Stats.Batches, res.Stats.Patches)
			return res, err
		}
		return nil, err
	}

	heads, err := acc.Finalize(pad)
	if err != nil {
		var cerr *CoverageError
		if errors.As(err, &cerr) {
			opsf("%v", cerr)
			return res, err
		}
		return nil, err
	}
	res.Heads = heads
	res.Complete = true
	diagf("run complete: %d batches, %d patches in %v", res.Stats.Batches, res.Stats.Patches, res.Stats.Elapsed)
	return res, nil
}

func (e *Engine) runSequential(ctx context.Context, src tiling.Source, res *Result) error {
	for {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		b, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			return fmt.Errorf("stitch: source: %w", err)
		}
		if err := e.checkBatch(b, res.Stats.Shape); err != nil {
			return err
		}
		preds, err := e.adapter.Predict(ctx, b.Patches)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil && errors.Is(err, cerr) {
				return cancelled(cerr)
			}
			opsf("adapter failed on batch %d: %v", res.Stats.Batches, err)
			return err
		}
		if err := e.accumulate(res, b, preds); err != nil {
			return err
		}
	}
}

// checkBatch rejects placements that lie outside the volume or are not a
// patch of the configured plan. The halo was validated against that patch,
// so any other shape could trim past the prediction.
func (e *Engine) checkBatch(b tiling.Batch, shape volume.Triple) error {
	if len(b.Placements) != b.Len() {
		return fmt.Errorf("stitch: batch has %d patches but %d placements", b.Len(), len(b.Placements))
	}
	for _, p := range b.Placements {
		if !p.Within(shape) {
			return fmt.Errorf("stitch: placement %s outside volume %s", p, shape)
		}
		if p.Shape() != e.cfg.Plan.Patch {
			return configErrorf("plan", "source placement %s is not a patch of shape %s", p, e.cfg.Plan.Patch)
		}
	}
	return nil
}

// accumulate trims every prediction of a batch and adds it to the buffer.
func (e *Engine) accumulate(res *Result, b tiling.Batch, preds [][]*volume.Volume) error {
	if len(preds) != e.heads {
		return fmt.Errorf("%w: %d heads, want %d", ErrAdapterContract, len(preds), e.heads)
	}
	shape := res.Buffer.Shape()
	for h, head := range preds {
		if len(head) != b.Len() {
			return fmt.Errorf("%w: head %d has %d samples, batch has %d", ErrAdapterContract, h, len(head), b.Len())
		}
		for i, pred := range head {
			placement := b.Placements[i]
			if pred == nil || pred.Shape != placement.Shape() || pred.Channels != e.adapter.OutChannels() {
				return fmt.Errorf("%w: head %d sample %d does not match placement %s", ErrAdapterContract, h, i, placement)
			}
			if sel := e.cfg.PredictionChannel; sel != nil {
				pred = pred.Channel(*sel)
			}
			placement.C = volume.Range{Start: 0, Stop: e.outChannels}
			trimmed, target := TrimHalo(pred, placement, shape, e.cfg.Halo)
			res.Buffer.Add(h, target, trimmed)
		}
	}
	res.Stats.Batches++
	res.Stats.Patches += b.Len()
	tracef("batch %d: %d patches accumulated into %d head(s)", res.Stats.Batches, b.Len(), e.heads)
	return nil
}

func (e *Engine) padding() volume.Triple {
	if e.cfg.MirrorPadding == nil {
		return volume.Triple{}
	}
	return *e.cfg.MirrorPadding
}

func cancelled(cause error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, cause)
}
