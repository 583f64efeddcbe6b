package stitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/volstitch/internal/tiling"
	"github.com/banshee-data/volstitch/internal/volume"
)

type inferJob struct {
	seq   int
	batch tiling.Batch
}

type inferDone struct {
	seq   int
	batch tiling.Batch
	preds [][]*volume.Volume
}

// runParallel fans inference out to e.cfg.Workers goroutines. The source is
// still pulled by one goroutine, and every Add happens on the caller's
// goroutine in source order, so the output is bit-identical to a sequential
// run.
func (e *Engine) runParallel(ctx context.Context, src tiling.Source, res *Result) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	jobs := make(chan inferJob)
	results := make(chan inferDone)

	g.Go(func() error {
		defer close(jobs)
		for seq := 0; ; seq++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			b, err := src.Next(gctx)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if err := e.checkBatch(b, res.Stats.Shape); err != nil {
				return err
			}
			select {
			case jobs <- inferJob{seq: seq, batch: b}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	var workers sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for j := range jobs {
				preds, err := e.adapter.Predict(gctx, j.batch.Patches)
				if err != nil {
					return err
				}
				select {
				case results <- inferDone{seq: j.seq, batch: j.batch, preds: preds}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	// Single consumer: reorder by sequence number and accumulate.
	pending := make(map[int]inferDone)
	next := 0
	var consumeErr error
	for r := range results {
		if consumeErr != nil {
			continue
		}
		pending[r.seq] = r
		for {
			d, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			if err := e.accumulate(res, d.batch, d.preds); err != nil {
				consumeErr = err
				cancel()
				break
			}
			next++
		}
	}

	werr := g.Wait()
	if consumeErr != nil {
		return consumeErr
	}
	if cerr := ctx.Err(); cerr != nil {
		return cancelled(cerr)
	}
	if werr != nil {
		if len(pending) > 0 {
			diagf("dropped %d out-of-order batches after failure", len(pending))
		}
		opsf("parallel inference failed: %v", werr)
		return werr
	}
	if len(pending) > 0 {
		return fmt.Errorf("stitch: %d batches never accumulated", len(pending))
	}
	return nil
}
