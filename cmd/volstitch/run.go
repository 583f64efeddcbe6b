package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/banshee-data/volstitch/internal/config"
	"github.com/banshee-data/volstitch/internal/fsutil"
	"github.com/banshee-data/volstitch/internal/infer"
	"github.com/banshee-data/volstitch/internal/monitoring"
	"github.com/banshee-data/volstitch/internal/report"
	"github.com/banshee-data/volstitch/internal/runstore"
	"github.com/banshee-data/volstitch/internal/security"
	"github.com/banshee-data/volstitch/internal/stitch"
	"github.com/banshee-data/volstitch/internal/tiling"
	"github.com/banshee-data/volstitch/internal/volio"
)

type options struct {
	Input            string
	Output           string
	PlotDir          string
	DBPath           string
	Models           string
	Sigma            float64
	Float32          bool
	ProgressInterval time.Duration
}

// runParams is what the ledger records about a run's configuration.
type runParams struct {
	Config *config.StitchConfig `json:"config"`
	Models string               `json:"models"`
	Sigma  float64              `json:"sigma"`
}

// buildAdapter turns a comma-separated model list into one adapter. More than
// one name stacks them as separate heads.
func buildAdapter(models string, channels int, sigma float64) (infer.Adapter, error) {
	var adapters []infer.Adapter
	for _, name := range strings.Split(models, ",") {
		switch strings.TrimSpace(name) {
		case "identity":
			adapters = append(adapters, infer.Identity{Channels: channels})
		case "gaussian":
			adapters = append(adapters, infer.Gaussian{Sigma: [3]float64{sigma, sigma, sigma}, Channels: channels})
		case "gaussian2d":
			adapters = append(adapters, infer.GaussianPlanes(channels, sigma))
		default:
			return nil, fmt.Errorf("unknown model %q", name)
		}
	}
	if len(adapters) == 1 {
		return adapters[0], nil
	}
	return infer.NewMulti(adapters...)
}

func run(ctx context.Context, fsys fsutil.FileSystem, cfg *config.StitchConfig, o options) error {
	vol, err := volio.ReadFile(fsys, o.Input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	log.Printf("loaded %s: %d channel(s), shape %s", o.Input, vol.Channels, vol.Shape)

	adapter, err := buildAdapter(o.Models, vol.Channels, o.Sigma)
	if err != nil {
		return err
	}
	eng, err := stitch.New(cfg.ToEngineConfig(), adapter)
	if err != nil {
		return err
	}
	src, err := tiling.NewArraySource(vol, cfg.ToPlan(), cfg.SourceOptions()...)
	if err != nil {
		return err
	}
	defer src.Close()

	var plots string
	if o.PlotDir != "" {
		plots = filepath.Join(o.Output, o.PlotDir)
		if err := security.ValidatePathWithinDirectory(plots, o.Output); err != nil {
			return fmt.Errorf("plot dir: %w", err)
		}
	}
	if err := fsys.MkdirAll(o.Output, 0o755); err != nil {
		return err
	}

	var mgr *runstore.Manager
	if o.DBPath != "" {
		db, err := runstore.Open(o.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		mgr = runstore.NewManager(db.DB, nil)
		if _, err := mgr.StartRun(o.Input, o.Models, runParams{Config: cfg, Models: o.Models, Sigma: o.Sigma}); err != nil {
			return err
		}
	}

	progress := monitoring.NewProgress(len(src.Placements()), o.ProgressInterval, nil)
	res, runErr := eng.Run(ctx, progress.Wrap(src))

	var outputs []string
	if runErr == nil {
		outputs, runErr = writeHeads(fsys, o, res)
	}
	if plots != "" && res != nil && res.Buffer != nil {
		written, err := report.Generate(fsys, plots, res)
		if err != nil {
			log.Printf("report failed: %v", err)
		}
		for _, p := range written {
			log.Printf("wrote %s", p)
		}
	}
	if mgr != nil {
		if err := mgr.Finish(res, runErr, outputs); err != nil {
			log.Printf("failed to record run: %v", err)
		}
	}
	return runErr
}

// writeHeads stores each stitched head next to the others as
// <input-stem>_head<N>.npy.
func writeHeads(fsys fsutil.FileSystem, o options, res *stitch.Result) ([]string, error) {
	dtype := volio.Float64
	if o.Float32 {
		dtype = volio.Float32
	}
	stem := strings.TrimSuffix(filepath.Base(o.Input), filepath.Ext(o.Input))

	paths := make([]string, 0, len(res.Heads))
	for h, v := range res.Heads {
		path, err := security.OutputPath(o.Output, stem, fmt.Sprintf("_head%d.npy", h))
		if err != nil {
			return paths, err
		}
		if err := volio.WriteFile(fsys, path, v, dtype); err != nil {
			return paths, fmt.Errorf("write head %d: %w", h, err)
		}
		log.Printf("wrote head %d (%d channel(s), shape %s) to %s", h, v.Channels, v.Shape, path)
		paths = append(paths, path)
	}
	return paths, nil
}
