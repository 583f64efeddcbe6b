// Command volstitch tiles a volume into overlapping patches, runs a model on
// each batch, and stitches the predictions back into full-size volumes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/banshee-data/volstitch/internal/config"
	"github.com/banshee-data/volstitch/internal/fsutil"
	"github.com/banshee-data/volstitch/internal/monitoring"
	"github.com/banshee-data/volstitch/internal/runstore"
	"github.com/banshee-data/volstitch/internal/stitch"
	"github.com/banshee-data/volstitch/internal/tiling"
	"github.com/banshee-data/volstitch/internal/version"
)

var (
	inputPath   = flag.String("input", "", "Input volume (.npy, ZYX or CZYX)")
	outputDir   = flag.String("output", "out", "Directory for stitched head volumes")
	configPath  = flag.String("config", "", "Stitch config JSON (defaults to "+config.DefaultConfigPath+")")
	dbPath      = flag.String("db", "", "SQLite run ledger; empty disables recording")
	models      = flag.String("model", "identity", "Comma-separated heads: identity, gaussian, gaussian2d")
	sigma       = flag.Float64("sigma", 1.0, "Gaussian sigma in voxels")
	plotDir     = flag.String("plot-dir", "", "Write PNG/HTML diagnostics to this directory under -output")
	float32Out  = flag.Bool("float32", false, "Write outputs as float32 instead of float64")
	progressInt = flag.Duration("progress-interval", 5*time.Second, "Minimum time between progress lines")
	logDiag     = flag.Bool("log-diag", false, "Enable diagnostic logging")
	logTrace    = flag.Bool("log-trace", false, "Enable per-batch trace logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *inputPath == "" {
		log.Fatal("-input is required")
	}

	setLogWriters(os.Stderr, *logDiag, *logTrace)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := options{
		Input:            *inputPath,
		Output:           *outputDir,
		PlotDir:          *plotDir,
		DBPath:           *dbPath,
		Models:           *models,
		Sigma:            *sigma,
		Float32:          *float32Out,
		ProgressInterval: *progressInt,
	}
	if err := run(ctx, fsutil.OSFileSystem{}, cfg, opts); err != nil {
		if errors.Is(err, stitch.ErrCancelled) {
			log.Printf("interrupted: %v", err)
			os.Exit(130)
		}
		log.Fatalf("volstitch: %v", err)
	}
}

func loadConfig(path string) (*config.StitchConfig, error) {
	if path != "" {
		return config.Load(path)
	}
	if (fsutil.OSFileSystem{}).Exists(config.DefaultConfigPath) {
		return config.Load(config.DefaultConfigPath)
	}
	log.Printf("%s not found, using built-in defaults", config.DefaultConfigPath)
	return config.EmptyStitchConfig(), nil
}

// setLogWriters routes every package's ops stream to w and enables the
// diagnostic and trace streams on request.
func setLogWriters(w io.Writer, diag, trace bool) {
	var diagW, traceW io.Writer
	if diag {
		diagW = w
	}
	if trace {
		traceW = w
	}
	stitch.SetLogWriters(w, diagW, traceW)
	tiling.SetLogWriters(w, diagW, traceW)
	runstore.SetLogWriters(w, diagW)
	monitoring.SetLogger(log.New(w, "[progress] ", log.LstdFlags|log.Lmicroseconds).Printf)
}
