package stitch

import (
	"errors"
	"fmt"

	"github.com/banshee-data/volstitch/internal/volume"
)

var (
	// ErrConfiguration marks a run rejected before any patch was processed.
	ErrConfiguration = errors.New("stitch: invalid configuration")
	// ErrCoverage marks an output voxel that received no contribution.
	ErrCoverage = errors.New("stitch: incomplete coverage")
	// ErrCancelled marks a run stopped through its context. The Result
	// returned alongside it is incomplete and unnormalised.
	ErrCancelled = errors.New("stitch: run cancelled")
	// ErrAdapterContract marks adapter output that does not match the batch
	// (head count, sample count, channel count or spatial shape).
	ErrAdapterContract = errors.New("stitch: adapter output violates contract")
	// ErrEngineUsed is returned by Run on an engine that already ran.
	ErrEngineUsed = errors.New("stitch: engine already used")
)

// ConfigurationError describes why a configuration was rejected. Fixing it
// requires a different plan, halo or adapter; retrying is pointless.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("stitch: invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func configErrorf(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CoverageError reports voxels with zero visits after a full pass. It means
// the tiling plan leaves gaps once halos are trimmed.
type CoverageError struct {
	Head      int
	Uncovered int           // number of spatial positions with zero visits
	First     volume.Triple // Z, Y, X of the first uncovered position
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("stitch: head %d has %d uncovered voxels (first at %s); patch overlap too small for halo",
		e.Head, e.Uncovered, e.First)
}

// Is matches ErrCoverage.
func (e *CoverageError) Is(target error) bool { return target == ErrCoverage }
