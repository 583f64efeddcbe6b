package version

import "fmt"

var (
	// Version is the current application version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns a one-line build description, recorded with every run.
func String() string {
	return fmt.Sprintf("volstitch %s (%s, built %s)", Version, GitSHA, BuildTime)
}
