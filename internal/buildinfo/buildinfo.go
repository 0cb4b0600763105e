// Package buildinfo carries the firmware build stamp, set with -ldflags -X.
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Short returns the version, or the commit for untagged builds.
func Short() string {
	if Version != "" && Version != "dev" {
		return Version
	}
	if Commit != "" && Commit != "unknown" {
		return Commit
	}
	return "dev"
}

// String returns the full stamp logged at boot.
func String() string {
	return fmt.Sprintf("npu %s (commit %s, built %s)", Version, Commit, Date)
}
