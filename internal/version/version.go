package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// GetVersion returns the version populated via -ldflags.
func GetVersion() string { return version }

// GetCommit returns the commit populated via -ldflags.
func GetCommit() string { return commit }

// GetDate returns the build date populated via -ldflags.
func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
