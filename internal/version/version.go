// Package version holds build metadata injected with -ldflags, for example
//
//	-X 'github.com/janekbaraniewski/usagesync/internal/version.Version=v0.3.0'
package version

var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// String is what `usagesync --version` prints.
func String() string {
	return Version + " (" + CommitHash + ") built " + BuildDate
}
