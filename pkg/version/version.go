// Package version holds build information injected with ldflags, e.g.
// go build -ldflags "-X tenantops/pkg/version.Version=v0.3.0".
package version

//nolint:gochecknoglobals // ldflags targets
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
