// Package utils holds build metadata stamped at link time with
// -ldflags "-X github.com/papercomputeco/mnemo/pkg/utils.Version=...".
package utils

import "fmt"

var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// VersionString is the one line version reported by the CLI and the MCP
// server.
func VersionString() string {
	return fmt.Sprintf("%s (%s, built %s)", Version, Sha, Buildtime)
}
