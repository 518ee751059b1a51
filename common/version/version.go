// Package version implements the daemon's version information.
package version

import "runtime"

// SoftwareVersion is the daemon's version string.  It is meant to be
// overridden at build time via:
//
//	-ldflags "-X github.com/entropylabs/entropyd/common/version.SoftwareVersion=..."
var SoftwareVersion = "0.3.0-dev"

// Toolchain is the version of the Go toolchain that built the binary.
var Toolchain = runtime.Version()
