// Package bitflip is a fixed-length bit vector shared between concurrent
// clients over HTTP. This package re-exports the types most callers need.
package bitflip

import (
	"github.com/KanavDutta/bitflip/client"
	"github.com/KanavDutta/bitflip/core"
)

// Re-export main types for convenience
type (
	BitStore         = core.BitStore
	Snapshot         = core.Snapshot
	OutOfBoundsError = core.OutOfBoundsError
	Client           = client.Client
)

var (
	// New creates a zeroed bit store of the given length
	New = core.New

	// NewClient creates an HTTP client for a bitflip server
	NewClient = client.New

	ErrOutOfBounds = core.ErrOutOfBounds
)
