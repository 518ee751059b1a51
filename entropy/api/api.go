// Package api defines the entropy source interface and the shared
// gathering parameters.
package api

import "errors"

const (
	// EntropyBytes is the amount of true entropy requested from the
	// jitter collector per gathering cycle, in bytes.
	EntropyBytes = 32

	// OversamplingFactor is the jitter oversampling factor: for every
	// byte of credited entropy, this many raw bytes are drawn from
	// the collector.
	OversamplingFactor = 2

	// JitterBlockSize is the raw payload size of one jitter pull.
	JitterBlockSize = EntropyBytes * OversamplingFactor

	// JitterEntropyBits is the entropy credited for one successful
	// jitter pull, regardless of the oversampled payload size.  This
	// fixed conservative credit is a deliberate policy choice.
	JitterEntropyBits = EntropyBytes * 8

	// ExternalReadCap is the upper bound on a single read from an
	// external source file.  Every byte actually read is credited at
	// the full 8 bits; callers configuring an external source are
	// assumed to vouch for its quality.
	ExternalReadCap = 1024
)

// ErrShortFill is the error returned by sources that must fill the
// whole buffer but could not.
var ErrShortFill = errors.New("entropy: short fill")

// Source is an entropy source.
type Source interface {
	// Name returns the source name.
	Name() string

	// Fill gathers entropy into buf and returns the number of bytes
	// produced.  Whether a partial fill is an error is a per-source
	// property: the jitter collector fills completely or fails, an
	// external file source may legitimately produce zero bytes.
	Fill(buf []byte) (int, error)

	// Close releases the source's resources, wiping any internal
	// state that held entropy.
	Close() error
}

// ReadinessSource is a Source backed by a file descriptor that can be
// armed for read-readiness notification.
type ReadinessSource interface {
	Source

	// Fd returns the descriptor to arm for readiness notification.
	Fd() int
}
