// Package dispatch provides a single-threaded file descriptor readiness
// dispatcher.
//
// The dispatcher delivers readiness callbacks strictly one at a time
// from its own loop goroutine, so handlers registered with it never run
// concurrently with each other or with themselves.  Registering a
// descriptor arms it for notification only; the dispatcher performs no
// I/O on the caller's behalf.
package dispatch

import (
	"context"
	"errors"
)

// Event is a bitmask of readiness conditions.
type Event uint32

const (
	// Readable fires when the descriptor has data to read.
	Readable Event = 1 << iota
	// Writable fires when the descriptor will accept a write.
	Writable
)

// Callback is invoked from the dispatch loop when a registered
// descriptor becomes ready.
type Callback func(fd int, ev Event)

var (
	// ErrNotRegistered is the error returned when unregistering a
	// descriptor that was never registered.
	ErrNotRegistered = errors.New("dispatch: descriptor not registered")

	// ErrClosed is the error returned when operating on a closed
	// dispatcher.
	ErrClosed = errors.New("dispatch: dispatcher closed")
)

// Dispatcher dispatches file descriptor readiness events.
type Dispatcher interface {
	// Register arms fd for the given events, invoking cb from the
	// dispatch loop each time one fires.  A descriptor may be
	// registered at most once.
	Register(fd int, events Event, cb Callback) error

	// Unregister disarms fd and forgets its callback.
	Unregister(fd int) error

	// Run executes the dispatch loop until ctx is canceled or the
	// dispatcher is closed.
	Run(ctx context.Context) error

	// Close tears down the dispatcher and releases its resources.
	Close() error
}
