// Package engine implements the event-driven entropy gathering and
// injection engine.
//
// The engine subscribes to the kernel pool's "accepting entropy"
// notification, pulls a fixed oversampled block from the jitter
// collector on every signal, and opportunistically drains an optional
// external source.  The external source's reachability is tracked by a
// three-state machine (Disabled, Armed, Idle) so that the engine never
// blocks waiting on a slow or empty source: a read attempt is only
// spent once "kernel wants entropy" and "source has data" have both
// been signaled.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/entropylabs/entropyd/common/memwipe"
	"github.com/entropylabs/entropyd/common/service"
	"github.com/entropylabs/entropyd/dispatch"
	"github.com/entropylabs/entropyd/entropy/api"
)

// ExternalState is the reachability state of the external source.
type ExternalState int

const (
	// ExternalDisabled means no external source is configured.
	// Terminal for the process lifetime.
	ExternalDisabled ExternalState = iota

	// ExternalArmed means the source is registered for read-readiness
	// notification and no read will be attempted until one fires.
	ExternalArmed

	// ExternalIdle means the source is not registered and a read may
	// be attempted on the next pool-low signal.
	ExternalIdle
)

// String returns the string representation of an ExternalState.
func (s ExternalState) String() string {
	switch s {
	case ExternalDisabled:
		return "disabled"
	case ExternalArmed:
		return "armed"
	case ExternalIdle:
		return "idle"
	default:
		return "[unknown]"
	}
}

// Injector submits entropy to the kernel pool.
type Injector interface {
	// Inject submits payload with the given entropy credit in bits
	// and returns the number of bytes accepted.
	Inject(payload []byte, bits uint32) (int, error)

	// Fd returns the pool descriptor, armed for the "accepting
	// entropy" notification.
	Fd() int

	// Close releases the pool handle.
	Close() error
}

// Config is the engine configuration.
type Config struct {
	// Pool is the kernel pool injector.  The engine takes ownership.
	Pool Injector

	// Jitter is the mandatory jitter source.  The engine takes
	// ownership.
	Jitter api.Source

	// External is the optional external source, or nil.  The engine
	// takes ownership.
	External api.ReadinessSource

	// Dispatcher delivers readiness events.  Remains owned by the
	// caller.
	Dispatcher dispatch.Dispatcher
}

// Engine is the entropy gathering and injection engine.
//
// All handlers run on the dispatcher's single loop goroutine, so the
// engine state needs no locking.
type Engine struct {
	service.BaseBackgroundService

	pool       Injector
	jitter     api.Source
	external   api.ReadinessSource
	dispatcher dispatch.Dispatcher

	state ExternalState

	cancelRun context.CancelFunc
}

// New creates an Engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("engine: no pool injector configured")
	}
	if cfg.Jitter == nil {
		return nil, fmt.Errorf("engine: no jitter source configured")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("engine: no dispatcher configured")
	}

	initMetrics()

	return &Engine{
		BaseBackgroundService: *service.NewBaseBackgroundService("entropy/engine"),
		pool:                  cfg.Pool,
		jitter:                cfg.Jitter,
		external:              cfg.External,
		dispatcher:            cfg.Dispatcher,
		state:                 ExternalDisabled,
	}, nil
}

// ExternalState returns the current state of the external source.
func (e *Engine) ExternalState() ExternalState {
	return e.state
}

// Start arms the kernel pool notification, arms the external source if
// one is configured, performs one immediate gathering pass, and then
// runs the dispatch loop in the background.
func (e *Engine) Start() error {
	if err := e.dispatcher.Register(e.pool.Fd(), dispatch.Writable, e.onPoolLow); err != nil {
		return fmt.Errorf("engine: failed to arm pool notification: %w", err)
	}

	if e.external != nil {
		e.armExternal()
	}

	// Prime the pool once before entering the loop.
	e.gather()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelRun = cancel
	go func() {
		err := e.dispatcher.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, dispatch.ErrClosed) {
			e.Logger.Error("dispatch loop terminated",
				"err", err,
			)
		}
		e.BaseBackgroundService.Stop()
	}()

	return nil
}

// Stop halts the dispatch loop.
func (e *Engine) Stop() {
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.BaseBackgroundService.Stop()
}

// Cleanup releases every handle the engine owns.  The jitter collector
// and the pool handle wipe their entropy-bearing state on close.
func (e *Engine) Cleanup() {
	var errs *multierror.Error

	if e.jitter != nil {
		errs = multierror.Append(errs, e.jitter.Close())
		e.jitter = nil
	}
	if e.external != nil {
		errs = multierror.Append(errs, e.external.Close())
		e.external = nil
	}
	if e.pool != nil {
		errs = multierror.Append(errs, e.pool.Close())
		e.pool = nil
	}

	if err := errs.ErrorOrNil(); err != nil {
		e.Logger.Error("cleanup failed",
			"err", err,
		)
	}
}

// onPoolLow is the primary trigger: the kernel pool signals that it is
// below threshold and accepting writes.
func (e *Engine) onPoolLow(int, dispatch.Event) {
	e.Logger.Debug("kernel pool signals low entropy")
	poolLowEvents.Inc()

	e.gather()
}

// onExternalReady fires when the armed external source becomes
// readable.  It performs no read itself; it only disarms the
// notification and allows a read on the next pool-low signal.
func (e *Engine) onExternalReady(fd int, _ dispatch.Event) {
	if err := e.dispatcher.Unregister(fd); err != nil {
		e.Logger.Debug("failed to disarm external source",
			"err", err,
		)
	}
	e.state = ExternalIdle

	e.Logger.Debug("external source signals readiness")
}

// gather runs one gathering cycle: an unconditional jitter pull,
// followed by an opportunistic external read when permitted by the
// state machine.
func (e *Engine) gather() {
	e.gatherJitter()

	switch e.state {
	case ExternalDisabled:
		// No external source for the process lifetime.
	case ExternalArmed:
		// Still waiting for a readiness notification; attempting a
		// read here could stall the engine on a slow source.
	case ExternalIdle:
		e.gatherExternal()
	}
}

// gatherJitter pulls one oversampled block from the jitter collector
// and injects it with the fixed conservative credit.  Failures are
// reported and the cycle continues.
func (e *Engine) gatherJitter() {
	buf := make([]byte, api.JitterBlockSize)
	defer memwipe.Wipe(buf)

	n, err := e.jitter.Fill(buf)
	if err == nil && n != len(buf) {
		err = api.ErrShortFill
	}
	if err != nil {
		e.Logger.Error("cannot read jitter entropy",
			"err", err,
		)
		sourceErrors.WithLabelValues(e.jitter.Name()).Inc()
		return
	}

	e.submit(buf, api.JitterEntropyBits, e.jitter.Name())
}

// gatherExternal attempts one non-blocking read from the Idle external
// source.  Bytes are injected with the full-trust 1:1 credit; an empty
// or failed read re-arms the readiness notification.
func (e *Engine) gatherExternal() {
	buf := make([]byte, api.ExternalReadCap)
	defer memwipe.Wipe(buf)

	n, err := e.external.Fill(buf)
	if err != nil {
		e.Logger.Warn("external source temporarily unavailable",
			"err", err,
		)
		sourceErrors.WithLabelValues(e.external.Name()).Inc()
		e.armExternal()
		return
	}
	if n == 0 {
		e.armExternal()
		return
	}

	e.submit(buf[:n], uint32(8*n), e.external.Name())
	// Remain Idle, prepared for another opportunistic read on the
	// next cycle.
}

// armExternal registers the external source for read-readiness.  A
// descriptor that refuses registration degrades to always-attemptable:
// the engine stays Idle and polls it opportunistically instead.
func (e *Engine) armExternal() {
	if err := e.dispatcher.Register(e.external.Fd(), dispatch.Readable, e.onExternalReady); err != nil {
		e.Logger.Warn("cannot arm external source for readiness, falling back to opportunistic reads",
			"err", err,
		)
		e.state = ExternalIdle
		return
	}
	e.state = ExternalArmed
}

// submit pushes one payload through the injector.  A kernel rejection
// is reported and treated as zero bytes written; the next low-entropy
// signal retries naturally.
func (e *Engine) submit(payload []byte, bits uint32, source string) {
	written, err := e.pool.Inject(payload, bits)
	if err != nil {
		e.Logger.Error("error injecting entropy",
			"err", err,
			"source", source,
		)
		injectErrors.WithLabelValues(source).Inc()
		return
	}

	injectedBytes.WithLabelValues(source).Add(float64(written))
	creditedBits.WithLabelValues(source).Add(float64(bits))

	e.Logger.Debug("fed kernel pool",
		"source", source,
		"bytes", written,
		"bits", bits,
	)
}
