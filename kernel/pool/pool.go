// Package pool implements the privileged injector for the kernel
// random pool.
//
// Entropy is submitted through the RNDADDENTROPY ioctl on /dev/random,
// using the kernel's fixed-layout rand_pool_info structure.  The
// injector owns a single preallocated request buffer for the daemon's
// lifetime; the payload bytes and both count fields are wiped after
// every submission, whether the kernel accepted it or not.
package pool

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/entropylabs/entropyd/common/logging"
	"github.com/entropylabs/entropyd/common/memwipe"
	"github.com/entropylabs/entropyd/entropy/api"
)

// DevRandom is the well-known path of the kernel random pool device.
const DevRandom = "/dev/random"

// maxPayload bounds a single injection; the external source read cap is
// the largest payload any caller submits.
const maxPayload = api.ExternalReadCap

var (
	// ErrCreditTooLarge is the error returned when the entropy credit
	// exceeds 8 bits per payload byte.
	ErrCreditTooLarge = errors.New("pool: entropy credit exceeds payload size")

	// ErrPayloadSize is the error returned for empty or oversized
	// payloads.
	ErrPayloadSize = errors.New("pool: invalid payload size")

	// ErrClosed is the error returned when injecting through a closed
	// pool handle.
	ErrClosed = errors.New("pool: handle closed")
)

// randPoolInfo mirrors struct rand_pool_info from <linux/random.h>:
// two native ints followed by the entropy bytes.  The layout is
// bit-exact and must not change.
type randPoolInfo struct {
	entropyCount int32
	bufSize      int32
	buf          [maxPayload]byte
}

// ioctlFunc issues the privileged control call.  It is a field so the
// tests can substitute a recording fake for the real syscall.
type ioctlFunc func(fd int, req uint, arg unsafe.Pointer) error

// Pool is the exclusively-owned handle to the kernel random pool
// device, held write-only for the daemon's lifetime.
type Pool struct {
	fd  int
	rpi *randPoolInfo

	ioctl  ioctlFunc
	logger *logging.Logger
}

// Open opens the random pool device at path, write-only.
func Open(path string) (*Pool, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("pool: open %s: %w", path, err)
	}

	return &Pool{
		fd:     fd,
		rpi:    new(randPoolInfo),
		ioctl:  rawIoctl,
		logger: logging.GetLogger("kernel/pool"),
	}, nil
}

// Fd returns the pool descriptor, for arming the "pool accepting
// entropy" readiness notification.
func (p *Pool) Fd() int {
	return p.fd
}

// Inject submits payload to the kernel pool with the given entropy
// credit in bits and returns the number of bytes the kernel accepted.
// The request honors the bits <= 8*len(payload) invariant; the request
// buffer is wiped before returning on every path.
func (p *Pool) Inject(payload []byte, bits uint32) (int, error) {
	if p.rpi == nil {
		return 0, ErrClosed
	}
	if len(payload) == 0 || len(payload) > maxPayload {
		return 0, ErrPayloadSize
	}
	if bits > uint32(8*len(payload)) {
		return 0, ErrCreditTooLarge
	}

	rpi := p.rpi
	rpi.entropyCount = int32(bits)
	rpi.bufSize = int32(len(payload))
	copy(rpi.buf[:], payload)
	defer p.scrub(len(payload))

	if err := p.ioctl(p.fd, unix.RNDADDENTROPY, unsafe.Pointer(rpi)); err != nil {
		return 0, fmt.Errorf("pool: RNDADDENTROPY: %w", err)
	}

	p.logger.Debug("injected entropy",
		"bytes", len(payload),
		"bits", bits,
	)

	return len(payload), nil
}

// scrub wipes the request structure after a submission.
func (p *Pool) scrub(n int) {
	p.rpi.entropyCount = 0
	p.rpi.bufSize = 0
	memwipe.Wipe(p.rpi.buf[:n])
}

// Close wipes the request buffer and closes the device.
func (p *Pool) Close() error {
	if p.rpi != nil {
		p.scrub(maxPayload)
		p.rpi = nil
	}

	if p.fd >= 0 {
		if err := unix.Close(p.fd); err != nil {
			p.fd = -1
			return fmt.Errorf("pool: close: %w", err)
		}
		p.fd = -1
	}

	return nil
}

func rawIoctl(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
