// Package extfile implements the optional external entropy source: a
// readable descriptor (device node or named pipe) supplied by the
// operator, trusted at the full 8 bits of entropy per byte.
package extfile

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/entropylabs/entropyd/entropy/api"
)

// ErrClosed is the error returned when reading from a closed source.
var ErrClosed = errors.New("extfile: source closed")

var _ api.ReadinessSource = (*Source)(nil)

// Source is an external entropy source file opened read-only and
// non-blocking.
type Source struct {
	fd   int
	path string
}

// Open opens the external source at path.  The descriptor is opened
// non-blocking so that a pull can never stall the dispatch loop.
func Open(path string) (*Source, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("extfile: open %s: %w", path, err)
	}

	return &Source{
		fd:   fd,
		path: path,
	}, nil
}

// Name returns the source name.
func (s *Source) Name() string {
	return "external"
}

// Path returns the configured source path.
func (s *Source) Path() string {
	return s.path
}

// Fd returns the descriptor to arm for readiness notification.
func (s *Source) Fd() int {
	return s.fd
}

// Fill performs a single non-blocking read of up to ExternalReadCap
// bytes.  Zero is a valid outcome meaning "no data right now"; a read
// error other than EAGAIN is returned but is not fatal to the caller.
func (s *Source) Fill(buf []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}

	if len(buf) > api.ExternalReadCap {
		buf = buf[:api.ExternalReadCap]
	}

	for {
		n, err := unix.Read(s.fd, buf)
		switch err {
		case nil:
			if n < 0 {
				n = 0
			}
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, nil
		default:
			return 0, fmt.Errorf("extfile: read %s: %w", s.path, err)
		}
	}
}

// Close closes the underlying descriptor.
func (s *Source) Close() error {
	if s.fd < 0 {
		return nil
	}

	err := unix.Close(s.fd)
	s.fd = -1
	if err != nil {
		return fmt.Errorf("extfile: close %s: %w", s.path, err)
	}

	return nil
}
