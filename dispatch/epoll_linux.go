package dispatch

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/entropylabs/entropyd/common/logging"
)

const maxEpollEvents = 16

// epollDispatcher is the production Dispatcher, backed by a
// level-triggered epoll instance.  An eventfd is part of the interest
// set so that Close and context cancellation can interrupt a blocked
// EpollWait.
type epollDispatcher struct {
	sync.Mutex

	epfd   int
	wakeFd int

	callbacks map[int]Callback
	closed    bool

	logger *logging.Logger
}

// New creates a Dispatcher backed by epoll.
func New() (Dispatcher, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("dispatch: epoll_create1: %w", err)
	}

	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("dispatch: eventfd: %w", err)
	}

	ev := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakeFd),
	}
	if err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFd, &ev); err != nil {
		_ = unix.Close(wakeFd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("dispatch: epoll_ctl (wake): %w", err)
	}

	return &epollDispatcher{
		epfd:      epfd,
		wakeFd:    wakeFd,
		callbacks: make(map[int]Callback),
		logger:    logging.GetLogger("dispatch"),
	}, nil
}

func (d *epollDispatcher) Register(fd int, events Event, cb Callback) error {
	d.Lock()
	defer d.Unlock()

	if d.closed {
		return ErrClosed
	}
	if _, ok := d.callbacks[fd]; ok {
		return fmt.Errorf("dispatch: descriptor %d already registered", fd)
	}

	var epEvents uint32
	if events&Readable != 0 {
		epEvents |= unix.EPOLLIN
	}
	if events&Writable != 0 {
		epEvents |= unix.EPOLLOUT
	}

	ev := unix.EpollEvent{
		Events: epEvents,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		// Regular files and some device nodes refuse epoll with
		// EPERM; surface the errno so callers can degrade.
		return fmt.Errorf("dispatch: epoll_ctl (add): %w", err)
	}

	d.callbacks[fd] = cb

	return nil
}

func (d *epollDispatcher) Unregister(fd int) error {
	d.Lock()
	defer d.Unlock()

	if _, ok := d.callbacks[fd]; !ok {
		return ErrNotRegistered
	}

	if err := unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("dispatch: epoll_ctl (del): %w", err)
	}
	delete(d.callbacks, fd)

	return nil
}

func (d *epollDispatcher) Run(ctx context.Context) error {
	defer d.wake()

	stopWatcher := make(chan struct{})
	defer close(stopWatcher)
	go func() {
		select {
		case <-ctx.Done():
			d.wake()
		case <-stopWatcher:
		}
	}()

	var events [maxEpollEvents]unix.EpollEvent
	for {
		n, err := unix.EpollWait(d.epfd, events[:], -1)
		switch err {
		case nil:
		case unix.EINTR:
			continue
		default:
			d.Lock()
			closed := d.closed
			d.Unlock()
			if closed {
				// Close tore down the epoll descriptor under us.
				return ErrClosed
			}
			return fmt.Errorf("dispatch: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == d.wakeFd {
				d.drainWake()
				if err = ctx.Err(); err != nil {
					return err
				}
				d.Lock()
				closed := d.closed
				d.Unlock()
				if closed {
					return ErrClosed
				}
				continue
			}

			var ev Event
			if events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				ev |= Readable
			}
			if events[i].Events&unix.EPOLLOUT != 0 {
				ev |= Writable
			}

			d.Lock()
			cb := d.callbacks[fd]
			d.Unlock()
			if cb == nil {
				// Raced with Unregister, drop the event.
				d.logger.Debug("event for unregistered descriptor",
					"fd", fd,
				)
				continue
			}

			cb(fd, ev)
		}
	}
}

func (d *epollDispatcher) Close() error {
	d.Lock()
	if d.closed {
		d.Unlock()
		return nil
	}
	d.closed = true
	d.Unlock()

	d.wake()

	// The loop goroutine, if any, observes closed and returns; the
	// descriptors are safe to close as nothing else touches them.
	var err error
	if cerr := unix.Close(d.wakeFd); cerr != nil {
		err = cerr
	}
	if cerr := unix.Close(d.epfd); cerr != nil && err == nil {
		err = cerr
	}

	return err
}

func (d *epollDispatcher) wake() {
	var one [8]byte
	one[7] = 1
	_, _ = unix.Write(d.wakeFd, one[:])
}

func (d *epollDispatcher) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(d.wakeFd, buf[:])
}
