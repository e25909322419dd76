// Package reactor implements the single-threaded, readiness-driven event
// loop that the proxy's connection state machines run on top of. It plays
// the same role epoll-backed libev does in the original implementation:
// callers register interest in read/write readiness on a file descriptor,
// and the loop dispatches to the registered callback when the kernel says
// the fd is ready.
package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ReadyFunc is invoked when a registered fd becomes ready for the
// direction it was registered under. It must not block.
type ReadyFunc func()

type fdInterest struct {
	fd         int
	mask       uint32
	registered bool
	onRead     ReadyFunc
	onWrite    ReadyFunc
}

// Loop is a single epoll instance. It is not safe for concurrent use from
// more than one goroutine: the proxy's state machines assume everything
// runs on the goroutine that calls Run, mirroring the original's
// single-threaded event loop.
type Loop struct {
	epfd      int
	interests map[int]*fdInterest
	events    []unix.EpollEvent
}

// New creates an epoll instance. Callers must call Close when done.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Loop{
		epfd:      epfd,
		interests: make(map[int]*fdInterest),
		events:    make([]unix.EpollEvent, 256),
	}, nil
}

// Close releases the underlying epoll fd. It does not close any fds that
// were registered with the loop.
func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}

func (l *Loop) interest(fd int) *fdInterest {
	in, ok := l.interests[fd]
	if !ok {
		in = &fdInterest{fd: fd}
		l.interests[fd] = in
	}
	return in
}

func (l *Loop) apply(in *fdInterest) error {
	if in.mask == 0 {
		delete(l.interests, in.fd)
		if !in.registered {
			return nil
		}
		return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, in.fd, nil)
	}
	ev := unix.EpollEvent{Events: in.mask, Fd: int32(in.fd)}
	op := unix.EPOLL_CTL_MOD
	if !in.registered {
		op = unix.EPOLL_CTL_ADD
		in.registered = true
	}
	return unix.EpollCtl(l.epfd, op, in.fd, &ev)
}

// StartRead arms read readiness notifications for fd, invoking cb on
// every EPOLLIN (and EPOLLHUP/EPOLLERR, which also demand a read to
// discover the failure) event until StopRead is called.
func (l *Loop) StartRead(fd int, cb ReadyFunc) error {
	in := l.interest(fd)
	in.onRead = cb
	in.mask |= unix.EPOLLIN
	return l.apply(in)
}

// StopRead disarms read readiness notifications for fd. It is a no-op if
// fd has no active read registration.
func (l *Loop) StopRead(fd int) error {
	in, ok := l.interests[fd]
	if !ok {
		return nil
	}
	in.onRead = nil
	in.mask &^= unix.EPOLLIN
	return l.apply(in)
}

// StartWrite arms write readiness notifications for fd.
func (l *Loop) StartWrite(fd int, cb ReadyFunc) error {
	in := l.interest(fd)
	in.onWrite = cb
	in.mask |= unix.EPOLLOUT
	return l.apply(in)
}

// StopWrite disarms write readiness notifications for fd.
func (l *Loop) StopWrite(fd int) error {
	in, ok := l.interests[fd]
	if !ok {
		return nil
	}
	in.onWrite = nil
	in.mask &^= unix.EPOLLOUT
	return l.apply(in)
}

// Forget drops all bookkeeping for fd without touching epoll. Callers use
// this after closing an fd, since close(2) already removes it from any
// epoll sets it belonged to; calling epoll_ctl(DEL) on an fd that has
// since been closed (and possibly reused by the kernel for an unrelated
// fd) would operate on the wrong descriptor.
func (l *Loop) Forget(fd int) {
	delete(l.interests, fd)
}

// Run drives the loop until stop is closed or epoll_wait returns a
// non-retryable error. It blocks the calling goroutine; callers that need
// graceful shutdown should close(stop) from a signal handler.
func (l *Loop) Run(stop <-chan struct{}) error {
	const pollTimeoutMillis = 250
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		n, err := unix.EpollWait(l.epfd, l.events, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			ev := l.events[i]
			fd := int(ev.Fd)

			// A handler invoked below may close fd and another callback in
			// this same batch may cause the kernel to hand that fd number
			// back out to a brand new registration before we get to the
			// write half of this event. Re-look the interest up between
			// the read and write dispatch so a reused fd doesn't run a
			// stale callback.
			if in, ok := l.interests[fd]; ok && in.onRead != nil &&
				ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
				in.onRead()
			}
			if in, ok := l.interests[fd]; ok && in.onWrite != nil &&
				ev.Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
				in.onWrite()
			}
		}
	}
}
