// Package resolver resolves a backend host:port into an ordered list of
// candidate endpoints and hands out non-blocking sockets for them, the
// same role getaddrinfo() plus a socket-per-candidate loop play in the
// reference implementation. It also builds the proxy's own listen socket.
package resolver

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Candidate is one resolved backend endpoint.
type Candidate struct {
	IP     net.IP
	Port   int
	Family int // unix.AF_INET or unix.AF_INET6
}

// Resolve looks up host and pairs every returned address with port,
// preserving whatever order the resolver returned them in (mirroring
// getaddrinfo's candidate-list order, which the original walks
// unmodified). It resolves once per caller; the proxy resolves the
// backend a single time at startup and replays the same candidate list
// for every accepted connection.
func Resolve(ctx context.Context, host string, port int) ([]Candidate, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolver: lookup %s: %w", host, err)
	}
	candidates := make([]Candidate, 0, len(addrs))
	for _, a := range addrs {
		family := unix.AF_INET
		ip4 := a.IP.To4()
		if ip4 == nil {
			family = unix.AF_INET6
		} else {
			a.IP = ip4
		}
		candidates = append(candidates, Candidate{IP: a.IP, Port: port, Family: family})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("resolver: %s resolved to no addresses", host)
	}
	return candidates, nil
}

func sockaddr(c Candidate) unix.Sockaddr {
	if c.Family == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: c.Port}
		copy(sa.Addr[:], c.IP.To16())
		return sa
	}
	sa := &unix.SockaddrInet4{Port: c.Port}
	copy(sa.Addr[:], c.IP.To4())
	return sa
}

// IsResourceExhaustion reports whether err is the kind of socket(2)
// failure that indicates the process or system is out of descriptors or
// memory, as opposed to a candidate simply being unreachable in this
// address family. Callers surface these differently from routine
// per-candidate failures, per the error-handling design.
func IsResourceExhaustion(err error) bool {
	switch err {
	case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
		return true
	default:
		return false
	}
}

// NextSocket walks candidates starting at index start, creating a
// non-blocking socket for the first candidate whose socket(2) call
// succeeds. It returns the fd, the matching sockaddr to connect() to, the
// index it stopped at, and ok=false once the list is exhausted. Sockets
// that fail to create are skipped silently, exactly like the reference
// implementation's fallback loop; only the last such error is returned
// (as lastErr, once the list is exhausted) for the caller to classify
// with IsResourceExhaustion.
func NextSocket(candidates []Candidate, start int) (fd int, addr unix.Sockaddr, index int, ok bool, lastErr error) {
	for i := start; i < len(candidates); i++ {
		c := candidates[i]
		f, err := unix.Socket(c.Family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			lastErr = err
			continue
		}
		return f, sockaddr(c), i, true, nil
	}
	return -1, nil, len(candidates), false, lastErr
}

// CreateListenSocket builds the proxy's own IPv4 listen socket bound to
// 0.0.0.0:port with the given backlog, non-blocking and SO_REUSEADDR so a
// restarted process can rebind immediately.
func CreateListenSocket(port, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("resolver: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("resolver: setsockopt SO_REUSEADDR: %w", err)
	}
	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("resolver: bind 0.0.0.0:%d: %w", port, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("resolver: listen backlog=%d: %w", backlog, err)
	}
	return fd, nil
}

// ParsePort converts a CLI-supplied port string to an int, same as the
// original's atoi-based parsing but with an actual error instead of a
// silent zero on malformed input.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("resolver: invalid port %q: %w", s, err)
	}
	return p, nil
}
