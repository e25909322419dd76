package proxy

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"phishbait/internal/blacklist"
	"phishbait/internal/metrics"
	"phishbait/internal/reactor"
	"phishbait/internal/resolver"
)

// Engine owns the listen socket and the resolved backend candidate list,
// and drives both of the proxy's state machines: accept+connect, and
// (once a backend is reachable) the four-watcher relay.
type Engine struct {
	d *deps

	listenFD   int
	candidates []resolver.Candidate
}

// NewEngine wires up an Engine. candidates is resolved once by the
// caller (typically at startup) and replayed from index 0 for every
// accepted connection, mirroring the reference implementation reusing a
// single addrinfo list across connections.
func NewEngine(loop *reactor.Loop, listenFD int, candidates []resolver.Candidate, oracle blacklist.Oracle, logger *logrus.Entry, m *metrics.Metrics) *Engine {
	return &Engine{
		d:          &deps{loop: loop, oracle: oracle, logger: logger, metrics: m},
		listenFD:   listenFD,
		candidates: candidates,
	}
}

// Start arms the listen socket's read readiness, so accepted connections
// begin flowing once the caller starts running the reactor loop.
func (e *Engine) Start() error {
	return e.d.loop.StartRead(e.listenFD, e.onListenReadable)
}

// onListenReadable drains every connection the kernel has queued; epoll
// is level-triggered here, so a single readiness notification can cover
// several pending connections, and we keep accepting until accept fails
// (EAGAIN once the queue is empty; any other error is logged and also
// ends this round).
func (e *Engine) onListenReadable() {
	for {
		clientFD, _, err := unix.Accept4(e.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				e.d.logger.WithError(err).Warn("accept failed")
			}
			return
		}
		e.d.metrics.Accepted.Inc()
		e.beginConnect(clientFD)
	}
}

// connectAttempt tracks one client's walk through the backend candidate
// list while a connect(2) is in flight.
type connectAttempt struct {
	e         *Engine
	clientFD  int
	backendFD int
	cursor    int
}

func (e *Engine) beginConnect(clientFD int) {
	ca := &connectAttempt{e: e, clientFD: clientFD, cursor: -1}
	if !ca.tryNextCandidate() {
		e.d.metrics.BackendConnectFailures.Inc()
		unix.Close(clientFD)
	}
}

// tryNextCandidate advances through the candidate list starting after
// the last one tried, creating a socket and issuing a non-blocking
// connect(2) for the first candidate that accepts both. It returns false
// once the list is exhausted with no candidate yielding a socket.
func (ca *connectAttempt) tryNextCandidate() bool {
	for {
		fd, addr, idx, ok, err := resolver.NextSocket(ca.e.candidates, ca.cursor+1)
		if !ok {
			if err != nil {
				if resolver.IsResourceExhaustion(err) {
					ca.e.d.metrics.BackendSocketFailures.Inc()
				}
				ca.e.d.logger.WithError(err).Warn("backend socket() exhausted candidate list")
			}
			return false
		}
		ca.cursor = idx

		connectErr := unix.Connect(fd, addr)
		if connectErr != nil && connectErr != unix.EINPROGRESS {
			unix.Close(fd)
			continue
		}
		ca.backendFD = fd
		ca.e.d.loop.StartWrite(fd, ca.onBackendWritable)
		return true
	}
}

// onBackendWritable fires once connect(2) has resolved one way or the
// other. getsockopt(SO_ERROR) is the only portable way to learn whether a
// non-blocking connect actually succeeded.
func (ca *connectAttempt) onBackendWritable() {
	ca.e.d.loop.StopWrite(ca.backendFD)

	soErr, err := unix.GetsockoptInt(ca.backendFD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soErr == 0 {
		sess := newSession(ca.e.d, ca.clientFD, ca.backendFD)
		sess.start()
		return
	}

	unix.Close(ca.backendFD)
	if !ca.tryNextCandidate() {
		ca.e.d.metrics.BackendConnectFailures.Inc()
		unix.Close(ca.clientFD)
	}
}
