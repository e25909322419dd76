package proxy

// Watcher is one of a session's four directional watchers. paired points
// at the other watcher that shares this watcher's buffer (the opposite
// operation on the same byte stream); alternate points at the watcher
// playing the same role on the other stream. paired is also the fd the
// relay writes to after a read (and reads from after a write); together
// the two links let teardown reach every watcher in a session from any
// one of them — see teardownStream and teardownSession.
type Watcher struct {
	fd      int
	role    role
	session *Session

	paired    *Watcher
	alternate *Watcher

	buffer      []byte
	pending     []byte // unsent suffix, writer-only; nil when idle
	isFirstTime bool

	// pairsFinished is shared by all four watchers in a session; it
	// reaches 2 exactly when both streams have torn down, which is the
	// only signal either stream has for when it's safe to close the fds
	// (closing a fd a sibling watcher is still reading from would be a
	// use-after-close on the same socket).
	pairsFinished *int

	// customPairData is shared by the client-side pair (read_from_client,
	// write_to_backend) and nil for the backend-side pair. Set to true
	// when a rewrite fires, so the write side knows its completed
	// transfer is the rewritten request's one-shot delivery and not an
	// ordinary relayed chunk.
	customPairData *bool
}

// Session is the per-client unit: one accepted client fd, one connected
// backend fd, and the four watchers relaying bytes between them.
type Session struct {
	d *deps

	clientFD  int
	backendFD int

	watchers [4]*Watcher
}

func newSession(d *deps, clientFD, backendFD int) *Session {
	sess := &Session{d: d, clientFD: clientFD, backendFD: backendFD}

	pairsFinished := new(int)
	custom := new(bool)
	clientBuf := make([]byte, ReadBufferSize)
	backendBuf := make([]byte, ReadBufferSize)

	rfc := &Watcher{fd: clientFD, role: roleReadClient, session: sess, buffer: clientBuf, isFirstTime: true, pairsFinished: pairsFinished, customPairData: custom}
	wtb := &Watcher{fd: backendFD, role: roleWriteBackend, session: sess, buffer: clientBuf, isFirstTime: true, pairsFinished: pairsFinished, customPairData: custom}
	rfb := &Watcher{fd: backendFD, role: roleReadBackend, session: sess, buffer: backendBuf, isFirstTime: true, pairsFinished: pairsFinished}
	wtc := &Watcher{fd: clientFD, role: roleWriteClient, session: sess, buffer: backendBuf, isFirstTime: true, pairsFinished: pairsFinished}

	rfc.paired, rfc.alternate = wtb, rfb
	wtb.paired, wtb.alternate = rfc, wtc
	rfb.paired, rfb.alternate = wtc, rfc
	wtc.paired, wtc.alternate = rfb, wtb

	sess.watchers = [4]*Watcher{rfc, wtb, rfb, wtc}
	return sess
}

// start arms the two reader watchers; the two writer watchers stay
// dormant until a read blocks its immediate write, per the relay state
// machine's invariant that at most one watcher per stream is ever
// registered with the loop.
func (s *Session) start() {
	rfc, _, rfb, _ := s.watchers[0], s.watchers[1], s.watchers[2], s.watchers[3]
	s.d.loop.StartRead(rfc.fd, rfc.onReadable)
	s.d.loop.StartRead(rfb.fd, rfb.onReadable)
}
