package proxy

import (
	"phishbait/internal/httpscan"

	"golang.org/x/sys/unix"
)

// ioOutcome classifies the result of a single non-blocking read or write
// attempt. Using an explicit enum here (rather than overloading a byte
// count the way the reference implementation does) keeps the "did this
// fully succeed, partially succeed, or fail" branching in the handlers
// below honest instead of relying on sentinel return values.
type ioOutcome int

const (
	ioDone ioOutcome = iota
	ioBlocked
	ioClosed
	ioFailed
)

// performRead issues one read(2) into w.buffer. On failure or EOF it
// performs the appropriate teardown itself (free_set for the client's
// very first read, free_pair otherwise) before returning, matching the
// reference implementation's disposition table exactly.
func (w *Watcher) performRead() (n int, outcome ioOutcome) {
	got, err := unix.Read(w.fd, w.buffer)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			w.session.d.logger.WithField("role", w.role.String()).
				Error("invariant violation: EAGAIN on a readiness-driven read")
			return 0, ioBlocked
		}
		isBackend := w.role == roleReadBackend
		if isBackend || (err != unix.ECONNRESET && err != unix.EPIPE) {
			w.session.d.logger.WithError(err).
				WithField("side", sideName(isBackend)).
				Warn("read failed")
		}
		w.teardownOnFailedOrClosedRead()
		return 0, ioFailed
	}
	if got == 0 {
		w.teardownOnFailedOrClosedRead()
		return 0, ioClosed
	}
	return got, ioDone
}

func (w *Watcher) teardownOnFailedOrClosedRead() {
	if w.role == roleReadClient && w.isFirstTime {
		teardownSession(w)
	} else {
		teardownStream(w)
	}
}

// immediateWriteAfterRead forwards the n bytes just read into w.buffer to
// w.paired's fd without waiting for a writability notification — the
// common case where the kernel send buffer has room. Partial or blocked
// writes hand off to the paired writer watcher instead of retrying here.
func (w *Watcher) immediateWriteAfterRead(n int) ioOutcome {
	written, err := unix.Write(w.paired.fd, w.buffer[:n])
	if err == nil && written == n {
		return ioDone
	}
	if (err == nil && written < n) || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		if written < 0 {
			written = 0
		}
		w.paired.pending = w.buffer[written:n]
		w.session.d.loop.StopRead(w.fd)
		w.session.d.loop.StartWrite(w.paired.fd, w.paired.onWritable)
		return ioBlocked
	}

	isWriteToBackend := w.paired.role == roleWriteBackend
	if err == unix.EPIPE || err == unix.ECONNRESET {
		w.session.d.logger.WithField("side", sideName(isWriteToBackend)).
			Warn("write failed: broken connection")
	} else if err != unix.EPROTOTYPE {
		w.session.d.logger.WithError(err).Warn("write failed")
	}
	teardownStream(w)
	return ioFailed
}

// onReadable is the callback for read_from_client and read_from_backend.
func (w *Watcher) onReadable() {
	n, outcome := w.performRead()
	if outcome != ioDone {
		return
	}

	if w.role == roleReadClient && w.isFirstTime {
		w.isFirstTime = false
		var overflowed bool
		n, overflowed = w.maybeRewrite(n)
		if overflowed {
			return
		}
	}

	switch w.immediateWriteAfterRead(n) {
	case ioFailed, ioBlocked:
		return
	case ioDone:
		if w.paired.isFirstTime {
			w.paired.isFirstTime = false
			if w.customPairData != nil && *w.customPairData {
				teardownStream(w)
			}
		}
	}
}

// onWritable is the callback for write_to_backend and write_to_client. It
// only ever runs once a prior read's immediate write blocked, so it
// starts by draining w.pending; once that's fully flushed it opportunistically
// reads more from its paired reader's fd rather than waiting for another
// readiness notification, continuing the relay without a round trip
// through the reactor.
func (w *Watcher) onWritable() {
	written, err := unix.Write(w.fd, w.pending)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			w.session.d.logger.WithField("role", w.role.String()).
				Error("invariant violation: EAGAIN on a readiness-driven write")
			return
		}
		w.failWrite(err)
		return
	}
	if written < len(w.pending) {
		w.pending = w.pending[written:]
		return
	}
	w.pending = nil

	wasFirstTime := w.isFirstTime
	w.isFirstTime = false
	if w.role == roleWriteBackend && wasFirstTime && w.customPairData != nil && *w.customPairData {
		teardownStream(w)
		return
	}

	n, err := unix.Read(w.paired.fd, w.buffer)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			w.session.d.loop.StopWrite(w.fd)
			w.session.d.loop.StartRead(w.paired.fd, w.paired.onReadable)
			return
		}
		w.session.d.logger.WithError(err).Warn("read failed")
		teardownStream(w)
		return
	}
	if n == 0 {
		teardownStream(w)
		return
	}
	if w.paired.isFirstTime {
		w.paired.isFirstTime = false
	}
	w.pending = w.buffer[:n]
}

func (w *Watcher) failWrite(err error) {
	isBackend := w.role == roleWriteBackend
	if err == unix.EPIPE || err == unix.ECONNRESET {
		w.session.d.logger.WithField("side", sideName(isBackend)).
			Warn("write failed: broken connection")
	} else if err != unix.EPROTOTYPE {
		w.session.d.logger.WithError(err).Warn("write failed")
	}
	if w.role == roleWriteBackend && w.isFirstTime {
		teardownSession(w)
	} else {
		teardownStream(w)
	}
}

// maybeRewrite inspects the client's first chunk and, if it names a
// blacklisted referer, replaces the buffer contents in place with the
// synthetic phishing-notice request. It returns the (possibly rewritten)
// length to forward and overflowed=true if the rewrite didn't fit, in
// which case the whole session has already been torn down.
func (w *Watcher) maybeRewrite(n int) (newN int, overflowed bool) {
	res := httpscan.Parse(w.buffer[:n])
	if !res.Matched || len(res.Referer) == 0 {
		return n, false
	}
	if !w.session.d.oracle.IsBlacklisted(res.Referer) {
		return n, false
	}

	rewritten, ok := formatRewrite(res.Extension, res.Host)
	if !ok {
		w.session.d.metrics.RewriteOverflows.Inc()
		teardownSession(w)
		return 0, true
	}

	copy(w.buffer, rewritten)
	*w.customPairData = true
	w.session.d.metrics.Rewrites.Inc()
	return len(rewritten), false
}
