package proxy

import (
	"golang.org/x/sys/unix"

	"phishbait/internal/metrics"
)

// stopWatcher disarms w's own readiness registration. It never touches
// w.paired: invariant 1 guarantees at most one watcher per stream is
// registered at any instant, so the dormant member of the pair has
// nothing to disarm.
func stopWatcher(w *Watcher) {
	if w.role.isWriter() {
		w.session.d.loop.StopWrite(w.fd)
	} else {
		w.session.d.loop.StopRead(w.fd)
	}
}

// teardownStream ends the stream w belongs to: stops w, and once both of
// a session's streams have reported in, closes both fds and forgets them
// with the reactor. Exactly one watcher per stream must ever call this —
// the one that was active when the stream's last read or write failed.
func teardownStream(w *Watcher) {
	stopWatcher(w)
	*w.pairsFinished++
	if *w.pairsFinished == 2 {
		unix.Close(w.session.clientFD)
		unix.Close(w.session.backendFD)
		w.session.d.loop.Forget(w.session.clientFD)
		w.session.d.loop.Forget(w.session.backendFD)
	}
	w.session.d.metrics.TeardownsTotal.WithLabelValues(string(metrics.TeardownStream)).Inc()
}

// teardownSession ends both streams of w's session at once. It is used
// when one stream fails before the other has done anything useful yet
// (the client's very first read, or the client-side pair's very first
// write), so tearing down only the failing stream would leave the other
// one's watcher registered against a session nobody will ever finish.
func teardownSession(w *Watcher) {
	alt := w.alternate
	stopWatcher(alt.paired)
	teardownStream(alt)
	teardownStream(w)
	w.session.d.metrics.TeardownsTotal.WithLabelValues(string(metrics.TeardownSession)).Inc()
}
