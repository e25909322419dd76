// Package proxy implements the proxy pair data model and the two state
// machines built on top of it: connection establishment (accept a
// client, connect to a backend candidate) and relay (four watchers
// shuttling bytes in both directions once a backend is connected).
//
// Everything here runs on the single goroutine that drives the
// reactor.Loop passed into NewEngine — there is no locking anywhere in
// this package, by design: the whole point of the readiness-driven model
// is that only one piece of code ever touches a given proxy pair's state
// at a time.
package proxy

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"phishbait/internal/blacklist"
	"phishbait/internal/metrics"
	"phishbait/internal/reactor"
)

// ReadBufferSize is the fixed size of every per-direction read buffer.
// The reference implementation made this a compile-time constant too;
// nothing in the CLI surface exposes it as a runtime knob.
const ReadBufferSize = 4096

const rewriteFallbackExtension = "html"

// formatRewrite builds the synthetic "GET /phishing.<ext> HTTP/1.1"
// request the proxy substitutes for a blacklisted-referer request. It
// returns ok=false if the result would not fit in ReadBufferSize, in
// which case the caller must abandon the rewrite and tear the whole
// session down rather than forward a truncated request.
func formatRewrite(ext, host []byte) (rewritten []byte, ok bool) {
	if len(ext) == 0 {
		ext = []byte(rewriteFallbackExtension)
	}
	var buf bytes.Buffer
	buf.Grow(ReadBufferSize)
	buf.WriteString("GET /phishing.")
	buf.Write(ext)
	buf.WriteString(" HTTP/1.1\r\nHost: ")
	buf.Write(host)
	buf.WriteString("\r\n\r\n")
	if buf.Len() > ReadBufferSize {
		return nil, false
	}
	return buf.Bytes(), true
}

// role identifies which of the four watchers in a session a Watcher is.
type role int

const (
	roleReadClient role = iota
	roleWriteBackend
	roleReadBackend
	roleWriteClient
)

func (r role) String() string {
	switch r {
	case roleReadClient:
		return "read_from_client"
	case roleWriteBackend:
		return "write_to_backend"
	case roleReadBackend:
		return "read_from_backend"
	case roleWriteClient:
		return "write_to_client"
	default:
		return "unknown"
	}
}

func (r role) isWriter() bool {
	return r == roleWriteBackend || r == roleWriteClient
}

func sideName(isBackend bool) string {
	if isBackend {
		return "backend"
	}
	return "client"
}

// deps bundles the collaborators every Watcher needs to do its job,
// shared by reference across an entire Session.
type deps struct {
	loop    *reactor.Loop
	oracle  blacklist.Oracle
	logger  *logrus.Entry
	metrics *metrics.Metrics
}
