// Package blacklist defines the referer-blacklist oracle the proxy
// consults before rewriting a request, and a placeholder implementation
// matching the original's stub.
package blacklist

// Oracle decides whether a referer should trigger a rewrite. Caching, if
// any, is the implementer's responsibility — it is not handled here.
type Oracle interface {
	IsBlacklisted(referer []byte) bool
}

// Stub is the default Oracle. Its body is carried over unchanged from the
// reference implementation, which never wired up a real blacklist source
// (odd-length referers "blacklisted"); it exists so the rest of the
// pipeline has something to call, not as a real classifier. Replace it
// with a real Oracle before depending on its output.
type Stub struct{}

func (Stub) IsBlacklisted(referer []byte) bool {
	return len(referer)%2 == 1
}
