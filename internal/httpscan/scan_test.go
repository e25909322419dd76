package httpscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestLineAndHeaders(t *testing.T) {
	req := "GET /images/cat.png HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Referer: http://evil.example/a\r\n" +
		"User-Agent: curl/8.0\r\n\r\n"

	res := Parse([]byte(req))
	require.True(t, res.Matched)
	assert.Equal(t, "/images/cat.png", string(res.RequestURI))
	assert.Equal(t, "example.com", string(res.Host))
	assert.Equal(t, "http://evil.example/a", string(res.Referer))
	assert.Equal(t, "png", string(res.Extension))
}

func TestParseStopsAfterBothFieldsFound(t *testing.T) {
	req := "GET / HTTP/1.1\r\n" +
		"Referer: http://a\r\n" +
		"Host: b\r\n" +
		"Referer: nope\r\n\r\n"

	res := Parse([]byte(req))
	require.True(t, res.Matched)
	assert.Equal(t, "http://a", string(res.Referer))
	assert.Equal(t, "b", string(res.Host))
}

func TestParseMissingHeadersStillMatchesRequestLine(t *testing.T) {
	res := Parse([]byte("GET /x HTTP/1.0\r\n\r\n"))
	require.True(t, res.Matched)
	assert.Empty(t, res.Referer)
	assert.Empty(t, res.Host)
}

func TestParseRejectsNonGET(t *testing.T) {
	res := Parse([]byte("POST / HTTP/1.1\r\n\r\n"))
	assert.False(t, res.Matched)
}

func TestParseRejectsMissingRequestURI(t *testing.T) {
	res := Parse([]byte("GET  HTTP/1.1\r\n\r\n"))
	assert.False(t, res.Matched)
}

func TestParseRejectsMalformedVersion(t *testing.T) {
	res := Parse([]byte("GET / HTTP/1\r\n\r\n"))
	assert.False(t, res.Matched)
}

func TestParseHeaderNameMatchingIsCaseSensitive(t *testing.T) {
	res := Parse([]byte("GET / HTTP/1.1\r\nreferer: http://a\r\n\r\n"))
	require.True(t, res.Matched)
	assert.Empty(t, res.Referer)
}

func TestParseTruncatedBufferStopsCleanly(t *testing.T) {
	res := Parse([]byte("GET /a HTTP/1.1\r\nHos"))
	require.True(t, res.Matched)
	assert.Empty(t, res.Host)
	assert.Empty(t, res.Referer)
}

func TestParseExtractsHeaderValueRunningToEndOfBuffer(t *testing.T) {
	res := Parse([]byte("GET /a HTTP/1.1\r\nHost: exam"))
	require.True(t, res.Matched)
	assert.Equal(t, "exam", string(res.Host))
}

func TestExtractExtension(t *testing.T) {
	cases := []struct {
		uri  string
		want string
	}{
		{"/a/b.png", "png"},
		{"/a/b", ""},
		{"/a/b.", ""},
		{"/a.b/c", "b"},
		{"/a.tar.gz", "gz"},
	}
	for _, c := range cases {
		got := extractExtension([]byte(c.uri))
		assert.Equal(t, c.want, string(got), "uri=%q", c.uri)
	}
}
