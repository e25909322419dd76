package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestResolveLoopback(t *testing.T) {
	candidates, err := Resolve(context.Background(), "localhost", 9999)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for _, c := range candidates {
		assert.Equal(t, 9999, c.Port)
		assert.True(t, c.Family == unix.AF_INET || c.Family == unix.AF_INET6)
	}
}

func TestNextSocketSkipsUnusableCandidates(t *testing.T) {
	candidates := []Candidate{
		{Family: 9999, IP: nil, Port: 80}, // invalid family, socket() will fail
		{Family: unix.AF_INET, IP: []byte{127, 0, 0, 1}, Port: 80},
	}
	fd, addr, idx, ok, err := NextSocket(candidates, 0)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.NotNil(t, addr)
	defer unix.Close(fd)
}

func TestNextSocketExhaustion(t *testing.T) {
	candidates := []Candidate{{Family: 9999, Port: 80}}
	_, _, idx, ok, err := NextSocket(candidates, 0)
	assert.False(t, ok)
	assert.Equal(t, len(candidates), idx)
	assert.Error(t, err)
}

func TestCreateListenSocketBindsIPv4(t *testing.T) {
	fd, err := CreateListenSocket(0, 16)
	require.NoError(t, err)
	defer unix.Close(fd)

	sa, err := unix.Getsockname(fd)
	require.NoError(t, err)
	_, ok := sa.(*unix.SockaddrInet4)
	assert.True(t, ok)
}

func TestParsePort(t *testing.T) {
	p, err := ParsePort("3080")
	require.NoError(t, err)
	assert.Equal(t, 3080, p)

	_, err = ParsePort("not-a-port")
	assert.Error(t, err)
}
