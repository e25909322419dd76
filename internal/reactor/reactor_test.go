package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestStartReadFiresOnWrite(t *testing.T) {
	a, b := socketpair(t)

	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	readable := make(chan struct{}, 1)
	require.NoError(t, l.StartRead(a, func() { readable <- struct{}{} }))

	_, err = unix.Write(b, []byte("hi"))
	require.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- l.Run(stop) }()

	select {
	case <-readable:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for read readiness")
	}
	close(stop)
	require.NoError(t, <-done)
}

func TestStopReadSuppressesCallback(t *testing.T) {
	a, b := socketpair(t)

	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	fired := make(chan struct{}, 1)
	require.NoError(t, l.StartRead(a, func() { fired <- struct{}{} }))
	require.NoError(t, l.StopRead(a))

	_, err = unix.Write(b, []byte("hi"))
	require.NoError(t, err)

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- l.Run(stop) }()

	select {
	case <-fired:
		t.Fatal("callback fired after StopRead")
	case <-time.After(300 * time.Millisecond):
	}
	close(stop)
	require.NoError(t, <-done)
}

func TestWriteReadinessFiresImmediatelyOnFreshSocket(t *testing.T) {
	a, _ := socketpair(t)

	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	writable := make(chan struct{}, 1)
	require.NoError(t, l.StartWrite(a, func() { writable <- struct{}{} }))

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- l.Run(stop) }()

	select {
	case <-writable:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for write readiness")
	}
	close(stop)
	require.NoError(t, <-done)
}
