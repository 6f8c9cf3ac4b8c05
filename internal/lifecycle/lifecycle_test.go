package lifecycle

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseCancelsContextAndClosesTrackedListeners(t *testing.T) {
	canceled := false
	sd := New(func() { canceled = true })

	ln1, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sd.Track(ln1)
	sd.Track(ln2)
	sd.Close()

	assert.True(t, canceled)

	_, err = ln1.Accept()
	assert.Error(t, err)
	_, err = ln2.Accept()
	assert.Error(t, err)
}

func TestIsTimeoutTrueForDeadlineExceeded(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	tl := ln.(*net.TCPListener)
	require.NoError(t, tl.SetDeadline(time.Now().Add(-time.Second)))

	_, acceptErr := tl.Accept()
	require.Error(t, acceptErr)
	assert.True(t, IsTimeout(acceptErr))
}

func TestIsTimeoutFalseForOtherErrors(t *testing.T) {
	assert.False(t, IsTimeout(errors.New("boom")))
}
