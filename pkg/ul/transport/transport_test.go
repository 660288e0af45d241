package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeReadWrite(t *testing.T) {
	a, b := Pipe(Config{})
	defer a.Close()
	defer b.Close()

	go func() {
		_, _ = a.Write([]byte("hello"))
	}()

	buf := make([]byte, 5)
	_, err := io.ReadFull(b, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestReadTimeoutCondition(t *testing.T) {
	a, b := Pipe(Config{ReadTimeout: 20 * time.Millisecond})
	defer a.Close()
	defer b.Close()

	_, err := b.Read(make([]byte, 1))
	assert.True(t, errors.Is(err, cond.ReadTimeout), "got %v", err)
}

func TestReadAfterPeerClose(t *testing.T) {
	a, b := Pipe(Config{})
	require.NoError(t, a.Close())

	_, err := b.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	_ = b.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	a, b := Pipe(Config{})
	defer b.Close()

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := a.Write([]byte{1})
	assert.True(t, errors.Is(err, cond.TransportClosed), "got %v", err)
}

func TestInterruptUnblocksRead(t *testing.T) {
	a, b := Pipe(Config{})
	defer a.Close()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := b.Read(make([]byte, 1))
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Interrupt()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read was not interrupted")
	}
}

func TestDialTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	c, err := Dial(context.Background(), ln.Addr().String(), DefaultConfig())
	require.NoError(t, err)
	defer c.Close()

	peer := <-accepted
	defer peer.Close()
	assert.Equal(t, peer.LocalAddr().String(), c.RemoteAddr())

	_, err = Dial(context.Background(), "127.0.0.1:1", Config{ConnectTimeout: time.Second})
	assert.True(t, errors.Is(err, cond.TransportFailed), "got %v", err)
}
