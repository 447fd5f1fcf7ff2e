package endpoint

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"

	"firestige.xyz/l2vpn/internal/core"
	"firestige.xyz/l2vpn/internal/wire"
)

var testInfo = wire.Info{
	MAC: wire.MAC{0x02, 0x4c, 0x32, 0x0a, 0x0b, 0x0c},
	IP:  netip.MustParseAddr("10.0.0.7"),
}

// fakeSwitch accepts one connection and hands it to serve.
func fakeSwitch(t *testing.T, serve func(net.Conn)) (string, int) {
	t.Helper()
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serve(conn)
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestConnectReceivesIdentity(t *testing.T) {
	peerConn := make(chan net.Conn, 1)
	host, port := fakeSwitch(t, func(conn net.Conn) {
		conn.Write(testInfo.Encode())
		peerConn <- conn
	})

	e, err := Connect(context.Background(), host, port)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, testInfo.MAC, e.MAC())
	assert.Equal(t, testInfo.IP, e.IP())
	assert.Equal(t, testInfo, e.Info())

	server := <-peerConn
	defer server.Close()

	// device -> switch
	out := wire.Frame{Dst: wire.Broadcast, Src: e.MAC(), Type: wire.EtherTypeARP, Payload: []byte("arp?")}.Encode()
	require.NoError(t, e.Send(out))
	buf := make([]byte, len(out))
	require.NoError(t, server.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, out, buf)

	// switch -> device
	assert.False(t, e.PollReadable())
	in := wire.Frame{Dst: e.MAC(), Src: wire.MAC{2, 1, 1, 1, 1, 1}, Type: wire.EtherTypeIPv4, Payload: []byte("hi")}.Encode()
	_, err = server.Write(in)
	require.NoError(t, err)

	require.Eventually(t, e.PollReadable, 5*time.Second, 5*time.Millisecond)
	got, err := e.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.False(t, e.PollReadable())
	assert.NoError(t, e.Err())
}

func TestReceiveReportsPeerClose(t *testing.T) {
	host, port := fakeSwitch(t, func(conn net.Conn) {
		conn.Write(testInfo.Encode())
		conn.Close()
	})

	e, err := Connect(context.Background(), host, port)
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = e.Receive(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, e.PollReadable())

	_, open := <-e.Frames()
	assert.False(t, open)
}

func TestReceiveHonorsContext(t *testing.T) {
	host, port := fakeSwitch(t, func(conn net.Conn) {
		conn.Write(testInfo.Encode())
		time.Sleep(time.Second)
		conn.Close()
	})

	e, err := Connect(context.Background(), host, port)
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = e.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseEndsStream(t *testing.T) {
	host, port := fakeSwitch(t, func(conn net.Conn) {
		conn.Write(testInfo.Encode())
		time.Sleep(time.Second)
		conn.Close()
	})

	e, err := Connect(context.Background(), host, port)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = e.Receive(ctx)
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestHandshakeTimeout(t *testing.T) {
	host, port := fakeSwitch(t, func(conn net.Conn) {
		time.Sleep(time.Second)
		conn.Close()
	})

	start := time.Now()
	_, err := Connect(context.Background(), host, port, WithHandshakeTimeout(50*time.Millisecond))
	assert.ErrorIs(t, err, core.ErrHandshake)
	assert.Less(t, time.Since(start), time.Second)
}

func TestHandshakeShortInfo(t *testing.T) {
	host, port := fakeSwitch(t, func(conn net.Conn) {
		conn.Write(testInfo.Encode()[:4])
		conn.Close()
	})

	_, err := Connect(context.Background(), host, port)
	assert.ErrorIs(t, err, core.ErrHandshake)
}

func TestHandshakeRejectedWithoutInfo(t *testing.T) {
	host, port := fakeSwitch(t, func(conn net.Conn) {
		conn.Close()
	})

	_, err := Connect(context.Background(), host, port)
	assert.True(t, errors.Is(err, core.ErrHandshake))
}

func TestConnectRefused(t *testing.T) {
	ln, err := nettest.NewLocalListener("tcp")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	_, err = Connect(context.Background(), addr.IP.String(), addr.Port)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, core.ErrHandshake)
}
