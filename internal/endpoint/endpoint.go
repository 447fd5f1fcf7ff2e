// Package endpoint is the client side of the switch protocol: it connects, receives the
// identity the switch assigned, then relays raw Ethernet frames in both directions.
package endpoint

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"firestige.xyz/l2vpn/internal/core"
	"firestige.xyz/l2vpn/internal/wire"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	defaultQueueSize        = 256
)

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithHandshakeTimeout bounds the wait for the Info packet. Zero waits forever.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(e *Endpoint) {
		e.handshakeTimeout = d
	}
}

// WithQueueSize sets how many received frames may wait for the caller.
func WithQueueSize(n int) Option {
	return func(e *Endpoint) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// Endpoint is a connected client.
type Endpoint struct {
	conn net.Conn
	info wire.Info

	handshakeTimeout time.Duration
	queueSize        int

	frames  chan []byte
	done    chan struct{}
	closing chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closeErr  error
}

// Connect dials host:port and completes the handshake.
func Connect(ctx context.Context, host string, port int, opts ...Option) (*Endpoint, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	e, err := Handshake(conn, opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return e, nil
}

// Handshake reads the Info packet from an established connection and starts receiving.
// The caller keeps ownership of conn on error.
func Handshake(conn net.Conn, opts ...Option) (*Endpoint, error) {
	e := &Endpoint{
		conn:             conn,
		handshakeTimeout: DefaultHandshakeTimeout,
		queueSize:        defaultQueueSize,
		done:             make(chan struct{}),
		closing:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.handshakeTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(e.handshakeTimeout)); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrHandshake, err)
		}
	}

	buf := make([]byte, wire.InfoLen)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, fmt.Errorf("%w: reading info: %v", core.ErrHandshake, err)
	}
	info, err := wire.DecodeInfo(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrHandshake, err)
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrHandshake, err)
	}

	e.info = info
	e.frames = make(chan []byte, e.queueSize)
	go e.readLoop()
	return e, nil
}

// MAC is the hardware address the switch assigned.
func (e *Endpoint) MAC() wire.MAC { return e.info.MAC }

// IP is the IPv4 address the switch assigned.
func (e *Endpoint) IP() netip.Addr { return e.info.IP }

// Info returns the assigned identity.
func (e *Endpoint) Info() wire.Info { return e.info }

// Send writes frame to the switch unchanged.
func (e *Endpoint) Send(frame []byte) error {
	n, err := e.conn.Write(frame)
	if err != nil {
		return err
	}
	if n < len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

// Receive returns the next chunk read from the switch. After the stream ends it returns the
// reason: io.EOF when the switch closed the connection, net.ErrClosed after Close.
func (e *Endpoint) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-e.frames:
		if !ok {
			return nil, e.Err()
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PollReadable reports whether Receive would return without blocking.
func (e *Endpoint) PollReadable() bool {
	if len(e.frames) > 0 {
		return true
	}
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Frames is closed when the stream ends; Err then reports why.
func (e *Endpoint) Frames() <-chan []byte { return e.frames }

// Err is nil while the stream is open.
func (e *Endpoint) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Close closes the connection. Later calls return the first result.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.closing)
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}

func (e *Endpoint) readLoop() {
	defer close(e.frames)

	buf := make([]byte, wire.MTU)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			frame := make([]byte, n)
			copy(frame, buf[:n])
			select {
			case e.frames <- frame:
			case <-e.closing:
				err = net.ErrClosed
			}
		}
		if err == nil && n == 0 {
			err = io.EOF
		}
		if err != nil {
			e.mu.Lock()
			e.err = err
			e.mu.Unlock()
			close(e.done)
			return
		}
	}
}
