package vswitch

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/l2vpn/internal/wire"
)

// Session is one connected client: its connection and the identity the pool assigned to it.
// The identity never changes; the connection is closed exactly once.
type Session struct {
	id          uint64
	conn        net.Conn
	mac         wire.MAC
	ip          netip.Addr
	remote      string
	connectedAt time.Time

	// owner goroutine only
	removed bool

	rxFrames atomic.Uint64
	rxBytes  atomic.Uint64
	txFrames atomic.Uint64
	txBytes  atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// SessionInfo is a point-in-time view of a session.
type SessionInfo struct {
	ID          uint64    `json:"id" yaml:"id"`
	MAC         string    `json:"mac" yaml:"mac"`
	IP          string    `json:"ip" yaml:"ip"`
	Remote      string    `json:"remote" yaml:"remote"`
	ConnectedAt time.Time `json:"connected_at" yaml:"connected_at"`
	RxFrames    uint64    `json:"rx_frames" yaml:"rx_frames"`
	RxBytes     uint64    `json:"rx_bytes" yaml:"rx_bytes"`
	TxFrames    uint64    `json:"tx_frames" yaml:"tx_frames"`
	TxBytes     uint64    `json:"tx_bytes" yaml:"tx_bytes"`
}

func newSession(id uint64, conn net.Conn, mac wire.MAC, ip netip.Addr) *Session {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		id:          id,
		conn:        conn,
		mac:         mac,
		ip:          ip,
		remote:      remote,
		connectedAt: time.Now(),
	}
}

func (s *Session) ID() uint64     { return s.id }
func (s *Session) MAC() wire.MAC  { return s.mac }
func (s *Session) IP() netip.Addr { return s.ip }
func (s *Session) Remote() string { return s.remote }

// Info snapshots the session counters.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		MAC:         s.mac.String(),
		IP:          s.ip.String(),
		Remote:      s.remote,
		ConnectedAt: s.connectedAt,
		RxFrames:    s.rxFrames.Load(),
		RxBytes:     s.rxBytes.Load(),
		TxFrames:    s.txFrames.Load(),
		TxBytes:     s.txBytes.Load(),
	}
}

// Send writes b in full. A positive timeout bounds the write.
func (s *Session) Send(b []byte, timeout time.Duration) error {
	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	n, err := s.conn.Write(b)
	if err != nil {
		return err
	}
	if n < len(b) {
		return io.ErrShortWrite
	}
	s.txFrames.Add(1)
	s.txBytes.Add(uint64(n))
	return nil
}

// Close closes the connection. Later calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// readLoop performs one read of up to MTU bytes per iteration and hands the data to the owner.
// It exits after reporting the end of the stream, or when done is closed.
func (s *Session) readLoop(events chan<- event, done <-chan struct{}) {
	buf := make([]byte, wire.MTU)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.rxFrames.Add(1)
			s.rxBytes.Add(uint64(n))
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case events <- event{kind: eventFrame, session: s, data: data}:
			case <-done:
				return
			}
		}
		if err == nil && n == 0 {
			err = io.EOF
		}
		if err != nil {
			select {
			case events <- event{kind: eventClosed, session: s, err: err}:
			case <-done:
			}
			return
		}
	}
}

// closeReason renders a read error for logs and events.
func closeReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, io.EOF):
		return "peer closed"
	case errors.Is(err, net.ErrClosed):
		return "connection closed"
	default:
		return err.Error()
	}
}
