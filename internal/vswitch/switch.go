// Package vswitch implements the central layer-2 switch: it assigns each TCP client an identity
// from the address pool, keeps a CAM table of MAC to session, and relays Ethernet frames between
// sessions by destination MAC.
//
// One owner goroutine (Run) holds the CAM table and the pool and performs every write to a
// session. The accept goroutine and one reader goroutine per session only send events to it;
// control calls (Sessions, Kick, Stats) are executed on it as closures.
package vswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync/atomic"
	"time"

	"firestige.xyz/l2vpn/internal/core"
	"firestige.xyz/l2vpn/internal/metrics"
	"firestige.xyz/l2vpn/internal/pool"
	"firestige.xyz/l2vpn/internal/report"
	"firestige.xyz/l2vpn/internal/wire"
)

// DefaultWriteTimeout bounds each write to a session.
const DefaultWriteTimeout = 5 * time.Second

const eventBuffer = 64

// Verdict is the forwarding decision for one frame.
type Verdict int

const (
	Drop Verdict = iota
	Unicast
	Flood
)

func (v Verdict) String() string {
	switch v {
	case Unicast:
		return "unicast"
	case Flood:
		return "flood"
	default:
		return "drop"
	}
}

// noise is the metrics label for reads shorter than an Ethernet header.
const noise = "noise"

type eventKind int

const (
	eventAccept eventKind = iota
	eventFrame
	eventClosed
)

type event struct {
	kind    eventKind
	conn    net.Conn
	session *Session
	data    []byte
	err     error
}

// Stats is a point-in-time summary of the switch.
type Stats struct {
	Listen         string    `json:"listen" yaml:"listen"`
	Base           string    `json:"base" yaml:"base"`
	Vendor         string    `json:"vendor" yaml:"vendor"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
	Sessions       int       `json:"sessions" yaml:"sessions"`
	PoolCapacity   int       `json:"pool_capacity" yaml:"pool_capacity"`
	PoolFree       int       `json:"pool_free" yaml:"pool_free"`
	Accepted       uint64    `json:"accepted" yaml:"accepted"`
	Rejected       uint64    `json:"rejected" yaml:"rejected"`
	Closed         uint64    `json:"closed" yaml:"closed"`
	Unicast        uint64    `json:"unicast" yaml:"unicast"`
	Flooded        uint64    `json:"flooded" yaml:"flooded"`
	Dropped        uint64    `json:"dropped" yaml:"dropped"`
	Noise          uint64    `json:"noise" yaml:"noise"`
	FloodMulticast bool      `json:"flood_multicast" yaml:"flood_multicast"`
}

// Option configures a Switch.
type Option func(*Switch)

// WithWriteTimeout bounds each write to a session. Zero disables the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(sw *Switch) {
		sw.writeTimeout = d
	}
}

// WithFloodMulticast floods group-addressed frames like broadcast.
func WithFloodMulticast(enabled bool) Option {
	return func(sw *Switch) {
		sw.floodMulticast = enabled
	}
}

// WithReporter sets the sink for session join/leave events.
func WithReporter(r report.Reporter) Option {
	return func(sw *Switch) {
		sw.reporter = r
	}
}

// Switch is the CAM-table switch.
type Switch struct {
	ln   net.Listener
	pool *pool.Pool

	writeTimeout   time.Duration
	floodMulticast bool
	reporter       report.Reporter

	// owner goroutine only
	cam       map[wire.MAC]*Session
	nextID    uint64
	startedAt time.Time
	counters  Stats

	events     chan event
	calls      chan func()
	done       chan struct{}
	acceptDone chan struct{}
	running    atomic.Bool
}

// New creates a switch serving ln with identities from p. Run starts it.
func New(ln net.Listener, p *pool.Pool, opts ...Option) *Switch {
	sw := &Switch{
		ln:           ln,
		pool:         p,
		writeTimeout: DefaultWriteTimeout,
		reporter:     report.Nop{},
		cam:          make(map[wire.MAC]*Session),
		events:       make(chan event, eventBuffer),
		calls:        make(chan func()),
		done:         make(chan struct{}),
		acceptDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sw)
	}
	return sw
}

// Addr returns the listener address.
func (sw *Switch) Addr() net.Addr {
	return sw.ln.Addr()
}

// Run serves until ctx is cancelled (returns nil) or the listener fails (returns the error).
// Either way the listener and every session are closed on return. Run may be called once.
func (sw *Switch) Run(ctx context.Context) error {
	if !sw.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: already started", core.ErrSwitchStopped)
	}
	defer close(sw.done)

	sw.startedAt = time.Now()
	metrics.PoolFree.Set(float64(sw.pool.Free()))
	metrics.SessionsActive.Set(0)

	acceptErr := make(chan error, 1)
	go sw.acceptLoop(acceptErr)

	slog.Info("switch started",
		"listen", sw.ln.Addr().String(),
		"base", sw.pool.Base(),
		"vendor", sw.pool.Vendor(),
		"capacity", sw.pool.Capacity())

	for {
		select {
		case <-ctx.Done():
			sw.shutdown("switch shutdown")
			slog.Info("switch stopped")
			return nil

		case err := <-acceptErr:
			sw.shutdown("listener failed")
			slog.Error("listener failed", "error", err)
			return fmt.Errorf("listener failed: %w", err)

		case ev := <-sw.events:
			sw.handle(ev)

		case fn := <-sw.calls:
			fn()
		}
	}
}

func (sw *Switch) acceptLoop(errc chan<- error) {
	defer close(sw.acceptDone)
	for {
		conn, err := sw.ln.Accept()
		if err != nil {
			errc <- err
			return
		}
		select {
		case <-sw.done:
			conn.Close()
			return
		default:
		}
		select {
		case sw.events <- event{kind: eventAccept, conn: conn}:
		case <-sw.done:
			conn.Close()
			return
		}
	}
}

func (sw *Switch) handle(ev event) {
	switch ev.kind {
	case eventAccept:
		sw.accept(ev.conn)
	case eventFrame:
		if ev.session.removed {
			return
		}
		metrics.BytesTotal.WithLabelValues(metrics.DirectionRx).Add(float64(len(ev.data)))
		if len(ev.data) < wire.EthernetHeaderLen {
			sw.counters.Noise++
			metrics.FramesTotal.WithLabelValues(noise).Inc()
			slog.Debug("dropping runt read", "mac", ev.session.mac.String(), "size", len(ev.data))
			return
		}
		sw.forward(ev.data, ev.session)
	case eventClosed:
		sw.teardown(ev.session, closeReason(ev.err))
	}
}

// accept gives conn an identity, announces it to the existing sessions, registers it and sends
// its Info. Only then does the reader start, so the new peer sees nothing before its Info.
func (sw *Switch) accept(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	mac, ip, err := sw.pool.Allocate()
	if err != nil {
		sw.counters.Rejected++
		metrics.SessionsTotal.WithLabelValues(metrics.SessionRejected).Inc()
		slog.Warn("rejecting connection", "remote", remote, "error", err)
		conn.Close()
		return
	}

	sw.nextID++
	s := newSession(sw.nextID, conn, mac, ip)

	announcement := wire.Announcement(mac, ip).Encode()
	for _, peer := range sw.cam {
		sw.send(peer, announcement)
	}

	sw.cam[mac] = s
	sw.counters.Accepted++
	metrics.SessionsTotal.WithLabelValues(metrics.SessionAccepted).Inc()
	sw.updateGauges()

	slog.Info("session accepted",
		"session", s.id,
		"remote", remote,
		"mac", mac.String(),
		"ip", ip.String())

	sw.emit(report.SessionJoined, s, "")

	info := wire.Info{MAC: mac, IP: ip}.Encode()
	if !sw.send(s, info) {
		return
	}

	go s.readLoop(sw.events, sw.done)
}

// forward relays raw, read from from, by its destination MAC. raw is sent bit-exact.
func (sw *Switch) forward(raw []byte, from *Session) Verdict {
	verdict := sw.route(raw, from)
	switch verdict {
	case Unicast:
		sw.counters.Unicast++
	case Flood:
		sw.counters.Flooded++
	default:
		sw.counters.Dropped++
	}
	metrics.FramesTotal.WithLabelValues(verdict.String()).Inc()
	return verdict
}

func (sw *Switch) route(raw []byte, from *Session) Verdict {
	dst, err := wire.PeekDestination(raw)
	if err != nil {
		return Drop
	}

	if dst.IsBroadcast() || (sw.floodMulticast && dst.IsMulticast()) {
		for _, peer := range sw.cam {
			if peer != from {
				sw.send(peer, raw)
			}
		}
		return Flood
	}

	if peer, ok := sw.cam[dst]; ok {
		if peer == from {
			return Drop
		}
		sw.send(peer, raw)
		return Unicast
	}

	return Drop
}

// send writes b to s and tears s down on failure. It reports whether the write succeeded.
func (sw *Switch) send(s *Session, b []byte) bool {
	if err := s.Send(b, sw.writeTimeout); err != nil {
		slog.Debug("session write failed", "mac", s.mac.String(), "error", err)
		sw.teardown(s, "write failed: "+err.Error())
		return false
	}
	metrics.BytesTotal.WithLabelValues(metrics.DirectionTx).Add(float64(len(b)))
	return true
}

// teardown removes s from the CAM table, returns its address to the pool and closes its
// connection. Repeated calls are no-ops.
func (sw *Switch) teardown(s *Session, reason string) {
	if s.removed {
		return
	}
	s.removed = true

	if sw.cam[s.mac] == s {
		delete(sw.cam, s.mac)
	}
	if err := sw.pool.Release(s.mac, s.ip); err != nil {
		slog.Error("address release failed", "mac", s.mac.String(), "ip", s.ip.String(), "error", err)
	}
	s.Close()

	sw.counters.Closed++
	metrics.SessionsTotal.WithLabelValues(metrics.SessionClosed).Inc()
	sw.updateGauges()

	slog.Info("session closed",
		"session", s.id,
		"remote", s.remote,
		"mac", s.mac.String(),
		"ip", s.ip.String(),
		"reason", reason)

	sw.emit(report.SessionLeft, s, reason)
}

// shutdown closes the listener, waits for the accept loop to exit and closes every connection
// still queued or registered. Queued frames are discarded.
func (sw *Switch) shutdown(reason string) {
	if err := sw.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.Debug("listener close failed", "error", err)
	}
	for waiting := true; waiting; {
		select {
		case ev := <-sw.events:
			sw.discard(ev)
		case <-sw.acceptDone:
			waiting = false
		}
	}
	for drained := false; !drained; {
		select {
		case ev := <-sw.events:
			sw.discard(ev)
		default:
			drained = true
		}
	}
	for _, s := range sw.cam {
		sw.teardown(s, reason)
	}
}

func (sw *Switch) discard(ev event) {
	if ev.kind == eventAccept {
		ev.conn.Close()
	}
}

func (sw *Switch) updateGauges() {
	metrics.SessionsActive.Set(float64(len(sw.cam)))
	metrics.PoolFree.Set(float64(sw.pool.Free()))
}

func (sw *Switch) emit(kind string, s *Session, reason string) {
	info := s.Info()
	ev := report.Event{
		Type:      kind,
		SessionID: info.ID,
		MAC:       info.MAC,
		IP:        info.IP,
		Remote:    info.Remote,
		Time:      time.Now(),
		Reason:    reason,
	}
	if kind == report.SessionLeft {
		ev.RxFrames = info.RxFrames
		ev.TxFrames = info.TxFrames
		ev.RxBytes = info.RxBytes
		ev.TxBytes = info.TxBytes
	}
	if err := sw.reporter.Report(context.Background(), ev); err != nil {
		slog.Debug("session event not reported", "type", kind, "mac", info.MAC, "error", err)
	}
}

// ─── Control funnel ───

// do runs fn on the owner goroutine and waits for it.
func (sw *Switch) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}

	select {
	case sw.calls <- call:
	case <-sw.done:
		return core.ErrSwitchStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished
	return nil
}

// Sessions lists the connected sessions ordered by ID.
func (sw *Switch) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var out []SessionInfo
	err := sw.do(ctx, func() {
		out = make([]SessionInfo, 0, len(sw.cam))
		for _, s := range sw.cam {
			out = append(out, s.Info())
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Kick tears down the session owning mac.
func (sw *Switch) Kick(ctx context.Context, mac wire.MAC) error {
	var found bool
	err := sw.do(ctx, func() {
		s, ok := sw.cam[mac]
		if !ok {
			return
		}
		found = true
		sw.teardown(s, "kicked")
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", core.ErrSessionNotFound, mac)
	}
	return nil
}

// Stats summarizes the switch.
func (sw *Switch) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := sw.do(ctx, func() {
		st = sw.counters
		st.Listen = sw.ln.Addr().String()
		st.Base = sw.pool.Base()
		st.Vendor = sw.pool.Vendor()
		st.StartedAt = sw.startedAt
		st.Sessions = len(sw.cam)
		st.PoolCapacity = sw.pool.Capacity()
		st.PoolFree = sw.pool.Free()
		st.FloodMulticast = sw.floodMulticast
	})
	return st, err
}
