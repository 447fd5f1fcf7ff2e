// Package report exports session lifecycle events (joins and leaves) to an external sink.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/l2vpn/internal/config"
	"firestige.xyz/l2vpn/internal/core"
)

// Event types.
const (
	SessionJoined = "session_joined"
	SessionLeft   = "session_left"
)

// Event describes one session lifecycle transition.
type Event struct {
	Type      string    `json:"type"`
	SessionID uint64    `json:"session_id"`
	MAC       string    `json:"mac"`
	IP        string    `json:"ip"`
	Remote    string    `json:"remote"`
	Time      time.Time `json:"time"`
	Reason    string    `json:"reason,omitempty"`

	RxFrames uint64 `json:"rx_frames,omitempty"`
	TxFrames uint64 `json:"tx_frames,omitempty"`
	RxBytes  uint64 `json:"rx_bytes,omitempty"`
	TxBytes  uint64 `json:"tx_bytes,omitempty"`
}

// Key is used for partitioning; events of one MAC stay ordered.
func (e Event) Key() []byte {
	return []byte(e.MAC)
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Reporter delivers events to a sink.
type Reporter interface {
	Name() string
	Report(ctx context.Context, ev Event) error
	Close() error
}

// New builds the reporter selected by cfg.Type and wraps it in a bounded queue so the caller
// never blocks on the sink.
func New(cfg config.EventsConfig) (Reporter, error) {
	var r Reporter
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "log":
		r = LogReporter{}
	case "kafka":
		kr, err := NewKafkaReporter(cfg.Options)
		if err != nil {
			return nil, err
		}
		r = kr
	default:
		return nil, fmt.Errorf("%w: unknown events.type %q (none|log|kafka)", core.ErrConfigInvalid, cfg.Type)
	}
	return NewQueue(r, cfg.QueueSize), nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Name() string                        { return "none" }
func (Nop) Report(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }

// LogReporter writes events to the structured log.
type LogReporter struct{}

func (LogReporter) Name() string { return "log" }

func (LogReporter) Report(ctx context.Context, ev Event) error {
	slog.InfoContext(ctx, "session event",
		"type", ev.Type,
		"session", ev.SessionID,
		"mac", ev.MAC,
		"ip", ev.IP,
		"remote", ev.Remote,
		"reason", ev.Reason,
	)
	return nil
}

func (LogReporter) Close() error { return nil }
