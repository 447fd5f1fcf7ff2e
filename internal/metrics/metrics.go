// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks connected sessions (CAM table size)
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2vpn_sessions_active",
			Help: "Number of sessions currently in the CAM table",
		},
	)

	// SessionsTotal counts session lifecycle events
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2vpn_sessions_total",
			Help: "Total number of session lifecycle events",
		},
		[]string{"event"},
	)

	// PoolFree tracks unallocated addresses
	PoolFree = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "l2vpn_pool_free",
			Help: "Number of free addresses in the pool",
		},
	)

	// FramesTotal counts frames handled by the forwarding engine by verdict
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2vpn_frames_total",
			Help: "Total number of frames handled by the switch",
		},
		[]string{"verdict"},
	)

	// BytesTotal counts relayed bytes by direction (rx from sessions, tx to sessions)
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2vpn_bytes_total",
			Help: "Total number of bytes read from and written to sessions",
		},
		[]string{"direction"},
	)

	// ClientFramesTotal counts frames relayed by a client between its device and the switch
	ClientFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "l2vpn_client_frames_total",
			Help: "Total number of frames relayed by the client",
		},
		[]string{"direction"},
	)

	// EventsDroppedTotal counts lifecycle events dropped because the report queue was full
	EventsDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "l2vpn_events_dropped_total",
			Help: "Total number of session events dropped by the reporter queue",
		},
	)
)

// Session lifecycle event labels
const (
	SessionAccepted = "accepted"
	SessionRejected = "rejected"
	SessionClosed   = "closed"
)

// Byte direction labels
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

// Client direction labels
const (
	DeviceToSwitch = "device_to_switch"
	SwitchToDevice = "switch_to_device"
)
