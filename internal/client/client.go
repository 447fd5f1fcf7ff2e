// Package client joins a local TAP interface to a remote switch.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"firestige.xyz/l2vpn/internal/config"
	"firestige.xyz/l2vpn/internal/endpoint"
	"firestige.xyz/l2vpn/internal/log"
	"firestige.xyz/l2vpn/internal/metrics"
	"firestige.xyz/l2vpn/internal/tap"
	"firestige.xyz/l2vpn/internal/wire"
)

const deviceQueue = 64

// Link is the switch side of the relay.
type Link interface {
	Send(frame []byte) error
	Frames() <-chan []byte
	Err() error
}

// DeviceOpener creates the local interface once the identity is known.
type DeviceOpener func(ctx context.Context, cfg tap.Config) (tap.Device, error)

// OpenTAP opens a kernel TAP interface configured with ip(8).
func OpenTAP(ctx context.Context, cfg tap.Config) (tap.Device, error) {
	iface, err := tap.Open(ctx, cfg, tap.ExecRunner)
	if err != nil {
		return nil, err
	}
	return iface, nil
}

// Run connects to cfg.Server, creates cfg.Interface with the assigned identity and relays
// frames until ctx is cancelled (nil) or either side fails.
func Run(ctx context.Context, cfg config.ClientConfig, trace log.Logger, open DeviceOpener) error {
	host, portStr, err := net.SplitHostPort(cfg.Server)
	if err != nil {
		return fmt.Errorf("%w: server address %q: %v", errInvalidServer, cfg.Server, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: server port %q", errInvalidServer, portStr)
	}

	ep, err := endpoint.Connect(ctx, host, port, endpoint.WithHandshakeTimeout(cfg.HandshakeTimeout))
	if err != nil {
		return fmt.Errorf("connect to switch: %w", err)
	}
	defer ep.Close()

	slog.Info("connected to switch",
		"server", cfg.Server,
		"mac", ep.MAC().String(),
		"ip", ep.IP().String())

	dev, err := open(ctx, tap.Config{Name: cfg.Interface, MAC: ep.MAC(), IP: ep.IP()})
	if err != nil {
		return fmt.Errorf("create interface %s: %w", cfg.Interface, err)
	}
	defer dev.Close()

	trace.Infof("up @ %s (%s)", dev.Name(), ep.Info())

	return Relay(ctx, dev, ep, trace)
}

var errInvalidServer = errors.New("invalid server address")

// Relay copies frames from dev to link and from link to dev unchanged. It returns nil when ctx
// is cancelled and an error when either side ends. The caller closes dev and link.
func Relay(ctx context.Context, dev tap.Device, link Link, trace log.Logger) error {
	done := make(chan struct{})
	defer close(done)

	devFrames := make(chan []byte, deviceQueue)
	devErr := make(chan error, 1)
	go readDevice(dev, devFrames, devErr, done)

	for {
		select {
		case <-ctx.Done():
			return nil

		case frame := <-devFrames:
			traceFrame(trace, "iff->vpn", frame)
			if err := link.Send(frame); err != nil {
				return fmt.Errorf("send to switch: %w", err)
			}
			metrics.ClientFramesTotal.WithLabelValues(metrics.DeviceToSwitch).Inc()

		case frame, ok := <-link.Frames():
			if !ok {
				return fmt.Errorf("switch connection lost: %w", link.Err())
			}
			traceFrame(trace, "vpn->iff", frame)
			if _, err := dev.Write(frame); err != nil {
				return fmt.Errorf("write to %s: %w", dev.Name(), err)
			}
			metrics.ClientFramesTotal.WithLabelValues(metrics.SwitchToDevice).Inc()

		case err := <-devErr:
			return fmt.Errorf("read from %s: %w", dev.Name(), err)
		}
	}
}

// readDevice reads one frame of up to MTU bytes per iteration.
func readDevice(dev tap.Device, frames chan<- []byte, errc chan<- error, done <-chan struct{}) {
	buf := make([]byte, wire.MTU)
	for {
		n, err := dev.Read(buf)
		if err != nil {
			errc <- err
			return
		}
		if n == 0 {
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case frames <- frame:
		case <-done:
			return
		}
	}
}

func traceFrame(trace log.Logger, dir string, frame []byte) {
	if !trace.IsDebugEnabled() {
		return
	}
	trace.WithField("dir", dir).Debugf("%s", wire.Describe(frame))
}
