// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w") and test with errors.Is.
var (
	// Wire codec errors
	ErrMalformedFrame = errors.New("l2vpn: malformed frame")
	ErrInvalidAddress = errors.New("l2vpn: invalid address")

	// Address pool errors
	ErrPoolExhausted  = errors.New("l2vpn: address pool exhausted")
	ErrInvalidRelease = errors.New("l2vpn: release of unallocated address")

	// Switch errors
	ErrSessionNotFound = errors.New("l2vpn: session not found")
	ErrSwitchStopped   = errors.New("l2vpn: switch stopped")

	// Endpoint errors
	ErrHandshake = errors.New("l2vpn: handshake failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("l2vpn: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("l2vpn: daemon not running")
)
