// Package command implements control plane command handling.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/l2vpn/internal/core"
	"firestige.xyz/l2vpn/internal/vswitch"
	"firestige.xyz/l2vpn/internal/wire"
)

// Version is reported by switch_status.
var Version = "0.1.0"

// Method names.
const (
	MethodPing           = "ping"
	MethodSwitchStatus   = "switch_status"
	MethodSessionList    = "session_list"
	MethodSessionKick    = "session_kick"
	MethodConfigReload   = "config_reload"
	MethodDaemonShutdown = "daemon_shutdown"
)

// SwitchController is the part of the switch exposed to the control plane.
type SwitchController interface {
	Stats(ctx context.Context) (vswitch.Stats, error)
	Sessions(ctx context.Context) ([]vswitch.SessionInfo, error)
	Kick(ctx context.Context, mac wire.MAC) error
}

// ConfigReloader is the interface for reloading global configuration.
type ConfigReloader interface {
	Reload() error
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	controller     SwitchController
	configReloader ConfigReloader
	shutdownFunc   func() // Called by daemon_shutdown to trigger graceful stop
	startTime      time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(controller SwitchController, reloader ConfigReloader) *CommandHandler {
	return &CommandHandler{
		controller:     controller,
		configReloader: reloader,
		startTime:      time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"` // e.g., "session_list", "session_kick"
	Params json.RawMessage `json:"params"` // command-specific parameters
	ID     string          `json:"id"`     // request ID for tracking
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
	ErrCodeNotFound       = -32004 // Session not found
)

// StatusResult is the result of switch_status.
type StatusResult struct {
	Version   string        `json:"version" yaml:"version"`
	UptimeSec int64         `json:"uptime_sec" yaml:"uptime_sec"`
	Switch    vswitch.Stats `json:"switch" yaml:"switch"`
}

// SessionListResult is the result of session_list.
type SessionListResult struct {
	Sessions []vswitch.SessionInfo `json:"sessions" yaml:"sessions"`
	Count    int                   `json:"count" yaml:"count"`
}

// KickParams represents parameters for session_kick.
type KickParams struct {
	MAC string `json:"mac"`
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	slog.Debug("handling command", "method", cmd.Method, "id", cmd.ID)

	switch cmd.Method {
	case MethodPing:
		return Response{ID: cmd.ID, Result: map[string]interface{}{"pong": true}}
	case MethodSwitchStatus:
		return h.handleSwitchStatus(ctx, cmd)
	case MethodSessionList:
		return h.handleSessionList(ctx, cmd)
	case MethodSessionKick:
		return h.handleSessionKick(ctx, cmd)
	case MethodConfigReload:
		return h.handleConfigReload(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, message string) Response {
	return Response{
		ID: id,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// handleSwitchStatus returns version, uptime and switch statistics.
func (h *CommandHandler) handleSwitchStatus(ctx context.Context, cmd Command) Response {
	stats, err := h.controller.Stats(ctx)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("switch status failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: StatusResult{
			Version:   Version,
			UptimeSec: int64(time.Since(h.startTime).Seconds()),
			Switch:    stats,
		},
	}
}

// handleSessionList lists the connected sessions.
func (h *CommandHandler) handleSessionList(ctx context.Context, cmd Command) Response {
	sessions, err := h.controller.Sessions(ctx)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("list sessions failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: SessionListResult{
			Sessions: sessions,
			Count:    len(sessions),
		},
	}
}

// handleSessionKick disconnects the session owning params.mac.
func (h *CommandHandler) handleSessionKick(ctx context.Context, cmd Command) Response {
	var params KickParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	mac, err := wire.ParseMAC(params.MAC)
	if err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	if err := h.controller.Kick(ctx, mac); err != nil {
		code := ErrCodeInternalError
		if errors.Is(err, core.ErrSessionNotFound) {
			code = ErrCodeNotFound
		}
		return errorResponse(cmd.ID, code, fmt.Sprintf("kick failed: %v", err))
	}

	slog.Info("session kicked", "mac", mac.String())
	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"mac":    mac.String(),
			"status": "kicked",
		},
	}
}

// handleConfigReload handles config_reload command.
func (h *CommandHandler) handleConfigReload(_ context.Context, cmd Command) Response {
	if h.configReloader == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "config reloader not available")
	}

	if err := h.configReloader.Reload(); err != nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, fmt.Sprintf("reload config failed: %v", err))
	}

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "reloaded",
		},
	}
}

// handleDaemonShutdown triggers graceful daemon shutdown via the registered callback.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	slog.Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc() // Non-blocking: let the response be sent first

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}
