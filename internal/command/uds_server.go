package command

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
)

const (
	jsonrpcVersion = "2.0"

	// maxRequestSize bounds one request line.
	maxRequestSize = 64 * 1024
)

// auditedMethods change switch state and are logged at info level.
var auditedMethods = map[string]bool{
	MethodSessionKick:    true,
	MethodConfigReload:   true,
	MethodDaemonShutdown: true,
}

// UDSServer serves the switch control methods as newline-delimited JSON-RPC 2.0 over a Unix
// socket. One request line gets one response line; a connection may carry many requests.
type UDSServer struct {
	socketPath string
	handler    *CommandHandler
	ready      chan struct{}

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// NewUDSServer creates a control server for handler on socketPath.
func NewUDSServer(socketPath string, handler *CommandHandler) *UDSServer {
	return &UDSServer{
		socketPath: socketPath,
		handler:    handler,
		ready:      make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start binds the socket and serves until ctx is cancelled, then stops.
func (s *UDSServer) Start(ctx context.Context) error {
	ln, err := listenControl(s.socketPath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		ln.Close()
		os.Remove(s.socketPath)
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	slog.Info("control socket listening", "socket", s.socketPath)

	go s.serve(ctx, ln)

	<-ctx.Done()
	return s.Stop()
}

// Ready is closed once the socket accepts connections.
func (s *UDSServer) Ready() <-chan struct{} {
	return s.ready
}

// listenControl binds path with owner-only permissions. A leftover socket is replaced; any
// other file at path is an error.
func listenControl(path string) (net.Listener, error) {
	fi, err := os.Lstat(path)
	switch {
	case err == nil && fi.Mode()&fs.ModeSocket == 0:
		return nil, fmt.Errorf("control socket %s: file exists and is not a socket", path)
	case err == nil:
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("control socket %s: %w", path, err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return ln, nil
}

func (s *UDSServer) serve(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Error("control accept failed", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		go func() {
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *UDSServer) serveConn(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		if err := encoder.Encode(s.dispatch(ctx, scanner.Bytes())); err != nil {
			slog.Debug("control response not sent", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && !s.isClosing() {
		slog.Debug("control connection ended", "error", err)
	}
}

// dispatch turns one request line into its response.
func (s *UDSServer) dispatch(ctx context.Context, line []byte) JSONRPCResponse {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		slog.Warn("malformed control request", "error", err)
		return rpcError(nil, ErrCodeParseError, fmt.Sprintf("parse error: %v", err))
	}
	switch {
	case req.JSONRPC != jsonrpcVersion:
		return rpcError(req.ID, ErrCodeInvalidRequest, fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC))
	case req.Method == "":
		return rpcError(req.ID, ErrCodeInvalidRequest, "missing method")
	}

	if auditedMethods[req.Method] {
		slog.Info("control request", "method", req.Method, "id", req.ID)
	}

	resp := s.handler.Handle(ctx, Command{
		Method: req.Method,
		Params: req.Params,
		ID:     fmt.Sprint(req.ID),
	})
	return JSONRPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      req.ID,
		Result:  resp.Result,
		Error:   resp.Error,
	}
}

func rpcError(id interface{}, code int, message string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &ErrorInfo{Code: code, Message: message},
	}
}

func (s *UDSServer) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *UDSServer) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	conn.Close()
	s.wg.Done()
}

func (s *UDSServer) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// Stop closes the listener and every open connection, waits for in-flight requests and
// removes the socket. Repeated calls are no-ops.
func (s *UDSServer) Stop() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	ln := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	ln.Close()
	s.wg.Wait()

	if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("control socket not removed", "socket", s.socketPath, "error", err)
	}
	slog.Info("control socket closed", "socket", s.socketPath)
	return nil
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}
