package command

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"firestige.xyz/l2vpn/internal/core"
	"firestige.xyz/l2vpn/internal/vswitch"
	"firestige.xyz/l2vpn/internal/wire"
)

// mockConfigReloader is a mock implementation of ConfigReloader.
type mockConfigReloader struct {
	reloadFunc func() error
}

func (m *mockConfigReloader) Reload() error {
	if m.reloadFunc != nil {
		return m.reloadFunc()
	}
	return nil
}

// fakeController serves canned switch state.
type fakeController struct {
	stats    vswitch.Stats
	sessions []vswitch.SessionInfo
	err      error
	kicked   []wire.MAC
}

func (f *fakeController) Stats(context.Context) (vswitch.Stats, error) {
	return f.stats, f.err
}

func (f *fakeController) Sessions(context.Context) ([]vswitch.SessionInfo, error) {
	return f.sessions, f.err
}

func (f *fakeController) Kick(_ context.Context, mac wire.MAC) error {
	if f.err != nil {
		return f.err
	}
	for _, s := range f.sessions {
		if s.MAC == mac.String() {
			f.kicked = append(f.kicked, mac)
			return nil
		}
	}
	return core.ErrSessionNotFound
}

func newFakeController() *fakeController {
	return &fakeController{
		stats: vswitch.Stats{
			Listen:       "127.0.0.1:1194",
			Base:         "10.0.0",
			Vendor:       "02:4c:32",
			StartedAt:    time.Now(),
			Sessions:     2,
			PoolCapacity: 254,
			PoolFree:     252,
			Accepted:     2,
		},
		sessions: []vswitch.SessionInfo{
			{ID: 1, MAC: "02:4c:32:00:00:02", IP: "10.0.0.2", Remote: "127.0.0.1:40001"},
			{ID: 2, MAC: "02:4c:32:00:00:03", IP: "10.0.0.3", Remote: "127.0.0.1:40002"},
		},
	}
}

func TestCommandHandler_HandlePing(t *testing.T) {
	handler := NewCommandHandler(newFakeController(), nil)

	resp := handler.Handle(context.Background(), Command{Method: MethodPing, ID: "req-1"})
	if resp.ID != "req-1" {
		t.Errorf("response ID = %s, want req-1", resp.ID)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
}

func TestCommandHandler_HandleSwitchStatus(t *testing.T) {
	ctrl := newFakeController()
	handler := NewCommandHandler(ctrl, nil)

	resp := handler.Handle(context.Background(), Command{Method: MethodSwitchStatus, ID: "req-2"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	result, ok := resp.Result.(StatusResult)
	if !ok {
		t.Fatalf("result type = %T, want StatusResult", resp.Result)
	}
	if result.Version != Version {
		t.Errorf("version = %s, want %s", result.Version, Version)
	}
	if result.Switch.Sessions != 2 || result.Switch.PoolFree != 252 {
		t.Errorf("switch stats = %+v", result.Switch)
	}
}

func TestCommandHandler_HandleSwitchStatusError(t *testing.T) {
	ctrl := newFakeController()
	ctrl.err = core.ErrSwitchStopped
	handler := NewCommandHandler(ctrl, nil)

	resp := handler.Handle(context.Background(), Command{Method: MethodSwitchStatus, ID: "req-3"})
	if resp.Error == nil {
		t.Fatal("expected error for stopped switch")
	}
	if resp.Error.Code != ErrCodeInternalError {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeInternalError)
	}
}

func TestCommandHandler_HandleSessionList(t *testing.T) {
	handler := NewCommandHandler(newFakeController(), nil)

	resp := handler.Handle(context.Background(), Command{Method: MethodSessionList, ID: "req-4"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	result, ok := resp.Result.(SessionListResult)
	if !ok {
		t.Fatalf("result type = %T, want SessionListResult", resp.Result)
	}
	if result.Count != 2 || len(result.Sessions) != 2 {
		t.Errorf("count = %d, sessions = %d, want 2", result.Count, len(result.Sessions))
	}
	if result.Sessions[0].IP != "10.0.0.2" {
		t.Errorf("first session ip = %s, want 10.0.0.2", result.Sessions[0].IP)
	}
}

func TestCommandHandler_HandleSessionKick(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		wantCode int
	}{
		{name: "known session", params: `{"mac":"02:4c:32:00:00:03"}`},
		{name: "unknown session", params: `{"mac":"02:4c:32:00:00:09"}`, wantCode: ErrCodeNotFound},
		{name: "bad mac", params: `{"mac":"zz"}`, wantCode: ErrCodeInvalidParams},
		{name: "bad json", params: `{"mac":`, wantCode: ErrCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			handler := NewCommandHandler(ctrl, nil)

			resp := handler.Handle(context.Background(), Command{
				Method: MethodSessionKick,
				Params: json.RawMessage(tt.params),
				ID:     "req-kick",
			})

			if tt.wantCode == 0 {
				if resp.Error != nil {
					t.Fatalf("unexpected error: %v", resp.Error)
				}
				if len(ctrl.kicked) != 1 || ctrl.kicked[0].String() != "02:4c:32:00:00:03" {
					t.Errorf("kicked = %v", ctrl.kicked)
				}
				return
			}
			if resp.Error == nil {
				t.Fatal("expected error")
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("error code = %d, want %d", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestCommandHandler_HandleConfigReload(t *testing.T) {
	tests := []struct {
		name      string
		reloader  ConfigReloader
		wantError bool
	}{
		{name: "success", reloader: &mockConfigReloader{}},
		{
			name: "reload fails",
			reloader: &mockConfigReloader{reloadFunc: func() error {
				return errors.New("bad config")
			}},
			wantError: true,
		},
		{name: "no reloader", reloader: nil, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewCommandHandler(newFakeController(), tt.reloader)
			resp := handler.Handle(context.Background(), Command{Method: MethodConfigReload, ID: "req-5"})

			if tt.wantError && resp.Error == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantError && resp.Error != nil {
				t.Errorf("unexpected error: %v", resp.Error)
			}
		})
	}
}

func TestCommandHandler_HandleDaemonShutdown(t *testing.T) {
	handler := NewCommandHandler(newFakeController(), nil)

	resp := handler.Handle(context.Background(), Command{Method: MethodDaemonShutdown, ID: "req-6"})
	if resp.Error == nil {
		t.Fatal("expected error without shutdown func")
	}

	called := make(chan struct{})
	handler.SetShutdownFunc(func() { close(called) })

	resp = handler.Handle(context.Background(), Command{Method: MethodDaemonShutdown, ID: "req-7"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown func not called")
	}
}

func TestCommandHandler_HandleUnknownMethod(t *testing.T) {
	handler := NewCommandHandler(newFakeController(), nil)

	resp := handler.Handle(context.Background(), Command{Method: "unknown_method", ID: "req-8"})
	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != ErrCodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, ErrCodeMethodNotFound)
	}
}
