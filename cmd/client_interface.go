package cmd

import (
	"context"
	"time"

	"firestige.xyz/l2vpn/internal/command"
)

// ClientInterface is what the control commands need from a running switch.
type ClientInterface interface {
	SwitchStatus(ctx context.Context) (*command.StatusResult, error)
	SessionList(ctx context.Context) (*command.SessionListResult, error)
	SessionKick(ctx context.Context, mac string) error
	ConfigReload(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

const controlTimeout = 10 * time.Second

// cli overrides the socket client when set.
var cli ClientInterface

// SetClient injects a client, used by tests.
func SetClient(c ClientInterface) {
	cli = c
}

// GetClient returns the injected client, if any.
func GetClient() ClientInterface {
	return cli
}

// controlClient returns the injected client or one for the configured control socket.
func controlClient() (ClientInterface, error) {
	if cli != nil {
		return cli, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return command.NewUDSClient(cfg.Control.Socket, controlTimeout), nil
}
