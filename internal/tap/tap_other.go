//go:build !linux

package tap

import "context"

// Interface is unavailable on this platform.
type Interface struct{}

// Open always fails with ErrUnsupported.
func Open(ctx context.Context, cfg Config, run Runner) (*Interface, error) {
	return nil, ErrUnsupported
}

func (i *Interface) Name() string                { return "" }
func (i *Interface) Read(p []byte) (int, error)  { return 0, ErrUnsupported }
func (i *Interface) Write(p []byte) (int, error) { return 0, ErrUnsupported }
func (i *Interface) Close() error                { return nil }
