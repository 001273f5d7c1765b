package capture

import (
	"context"
	"fmt"
)

// Driver starts browser sessions.
type Driver interface {
	Launch(ctx context.Context) (Session, error)
}

// Session is a running browser process. Close releases the process and every
// page it owns; pages must not be used afterwards.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	PID() int
	Close() error
}

// Page is a single browser tab.
type Page interface {
	SetViewport(ctx context.Context, width, height int) error
	Viewport(ctx context.Context) (width, height int, err error)
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
}

// NewDriver returns the driver for options.Engine.
func NewDriver(options Options) (Driver, error) {
	switch options.Engine {
	case EngineRod, "":
		return NewRodDriver(options), nil
	case EngineChromedp:
		return NewChromedpDriver(options), nil
	}
	return nil, fmt.Errorf("unknown engine %q", options.Engine)
}
