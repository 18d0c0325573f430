package runtime

import (
	"context"
	"time"
)

// ContainerSpec describes one worker container launch.
type ContainerSpec struct {
	Image       string
	Env         map[string]string
	MemoryLimit string
	VolumeBinds map[string]string // host path -> container path
	GPU         bool
}

// Handle tracks one launched container.
type Handle interface {
	ID() string
	Running(ctx context.Context) (bool, error)
	ExitCode(ctx context.Context) (int, error)
	Logs(ctx context.Context) (string, error)
	Stop(ctx context.Context, grace time.Duration) error
	Remove(ctx context.Context) error
}

// Runtime launches worker containers. Implementations must treat a failed
// GPU probe as a disabled capability, never as a launch error.
type Runtime interface {
	Launch(ctx context.Context, spec ContainerSpec) (Handle, error)
}
