package runtime

import (
	"context"
	"time"

	"github.com/adithyaa-s/atlasd/internal/config"
	"github.com/adithyaa-s/atlasd/internal/probe"
)

// Log sources attached to entries emitted by handles.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// LogEntry represents a single log line captured from a running service.
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Source    string
	Level     string
}

// Handle represents a single running service managed by a launcher.
type Handle interface {
	// WaitReady blocks until the service is considered ready or the
	// provided context is cancelled. Services without a probe are ready as
	// soon as they have started.
	WaitReady(ctx context.Context) error

	// Wait blocks until the service exits. A non-nil error conveys an
	// abnormal exit; use ExitCode for the recorded status.
	Wait(ctx context.Context) error

	// ExitCode returns the service's exit status. Valid only after Wait
	// has returned; -1 while running or when the status is unknown.
	ExitCode() int

	// Stop terminates the service. Implementations must be idempotent and
	// must treat an already-exited process as a successful stop.
	Stop(ctx context.Context) error

	// Health returns probe state transitions for the service. A nil
	// channel indicates no probe is configured.
	Health() <-chan probe.State

	// Logs returns a channel of log lines associated with the service. The
	// channel is closed once the service has stopped.
	Logs() <-chan LogEntry
}

// Launcher describes a backend capable of starting services.
type Launcher interface {
	// Start launches the named service and returns a handle to the running
	// process. Implementations should respect context cancellation and
	// surface failures via returned errors.
	Start(ctx context.Context, name string, svc *config.ServiceSpec) (Handle, error)
}
