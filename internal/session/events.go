package session

import (
	"time"

	"github.com/adithyaa-s/atlasd/internal/runtime"
)

// EventType captures high level lifecycle notifications emitted by a session.
type EventType string

const (
	EventTypeStarting EventType = "starting"
	EventTypeReady    EventType = "ready"
	EventTypeStopping EventType = "stopping"
	EventTypeStopped  EventType = "stopped"
	EventTypeExited   EventType = "exited"
	EventTypeLog      EventType = "log"
	EventTypeError    EventType = "error"
	EventTypeFailed   EventType = "failed"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp time.Time
	Service   string
	Type      EventType
	Message   string
	Level     string
	Source    string
	Err       error
	ExitCode  int
	Reason    string
}

// Reasons attached to lifecycle events.
const (
	ReasonSidecarStart    = "sidecar_start"
	ReasonWarmupElapsed   = "warmup_elapsed"
	ReasonProbeReady      = "probe_ready"
	ReasonForegroundStart = "foreground_start"
	ReasonForegroundExit  = "foreground_exit"
	ReasonTeardown        = "teardown"
	ReasonStopFailed      = "stop_failed"
	ReasonStartFailure    = "start_failure"
	ReasonReadinessFailed = "readiness_failed"
)

func sendEvent(events chan<- Event, service string, t EventType, message, reason string, err error) {
	if events == nil {
		return
	}
	level := "info"
	if err != nil {
		level = "error"
	}
	events <- Event{
		Timestamp: time.Now(),
		Service:   service,
		Type:      t,
		Message:   message,
		Level:     level,
		Source:    runtime.LogSourceSystem,
		Err:       err,
		Reason:    reason,
	}
}
