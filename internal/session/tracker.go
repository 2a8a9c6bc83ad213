package session

import (
	"sync"
	"time"

	"github.com/adithyaa-s/atlasd/internal/cliutil"
)

// ServiceReport describes the observed state of a single service.
type ServiceReport struct {
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	State     EventType `json:"state"`
	Ready     bool      `json:"ready"`
	Message   string    `json:"message"`
	ExitCode  int       `json:"exit_code"`
	FirstSeen time.Time `json:"first_seen"`
	LastEvent time.Time `json:"last_event"`
}

// Report aggregates session-wide status information.
type Report struct {
	Session     string                   `json:"session"`
	GeneratedAt time.Time                `json:"generated_at"`
	Healthy     bool                     `json:"healthy"`
	Services    map[string]ServiceReport `json:"services"`
}

// Tracker maintains in-memory status for services based on session events.
// It is safe for concurrent use.
type Tracker struct {
	mu       sync.RWMutex
	session  string
	services map[string]*serviceStatus
	roles    map[string]string
}

type serviceStatus struct {
	name      string
	firstSeen time.Time
	lastEvent time.Time
	state     EventType
	ready     bool
	message   string
	exitCode  int
}

// NewTracker constructs a tracker for the named session. Roles maps service
// names to their manifest role so reports can distinguish the foreground
// service from sidecars.
func NewTracker(session string, roles map[string]string) *Tracker {
	t := &Tracker{
		session:  session,
		services: make(map[string]*serviceStatus),
		roles:    make(map[string]string, len(roles)),
	}
	for name, role := range roles {
		t.roles[name] = role
	}
	return t
}

// Apply updates the tracker based on the supplied event.
func (t *Tracker) Apply(evt Event) {
	if evt.Type == EventTypeLog {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.services[evt.Service]
	if state == nil {
		state = &serviceStatus{name: evt.Service, firstSeen: evt.Timestamp, exitCode: -1}
		t.services[evt.Service] = state
	}
	if evt.Timestamp.After(state.lastEvent) {
		state.lastEvent = evt.Timestamp
	}

	state.state = evt.Type
	switch evt.Type {
	case EventTypeReady:
		state.ready = true
	case EventTypeStopping, EventTypeStopped, EventTypeFailed, EventTypeError, EventTypeExited:
		state.ready = false
	}
	if evt.Type == EventTypeExited {
		state.exitCode = evt.ExitCode
	}

	message := evt.Message
	if message == "" && evt.Err != nil {
		message = evt.Err.Error()
	}
	if message != "" {
		state.message = cliutil.RedactSecrets(message)
	}
}

// Snapshot returns a point-in-time report of every tracked service.
func (t *Tracker) Snapshot() *Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	report := &Report{
		Session:     t.session,
		GeneratedAt: time.Now(),
		Services:    make(map[string]ServiceReport, len(t.services)),
	}
	healthy := len(t.services) > 0
	for name, state := range t.services {
		report.Services[name] = ServiceReport{
			Name:      name,
			Role:      t.roles[name],
			State:     state.state,
			Ready:     state.ready,
			Message:   state.message,
			ExitCode:  state.exitCode,
			FirstSeen: state.firstSeen,
			LastEvent: state.lastEvent,
		}
		if !state.ready {
			healthy = false
		}
	}
	report.Healthy = healthy
	return report
}

// Healthy reports whether every tracked service is currently ready.
func (t *Tracker) Healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.services) == 0 {
		return false
	}
	for _, state := range t.services {
		if !state.ready {
			return false
		}
	}
	return true
}
