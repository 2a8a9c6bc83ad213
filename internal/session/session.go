package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adithyaa-s/atlasd/internal/config"
	"github.com/adithyaa-s/atlasd/internal/runtime"
)

const (
	foregroundStopTimeout = 5 * time.Second
	teardownTimeout       = 10 * time.Second
)

// Result captures the outcome of a completed session.
type Result struct {
	// Foreground names the service whose exit ended the session.
	Foreground string
	// ExitCode is the foreground service's exit status. The supervisor's
	// own exit status mirrors this value. -1 when the foreground process
	// was terminated by a signal or never ran.
	ExitCode int
}

// Session sequences the services of one supervised run: sidecars are started
// first and awaited ready, the foreground service then runs until it exits,
// and finally every sidecar is stopped in reverse start order.
//
// The sequence is strictly linear. There are no restarts, retries or loops:
// a failure to start or ready any service aborts the session after a
// best-effort teardown of whatever had already been started.
type Session struct {
	manifest *config.Manifest
	launcher runtime.Launcher
	events   chan<- Event

	sleep func(context.Context, time.Duration) error

	mu       sync.Mutex
	started  []startedService
	torndown bool

	logWG sync.WaitGroup
}

type startedService struct {
	name   string
	handle runtime.Handle
}

// New constructs a session for the provided manifest. Events, when non-nil,
// receives lifecycle and log notifications for the session's services. No
// events are delivered after Run returns, so callers may close the channel
// once Run has completed.
func New(manifest *config.Manifest, launcher runtime.Launcher, events chan<- Event) *Session {
	return &Session{
		manifest: manifest,
		launcher: launcher,
		events:   events,
		sleep:    sleepWithContext,
	}
}

// Run executes the session until the foreground service exits or the context
// is cancelled. The returned Result carries the foreground exit code; the
// error reports session-level failures (a service that could not start or
// become ready, or context cancellation).
func (s *Session) Run(ctx context.Context) (Result, error) {
	if s.manifest == nil {
		return Result{ExitCode: -1}, errors.New("session manifest is nil")
	}
	fgName, fgSpec := s.manifest.Foreground()
	if fgSpec == nil {
		return Result{ExitCode: -1}, errors.New("manifest defines no foreground service")
	}

	for _, name := range s.manifest.Sidecars() {
		svc := s.manifest.Services[name]
		if err := s.startSidecar(ctx, name, svc); err != nil {
			s.teardown()
			s.logWG.Wait()
			return Result{Foreground: fgName, ExitCode: -1}, err
		}
	}

	sendEvent(s.events, fgName, EventTypeStarting, "starting foreground service", ReasonForegroundStart, nil)
	fg, err := s.launcher.Start(ctx, fgName, fgSpec)
	if err != nil {
		err = fmt.Errorf("start foreground service %s: %w", fgName, err)
		sendEvent(s.events, fgName, EventTypeFailed, "start failed", ReasonStartFailure, err)
		s.teardown()
		s.logWG.Wait()
		return Result{Foreground: fgName, ExitCode: -1}, err
	}
	s.streamLogs(fgName, fg)
	sendEvent(s.events, fgName, EventTypeReady, "foreground service running", ReasonForegroundStart, nil)

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- fg.Wait(context.Background())
	}()

	select {
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), foregroundStopTimeout)
		err := fg.Stop(stopCtx)
		cancel()
		if err != nil {
			sendEvent(s.events, fgName, EventTypeError, "stop failed", ReasonStopFailed, err)
		}
		<-waitCh
		exit := fg.ExitCode()
		s.sendExit(fgName, exit, fmt.Sprintf("foreground service interrupted (exit %d)", exit))
		s.teardown()
		s.logWG.Wait()
		return Result{Foreground: fgName, ExitCode: exit}, ctx.Err()
	case <-waitCh:
		exit := fg.ExitCode()
		s.sendExit(fgName, exit, fmt.Sprintf("foreground service exited (exit %d)", exit))
		s.teardown()
		s.logWG.Wait()
		return Result{Foreground: fgName, ExitCode: exit}, nil
	}
}

func (s *Session) startSidecar(ctx context.Context, name string, svc *config.ServiceSpec) error {
	sendEvent(s.events, name, EventTypeStarting, "starting sidecar", ReasonSidecarStart, nil)
	handle, err := s.launcher.Start(ctx, name, svc)
	if err != nil {
		err = fmt.Errorf("start sidecar %s: %w", name, err)
		sendEvent(s.events, name, EventTypeFailed, "start failed", ReasonStartFailure, err)
		return err
	}
	s.track(name, handle)
	s.streamLogs(name, handle)

	switch {
	case svc.Warmup.IsSet():
		// Fixed delay requested by the manifest: a policy choice, not a
		// readiness check.
		if err := s.sleep(ctx, svc.Warmup.Duration); err != nil {
			return fmt.Errorf("sidecar %s warmup: %w", name, err)
		}
		sendEvent(s.events, name, EventTypeReady, "warmup elapsed", ReasonWarmupElapsed, nil)
	case svc.Health != nil:
		if err := handle.WaitReady(ctx); err != nil {
			err = fmt.Errorf("sidecar %s readiness: %w", name, err)
			sendEvent(s.events, name, EventTypeFailed, "readiness failed", ReasonReadinessFailed, err)
			return err
		}
		sendEvent(s.events, name, EventTypeReady, "sidecar ready", ReasonProbeReady, nil)
	default:
		if err := handle.WaitReady(ctx); err != nil {
			err = fmt.Errorf("sidecar %s: %w", name, err)
			sendEvent(s.events, name, EventTypeFailed, "start failed", ReasonStartFailure, err)
			return err
		}
		sendEvent(s.events, name, EventTypeReady, "sidecar started", ReasonSidecarStart, nil)
	}
	return nil
}

// teardown stops every started sidecar in reverse start order exactly once.
// Stop failures are reported as events and swallowed: a sidecar that has
// already exited must not fail the session.
func (s *Session) teardown() {
	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return
	}
	s.torndown = true
	started := make([]startedService, len(s.started))
	copy(started, s.started)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		sendEvent(s.events, svc.name, EventTypeStopping, "stopping service", ReasonTeardown, nil)
		if err := svc.handle.Stop(ctx); err != nil {
			sendEvent(s.events, svc.name, EventTypeError, "stop failed", ReasonStopFailed, err)
			continue
		}
		sendEvent(s.events, svc.name, EventTypeStopped, "service stopped", ReasonTeardown, nil)
	}
}

func (s *Session) sendExit(name string, exitCode int, message string) {
	if s.events == nil {
		return
	}
	s.events <- Event{
		Timestamp: time.Now(),
		Service:   name,
		Type:      EventTypeExited,
		Message:   message,
		Level:     "info",
		Source:    runtime.LogSourceSystem,
		ExitCode:  exitCode,
		Reason:    ReasonForegroundExit,
	}
}

func (s *Session) track(name string, handle runtime.Handle) {
	s.mu.Lock()
	s.started = append(s.started, startedService{name: name, handle: handle})
	s.mu.Unlock()
}

func (s *Session) streamLogs(name string, handle runtime.Handle) {
	logs := handle.Logs()
	if logs == nil {
		return
	}
	s.logWG.Add(1)
	go func() {
		defer s.logWG.Done()
		for entry := range logs {
			if entry.Message == "" {
				continue
			}
			if s.events == nil {
				continue
			}
			level := entry.Level
			if level == "" {
				level = "info"
			}
			source := entry.Source
			if source == "" {
				source = runtime.LogSourceStdout
			}
			ts := entry.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			s.events <- Event{
				Timestamp: ts,
				Service:   name,
				Type:      EventTypeLog,
				Message:   entry.Message,
				Level:     level,
				Source:    source,
			}
		}
	}()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
