package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adithyaa-s/atlasd/internal/config"
	"github.com/adithyaa-s/atlasd/internal/probe"
	"github.com/adithyaa-s/atlasd/internal/runtime"
)

const defaultStopGracePeriod = 2 * time.Second

type launcher struct{}

// New constructs a launcher that executes services as local processes.
func New() runtime.Launcher {
	return &launcher{}
}

func (l *launcher) Start(ctx context.Context, name string, svc *config.ServiceSpec) (runtime.Handle, error) {
	if svc == nil || len(svc.Command) == 0 {
		return nil, fmt.Errorf("process launcher for service %s requires a command", name)
	}

	cmd := exec.CommandContext(ctx, svc.Command[0], svc.Command[1:]...)
	if svc.ResolvedWorkdir != "" {
		cmd.Dir = svc.ResolvedWorkdir
	}

	env := os.Environ()
	if svc.Env != nil {
		envOverrides := make([]string, 0, len(svc.Env))
		for k, v := range svc.Env {
			envOverrides = append(envOverrides, fmt.Sprintf("%s=%s", k, v))
		}
		env = append(env, envOverrides...)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("service %s stdout: %w", name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("service %s stderr: %w", name, err)
	}

	configureCmdSysProcAttr(cmd)

	stopGrace := svc.StopGracePeriod.Duration
	if stopGrace <= 0 {
		stopGrace = defaultStopGracePeriod
	}

	// Context cancellation delivers the same graceful termination sequence
	// as Stop: a termination signal first, a forced kill only after the
	// grace period.
	cmd.Cancel = func() error {
		return gracefulCancel(cmd)
	}
	cmd.WaitDelay = stopGrace

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start service %s: %w", name, err)
	}

	h := &processHandle{
		name:      name,
		cmd:       cmd,
		stopGrace: stopGrace,
		logs:      make(chan runtime.LogEntry, 64),
		waitDone:  make(chan struct{}),
	}
	h.exitCode.Store(-1)

	if svc.Health != nil {
		spec := svc.Health.Clone()
		prober, err := probe.New(spec)
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, fmt.Errorf("create probe for service %s: %w", name, err)
		}

		h.health = spec
		h.healthCh = make(chan probe.State, 1)
		h.readyCh = make(chan struct{})
		h.readyErr = make(chan error, 1)
		h.watchCtx, h.watchCancel = context.WithCancel(context.Background())

		events := probe.Watch(h.watchCtx, prober, spec, nil)
		go h.observeHealth(events)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go h.streamLogs(stdout, runtime.LogSourceStdout, &wg)
	go h.streamLogs(stderr, runtime.LogSourceStderr, &wg)
	go func() {
		wg.Wait()
		close(h.logs)
	}()

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		if state := cmd.ProcessState; state != nil {
			h.exitCode.Store(int64(state.ExitCode()))
		}
		close(h.waitDone)
	}()

	return h, nil
}

type processHandle struct {
	name      string
	cmd       *exec.Cmd
	stopGrace time.Duration
	logs      chan runtime.LogEntry
	health    *config.ProbeSpec

	waitDone chan struct{}
	mu       sync.Mutex
	waitErr  error
	exitCode atomic.Int64

	watchCtx    context.Context
	watchCancel context.CancelFunc

	healthCh chan probe.State

	readyCh      chan struct{}
	readyErr     chan error
	readyOnce    sync.Once
	readyErrOnce sync.Once
	initialReady atomic.Bool

	stopOnce sync.Once
}

func (p *processHandle) WaitReady(ctx context.Context) error {
	if p.health == nil || p.readyCh == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.waitDone:
			if err := p.exitError(); err != nil {
				return fmt.Errorf("process %s exited: %w", p.name, err)
			}
			return nil
		default:
			return nil
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-p.readyErr:
		if err == nil {
			return errors.New("probe reported unready before initial readiness")
		}
		return err
	case <-p.readyCh:
		return nil
	case <-p.waitDone:
		if err := p.exitError(); err != nil {
			return fmt.Errorf("process %s exited: %w", p.name, err)
		}
		return fmt.Errorf("process %s exited before becoming ready", p.name)
	}
}

func (p *processHandle) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.waitDone:
		return p.exitError()
	}
}

func (p *processHandle) ExitCode() int {
	return int(p.exitCode.Load())
}

func (p *processHandle) Health() <-chan probe.State {
	return p.healthCh
}

func (p *processHandle) Logs() <-chan runtime.LogEntry {
	return p.logs
}

func (p *processHandle) exitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *processHandle) streamLogs(r io.Reader, source string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\n")
		entry := runtime.LogEntry{Timestamp: time.Now(), Message: line, Source: source}
		if source == runtime.LogSourceStderr {
			entry.Level = "warn"
		}
		p.logs <- entry
	}
}

func (p *processHandle) observeHealth(states <-chan probe.State) {
	defer close(p.healthCh)
	for {
		select {
		case <-p.watchCtx.Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			if state.Status == probe.StatusReady {
				if p.initialReady.CompareAndSwap(false, true) {
					p.readyOnce.Do(func() { close(p.readyCh) })
				}
			} else if state.Status == probe.StatusUnready {
				if !p.initialReady.Load() {
					err := state.Err
					if err == nil {
						err = errors.New("probe reported unready before initial readiness")
					}
					p.readyErrOnce.Do(func() {
						select {
						case p.readyErr <- err:
						default:
						}
					})
				}
			}

			select {
			case p.healthCh <- state:
			case <-p.watchCtx.Done():
				return
			}
		}
	}
}

func (p *processHandle) cancelWatch() {
	if p.watchCancel != nil {
		p.watchCancel()
		p.watchCancel = nil
	}
}
