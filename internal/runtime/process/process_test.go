package process

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	stdruntime "runtime"
	"testing"
	"time"

	"github.com/adithyaa-s/atlasd/internal/config"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if stdruntime.GOOS == "windows" {
		t.Skip("process launcher tests skipped on windows")
	}
}

func TestStartStreamsLogs(t *testing.T) {
	skipOnWindows(t)

	svc := &config.ServiceSpec{
		Command: []string{"/bin/sh", "-c", "echo hello; echo oops >&2"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := New().Start(ctx, "echo", svc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = handle.Stop(context.Background()) })

	var stdoutSeen, stderrSeen bool
	for entry := range handle.Logs() {
		switch entry.Message {
		case "hello":
			stdoutSeen = true
			if entry.Source != "stdout" {
				t.Fatalf("unexpected source for stdout line: %q", entry.Source)
			}
		case "oops":
			stderrSeen = true
			if entry.Level != "warn" {
				t.Fatalf("stderr line not levelled warn: %q", entry.Level)
			}
		}
	}
	if !stdoutSeen || !stderrSeen {
		t.Fatalf("missing log lines: stdout=%v stderr=%v", stdoutSeen, stderrSeen)
	}
}

func TestWaitReadyWithoutProbeIsImmediate(t *testing.T) {
	skipOnWindows(t)

	svc := &config.ServiceSpec{
		Command: []string{"/bin/sh", "-c", "sleep 1"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := New().Start(ctx, "sleeper", svc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = handle.Stop(context.Background()) })

	readyCtx, readyCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer readyCancel()
	if err := handle.WaitReady(readyCtx); err != nil {
		t.Fatalf("expected immediate readiness, got %v", err)
	}
}

func TestWaitReadyBlocksUntilProbeSuccess(t *testing.T) {
	skipOnWindows(t)

	readyFile := filepath.Join(t.TempDir(), "ready")

	svc := &config.ServiceSpec{
		Command: []string{"/bin/sh", "-c", "sleep 0.3; touch " + readyFile + "; sleep 5"},
		Health: &config.ProbeSpec{
			Interval:         config.Duration{Duration: 20 * time.Millisecond},
			Timeout:          config.Duration{Duration: 100 * time.Millisecond},
			FailureThreshold: 50,
			SuccessThreshold: 1,
			Command: &config.CommandProbe{
				Command: []string{"/bin/sh", "-c", "test -f " + readyFile},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	handle, err := New().Start(ctx, "slow", svc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = handle.Stop(context.Background()) })

	if err := handle.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Fatalf("readiness reported before probe could succeed: %v", elapsed)
	}
}

func TestWaitReadyFailsWhenProcessExitsEarly(t *testing.T) {
	skipOnWindows(t)

	svc := &config.ServiceSpec{
		Command: []string{"/bin/sh", "-c", "exit 1"},
		Health: &config.ProbeSpec{
			Interval:         config.Duration{Duration: 20 * time.Millisecond},
			Timeout:          config.Duration{Duration: 100 * time.Millisecond},
			FailureThreshold: 1000,
			SuccessThreshold: 1,
			Command: &config.CommandProbe{
				Command: []string{"/bin/sh", "-c", "exit 1"},
			},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := New().Start(ctx, "crasher", svc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = handle.Stop(context.Background()) })

	if err := handle.WaitReady(ctx); err == nil {
		t.Fatalf("expected readiness failure after early exit")
	}
}

func TestExitCodeRecordedAfterWait(t *testing.T) {
	skipOnWindows(t)

	svc := &config.ServiceSpec{
		Command: []string{"/bin/sh", "-c", "exit 3"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := New().Start(ctx, "exit3", svc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	err = handle.Wait(ctx)
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected exec.ExitError, got %v", err)
	}
	if got, want := handle.ExitCode(), 3; got != want {
		t.Fatalf("exit code mismatch: got %d want %d", got, want)
	}
}

func TestStopAlreadyExitedProcessIsNoop(t *testing.T) {
	skipOnWindows(t)

	svc := &config.ServiceSpec{
		Command: []string{"/bin/sh", "-c", "exit 0"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := New().Start(ctx, "oneshot", svc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := handle.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if err := handle.Stop(ctx); err != nil {
		t.Fatalf("stop after exit must not error, got %v", err)
	}
	// Idempotency: a second stop is also a no-op.
	if err := handle.Stop(ctx); err != nil {
		t.Fatalf("second stop must not error, got %v", err)
	}
}

func TestStopTerminatesRunningProcess(t *testing.T) {
	skipOnWindows(t)

	svc := &config.ServiceSpec{
		Command:         []string{"/bin/sh", "-c", "sleep 30"},
		StopGracePeriod: config.Duration{Duration: 200 * time.Millisecond},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	handle, err := New().Start(ctx, "longrun", svc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := handle.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	_ = handle.Wait(waitCtx)
	if handle.ExitCode() == 0 {
		t.Fatalf("expected non-zero exit after termination")
	}
}

func TestStartInjectsServiceEnvironment(t *testing.T) {
	skipOnWindows(t)

	svc := &config.ServiceSpec{
		Command: []string{"/bin/sh", "-c", "echo value=$ATLAS_TEST"},
		Env:     map[string]string{"ATLAS_TEST": "from-env-file"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handle, err := New().Start(ctx, "env-echo", svc)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = handle.Stop(context.Background()) })

	var seen bool
	for entry := range handle.Logs() {
		if entry.Message == "value=from-env-file" {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("configured environment not visible in child process")
	}
}

func TestContextCancelTerminatesGracefully(t *testing.T) {
	skipOnWindows(t)

	svc := &config.ServiceSpec{
		Command: []string{"/bin/sh", "-c", "trap 'exit 0' TERM; sleep 30"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle, err := New().Start(ctx, "daemon", svc)
	if err != nil {
		cancel()
		t.Fatalf("start: %v", err)
	}

	// Give the shell a moment to install its trap before signalling.
	time.Sleep(100 * time.Millisecond)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := handle.Wait(waitCtx); err != nil {
		t.Fatalf("expected clean exit via termination handler, got %v", err)
	}
	if got := handle.ExitCode(); got != 0 {
		t.Fatalf("expected exit code 0 from termination handler, got %d", got)
	}
}
