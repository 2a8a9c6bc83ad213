//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// Stop terminates the process group with SIGTERM, escalating to SIGKILL once
// the grace period expires. A process that has already exited is treated as a
// successful stop, not an error.
func (p *processHandle) Stop(ctx context.Context) error {
	var result error
	p.stopOnce.Do(func() {
		result = p.terminate(ctx)
	})
	return result
}

func (p *processHandle) terminate(ctx context.Context) error {
	p.cancelWatch()
	if p.cmd.Process == nil {
		return nil
	}

	select {
	case <-p.waitDone:
		return nil
	default:
	}

	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %s: %w", p.name, err)
	}

	select {
	case <-p.waitDone:
		return nil
	case <-time.After(p.stopGrace):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %s: %w", p.name, err)
	}
	select {
	case <-p.waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
