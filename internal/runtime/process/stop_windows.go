//go:build windows

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Stop interrupts the process, escalating to Kill once the grace period
// expires. A process that has already exited is treated as a successful stop.
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

	_ = p.cmd.Process.Signal(os.Interrupt)

	select {
	case <-p.waitDone:
		return nil
	case <-time.After(p.stopGrace):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %s: %w", p.name, err)
	}
	select {
	case <-p.waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
