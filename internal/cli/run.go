package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adithyaa-s/atlasd/internal/cliutil"
	"github.com/adithyaa-s/atlasd/internal/config"
	"github.com/adithyaa-s/atlasd/internal/metrics"
	"github.com/adithyaa-s/atlasd/internal/probe"
	"github.com/adithyaa-s/atlasd/internal/runtime/process"
	"github.com/adithyaa-s/atlasd/internal/session"
	"github.com/adithyaa-s/atlasd/internal/status"
)

var newStatusServer = status.NewServer

const eventBuffer = 64

func newRunCmd(ctx *context) *cobra.Command {
	var statusAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the session and supervise it until the foreground service exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			consume := func(evt session.Event) {
				fmt.Fprintln(cmd.OutOrStdout(), formatEventText(evt))
			}
			if !cliutil.IsInteractive(cmd.OutOrStdout()) {
				enc := json.NewEncoder(cmd.OutOrStdout())
				consume = func(evt session.Event) {
					encodeLogEvent(enc, cmd.ErrOrStderr(), evt)
				}
			}
			return runSession(cmd, manifest, statusAddr, consume)
		},
	}
	cmd.Flags().StringVar(&statusAddr, "status-addr", statusAddrFromEnv(), "address for the status and metrics endpoint (empty disables it)")
	return cmd
}

// runSession drives one session to completion, fanning events out to the
// tracker, the metrics registry and the supplied consumer. The returned error
// is an *exitCodeError when the foreground service exited non-zero so the
// supervisor process can mirror its exit status.
func runSession(cmd *cobra.Command, manifest *config.Manifest, statusAddr string, consume func(session.Event)) error {
	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = stdcontext.Background()
	}

	tracker := session.NewTracker(manifest.Session.Name, serviceRoles(manifest))
	probe.SetLatencyObserver(metrics.ObserveProbeLatency)

	stopStatus, err := startStatusServer(cmd, runCtx, statusAddr, tracker)
	if err != nil {
		return err
	}

	events := make(chan session.Event, eventBuffer)
	sess := session.New(manifest, process.New(), events)

	type outcome struct {
		result session.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := sess.Run(runCtx)
		close(events)
		done <- outcome{result: result, err: err}
	}()

	for evt := range events {
		tracker.Apply(evt)
		applyMetrics(evt)
		if consume != nil {
			consume(evt)
		}
	}

	out := <-done
	if stopStatus != nil {
		if err := stopStatus(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: status server: %v\n", err)
		}
	}

	if out.err != nil && !errors.Is(out.err, stdcontext.Canceled) {
		return out.err
	}
	if code := out.result.ExitCode; code != 0 {
		if code < 0 {
			// Killed by signal or never ran; report a generic failure.
			code = 1
		}
		return &exitCodeError{code: code}
	}
	return nil
}

func startStatusServer(cmd *cobra.Command, runCtx stdcontext.Context, addr string, tracker *session.Tracker) (func() error, error) {
	if addr == "" {
		return nil, nil
	}
	server, err := newStatusServer(status.Config{Addr: addr, Reporter: tracker})
	if err != nil {
		return nil, err
	}
	serverCtx, cancel := stdcontext.WithCancel(runCtx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()

	readyTimer := time.NewTimer(200 * time.Millisecond)
	defer readyTimer.Stop()
	select {
	case err := <-errCh:
		cancel()
		return nil, fmt.Errorf("status server: %w", err)
	case <-readyTimer.C:
	case <-runCtx.Done():
		cancel()
		<-errCh
		return nil, runCtx.Err()
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Status endpoint listening on %s\n", server.Addr())

	return func() error {
		cancel()
		err := <-errCh
		if err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}, nil
}

func applyMetrics(evt session.Event) {
	switch evt.Type {
	case session.EventTypeReady:
		metrics.SetServiceReady(evt.Service, true)
	case session.EventTypeStopping, session.EventTypeStopped, session.EventTypeFailed, session.EventTypeError:
		metrics.SetServiceReady(evt.Service, false)
	case session.EventTypeExited:
		metrics.SetServiceReady(evt.Service, false)
		metrics.SetServiceExitCode(evt.Service, evt.ExitCode)
	}
}

func serviceRoles(manifest *config.Manifest) map[string]string {
	roles := make(map[string]string, len(manifest.Services))
	for name, svc := range manifest.Services {
		roles[name] = svc.Role
	}
	return roles
}

func statusAddrFromEnv() string {
	return os.Getenv("ATLASD_STATUS_ADDR")
}
