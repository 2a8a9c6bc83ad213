package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adithyaa-s/atlasd/internal/cliutil"
	"github.com/adithyaa-s/atlasd/internal/config"
	"github.com/adithyaa-s/atlasd/internal/session"
	"github.com/adithyaa-s/atlasd/internal/tui"
)

func newTuiCmd(ctx *context) *cobra.Command {
	var statusAddr string
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Run the session with the interactive status interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !supportsInteractiveOutput(cmd) {
				return fmt.Errorf("tui requires an interactive terminal")
			}

			manifest, err := ctx.loadManifest()
			if err != nil {
				return err
			}

			return runSessionTUI(cmd, manifest, statusAddr)
		},
	}
	cmd.Flags().StringVar(&statusAddr, "status-addr", statusAddrFromEnv(), "address for the status and metrics endpoint (empty disables it)")
	return cmd
}

func supportsInteractiveOutput(cmd *cobra.Command) bool {
	return cliutil.IsInteractive(cmd.OutOrStdout())
}

func runSessionTUI(cmd *cobra.Command, manifest *config.Manifest, statusAddr string) error {
	ui := tui.New()

	uiDone := make(chan error, 1)
	go func() {
		uiDone <- ui.Run(cmd.Context())
	}()

	sink := ui.EventSink()
	runErr := runSession(cmd, manifest, statusAddr, func(evt session.Event) {
		select {
		case sink <- evt:
		case <-ui.Done():
		}
	})

	ui.CloseEvents()
	ui.Stop()
	if err := <-uiDone; err != nil {
		return err
	}
	return runErr
}
