package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adithyaa-s/atlasd/internal/config"
	"github.com/adithyaa-s/atlasd/schema"
)

func newCheckCmd(ctx *context) *cobra.Command {
	var printSchema bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the manifest and print the startup plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				_, err := cmd.OutOrStdout().Write(schema.SessionV1Schema)
				return err
			}
			manifest, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s loaded from %s\n", manifest.Session.Name, *ctx.manifestFile)
			fmt.Fprintln(cmd.OutOrStdout(), "Startup order:")
			step := 1
			for _, name := range manifest.Sidecars() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s (sidecar, %s)\n", step, name, readinessStrategy(manifest.Services[name]))
				step++
			}
			fgName, _ := manifest.Foreground()
			fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s (foreground)\n", step, fgName)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printSchema, "print-schema", false, "print the manifest JSON schema and exit")
	return cmd
}

func readinessStrategy(svc *config.ServiceSpec) string {
	switch {
	case svc == nil:
		return "unknown"
	case svc.Warmup.IsSet():
		return fmt.Sprintf("warmup %s", svc.Warmup.Duration)
	case svc.Health != nil && svc.Health.HTTP != nil:
		return fmt.Sprintf("http probe %s", svc.Health.HTTP.URL)
	case svc.Health != nil && svc.Health.TCP != nil:
		return fmt.Sprintf("tcp probe %s", svc.Health.TCP.Address)
	case svc.Health != nil && svc.Health.Command != nil:
		return "command probe"
	default:
		return "immediate"
	}
}
