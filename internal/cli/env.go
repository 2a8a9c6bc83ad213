package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adithyaa-s/atlasd/internal/cliutil"
)

func newEnvCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env [service]",
		Short: "Print the merged environment each service will receive",
		Long: "Resolves the session env file, per-service env files and inline " +
			"overrides in precedence order and prints the result. Values of " +
			"known credential keys are redacted.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := ctx.loadManifest()
			if err != nil {
				return err
			}

			names := make([]string, 0, len(manifest.Services))
			for name := range manifest.Services {
				names = append(names, name)
			}
			sort.Strings(names)

			if len(args) == 1 {
				if _, ok := manifest.Services[args[0]]; !ok {
					return fmt.Errorf("unknown service %q", args[0])
				}
				names = args
			}

			for i, name := range names {
				if i > 0 {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", name)
				svc := manifest.Services[name]
				if len(svc.Env) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "  (inherited environment only)")
					continue
				}
				keys := make([]string, 0, len(svc.Env))
				for key := range svc.Env {
					keys = append(keys, key)
				}
				sort.Strings(keys)
				for _, key := range keys {
					line := fmt.Sprintf("%s=%s", key, svc.Env[key])
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", cliutil.RedactSecrets(line))
				}
			}
			return nil
		},
	}
	return cmd
}
