package cli

import (
	"github.com/fjod/storefront/internal/config"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

type rootOptions struct {
	configDir string
	env       string
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.configDir, o.env)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "storefront",
		Short:         "Storefront cart and checkout service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configDir, "config-dir", "configs", "directory holding base.yaml and environment overlays")
	cmd.PersistentFlags().StringVar(&opts.env, "env", "", "environment overlay to apply, e.g. staging")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newSeedCmd(opts))
	cmd.AddCommand(newTokenCmd(opts))
	return cmd
}

func Execute() error {
	return newRootCmd().Execute()
}
