package main

import (
	"github.com/spf13/cobra"

	"PluginHub/internal/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "pluginhubd",
		Short:         "Tenant plugin reconciliation service",
		Long:          `pluginhubd loads plugin configurations from storage, binds each one to an execution unit and keeps that binding current as configurations change.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default from $"+config.EnvConfigPath+")")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newInspectCmd(opts))
	cmd.AddCommand(newReloadCmd())
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(config.ResolvePath(o.configPath))
}
