package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"PluginHub/sdk/go/pluginhub"
)

func newReloadCmd() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask a running pluginhubd to reconcile now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := pluginhub.NewClient(addr, nil)
			if err != nil {
				return err
			}
			if token == "" {
				token = os.Getenv("PLUGINHUB_API_TOKEN")
			}
			client.SetToken(token)
			res, err := client.Reload(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reload requested (queued=%t broadcast=%t)\n", res.Queued, res.Broadcast)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "pluginhubd base URL")
	cmd.Flags().StringVar(&token, "token", "", "API token (default from $PLUGINHUB_API_TOKEN)")
	return cmd
}
