package main

import (
	"context"
	"fmt"

	"github.com/gammadia/standby/client/ui"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision NODE",
	Short: "Provision a node and wait until it is ready",
	Args:  cobra.ExactArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		ctx := cmd.Context()
		if timeout := lo.Must(cmd.Flags().GetDuration("timeout")); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		node, err := client.Get(ctx, id)
		if err != nil {
			return err
		}

		msg := fmt.Sprintf("Provisioning node '%s'", id)
		if !node.Status.Servable() {
			msg += fmt.Sprintf(" (about %s)", formatReadyIn(node))
		}
		spinner := ui.NewSpinner(msg)

		endpoint, err := client.Provision(ctx, id)
		if err != nil {
			spinner.Fail()
			return err
		}

		spinner.Success(fmt.Sprintf("Node '%s' is ready at %s", id, endpoint.Address))
		return nil
	},
}

func init() {
	provisionCmd.Flags().Duration("timeout", 0, "how long to wait for the node, 0 to wait for the server to give up")
}
