package main

import (
	"errors"
	"fmt"

	"github.com/gammadia/standby/client/ui"
	"github.com/spf13/cobra"
)

var terminateCmd = &cobra.Command{
	Use:   "terminate NODE...",
	Short: "Terminate nodes, letting in-flight requests finish first",
	Args:  cobra.MinimumNArgs(1),

	RunE: func(cmd *cobra.Command, args []string) error {
		var errs []error
		for _, id := range args {
			spinner := ui.NewSpinner(fmt.Sprintf("Terminating node '%s'", id))
			if err := client.Terminate(cmd.Context(), id); err != nil {
				spinner.Fail()
				errs = append(errs, fmt.Errorf("node '%s': %w", id, err))
				continue
			}
			spinner.Success(fmt.Sprintf("Node '%s' terminated", id))
		}
		return errors.Join(errs...)
	},
}
