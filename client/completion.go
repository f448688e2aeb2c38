package main

import (
	"context"
	"strings"

	"github.com/gammadia/standby/lifecycle"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish]",
	Short: "Generate shell completion scripts",

	// Generating scripts does not need a server
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

var completionBashCmd = &cobra.Command{
	Use:   "bash",
	Short: "Generate bash completion script",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return standbyCmd.GenBashCompletionV2(cmd.OutOrStdout(), true)
	},
}

var completionZshCmd = &cobra.Command{
	Use:   "zsh",
	Short: "Generate zsh completion script",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return standbyCmd.GenZshCompletion(cmd.OutOrStdout())
	},
}

var completionFishCmd = &cobra.Command{
	Use:   "fish",
	Short: "Generate fish completion script",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return standbyCmd.GenFishCompletion(cmd.OutOrStdout(), true)
	},
}

// completeNodes suggests the ids of the nodes known to the server, with
// their status as description. Ids already on the command line are skipped,
// and only one id is offered unless multiple is set.
func completeNodes(multiple bool) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if client == nil || (!multiple && len(args) > 0) {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		nodes, err := client.List(ctx)
		if err != nil {
			cobra.CompDebugln("failed to list nodes: "+err.Error(), true)
			return nil, cobra.ShellCompDirectiveError
		}

		return lo.FilterMap(nodes, func(node lifecycle.Metadata, _ int) (string, bool) {
			return node.ID + "\t" + string(node.Status),
				strings.HasPrefix(node.ID, toComplete) && !lo.Contains(args, node.ID)
		}), cobra.ShellCompDirectiveNoFileComp
	}
}

func init() {
	completionCmd.AddCommand(completionBashCmd, completionZshCmd, completionFishCmd)

	showCmd.ValidArgsFunction = completeNodes(false)
	provisionCmd.ValidArgsFunction = completeNodes(false)
	terminateCmd.ValidArgsFunction = completeNodes(true)
}
