package main

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version number of standby",

	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.Printf("standby version %s (%s)\n", version, shortCommit(commit))

		ping, err := client.Ping(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("server version %s (%s)\n", ping.Version, shortCommit(ping.Commit))
		return nil
	},
}

func shortCommit(commit string) string {
	return commit[:min(len(commit), 7)]
}
