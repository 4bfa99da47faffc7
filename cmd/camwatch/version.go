package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GoldenTiger720/secondkeeper/pkg/version"
)

func newVersionCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print camwatch version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			version.ComponentName = "camwatch"
			if asJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(version.GetInfo())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "camwatch %s\n", version.Version)
			fmt.Fprintf(cmd.OutOrStdout(), " - git: %s\n", version.GitCommit)
			fmt.Fprintf(cmd.OutOrStdout(), " - built: %s\n", version.BuildDate)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
