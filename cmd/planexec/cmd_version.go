package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hanpama/planexec/internal/plan"
)

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and supported node kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kinds := make([]string, 0, len(plan.Kinds()))
			for _, k := range plan.Kinds() {
				kinds = append(kinds, string(k))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "planexec %s (%s)\nnode kinds: %s\n",
				version, runtime.Version(), strings.Join(kinds, ", "))
			return nil
		},
	}
}
