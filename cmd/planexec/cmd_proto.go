package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hanpama/planexec/internal/protodump"
)

func (c *cli) protoCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "proto <plan>",
		Short: "Render the protobuf descriptors embedded in a plan as .proto files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := loadPlan(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			files, err := protodump.Files(root, nil)
			if err != nil {
				return err
			}
			if out != "" {
				return protodump.Render(files, out)
			}
			w := cmd.OutOrStdout()
			for _, fd := range files {
				fmt.Fprintf(w, "// %s\n", fd.Path())
				if err := protodump.Print(fd, w); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output directory (default: stdout)")
	return cmd
}
