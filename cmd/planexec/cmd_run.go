package main

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/hanpama/planexec/internal/executor"
	"github.com/hanpama/planexec/internal/identity"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/realize"
	"github.com/hanpama/planexec/internal/serialize"
)

func (c *cli) runCmd() *cobra.Command {
	var (
		format  string
		caller  string
		session string
		out     string
	)
	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Execute a plan file and write its serialized result",
		Long: `Execute a compiled plan (JSON or YAML, "-" for stdin) and write the result.
Formats: DEFAULT, RAW, CSV, CSV_TRANSFORMED, PURE, PURE_TDSOBJECT, GRID.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := serialize.ParseFormat(format)
			if err != nil {
				return err
			}
			root, err := loadPlan(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			a, err := newApp(c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			id := identity.Anonymous()
			if caller != "" {
				id = identity.Identity{Name: caller}
			}
			ctx := identity.NewContext(cmd.Context(), id)
			res, err := a.engine.Run(ctx, root, executor.NewState(id, session))
			if err != nil {
				return err
			}

			var w io.Writer = struct{ io.Writer }{cmd.OutOrStdout()} // hides Close from the limit
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return errors.CombineErrors(err, res.Close())
				}
				defer file.Close()
				w = file
			}
			return serialize.Write(realize.Limit(w, c.cfg.Execution.MaxGenerationBytes), res, f)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "DEFAULT", "result format")
	cmd.Flags().StringVar(&caller, "identity", "", "caller identity used for credential resolution")
	cmd.Flags().StringVar(&session, "session", "cli", "session id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the result to a file instead of stdout")
	return cmd
}

func loadPlan(stdin io.Reader, path string) (plan.Node, error) {
	if path != "-" {
		return plan.Load(path)
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, err
	}
	return plan.Decode(data)
}
