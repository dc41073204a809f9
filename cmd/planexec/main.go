package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hanpama/planexec/internal/config"
	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries state shared by the subcommands of one invocation.
type cli struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config

	unsubscribe func()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root := newRootCmd(&cli{v: viper.New()})
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "planexec",
		Short:         "Execute compiled federated query plans",
		Long:          "planexec runs compiled execution plans against relational databases, HTTP and GraphQL services and gRPC services, and serializes their results.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			c.teardown()
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default: planexec.yaml in ., $HOME/.planexec, /etc/planexec)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "log format (console, json)")
	_ = c.v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = c.v.BindPFlag("logging.format", root.PersistentFlags().Lookup("log-format"))

	root.AddCommand(c.runCmd(), c.serveCmd(), c.protoCmd(), c.versionCmd())
	return root
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	c.cfg = cfg
	if err := log.Setup(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}
	eventbus.Use(eventbus.New())
	c.unsubscribe = log.Subscribe()
	return nil
}

func (c *cli) teardown() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	_ = log.Sync()
}
