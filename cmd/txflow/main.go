// cmd/txflow/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/txflow/internal/config"
	"github.com/altuslabsxyz/txflow/internal/logging"
	"github.com/altuslabsxyz/txflow/internal/output"
	"github.com/altuslabsxyz/txflow/internal/version"
)

// annotation marking commands that run without loading configuration.
const skipConfig = "txflow/skip-config"

// app holds state shared by all subcommands.
type app struct {
	home       string
	configPath string

	gatewayURL string
	token      string
	logLevel   string
	noColor    bool
	jsonOut    bool

	cfg    *config.Config
	logger *slog.Logger
	out    *output.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "txflow",
		Short:         "Transaction lifecycle orchestrator",
		Long:          `txflow builds, signs, submits and registers transactions through a gateway, then watches them until their dependent effects land.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.out = output.NewLoggerTo(cmd.OutOrStdout(), cmd.ErrOrStderr())
			a.out.SetNoColor(a.noColor)
			a.out.SetJSONMode(a.jsonOut)
			if cmd.Annotations[skipConfig] == "true" {
				a.logger = logging.New(a.logLevel, cmd.ErrOrStderr())
				return nil
			}
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.home, "home", "", "txflow home directory (default $TXFLOW_HOME or ~/.txflow)")
	flags.StringVar(&a.configPath, "config", "", "config file (default <home>/txflow.toml)")
	flags.StringVar(&a.gatewayURL, "gateway", "", "gateway base URL")
	flags.StringVar(&a.token, "token", "", "gateway bearer token")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&a.jsonOut, "json", false, "print machine-readable JSON")

	root.AddCommand(
		newSubmitCmd(a),
		newWatchCmd(a),
		newStatusCmd(a),
		newPendingCmd(a),
		newHashCmd(a),
		newJournalCmd(a),
		newResyncCmd(a),
		newConfigCmd(a),
		newDevGatewayCmd(a),
		withoutConfig(version.NewCmd("txflow")),
	)
	return root
}

func withoutConfig(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[skipConfig] = "true"
	return cmd
}

// load resolves configuration: defaults < file < env < flags.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.NewLoader(a.home, a.configPath).Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("gateway") {
		cfg.Gateway.URL = a.gatewayURL
	}
	if flags.Changed("token") {
		cfg.Gateway.Token = a.token
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}

	if err := config.Validate(cfg); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logging.New(cfg.Log.Level, cmd.ErrOrStderr())
	slog.SetDefault(a.logger)
	return nil
}
