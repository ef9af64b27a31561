package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nadia/kinara/internal/config"
	"github.com/nadia/kinara/internal/daemon"
	"github.com/nadia/kinara/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the Kinara daemon in the foreground",
	Long: `Run the Kinara daemon. It periodically plans steps for neglected goals,
executes active plans, and serves metrics and status over HTTP.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(cmd.ErrOrStderr(), "config:", e)
		}
		return fmt.Errorf("invalid configuration")
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, loader, log)
	if err != nil {
		return err
	}
	return d.Start(context.Background())
}
