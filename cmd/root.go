package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evstation/app"
	"github.com/kilianp07/evstation/config"
	"github.com/kilianp07/evstation/infra/logger"
)

var (
	cfgPath  string
	listen   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "evstation",
	Short:        "Shared-power EV charging station",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.Flags().StringVar(&listen, "listen", "", "override http.addr")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override log.level")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(cfg); err != nil {
		return err
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}

// applyOverrides lets command line flags win over the file and environment.
func applyOverrides(cfg *config.Config) error {
	if listen == "" && logLevel == "" {
		return nil
	}
	if listen != "" {
		cfg.HTTP.Addr = listen
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	return nil
}
