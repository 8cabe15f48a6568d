// File: cmd/makenaide.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jsj9346/makenaide-sub002/pkg/app"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

var (
	cfgFile   string
	dryRun    bool
	riskLevel string
	cfg       utilities.AppConfig
	logger    *utilities.Logger
)

// rootCmd represents the base command for the Makenaide CLI.
var rootCmd = &cobra.Command{
	Use:   "makenaide",
	Short: "Makenaide automated trade execution engine",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetConfigFile(cfgFile)
		viper.SetConfigType("json")
		viper.AutomaticEnv()
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}

		// Flags beat the config file.
		if cmd.Flags().Changed("dry-run") {
			cfg.Trading.DryRun = dryRun
		}
		if cmd.Flags().Changed("risk-level") {
			cfg.Sizing.RiskLevel = riskLevel
		}

		level, err := utilities.ParseLogLevel(cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		logger = utilities.NewLogger(level)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			logger.LogWarn("Received signal: %v, initiating graceful shutdown.", sig)
			cancel()
		}()

		return app.Run(ctx, &cfg, logger)
	},
}

// Execute runs the root command.
func Execute() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.json", "config file")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "simulate orders without hitting the exchange")
	rootCmd.PersistentFlags().StringVar(&riskLevel, "risk-level", "", "override sizing risk level (conservative|moderate|aggressive)")
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
