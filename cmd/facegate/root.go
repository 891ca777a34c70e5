package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/logging"
)

var (
	configFile string
	debug      bool
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Face recognition access control",
	Long: `facegate recognizes faces from a camera, decides whether to grant access
and keeps an audit log of every decision worth recording.

Train a gallery from a directory of labelled images, then run recognition
against a camera or a directory of recorded frames.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// setup loads and validates the configuration and initializes logging.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", configFile, err)
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			cfg = config.DefaultConfig()
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.ExpandPaths()

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	if err := logging.Configure(logging.Options{
		Level:      level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("facegate %s running %s", Version, cmd.CommandPath())
	logging.Debugf("Config loaded, data dir: %s", cfg.Storage.DataDir)
	return nil
}
