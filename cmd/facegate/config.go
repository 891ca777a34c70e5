package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Show the effective configuration after defaults, the config file and
FACEGATE_* environment overrides are applied.

Configuration locations:
  System: /etc/facegate/facegate.yaml
  User:   ~/.config/facegate/facegate.yaml

Use --config to specify a custom config file.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()
	fmt.Println("[Camera]")
	fmt.Printf("  Source:          %s (index %d)\n", cfg.CameraSource(), cfg.Camera.Index)
	fmt.Printf("  Resolution:      %dx%d @ %d FPS\n", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	fmt.Printf("  FFmpeg:          %s\n", cfg.Camera.FFmpegPath)
	fmt.Println()
	fmt.Println("[Recognition]")
	fmt.Printf("  Threshold:       %.2f (%s)\n", cfg.Recognition.ConfidenceThreshold, cfg.Recognition.Comparator)
	fmt.Printf("  Log Interval:    %d frames\n", cfg.Recognition.LogInterval)
	fmt.Printf("  Unknown Above:   %.2f\n", cfg.Recognition.UnknownDistance)
	fmt.Printf("  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Printf("  Images Dir:      %s\n", cfg.Recognition.ImagesDir)
	fmt.Println()
	fmt.Println("[Persistence]")
	fmt.Printf("  Queue Size:      %d\n", cfg.Persistence.QueueSize)
	fmt.Printf("  Write Timeout:   %s\n", cfg.Persistence.WriteTimeout)
	fmt.Printf("  Enqueue Timeout: %s\n", cfg.Persistence.EnqueueTimeout)
	fmt.Printf("  Retry Backoff:   %s\n", cfg.Persistence.RetryBackoff)
	fmt.Printf("  Archive No-Face: %t\n", cfg.Persistence.ArchiveNoFaceFrames)
	fmt.Println()
	fmt.Println("[Database]")
	fmt.Printf("  Driver:          %s\n", cfg.Database.Driver)
	if cfg.Database.Driver == "postgres" {
		fmt.Printf("  DSN:             %s\n", redactDSN(cfg.Database.DSN))
	} else {
		fmt.Printf("  Path:            %s\n", cfg.Database.Path)
	}
	fmt.Println()
	fmt.Println("[Storage]")
	fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
	fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Printf("  Blob Backend:    %s\n", cfg.Storage.BlobBackend)
	if cfg.Storage.BlobBackend == "s3" {
		fmt.Printf("  S3:              s3://%s/%s (%s)\n", cfg.Storage.S3.Bucket, cfg.Storage.S3.Prefix, cfg.Storage.S3.Region)
	} else {
		fmt.Printf("  Blob Dir:        %s\n", cfg.BlobDir())
	}
	fmt.Println()
	fmt.Println("[API]")
	fmt.Printf("  Address:         %s\n", cfg.API.Addr)
	fmt.Println()
	fmt.Println("[Logging]")
	fmt.Printf("  Level:           %s\n", cfg.Logging.Level)
	fmt.Printf("  Format:          %s\n", cfg.Logging.Format)
	fmt.Printf("  File:            %s\n", cfg.Logging.File)

	return nil
}

// redactDSN hides the password of a URL-style connection string.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
