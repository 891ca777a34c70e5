package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facegate/pkg/storage"
	"github.com/MrCodeEU/facegate/pkg/training"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the face gallery from labelled images",
	Long: `Train the face gallery from a directory of labelled images.

Every subdirectory of the images directory is one person; its name is the
identity. Each image must contain exactly one face. The trained gallery
replaces the previous one and a training session is recorded per person.

Examples:
  facegate train
  facegate train --images ./people`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().String("images", "", "Images directory (defaults to recognition.images_dir)")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	imagesDir := mustGetString(cmd, "images")
	if imagesDir == "" {
		imagesDir = cfg.Recognition.ImagesDir
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	engine, err := loadEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	fs, err := storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	var bar *progressbar.ProgressBar
	tr := training.New(engine, fs, st, training.Options{
		ModelKind: cfg.Recognition.ModelKind,
		Progress: func(p training.Progress) {
			if bar == nil {
				bar = progressbar.NewOptions(p.Total,
					progressbar.OptionSetDescription("Extracting faces"),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetItsString("images"),
					progressbar.OptionShowElapsedTimeOnFinish(),
					progressbar.OptionFullWidth(),
				)
			}
			bar.Describe(p.Identity)
			_ = bar.Set(p.Done)
		},
	})

	fmt.Printf("Training from %s\n", imagesDir)
	res, err := tr.Train(ctx, imagesDir)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if res != nil {
		printTrainingResult(res)
	}
	if err != nil {
		if errors.Is(err, training.ErrNoSamples) {
			return fmt.Errorf("%w: check that every image shows exactly one face", err)
		}
		return err
	}

	fmt.Printf("\nGallery saved with %d identities.\n", len(res.Gallery.Labels))
	return nil
}

func printTrainingResult(res *training.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tIMAGES\tSTATUS")
	fmt.Fprintln(w, "--------\t------\t------")
	for _, s := range res.Sessions {
		status := "ok"
		if !s.Succeeded {
			status = "no usable images"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", s.Identity, s.ImageCount, status)
	}
	w.Flush()

	if res.Skipped > 0 {
		fmt.Printf("\nSkipped %d image(s) without exactly one readable face.\n", res.Skipped)
	}
}
