package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

// dlibModel is one model file published by dlib.net.
type dlibModel struct {
	Name string
	URL  string
}

var dlibModels = []dlibModel{
	{
		Name: "shape_predictor_5_face_landmarks.dat",
		URL:  "http://dlib.net/files/shape_predictor_5_face_landmarks.dat.bz2",
	},
	{
		Name: "dlib_face_recognition_resnet_model_v1.dat",
		URL:  "http://dlib.net/files/dlib_face_recognition_resnet_model_v1.dat.bz2",
	},
	{
		Name: "mmod_human_face_detector.dat",
		URL:  "http://dlib.net/files/mmod_human_face_detector.dat.bz2",
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Face model management commands",
}

var modelsDownloadCmd = &cobra.Command{
	Use:   "download [dir]",
	Short: "Download the dlib face models",
	Long: `Download and unpack the dlib models needed for detection and recognition.
Files already present are skipped. The directory defaults to recognition.model_path.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runModelsDownload,
}

var modelsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the face models load",
	Args:  cobra.NoArgs,
	RunE:  runModelsCheck,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsDownloadCmd, modelsCheckCmd)
}

func runModelsCheck(_ *cobra.Command, _ []string) error {
	var missing []string
	for _, model := range dlibModels {
		if _, err := os.Stat(filepath.Join(cfg.Recognition.ModelPath, model.Name)); err != nil {
			missing = append(missing, model.Name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing models in %s: %v (run 'facegate models download')", cfg.Recognition.ModelPath, missing)
	}

	engine, err := loadEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	if !engine.IsLoaded() {
		return fmt.Errorf("models in %s did not load", cfg.Recognition.ModelPath)
	}
	fmt.Printf("Models in %s loaded successfully.\n", cfg.Recognition.ModelPath)
	return nil
}

func runModelsDownload(cmd *cobra.Command, args []string) error {
	modelDir := cfg.Recognition.ModelPath
	if len(args) > 0 {
		modelDir = args[0]
	}

	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, model := range dlibModels {
		targetPath := filepath.Join(modelDir, model.Name)
		if _, err := os.Stat(targetPath); err == nil {
			logging.Infof("Model %s already exists, skipping", model.Name)
			continue
		}

		if err := downloadAndExtract(cmd.Context(), model, targetPath); err != nil {
			return fmt.Errorf("failed to download %s: %w", model.Name, err)
		}
		logging.Infof("Successfully downloaded %s", model.Name)
	}

	logging.Info("All models downloaded successfully")
	return nil
}

// downloadAndExtract fetches a bzip2 model and unpacks it to targetPath. The
// file is written under a temporary name so an interrupted download is not
// mistaken for a complete model.
func downloadAndExtract(ctx context.Context, model dlibModel, targetPath string) error {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, model.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmpPath := targetPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpPath) }()

	bar := progressbar.DefaultBytes(resp.ContentLength, model.Name)
	body := io.TeeReader(resp.Body, bar)

	if _, err := io.Copy(out, bzip2.NewReader(body)); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, targetPath)
}
