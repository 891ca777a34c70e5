package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/decision"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/recorder"
	"github.com/MrCodeEU/facegate/pkg/session"
	"github.com/MrCodeEU/facegate/pkg/storage"
	"github.com/MrCodeEU/facegate/pkg/vision"
)

// drainTimeout bounds how long queued events may take to flush when the
// source ends.
const drainTimeout = 10 * time.Second

var recognizeCmd = &cobra.Command{
	Use:   "recognize",
	Short: "Run live recognition and log access decisions",
	Long: `Run live recognition against the configured camera source.

Each frame is matched against the trained gallery and every face is
classified as granted, unknown or low confidence. Decisions are throttled
so a person standing in front of the camera is logged once per interval,
and denied attempts are archived with a face crop.

A directory source is replayed once and recognition stops at its end.
Press Ctrl+C to stop a live camera; events still queued are discarded.

Examples:
  facegate recognize
  facegate recognize --camera 1
  facegate recognize --source ./recorded-frames --threshold 0.5`,
	Args: cobra.NoArgs,
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Int("camera", 0, "Index into camera.sources (defaults to camera.index)")
	recognizeCmd.Flags().String("source", "", "Video device or frame directory, overrides --camera")
	recognizeCmd.Flags().Float64("threshold", 0, "Confidence threshold (defaults to recognition.confidence_threshold)")
	recognizeCmd.Flags().Int("log-interval", 0, "Frames between repeated logs of the same identity (defaults to recognition.log_interval)")
}

func runRecognize(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	if cmd.Flags().Changed("camera") {
		cfg.Camera.Index = mustGetInt(cmd, "camera")
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("threshold") {
		cfg.Recognition.ConfidenceThreshold = mustGetFloat64(cmd, "threshold")
	}
	if cmd.Flags().Changed("log-interval") {
		cfg.Recognition.LogInterval = mustGetInt(cmd, "log-interval")
	}
	source := mustGetString(cmd, "source")
	if source == "" {
		source = cfg.CameraSource()
	}

	cmp, err := decision.ParseComparator(cfg.Recognition.Comparator)
	if err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	fs, err := storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return err
	}
	gallery, err := fs.LoadGallery()
	if err != nil {
		return err
	}
	if names := untrained(gallery); len(names) > 0 {
		logging.Component("cli").WithField("identities", names).
			Warn("Identities without reference samples can never be granted, retrain with more images")
	}

	engine, err := loadEngine(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	cam, err := camera.Open(source, camera.Settings{
		FFmpegPath: cfg.Camera.FFmpegPath,
		Width:      cfg.Camera.Width,
		Height:     cfg.Camera.Height,
	})
	if err != nil {
		return fmt.Errorf("failed to open camera %s: %w", source, err)
	}
	defer cam.Close()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	blobs, err := openBlobSink(cfg, fs)
	if err != nil {
		return err
	}

	rec := recorder.New(st, blobs, recorderOptions(cfg))
	loop := session.New(
		vision.NewGallerySource(cam, engine, gallery, cfg.Recognition.UnknownDistance),
		rec,
		session.Options{
			Threshold:           cfg.Recognition.ConfidenceThreshold,
			LogInterval:         cfg.Recognition.LogInterval,
			Comparator:          cmp,
			CameraIndex:         cfg.Camera.Index,
			ArchiveNoFaceFrames: cfg.Persistence.ArchiveNoFaceFrames,
		},
	)

	info := cam.GetDeviceInfo()
	fmt.Printf("Recognizing from %s [%s] (threshold %.2f, %d identities)\n",
		source, info.Driver, cfg.Recognition.ConfidenceThreshold, len(gallery.Labels))
	if replay, ok := cam.(*camera.DirCamera); ok {
		fmt.Printf("Replaying %d recorded frames\n", replay.Remaining())
	}
	fmt.Println("Press Ctrl+C to stop")

	summary, runErr := loop.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		fmt.Println("\nStopping...")
		rec.Stop()
		runErr = nil
	} else {
		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		if err := rec.Close(drainCtx); err != nil {
			logging.Component("cli").WithError(err).Warn("Recorder did not drain in time")
		}
		cancel()
	}

	printSessionSummary(summary, rec.Counts())

	svc, err := newStatsService(cfg, st)
	if err != nil {
		return err
	}
	statsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, degraded := svc.SnapshotOrZero(statsCtx)
	fmt.Println()
	printSnapshot(snap, degraded)

	return runErr
}

// untrained lists gallery labels that have no reference sample.
func untrained(g *vision.Gallery) []string {
	counts := g.SampleCount()
	var names []string
	for _, label := range g.Labels {
		if counts[label] == 0 {
			names = append(names, label)
		}
	}
	return names
}

func printSessionSummary(s session.Summary, c recorder.Counts) {
	fmt.Println()
	fmt.Printf("Session %s\n", s.SessionID)
	fmt.Printf("  Duration:   %s\n", s.Ended.Sub(s.Started).Round(time.Millisecond))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  Frames:\t%d\n", s.Frames)
	for _, k := range decision.Kinds {
		fmt.Fprintf(w, "  %s:\t%d\n", k, s.Decisions[k])
	}
	fmt.Fprintf(w, "  Emitted:\t%d\n", s.Emitted)
	fmt.Fprintf(w, "  Suppressed:\t%d\n", s.Suppressed)
	fmt.Fprintf(w, "  Persisted:\t%d\n", c.Persisted)
	fmt.Fprintf(w, "  Lost:\t%d\n", c.Lost)
	fmt.Fprintf(w, "  Dropped:\t%d\n", c.Dropped)
	if c.BlobFailures > 0 {
		fmt.Fprintf(w, "  Images lost:\t%d\n", c.BlobFailures)
	}
	if s.SourceErrors > 0 {
		fmt.Fprintf(w, "  Source errors:\t%d\n", s.SourceErrors)
	}
	w.Flush()
}
