package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/stats"
	"github.com/MrCodeEU/facegate/pkg/storage"
)

const timeLayout = "2006-01-02 15:04:05"

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show access statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent access events",
	Long: `Show recent access events, most recent first.

Examples:
  facegate history
  facegate history --identity ana --granted false
  facegate history --type no_face_detected --since 24h`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var personCmd = &cobra.Command{
	Use:   "person <name>",
	Short: "Summarize one person's recent attempts",
	Args:  cobra.ExactArgs(1),
	RunE:  runPerson,
}

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Show recent denied attempts",
	Args:  cobra.NoArgs,
	RunE:  runFailures,
}

var trainingsCmd = &cobra.Command{
	Use:   "trainings",
	Short: "Show training history",
	Args:  cobra.NoArgs,
	RunE:  runTrainings,
}

func init() {
	rootCmd.AddCommand(statsCmd, historyCmd, personCmd, failuresCmd, trainingsCmd)

	statsCmd.Flags().Bool("json", false, "Output as JSON")

	addHistoryFlags(historyCmd)

	personCmd.Flags().Int("limit", 100, "Number of recent events to summarize")
	failuresCmd.Flags().Int("limit", 20, "Maximum number of events")
	failuresCmd.Flags().String("export", "", "Copy the archived images of the listed failures to this directory")
	trainingsCmd.Flags().Int("limit", 20, "Maximum number of sessions")
}

func addHistoryFlags(cmd *cobra.Command) {
	cmd.Flags().Int("limit", 20, "Maximum number of events")
	cmd.Flags().String("identity", "", "Only events for this identity")
	cmd.Flags().String("granted", "", "Only granted (true) or denied (false) events")
	cmd.Flags().String("type", "", "Only events of this type (successful_access, failed_access, no_face_detected)")
	cmd.Flags().String("since", "", "Only events newer than a duration (24h) or RFC 3339 time")
	cmd.Flags().Bool("json", false, "Output as JSON")
}

// withService opens the store for the duration of fn.
func withService(cmd *cobra.Command, fn func(*stats.Service) error) error {
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := newStatsService(cfg, st)
	if err != nil {
		return err
	}
	return fn(svc)
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withService(cmd, func(svc *stats.Service) error {
		snap, degraded := svc.SnapshotOrZero(cmd.Context())
		if mustGetBool(cmd, "json") {
			return writeJSON(os.Stdout, map[string]any{
				"total_successful": snap.TotalSuccessful,
				"total_failed":     snap.TotalFailed,
				"by_identity":      snap.ByIdentity,
				"success_rate":     snap.SuccessRate(),
				"degraded":         degraded,
			})
		}
		printSnapshot(snap, degraded)
		return nil
	})
}

func printSnapshot(snap stats.Snapshot, degraded bool) {
	if degraded {
		fmt.Println("Statistics unavailable, event store could not be queried.")
	}
	fmt.Println("Access statistics:")
	fmt.Printf("  Successful:   %d\n", snap.TotalSuccessful)
	fmt.Printf("  Failed:       %d\n", snap.TotalFailed)
	fmt.Printf("  Success rate: %.1f%%\n", snap.SuccessRate()*100)

	if len(snap.ByIdentity) == 0 {
		return
	}

	names := make([]string, 0, len(snap.ByIdentity))
	for name := range snap.ByIdentity {
		names = append(names, name)
	}
	// most granted first
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(snap.ByIdentity[b], snap.ByIdentity[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tGRANTED")
	fmt.Fprintln(w, "--------\t-------")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, snap.ByIdentity[name])
	}
	w.Flush()
}

func runHistory(cmd *cobra.Command, _ []string) error {
	f, err := historyFilter(cmd, time.Now())
	if err != nil {
		return err
	}
	limit := mustGetInt(cmd, "limit")

	return withService(cmd, func(svc *stats.Service) error {
		evs, err := svc.History(cmd.Context(), f, limit)
		if err != nil {
			return err
		}
		if mustGetBool(cmd, "json") {
			return writeJSON(os.Stdout, evs)
		}
		printEvents(os.Stdout, evs)
		return nil
	})
}

// historyFilter builds an event filter from the history flags.
func historyFilter(cmd *cobra.Command, now time.Time) (events.Filter, error) {
	var f events.Filter

	if v := mustGetString(cmd, "identity"); v != "" {
		f.Identity = &v
	}
	if v := mustGetString(cmd, "granted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("--granted must be true or false, got %q", v)
		}
		f.Granted = &b
	}
	if v := mustGetString(cmd, "type"); v != "" {
		et := events.EventType(v)
		if !et.Valid() {
			return f, fmt.Errorf("unknown event type %q", v)
		}
		f.EventType = &et
	}
	if v := mustGetString(cmd, "since"); v != "" {
		since, err := parseSince(v, now)
		if err != nil {
			return f, err
		}
		f.Since = &since
	}
	return f, nil
}

// parseSince accepts a duration back from now or an RFC 3339 timestamp.
func parseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since must be a duration or RFC 3339 time, got %q", v)
	}
	return ts, nil
}

func printEvents(out io.Writer, evs []events.AccessEvent) {
	if len(evs) == 0 {
		fmt.Fprintln(out, "No events found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tIDENTITY\tRESULT\tREASON\tCONFIDENCE\tIMAGE")
	fmt.Fprintln(w, "--\t----\t--------\t------\t------\t----------\t-----")
	for _, ev := range evs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%.3f\t%s\n",
			ev.ID,
			ev.Timestamp.Local().Format(timeLayout),
			orDash(ev.IdentityName()),
			result(ev),
			orDash(reason(ev)),
			ev.Confidence,
			orDash(imageRef(ev)),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nShowing %d event(s)\n", len(evs))
}

func result(ev events.AccessEvent) string {
	switch {
	case ev.Granted:
		return "granted"
	case ev.EventType == events.EventNoFaceDetected:
		return "no face"
	}
	return "denied"
}

func reason(ev events.AccessEvent) string {
	if ev.FailureReason == nil {
		return ""
	}
	return string(*ev.FailureReason)
}

func imageRef(ev events.AccessEvent) string {
	if ev.ImageRef == nil {
		return ""
	}
	return string(*ev.ImageRef)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runPerson(cmd *cobra.Command, args []string) error {
	name := args[0]
	limit := mustGetInt(cmd, "limit")

	return withService(cmd, func(svc *stats.Service) error {
		ps, err := svc.Person(cmd.Context(), name, limit)
		if err != nil {
			return err
		}
		if ps.Attempts == 0 {
			fmt.Printf("No events recorded for '%s'.\n", name)
			return nil
		}

		fmt.Printf("Person: %s (last %d events)\n", ps.Identity, ps.Attempts)
		fmt.Printf("  Successes:          %d\n", ps.Successes)
		fmt.Printf("  Failures:           %d\n", ps.Failures)
		fmt.Printf("  Average confidence: %.3f\n", ps.AverageConfidence)
		fmt.Printf("  Best confidence:    %.3f\n", ps.BestConfidence)
		fmt.Printf("  Last seen:          %s\n", ps.LastSeen.Local().Format(timeLayout))
		return nil
	})
}

func runFailures(cmd *cobra.Command, _ []string) error {
	limit := mustGetInt(cmd, "limit")

	return withService(cmd, func(svc *stats.Service) error {
		evs, err := svc.RecentFailures(cmd.Context(), limit)
		if err != nil {
			return err
		}
		printEvents(os.Stdout, evs)

		dir := mustGetString(cmd, "export")
		if dir == "" {
			return nil
		}
		fs, err := storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
		if err != nil {
			return err
		}
		n, err := exportImages(fs, evs, dir)
		if err != nil {
			return err
		}
		fmt.Printf("Exported %d image(s) to %s\n", n, dir)
		return nil
	})
}

// blobLoader reads archived images back. *storage.FileStorage implements it.
type blobLoader interface {
	LoadBlob(ref events.ImageRef) ([]byte, error)
}

// exportImages writes the decrypted image of every event that has one to dir
// as <event id>.jpg. Images held in S3 are skipped.
func exportImages(blobs blobLoader, evs []events.AccessEvent, dir string) (int, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	exported := 0
	for _, ev := range evs {
		if ev.ImageRef == nil {
			continue
		}
		ref := *ev.ImageRef
		if strings.HasPrefix(string(ref), "s3://") {
			logging.Component("cli").WithField("ref", ref).Info("Skipping image stored in S3")
			continue
		}

		data, err := blobs.LoadBlob(ref)
		if err != nil {
			logging.Component("cli").WithError(err).WithField("ref", ref).Warn("Failed to load archived image")
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, fmt.Sprintf("%d.jpg", ev.ID)), data, 0600); err != nil {
			return exported, fmt.Errorf("failed to write image: %w", err)
		}
		exported++
	}
	return exported, nil
}

func runTrainings(cmd *cobra.Command, _ []string) error {
	limit := mustGetInt(cmd, "limit")

	return withService(cmd, func(svc *stats.Service) error {
		recs, err := svc.Trainings(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No training sessions recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tIDENTITY\tIMAGES\tMODEL\tOK")
		fmt.Fprintln(w, "--\t----\t--------\t------\t-----\t--")
		for _, r := range recs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%t\n",
				r.ID, r.Timestamp.Local().Format(timeLayout), r.Identity, r.ImageCount, r.ModelKind, r.Succeeded)
		}
		w.Flush()
		return nil
	})
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
