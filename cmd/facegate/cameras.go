package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facegate/pkg/camera"
)

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "List video devices",
	Long: `List the video devices reported by v4l2-ctl.

With --check, one frame is grabbed from every device and decoded to check
that it delivers usable JPEG frames at the configured resolution.`,
	Args: cobra.NoArgs,
	RunE: runCameras,
}

func init() {
	rootCmd.AddCommand(camerasCmd)

	camerasCmd.Flags().Bool("check", false, "Grab and decode one frame from every device")
}

func runCameras(cmd *cobra.Command, _ []string) error {
	devices, err := camera.ListCameras()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No video devices found.")
		return nil
	}

	settings := camera.Settings{
		FFmpegPath: cfg.Camera.FFmpegPath,
		Width:      cfg.Camera.Width,
		Height:     cfg.Camera.Height,
	}
	printCameras(os.Stdout, devices, mustGetBool(cmd, "check"), func(dev string) (camera.Camera, error) {
		return camera.Open(dev, settings)
	})
	return nil
}

// printCameras describes every device and, when check is set, the frame it
// delivers.
func printCameras(out io.Writer, devices []string, check bool, open func(string) (camera.Camera, error)) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	if check {
		fmt.Fprintln(w, "DEVICE\tNAME\tDRIVER\tFRAME")
		fmt.Fprintln(w, "------\t----\t------\t-----")
	} else {
		fmt.Fprintln(w, "DEVICE\tNAME\tDRIVER")
		fmt.Fprintln(w, "------\t----\t------")
	}

	for _, dev := range devices {
		cam, err := open(dev)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t%v\n", dev, err)
			continue
		}
		info := cam.GetDeviceInfo()
		if check {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", dev, orDash(info.Name), orDash(info.Driver), checkFrame(cam))
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\n", dev, orDash(info.Name), orDash(info.Driver))
		}
		_ = cam.Close()
	}
	w.Flush()
}

func checkFrame(cam camera.Camera) string {
	frame, err := cam.Capture()
	if err != nil {
		return "capture failed: " + err.Error()
	}
	img, err := frame.ToImage()
	if err != nil {
		return "undecodable: " + err.Error()
	}
	b := img.Bounds()
	return fmt.Sprintf("%dx%d ok", b.Dx(), b.Dy())
}
