// Package camera provides frame capture from video devices and recorded
// frame directories.
package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"time"
)

// Frame represents a single camera frame encoded as JPEG.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    string
	Timestamp time.Time
}

// ToImage decodes the frame data.
func (f *Frame) ToImage() (image.Image, error) {
	if f.Format != "" && f.Format != "JPEG" {
		return nil, fmt.Errorf("unsupported frame format %q", f.Format)
	}
	return jpeg.Decode(bytes.NewReader(f.Data))
}

// DeviceInfo contains information about a camera source.
type DeviceInfo struct {
	Path   string
	Name   string
	Driver string
}

// Camera defines the interface for camera operations.
type Camera interface {
	Open(device string) error
	Close() error
	Capture() (*Frame, error)
	GetDeviceInfo() DeviceInfo
}

// ErrCameraNotFound is returned when the camera device is not found.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrCameraNotOpen is returned when trying to capture from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// Settings are the capture parameters shared by all camera kinds.
type Settings struct {
	FFmpegPath string
	Width      int
	Height     int
}

// Open opens source as a camera. A directory is replayed frame by frame;
// anything else is treated as a V4L2 device.
func Open(source string, settings Settings) (Camera, error) {
	var cam Camera
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		cam = NewDirCamera()
	} else {
		c := NewCamera()
		if settings.FFmpegPath != "" {
			c.ffmpegPath = settings.FFmpegPath
		}
		if settings.Width > 0 && settings.Height > 0 {
			c.width, c.height = settings.Width, settings.Height
		}
		cam = c
	}

	if err := cam.Open(source); err != nil {
		return nil, err
	}
	return cam, nil
}

func imageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
