package camera

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

var execCommand = exec.Command

// V4L2Camera grabs single JPEG frames from a video device through ffmpeg.
type V4L2Camera struct {
	mu         sync.Mutex
	device     string
	ffmpegPath string
	width      int
	height     int
	isOpen     bool
}

// NewCamera creates a V4L2Camera with default resolution.
func NewCamera() *V4L2Camera {
	return &V4L2Camera{
		ffmpegPath: "ffmpeg",
		width:      640,
		height:     480,
	}
}

// Open selects the device to capture from.
func (c *V4L2Camera) Open(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(device); err != nil {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, device)
	}

	c.device = device
	c.isOpen = true
	logging.Component("camera").Debugf("Opened %s at %dx%d", device, c.width, c.height)
	return nil
}

// Close marks the camera closed.
func (c *V4L2Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isOpen = false
	return nil
}

// Capture grabs one frame.
func (c *V4L2Camera) Capture() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isOpen {
		return nil, ErrCameraNotOpen
	}

	tmp, err := os.MkdirTemp("", "facegate-capture-")
	if err != nil {
		return nil, fmt.Errorf("failed to create capture dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	outfile := filepath.Join(tmp, "frame.jpg")
	cmd := execCommand(c.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
		"-i", c.device,
		"-frames:v", "1",
		"-y", outfile,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrNoFrame, err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(outfile)
	if err != nil || len(data) == 0 {
		return nil, ErrNoFrame
	}

	w, h := imageSize(data)
	return &Frame{
		Data:      data,
		Width:     w,
		Height:    h,
		Format:    "JPEG",
		Timestamp: time.Now(),
	}, nil
}

// GetDeviceInfo queries v4l2-ctl for the device's driver and card name.
func (c *V4L2Camera) GetDeviceInfo() DeviceInfo {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()

	info := DeviceInfo{Path: device}
	out, err := execCommand("v4l2-ctl", "--device", device, "--info").Output()
	if err != nil {
		return info
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Driver name":
			info.Driver = strings.TrimSpace(value)
		case "Card type":
			info.Name = strings.TrimSpace(value)
		}
	}
	return info
}

// ListCameras returns the video device paths reported by v4l2-ctl.
func ListCameras() ([]string, error) {
	out, err := execCommand("v4l2-ctl", "--list-devices").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	var devices []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "/dev/video") {
			devices = append(devices, line)
		}
	}
	return devices, nil
}
