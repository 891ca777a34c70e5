package camera

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DirCamera replays the JPEG files of a directory in name order.
// Capture returns io.EOF once every file has been returned.
type DirCamera struct {
	dir    string
	files  []string
	next   int
	isOpen bool
}

// NewDirCamera creates an unopened DirCamera.
func NewDirCamera() *DirCamera {
	return &DirCamera{}
}

// Open lists the frames of dir.
func (c *DirCamera) Open(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrCameraNotFound, dir)
		}
		return fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	c.dir = dir
	c.files = files
	c.next = 0
	c.isOpen = true
	return nil
}

// Close marks the camera closed.
func (c *DirCamera) Close() error {
	c.isOpen = false
	return nil
}

// Capture returns the next recorded frame.
func (c *DirCamera) Capture() (*Frame, error) {
	if !c.isOpen {
		return nil, ErrCameraNotOpen
	}
	if c.next >= len(c.files) {
		return nil, io.EOF
	}

	path := c.files[c.next]
	c.next++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	// Replayed frames are stamped at capture, not with the file's mtime.
	ts := time.Now()

	w, h := imageSize(data)
	return &Frame{
		Data:      data,
		Width:     w,
		Height:    h,
		Format:    "JPEG",
		Timestamp: ts,
	}, nil
}

// GetDeviceInfo describes the replay directory.
func (c *DirCamera) GetDeviceInfo() DeviceInfo {
	return DeviceInfo{Path: c.dir, Name: "replay", Driver: "dir"}
}

// Remaining reports how many frames are left.
func (c *DirCamera) Remaining() int {
	return len(c.files) - c.next
}
