// Package storage keeps the trained face gallery and archived images of
// failed attempts on disk. Files are encrypted at rest using NaCl secretbox.
package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/vision"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	blobSubdir  = "failed"
	galleryBase = "gallery"
	encSuffix   = ".enc"
)

// ErrGalleryNotFound is returned when no model has been trained yet.
var ErrGalleryNotFound = errors.New("gallery not found, train a model first")

// ErrBlobNotFound is returned for an unknown image reference.
var ErrBlobNotFound = errors.New("blob not found")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStorage stores the gallery and image blobs below one data directory.
type FileStorage struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
}

var _ events.BlobSink = (*FileStorage)(nil)

// NewFileStorage creates a FileStorage rooted at dataDir.
func NewFileStorage(dataDir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		fs.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(fs.BlobDir(), 0700); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	fmt.Fprintf(&identity, "%d", os.Getuid())
	identity.WriteString("facegate-v1-salt")

	return sha256.Sum256([]byte(identity.String()))
}

// BlobDir is where archived images are written.
func (fs *FileStorage) BlobDir() string {
	return filepath.Join(fs.dataDir, blobSubdir)
}

func (fs *FileStorage) galleryPath() string {
	if fs.encryptionEnabled {
		return filepath.Join(fs.dataDir, galleryBase+encSuffix)
	}
	return filepath.Join(fs.dataDir, galleryBase+".json")
}

// newBlobName returns a time-ordered unique file name.
func newBlobName(now time.Time, encrypted bool) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", err
	}
	name := id.String() + ".jpg"
	if encrypted {
		name += encSuffix
	}
	return name, nil
}

// StoreBlob writes data under a fresh name and returns the name as the
// reference.
func (fs *FileStorage) StoreBlob(ctx context.Context, data []byte) (events.ImageRef, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", events.ErrBlobStore, err)
	}

	name, err := newBlobName(time.Now(), fs.encryptionEnabled)
	if err != nil {
		return "", fmt.Errorf("%w: %w", events.ErrBlobStore, err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return "", fmt.Errorf("%w: %w", events.ErrBlobStore, err)
		}
	}

	if err := os.WriteFile(filepath.Join(fs.BlobDir(), name), data, 0600); err != nil {
		return "", fmt.Errorf("%w: %w", events.ErrBlobStore, err)
	}

	logging.Debugf("Archived image %s", name)
	return events.ImageRef(name), nil
}

// LoadBlob returns the plaintext bytes behind ref.
func (fs *FileStorage) LoadBlob(ref events.ImageRef) ([]byte, error) {
	name := string(ref)
	if name == "" || name != filepath.Base(name) {
		return nil, ErrBlobNotFound
	}

	data, err := os.ReadFile(filepath.Join(fs.BlobDir(), name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}

	if strings.HasSuffix(name, encSuffix) {
		return fs.decrypt(data)
	}
	return data, nil
}

// SaveGallery replaces the stored gallery.
func (fs *FileStorage) SaveGallery(g *vision.Gallery) error {
	data, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal gallery: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt gallery: %w", err)
		}
	}

	// Write then rename so a crash never leaves a half written gallery.
	path := fs.galleryPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write gallery: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace gallery: %w", err)
	}

	logging.Infof("Saved gallery with %d identities and %d samples", len(g.Labels), len(g.Samples))
	return nil
}

// LoadGallery reads the stored gallery.
func (fs *FileStorage) LoadGallery() (*vision.Gallery, error) {
	data, err := os.ReadFile(fs.galleryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrGalleryNotFound
		}
		return nil, fmt.Errorf("failed to read gallery: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt gallery: %w", err)
		}
	}

	var g vision.Gallery
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gallery: %w", err)
	}

	logging.Debugf("Loaded gallery trained at %s", g.TrainedAt.Format(time.RFC3339))
	return &g, nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
