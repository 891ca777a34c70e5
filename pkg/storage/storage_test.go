package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/vision"
)

func TestNewFileStorage(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name       string
		dataDir    string
		encryption bool
	}{
		{"without encryption", filepath.Join(tmpDir, "test1"), false},
		{"with encryption", filepath.Join(tmpDir, "test2"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := NewFileStorage(tt.dataDir, tt.encryption)
			if err != nil {
				t.Fatalf("NewFileStorage() error = %v", err)
			}
			if _, err := os.Stat(fs.BlobDir()); os.IsNotExist(err) {
				t.Error("blob directory was not created")
			}
		})
	}
}

func TestFileStorage_StoreAndLoadBlob(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		fs, err := NewFileStorage(t.TempDir(), encrypted)
		if err != nil {
			t.Fatalf("failed to create storage: %v", err)
		}

		data := []byte("\xff\xd8 fake jpeg")
		ref, err := fs.StoreBlob(context.Background(), data)
		if err != nil {
			t.Fatalf("StoreBlob failed: %v", err)
		}
		if strings.HasSuffix(string(ref), ".enc") != encrypted {
			t.Errorf("encrypted=%v but ref is %q", encrypted, ref)
		}

		raw, _ := os.ReadFile(filepath.Join(fs.BlobDir(), string(ref)))
		if encrypted && bytes.Contains(raw, []byte("fake jpeg")) {
			t.Error("encrypted blob contains plaintext")
		}

		got, err := fs.LoadBlob(ref)
		if err != nil {
			t.Fatalf("LoadBlob failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("round trip mismatch: %q", got)
		}
	}
}

func TestFileStorage_BlobNamesUnique(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir(), false)
	seen := map[events.ImageRef]bool{}
	for range 50 {
		ref, err := fs.StoreBlob(context.Background(), []byte("x"))
		if err != nil {
			t.Fatal(err)
		}
		if seen[ref] {
			t.Fatalf("duplicate ref %s", ref)
		}
		seen[ref] = true
	}
}

func TestFileStorage_StoreBlob_Cancelled(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir(), false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fs.StoreBlob(ctx, []byte("x")); !errors.Is(err, events.ErrBlobStore) {
		t.Errorf("expected ErrBlobStore, got %v", err)
	}
}

func TestFileStorage_StoreBlob_Unwritable(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir(), false)
	os.RemoveAll(fs.BlobDir())

	if _, err := fs.StoreBlob(context.Background(), []byte("x")); !errors.Is(err, events.ErrBlobStore) {
		t.Errorf("expected ErrBlobStore, got %v", err)
	}
}

func TestFileStorage_LoadBlob_NotFound(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir(), false)

	for _, ref := range []events.ImageRef{"", "missing.jpg", "../gallery.json"} {
		if _, err := fs.LoadBlob(ref); !errors.Is(err, ErrBlobNotFound) {
			t.Errorf("LoadBlob(%q): expected ErrBlobNotFound, got %v", ref, err)
		}
	}
}

func TestFileStorage_Gallery(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		fs, _ := NewFileStorage(t.TempDir(), encrypted)

		if _, err := fs.LoadGallery(); !errors.Is(err, ErrGalleryNotFound) {
			t.Fatalf("expected ErrGalleryNotFound before training, got %v", err)
		}

		g := vision.NewGallery("dlib_resnet", []string{"ana", "luis"})
		var d vision.Descriptor
		d[0] = 0.5
		g.Add(0, d)
		g.Add(1, vision.Descriptor{})
		g.TrainedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		if err := fs.SaveGallery(g); err != nil {
			t.Fatalf("SaveGallery failed: %v", err)
		}

		got, err := fs.LoadGallery()
		if err != nil {
			t.Fatalf("LoadGallery failed: %v", err)
		}
		if len(got.Labels) != 2 || got.Labels[1] != "luis" || got.ModelKind != "dlib_resnet" {
			t.Errorf("unexpected gallery %+v", got)
		}
		if len(got.Samples) != 2 || got.Samples[0][0] != 0.5 {
			t.Errorf("samples not preserved")
		}
		if !got.TrainedAt.Equal(g.TrainedAt) {
			t.Errorf("trained at not preserved: %v", got.TrainedAt)
		}
	}
}

func TestEncryptDecrypt(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir(), true)

	plaintext := []byte("Hello, World! This is a test message.")
	encrypted, err := fs.encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if bytes.Equal(encrypted, plaintext) {
		t.Error("encrypted data should differ from plaintext")
	}

	decrypted, err := fs.decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestDecrypt_InvalidData(t *testing.T) {
	fs, _ := NewFileStorage(t.TempDir(), true)

	if _, err := fs.decrypt([]byte("short")); err != ErrEncryption {
		t.Errorf("expected ErrEncryption for short data, got %v", err)
	}

	invalid := make([]byte, 100)
	if _, err := fs.decrypt(invalid); err != ErrEncryption {
		t.Errorf("expected ErrEncryption for invalid data, got %v", err)
	}
}

// mockUploader records uploads.
type mockUploader struct {
	UploadFunc func(input *s3manager.UploadInput) (*s3manager.UploadOutput, error)
	inputs     []*s3manager.UploadInput
	bodies     [][]byte
}

func (m *mockUploader) Upload(input *s3manager.UploadInput, opts ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	return m.UploadWithContext(context.Background(), input, opts...)
}

func (m *mockUploader) UploadWithContext(_ aws.Context, input *s3manager.UploadInput, _ ...func(*s3manager.Uploader)) (*s3manager.UploadOutput, error) {
	body, _ := io.ReadAll(input.Body)
	m.inputs = append(m.inputs, input)
	m.bodies = append(m.bodies, body)
	if m.UploadFunc != nil {
		return m.UploadFunc(input)
	}
	return &s3manager.UploadOutput{Location: "https://example/" + aws.StringValue(input.Key)}, nil
}

func TestS3BlobStore_StoreBlob(t *testing.T) {
	up := &mockUploader{}
	s := newS3BlobStore(up, "faces", "failed")

	ref, err := s.StoreBlob(context.Background(), []byte("jpeg"))
	if err != nil {
		t.Fatalf("StoreBlob failed: %v", err)
	}
	if len(up.inputs) != 1 {
		t.Fatalf("expected one upload, got %d", len(up.inputs))
	}

	in := up.inputs[0]
	key := aws.StringValue(in.Key)
	if aws.StringValue(in.Bucket) != "faces" || !strings.HasPrefix(key, "failed/") || !strings.HasSuffix(key, ".jpg") {
		t.Errorf("unexpected bucket/key %s/%s", aws.StringValue(in.Bucket), key)
	}
	if string(up.bodies[0]) != "jpeg" {
		t.Errorf("unexpected body %q", up.bodies[0])
	}
	if string(ref) != "s3://faces/"+key {
		t.Errorf("unexpected ref %s", ref)
	}
}

func TestS3BlobStore_UploadError(t *testing.T) {
	up := &mockUploader{UploadFunc: func(*s3manager.UploadInput) (*s3manager.UploadOutput, error) {
		return nil, errors.New("access denied")
	}}
	s := newS3BlobStore(up, "faces", "")

	if _, err := s.StoreBlob(context.Background(), []byte("jpeg")); !errors.Is(err, events.ErrBlobStore) {
		t.Errorf("expected ErrBlobStore, got %v", err)
	}
}

func BenchmarkEncryptDecrypt(b *testing.B) {
	fs, _ := NewFileStorage(b.TempDir(), true)
	data := make([]byte, 4096)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		encrypted, _ := fs.encrypt(data)
		fs.decrypt(encrypted)
	}
}
