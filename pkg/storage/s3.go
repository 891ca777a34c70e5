package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"

	"github.com/MrCodeEU/facegate/pkg/events"
	"github.com/MrCodeEU/facegate/pkg/logging"
)

// S3Options configures S3BlobStore.
type S3Options struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string // S3-compatible servers such as MinIO
}

// S3BlobStore archives images to an S3 bucket. Credentials come from the
// standard AWS environment and shared config.
type S3BlobStore struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
}

var _ events.BlobSink = (*S3BlobStore)(nil)

// NewS3BlobStore creates a session and uploader for opts.
func NewS3BlobStore(opts S3Options) (*S3BlobStore, error) {
	cfg := &aws.Config{Region: aws.String(opts.Region)}
	if opts.Endpoint != "" {
		cfg.Endpoint = aws.String(opts.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return newS3BlobStore(s3manager.NewUploader(sess), opts.Bucket, opts.Prefix), nil
}

func newS3BlobStore(uploader s3manageriface.UploaderAPI, bucket, prefix string) *S3BlobStore {
	return &S3BlobStore{uploader: uploader, bucket: bucket, prefix: prefix}
}

// StoreBlob uploads data and returns its object key.
func (s *S3BlobStore) StoreBlob(ctx context.Context, data []byte) (events.ImageRef, error) {
	name, err := newBlobName(time.Now(), false)
	if err != nil {
		return "", fmt.Errorf("%w: %w", events.ErrBlobStore, err)
	}
	key := path.Join(s.prefix, name)

	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentType:          aws.String("image/jpeg"),
		ServerSideEncryption: aws.String("AES256"),
	})
	if err != nil {
		return "", fmt.Errorf("%w: upload %s: %w", events.ErrBlobStore, key, err)
	}

	logging.Component("storage").WithField("key", key).Debug("Uploaded image")
	return events.ImageRef("s3://" + s.bucket + "/" + key), nil
}
