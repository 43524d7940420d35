package artifact

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/toxichempy/toxichem/pkg/config"
	"github.com/toxichempy/toxichem/pkg/logger"
)

// S3Publisher uploads artifacts to any S3 compatible store
type S3Publisher struct {
	client *minio.Client
	config *config.S3Config
	logger *logger.Logger
}

// NewS3Publisher creates a publisher for cfg.Bucket
func NewS3Publisher(cfg *config.S3Config, log *logger.Logger) (*S3Publisher, error) {
	if log == nil {
		log = logger.Nop()
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &S3Publisher{client: client, config: cfg, logger: log}, nil
}

// Publish uploads localPath and presigns a GET URL for it. minio-go splits
// large files into parts on its own, using PartSize when set.
func (p *S3Publisher) Publish(ctx context.Context, runID string, localPath string) (*Result, error) {
	start := time.Now()

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	objectKey := ObjectKey(p.config.Prefix, localPath, start)

	cl := p.logger.WithContext(ctx).WithRunID(runID).WithComponent("s3_publisher")
	cl.LogUploadStarted("Starting S3 upload", logger.Fields{
		"bucket":     p.config.Bucket,
		"object_key": objectKey,
		"file_size":  info.Size(),
	})

	opts := minio.PutObjectOptions{ContentType: contentType(localPath)}
	if p.config.PartSize > 0 {
		opts.PartSize = uint64(p.config.PartSize)
	}
	attempts, err := withRetries(ctx, p.config.MaxRetries, time.Second, cl, func() error {
		_, err := p.client.FPutObject(ctx, p.config.Bucket, objectKey, localPath, opts)
		if err != nil {
			return fmt.Errorf("s3 put object: %w", err)
		}
		return nil
	})
	if err != nil {
		cl.LogUploadFailed("S3 upload failed", "UPLOAD_ERROR", err.Error(), logger.Fields{
			"object_key": objectKey,
			"attempts":   attempts,
		})
		return nil, err
	}

	signed, err := p.client.PresignedGetObject(ctx, p.config.Bucket, objectKey, p.config.SignedURLExpiry, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to presign URL for %s: %w", objectKey, err)
	}

	duration := time.Since(start)
	cl.LogUploadCompleted("S3 upload completed", duration.Milliseconds(), logger.Fields{
		"object_key": objectKey,
		"file_size":  info.Size(),
		"attempts":   attempts,
	})
	return &Result{
		ObjectKey:  objectKey,
		SignedURL:  signed.String(),
		Size:       info.Size(),
		UploadTime: duration,
		Attempts:   attempts,
	}, nil
}
