package artifact

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"

	"github.com/toxichempy/toxichem/pkg/config"
	"github.com/toxichempy/toxichem/pkg/logger"
)

// OSSPublisher uploads artifacts to Alibaba Cloud OSS
type OSSPublisher struct {
	bucket *oss.Bucket
	config *config.OSSConfig
	logger *logger.Logger
}

// NewOSSPublisher creates a publisher for cfg.Bucket
func NewOSSPublisher(cfg *config.OSSConfig, log *logger.Logger) (*OSSPublisher, error) {
	if log == nil {
		log = logger.Nop()
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get OSS bucket: %w", err)
	}

	return &OSSPublisher{bucket: bucket, config: cfg, logger: log}, nil
}

// Publish uploads localPath, retrying whole uploads on failure, and signs a
// download URL for it
func (p *OSSPublisher) Publish(ctx context.Context, runID string, localPath string) (*Result, error) {
	start := time.Now()

	info, err := os.Stat(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat artifact: %w", err)
	}
	objectKey := ObjectKey(p.config.Prefix, localPath, start)

	cl := p.logger.WithContext(ctx).WithRunID(runID).WithComponent("oss_publisher")
	cl.LogUploadStarted("Starting OSS upload", logger.Fields{
		"object_key": objectKey,
		"file_size":  info.Size(),
		"local_path": localPath,
	})

	attempts, err := withRetries(ctx, p.config.MaxRetries, time.Second, cl, func() error {
		if info.Size() > p.config.PartSize {
			return p.multipartUpload(localPath, objectKey, info.Size(), cl)
		}
		return p.bucket.PutObjectFromFile(objectKey, localPath)
	})
	if err != nil {
		cl.LogUploadFailed("OSS upload failed", "UPLOAD_ERROR", err.Error(), logger.Fields{
			"object_key": objectKey,
			"attempts":   attempts,
		})
		return nil, err
	}

	signedURL, err := p.bucket.SignURL(objectKey, oss.HTTPGet, int64(p.config.SignedURLExpiry.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to sign URL for %s: %w", objectKey, err)
	}

	duration := time.Since(start)
	cl.LogUploadCompleted("OSS upload completed", duration.Milliseconds(), logger.Fields{
		"object_key": objectKey,
		"file_size":  info.Size(),
		"attempts":   attempts,
	})
	return &Result{
		ObjectKey:  objectKey,
		SignedURL:  signedURL,
		Size:       info.Size(),
		UploadTime: duration,
		Attempts:   attempts,
	}, nil
}

func (p *OSSPublisher) multipartUpload(localPath, objectKey string, size int64, cl *logger.ContextLogger) error {
	imur, err := p.bucket.InitiateMultipartUpload(objectKey)
	if err != nil {
		return fmt.Errorf("failed to initiate multipart upload: %w", err)
	}

	partSize := p.config.PartSize
	partCount := int((size + partSize - 1) / partSize)

	parts := make([]oss.UploadPart, 0, partCount)
	for n := 1; n <= partCount; n++ {
		offset := int64(n-1) * partSize
		length := partSize
		if offset+length > size {
			length = size - offset
		}

		part, err := p.bucket.UploadPartFromFile(imur, localPath, offset, length, n)
		if err != nil {
			p.bucket.AbortMultipartUpload(imur)
			return fmt.Errorf("failed to upload part %d/%d: %w", n, partCount, err)
		}
		parts = append(parts, part)

		cl.LogDebug("PartUploaded", fmt.Sprintf("Uploaded part %d/%d", n, partCount), logger.Fields{
			"part_number": n,
			"part_size":   length,
		})
	}

	if _, err := p.bucket.CompleteMultipartUpload(imur, parts); err != nil {
		p.bucket.AbortMultipartUpload(imur)
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}
