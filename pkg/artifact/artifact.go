// Package artifact ships combined fetch artifacts to object storage.
package artifact

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/toxichempy/toxichem/pkg/config"
	"github.com/toxichempy/toxichem/pkg/logger"
)

// DefaultPrefix is the object key prefix used when none is configured
const DefaultPrefix = "toxichem"

// Publisher uploads a local file and returns where it can be downloaded
type Publisher interface {
	Publish(ctx context.Context, runID string, localPath string) (*Result, error)
}

// Result contains the outcome of a publish
type Result struct {
	ObjectKey  string
	SignedURL  string
	Size       int64
	UploadTime time.Duration
	Attempts   int
}

// ObjectKey builds prefix/YYYY/MM/DD/filename for localPath
func ObjectKey(prefix string, localPath string, t time.Time) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return path.Join(prefix, t.Format("2006/01/02"), filepath.Base(localPath))
}

// withRetries runs upload up to maxRetries+1 times, waiting attempt*backoff
// between tries. It returns the number of attempts made.
func withRetries(ctx context.Context, maxRetries int, backoff time.Duration, cl *logger.ContextLogger, upload func() error) (int, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	attempt := 0
	for ; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * backoff
			cl.LogWarn(
				"UploadRetry",
				fmt.Sprintf("Retrying upload (attempt %d/%d)", attempt+1, maxRetries+1),
				logger.Fields{"wait_time": wait.String(), "error": lastErr.Error()},
			)
			select {
			case <-ctx.Done():
				return attempt, ctx.Err()
			case <-time.After(wait):
			}
		}

		if lastErr = upload(); lastErr == nil {
			return attempt + 1, nil
		}
	}
	return attempt, fmt.Errorf("failed to upload after %d attempts: %w", attempt, lastErr)
}

func contentType(localPath string) string {
	switch strings.ToLower(filepath.Ext(localPath)) {
	case ".csv":
		return "text/csv"
	case ".txt", ".tsv":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// NewPublisher returns the publisher selected by cfg.Storage.Publisher, or
// nil when publishing is disabled
func NewPublisher(cfg *config.Config, log *logger.Logger) (Publisher, error) {
	switch strings.ToLower(cfg.Storage.Publisher) {
	case "", "none":
		return nil, nil
	case "oss":
		p, err := NewOSSPublisher(&cfg.OSS, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "s3":
		p, err := NewS3Publisher(&cfg.S3, log)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown publisher %q", cfg.Storage.Publisher)
	}
}
