package artifact

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/toxichempy/toxichem/pkg/config"
	"github.com/toxichempy/toxichem/pkg/logger"
)

func TestObjectKey(t *testing.T) {
	ts := time.Date(2024, 3, 7, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"exports", "/data/out/chemical_gene.csv", "exports/2024/03/07/chemical_gene.csv"},
		{"/runs/ctd/", "chemical_gene.csv", "runs/ctd/2024/03/07/chemical_gene.csv"},
		{"", filepath.Join("out", "disease_gene.csv"), DefaultPrefix + "/2024/03/07/disease_gene.csv"},
	}
	for _, tt := range tests {
		if got := ObjectKey(tt.prefix, tt.path, ts); got != tt.want {
			t.Errorf("ObjectKey(%q, %q) = %q, want %q", tt.prefix, tt.path, got, tt.want)
		}
	}
}

func TestWithRetries(t *testing.T) {
	cl := logger.Nop().WithContext(context.Background())

	calls := 0
	attempts, err := withRetries(context.Background(), 3, 0, cl, func() error {
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Errorf("Expected success on attempt 3, got attempts=%d err=%v", attempts, err)
	}

	boom := errors.New("boom")
	calls = 0
	attempts, err = withRetries(context.Background(), 2, 0, cl, func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || attempts != 3 || calls != 3 {
		t.Errorf("Expected 3 failed attempts wrapping cause, got attempts=%d calls=%d err=%v", attempts, calls, err)
	}
}

func TestWithRetries_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := withRetries(ctx, 5, time.Hour, logger.Nop().WithContext(ctx), func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) || calls != 1 {
		t.Errorf("Expected cancellation after first attempt, got calls=%d err=%v", calls, err)
	}
}

func TestNewPublisher(t *testing.T) {
	cfg := config.DefaultConfig()

	p, err := NewPublisher(cfg, nil)
	if err != nil || p != nil {
		t.Errorf("Expected no publisher by default, got %v %v", p, err)
	}

	cfg.Storage.Publisher = "ftp"
	if _, err := NewPublisher(cfg, nil); err == nil {
		t.Error("Expected error for unknown publisher")
	}

	cfg.Storage.Publisher = "s3"
	cfg.S3 = config.S3Config{Endpoint: "localhost:9000", Bucket: "artifacts", AccessKeyID: "key", SecretAccessKey: "secret"}
	p, err = NewPublisher(cfg, nil)
	if err != nil {
		t.Fatalf("Expected S3 publisher, got %v", err)
	}
	if _, ok := p.(*S3Publisher); !ok {
		t.Errorf("Expected *S3Publisher, got %T", p)
	}

	if _, err := p.Publish(context.Background(), "run", filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("Expected error publishing a missing file")
	}
}

func TestContentType(t *testing.T) {
	if contentType("a.CSV") != "text/csv" || contentType("a.h5") != "application/octet-stream" {
		t.Error("Unexpected content types")
	}
}
