// Package fetcher downloads CTD batch-query reports for long term lists.
//
// Terms are split into batches of at most Config.MaxTerms. Each batch is
// one GET whose body lands in {base}_files/{base}_{i}.csv, and the batch
// files are concatenated into {base}.{format}. Batches run strictly in
// order. The first failed batch stops the run and later batches are never
// requested.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/toxichempy/toxichem/pkg/logger"
	"github.com/toxichempy/toxichem/pkg/storage"
)

const (
	// DefaultBaseURL is the CTD batch query endpoint
	DefaultBaseURL = "https://ctdbase.org/tools/batchQuery.go"

	// DefaultMaxTerms is the largest term list CTD accepts per request
	DefaultMaxTerms = 500
)

// ErrNetwork marks a batch that got a non-200 status or a transport error
var ErrNetwork = errors.New("network failure")

// BatchError reports the batch that stopped a fetch run
type BatchError struct {
	Index      int
	StatusCode int
	Err        error
}

func (e *BatchError) Error() string {
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		return fmt.Sprintf("batch %d: status code %d: %v", e.Index, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("batch %d: %v", e.Index, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Getter issues a single HTTP GET
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// HTTPGetter is a Getter backed by an http.Client
type HTTPGetter struct {
	Client *http.Client
}

// NewHTTPGetter creates a getter. A zero timeout leaves requests unbounded.
func NewHTTPGetter(timeout time.Duration) *HTTPGetter {
	return &HTTPGetter{Client: &http.Client{Timeout: timeout}}
}

// Get performs the request with ctx attached
func (g *HTTPGetter) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

// Config holds the settings shared by every fetch run
type Config struct {
	BaseURL   string
	OutputDir string
	MaxTerms  int
	Timeout   time.Duration

	// DiscardPartial skips the combined file when any batch failed. By
	// default the batches that succeeded before the failure are combined.
	DiscardPartial bool

	// CleanupBatches removes {base}_files once the combined file is written
	CleanupBatches bool
}

// Request describes one download
type Request struct {
	TermType string // inputType, e.g. "chem", "disease", "gene"
	Terms    []string
	Report   string // e.g. "genes_curated"
	Format   string // e.g. "csv"
	BaseName string
	Ontology string // optional, e.g. "go_bp"
}

// Validate checks the fields used to build URLs and file names
func (r *Request) Validate() error {
	switch {
	case r.TermType == "":
		return fmt.Errorf("term type is required")
	case r.Report == "":
		return fmt.Errorf("report is required")
	case r.Format == "":
		return fmt.Errorf("format is required")
	case r.BaseName == "":
		return fmt.Errorf("base name is required")
	}
	if strings.ContainsAny(r.BaseName, `/\`) || r.BaseName != filepath.Base(r.BaseName) {
		return fmt.Errorf("base name %q must not contain path separators", r.BaseName)
	}
	if strings.ContainsAny(r.Format, `/\`) {
		return fmt.Errorf("format %q must not contain path separators", r.Format)
	}
	return nil
}

// Result summarizes a fetch run
type Result struct {
	RunID        string
	Batches      []*Batch
	CombinedPath string // empty when no combined file was written
	Bytes        int64

	// Err is the batch failure that ended the run early, if any
	Err error
}

// Succeeded returns the batches that were downloaded
func (r *Result) Succeeded() []*Batch {
	var out []*Batch
	for _, b := range r.Batches {
		if b.State == StateSucceeded {
			out = append(out, b)
		}
	}
	return out
}

// Fetcher runs chunked downloads
type Fetcher struct {
	config Config
	getter Getter
	logger *logger.Logger
}

// New creates a Fetcher. A nil getter uses an HTTPGetter with cfg.Timeout.
func New(cfg Config, getter Getter, log *logger.Logger) *Fetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxTerms <= 0 {
		cfg.MaxTerms = DefaultMaxTerms
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if getter == nil {
		getter = NewHTTPGetter(cfg.Timeout)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Fetcher{config: cfg, getter: getter, logger: log}
}

// BuildURL renders the batch query URL for one batch of terms
func BuildURL(baseURL string, req Request, terms []string) string {
	params := []struct{ key, value string }{
		{"inputType", req.TermType},
		{"inputTerms", strings.Join(terms, "|")},
		{"report", req.Report},
		{"format", req.Format},
		{"ontology", req.Ontology},
		{"inputTermSearchType", "directAssociations"},
	}

	var b strings.Builder
	b.WriteString(baseURL)
	if strings.Contains(baseURL, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

// Fetch downloads every batch of req in order and combines the results.
//
// A failure after at least one successful batch is not returned as an
// error: it is logged and recorded in Result.Err, and the combined file
// covers the batches that succeeded (unless DiscardPartial is set). When the
// first batch fails, Fetch returns the *BatchError together with the
// result and writes no combined file.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fetch request: %w", err)
	}

	start := time.Now()
	result := &Result{
		RunID:   uuid.New().String(),
		Batches: Partition(req.Terms, f.config.MaxTerms),
	}
	contextLogger := f.logger.WithContext(ctx).WithRunID(result.RunID).WithComponent("fetcher")
	ws := storage.NewWorkspace(f.config.OutputDir, req.BaseName, f.logger)

	// Remove the existing folder and combined file, if any
	if err := ws.Remove(req.Format); err != nil {
		return nil, err
	}
	if len(result.Batches) == 0 {
		contextLogger.LogWarn("NoTerms", "No chunks were downloaded; combined file not created", logger.Fields{
			"base_name": req.BaseName,
		})
		return result, nil
	}

	if err := ws.Reset(); err != nil {
		return nil, err
	}

	contextLogger.LogRunStarted("Fetch started", logger.Fields{
		"input_type": req.TermType,
		"report":     req.Report,
		"format":     req.Format,
		"base_name":  req.BaseName,
		"terms":      len(req.Terms),
		"batches":    len(result.Batches),
		"workspace":  ws.Dir(),
	})

	for i, b := range result.Batches {
		if err := ctx.Err(); err != nil {
			abandon(result.Batches[i:])
			result.Err = fmt.Errorf("fetch cancelled before batch %d: %w", b.Index, err)
			break
		}

		b.Path = ws.BatchPath(b.Index)
		b.State = StateFetching
		batchStart := time.Now()
		contextLogger.LogDebug("BatchStarted", fmt.Sprintf("Downloading chunk %d of %d", b.Index, len(result.Batches)), logger.Fields{
			"batch": b.Index,
			"terms": len(b.Terms),
		})

		if err := f.fetchBatch(ctx, ws, req, b); err != nil {
			b.State = StateFailed
			b.Err = err
			abandon(result.Batches[i+1:])
			result.Err = err
			contextLogger.LogBatchFailed(
				fmt.Sprintf("Failed to download chunk %d of %d", b.Index, len(result.Batches)),
				"BATCH_FAILED",
				err.Error(),
				logger.Fields{"batch": b.Index, "status_code": b.StatusCode, "abandoned": len(result.Batches) - i - 1},
			)
			break
		}

		b.State = StateSucceeded
		contextLogger.LogBatchFetched(
			fmt.Sprintf("Chunk %d downloaded", b.Index),
			time.Since(batchStart).Milliseconds(),
			logger.Fields{"batch": b.Index, "path": b.Path, "bytes": b.Bytes},
		)
	}

	succeeded := result.Succeeded()
	if len(succeeded) == 0 {
		contextLogger.LogWarn("NoArtifact", "No chunks were downloaded; combined file not created", logger.Fields{
			"base_name": req.BaseName,
		})
		return result, result.Err
	}
	if result.Err != nil && f.config.DiscardPartial {
		contextLogger.LogWarn("NoArtifact", "Fetch incomplete; partial combined file disabled", logger.Fields{
			"succeeded": len(succeeded),
			"batches":   len(result.Batches),
		})
		return result, nil
	}

	indices := make([]int, len(succeeded))
	for i, b := range succeeded {
		indices[i] = b.Index
	}
	combined := ws.CombinedPath(req.Format)
	n, err := ws.Combine(combined, indices)
	if err != nil {
		return result, err
	}
	result.CombinedPath = combined
	result.Bytes = n

	if f.config.CleanupBatches {
		if err := ws.Cleanup(); err != nil {
			contextLogger.LogWarn("CleanupFailed", "Failed to remove batch files", logger.Fields{"error": err.Error()})
		}
	}

	contextLogger.LogArtifactCombined("Combined file created", logger.Fields{
		"path":    combined,
		"bytes":   n,
		"batches": len(indices),
		"partial": result.Err != nil,
	})
	contextLogger.LogRunCompleted("Fetch finished", time.Since(start).Milliseconds(), logger.Fields{
		"succeeded": len(succeeded),
		"batches":   len(result.Batches),
	})
	return result, nil
}

func (f *Fetcher) fetchBatch(ctx context.Context, ws *storage.Workspace, req Request, b *Batch) error {
	resp, err := f.getter.Get(ctx, BuildURL(f.config.BaseURL, req, b.Terms))
	if err != nil {
		return &BatchError{Index: b.Index, Err: fmt.Errorf("%w: %w", ErrNetwork, err)}
	}
	defer resp.Body.Close()

	b.StatusCode = resp.StatusCode
	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return &BatchError{Index: b.Index, StatusCode: resp.StatusCode, Err: ErrNetwork}
	}

	body := &trackingReader{r: resp.Body}
	n, err := ws.WriteBatch(b.Index, body)
	if err != nil {
		if body.err != nil {
			return &BatchError{Index: b.Index, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %w", ErrNetwork, body.err)}
		}
		return &BatchError{Index: b.Index, StatusCode: resp.StatusCode, Err: err}
	}
	b.Bytes = n
	return nil
}

// trackingReader remembers the first read error so body failures can be
// told apart from local write failures
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
