package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// ctdStub mimics the batch query endpoint. Each response body names the
// request number and the first term so batch order is visible in the output.
type ctdStub struct {
	mu       sync.Mutex
	requests []url.Values
	failOn   map[int]int // request number -> status code
}

func (s *ctdStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.URL.Query())
	n := len(s.requests)
	status, fail := s.failOn[n]
	s.mu.Unlock()

	if fail {
		http.Error(w, "unavailable", status)
		return
	}
	terms := strings.Split(r.URL.Query().Get("inputTerms"), "|")
	fmt.Fprintf(w, "# Input,Count\nbatch-%d-%s,%d\n", n, terms[0], len(terms))
}

func (s *ctdStub) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func makeTerms(n int) []string {
	terms := make([]string, n)
	for i := range terms {
		terms[i] = fmt.Sprintf("C%04d", i)
	}
	return terms
}

func newTestFetcher(t *testing.T, stub *ctdStub, cfg Config) (*Fetcher, string) {
	t.Helper()
	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)

	cfg.BaseURL = server.URL + "/tools/batchQuery.go"
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	return New(cfg, &HTTPGetter{Client: server.Client()}, nil), cfg.OutputDir
}

func chemRequest(terms []string) Request {
	return Request{
		TermType: "chem",
		Terms:    terms,
		Report:   "genes_curated",
		Format:   "csv",
		BaseName: "chemical_gene",
	}
}

func TestPartition(t *testing.T) {
	batches := Partition(makeTerms(1200), 500)
	if len(batches) != 3 {
		t.Fatalf("Expected 3 batches, got %d", len(batches))
	}
	sizes := []int{500, 500, 200}
	for i, b := range batches {
		if b.Index != i+1 {
			t.Errorf("Batch %d has index %d", i, b.Index)
		}
		if len(b.Terms) != sizes[i] {
			t.Errorf("Batch %d: expected %d terms, got %d", b.Index, sizes[i], len(b.Terms))
		}
		if b.State != StatePending {
			t.Errorf("Batch %d should start pending, got %s", b.Index, b.State)
		}
	}
	if batches[1].Terms[0] != "C0500" || batches[2].Terms[199] != "C1199" {
		t.Errorf("Partition did not preserve input order")
	}

	if got := Partition(nil, 500); len(got) != 0 {
		t.Errorf("Expected no batches for empty input, got %d", len(got))
	}
	if got := Partition([]string{"a", "a", "b"}, 2); len(got) != 2 || len(got[0].Terms) != 2 {
		t.Errorf("Duplicates must be kept, got %+v", got)
	}
}

func TestBuildURL(t *testing.T) {
	req := Request{TermType: "gene", Report: "go", Format: "csv", Ontology: "go_bp"}
	raw := BuildURL(DefaultBaseURL, req, []string{"TP53", "IL6"})

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Invalid URL %q: %v", raw, err)
	}
	if u.Host != "ctdbase.org" || u.Path != "/tools/batchQuery.go" {
		t.Errorf("Unexpected endpoint %s", raw)
	}
	q := u.Query()
	expected := map[string]string{
		"inputType":           "gene",
		"inputTerms":          "TP53|IL6",
		"report":              "go",
		"format":              "csv",
		"ontology":            "go_bp",
		"inputTermSearchType": "directAssociations",
	}
	for k, v := range expected {
		if q.Get(k) != v {
			t.Errorf("Param %s: expected %q, got %q", k, v, q.Get(k))
		}
	}
}

func TestFetch_ThreeBatchesCombined(t *testing.T) {
	stub := &ctdStub{}
	f, outDir := newTestFetcher(t, stub, Config{MaxTerms: 500})

	result, err := f.Fetch(context.Background(), chemRequest(makeTerms(1200)))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.Err != nil {
		t.Fatalf("Unexpected batch failure: %v", result.Err)
	}
	if stub.count() != 3 {
		t.Fatalf("Expected 3 requests, got %d", stub.count())
	}

	dir := filepath.Join(outDir, "chemical_gene_files")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 batch files, got %d", len(entries))
	}

	var concat bytes.Buffer
	for i := 1; i <= 3; i++ {
		data, err := os.ReadFile(filepath.Join(dir, fmt.Sprintf("chemical_gene_%d.csv", i)))
		if err != nil {
			t.Fatalf("Missing batch file %d: %v", i, err)
		}
		concat.Write(data)
	}

	combinedPath := filepath.Join(outDir, "chemical_gene.csv")
	if result.CombinedPath != combinedPath {
		t.Errorf("Expected combined path %s, got %s", combinedPath, result.CombinedPath)
	}
	combined, err := os.ReadFile(combinedPath)
	if err != nil {
		t.Fatalf("Missing combined file: %v", err)
	}
	if !bytes.Equal(combined, concat.Bytes()) {
		t.Errorf("Combined file is not the ordered concatenation.\nExpected:\n%s\nGot:\n%s", concat.String(), string(combined))
	}
	if !strings.HasPrefix(string(combined), "# Input,Count\nbatch-1-C0000,500\n") {
		t.Errorf("Unexpected first batch content %q", string(combined))
	}
}

func TestFetch_FailureStopsLaterBatches(t *testing.T) {
	stub := &ctdStub{failOn: map[int]int{2: http.StatusInternalServerError}}
	f, outDir := newTestFetcher(t, stub, Config{})

	result, err := f.Fetch(context.Background(), chemRequest(makeTerms(1200)))
	if err != nil {
		t.Fatalf("Partial failure should not be returned as error: %v", err)
	}
	if stub.count() != 2 {
		t.Fatalf("Batch 3 must never be requested; got %d requests", stub.count())
	}

	states := []BatchState{StateSucceeded, StateFailed, StateAbandoned}
	for i, b := range result.Batches {
		if b.State != states[i] {
			t.Errorf("Batch %d: expected %s, got %s", b.Index, states[i], b.State)
		}
	}

	var batchErr *BatchError
	if !errors.As(result.Err, &batchErr) || batchErr.Index != 2 || batchErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected batch 2 error, got %v", result.Err)
	}
	if !errors.Is(result.Err, ErrNetwork) {
		t.Errorf("Expected ErrNetwork, got %v", result.Err)
	}
	if !strings.Contains(result.Err.Error(), "batch 2") {
		t.Errorf("Error should name the batch: %v", result.Err)
	}

	dir := filepath.Join(outDir, "chemical_gene_files")
	batch1, err := os.ReadFile(filepath.Join(dir, "chemical_gene_1.csv"))
	if err != nil {
		t.Fatalf("Batch 1 file missing: %v", err)
	}
	for _, missing := range []string{"chemical_gene_2.csv", "chemical_gene_3.csv"} {
		if _, err := os.Stat(filepath.Join(dir, missing)); !os.IsNotExist(err) {
			t.Errorf("%s should not exist", missing)
		}
	}

	combined, err := os.ReadFile(filepath.Join(outDir, "chemical_gene.csv"))
	if err != nil {
		t.Fatalf("Expected partial combined file: %v", err)
	}
	if !bytes.Equal(combined, batch1) {
		t.Errorf("Combined file should only hold batch 1.\nExpected:\n%s\nGot:\n%s", batch1, combined)
	}
}

func TestFetch_DiscardPartial(t *testing.T) {
	stub := &ctdStub{failOn: map[int]int{2: http.StatusBadGateway}}
	f, outDir := newTestFetcher(t, stub, Config{DiscardPartial: true})

	result, err := f.Fetch(context.Background(), chemRequest(makeTerms(1200)))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.CombinedPath != "" {
		t.Errorf("Expected no combined file, got %s", result.CombinedPath)
	}
	if _, err := os.Stat(filepath.Join(outDir, "chemical_gene.csv")); !os.IsNotExist(err) {
		t.Error("Combined file should not exist")
	}
}

func TestFetch_FirstBatchFails(t *testing.T) {
	stub := &ctdStub{failOn: map[int]int{1: http.StatusNotFound}}
	f, outDir := newTestFetcher(t, stub, Config{})

	result, err := f.Fetch(context.Background(), chemRequest(makeTerms(10)))
	var batchErr *BatchError
	if !errors.As(err, &batchErr) || batchErr.Index != 1 {
		t.Fatalf("Expected batch 1 error, got %v", err)
	}
	if result == nil || result.CombinedPath != "" {
		t.Errorf("Expected result without combined file, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(outDir, "chemical_gene.csv")); !os.IsNotExist(err) {
		t.Error("Combined file should not exist")
	}
}

func TestFetch_RerunRemovesStaleBatches(t *testing.T) {
	stub := &ctdStub{}
	f, outDir := newTestFetcher(t, stub, Config{MaxTerms: 2})

	if _, err := f.Fetch(context.Background(), chemRequest(makeTerms(6))); err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	if _, err := f.Fetch(context.Background(), chemRequest(makeTerms(3))); err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(outDir, "chemical_gene_files"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 || names[0] != "chemical_gene_1.csv" || names[1] != "chemical_gene_2.csv" {
		t.Errorf("Expected only the second run's 2 batches, got %v", names)
	}
}

func TestFetch_NoTerms(t *testing.T) {
	stub := &ctdStub{}
	f, outDir := newTestFetcher(t, stub, Config{})

	result, err := f.Fetch(context.Background(), chemRequest(nil))
	if err != nil {
		t.Fatalf("Fetch with no terms should not fail: %v", err)
	}
	if stub.count() != 0 {
		t.Errorf("Expected no requests, got %d", stub.count())
	}
	if result.CombinedPath != "" || len(result.Batches) != 0 {
		t.Errorf("Expected empty result, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(outDir, "chemical_gene_files")); !os.IsNotExist(err) {
		t.Error("Workspace should not be created for zero terms")
	}
}

func TestFetch_CancelledContext(t *testing.T) {
	stub := &ctdStub{}
	f, _ := newTestFetcher(t, stub, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.Fetch(ctx, chemRequest(makeTerms(3)))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if stub.count() != 0 {
		t.Errorf("Expected no requests after cancellation, got %d", stub.count())
	}
	if result.Batches[0].State != StateAbandoned {
		t.Errorf("Expected abandoned batch, got %s", result.Batches[0].State)
	}
}

func TestRequest_Validate(t *testing.T) {
	cases := []struct {
		name string
		req  Request
	}{
		{"missing type", Request{Report: "r", Format: "csv", BaseName: "b"}},
		{"missing report", Request{TermType: "chem", Format: "csv", BaseName: "b"}},
		{"missing format", Request{TermType: "chem", Report: "r", BaseName: "b"}},
		{"missing base", Request{TermType: "chem", Report: "r", Format: "csv"}},
		{"path in base", Request{TermType: "chem", Report: "r", Format: "csv", BaseName: "../b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.req.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestFetch_CleanupBatches(t *testing.T) {
	stub := &ctdStub{}
	f, outDir := newTestFetcher(t, stub, Config{MaxTerms: 2, CleanupBatches: true})

	result, err := f.Fetch(context.Background(), chemRequest(makeTerms(5)))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if _, err := os.Stat(result.CombinedPath); err != nil {
		t.Errorf("Combined file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "chemical_gene_files")); !os.IsNotExist(err) {
		t.Error("Batch directory should be removed")
	}
}
