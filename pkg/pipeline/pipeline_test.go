package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/toxichempy/toxichem/pkg/fetcher"
	"github.com/toxichempy/toxichem/pkg/tabular"
	"github.com/toxichempy/toxichem/pkg/transform"
)

var ctdReports = map[string]string{
	"chem/diseases_curated": `# Input,ChemicalName,ChemicalID,CasRN,DiseaseName,DiseaseID,DirectEvidence
50-00-0,Formaldehyde,D005557,50-00-0,Asthma,MESH:D001249,marker/mechanism
50-00-0,Formaldehyde,D005557,50-00-0,Leukemia,MESH:D007938,marker/mechanism
50-00-0,Formaldehyde,D005557,50-00-0,Cough,MESH:D003371,therapeutic
`,
	"chem/phenotypes_curated": `# Input,ChemicalName,ChemicalID,CasRN,PhenotypeName,PhenotypeID
50-00-0,Formaldehyde,D005557,50-00-0,apoptotic process,GO:0006915
50-00-0,Formaldehyde,D005557,50-00-0,inflammatory response,GO:0006954
`,
	"chem/genes_curated": `# Input,ChemicalName,ChemicalId,CasRN,GeneSymbol,GeneID
50-00-0,Formaldehyde,D005557,50-00-0,TP53,7157
50-00-0,Formaldehyde,D005557,50-00-0,IL6,3569
50-00-0,Formaldehyde,D005557,50-00-0,AKT1,207
`,
	"disease/genes_curated": `# Input,DiseaseName,DiseaseID,GeneSymbol,GeneID
MESH:D001249,Asthma,MESH:D001249,IL6,3569
MESH:D007938,Leukemia,MESH:D007938,TP53,7157
MESH:D007938,Leukemia,MESH:D007938,BRCA1,672
`,
	"gene/go": `# Input,GeneSymbol,GoTermID,GoTermName
IL6,IL6,GO:0006954,inflammatory response
TP53,TP53,GO:0006915,apoptotic process
TP53,TP53,GO:0008283,cell population proliferation
`,
}

type ctdServer struct {
	mu      sync.Mutex
	queries []string
}

func (s *ctdServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("inputType") + "/" + q.Get("report")

	s.mu.Lock()
	s.queries = append(s.queries, key+"?"+q.Get("inputTerms")+"&"+q.Get("ontology"))
	s.mu.Unlock()

	body, ok := ctdReports[key]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write([]byte(body))
}

func newTestPipeline(t *testing.T, handler http.Handler) (*Pipeline, string) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	f := fetcher.New(fetcher.Config{
		BaseURL:   server.URL + "/tools/batchQuery.go",
		OutputDir: dir,
	}, &fetcher.HTTPGetter{Client: server.Client()}, nil)
	return New(f, nil, dir, nil), dir
}

func TestRun(t *testing.T) {
	srv := &ctdServer{}
	p, dir := newTestPipeline(t, srv)

	report, err := p.Run(context.Background(), []string{"50-00-0"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	expectedQueries := []string{
		"chem/diseases_curated?50-00-0&",
		"chem/phenotypes_curated?50-00-0&",
		"chem/genes_curated?50-00-0&",
		"disease/genes_curated?MESH:D001249|MESH:D007938&",
		"gene/go?IL6|TP53&go_bp",
	}
	if strings.Join(srv.queries, "\n") != strings.Join(expectedQueries, "\n") {
		t.Errorf("Unexpected CTD queries:\n%s", strings.Join(srv.queries, "\n"))
	}
	if len(report.RunIDs) != 5 {
		t.Errorf("Expected 5 run IDs, got %d", len(report.RunIDs))
	}

	complete, err := tabular.Read(filepath.Join(dir, "complete.csv"), tabular.Options{})
	if err != nil {
		t.Fatalf("Failed to read complete.csv: %v", err)
	}
	if complete.Len() != 2 || report.Rows != 2 {
		t.Fatalf("Expected 2 marker/mechanism rows, got %d", complete.Len())
	}

	expected := []map[string]any{
		{
			"DiseaseName":                  "Asthma",
			"PhenotypeID":                  "GO:0006915, GO:0006954",
			"ChemicalGeneSymbol":           "TP53, IL6, AKT1",
			"DiseaseGeneSymbol":            "IL6",
			"common_gene_chemical_disease": "IL6",
			"disease_gene_ontology":        "GO:0006954",
			"common_ontology":              "GO:0006954",
		},
		{
			"DiseaseName":                  "Leukemia",
			"DiseaseGeneSymbol":            "TP53, BRCA1",
			"common_gene_chemical_disease": "TP53",
			"disease_gene_ontology":        "GO:0006915, GO:0008283",
			"common_ontology":              "GO:0006915",
		},
	}
	for i, row := range expected {
		for col, want := range row {
			if got := complete.Value(i, col); got != want {
				t.Errorf("Row %d column %s: expected %v, got %v", i, col, want, got)
			}
		}
	}

	for _, name := range []string{
		"chemical_disease.csv",
		"aggregated_chemical_disease.csv",
		"aggregated_chemical_gene.csv",
		"aggregated_disease_gene.csv",
		"aggregated_gene_ontology.csv",
		"cd_common_gene.csv",
		"finaldf.csv",
		"set_cd_common_gene_list.txt",
	} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected output %s: %v", name, err)
		}
	}

	genes, err := tabular.Read(filepath.Join(dir, "aggregated_chemical_gene.csv"), tabular.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if genes.ColumnIndex(ColChemicalID) < 0 || genes.ColumnIndex(ColChemicalIDGene) >= 0 {
		t.Errorf("Chemical gene table should use %s, got %v", ColChemicalID, genes.Columns)
	}

	diseaseGenes, err := tabular.Read(filepath.Join(dir, "aggregated_disease_gene.csv"), tabular.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if diseaseGenes.ColumnIndex(ColGoTermID) >= 0 {
		t.Error("Gene ontology aggregate must not overwrite the disease gene table")
	}

	commonGenes, err := transform.ReadTermList(filepath.Join(dir, "set_cd_common_gene_list.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(commonGenes, ",") != "IL6,TP53" {
		t.Errorf("Unexpected common gene list %v", commonGenes)
	}
}

func TestRun_NoAssociations(t *testing.T) {
	p, _ := newTestPipeline(t, &ctdServer{})

	if _, err := p.Run(context.Background(), nil); !errors.Is(err, ErrNoAssociations) {
		t.Errorf("Expected ErrNoAssociations, got %v", err)
	}
}

func TestRun_DownloadFailure(t *testing.T) {
	p, _ := newTestPipeline(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))

	_, err := p.Run(context.Background(), []string{"50-00-0"})
	var batchErr *fetcher.BatchError
	if !errors.As(err, &batchErr) || batchErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected batch error, got %v", err)
	}
}
