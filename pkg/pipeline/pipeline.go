// Package pipeline runs the chemical → disease → gene → ontology analysis
// on top of CTD batch downloads.
//
// Starting from a chemical term list it downloads curated chemical-disease
// associations, keeps the marker/mechanism evidence, then pulls phenotypes
// and genes for the chemicals and genes for the diseases. Genes shared by a
// chemical and a disease are looked up in GO biological process and the
// result is intersected with the chemical's phenotypes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/toxichempy/toxichem/pkg/fetcher"
	"github.com/toxichempy/toxichem/pkg/logger"
	"github.com/toxichempy/toxichem/pkg/tabular"
	"github.com/toxichempy/toxichem/pkg/transform"
)

// Column names used by the CTD reports and the derived tables
const (
	ColInput          = "# Input"
	ColChemicalName   = "ChemicalName"
	ColChemicalID     = "ChemicalID"
	ColChemicalIDGene = "ChemicalId" // spelling used by the chemical-gene report
	ColCasRN          = "CasRN"
	ColDiseaseName    = "DiseaseName"
	ColDiseaseID      = "DiseaseID"
	ColDirectEvidence = "DirectEvidence"
	ColPhenotypeID    = "PhenotypeID"
	ColGeneSymbol     = "GeneSymbol"
	ColGoTermID       = "GoTermID"

	ColChemicalGenes    = "ChemicalGeneSymbol"
	ColDiseaseGenes     = "DiseaseGeneSymbol"
	ColCommonGenes      = "common_gene_chemical_disease"
	ColDiseaseOntology  = "disease_gene_ontology"
	ColCommonOntology   = "common_ontology"
	MarkerMechanism     = "marker/mechanism"
	GeneOntologyProcess = "go_bp"
)

// ChemicalKeys identify one chemical across the chemical reports
var ChemicalKeys = []string{ColInput, ColChemicalName, ColChemicalID, ColCasRN}

// ErrNoAssociations means the chemical list produced no usable
// chemical-disease associations
var ErrNoAssociations = errors.New("no chemical-disease associations")

// Fetcher downloads one CTD report
type Fetcher interface {
	Fetch(ctx context.Context, req fetcher.Request) (*fetcher.Result, error)
}

// Report lists what a run produced
type Report struct {
	RunIDs       []string
	Outputs      []string
	CompletePath string
	Rows         int
	Summary      []transform.ColumnSummary
	Duration     time.Duration
}

// Pipeline wires the fetcher, the tabular gateway and the transforms
type Pipeline struct {
	fetcher Fetcher
	gateway *tabular.Gateway
	dir     string
	logger  *logger.Logger
}

// New creates a pipeline that writes its tables into dir
func New(f Fetcher, gateway *tabular.Gateway, dir string, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	if gateway == nil {
		gateway = tabular.NewGateway(log)
	}
	return &Pipeline{fetcher: f, gateway: gateway, dir: dir, logger: log}
}

// Run executes the analysis for chemicals and writes complete.csv
func (p *Pipeline) Run(ctx context.Context, chemicals []string) (*Report, error) {
	start := time.Now()
	report := &Report{}
	cl := p.logger.WithContext(ctx).WithComponent("pipeline")

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", p.dir, err)
	}
	cl.LogInfo("PipelineStarted", "Analysis started", logger.Fields{"chemicals": len(chemicals), "dir": p.dir})

	// Chemical-disease associations with direct marker/mechanism evidence
	rawCD, err := p.download(ctx, report, chemicals, query{termType: "chem", report: "diseases_curated", base: "raw_chemical_disease"})
	if err != nil {
		return nil, err
	}
	if rawCD == nil {
		return nil, ErrNoAssociations
	}
	chemDisease, err := transform.Filter(rawCD, ColDirectEvidence, MarkerMechanism)
	if err != nil {
		return nil, err
	}
	if chemDisease.Len() == 0 {
		return nil, ErrNoAssociations
	}
	if err := p.save(report, chemDisease, "chemical_disease.csv"); err != nil {
		return nil, err
	}

	aggCD, err := transform.Aggregate(chemDisease, ChemicalKeys, ColDiseaseID)
	if err != nil {
		return nil, err
	}
	if err := p.save(report, aggCD, "aggregated_chemical_disease.csv"); err != nil {
		return nil, err
	}

	diseases, err := transform.Unique(chemDisease, ColDiseaseID)
	if err != nil {
		return nil, err
	}
	casRNs, err := transform.Unique(chemDisease, ColCasRN)
	if err != nil {
		return nil, err
	}
	if err := p.saveList(report, diseases, "diseases_chemical_disease.txt"); err != nil {
		return nil, err
	}
	if err := p.saveList(report, casRNs, "chemicals_chemical_disease.txt"); err != nil {
		return nil, err
	}

	// Phenotypes and genes per chemical, genes per disease
	aggPhenotype, err := p.downloadAggregate(ctx, report, casRNs, query{
		termType: "chem",
		report:   "phenotypes_curated",
		base:     "chemical_phenotype",
		keys:     ChemicalKeys,
		column:   ColPhenotypeID,
		output:   "aggregated_chemical_phenotype.csv",
	})
	if err != nil {
		return nil, err
	}

	chemGene, err := p.download(ctx, report, casRNs, query{termType: "chem", report: "genes_curated", base: "chemical_gene"})
	if err != nil {
		return nil, err
	}
	aggChemGene, err := aggregateChemicalGenes(chemGene)
	if err != nil {
		return nil, err
	}
	if err := p.save(report, aggChemGene, "aggregated_chemical_gene.csv"); err != nil {
		return nil, err
	}

	aggDiseaseGene, err := p.downloadAggregate(ctx, report, diseases, query{
		termType: "disease",
		report:   "genes_curated",
		base:     "disease_gene",
		keys:     []string{ColInput, ColDiseaseName, ColDiseaseID},
		column:   ColGeneSymbol,
		output:   "aggregated_disease_gene.csv",
	})
	if err != nil {
		return nil, err
	}

	// Merge everything onto the chemical-disease rows
	merged, err := p.mergeChemical(chemDisease, aggPhenotype, aggChemGene)
	if err != nil {
		return nil, err
	}
	if err := p.save(report, merged, "chemical_phenotype_gene_disease.csv"); err != nil {
		return nil, err
	}

	diseaseGenes, err := transform.Rename(aggDiseaseGene, ColGeneSymbol, ColDiseaseGenes)
	if err != nil {
		return nil, err
	}
	if diseaseGenes, err = transform.Select(diseaseGenes, ColDiseaseID, ColDiseaseGenes); err != nil {
		return nil, err
	}
	if merged, err = transform.LeftJoin(merged, diseaseGenes, []string{ColDiseaseID}); err != nil {
		return nil, err
	}
	if merged, err = transform.CommonValues(merged, ColChemicalGenes, ColDiseaseGenes, ColCommonGenes); err != nil {
		return nil, err
	}
	if err := p.save(report, merged, "cd_common_gene.csv"); err != nil {
		return nil, err
	}

	// GO biological process terms of the shared genes
	commonGenes, err := transform.UniqueListValues(merged, ColCommonGenes)
	if err != nil {
		return nil, err
	}
	if err := p.saveList(report, commonGenes, "set_cd_common_gene_list.txt"); err != nil {
		return nil, err
	}
	aggOntology, err := p.downloadAggregate(ctx, report, commonGenes, query{
		termType: "gene",
		report:   "go",
		base:     "raw_disease_gene_ontology",
		ontology: GeneOntologyProcess,
		keys:     []string{ColInput, ColGeneSymbol},
		column:   ColGoTermID,
		output:   "aggregated_gene_ontology.csv",
	})
	if err != nil {
		return nil, err
	}
	geneTerms, err := transform.GroupLists(aggOntology, ColGeneSymbol, ColGoTermID)
	if err != nil {
		return nil, err
	}
	if merged, err = transform.Lookup(merged, ColCommonGenes, geneTerms, ColDiseaseOntology); err != nil {
		return nil, err
	}
	if err := p.save(report, merged, "finaldf.csv"); err != nil {
		return nil, err
	}

	complete, err := transform.CommonValues(merged, ColPhenotypeID, ColDiseaseOntology, ColCommonOntology)
	if err != nil {
		return nil, err
	}
	if err := p.save(report, complete, "complete.csv"); err != nil {
		return nil, err
	}

	report.CompletePath = filepath.Join(p.dir, "complete.csv")
	report.Rows = complete.Len()
	report.Summary = transform.Summarize(complete)
	report.Duration = time.Since(start)

	cl.LogInfo("PipelineCompleted", "Analysis finished", logger.Fields{
		"rows":        report.Rows,
		"outputs":     len(report.Outputs),
		"duration_ms": report.Duration.Milliseconds(),
		"path":        report.CompletePath,
	})
	return report, nil
}

// query describes one CTD download and, for downloadAggregate, how it is
// grouped and where the aggregate is saved
type query struct {
	termType string
	report   string
	base     string
	ontology string

	keys   []string
	column string
	output string
}

// download fetches one report and loads its combined file. A nil dataset
// means nothing was downloaded.
func (p *Pipeline) download(ctx context.Context, report *Report, terms []string, q query) (*tabular.Dataset, error) {
	base := q.base
	result, err := p.fetcher.Fetch(ctx, fetcher.Request{
		TermType: q.termType,
		Terms:    terms,
		Report:   q.report,
		Format:   "csv",
		BaseName: base,
		Ontology: q.ontology,
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", base, err)
	}
	report.RunIDs = append(report.RunIDs, result.RunID)
	if result.Err != nil {
		p.logger.Warn("Continuing with partial download", logger.Fields{
			"base_name": base,
			"error":     result.Err.Error(),
		})
	}
	if result.CombinedPath == "" {
		return nil, nil
	}

	ds, err := p.gateway.Read(result.CombinedPath, tabular.Options{})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", base, err)
	}
	return transform.DropHeaderRows(ds), nil
}

// downloadAggregate downloads a report and aggregates column by keys. An
// empty download yields an empty table with the aggregate's columns.
func (p *Pipeline) downloadAggregate(ctx context.Context, report *Report, terms []string, q query) (*tabular.Dataset, error) {
	ds, err := p.download(ctx, report, terms, q)
	if err != nil {
		return nil, err
	}
	if ds == nil {
		return tabular.NewDataset(append(append([]string(nil), q.keys...), q.column)...), nil
	}

	agg, err := transform.Aggregate(ds, q.keys, q.column)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", q.base, err)
	}
	if err := p.save(report, agg, q.output); err != nil {
		return nil, err
	}
	return agg, nil
}

// aggregateChemicalGenes groups the chemical-gene report, whose chemical
// identifier column is spelled ChemicalId, and renames that column to
// ChemicalID so it joins with the other chemical tables
func aggregateChemicalGenes(ds *tabular.Dataset) (*tabular.Dataset, error) {
	if ds == nil {
		return tabular.NewDataset(append(append([]string(nil), ChemicalKeys...), ColGeneSymbol)...), nil
	}
	idColumn := ColChemicalID
	if ds.ColumnIndex(ColChemicalIDGene) >= 0 {
		idColumn = ColChemicalIDGene
	}
	agg, err := transform.Aggregate(ds, []string{ColInput, ColChemicalName, idColumn, ColCasRN}, ColGeneSymbol)
	if err != nil {
		return nil, fmt.Errorf("aggregate chemical_gene: %w", err)
	}
	if idColumn != ColChemicalID {
		return transform.Rename(agg, idColumn, ColChemicalID)
	}
	return agg, nil
}

func (p *Pipeline) mergeChemical(chemDisease, phenotypes, genes *tabular.Dataset) (*tabular.Dataset, error) {
	phen, err := transform.Select(phenotypes, append(append([]string(nil), ChemicalKeys...), ColPhenotypeID)...)
	if err != nil {
		return nil, err
	}
	merged, err := transform.LeftJoin(chemDisease, phen, ChemicalKeys)
	if err != nil {
		return nil, err
	}

	gene, err := transform.Select(genes, append(append([]string(nil), ChemicalKeys...), ColGeneSymbol)...)
	if err != nil {
		return nil, err
	}
	if merged, err = transform.LeftJoin(merged, gene, ChemicalKeys); err != nil {
		return nil, err
	}
	return transform.Rename(merged, ColGeneSymbol, ColChemicalGenes)
}

func (p *Pipeline) save(report *Report, ds *tabular.Dataset, name string) error {
	path := filepath.Join(p.dir, name)
	if err := p.gateway.Write(ds, path, tabular.Options{}); err != nil {
		return err
	}
	report.Outputs = append(report.Outputs, path)
	return nil
}

func (p *Pipeline) saveList(report *Report, items []string, name string) error {
	path := filepath.Join(p.dir, name)
	if err := transform.WriteTermList(path, items); err != nil {
		return err
	}
	report.Outputs = append(report.Outputs, path)
	return nil
}
