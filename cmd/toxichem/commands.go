package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/toxichempy/toxichem/pkg/artifact"
	"github.com/toxichempy/toxichem/pkg/fetcher"
	"github.com/toxichempy/toxichem/pkg/logger"
	"github.com/toxichempy/toxichem/pkg/pipeline"
	"github.com/toxichempy/toxichem/pkg/tabular"
	"github.com/toxichempy/toxichem/pkg/transform"
)

func (a *app) newFetcher(outputDir string, maxTerms int) *fetcher.Fetcher {
	cfg := a.cfg.Fetch
	if outputDir == "" {
		outputDir = cfg.OutputDir
	}
	if maxTerms <= 0 {
		maxTerms = cfg.MaxTerms
	}
	return fetcher.New(fetcher.Config{
		BaseURL:        cfg.BaseURL,
		OutputDir:      outputDir,
		MaxTerms:       maxTerms,
		Timeout:        cfg.Timeout,
		DiscardPartial: cfg.DiscardPartial,
		CleanupBatches: cfg.CleanupBatches,
	}, nil, a.logger)
}

// tabularOptions layers per-command flags over the configured defaults
func (a *app) tabularOptions(delimiter, sheet, key, table string, infer bool) tabular.Options {
	t := a.cfg.Tabular
	opts := tabular.Options{
		Delimiter:  t.Delimiter,
		SheetName:  t.SheetName,
		Key:        t.Key,
		Table:      t.Table,
		InferTypes: t.InferTypes || infer,
	}
	if delimiter != "" {
		opts.Delimiter = delimiter
	}
	if sheet != "" {
		opts.SheetName = sheet
	}
	if key != "" {
		opts.Key = key
	}
	if table != "" {
		opts.Table = table
	}
	return opts
}

func (a *app) publish(ctx context.Context, runID, path string) error {
	pub, err := artifact.NewPublisher(a.cfg, a.logger)
	if err != nil {
		return err
	}
	if pub == nil {
		return fmt.Errorf("-publish requires storage.publisher to be oss or s3")
	}
	result, err := pub.Publish(ctx, runID, path)
	if err != nil {
		return err
	}
	fmt.Printf("Published %s\n  object: %s\n  url:    %s\n", path, result.ObjectKey, result.SignedURL)
	return nil
}

func runFetch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	termType := fs.String("type", "chem", "Input term type (chem, disease, gene, go, pathway)")
	termsFile := fs.String("terms", "", "File with one query term per line")
	report := fs.String("report", "", "CTD report, e.g. genes_curated")
	format := fs.String("format", "csv", "CTD output format")
	base := fs.String("base", "", "Base name of the batch directory and combined file")
	ontology := fs.String("ontology", "", "Ontology association, e.g. go_bp")
	outDir := fs.String("out", "", "Output directory (default from config)")
	maxTerms := fs.Int("max-terms", 0, "Terms per request (default from config)")
	publish := fs.Bool("publish", false, "Upload the combined file with the configured publisher")
	fs.Parse(args)

	var terms []string
	if *termsFile != "" {
		list, err := transform.ReadTermList(*termsFile)
		if err != nil {
			return err
		}
		terms = list
	}
	terms = append(terms, fs.Args()...)

	f := a.newFetcher(*outDir, *maxTerms)
	result, err := f.Fetch(ctx, fetcher.Request{
		TermType: *termType,
		Terms:    terms,
		Report:   *report,
		Format:   *format,
		BaseName: *base,
		Ontology: *ontology,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Run %s: %d/%d batches downloaded\n", result.RunID, len(result.Succeeded()), len(result.Batches))
	if result.Err != nil {
		fmt.Printf("Stopped early: %v\n", result.Err)
	}
	if result.CombinedPath == "" {
		fmt.Println("No combined file created")
		return nil
	}
	fmt.Printf("Combined file: %s (%d bytes)\n", result.CombinedPath, result.Bytes)

	if *publish {
		return a.publish(ctx, result.RunID, result.CombinedPath)
	}
	return nil
}

func runConvert(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	srcDelim := fs.String("src-delim", "", "Source delimiter for csv/txt")
	dstDelim := fs.String("dst-delim", "", "Destination delimiter for csv/txt")
	sheet := fs.String("sheet", "", "xlsx sheet name")
	key := fs.String("key", "", "h5 store key")
	table := fs.String("table", "", "db table name")
	infer := fs.Bool("infer", false, "Infer numeric and boolean cells from text sources")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: toxichem convert [flags] SRC DST")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if fs.NArg() != 2 {
		fs.Usage()
		return fmt.Errorf("convert needs a source and a destination path")
	}
	src, dst := fs.Arg(0), fs.Arg(1)

	start := time.Now()
	gw := tabular.NewGateway(a.logger)
	if err := gw.Convert(src, dst,
		a.tabularOptions(*srcDelim, *sheet, *key, *table, *infer),
		a.tabularOptions(*dstDelim, *sheet, *key, *table, false),
	); err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s in %s\n", src, dst, time.Since(start).Round(time.Millisecond))
	return nil
}

func runAggregate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("aggregate", flag.ExitOnError)
	in := fs.String("in", "", "Input table")
	out := fs.String("out", "", "Output table")
	group := fs.String("group", "", "Comma separated group-by columns")
	column := fs.String("col", "", "Column whose unique values are joined")
	filter := fs.String("filter", "", "Optional COLUMN=VALUE row filter applied first")
	summary := fs.Bool("summary", false, "Print a per-column summary of the result")
	fs.Parse(args)

	if *in == "" || *out == "" || *group == "" || *column == "" {
		fs.Usage()
		return fmt.Errorf("aggregate needs -in, -out, -group and -col")
	}

	gw := tabular.NewGateway(a.logger)
	ds, err := gw.Read(*in, a.tabularOptions("", "", "", "", false))
	if err != nil {
		return err
	}
	ds = transform.DropHeaderRows(ds)

	if *filter != "" {
		col, value, ok := strings.Cut(*filter, "=")
		if !ok {
			return fmt.Errorf("invalid -filter %q, want COLUMN=VALUE", *filter)
		}
		if ds, err = transform.Filter(ds, col, value); err != nil {
			return err
		}
	}

	var keys []string
	for _, k := range strings.Split(*group, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	agg, err := transform.Aggregate(ds, keys, *column)
	if err != nil {
		return err
	}
	if err := gw.Write(agg, *out, a.tabularOptions("", "", "", "", false)); err != nil {
		return err
	}

	a.logger.Info("Aggregate written", logger.Fields{"path": *out, "groups": agg.Len(), "input_rows": ds.Len()})
	fmt.Printf("Wrote %d groups to %s\n", agg.Len(), *out)
	if *summary {
		return transform.WriteSummary(os.Stdout, transform.Summarize(agg))
	}
	return nil
}

func runAnalyze(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	chemicals := fs.String("chemicals", "chemical.txt", "File with one chemical per line")
	outDir := fs.String("out", "", "Output directory (default from config)")
	publish := fs.Bool("publish", false, "Upload complete.csv with the configured publisher")
	fs.Parse(args)

	terms, err := transform.ReadTermList(*chemicals)
	if err != nil {
		return err
	}
	fmt.Printf("Chemicals present for analysis: %d\n", len(terms))

	dir := *outDir
	if dir == "" {
		dir = a.cfg.Fetch.OutputDir
	}
	p := pipeline.New(a.newFetcher(dir, 0), tabular.NewGateway(a.logger), dir, a.logger)
	report, err := p.Run(ctx, terms)
	if err != nil {
		return err
	}

	fmt.Printf("Saved %s (%d rows, %d files written)\n", report.CompletePath, report.Rows, len(report.Outputs))
	if err := transform.WriteSummary(os.Stdout, report.Summary); err != nil {
		return err
	}
	if *publish {
		var runID string
		if len(report.RunIDs) > 0 {
			runID = report.RunIDs[0]
		}
		return a.publish(ctx, runID, report.CompletePath)
	}
	return nil
}
