/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main drives the batch evaluation pipeline end to end: prepare the
// batch input from the document catalog and allocation matrix, submit the
// job, poll it, reconcile the output, and render the recommendation report.
//
// Each stage persists its output under OUTPUT_DIR so later stages (and
// re-runs) can pick up where the last invocation stopped.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
	"github.com/sethvargo/go-envconfig"

	"chainguard.dev/matrixbatch/aggregate"
	"chainguard.dev/matrixbatch/batchclient"
	"chainguard.dev/matrixbatch/catalog"
	"chainguard.dev/matrixbatch/matrix"
	"chainguard.dev/matrixbatch/reconcile"
	"chainguard.dev/matrixbatch/report"
	"chainguard.dev/matrixbatch/request"
	"chainguard.dev/matrixbatch/retry"
)

type config struct {
	Project         string        `env:"GCP_PROJECT,required"`
	Region          string        `env:"GCP_REGION,default=us-central1"`
	Bucket          string        `env:"GCS_BUCKET,required"`
	InputPrefix     string        `env:"GCS_INPUT_PREFIX,default=batch_analysis/input"`
	OutputPrefix    string        `env:"GCS_OUTPUT_PREFIX,default=batch_analysis/output"`
	Model           string        `env:"GEMINI_MODEL,default=gemini-2.5-pro"`
	Temperature     float64       `env:"TEMPERATURE,default=0.2"`
	MaxOutputTokens int           `env:"MAX_OUTPUT_TOKENS,default=4096"`
	PollInterval    time.Duration `env:"POLL_INTERVAL,default=60s"`

	MatrixPath  string `env:"ALLOCATION_MATRIX,default=CMM_Gold_QA_Allocation_Matrix.md"`
	CatalogPath string `env:"DOCUMENT_CATALOG,default=document_catalog.json"`
	OCRDir      string `env:"OCR_DIR,default=ocr_extracted"`
	OutputDir   string `env:"OUTPUT_DIR,default=output"`
}

// Stage outputs under OutputDir.
const (
	batchInputFile  = "batch_input.jsonl"
	prepareStats    = "prepare_stats.json"
	jobMetadataFile = "job_metadata.json"
	rawOutputFile   = "batch_output_raw.jsonl"
	evaluationsFile = "paper_evaluations.json"
	processedFile   = "processed.json"
	recMatrixFile   = "recommendation_matrix.json"
	parseStatsFile  = "parse_stats.json"
	reportFile      = "recommendation_report.md"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "prepare":
		fs := flag.NewFlagSet("prepare", flag.ExitOnError)
		dryRun := fs.Bool("dry-run", false, "report stats without writing the input file")
		_ = fs.Parse(os.Args[2:])
		err = prepare(ctx, cfg, *dryRun)
	case "submit":
		fs := flag.NewFlagSet("submit", flag.ExitOnError)
		monitor := fs.Bool("monitor", false, "poll until the job completes")
		_ = fs.Parse(os.Args[2:])
		err = submit(ctx, cfg, *monitor)
	case "status":
		err = status(ctx, cfg)
	case "await":
		err = await(ctx, cfg)
	case "parse":
		fs := flag.NewFlagSet("parse", flag.ExitOnError)
		local := fs.String("local", "", "parse a previously downloaded output JSONL instead of fetching from GCS")
		_ = fs.Parse(os.Args[2:])
		err = parse(ctx, cfg, *local)
	case "report":
		err = generateReport(ctx, cfg)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		clog.FatalContextf(ctx, "%s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: matrixbatch <command>

commands:
  prepare [-dry-run]  build batch_input.jsonl from the catalog and matrix
  submit [-monitor]   upload the input and create the batch job
  status              report the submitted job's current state
  await               poll the job until it reaches a terminal state
  parse [-local f]    fetch job output and reconcile it into evaluations
  report              render the recommendation report`)
}

func loadMatrix(cfg config) (*matrix.Matrix, error) {
	f, err := os.Open(cfg.MatrixPath)
	if err != nil {
		return nil, fmt.Errorf("opening allocation matrix: %w", err)
	}
	defer f.Close()
	return matrix.Parse(f, matrix.ExpectedCells)
}

func loadCatalog(cfg config) ([]catalog.Document, error) {
	f, err := os.Open(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("opening document catalog: %w", err)
	}
	defer f.Close()
	return catalog.Load(f)
}

func newClient(ctx context.Context, cfg config) (*batchclient.Client, error) {
	return batchclient.New(ctx, batchclient.Config{
		Project:      cfg.Project,
		Region:       cfg.Region,
		Bucket:       cfg.Bucket,
		InputPrefix:  cfg.InputPrefix,
		OutputPrefix: cfg.OutputPrefix,
		Model:        cfg.Model,
		PollInterval: cfg.PollInterval,
		Retry:        retry.Default(),
	})
}

func writeJSON(cfg config, name string, v any) error {
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	return os.WriteFile(filepath.Join(cfg.OutputDir, name), append(b, '\n'), 0o644)
}

// readJSON loads a stage output; missing files leave v untouched and report
// ok=false.
func readJSON(cfg config, name string, v any) (bool, error) {
	b, err := os.ReadFile(filepath.Join(cfg.OutputDir, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decoding %s: %w", name, err)
	}
	return true, nil
}

func prepare(ctx context.Context, cfg config, dryRun bool) error {
	log := clog.FromContext(ctx)

	m, err := loadMatrix(cfg)
	if err != nil {
		return err
	}
	dist := m.Distribution()
	log.With("cells", m.Len()).
		With("commodities", len(dist.ByCommodity)).
		With("subdomains", len(dist.BySubdomain)).
		Infof("parsed allocation matrix")

	docs, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	log.With("documents", len(docs)).Infof("loaded document catalog")

	builder, err := request.NewBuilder(m,
		request.WithExcerptStore(catalog.NewExcerptStore(cfg.OCRDir)),
		request.WithTemperature(cfg.Temperature),
		request.WithMaxOutputTokens(cfg.MaxOutputTokens),
	)
	if err != nil {
		return err
	}

	reqs, stats, err := builder.BuildAll(ctx, docs)
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.OutputDir, batchInputFile)
	if !dryRun {
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := request.EncodeJSONL(f, reqs); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	input, outputCeiling := builder.EstimateTokens(reqs)
	log.With("path", path).
		With("dry_run", dryRun).
		With("requests", stats.Requests).
		With("with_abstract", stats.WithAbstract).
		With("ocr_fallback", stats.OCRFallback).
		With("limited_metadata", stats.LimitedMetadata).
		With("unroutable", stats.Unroutable).
		With("est_input_tokens", input).
		With("max_output_tokens", outputCeiling).
		Infof("prepared batch input")
	if dryRun {
		return nil
	}
	return writeJSON(cfg, prepareStats, stats)
}

func submit(ctx context.Context, cfg config, monitor bool) error {
	c, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}

	f, err := os.Open(filepath.Join(cfg.OutputDir, batchInputFile))
	if err != nil {
		return fmt.Errorf("opening batch input (run prepare first): %w", err)
	}
	defer f.Close()

	uri, err := c.Upload(ctx, batchInputFile, f)
	if err != nil {
		return err
	}

	job, err := c.Submit(ctx, uri)
	if err != nil {
		return err
	}
	if err := writeJSON(cfg, jobMetadataFile, job); err != nil {
		return err
	}

	if monitor {
		return await(ctx, cfg)
	}
	return nil
}

func loadJob(cfg config) (*batchclient.Job, error) {
	var job batchclient.Job
	ok, err := readJSON(cfg, jobMetadataFile, &job)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no %s found; run submit first", jobMetadataFile)
	}
	return &job, nil
}

func status(ctx context.Context, cfg config) error {
	c, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}
	job, err := loadJob(cfg)
	if err != nil {
		return err
	}

	state, err := c.Poll(ctx, job.Name)
	if err != nil {
		return err
	}
	clog.FromContext(ctx).With("job", job.Name).With("state", state).Infof("batch job status")

	job.State = string(state)
	return writeJSON(cfg, jobMetadataFile, job)
}

func await(ctx context.Context, cfg config) error {
	c, err := newClient(ctx, cfg)
	if err != nil {
		return err
	}
	job, err := loadJob(cfg)
	if err != nil {
		return err
	}

	state, waitErr := c.AwaitCompletion(ctx, job.Name)
	if state != "" {
		now := time.Now().UTC()
		job.State = string(state)
		job.FinalState = string(state)
		job.CompletedAt = &now
		if err := writeJSON(cfg, jobMetadataFile, job); err != nil {
			return err
		}
	}
	return waitErr
}

func parse(ctx context.Context, cfg config, local string) error {
	log := clog.FromContext(ctx)

	var responses []reconcile.RawResponse
	if local != "" {
		f, err := os.Open(local)
		if err != nil {
			return fmt.Errorf("opening local batch output: %w", err)
		}
		responses, err = batchclient.NewDecoder(cfg.Model).Decode(ctx, f)
		f.Close()
		if err != nil {
			return err
		}
	} else {
		c, err := newClient(ctx, cfg)
		if err != nil {
			return err
		}

		// Keep a raw copy for auditing salvage decisions.
		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return err
		}
		raw, err := os.Create(filepath.Join(cfg.OutputDir, rawOutputFile))
		if err != nil {
			return err
		}
		if err := c.Download(ctx, raw); err != nil {
			raw.Close()
			return err
		}
		if err := raw.Close(); err != nil {
			return err
		}

		responses, err = c.FetchResults(ctx)
		if err != nil {
			return err
		}
	}

	var evaluations []reconcile.RecordEvaluation
	prior := reconcile.Processed{}
	if _, err := readJSON(cfg, evaluationsFile, &evaluations); err != nil {
		return err
	}
	if _, err := readJSON(cfg, processedFile, &prior); err != nil {
		return err
	}

	results, stats, processed := reconcile.Run(ctx, responses, prior)
	for _, r := range results {
		if r.Evaluation != nil {
			evaluations = append(evaluations, *r.Evaluation)
		}
	}

	m, err := loadMatrix(cfg)
	if err != nil {
		return err
	}
	recs := aggregate.Build(m, evaluations)

	for name, v := range map[string]any{
		evaluationsFile: evaluations,
		processedFile:   processed,
		recMatrixFile:   recs,
		parseStatsFile:  stats,
	} {
		if err := writeJSON(cfg, name, v); err != nil {
			return err
		}
	}

	log.With("evaluations", len(evaluations)).
		With("parsed", stats.Parsed).
		With("salvaged", stats.Salvaged).
		With("dropped", stats.Dropped).
		With("skipped", stats.Skipped).
		Infof("reconciled batch output")
	return nil
}

func generateReport(ctx context.Context, cfg config) error {
	m, err := loadMatrix(cfg)
	if err != nil {
		return err
	}

	var evaluations []reconcile.RecordEvaluation
	ok, err := readJSON(cfg, evaluationsFile, &evaluations)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no %s found; run parse first", evaluationsFile)
	}

	var stats reconcile.Stats
	if _, err := readJSON(cfg, parseStatsFile, &stats); err != nil {
		return err
	}

	docs, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	titles := make(map[string]string, len(docs))
	for _, d := range docs {
		titles[string(d.OSTIID)] = d.Title
	}

	path := filepath.Join(cfg.OutputDir, reportFile)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	genErr := report.Generate(f, report.Input{
		Matrix:      m,
		Evaluations: evaluations,
		Recs:        aggregate.Build(m, evaluations),
		Stats:       stats,
		Titles:      titles,
	})
	if err := f.Close(); err != nil {
		return err
	}
	if genErr != nil {
		return genErr
	}

	clog.FromContext(ctx).With("path", path).Infof("wrote recommendation report")
	return nil
}
