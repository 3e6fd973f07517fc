// Package main implements the command-line interface as specified in
// section 6 of the design specification. It wires the Object Store
// Adapter, Extraction API Client, Record Store, and Workflow
// Coordinator together, parses flags and environment, and streams the
// coordinator's progress as TSV lines when stdout is piped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/gairiksingha/intelliextract-runner/config"
	"github.com/gairiksingha/intelliextract-runner/extractionclient"
	"github.com/gairiksingha/intelliextract-runner/objectstore"
	"github.com/gairiksingha/intelliextract-runner/store"
	"github.com/gairiksingha/intelliextract-runner/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// run implements the runner command as specified in section 6.
func run() error {
	logger := newLogger()

	fs := flag.NewFlagSet("intelliextract-runner", flag.ExitOnError)

	caseID := fs.String("case", "PIPE", "Run case: PIPE|SYNC|EXTRACT|P1|P2")
	tenant := fs.String("tenant", "", "Tenant (brand) to operate on")
	purchaser := fs.String("purchaser", "", "Purchaser to operate on")
	stagingDir := fs.String("staging-dir", "", "Local staging directory")
	checkpointDir := fs.String("checkpoint-dir", "", "Directory holding the Record Store database")
	region := fs.String("region", "", "AWS region (defaults to AWS_REGION env)")
	extractionURL := fs.String("extraction-url", "", "Base URL of the Extraction API")
	concurrency := fs.Int("concurrency", 5, "Maximum concurrent extraction submissions")
	rps := fs.Float64("rps", 0, "Extraction submission rate limit, 0 disables limiting")
	downloadBudget := fs.Int64("download-budget", 0, "Maximum downloads for this run, 0 is unlimited")
	skipCompleted := fs.Bool("skip-completed", true, "Skip files already completed in a prior run")
	retryFailed := fs.Bool("retry-failed", false, "Retry files that previously failed")
	resume := fs.Bool("resume", false, "Clean up an interrupted prior run before starting")
	requestTimeout := fs.Duration("request-timeout", 30*time.Second, "Per-request extraction timeout")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	tenantPurchasers, err := config.LoadTenantPurchasersFromEnv(os.Getenv)
	if err != nil {
		return fmt.Errorf("load tenant/purchaser map: %w", err)
	}
	buckets, err := config.LoadBucketsFromFile(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("load bucket config: %w", err)
	}

	cfg := &config.Config{
		StagingDir:        *stagingDir,
		CheckpointDir:     *checkpointDir,
		S3Region:          *region,
		ExtractionBaseURL: *extractionURL,
		RequestTimeout:    *requestTimeout,
		Concurrency:       *concurrency,
		RequestsPerSecond: *rps,
		DownloadBudget:    *downloadBudget,
		UseMock:           extractionclient.UseMockFromEnv(os.Getenv),
		TenantPurchasers:  tenantPurchasers,
		Buckets:           buckets,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}
	objects := objectstore.NewS3Adapter(s3.NewFromConfig(awsCfg))

	var client extractionclient.Client
	if cfg.UseMock {
		client = extractionclient.NewMockClient(50*time.Millisecond, 0, 1)
		logger.Warn().Msg("running with the mock extraction client")
	} else {
		creds, err := extractionclient.CredentialsFromEnv()
		if err != nil {
			return fmt.Errorf("load extraction credentials: %w", err)
		}
		endpoint := strings.TrimRight(cfg.ExtractionBaseURL, "/") + "/api/v1/spreadsheet/extract/upload"
		client = extractionclient.NewHTTPClient(endpoint, creds, cfg.RequestTimeout)
	}

	st, err := store.Open(ctx, cfg.CheckpointPath())
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer st.Close()

	coord := workflow.NewCoordinator(st, objects, client, cfg.StagingDir, func(p workflow.Pair) objectstore.BucketDescriptor {
		spec := cfg.ResolveBucket(config.Pair{Tenant: p.Tenant, Purchaser: p.Purchaser})
		return objectstore.BucketDescriptor{Bucket: spec.Bucket, Prefix: spec.Prefix, Tenant: spec.Tenant, Purchaser: spec.Purchaser}
	}, nil)

	if *resume {
		if err := coord.PrepareResume(ctx); err != nil {
			return fmt.Errorf("prepare resume: %w", err)
		}
	}

	var pairs []workflow.Pair
	for _, p := range cfg.Pairs() {
		pairs = append(pairs, workflow.Pair{Tenant: p.Tenant, Purchaser: p.Purchaser})
	}

	req := workflow.Request{
		CaseID:            workflow.CaseID(*caseID),
		Pairs:             pairs,
		Tenant:            *tenant,
		Purchaser:         *purchaser,
		Concurrency:       cfg.Concurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
		SkipCompleted:     *skipCompleted,
		RetryFailed:       *retryFailed,
		DownloadBudget:    cfg.DownloadBudget,
		Resume:            *resume,
	}

	piped := !term.IsTerminal(int(os.Stdout.Fd()))

	err = coord.Execute(ctx, req, func(e workflow.Event) {
		switch e.Type {
		case workflow.EventLog:
			logger.Info().Str("runId", e.RunID).Msg(e.Message)
			if piped {
				fmt.Printf("LOG\t%s\n", e.Message)
			}
		case workflow.EventProgress:
			logger.Debug().Str("runId", e.RunID).Str("phase", e.Phase).Int("done", e.Done).Int("total", e.Total).Msg("progress")
		case workflow.EventReport:
			// CUMULATIVE_METRICS is written directly by the Extraction
			// Engine once stats are durable; here the computed Report only
			// feeds the RESUME_SKIP line.
			if piped {
				fmt.Printf("RESUME_SKIP\t%d\t%d\n", e.Report.Skipped, e.Report.TotalFiles)
			}
		case workflow.EventError:
			logger.Error().Str("runId", e.RunID).Err(e.Err).Msg("run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	logger.Info().Msg("run completed successfully")
	return nil
}
