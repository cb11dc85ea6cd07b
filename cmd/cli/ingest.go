package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/dvloznov/finance-advisor/internal/app"
	"github.com/dvloznov/finance-advisor/internal/domain"
	"github.com/dvloznov/finance-advisor/internal/ingest"
	"github.com/dvloznov/finance-advisor/internal/logger"
)

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath, user := commonFlags(fs)
	path := fs.String("path", "", "PDF file or directory of PDFs")
	gcsURI := fs.String("gcs-uri", "", "gs:// URI of a statement PDF")
	timeout := fs.Duration("timeout", 30*time.Minute, "Overall time limit")
	fs.Parse(os.Args[2:])

	if (*path == "") == (*gcsURI == "") {
		fmt.Fprintln(os.Stderr, "Usage: cli ingest -user ID (-path FILE|DIR | -gcs-uri gs://bucket/object)")
		os.Exit(1)
	}

	cfg, log := load(*configPath)
	id := owner(log, *user)

	var files []string
	if *path != "" {
		var err error
		if files, err = collectPDFs(*path); err != nil {
			log.Fatal().Err(err).Msg("Failed to read input")
		}
		if len(files) == 0 {
			log.Fatal().Str("path", *path).Msg("No PDF files found")
		}
		// Every upload is buffered before the workers drain the queue.
		cfg.Ingestion.QueueSize = max(cfg.Ingestion.QueueSize, len(files))
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	if err := application.StartWorkers(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start ingestion workers")
	}

	var receipts []ingest.Receipt
	if *gcsURI != "" {
		receipt, err := application.Ingest.IngestURI(ctx, *gcsURI, id)
		if err != nil {
			log.Fatal().Err(err).Str("gcs_uri", *gcsURI).Msg("Ingestion rejected")
		}
		receipts = append(receipts, receipt)
	} else {
		bar := getProgressBar(len(files), "Queueing statements")
		for _, f := range files {
			content, err := os.ReadFile(f)
			if err == nil {
				var receipt ingest.Receipt
				receipt, err = application.Ingest.Ingest(ctx, ingest.Upload{Filename: filepath.Base(f), Content: content}, id)
				if err == nil {
					receipts = append(receipts, receipt)
				}
			}
			if err != nil {
				log.Error().Err(err).Str("file", f).Msg("Upload rejected")
			}
			_ = bar.Add(1)
		}
		_ = bar.Finish()
		fmt.Println()
	}

	spinner := getSpinner("Processing statements")
	// Stop drains buffered jobs before returning.
	if err := application.Queue.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Error waiting for ingestion jobs")
	}
	_ = spinner.Finish()
	fmt.Print("\r")

	failed := 0
	for _, r := range receipts {
		doc, err := application.Store.GetDocument(ctx, id, r.DocumentID)
		if err != nil {
			log.Error().Err(err).Str("document_id", r.DocumentID).Msg("Failed to read document status")
			failed++
			continue
		}
		switch doc.Status {
		case domain.StatusCompleted:
			color.Green("✓ %s (%s)\n", doc.Filename, doc.ID)
		default:
			failed++
			color.Red("✗ %s (%s): %s %s\n", doc.Filename, doc.ID, doc.Status, doc.Error)
		}
	}

	fmt.Printf("\n%d of %d statements ingested.\n", len(receipts)-failed, len(files)+boolToInt(*gcsURI != ""))
	if failed > 0 || len(receipts) == 0 {
		os.Exit(1)
	}
}

// collectPDFs returns path itself when it is a file, or every .pdf directly
// inside it when it is a directory, sorted by name.
func collectPDFs(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		files = append(files, filepath.Join(path, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}
