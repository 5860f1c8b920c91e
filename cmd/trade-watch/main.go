package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/app"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/ingest"
	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
	repo "github.com/joseph-ayodele/trade-ingest/internal/repository"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		dir          = flag.String("dir", "", "directory of screenshots (required)")
		user         = flag.String("user", "local", "user the trades belong to")
		dbPath       = flag.String("db", "trade-ingest.db", "SQLite database file")
		watch        = flag.Bool("watch", false, "keep running and ingest new screenshots as they appear")
		credits      = flag.Int("credits", 0, "set the user's credit limit before ingesting (0 leaves it unchanged)")
		keepProbable = flag.Bool("keep-probable", false, "commit trades flagged as probable duplicates instead of declining them")
		forceCheap   = flag.Bool("force-cheap", false, "never use the fallback extractor")
		out          = flag.String("out", "", "write an XLSX audit workbook here when done")
		sinceStr     = flag.String("since", "", "export only rows created on or after YYYY-MM-DD")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	var since time.Time
	if *sinceStr != "" {
		parsed, err := time.Parse("2006-01-02", *sinceStr)
		if err != nil {
			printError("Error: invalid --since date format, use YYYY-MM-DD: %v\n", err)
			os.Exit(1)
		}
		since = parsed
	}

	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := repo.OpenSQLite(ctx, *dbPath, logger)
	if err != nil {
		logger.Error("failed to open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer store.Close(logger)
	if err := repo.Migrate(store, logger); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// no dispatcher: each batch runs to completion inside Submit
	a := app.New(cfg, store, logger)
	if *credits > 0 {
		bal, err := a.Ledger.Grant(ctx, *user, *credits)
		if err != nil {
			logger.Error("failed to set credit limit", "user_id", *user, "error", err)
			os.Exit(1)
		}
		logger.Info("credit limit set", "user_id", *user, "limit", bal.Limit, "used", bal.Used)
	}

	ingestor := ingest.NewFSIngestor(a.Coordinator, *user, logger,
		ingest.WithMaxPerBatch(cfg.Pipeline.MaxImagesPerBatch),
		ingest.WithMaxBytes(int64(cfg.Pipeline.MaxImageBytes)),
		ingest.WithOptions(pipeline.Options{ForceCheap: *forceCheap}),
	)

	if *watch {
		err := ingestor.Watch(ctx, ingest.WatchConfig{
			Roots:       []string{*dir},
			InitialScan: true,
			SkipHidden:  true,
			Debounce:    500 * time.Millisecond,
		}, 2*time.Second)
		if err != nil && ctx.Err() == nil {
			logger.Error("watch failed", "error", err)
			os.Exit(1)
		}
		return
	}

	results, stats, err := ingestor.IngestDirectory(ctx, *dir, true)
	if err != nil {
		logger.Error("failed to ingest directory", "error", err)
		os.Exit(1)
	}

	summary := map[constants.BatchState]int{}
	for _, id := range ingest.BatchIDs(results) {
		st, err := settle(ctx, a.Coordinator, *user, id, *keepProbable)
		if err != nil {
			logger.Error("failed to settle batch", "batch_id", id, "error", err)
			continue
		}
		summary[st.Outcome]++
		fmt.Printf("%s  %-9s  %d candidate(s)  %s\n", id, st.Outcome, len(st.Candidates), st.Cause)
	}

	if *out != "" {
		if err := writeExport(ctx, a, *user, since, *out); err != nil {
			logger.Error("failed to export", "error", err)
			os.Exit(1)
		}
	}

	bal, err := a.Coordinator.GetCreditBalance(ctx, *user)
	if err != nil {
		logger.Error("failed to read credit balance", "error", err)
	}

	fmt.Printf("Ingestion complete!\n")
	fmt.Printf("- Files matched: %d (skipped %d, failed %d)\n", stats.Matched, stats.Skipped, stats.Failed)
	fmt.Printf("- Batches committed: %d, rejected: %d\n", summary[constants.BatchCommitted], summary[constants.BatchRejected])
	fmt.Printf("- Credits used: %d of %d\n", bal.Used, bal.Limit)
	if *out != "" {
		fmt.Printf("- Output: %s\n", *out)
	}
}

// settle answers every open duplicate warning on a batch so it reaches an outcome.
func settle(ctx context.Context, c *pipeline.Coordinator, userID string, id uuid.UUID, proceed bool) (pipeline.Status, error) {
	st, err := c.GetBatchStatus(ctx, userID, id)
	if err != nil {
		return st, err
	}
	for _, w := range st.Warnings {
		if st.State != constants.BatchAwaitingUserConfirmation {
			break
		}
		if w.Decision != "" {
			continue
		}
		if st, err = c.ConfirmDuplicate(ctx, userID, id, w.CandidateID, proceed); err != nil {
			return st, err
		}
	}
	return st, nil
}

func writeExport(ctx context.Context, a *app.App, userID string, since time.Time, path string) error {
	data, err := a.Exporter.ExportXLSX(ctx, userID, since)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}
