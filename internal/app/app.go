// Package app assembles the ingestion pipeline from configuration. The daemon and the
// watch-folder CLI share it.
package app

import (
	"log/slog"

	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/dedupe"
	"github.com/joseph-ayodele/trade-ingest/internal/export"
	"github.com/joseph-ayodele/trade-ingest/internal/extract"
	"github.com/joseph-ayodele/trade-ingest/internal/ledger"
	"github.com/joseph-ayodele/trade-ingest/internal/llm"
	"github.com/joseph-ayodele/trade-ingest/internal/llm/openai"
	"github.com/joseph-ayodele/trade-ingest/internal/ocr"
	"github.com/joseph-ayodele/trade-ingest/internal/ocr/libtess"
	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
	"github.com/joseph-ayodele/trade-ingest/internal/quality"
	"github.com/joseph-ayodele/trade-ingest/internal/repository"
	"github.com/joseph-ayodele/trade-ingest/internal/router"
)

// App is the wired pipeline plus the pieces callers drive directly.
type App struct {
	Coordinator *pipeline.Coordinator
	Ledger      *ledger.Ledger
	Exporter    *export.Service
}

// NewRecognizer picks the OCR engine named by cfg.Engine.
func NewRecognizer(cfg common.OCRConfig, logger *slog.Logger) extract.Recognizer {
	if cfg.Engine == "libtess" {
		return libtess.New(libtess.Config{Lang: cfg.Lang, PSM: cfg.PSM}, logger)
	}
	return ocr.NewTesseract(ocr.Config{
		Tesseract:   cfg.Tesseract,
		Lang:        cfg.Lang,
		TessdataDir: cfg.TessdataDir,
		PSM:         cfg.PSM,
	}, logger)
}

// NewRouter builds the route policy with its fallback budget guard.
func NewRouter(cfg *common.Config, logger *slog.Logger) *router.Router {
	guard := router.NewBudgetGuard(cfg.Pipeline.FallbackRatePerMin, cfg.Pipeline.FallbackBurst)
	return router.New(cfg.Pipeline.TrustThreshold, guard, logger)
}

// NewFallback returns nil when no API key is configured; images routed to the fallback then
// fail individually.
func NewFallback(cfg common.LLMConfig, logger *slog.Logger) pipeline.FallbackExtractor {
	if cfg.APIKey == "" {
		logger.Warn("app.fallback.disabled", "reason", "OPENAI_API_KEY not set")
		return nil
	}
	client := openai.NewClient(openai.Config{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		Timeout:     cfg.Timeout,
	}, logger)
	return llm.NewFallback(client, float64(cfg.MinConfidence), logger)
}

// New wires every component against store. The coordinator runs batches inline until a
// dispatcher is set.
func New(cfg *common.Config, store *repository.Store, logger *slog.Logger, opts ...pipeline.Option) *App {
	trades := repository.NewTradeRepository(store, logger)
	attempts := repository.NewAttemptRepository(store, logger)
	images := repository.NewFingerprintRepository(store, logger)

	l := ledger.New(repository.NewCreditRepository(store, logger), logger,
		ledger.WithTTL(cfg.Ledger.ReservationTTL),
		ledger.WithDefaultLimit(cfg.Ledger.DefaultLimit),
	)

	deps := pipeline.Deps{
		Extractor: extract.NewExtractor(NewRecognizer(cfg.OCR, logger), cfg.OCR.Budget, logger),
		Scorer:    quality.Heuristic{},
		Router:    NewRouter(cfg, logger),
		Fallback:  NewFallback(cfg.LLM, logger),
		Resolver:  dedupe.NewResolver(images, trades, logger),
		Ledger:    l,
		Attempts:  attempts,
		Trades:    trades,
	}

	c := pipeline.New(deps, pipeline.Config{
		ImageConcurrency:  cfg.Pipeline.ImageConcurrency,
		MaxImagesPerBatch: cfg.Pipeline.MaxImagesPerBatch,
		MaxImageBytes:     cfg.Pipeline.MaxImageBytes,
		Retention:         cfg.Pipeline.BatchRetention,
	}, logger, opts...)

	return &App{
		Coordinator: c,
		Ledger:      l,
		Exporter:    export.NewService(attempts, trades, logger),
	}
}
