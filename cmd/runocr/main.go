package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/internal/app"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/extract"
	"github.com/joseph-ayodele/trade-ingest/internal/fingerprint"
	"github.com/joseph-ayodele/trade-ingest/internal/parse"
	"github.com/joseph-ayodele/trade-ingest/internal/quality"
	"github.com/joseph-ayodele/trade-ingest/internal/router"
)

// report is what runocr prints for one screenshot.
type report struct {
	File           string                  `json:"file"`
	ExactHash      string                  `json:"exact_hash"`
	PerceptualHash string                  `json:"perceptual_hash"`
	Engine         string                  `json:"engine"`
	Outcome        string                  `json:"outcome"`
	ElapsedMS      int64                   `json:"elapsed_ms"`
	Confidence     float64                 `json:"confidence"`
	Quality        quality.Components      `json:"quality"`
	Score          float64                 `json:"score"`
	Decision       router.Decision         `json:"decision"`
	Regions        int                     `json:"regions"`
	Candidates     []entity.TradeCandidate `json:"candidates,omitempty"`
	RawText        string                  `json:"raw_text,omitempty"`
}

func main() {
	showText := flag.Bool("text", false, "include the recognized text in the output")
	forceCheap := flag.Bool("force-cheap", false, "apply the caller override")
	flag.Parse()

	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-text] [-force-cheap] <screenshot>")
		os.Exit(2)
	}
	path := flag.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read screenshot", "path", path, "error", err)
		os.Exit(1)
	}

	fp, err := fingerprint.New().Compute(data)
	if err != nil {
		logger.Error("fingerprint", "path", path, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	extractor := extract.NewExtractor(app.NewRecognizer(cfg.OCR, logger), cfg.OCR.Budget, logger)
	res, err := extractor.Extract(ctx, data)
	if err != nil {
		logger.Error("text extraction failed", "error", err, "outcome", res.Outcome, "elapsed_ms", res.Elapsed.Milliseconds())
		os.Exit(1)
	}

	comps := quality.Heuristic{}.Components(res.RawText, res.Confidence)
	score := quality.Combine(comps)
	regions := parse.CountRegions(res.RawText)
	decision := app.NewRouter(cfg, logger).Decide(router.Input{
		QualityScore: score,
		Override:     *forceCheap,
		BatchSize:    1,
		MultiRegion:  regions > 1,
	})

	out := report{
		File:           filepath.Base(path),
		ExactHash:      fp.ExactHex(),
		PerceptualHash: fp.PerceptualHash,
		Engine:         res.Engine,
		Outcome:        string(res.Outcome),
		ElapsedMS:      res.Elapsed.Milliseconds(),
		Confidence:     res.Confidence,
		Quality:        comps,
		Score:          score,
		Decision:       decision,
		Regions:        regions,
	}
	// parsed regardless of the route taken
	out.Candidates = parse.Parser{}.Parse(uuid.New(), res.RawText)
	if *showText {
		out.RawText = res.RawText
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Error("encode report", "error", err)
		os.Exit(1)
	}
}
