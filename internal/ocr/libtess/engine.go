// Package libtess recognizes text in-process through libtesseract (cgo).
package libtess

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/joseph-ayodele/trade-ingest/internal/extract"
)

type Config struct {
	Lang string
	PSM  int
}

// Engine creates one gosseract client per call; clients are not safe for concurrent use.
// libtesseract cannot be interrupted, so a cancelled call finishes in the background and
// its result is dropped.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Engine{cfg: cfg, logger: logger}
}

func (e *Engine) Name() string { return "libtesseract" }

func (e *Engine) Recognize(ctx context.Context, image []byte) (extract.Recognition, error) {
	if err := ctx.Err(); err != nil {
		return extract.Recognition{}, err
	}
	type result struct {
		rec extract.Recognition
		err error
	}
	done := make(chan result, 1)
	go func() {
		rec, err := e.recognize(image)
		done <- result{rec, err}
	}()
	select {
	case <-ctx.Done():
		return extract.Recognition{}, ctx.Err()
	case r := <-done:
		return r.rec, r.err
	}
}

func (e *Engine) recognize(image []byte) (extract.Recognition, error) {
	start := time.Now()
	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if err := client.SetLanguage(e.cfg.Lang); err != nil {
		return extract.Recognition{}, fmt.Errorf("set language: %w", err)
	}
	if e.cfg.PSM > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(e.cfg.PSM)); err != nil {
			return extract.Recognition{}, fmt.Errorf("set psm: %w", err)
		}
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return extract.Recognition{}, fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return extract.Recognition{}, fmt.Errorf("recognize: %w", err)
	}
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return extract.Recognition{}, fmt.Errorf("word boxes: %w", err)
	}

	var sum float64
	var n int
	for _, b := range boxes {
		if strings.TrimSpace(b.Word) == "" || b.Confidence < 0 {
			continue
		}
		sum += b.Confidence
		n++
	}
	rec := extract.Recognition{Text: text, Words: n}
	if n > 0 {
		rec.Confidence = sum / float64(n) / 100.0
	}
	e.logger.Debug("ocr.libtess.ok",
		"words", n,
		"confidence", rec.Confidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return rec, nil
}
