// Package ocr hosts the tesseract CLI recognition engine.
package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joseph-ayodele/trade-ingest/internal/extract"
)

type Config struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Lang        string // default "eng"
	TessdataDir string
	PSM         int // 6 = uniform block of text, 11 = sparse text
	OEM         int // 1 = LSTM; leave 0 to use default
	TempDir     string
}

// Tesseract runs the tesseract CLI once per image in TSV mode and derives both the
// text and the mean word confidence from that single pass.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseract(cfg Config, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	return newTesseract(cfg, execRunner{logger: logger}, logger)
}

func newTesseract(cfg Config, r Runner, logger *slog.Logger) *Tesseract {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Tesseract{cfg: cfg, runner: r, logger: logger}
}

func (t *Tesseract) Name() string { return "tesseract-cli" }

// Recognize writes the image to a temp file and runs tesseract on it. Cancelling ctx kills tesseract.
func (t *Tesseract) Recognize(ctx context.Context, image []byte) (extract.Recognition, error) {
	start := time.Now()
	f, err := os.CreateTemp(t.cfg.TempDir, "shot-*.img")
	if err != nil {
		return extract.Recognition{}, fmt.Errorf("create temp image: %w", err)
	}
	path := f.Name()
	defer func() { _ = os.Remove(path) }()
	if _, err := f.Write(image); err != nil {
		_ = f.Close()
		return extract.Recognition{}, fmt.Errorf("write temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		return extract.Recognition{}, fmt.Errorf("close temp image: %w", err)
	}

	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, t.args(path)...)
	if err != nil {
		if ctx.Err() != nil {
			return extract.Recognition{}, ctx.Err()
		}
		return extract.Recognition{}, fmt.Errorf("tesseract TSV: %w: %s", err, truncate(string(errb), 512))
	}
	page := parseTSV(out)

	t.logger.Debug("ocr.tesseract.ok",
		"words", page.Words,
		"mean_conf", page.MeanConf,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return extract.Recognition{
		Text:       page.Text,
		Confidence: page.MeanConf / 100.0,
		Words:      page.Words,
	}, nil
}

func (t *Tesseract) args(path string) []string {
	args := []string{path, "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return append(args, "tsv")
}
