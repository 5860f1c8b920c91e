package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/trade-ingest/internal/repository"
)

const (
	attemptsSheet = "Attempts"
	tradesSheet   = "Trades"

	rawTextCell = 500
)

// Service produces XLSX audit workbooks from the attempt and trade history.
type Service struct {
	attempts repository.AttemptRepository
	trades   repository.TradeRepository
	logger   *slog.Logger
}

func NewService(attempts repository.AttemptRepository, trades repository.TradeRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{attempts: attempts, trades: trades, logger: logger}
}

// ExportXLSX returns a workbook with one sheet of extraction attempts and one of committed
// trades for the user, both limited to rows created at or after since (zero means all).
func (s *Service) ExportXLSX(ctx context.Context, userID string, since time.Time) ([]byte, error) {
	start := time.Now()

	attempts, err := s.attempts.ListByUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	trades, err := s.trades.ListByUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", attemptsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(tradesSheet); err != nil {
		return nil, err
	}

	w := sheetWriter{f: f, sheet: attemptsSheet}
	w.header("Created At", "Batch", "Image", "Route", "Override", "Override Reason",
		"Recognizer Confidence", "Quality Score", "Elapsed (ms)", "Outcome", "Error", "Raw Text")
	for i, a := range attempts {
		w.row(i+2,
			a.CreatedAt.UTC().Format(time.RFC3339),
			a.BatchID.String(),
			a.ImageID.String(),
			string(a.Route),
			a.OverrideApplied,
			a.OverrideReason,
			a.RecognizerConfidence,
			a.QualityScore,
			a.ElapsedMs,
			string(a.Outcome),
			a.Error,
			truncate(a.RawText, rawTextCell),
		)
	}
	_ = f.SetColWidth(attemptsSheet, "A", "A", 22)
	_ = f.SetColWidth(attemptsSheet, "B", "C", 38)
	_ = f.SetColWidth(attemptsSheet, "F", "F", 28)
	_ = f.SetColWidth(attemptsSheet, "K", "L", 60)

	w = sheetWriter{f: f, sheet: tradesSheet}
	w.header("Created At", "Batch", "Symbol", "Side", "Entry", "Exit", "Size", "Opened", "Closed",
		"PnL", "ROI", "Fees", "Source", "Needs Review", "Confirmed Duplicate", "Fingerprint")
	for i, t := range trades {
		w.row(i+2,
			t.CreatedAt.UTC().Format(time.RFC3339),
			t.BatchID.String(),
			t.Symbol,
			string(t.Side),
			t.EntryPrice.String(),
			nullString(t.ExitPrice),
			nullString(t.PositionSize),
			timeString(t.OpenedAt),
			timeString(t.ClosedAt),
			nullString(t.PnL),
			nullString(t.ROI),
			nullString(t.Fees),
			string(t.Source),
			t.NeedsReview,
			t.ConfirmedDuplicate,
			t.TradeFingerprint,
		)
	}
	_ = f.SetColWidth(tradesSheet, "A", "A", 22)
	_ = f.SetColWidth(tradesSheet, "B", "B", 38)
	_ = f.SetColWidth(tradesSheet, "H", "I", 22)
	_ = f.SetColWidth(tradesSheet, "P", "P", 66)

	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", userID,
		"attempts", len(attempts),
		"trades", len(trades),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

type sheetWriter struct {
	f     *excelize.File
	sheet string
}

func (w sheetWriter) header(names ...string) {
	w.row(1, toAny(names)...)
	if style, err := w.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		end, _ := excelize.CoordinatesToCellName(len(names), 1)
		_ = w.f.SetCellStyle(w.sheet, "A1", end, style)
	}
}

func (w sheetWriter) row(n int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, n)
		_ = w.f.SetCellValue(w.sheet, cell, v)
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
