package parse

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
)

const futuresPanel = `BTCUSDT Perpetual Long 20x
Entry Price 42,000.50
Exit Price 43,250.00
Size 0.015 BTC
Realized PnL +18.74 USDT
ROI 44.6%
Fee 0.42
Open Time 2024-03-01 09:15:00
Close Time 2024-03-01 14:02:10`

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseSinglePanel(t *testing.T) {
	img := uuid.New()
	got := Parser{}.Parse(img, futuresPanel)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	c := got[0]
	if c.Symbol != "BTCUSDT" || c.Side != entity.SideLong {
		t.Errorf("symbol/side = %s/%s, want BTCUSDT/long", c.Symbol, c.Side)
	}
	if c.ImageID != img || c.ID == uuid.Nil {
		t.Errorf("ids not set: %+v", c)
	}
	if c.Source != constants.RouteFast {
		t.Errorf("Source = %s, want fast", c.Source)
	}
	checks := []struct {
		name string
		got  decimal.NullDecimal
		want string
	}{
		{"exit", c.ExitPrice, "43250"},
		{"size", c.PositionSize, "0.015"},
		{"pnl", c.PnL, "18.74"},
		{"roi", c.ROI, "44.6"},
		{"fees", c.Fees, "0.42"},
	}
	if !c.EntryPrice.Equal(dec("42000.5")) {
		t.Errorf("entry = %s, want 42000.5", c.EntryPrice)
	}
	for _, ck := range checks {
		if !ck.got.Valid || !ck.got.Decimal.Equal(dec(ck.want)) {
			t.Errorf("%s = %v, want %s", ck.name, ck.got, ck.want)
		}
	}
	wantOpen := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)
	wantClose := time.Date(2024, 3, 1, 14, 2, 10, 0, time.UTC)
	if c.OpenedAt == nil || !c.OpenedAt.Equal(wantOpen) {
		t.Errorf("OpenedAt = %v, want %v", c.OpenedAt, wantOpen)
	}
	if c.ClosedAt == nil || !c.ClosedAt.Equal(wantClose) {
		t.Errorf("ClosedAt = %v, want %v", c.ClosedAt, wantClose)
	}
}

func TestParseLabelledStockTrade(t *testing.T) {
	text := "Symbol: AAPL\nSide: Buy\nAvg Entry Price: 189.20\nQty: 10\nClosed PnL: (35.50)"
	got := Parser{}.Parse(uuid.New(), text)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	c := got[0]
	if c.Symbol != "AAPL" || c.Side != entity.SideLong {
		t.Errorf("symbol/side = %s/%s", c.Symbol, c.Side)
	}
	if !c.EntryPrice.Equal(dec("189.2")) {
		t.Errorf("entry = %s", c.EntryPrice)
	}
	if !c.PnL.Valid || !c.PnL.Decimal.Equal(dec("-35.5")) {
		t.Errorf("pnl = %v, want -35.5", c.PnL)
	}
	if c.ClosedAt != nil {
		t.Errorf("ClosedAt = %v, want nil (line was a PnL)", c.ClosedAt)
	}
}

func TestParseMultiplePanels(t *testing.T) {
	text := "ETHUSDT Short\nEntry 3,150.25\nExit 3,100\n\nSOLUSDT Long\nEntry 101.7\nPnL -4.2"
	got := Parser{}.Parse(uuid.New(), text)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Symbol != "ETHUSDT" || got[0].Side != entity.SideShort {
		t.Errorf("first = %s/%s", got[0].Symbol, got[0].Side)
	}
	if got[1].Symbol != "SOLUSDT" || !got[1].PnL.Decimal.Equal(dec("-4.2")) {
		t.Errorf("second = %s pnl %v", got[1].Symbol, got[1].PnL)
	}
	if n := CountRegions(text); n != 2 {
		t.Errorf("CountRegions = %d, want 2", n)
	}
}

func TestParseDropsIncomplete(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"noise":     "lorem ipsum\n@@@ ###",
		"no entry":  "BTCUSDT Long\nPnL 12",
		"no side":   "BTCUSDT\nEntry 42000",
		"no symbol": "Long\nEntry 42000",
	}
	for name, text := range cases {
		if got := (Parser{}).Parse(uuid.New(), text); len(got) != 0 {
			t.Errorf("%s: got %d candidates, want 0", name, len(got))
		}
	}
}

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"42,000.50", "42000.5", true},
		{"$1,250", "1250", true},
		{"-3.2 USDT", "-3.2", true},
		{"(35.50)", "-35.5", true},
		{"+18.74", "18.74", true},
		{"n/a", "", false},
	}
	for _, tc := range cases {
		got, ok := ParseDecimal(tc.in)
		if ok != tc.ok {
			t.Errorf("ParseDecimal(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && !got.Equal(dec(tc.want)) {
			t.Errorf("ParseDecimal(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseTime(t *testing.T) {
	want := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	for _, in := range []string{"2024-01-02 15:04:05", "2024/01/02 15:04:05", "2024-01-02T15:04:05Z", "01/02/2024 15:04:05", "2024-01-02 15:04:05 UTC"} {
		got, ok := ParseTime(in)
		if !ok || !got.Equal(want) {
			t.Errorf("ParseTime(%q) = %v, %v", in, got, ok)
		}
	}
	if _, ok := ParseTime("yesterday"); ok {
		t.Error("ParseTime(yesterday) ok = true")
	}
}
