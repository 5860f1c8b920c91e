package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/trade-ingest/internal/llm"
)

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: srv.URL, Timeout: 2 * time.Second, LenientOptional: true},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExtractTradesSendsImageAndParses(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, completion("```json\n{\"trades\":[{\"symbol\":\"BTCUSDT\",\"side\":\"sell\",\"entry_price\":\"42,000.5\",\"pnl\":\"n/a\"}],\"confidence\":0.72}\n```"))
	})

	doc, raw, err := c.ExtractTrades(context.Background(), llm.ExtractRequest{Image: []byte("\x89PNG\r\n\x1a\nxxxx"), OCRText: "BTC"})
	if err != nil {
		t.Fatalf("ExtractTrades: %v", err)
	}
	if len(doc.Trades) != 1 || doc.Trades[0].Side != "short" || doc.Trades[0].EntryPrice != "42000.5" || doc.Trades[0].PnL != "" {
		t.Errorf("doc = %+v", doc)
	}
	if doc.Confidence != 0.72 || len(raw) == 0 {
		t.Errorf("confidence = %v raw = %d bytes", doc.Confidence, len(raw))
	}

	msgs, _ := body["messages"].([]any)
	user, _ := msgs[len(msgs)-1].(map[string]any)
	parts, _ := user["content"].([]any)
	if len(parts) != 2 {
		t.Fatalf("user content parts = %d, want text + image", len(parts))
	}
	img, _ := parts[1].(map[string]any)["image_url"].(map[string]any)
	if url, _ := img["url"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("image url = %.40s", url)
	}
}

func TestExtractTradesHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})
	if _, _, err := c.ExtractTrades(context.Background(), llm.ExtractRequest{Image: []byte("x")}); err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("err = %v, want 429", err)
	}
}

func TestExtractTradesSchemaFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completion(`{"trades":[{"symbol":"BTCUSDT"}]}`))
	})
	if _, _, err := c.ExtractTrades(context.Background(), llm.ExtractRequest{Image: []byte("x")}); err == nil {
		t.Error("missing side/entry accepted")
	}
}

func TestExtractTradesRequiresImage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	if _, _, err := c.ExtractTrades(context.Background(), llm.ExtractRequest{}); err == nil {
		t.Error("empty image accepted")
	}
}
