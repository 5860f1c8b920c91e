package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
)

func send(t *testing.T, handler http.HandlerFunc) ([]byte, int, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return SendJSON(context.Background(), srv.Client(), srv.URL, map[string]string{"q": "x"}, nil, quietLogger())
}

func TestSendJSONStatusMapping(t *testing.T) {
	cases := []struct {
		code  int
		want  error
		cause constants.Cause
	}{
		{http.StatusTooManyRequests, common.ErrExtractionTimeout, constants.CauseExtractionTimeout},
		{http.StatusRequestTimeout, common.ErrExtractionTimeout, constants.CauseExtractionTimeout},
		{http.StatusBadGateway, common.ErrExtractionTimeout, constants.CauseExtractionTimeout},
		{http.StatusBadRequest, common.ErrExtractionFailed, constants.CauseExtractionFailed},
		{http.StatusUnauthorized, common.ErrExtractionFailed, constants.CauseExtractionFailed},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.code), func(t *testing.T) {
			_, code, err := send(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tc.code)
			})
			if code != tc.code {
				t.Errorf("code = %d, want %d", code, tc.code)
			}
			var se *StatusError
			if !errors.As(err, &se) || se.Code != tc.code || !strings.Contains(se.Body, "nope") {
				t.Fatalf("err = %v, want *StatusError %d", err, tc.code)
			}
			if !errors.Is(err, tc.want) || common.CauseOf(err) != tc.cause {
				t.Errorf("err = %v cause = %s, want %v / %s", err, common.CauseOf(err), tc.want, tc.cause)
			}
		})
	}
}

func TestSendJSONRefusesOversizedBody(t *testing.T) {
	raw, _, err := send(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, strings.Repeat("a", MaxResponseBytes+10))
	})
	if !errors.Is(err, common.ErrExtractionFailed) {
		t.Errorf("err = %v, want ErrExtractionFailed", err)
	}
	if raw != nil {
		t.Errorf("got %d bytes, want none", len(raw))
	}
}

func TestSendJSONReportsTruncatedBody(t *testing.T) {
	raw, _, err := send(t, func(w http.ResponseWriter, r *http.Request) {
		// promise more than is written; the server drops the connection
		w.Header().Set("Content-Length", "100")
		_, _ = io.WriteString(w, `{"choices":`)
	})
	if err == nil {
		t.Fatalf("no error for a truncated body, got %q", raw)
	}
	if raw != nil {
		t.Errorf("partial body returned: %q", raw)
	}
}

func TestSendJSONReturnsBody(t *testing.T) {
	var auth, ctype string
	raw, code, err := send(t, func(w http.ResponseWriter, r *http.Request) {
		auth, ctype = r.Header.Get("Authorization"), r.Header.Get("Content-Type")
		_, _ = io.WriteString(w, `{"ok":true}`)
	})
	if err != nil || code != http.StatusOK || string(raw) != `{"ok":true}` {
		t.Fatalf("raw = %q code = %d err = %v", raw, code, err)
	}
	if auth != "" || ctype != "application/json" {
		t.Errorf("Authorization = %q Content-Type = %q", auth, ctype)
	}
}
