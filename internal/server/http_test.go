package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
)

type httpHarness struct {
	ing     *fakeIngestion
	exp     *fakeExporter
	handler http.Handler
}

func newHTTPHarness(t *testing.T, cfg HTTPConfig) *httpHarness {
	t.Helper()
	ing := newFakeIngestion()
	exp := &fakeExporter{}
	srv := NewHTTPServer(ing, exp, NewAuthenticator(testSecret), cfg, quietLogger())
	return &httpHarness{ing: ing, exp: exp, handler: srv.Routes()}
}

func (h *httpHarness) do(t *testing.T, req *http.Request, user string) *httptest.ResponseRecorder {
	t.Helper()
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, testSecret, user, time.Hour))
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, files map[string][]byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		_, _ = fw.Write(data)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestBearerTokenRequired(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{})

	for _, tc := range []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + token(t, "other-secret", "u1", time.Hour), http.StatusUnauthorized},
		{"expired", "Bearer " + token(t, testSecret, "u1", -time.Minute), http.StatusUnauthorized},
		{"empty subject", "Bearer " + token(t, testSecret, "", time.Hour), http.StatusUnauthorized},
		{"valid", "Bearer " + token(t, testSecret, "u1", time.Hour), http.StatusOK},
	} {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := h.do(t, req, "")
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestCreditBalance(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{})
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/credits", nil), "trader-7")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got balanceView
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != (balanceView{Used: 2, Limit: 5, Available: 3}) {
		t.Errorf("balance = %+v", got)
	}
	if h.ing.userID != "trader-7" {
		t.Errorf("user = %q, want the token subject", h.ing.userID)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("response has no request id")
	}
}

func TestSubmitBatchMultipart(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{})
	body, ct := multipartBody(t,
		map[string][]byte{"a.png": []byte("png-a"), "b.png": []byte("png-b")},
		map[string]string{"force_cheap": "true"})
	req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
	req.Header.Set("Content-Type", ct)

	rec := h.do(t, req, "u1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&got)
	if got["batch_id"] != h.ing.batchID.String() {
		t.Errorf("batch_id = %q, want %s", got["batch_id"], h.ing.batchID)
	}
	if len(h.ing.uploads) != 2 || !h.ing.opts.ForceCheap || h.ing.opts.PreferFallback || h.ing.userID != "u1" {
		t.Errorf("submit got %d uploads, opts %+v, user %q", len(h.ing.uploads), h.ing.opts, h.ing.userID)
	}
	names := map[string]string{}
	for _, u := range h.ing.uploads {
		names[u.Name] = string(u.Data)
	}
	if names["a.png"] != "png-a" || names["b.png"] != "png-b" {
		t.Errorf("uploads = %v", names)
	}
}

func TestSubmitBatchRejectsOversizedBody(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{MaxImageBytes: 1024, MaxImagesPerBatch: 1})
	body, ct := multipartBody(t, map[string][]byte{"big.png": bytes.Repeat([]byte{1}, 3<<20)}, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
	req.Header.Set("Content-Type", ct)
	if rec := h.do(t, req, "u1"); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestSubmitBatchRateLimitedPerUser(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{UploadRatePerMin: 1})
	post := func(user string) int {
		body, ct := multipartBody(t, map[string][]byte{"a.png": []byte("x")}, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/batches", body)
		req.Header.Set("Content-Type", ct)
		return h.do(t, req, user).Code
	}
	if got := post("u1"); got != http.StatusAccepted {
		t.Fatalf("first upload = %d", got)
	}
	if got := post("u1"); got != http.StatusTooManyRequests {
		t.Fatalf("second upload = %d, want 429", got)
	}
	if got := post("u2"); got != http.StatusAccepted {
		t.Fatalf("other user = %d, want 202", got)
	}
}

func TestBatchStatusIsSanitized(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{})
	h.ing.status.Images = []pipeline.ImageStatus{{
		ImageID: uuid.New(),
		Name:    `<img src=x onerror=alert(1)>shot.png`,
		Status:  constants.ImageFailed,
		Error:   "<script>alert(1)</script>unreadable",
	}}
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/batches/"+h.ing.batchID.String(), nil), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "<script>") || strings.Contains(body, "onerror") {
		t.Fatalf("markup echoed: %s", body)
	}
	var st pipeline.Status
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Images[0].Error != "unreadable" || st.Images[0].Name != "shot.png" {
		t.Errorf("image = %+v", st.Images[0])
	}
	// the published snapshot is shared with other readers and stays as it was
	if h.ing.status.Images[0].Error != "<script>alert(1)</script>unreadable" {
		t.Errorf("shared snapshot modified: %+v", h.ing.status.Images[0])
	}
}

func TestErrorStatusMapping(t *testing.T) {
	for _, tc := range []struct {
		name  string
		err   error
		path  string
		want  int
		cause string
	}{
		{"bad id", nil, "/api/batches/not-a-uuid", http.StatusBadRequest, ""},
		{"unknown batch", nil, "/api/batches/" + uuid.NewString(), http.StatusNotFound, ""},
		{"wrong state", fmt.Errorf("%w: batch is CLOSED", common.ErrInvalidTransition), "", http.StatusConflict, ""},
		{"insufficient", common.ErrInsufficientCredit, "", http.StatusPaymentRequired, "INSUFFICIENT_CREDIT"},
		{"internal", errors.New("db exploded"), "", http.StatusInternalServerError, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHTTPHarness(t, HTTPConfig{})
			if tc.err != nil {
				h.ing.fail(tc.err)
			}
			path := tc.path
			if path == "" {
				path = "/api/batches/" + h.ing.batchID.String()
			}
			rec := h.do(t, httptest.NewRequest(http.MethodGet, path, nil), "u1")
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
			var body errorBody
			_ = json.NewDecoder(rec.Body).Decode(&body)
			if body.Cause != tc.cause {
				t.Errorf("cause = %q, want %q", body.Cause, tc.cause)
			}
			if strings.Contains(body.Error, "exploded") {
				t.Errorf("internal error leaked: %q", body.Error)
			}
		})
	}
}

func TestConfirmDuplicate(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{})
	cand := uuid.New()
	path := "/api/batches/" + h.ing.batchID.String() + "/confirm"

	rec := h.do(t, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"candidate_id":"`+cand.String()+`"}`)), "u1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing proceed: status = %d, want 400", rec.Code)
	}

	rec = h.do(t, httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"candidate_id":"`+cand.String()+`","proceed":false}`)), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if h.ing.candidate != cand || h.ing.proceed {
		t.Errorf("confirm got candidate %s proceed %v", h.ing.candidate, h.ing.proceed)
	}
	var st pipeline.Status
	_ = json.NewDecoder(rec.Body).Decode(&st)
	if st.State != constants.BatchClosed {
		t.Errorf("state = %s", st.State)
	}
}

func TestCancelBatch(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{})
	rec := h.do(t, httptest.NewRequest(http.MethodDelete, "/api/batches/"+h.ing.batchID.String(), nil), "u1")
	if rec.Code != http.StatusOK || !h.ing.cancelled {
		t.Fatalf("status = %d, cancelled = %v", rec.Code, h.ing.cancelled)
	}
	var st pipeline.Status
	_ = json.NewDecoder(rec.Body).Decode(&st)
	if st.Cause != constants.CauseCancelled {
		t.Errorf("cause = %q", st.Cause)
	}
}

func TestExportAttempts(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{})
	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/attempts/export?since=2024-05-01", nil), "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != xlsxContentType {
		t.Errorf("content type = %q", ct)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment;") {
		t.Errorf("disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	if want := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC); !h.exp.since.Equal(want) || h.exp.userID != "u1" {
		t.Errorf("export got user %q since %v", h.exp.userID, h.exp.since)
	}

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/attempts/export?since=May", nil), "u1")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	down := errors.New("db down")
	var healthErr error
	h := newHTTPHarness(t, HTTPConfig{})
	h.handler = NewHTTPServer(h.ing, h.exp, NewAuthenticator(testSecret), HTTPConfig{
		Health: func(ctx context.Context) error { return healthErr },
	}, quietLogger()).Routes()

	if rec := h.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil), ""); rec.Code != http.StatusOK {
		t.Fatalf("healthy: status = %d", rec.Code)
	}
	healthErr = down
	if rec := h.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil), ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy: status = %d", rec.Code)
	}
}

func TestBatchEventsStreamUntilClosed(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{})
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/batches/" + h.ing.batchID.String() + "/events"
	header := http.Header{"Authorization": {"Bearer " + token(t, testSecret, "u1", time.Hour)}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v (resp %v)", err, resp)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var st pipeline.Status
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read first: %v", err)
	}
	if st.State != constants.BatchAwaitingUserConfirmation {
		t.Fatalf("first state = %s", st.State)
	}

	h.ing.updates <- pipeline.Status{BatchID: h.ing.batchID, State: constants.BatchClosed, Outcome: constants.BatchCommitted,
		Warnings: []pipeline.Warning{}, Candidates: []pipeline.CandidateStatus{{TradeCandidate: entity.TradeCandidate{Symbol: "<b>ETHUSDT</b>"}}}}
	if err := conn.ReadJSON(&st); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if st.State != constants.BatchClosed || st.Candidates[0].Symbol != "ETHUSDT" {
		t.Fatalf("update = %s %q", st.State, st.Candidates[0].Symbol)
	}
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("after CLOSED got %v, want normal closure", err)
	}
	select {
	case <-h.ing.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription was not released")
	}
}

func TestBatchEventsUnknownBatch(t *testing.T) {
	h := newHTTPHarness(t, HTTPConfig{})
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/batches/" + uuid.NewString() + "/events?access_token=" +
		token(t, testSecret, "u1", time.Hour)
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial succeeded for an unknown batch")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("resp = %v, want 404", resp)
	}
}
