package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/petal-labs/petalstat/catalog"
	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

func newTestServer(t *testing.T, cfg ServerConfig) http.Handler {
	t.Helper()
	if cfg.Engine == nil {
		cfg.Engine = newTestDispatcher(t)
	}
	cfg.Logger = quietLogger()
	return NewServer(cfg).Handler()
}

func postCall(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleCallSuccess(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})
	rec := postCall(t, handler, `{"id": "abc", "tool": "mean", "args": {"data": [1, 2, 3]}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	want := `{"id":"abc","result":{"mean":2},"presentation":{"summary":"mean is 2"}}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Fatalf("body = %s, want %s", got, want)
	}
}

func TestHandleCallGeneratesMissingID(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})
	rec := postCall(t, handler, `{"tool": "mean", "args": {"data": [1]}}`)

	resp := decodeResponse(t, rec.Body.Bytes())
	id, ok := resp.ID.(string)
	if !ok {
		t.Fatalf("id = %#v, want generated string", resp.ID)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("id %q is not a UUID: %v", id, err)
	}
}

func TestHandleCallStatusMapping(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})
	tests := []struct {
		name   string
		body   string
		status int
		kind   string
	}{
		{name: "unknown tool", body: `{"id": 1, "tool": "median", "args": {}}`, status: http.StatusNotFound, kind: tool.KindUnknownTool},
		{name: "invalid arguments", body: `{"id": 2, "tool": "mean", "args": {"data": "1,2"}}`, status: http.StatusUnprocessableEntity, kind: tool.KindInvalidArguments},
		{name: "malformed output", body: `{"id": 3, "tool": "broken", "args": {"data": []}}`, status: http.StatusBadGateway, kind: tool.KindMalformedOutput},
		{name: "timeout", body: `{"id": 4, "tool": "stuck", "args": {"data": []}}`, status: http.StatusGatewayTimeout, kind: tool.KindProcessTimeout},
		{name: "malformed envelope", body: `{"id": 5, "tool": `, status: http.StatusBadRequest, kind: tool.KindInvalidRequest},
		{name: "missing tool", body: `{"id": 6}`, status: http.StatusBadRequest, kind: tool.KindInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postCall(t, handler, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			resp := decodeResponse(t, rec.Body.Bytes())
			if resp.Error == nil || resp.Error.Kind != tt.kind {
				t.Fatalf("response = %s, want kind %s", rec.Body, tt.kind)
			}
		})
	}
}

func TestHandleCallMalformedEnvelopeHasNullID(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})
	rec := postCall(t, handler, `not json`)
	if !strings.HasPrefix(rec.Body.String(), `{"id":null,"error":{"kind":"INVALID_REQUEST"`) {
		t.Fatalf("body = %s, want null id INVALID_REQUEST", rec.Body)
	}
}

func TestHandleCallBadFieldEchoesID(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})
	rec := postCall(t, handler, `{"id":"req-9","tool":"mean","args":[1,2]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.HasPrefix(rec.Body.String(), `{"id":"req-9","error":{"kind":"INVALID_REQUEST"`) {
		t.Fatalf("body = %s, want id req-9 INVALID_REQUEST", rec.Body)
	}
}

func TestHandleCallBodyTooLarge(t *testing.T) {
	handler := newTestServer(t, ServerConfig{MaxBody: 64})
	body := `{"id": 1, "tool": "mean", "args": {"data": [` + strings.Repeat("1,", 100) + `1]}}`
	rec := postCall(t, handler, body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHandleCallClientDisconnectCancels(t *testing.T) {
	d := newTestDispatcher(t)
	handler := newTestServer(t, ServerConfig{Engine: d})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`{"id": 9, "tool": "slow", "args": {"data": []}}`)).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()
	waitFor(t, func() bool { return d.Stats().Executing == 1 })
	cancel()
	<-done

	if rec.Code != StatusClientClosedRequest {
		t.Fatalf("status = %d, want 499", rec.Code)
	}
	resp := decodeResponse(t, rec.Body.Bytes())
	if resp.Error == nil || resp.Error.Kind != tool.KindCancelled {
		t.Fatalf("response = %s, want CANCELLED", rec.Body)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := map[string]int{
		"":                        http.StatusOK,
		tool.KindInvalidRequest:   http.StatusBadRequest,
		tool.KindUnknownTool:      http.StatusNotFound,
		tool.KindInvalidArguments: http.StatusUnprocessableEntity,
		tool.KindCancelled:        499,
		tool.KindProcessTimeout:   http.StatusGatewayTimeout,
		tool.KindProcessFailure:   http.StatusBadGateway,
		tool.KindMalformedOutput:  http.StatusBadGateway,
		tool.KindLogicalFailure:   http.StatusBadGateway,
		tool.KindInvalidOutput:    http.StatusBadGateway,
	}
	for kind, want := range tests {
		if got := StatusForKind(kind); got != want {
			t.Fatalf("StatusForKind(%q) = %d, want %d", kind, got, want)
		}
	}
}

func TestHealthAndToolRoutes(t *testing.T) {
	handler := newTestServer(t, ServerConfig{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if health["status"] != "ok" || health["tools"] != float64(4) {
		t.Fatalf("health = %v, want ok with 4 tools", health)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools?category=descriptive", nil))
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding tool list: %v", err)
	}
	if len(list) != 1 || list[0]["name"] != "mean" {
		t.Fatalf("tools = %v, want only mean", list)
	}
	if _, ok := list[0]["output_schema"]; ok {
		t.Fatal("list view includes output_schema, want summary only")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools/mean", nil))
	var detail struct {
		Name        string `json:"name"`
		InputSchema struct {
			Type       string                    `json:"type"`
			Required   []string                  `json:"required"`
			Properties map[string]map[string]any `json:"properties"`
		} `json:"input_schema"`
		OutputSchema map[string]any `json:"output_schema"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decoding tool detail: %v", err)
	}
	if detail.InputSchema.Type != "object" || len(detail.InputSchema.Required) != 1 || detail.InputSchema.Required[0] != "data" {
		t.Fatalf("input_schema = %+v, want object requiring data", detail.InputSchema)
	}
	if detail.InputSchema.Properties["data"]["type"] != "array" || detail.OutputSchema == nil {
		t.Fatalf("detail = %s, want array data and output schema", rec.Body)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools/median", nil))
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), tool.KindUnknownTool) {
		t.Fatalf("GET /tools/median = %d %s, want 404 UNKNOWN_TOOL", rec.Code, rec.Body)
	}
}

func TestSearchRoute(t *testing.T) {
	d := newTestDispatcher(t)
	idx, err := catalog.NewIndex(d.Registry())
	if err != nil {
		t.Fatalf("NewIndex() error = %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	handler := newTestServer(t, ServerConfig{Engine: d, Index: idx})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools/search?q=arithmetic&limit=2", nil))
	var hits []catalog.Hit
	if err := json.Unmarshal(rec.Body.Bytes(), &hits); err != nil {
		t.Fatalf("decoding hits: %v (%s)", err, rec.Body)
	}
	if len(hits) == 0 || hits[0].Name != "mean" {
		t.Fatalf("hits = %+v, want mean first", hits)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools/search?q=x&limit=-1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want 400", rec.Code)
	}

	disabled := newTestServer(t, ServerConfig{Engine: d})
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools/search?q=mean", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("search without index status = %d, want 501", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	var metrics *Metrics
	d := newTestDispatcher(t, dispatch.CallObserverFunc(func(o dispatch.CallObservation) { metrics.ObserveCall(o) }))
	metrics = NewMetrics(d.Stats)
	handler := newTestServer(t, ServerConfig{Engine: d, Metrics: metrics})

	postCall(t, handler, `{"id": 1, "tool": "mean", "args": {"data": [1]}}`)
	postCall(t, handler, `{"id": 2, "tool": "who-knows", "args": {}}`)

	if got := testutil.ToFloat64(metrics.responses.WithLabelValues("mean", TransportHTTP, "OK")); got != 1 {
		t.Fatalf("mean OK responses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.responses.WithLabelValues(unknownToolLabel, TransportHTTP, tool.KindUnknownTool)); got != 1 {
		t.Fatalf("unknown tool responses = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"petalstat_calls_executing 0", "petalstat_calls_queued 0", "petalstat_call_duration_seconds_bucket"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestServer(t, ServerConfig{CORSOrigin: "https://notebook.example"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/call", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://notebook.example" {
		t.Fatalf("Allow-Origin = %q", got)
	}
}
