package proxyd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/visualctx/vci/exporter"
	"github.com/visualctx/vci/inspect"
	"github.com/visualctx/vci/runstate"
	"github.com/visualctx/vci/sourceedit"
	"github.com/visualctx/vci/vision"
)

const hostOrigin = "http://localhost:3001"

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Write([]byte(`<html><body><h1>App</h1><script src="/assets/main.js"></script></body></html>`))
	})
	mux.HandleFunc("/assets/main.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Write([]byte("console.log('app')"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Target == "" {
		cfg.Target = newBackend(t).URL
	}
	if cfg.HostOrigin == "" {
		cfg.HostOrigin = hostOrigin
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func do(s *Server, method, path string, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestProxyInstrumentsHTML(t *testing.T) {
	s := newServer(t, Config{})
	rec := do(s, http.MethodGet, "/proxy/", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "__INSPECTOR_PARENT_ORIGIN__") {
		t.Error("bootstrap not injected")
	}
	if !strings.Contains(body, `src="/proxy/assets/main.js"`) {
		t.Errorf("asset path not rewritten:\n%s", body)
	}

	if got := rec.Header().Get("X-Frame-Options"); got != "" {
		t.Errorf("X-Frame-Options leaked: %q", got)
	}
	if got := rec.Header().Get("Content-Security-Policy"); got != "frame-ancestors 'self' "+hostOrigin {
		t.Errorf("CSP = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != hostOrigin {
		t.Errorf("ACAO = %q", got)
	}
}

func TestProxyLeavesAssetsAlone(t *testing.T) {
	s := newServer(t, Config{})
	rec := do(s, http.MethodGet, "/proxy/assets/main.js", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "console.log('app')" {
		t.Errorf("asset body modified: %q", got)
	}
}

func TestProxyRejectsTraversal(t *testing.T) {
	s := newServer(t, Config{})
	for _, path := range []string{"/proxy/../etc/passwd", "/proxy/a/%2e%2e/b"} {
		if rec := do(s, http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestProxyRefusesWebsocketUpgrade(t *testing.T) {
	s := newServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/proxy/live", nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", rec.Code)
	}
}

func TestProxyTargetDown(t *testing.T) {
	s := newServer(t, Config{Target: "http://127.0.0.1:1"})
	if rec := do(s, http.MethodGet, "/proxy/", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestForwardSkipsInstrumentation(t *testing.T) {
	s := newServer(t, Config{})
	rec := do(s, http.MethodGet, "/node_modules/app.js", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "__INSPECTOR_PARENT_ORIGIN__") {
		t.Error("forwarded asset was instrumented")
	}
}

func TestForwardBlocksReservedPrefixes(t *testing.T) {
	s := newServer(t, Config{})
	// Reserved prefixes never reach the target via the catch-all route.
	if rec := do(s, http.MethodPut, "/api", ""); rec.Code == http.StatusOK {
		t.Errorf("reserved prefix forwarded: %d", rec.Code)
	}
}

func TestInspectorTraversalBlocked(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "inspector.js"), []byte("js"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := newServer(t, Config{InspectorDir: dir})

	if rec := do(s, http.MethodGet, "/inspector/inspector.js", ""); rec.Code != http.StatusOK {
		t.Errorf("serving inspector.js: %d", rec.Code)
	}
	rec := do(s, http.MethodGet, "/inspector/%2e%2e/secret", "")
	if rec.Code != http.StatusForbidden && rec.Code != http.StatusNotFound {
		t.Errorf("traversal not blocked: %d", rec.Code)
	}
}

func TestAgentStatus(t *testing.T) {
	s := newServer(t, Config{})
	rec := do(s, http.MethodGet, "/api/agent-status", "")
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "unavailable" {
		t.Errorf("status = %v, want unavailable", got["status"])
	}

	state := runstate.New()
	state.Begin()
	state.SetStatus(runstate.StatusDelegating, "restyling")
	s = newServer(t, Config{Status: state})
	rec = do(s, http.MethodGet, "/api/agent-status", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "delegating" || got["message"] != "restyling" {
		t.Errorf("view = %v", got)
	}
}

func TestApplyEditsEndpoint(t *testing.T) {
	project := t.TempDir()
	css := ".hero {\n  color: blue;\n}\n"
	if err := os.MkdirAll(filepath.Join(project, "src"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, "src", "Hero.tsx"), []byte("<section className=\"hero\">"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, "src", "Hero.css"), []byte(css), 0o644); err != nil {
		t.Fatal(err)
	}
	engine, err := sourceedit.New(project)
	if err != nil {
		t.Fatal(err)
	}
	s := newServer(t, Config{Edits: engine})

	body := `{"edits": [{
		"selector": "section.hero",
		"sourceFile": "src/Hero.tsx",
		"sourceLine": 1,
		"changes": [
			{"property": "color", "value": "red"},
			{"property": "textContent", "value": "New headline"}
		]
	}]}`
	rec := do(s, http.MethodPost, "/api/apply-edits", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var got struct {
		Success    bool                      `json:"success"`
		Applied    []sourceedit.AppliedChange `json:"applied"`
		Failed     []sourceedit.ElementEdit  `json:"failed"`
		AIAssisted []sourceedit.ElementEdit  `json:"aiAssisted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Success || len(got.Applied) != 1 || got.Applied[0].Property != "color" {
		t.Errorf("applied = %+v", got.Applied)
	}
	if len(got.AIAssisted) != 1 || got.AIAssisted[0].Changes[0].Property != "textContent" {
		t.Errorf("aiAssisted = %+v", got.AIAssisted)
	}

	data, err := os.ReadFile(filepath.Join(project, "src", "Hero.css"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "color: red") {
		t.Errorf("edit not written:\n%s", data)
	}
}

func TestApplyEditsLimits(t *testing.T) {
	engine, err := sourceedit.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := newServer(t, Config{Edits: engine})

	edits := make([]string, maxEditsPerCall+1)
	for i := range edits {
		edits[i] = `{"selector": "#x", "changes": []}`
	}
	body := `{"edits": [` + strings.Join(edits, ",") + `]}`
	if rec := do(s, http.MethodPost, "/api/apply-edits", body); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	// Unconfigured engine degrades to 503.
	s = newServer(t, Config{})
	if rec := do(s, http.MethodPost, "/api/apply-edits", `{"edits": []}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

type stubExporter struct {
	last inspect.Payload
	err  error
}

func (e *stubExporter) Export(ctx context.Context, p inspect.Payload) (*exporter.Result, error) {
	e.last = p
	if e.err != nil {
		return nil, e.err
	}
	return &exporter.Result{Path: "/p/.vci/context.json", HistoryPath: "/p/.vci/history/x.json"}, nil
}

func TestExportContextEndpoint(t *testing.T) {
	exp := &stubExporter{}
	s := newServer(t, Config{Exporter: exp})

	body := `{"payload": {"route": "/checkout", "elements": [{"selector": "#btn", "markup": "<button></button>"}]}}`
	rec := do(s, http.MethodPost, "/api/export-context", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if exp.last.Route != "/checkout" || len(exp.last.Elements) != 1 {
		t.Errorf("payload = %+v", exp.last)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["path"] != "/p/.vci/context.json" {
		t.Errorf("path = %v", got["path"])
	}

	// No exporter configured: 503.
	s = newServer(t, Config{})
	if rec := do(s, http.MethodPost, "/api/export-context", body); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

type stubAnalyzer struct {
	dataURL string
}

func (a *stubAnalyzer) Analyze(ctx context.Context, dataURL string) (*vision.Analysis, error) {
	a.dataURL = dataURL
	return &vision.Analysis{Description: "a button mockup", ContentType: "mockup"}, nil
}

func TestAnalyzeImageEndpoint(t *testing.T) {
	an := &stubAnalyzer{}
	s := newServer(t, Config{Analyzer: an})

	rec := do(s, http.MethodPost, "/api/analyze-image",
		`{"image_data_url": "data:image/png;base64,AAAA"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if an.dataURL != "data:image/png;base64,AAAA" {
		t.Errorf("analyzer got %q", an.dataURL)
	}
	var got struct {
		Success bool            `json:"success"`
		Data    vision.Analysis `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if !got.Success || got.Data.Description != "a button mockup" {
		t.Errorf("response = %+v", got)
	}

	// Non-image data URLs are rejected before the analyzer runs.
	rec = do(s, http.MethodPost, "/api/analyze-image", `{"image_data_url": "data:text/html;base64,AAAA"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newServer(t, Config{})
	rec := do(s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["status"] != "healthy" {
		t.Errorf("health = %v", got)
	}
}
