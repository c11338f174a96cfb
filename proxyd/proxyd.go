// Package proxyd is the HTTP front of the inspection tool. It reverse-
// proxies the target application into an iframe-friendly origin, injects
// the in-page inspector bootstrap into HTML responses, accepts the
// agent's websocket channel, and exposes the tool's JSON API: image
// analysis, context export, agent status, direct source edits, and
// snapshot restore.
package proxyd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/visualctx/vci/exporter"
	"github.com/visualctx/vci/inspect"
	"github.com/visualctx/vci/runstate"
	"github.com/visualctx/vci/snapshotstore"
	"github.com/visualctx/vci/sourceedit"
	"github.com/visualctx/vci/vision"
)

const (
	maxImageBytes   = 10 << 20
	maxExportBytes  = 5 << 20
	maxEditsPerCall = 100
)

// Paths never forwarded to the target application.
var reservedPrefixes = map[string]bool{
	"health":    true,
	"proxy":     true,
	"inspector": true,
	"api":       true,
	"channel":   true,
}

// ImageAnalyzer analyzes an uploaded image data URL.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, dataURL string) (*vision.Analysis, error)
}

// ContextExporter lands an export payload on disk.
type ContextExporter interface {
	Export(ctx context.Context, p inspect.Payload) (*exporter.Result, error)
}

// Config wires the server's collaborators. Target is required; the rest
// degrade to 503s on the endpoints that need them.
type Config struct {
	// Target is the base URL of the proxied application.
	Target string

	// HostOrigin is the panel origin allowed to frame proxied pages and
	// open the agent channel.
	HostOrigin string

	// InspectorDir holds the static inspector scripts served under
	// /inspector/.
	InspectorDir string

	Analyzer  ImageAnalyzer
	Exporter  ContextExporter
	Edits     *sourceedit.Engine
	Snapshots *snapshotstore.Store
	Status    *runstate.State

	// OnChannel receives each accepted agent websocket transport.
	OnChannel func(inspect.Transport)

	Logger *slog.Logger
}

// Server is the proxy daemon.
type Server struct {
	target    *url.URL
	origin    string
	inspector string
	analyzer  ImageAnalyzer
	exporter  ContextExporter
	edits     *sourceedit.Engine
	snapshots *snapshotstore.Store
	status    *runstate.State
	onChannel func(inspect.Transport)
	client    *http.Client
	log       *slog.Logger
	router    chi.Router
}

func New(cfg Config) (*Server, error) {
	target, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("proxyd: target url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("proxyd: target url %q must be absolute", cfg.Target)
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		target:    target,
		origin:    cfg.HostOrigin,
		inspector: cfg.InspectorDir,
		analyzer:  cfg.Analyzer,
		exporter:  cfg.Exporter,
		edits:     cfg.Edits,
		snapshots: cfg.Snapshots,
		status:    cfg.Status,
		onChannel: cfg.OnChannel,
		client:    &http.Client{Timeout: 30 * time.Second},
		log:       log,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/channel", s.handleChannel)
	r.Get("/inspector/*", s.handleInspector)

	r.Route("/api", func(r chi.Router) {
		r.Post("/analyze-image", s.handleAnalyzeImage)
		r.Post("/export-context", s.handleExportContext)
		r.Get("/agent-status", s.handleAgentStatus)
		r.Post("/apply-edits", s.handleApplyEdits)
		r.Get("/snapshots", s.handleListSnapshots)
		r.Post("/snapshots/{runID}/restore", s.handleRestoreSnapshot)
	})

	r.HandleFunc("/proxy", s.handleProxy)
	r.HandleFunc("/proxy/*", s.handleProxy)
	r.HandleFunc("/*", s.handleForward)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"target": s.target.String(),
	})
}

// handleChannel upgrades the in-page agent's websocket. The upgrade only
// succeeds for handshakes from the host origin.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	t, err := inspect.UpgradeChannel(w, r, s.origin)
	if err != nil {
		s.log.Warn("proxyd: channel upgrade refused", "origin", r.Header.Get("Origin"), "error", err)
		return
	}
	if s.onChannel != nil {
		s.onChannel(t)
	} else {
		t.Close()
	}
}

// handleInspector serves the static inspector scripts with traversal
// protection.
func (s *Server) handleInspector(w http.ResponseWriter, r *http.Request) {
	if s.inspector == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	name := chi.URLParam(r, "*")
	path := filepath.Join(s.inspector, filepath.FromSlash(name))
	rel, err := filepath.Rel(s.inspector, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		s.log.Warn("proxyd: path traversal blocked", "path", name)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if strings.HasSuffix(path, ".css") {
		w.Header().Set("Content-Type", "text/css")
	} else {
		w.Header().Set("Content-Type", "application/javascript")
	}
	http.ServeFile(w, r, path)
}

// handleProxy forwards /proxy/* to the target and instruments HTML
// responses on the way back.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/proxy"), "/")
	s.forward(w, r, rest, true)
}

// handleForward passes through requests arriving without the /proxy
// prefix. Iframe-loaded apps request module imports with absolute paths;
// those must reach the target untouched, without HTML instrumentation.
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if first, _, _ := strings.Cut(path, "/"); reservedPrefixes[first] {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.forward(w, r, path, false)
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, path string, instrument bool) {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "websocket not supported through proxy", http.StatusUpgradeRequired)
		return
	}
	if decoded, err := url.PathUnescape(path); err != nil ||
		strings.Contains(path, "..") || strings.Contains(decoded, "..") {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	target := *s.target
	target.Path = "/" + path
	target.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.Header = r.Header.Clone()
	req.Header.Del("Origin")
	req.Header.Del("Referer")
	req.Host = target.Host

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.log.Error("proxyd: target timed out", "url", target.String())
			http.Error(w, "request timed out", http.StatusGatewayTimeout)
			return
		}
		s.log.Error("proxyd: target unreachable", "url", target.String(), "error", err)
		http.Error(w, "service temporarily unavailable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if instrument && strings.Contains(contentType, "text/html") {
		doc := RewriteAssetPaths(string(body))
		body = []byte(InjectBootstrap(doc, s.origin))
	}

	for key, values := range resp.Header {
		switch strings.ToLower(key) {
		case "content-encoding", "content-length", "transfer-encoding",
			"content-security-policy", "x-frame-options":
			continue
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.Header().Set("Access-Control-Allow-Origin", s.origin)
	w.Header().Set("Content-Security-Policy", "frame-ancestors 'self' "+s.origin)

	status := resp.StatusCode
	if status < 200 || status >= 600 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	w.Write(body)
}

type analyzeImageRequest struct {
	ImageDataURL string `json:"image_data_url"`
	Context      string `json:"context,omitempty"`
}

func (s *Server) handleAnalyzeImage(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "vision not configured")
		return
	}
	var req analyzeImageRequest
	if err := decodeJSON(w, r, maxImageBytes+1024, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.HasPrefix(req.ImageDataURL, "data:image/") {
		writeError(w, http.StatusBadRequest, "must be a valid image data URL")
		return
	}
	if len(req.ImageDataURL) > maxImageBytes {
		writeError(w, http.StatusBadRequest, "image data too large")
		return
	}

	result, err := s.analyzer.Analyze(r.Context(), req.ImageDataURL)
	if err != nil {
		s.log.Error("proxyd: vision analysis failed", "error", err)
		writeError(w, http.StatusBadGateway, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": result})
}

type exportContextRequest struct {
	Payload inspect.Payload `json:"payload"`
}

func (s *Server) handleExportContext(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export directory not configured")
		return
	}
	var req exportContextRequest
	if err := decodeJSON(w, r, maxExportBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.exporter.Export(r.Context(), req.Payload)
	if err != nil {
		s.log.Error("proxyd: export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"path":        res.Path,
		"historyPath": res.HistoryPath,
	})
}

// handleAgentStatus serves the sanitized run view. An absent run state
// reads as unavailable, same as a dead agent.
func (s *Server) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, s.status.View())
}

type applyEditsRequest struct {
	Edits []sourceedit.ElementEdit `json:"edits"`
}

func (s *Server) handleApplyEdits(w http.ResponseWriter, r *http.Request) {
	if s.edits == nil {
		writeError(w, http.StatusServiceUnavailable, "project directory not configured")
		return
	}
	var req applyEditsRequest
	if err := decodeJSON(w, r, maxExportBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Edits) > maxEditsPerCall {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many edits (max %d)", maxEditsPerCall))
		return
	}

	res := s.edits.Apply(req.Edits)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"applied":    emptyIfNil(res.Applied),
		"failed":     emptyIfNil(res.Failed),
		"aiAssisted": emptyIfNil(res.AIAssisted),
	})
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots not configured")
		return
	}
	list := s.snapshots.List()
	if list == nil {
		list = []snapshotstore.Manifest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": list})
}

func (s *Server) handleRestoreSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshots not configured")
		return
	}
	runID := chi.URLParam(r, "runID")
	restored := s.snapshots.Restore(runID)
	if restored == nil {
		writeError(w, http.StatusNotFound, "snapshot missing or pruned")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "restored": restored})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
