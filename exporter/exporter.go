// Package exporter lands session payloads on disk where a coding agent can
// pick them up: the latest payload at .vci/context.json, a timestamped copy
// under .vci/history/, and a row in an SQLite index for lookups. After a
// successful write it pokes the agent service, fire-and-forget.
package exporter

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/visualctx/vci/dbopen"
	"github.com/visualctx/vci/inspect"
	_ "modernc.org/sqlite"
)

// MaxPayloadBytes bounds a serialized payload. Larger payloads are refused
// before anything touches disk.
const MaxPayloadBytes = 5 << 20

const indexSchema = `
CREATE TABLE IF NOT EXISTS exports (
	id          TEXT PRIMARY KEY,
	route       TEXT NOT NULL,
	elements    INTEGER NOT NULL,
	path        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exports_created ON exports(created_at);
`

// Result reports where an export landed.
type Result struct {
	ID          string
	Path        string
	HistoryPath string
}

// Record is one indexed export.
type Record struct {
	ID        string
	Route     string
	Elements  int
	Path      string
	CreatedAt time.Time
}

// Exporter writes payloads into one project directory.
type Exporter struct {
	dir          string
	historyLimit int
	triggerURL   string
	db           *sql.DB
	client       *http.Client
	log          *slog.Logger
}

type Option func(*Exporter)

// WithHistoryLimit caps the number of timestamped history copies kept.
// Default: 50.
func WithHistoryLimit(n int) Option {
	return func(e *Exporter) { e.historyLimit = n }
}

// WithAgentTrigger sets the URL poked after a successful export. Empty
// disables the poke.
func WithAgentTrigger(url string) Option {
	return func(e *Exporter) { e.triggerURL = url }
}

func WithClient(c *http.Client) Option {
	return func(e *Exporter) { e.client = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) { e.log = l }
}

// New builds an exporter rooted at dir. dir must already exist: exporting
// into a mistyped project path should fail loudly, not create it.
func New(dir string, opts ...Option) (*Exporter, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("exporter: output dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("exporter: output path %s is not a directory", dir)
	}

	e := &Exporter{
		dir:          dir,
		historyLimit: 50,
		client:       &http.Client{Timeout: 2 * time.Second},
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	db, err := dbopen.Open(filepath.Join(dir, ".vci", "index.db"),
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(indexSchema),
	)
	if err != nil {
		return nil, err
	}
	e.db = db
	return e, nil
}

// Export writes the payload and indexes it. The agent poke happens after
// the write and cannot fail the export.
func (e *Exporter) Export(ctx context.Context, p inspect.Payload) (*Result, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("exporter: marshal payload: %w", err)
	}
	if len(data) > MaxPayloadBytes {
		return nil, fmt.Errorf("exporter: payload %d bytes exceeds %d", len(data), MaxPayloadBytes)
	}

	vciDir := filepath.Join(e.dir, ".vci")
	historyDir := filepath.Join(vciDir, "history")
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return nil, fmt.Errorf("exporter: mkdir: %w", err)
	}

	contextPath := filepath.Join(vciDir, "context.json")
	if err := os.WriteFile(contextPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("exporter: write context: %w", err)
	}

	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	historyPath := filepath.Join(historyDir, stamp+".json")
	if err := os.WriteFile(historyPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("exporter: write history: %w", err)
	}

	id := uuid.NewString()
	_, err = e.db.ExecContext(ctx,
		`INSERT INTO exports (id, route, elements, path, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, p.Route, len(p.Elements), contextPath, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("exporter: index insert: %w", err)
	}

	if err := e.pruneHistory(historyDir); err != nil {
		e.log.Warn("exporter: history prune failed", "error", err)
	}

	e.triggerAgent(ctx, contextPath)

	return &Result{ID: id, Path: contextPath, HistoryPath: historyPath}, nil
}

// Recent returns the newest n indexed exports.
func (e *Exporter) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT id, route, elements, path, created_at FROM exports ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("exporter: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var created string
		if err := rows.Scan(&r.ID, &r.Route, &r.Elements, &r.Path, &created); err != nil {
			return nil, fmt.Errorf("exporter: scan: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// triggerAgent pokes the agent service with the context path. Failures are
// logged and swallowed: the agent may simply not be running.
func (e *Exporter) triggerAgent(ctx context.Context, contextPath string) {
	if e.triggerURL == "" {
		return
	}
	body, _ := json.Marshal(map[string]string{"context_path": contextPath})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.triggerURL, bytes.NewReader(body))
	if err != nil {
		e.log.Warn("exporter: agent trigger request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		e.log.Warn("exporter: agent trigger failed (agent may not be running)", "error", err)
		return
	}
	resp.Body.Close()
}

// pruneHistory keeps the newest historyLimit copies.
func (e *Exporter) pruneHistory(historyDir string) error {
	entries, err := os.ReadDir(historyDir)
	if err != nil {
		return err
	}
	var names []string
	for _, ent := range entries {
		if !ent.IsDir() && strings.HasSuffix(ent.Name(), ".json") {
			names = append(names, ent.Name())
		}
	}
	if len(names) <= e.historyLimit {
		return nil
	}
	// Timestamp names sort chronologically.
	sort.Strings(names)
	for _, name := range names[:len(names)-e.historyLimit] {
		if err := os.Remove(filepath.Join(historyDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the index database.
func (e *Exporter) Close() error {
	return e.db.Close()
}
