// Package snapshotstore keeps file-level undo snapshots for agent runs.
// Each run gets a directory under .vci/snapshots/ holding pre-edit copies
// of the files the agent touched, plus a manifest describing the run.
// Older runs are reduced to their manifest so the store stays small.
package snapshotstore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// MaxFullSnapshots is how many runs keep their captured files. Runs beyond
// it are pruned to manifest-only.
const MaxFullSnapshots = 10

const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusPruned     = "pruned"
)

// Manifest describes one snapshot run.
type Manifest struct {
	RunID          string   `json:"run_id"`
	Status         string   `json:"status"`
	Files          []string `json:"files"`
	ContextSummary string   `json:"context_summary,omitempty"`
	Timestamp      string   `json:"timestamp,omitempty"`
}

// Store manages snapshots under one project directory.
type Store struct {
	root string
}

func New(projectDir string) (*Store, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("snapshotstore: resolve root: %w", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("snapshotstore: project dir: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("snapshotstore: %s is not a directory", abs)
	}
	return &Store{root: abs}, nil
}

func (s *Store) snapshotsDir() string {
	return filepath.Join(s.root, ".vci", "snapshots")
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.snapshotsDir(), runID)
}

// safeRel reports whether rel stays inside the project root.
func (s *Store) safeRel(rel string) bool {
	if filepath.IsAbs(rel) {
		return false
	}
	r, err := filepath.Rel(s.root, filepath.Join(s.root, rel))
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

// Init creates a new snapshot run and returns its id. Run ids are a UTC
// timestamp plus a random suffix, so lexical order is chronological.
func (s *Store) Init() (string, error) {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("snapshotstore: run id: %w", err)
	}
	runID := time.Now().UTC().Format("2006-01-02T15-04-05") + "_" + hex.EncodeToString(suffix)

	dir := s.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshotstore: init: %w", err)
	}
	m := Manifest{RunID: runID, Status: StatusInProgress, Files: []string{}}
	if err := writeManifest(dir, m); err != nil {
		return "", err
	}
	return runID, nil
}

// CaptureFile copies a project file into the run directory before the
// agent overwrites it. It reports false, without error, for files that do
// not exist or paths that escape the project.
func (s *Store) CaptureFile(runID, rel string) (bool, error) {
	if !s.safeRel(rel) {
		return false, nil
	}
	src := filepath.Join(s.root, rel)
	info, err := os.Stat(src)
	if err != nil || info.IsDir() {
		return false, nil
	}

	dest := filepath.Join(s.runDir(runID), rel)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, fmt.Errorf("snapshotstore: capture %s: %w", rel, err)
	}
	if err := copyFile(src, dest); err != nil {
		return false, fmt.Errorf("snapshotstore: capture %s: %w", rel, err)
	}
	return true, nil
}

// Finalize records the run outcome, points latest.json at it, and prunes
// old runs. Unknown statuses are recorded as error.
func (s *Store) Finalize(runID string, filesChanged []string, contextSummary, status string) error {
	if status != StatusSuccess && status != StatusError {
		status = StatusError
	}

	dir := s.runDir(runID)
	m, err := readManifest(dir)
	if err != nil {
		return fmt.Errorf("snapshotstore: finalize %s: %w", runID, err)
	}
	m.Status = status
	m.Files = append([]string{}, filesChanged...)
	m.ContextSummary = contextSummary
	m.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if err := writeManifest(dir, *m); err != nil {
		return err
	}

	latest, _ := json.MarshalIndent(map[string]string{"run_id": runID}, "", "  ")
	if err := os.WriteFile(filepath.Join(s.snapshotsDir(), "latest.json"), latest, 0o644); err != nil {
		return fmt.Errorf("snapshotstore: latest.json: %w", err)
	}

	return s.prune()
}

// Latest returns the run id of the most recently finalized snapshot, or
// "" when none exists.
func (s *Store) Latest() string {
	data, err := os.ReadFile(filepath.Join(s.snapshotsDir(), "latest.json"))
	if err != nil {
		return ""
	}
	var latest struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(data, &latest); err != nil {
		return ""
	}
	return latest.RunID
}

// List returns all snapshot manifests, newest first. Unreadable manifests
// are skipped.
func (s *Store) List() []Manifest {
	entries, err := os.ReadDir(s.snapshotsDir())
	if err != nil {
		return nil
	}
	var out []Manifest
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		if m, err := readManifest(s.runDir(ent.Name())); err == nil {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID > out[j].RunID })
	return out
}

// Restore copies a run's captured files back into the project and returns
// the restored paths. A pruned or missing run restores nothing and
// returns nil.
func (s *Store) Restore(runID string) []string {
	dir := s.runDir(runID)
	m, err := readManifest(dir)
	if err != nil || m.Status == StatusPruned {
		return nil
	}

	var restored []string
	for _, rel := range m.Files {
		if !s.safeRel(rel) {
			continue
		}
		src := filepath.Join(dir, rel)
		if info, err := os.Stat(src); err != nil || info.IsDir() {
			continue
		}
		dest := filepath.Join(s.root, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			continue
		}
		if err := copyFile(src, dest); err != nil {
			continue
		}
		restored = append(restored, rel)
	}
	return restored
}

// prune reduces runs beyond MaxFullSnapshots to manifest-only.
func (s *Store) prune() error {
	entries, err := os.ReadDir(s.snapshotsDir())
	if err != nil {
		return fmt.Errorf("snapshotstore: prune: %w", err)
	}
	var runs []string
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.runDir(ent.Name()), "manifest.json")); err == nil {
			runs = append(runs, ent.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))

	for _, runID := range runs[min(len(runs), MaxFullSnapshots):] {
		dir := s.runDir(runID)
		m, err := readManifest(dir)
		if err != nil || m.Status == StatusPruned {
			continue
		}

		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || d.Name() == "manifest.json" {
				return err
			}
			return os.Remove(path)
		})
		if err != nil {
			return fmt.Errorf("snapshotstore: prune %s: %w", runID, err)
		}
		removeEmptyDirs(dir)

		m.Status = StatusPruned
		if err := writeManifest(dir, *m); err != nil {
			return err
		}
	}
	return nil
}

// removeEmptyDirs deletes now-empty subdirectories, deepest first.
func removeEmptyDirs(root string) {
	var dirs []string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		os.Remove(d)
	}
}

func readManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshotstore: manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644); err != nil {
		return fmt.Errorf("snapshotstore: manifest: %w", err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
