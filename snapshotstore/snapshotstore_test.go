package snapshotstore

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, dir
}

func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

var runIDPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}_[0-9a-f]{6}$`)

func TestInitCreatesManifest(t *testing.T) {
	s, dir := newStore(t)
	runID, err := s.Init()
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !runIDPattern.MatchString(runID) {
		t.Errorf("run id %q has unexpected shape", runID)
	}
	m, err := readManifest(filepath.Join(dir, ".vci", "snapshots", runID))
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if m.Status != StatusInProgress {
		t.Errorf("status = %q, want in_progress", m.Status)
	}
	if m.Files == nil || len(m.Files) != 0 {
		t.Errorf("files = %v, want empty list", m.Files)
	}
}

func TestCaptureAndRestore(t *testing.T) {
	s, dir := newStore(t)
	writeProjectFile(t, dir, "src/App.tsx", "original")

	runID, err := s.Init()
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.CaptureFile(runID, "src/App.tsx")
	if err != nil || !ok {
		t.Fatalf("CaptureFile = %v, %v", ok, err)
	}

	// Agent overwrites the file, run succeeds.
	writeProjectFile(t, dir, "src/App.tsx", "mutated")
	if err := s.Finalize(runID, []string{"src/App.tsx"}, "restyled the hero", StatusSuccess); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	restored := s.Restore(runID)
	if len(restored) != 1 || restored[0] != "src/App.tsx" {
		t.Fatalf("restored = %v", restored)
	}
	data, err := os.ReadFile(filepath.Join(dir, "src/App.tsx"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "original" {
		t.Errorf("restored content = %q, want original", data)
	}
}

func TestCaptureRejectsUnsafePaths(t *testing.T) {
	s, _ := newStore(t)
	runID, err := s.Init()
	if err != nil {
		t.Fatal(err)
	}
	for _, rel := range []string{"../outside.txt", "/etc/passwd", "a/../../b"} {
		if ok, err := s.CaptureFile(runID, rel); ok || err != nil {
			t.Errorf("CaptureFile(%q) = %v, %v; want skip", rel, ok, err)
		}
	}
}

func TestFinalizeNormalizesStatusAndWritesLatest(t *testing.T) {
	s, _ := newStore(t)
	runID, err := s.Init()
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Finalize(runID, nil, "exploded", "panicked"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	list := s.List()
	if len(list) != 1 {
		t.Fatalf("List = %v", list)
	}
	if list[0].Status != StatusError {
		t.Errorf("status = %q, want error", list[0].Status)
	}
	if list[0].Timestamp == "" {
		t.Error("finalize should stamp the manifest")
	}
	if got := s.Latest(); got != runID {
		t.Errorf("Latest = %q, want %q", got, runID)
	}
}

func TestListNewestFirst(t *testing.T) {
	s, _ := newStore(t)
	for range 3 {
		if _, err := s.Init(); err != nil {
			t.Fatal(err)
		}
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d manifests", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].RunID < list[i].RunID {
			t.Errorf("List not newest-first: %q before %q", list[i-1].RunID, list[i].RunID)
		}
	}
}

func TestPruneReducesOldRunsToManifest(t *testing.T) {
	s, dir := newStore(t)
	writeProjectFile(t, dir, "src/App.tsx", "v0")

	for i := 0; i < MaxFullSnapshots+2; i++ {
		id, err := s.Init()
		if err != nil {
			t.Fatal(err)
		}
		if ok, err := s.CaptureFile(id, "src/App.tsx"); err != nil || !ok {
			t.Fatalf("capture: %v %v", ok, err)
		}
		if err := s.Finalize(id, []string{"src/App.tsx"}, "step", StatusSuccess); err != nil {
			t.Fatal(err)
		}
	}

	// List is sorted newest-first; the tail past the cap must be pruned.
	list := s.List()
	if len(list) != MaxFullSnapshots+2 {
		t.Fatalf("List returned %d manifests", len(list))
	}
	for i, m := range list {
		wantPruned := i >= MaxFullSnapshots
		if gotPruned := m.Status == StatusPruned; gotPruned != wantPruned {
			t.Errorf("list[%d] status = %q", i, m.Status)
		}
	}

	prunedRun := list[len(list)-1].RunID
	if _, err := os.Stat(filepath.Join(dir, ".vci", "snapshots", prunedRun, "src", "App.tsx")); !os.IsNotExist(err) {
		t.Error("pruned run still holds captured files")
	}
	if got := s.Restore(prunedRun); got != nil {
		t.Errorf("Restore(pruned) = %v, want nil", got)
	}

	if got := s.Restore(list[0].RunID); len(got) != 1 {
		t.Errorf("Restore(newest) = %v", got)
	}
}

func TestRestoreMissingRun(t *testing.T) {
	s, _ := newStore(t)
	if got := s.Restore("2026-01-01T00-00-00_abcdef"); got != nil {
		t.Errorf("Restore(missing) = %v, want nil", got)
	}
}
