package runstate

import (
	"testing"
)

func TestBeginResetsPreviousRun(t *testing.T) {
	s := New()
	first := s.Begin()
	s.SetStatus(StatusDelegating, "fanning out")
	s.AddFilesChanged("src/app.tsx")

	second := s.Begin()
	if second == first {
		t.Error("Begin should mint a fresh run id")
	}
	snap := s.Snapshot()
	if snap.Status != StatusPlanning {
		t.Errorf("status = %q, want planning", snap.Status)
	}
	if len(snap.FilesChanged) != 0 {
		t.Errorf("filesChanged carried over: %v", snap.FilesChanged)
	}
}

func TestSetStatusIgnoresUnknown(t *testing.T) {
	s := New()
	s.Begin()
	s.SetStatus(Status("exploded"), "boom")
	if got := s.Snapshot().Status; got != StatusPlanning {
		t.Errorf("status = %q, want planning", got)
	}
}

func TestFilesChangedDeduped(t *testing.T) {
	s := New()
	s.Begin()
	s.AddFilesChanged("a.tsx", "b.tsx")
	s.AddFilesChanged("b.tsx", "c.tsx", "")
	got := s.Snapshot().FilesChanged
	want := []string{"a.tsx", "b.tsx", "c.tsx"}
	if len(got) != len(want) {
		t.Fatalf("filesChanged = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("filesChanged[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New()
	s.Begin()
	s.SetWorker(Worker{ID: "w1", Status: StatusPlanning})
	snap := s.Snapshot()
	snap.Workers["w1"] = Worker{ID: "w1", Status: StatusError}
	snap.FilesChanged = append(snap.FilesChanged, "rogue.tsx")

	fresh := s.Snapshot()
	if fresh.Workers["w1"].Status != StatusPlanning {
		t.Error("mutating a snapshot leaked into the state")
	}
	if len(fresh.FilesChanged) != 0 {
		t.Error("mutating a snapshot's files leaked into the state")
	}
}

func TestViewIsSanitized(t *testing.T) {
	s := New()
	s.Begin()
	s.SetStatus(StatusDelegating, "updating button styles")
	s.BumpTurns()
	s.BumpTurns()
	s.AddFilesChanged("src/components/SubmitButton.tsx")
	s.SetWorker(Worker{ID: "w1", Status: StatusDelegating})

	v := s.View()
	if v["status"] != "delegating" {
		t.Errorf("status = %v", v["status"])
	}
	if v["turns"] != 2 {
		t.Errorf("turns = %v", v["turns"])
	}
	if v["message"] != "updating button styles" {
		t.Errorf("message = %v", v["message"])
	}
	if _, leaked := v["workers"]; leaked {
		t.Error("view must not expose worker internals")
	}
	if _, leaked := v["runId"]; leaked {
		t.Error("view must not expose the run id")
	}
}
