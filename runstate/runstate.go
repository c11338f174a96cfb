// Package runstate tracks the coding agent run triggered by an export:
// its lifecycle status, the per-worker fan-out, and the sanitized view
// served back to the browser panel.
package runstate

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle phase of an agent run.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPlanning   Status = "planning"
	StatusDelegating Status = "delegating"
	StatusReviewing  Status = "reviewing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusPlanning, StatusDelegating, StatusReviewing, StatusSuccess, StatusError:
		return true
	}
	return false
}

// Terminal reports whether the run is over.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Worker is one delegated sub-task of a run.
type Worker struct {
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Turns   int    `json:"turns"`
}

// Snapshot is an immutable copy of the run state.
type Snapshot struct {
	RunID        string            `json:"runId"`
	Status       Status            `json:"status"`
	Message      string            `json:"message,omitempty"`
	Turns        int               `json:"turns"`
	FilesChanged []string          `json:"filesChanged,omitempty"`
	Workers      map[string]Worker `json:"workers,omitempty"`
	StartedAt    time.Time         `json:"startedAt,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt,omitempty"`
}

// State is the mutable run state. Zero value is an idle state with no run.
type State struct {
	mu   sync.Mutex
	snap Snapshot
}

func New() *State {
	return &State{snap: Snapshot{Status: StatusIdle}}
}

// Begin starts a new run and returns its id. Any previous run's state is
// discarded.
func (s *State) Begin() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.snap = Snapshot{
		RunID:     uuid.NewString(),
		Status:    StatusPlanning,
		StartedAt: now,
		UpdatedAt: now,
	}
	return s.snap.RunID
}

// SetStatus records a lifecycle transition. Unknown statuses are ignored.
func (s *State) SetStatus(st Status, message string) {
	if !st.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Status = st
	s.snap.Message = message
	s.snap.UpdatedAt = time.Now().UTC()
}

// BumpTurns increments the run's turn counter.
func (s *State) BumpTurns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Turns++
	s.snap.UpdatedAt = time.Now().UTC()
}

// SetTurns records the run's turn count as reported by the agent. Counts
// lower than what is already recorded are ignored.
func (s *State) SetTurns(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= s.snap.Turns {
		return
	}
	s.snap.Turns = n
	s.snap.UpdatedAt = time.Now().UTC()
}

// AddFilesChanged merges paths into the changed-file set, deduped.
func (s *State) AddFilesChanged(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.snap.FilesChanged))
	for _, p := range s.snap.FilesChanged {
		seen[p] = true
	}
	for _, p := range paths {
		if p != "" && !seen[p] {
			seen[p] = true
			s.snap.FilesChanged = append(s.snap.FilesChanged, p)
		}
	}
	s.snap.UpdatedAt = time.Now().UTC()
}

// SetWorker records one worker's progress.
func (s *State) SetWorker(w Worker) {
	if w.ID == "" || !w.Status.Valid() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Workers == nil {
		s.snap.Workers = make(map[string]Worker)
	}
	s.snap.Workers[w.ID] = w
	s.snap.UpdatedAt = time.Now().UTC()
}

// Reset returns the state to idle with no run.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{Status: StatusIdle}
}

// Snapshot returns a deep copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.snap
	out.FilesChanged = append([]string(nil), s.snap.FilesChanged...)
	if s.snap.Workers != nil {
		out.Workers = make(map[string]Worker, len(s.snap.Workers))
		for id, w := range s.snap.Workers {
			out.Workers[id] = w
		}
	}
	return out
}

// View is the sanitized status shape exposed to the browser panel. It
// never carries run internals beyond status, message, turns, and files.
func (s *State) View() map[string]any {
	snap := s.Snapshot()
	v := map[string]any{
		"status": string(snap.Status),
		"turns":  snap.Turns,
	}
	if snap.Message != "" {
		v["message"] = snap.Message
	}
	if len(snap.FilesChanged) > 0 {
		v["filesChanged"] = snap.FilesChanged
	}
	return v
}
