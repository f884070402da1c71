package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const DefaultStatePath = "~/.threadqa/jobs-state.json"

// State tracks completed jobs so an interrupted run can resume.
type State struct {
	StartedAt time.Time               `json:"started_at"`
	LastRunAt time.Time               `json:"last_run_at"`
	Completed map[string]CompletedJob `json:"completed"`
	Errors    []string                `json:"errors"`

	path string // not serialized
}

// CompletedJob records what a finished job produced.
type CompletedJob struct {
	SubmissionID string    `json:"submission_id"`
	Pairs        int       `json:"pairs"`
	Answers      int       `json:"answers"`
	Truncated    bool      `json:"truncated"`
	Output       string    `json:"output,omitempty"`
	FinishedAt   time.Time `json:"finished_at"`
}

// LoadState loads the state file at path, or starts a new one.
func LoadState(path string) (*State, error) {
	if path == "" {
		path = DefaultStatePath
	}
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{
				StartedAt: time.Now().UTC(),
				Completed: make(map[string]CompletedJob),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if s.Completed == nil {
		s.Completed = make(map[string]CompletedJob)
	}
	s.path = p
	return &s, nil
}

// Save persists the state to disk.
func (s *State) Save() error {
	s.LastRunAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Path is where Save writes.
func (s *State) Path() string {
	return s.path
}

// IsDone returns true if the named job already completed.
func (s *State) IsDone(name string) bool {
	_, ok := s.Completed[name]
	return ok
}

// MarkDone records a job as completed.
func (s *State) MarkDone(name string, c CompletedJob) {
	if s.Completed == nil {
		s.Completed = make(map[string]CompletedJob)
	}
	s.Completed[name] = c
}

// AddError records a job failure.
func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
