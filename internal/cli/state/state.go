// Package state persists what judgectl remembers between invocations.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// Keys accepted by Get and Set. They match the default names command fields
// refer to.
const (
	KeyUser       = "user"
	KeyProblem    = "problem"
	KeySubmission = "submission"
)

const recentLimit = 10

// State is the remembered user, problem and submission ids, plus the most
// recent submissions newest first.
type State struct {
	UserID           string   `json:"user_id,omitempty"`
	LastSubmissionID string   `json:"last_submission_id,omitempty"`
	LastProblemID    string   `json:"last_problem_id,omitempty"`
	Recent           []string `json:"recent,omitempty"`
}

func (s *State) Get(key string) string {
	switch key {
	case KeyUser:
		return s.UserID
	case KeyProblem:
		return s.LastProblemID
	case KeySubmission:
		return s.LastSubmissionID
	}
	return ""
}

// Set stores value under key and reports whether key is known.
func (s *State) Set(key, value string) bool {
	switch key {
	case KeyUser:
		s.UserID = value
	case KeyProblem:
		s.LastProblemID = value
	case KeySubmission:
		s.LastSubmissionID = value
		if value != "" {
			s.Recent = slices.DeleteFunc(s.Recent, func(id string) bool { return id == value })
			s.Recent = append([]string{value}, s.Recent...)
			if len(s.Recent) > recentLimit {
				s.Recent = s.Recent[:recentLimit]
			}
		}
	default:
		return false
	}
	return true
}

// Load reads path. A missing or empty file yields the zero State.
func Load(path string) (State, error) {
	var st State
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return st, nil
	case err != nil:
		return st, fmt.Errorf("read state %s: %w", path, err)
	case len(raw) == 0:
		return st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, fmt.Errorf("parse state %s: %w", path, err)
	}
	return st, nil
}

// Save replaces path atomically so a crash never leaves half a file.
func Save(path string, st State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}
