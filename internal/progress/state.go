// Package progress persists how far a price update run has got so a
// restarted run can continue after the last completed symbol.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the progress of one update run.
type State struct {
	RunDate   string         `json:"run_date"`
	Completed map[string]int `json:"completed"` // symbol -> rows stored
	UpdatedAt time.Time      `json:"updated_at"`
}

// New returns an empty state for runDate.
func New(runDate string) *State {
	return &State{RunDate: runDate, Completed: make(map[string]int)}
}

// Done reports whether symbol already completed in this run.
func (s *State) Done(symbol string) bool {
	_, ok := s.Completed[symbol]
	return ok
}

// Mark records symbol as completed with rows stored.
func (s *State) Mark(symbol string, rows int) {
	if s.Completed == nil {
		s.Completed = make(map[string]int)
	}
	s.Completed[symbol] = rows
}

// Load reads the state from a JSON file. A missing file, or a file written by
// a run on another date, yields a fresh state for runDate.
func Load(filePath, runDate string) (*State, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return New(runDate), nil
		}
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filePath, err)
	}
	if state.RunDate != runDate {
		return New(runDate), nil
	}
	if state.Completed == nil {
		state.Completed = make(map[string]int)
	}
	return &state, nil
}

// Save writes the state to a JSON file, replacing it atomically.
func Save(filePath string, state *State) error {
	state.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filePath)
}
