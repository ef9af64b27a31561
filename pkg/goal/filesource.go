package goal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// fileGoal is the on-disk representation of one goal plus its activity marker.
type fileGoal struct {
	Goal
	LastActivityAt string `json:"last_activity_at,omitempty"` // RFC 3339
}

// FileSource is a Source backed by a JSON file, intended for single-user
// deployments where goals are edited by hand or by a companion tool. The file
// is re-read on every call so edits take effect without a restart.
type FileSource struct {
	mu   sync.Mutex
	path string
}

// NewFileSource creates a goal source reading from the given JSON file. A
// missing file means no goals, not an error.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// ActiveGoals returns the goals marked active in the file.
func (f *FileSource) ActiveGoals(ctx context.Context) ([]Goal, error) {
	goals, err := f.load()
	if err != nil {
		return nil, err
	}
	var active []Goal
	for _, g := range goals {
		if g.Active {
			active = append(active, g.Goal)
		}
	}
	return active, nil
}

// HasRecentActivity reports whether the goal's activity marker is newer than
// the given time.
func (f *FileSource) HasRecentActivity(ctx context.Context, g Goal, since time.Time) (bool, error) {
	goals, err := f.load()
	if err != nil {
		return false, err
	}
	for _, fg := range goals {
		if fg.ID != g.ID || fg.LastActivityAt == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, fg.LastActivityAt)
		if err != nil {
			return false, fmt.Errorf("goal %s: invalid last_activity_at: %w", fg.ID, err)
		}
		return t.After(since), nil
	}
	return false, nil
}

// TouchActivity records activity on a goal, resetting its staleness window.
func (f *FileSource) TouchActivity(ctx context.Context, goalID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	goals, err := f.loadLocked()
	if err != nil {
		return err
	}
	found := false
	for i := range goals {
		if goals[i].ID == goalID {
			goals[i].LastActivityAt = at.UTC().Format(time.RFC3339)
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("goal not found: %s", goalID)
	}

	data, err := json.MarshalIndent(goals, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal goals: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write goals file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace goals file: %w", err)
	}
	return nil
}

func (f *FileSource) load() ([]fileGoal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

func (f *FileSource) loadLocked() ([]fileGoal, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read goals file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	var goals []fileGoal
	if err := json.Unmarshal(data, &goals); err != nil {
		return nil, fmt.Errorf("failed to parse goals file: %w", err)
	}
	return goals, nil
}
