package recorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadSession reads a sealed session from disk. A session that was never
// stored yields ErrSessionNotFound; one that no longer decodes yields
// ErrSessionCorrupt.
func (r *Recorder) LoadSession(id string) (*Session, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return loadFile(r.sessionPath(id))
}

func loadFile(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionCorrupt, path, err)
	}
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: %s: missing session_id", ErrSessionCorrupt, path)
	}
	if doc.Actions == nil {
		doc.Actions = []Action{}
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	return &Session{
		ID:        doc.ID,
		Name:      doc.Name,
		StartedAt: doc.StartedAt,
		EndedAt:   doc.EndedAt,
		Metadata:  doc.Metadata,
		Actions:   doc.Actions,
	}, nil
}

// ListSessions summarizes stored sessions, newest first. Files that fail to
// decode are logged and skipped.
func (r *Recorder) ListSessions() ([]Summary, error) {
	paths, err := filepath.Glob(filepath.Join(r.storageDir, "session_*.json"))
	if err != nil {
		return nil, err
	}

	var out []Summary
	for _, path := range paths {
		s, err := loadFile(path)
		if err != nil {
			log.Printf("Recorder: skipping %s: %v", path, err)
			continue
		}
		out = append(out, Summary{
			ID:              s.ID,
			Name:            s.Name,
			StartedAt:       s.StartedAt,
			DurationSeconds: s.Duration().Seconds(),
			ActionCount:     len(s.Actions),
			FilePath:        path,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// GetSessionStats aggregates a single stored session.
func (r *Recorder) GetSessionStats(id string) (*Stats, error) {
	s, err := r.LoadSession(id)
	if err != nil {
		return nil, err
	}
	return ComputeStats(s), nil
}

func ComputeStats(s *Session) *Stats {
	st := &Stats{
		SessionID:    s.ID,
		Name:         s.Name,
		TotalActions: len(s.Actions),
		ActionTypes:  map[string]int{},
		ToolsUsed:    map[string]int{},
	}
	for _, a := range s.Actions {
		st.ActionTypes[string(a.ActionType)]++
		st.ToolsUsed[a.ToolName]++
		st.TotalDurationMS += a.DurationMS
		if a.Success {
			st.SuccessCount++
		} else {
			st.ErrorCount++
		}
	}
	if n := len(s.Actions); n > 0 {
		st.AverageDurationMS = st.TotalDurationMS / float64(n)
		st.SuccessRate = float64(st.SuccessCount) / float64(n)
	}
	return st
}
