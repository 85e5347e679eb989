package recorder

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rahul/operator/internal/observability"
	"github.com/rahul/operator/internal/tools"
)

type Config struct {
	StorageDir         string
	CaptureScreenshots bool
}

type timingKey struct {
	actionType tools.ActionType
	tool       string
}

// Recorder owns the single active session of a process and the directory
// sealed sessions are written to.
type Recorder struct {
	mu            sync.Mutex
	storageDir    string
	screenshotDir string
	screenshots   bool
	active        *Session
	lastID        string
	starts        map[timingKey]time.Time

	Events *observability.Logger
	now    func() time.Time
}

func New(cfg Config) (*Recorder, error) {
	if cfg.StorageDir == "" {
		return nil, fmt.Errorf("recorder storage directory is required")
	}
	screenshotDir := filepath.Join(cfg.StorageDir, "screenshots")
	if err := os.MkdirAll(screenshotDir, 0755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	return &Recorder{
		storageDir:    cfg.StorageDir,
		screenshotDir: screenshotDir,
		screenshots:   cfg.CaptureScreenshots,
		starts:        make(map[timingKey]time.Time),
		now:           time.Now,
	}, nil
}

func (r *Recorder) StorageDir() string { return r.storageDir }

// StartRecording opens a new session. An already active session is sealed
// and persisted first; if that fails the old session stays active and the
// error is returned.
func (r *Recorder) StartRecording(name string, metadata map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		log.Printf("Recorder: already recording %s, stopping it first", r.active.ID)
		if _, err := r.stopLocked(); err != nil {
			return "", fmt.Errorf("stop previous session: %w", err)
		}
	}

	started := r.now()
	id := r.nextID(started, name)
	if metadata == nil {
		metadata = map[string]any{}
	}
	r.active = &Session{
		ID:        id,
		Name:      name,
		StartedAt: started,
		Metadata:  metadata,
		Actions:   []Action{},
	}
	r.lastID = id
	r.starts = make(map[timingKey]time.Time)

	r.Events.LogRecording(id, "started", 0)
	return id, nil
}

// StopRecording seals and persists the active session.
func (r *Recorder) StopRecording() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Recorder) stopLocked() (string, error) {
	if r.active == nil {
		return "", ErrNotRecording
	}

	ended := r.now()
	r.active.EndedAt = &ended
	if err := r.save(r.active); err != nil {
		r.active.EndedAt = nil
		return "", err
	}

	id := r.active.ID
	r.Events.LogRecording(id, "stopped", len(r.active.Actions))
	r.active = nil
	return id, nil
}

// ActiveSession returns the id of the session being recorded.
func (r *Recorder) ActiveSession() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return "", false
	}
	return r.active.ID, true
}

// MarkActionStart notes when a call to (actionType, tool) began. The next
// CaptureAction for the same pair consumes it.
func (r *Recorder) MarkActionStart(actionType tools.ActionType, tool string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts[timingKey{actionType, tool}] = r.now()
}

// CaptureAction appends an action to the active session and returns its id,
// or "" when nothing is being recorded. Parameters and result are stored in
// their JSON form so a reloaded session compares equal to the live one.
func (r *Recorder) CaptureAction(actionType tools.ActionType, tool string, params tools.Params, result any, success bool, errMsg string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return ""
	}

	now := r.now()
	action := Action{
		Timestamp:  now,
		ActionType: actionType,
		ToolName:   tool,
		Parameters: normalizeParams(params),
		Result:     normalize(result),
		Success:    success,
		Error:      errMsg,
	}

	key := timingKey{actionType, tool}
	if started, ok := r.starts[key]; ok {
		action.DurationMS = float64(now.Sub(started).Microseconds()) / 1000
		delete(r.starts, key)
	}

	if r.screenshots && actionType.CapturesScreen() {
		action.ScreenshotPath = filepath.Join(r.screenshotDir,
			fmt.Sprintf("%s_%s_%s_%d.png", r.active.ID, actionType, tool, now.UnixMilli()))
	}

	r.active.Actions = append(r.active.Actions, action)
	return fmt.Sprintf("action_%d", len(r.active.Actions))
}

func (r *Recorder) nextID(started time.Time, name string) string {
	base := fmt.Sprintf("session_%d_%s", started.Unix(), sanitize(name))
	id := base
	for n := 2; id == r.lastID || r.exists(id); n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	return id
}

func (r *Recorder) exists(id string) bool {
	_, err := os.Stat(r.sessionPath(id))
	return err == nil
}

func (r *Recorder) sessionPath(id string) string {
	return filepath.Join(r.storageDir, id+".json")
}

func (r *Recorder) save(s *Session) error {
	doc := document{
		ID:              s.ID,
		Name:            s.Name,
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.Duration().Seconds(),
		ActionCount:     len(s.Actions),
		Metadata:        s.Metadata,
		Actions:         s.Actions,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}

	// Write then rename so a crash never leaves a half-written session.
	path := r.sessionPath(s.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	log.Printf("Recorder: saved session %s (%d actions)", s.ID, len(s.Actions))
	return nil
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':':
			return '_'
		}
		return r
	}, name)
}

func normalizeParams(p tools.Params) tools.Params {
	out := tools.Params{}
	if len(p) == 0 {
		return out
	}
	if m, ok := normalize(map[string]any(p)).(map[string]any); ok {
		return tools.Params(m)
	}
	for k, v := range p {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// normalize converts v to what encoding/json would decode it as. Values that
// cannot be encoded are kept as their printed form.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}
