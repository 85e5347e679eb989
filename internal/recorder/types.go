package recorder

import (
	"errors"
	"time"

	"github.com/rahul/operator/internal/tools"
)

var (
	ErrNotRecording    = errors.New("no active recording session")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionCorrupt  = errors.New("session file is corrupt")
)

// IsMissing reports whether err means the session cannot be used, either
// because it was never stored or because its file no longer decodes.
func IsMissing(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionCorrupt)
}

// Action is one captured tool call. It is never modified after capture.
type Action struct {
	Timestamp      time.Time        `json:"timestamp"`
	ActionType     tools.ActionType `json:"action_type"`
	ToolName       string           `json:"tool_name"`
	Parameters     tools.Params     `json:"parameters"`
	Result         any              `json:"result,omitempty"`
	ScreenshotPath string           `json:"screenshot_path,omitempty"`
	DurationMS     float64          `json:"duration_ms,omitempty"`
	Success        bool             `json:"success"`
	Error          string           `json:"error,omitempty"`
}

// ID is the action identifier used in workflows, "{type}.{tool}".
func (a Action) ID() string {
	return string(a.ActionType) + "." + a.ToolName
}

// Session is a time-bounded recording. A session with a nil EndedAt is still
// being recorded.
type Session struct {
	ID        string         `json:"session_id"`
	Name      string         `json:"name"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at"`
	Metadata  map[string]any `json:"metadata"`
	Actions   []Action       `json:"actions"`
}

func (s *Session) Sealed() bool {
	return s.EndedAt != nil
}

// Duration is the recorded wall time, zero while the session is open.
func (s *Session) Duration() time.Duration {
	if s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// document is the on-disk form of a sealed session.
type document struct {
	ID              string         `json:"session_id"`
	Name            string         `json:"name"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at"`
	DurationSeconds float64        `json:"duration_seconds"`
	ActionCount     int            `json:"action_count"`
	Metadata        map[string]any `json:"metadata"`
	Actions         []Action       `json:"actions"`
}

// Summary describes a stored session without its actions.
type Summary struct {
	ID              string    `json:"session_id"`
	Name            string    `json:"name"`
	StartedAt       time.Time `json:"started_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	ActionCount     int       `json:"action_count"`
	FilePath        string    `json:"file_path"`
}

// Stats aggregates one session.
type Stats struct {
	SessionID         string         `json:"session_id"`
	Name              string         `json:"name"`
	TotalActions      int            `json:"total_actions"`
	ActionTypes       map[string]int `json:"action_types"`
	ToolsUsed         map[string]int `json:"tools_used"`
	TotalDurationMS   float64        `json:"total_duration_ms"`
	AverageDurationMS float64        `json:"average_duration_ms"`
	SuccessCount      int            `json:"success_count"`
	ErrorCount        int            `json:"error_count"`
	SuccessRate       float64        `json:"success_rate"`
}
