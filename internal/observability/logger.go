package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeAction    EventType = "action"
	EventTypeBlocked   EventType = "blocked"
	EventTypeRecording EventType = "recording"
	EventTypeDecision  EventType = "decision"
	EventTypeLearn     EventType = "learn"
	EventTypeReplay    EventType = "replay"
	EventTypeGoal      EventType = "goal"
	EventTypeHeartbeat EventType = "heartbeat"
	EventTypeLLM       EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Goal      string    `json:"goal,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger emits one JSON line per event. LLM events are additionally
// appended to a size-capped JSONL file.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout)
}

// NewLoggerTo returns a Logger writing events to w.
func NewLoggerTo(w io.Writer) *Logger {
	return &Logger{
		out:        w,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    10 * 1024 * 1024, // 10MB
	}
}

// SetLLMLogPath moves the LLM JSONL file. An empty path turns it off.
func (l *Logger) SetLLMLogPath(path string) {
	l.mu.Lock()
	l.llmLogPath = path
	l.mu.Unlock()
}

// Discard returns a Logger that drops every event.
func Discard() *Logger {
	return NewLoggerTo(io.Discard)
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf(`{"error": %q}`, "failed to marshal event: "+err.Error()))
	}

	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()

	if evt.Type == EventTypeLLM {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.llmLogPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	info, err := os.Stat(l.llmLogPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotateLogs()
	}

	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

// rotateLogs keeps a single .old generation.
func (l *Logger) rotateLogs() {
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
}

func (l *Logger) LogAction(sessionID, actionType, tool string, success bool, elapsed time.Duration, errMsg string) {
	data := map[string]any{
		"action":      actionType + "." + tool,
		"success":     success,
		"duration_ms": elapsed.Milliseconds(),
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	l.Log(Event{Type: EventTypeAction, SessionID: sessionID, Data: data})
}

func (l *Logger) LogBlocked(actionType, tool, reason string) {
	l.Log(Event{
		Type: EventTypeBlocked,
		Data: map[string]string{
			"action": actionType + "." + tool,
			"reason": reason,
		},
	})
}

func (l *Logger) LogRecording(sessionID, state string, actions int) {
	l.Log(Event{
		Type:      EventTypeRecording,
		SessionID: sessionID,
		Data: map[string]any{
			"state":   state,
			"actions": actions,
		},
	})
}

func (l *Logger) LogDecision(goal, strategy string, confidence float64, primary, fallback int) {
	l.Log(Event{
		Type: EventTypeDecision,
		Goal: goal,
		Data: map[string]any{
			"strategy":   strategy,
			"confidence": confidence,
			"actions":    primary,
			"fallbacks":  fallback,
		},
	})
}

func (l *Logger) LogLearn(goal string, success bool, stored bool) {
	l.Log(Event{
		Type: EventTypeLearn,
		Goal: goal,
		Data: map[string]bool{"success": success, "stored": stored},
	})
}

func (l *Logger) LogReplay(workflow string, step int, action string, success bool) {
	l.Log(Event{
		Type: EventTypeReplay,
		Data: map[string]any{
			"workflow": workflow,
			"step":     step,
			"action":   action,
			"success":  success,
		},
	})
}

func (l *Logger) LogGoal(goal string, achieved bool, iterations int) {
	l.Log(Event{
		Type: EventTypeGoal,
		Goal: goal,
		Data: map[string]any{"achieved": achieved, "iterations": iterations},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(goal string, prompt any, response string) {
	l.Log(Event{
		Type: EventTypeLLM,
		Goal: goal,
		Data: map[string]any{
			"prompt":   prompt,
			"response": response,
		},
	})
}
