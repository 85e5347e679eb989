package observability

import (
	"sync"
	"time"
)

// Phase is the agent's position in its decision cycle.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseAnalyze Phase = "ANALYZE"
	PhaseRecall  Phase = "RECALL"
	PhaseDecide  Phase = "DECIDE"
	PhaseExecute Phase = "EXECUTE"
	PhaseLearn   Phase = "LEARN"
	PhaseReplay  Phase = "REPLAY"
)

type SystemStatus struct {
	mu            sync.RWMutex
	CurrentPhase  Phase
	ActiveGoal    string
	LastHeartbeat time.Time
}

var globalStatus = &SystemStatus{
	CurrentPhase:  PhaseIdle,
	LastHeartbeat: time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(phase Phase, goal string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentPhase = phase
	globalStatus.ActiveGoal = goal
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Phase, string, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentPhase, globalStatus.ActiveGoal, globalStatus.LastHeartbeat
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.LastHeartbeat = time.Now()
}
