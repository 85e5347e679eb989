package orchestrator

import "github.com/rahul/operator/internal/tools"

type ComponentStatus struct {
	Vision   bool `json:"vision"`
	Memory   bool `json:"memory"`
	Security bool `json:"security"`
	Recorder bool `json:"recorder"`
	Browser  bool `json:"browser"`
	Hands    bool `json:"hands"`
}

type RecordingStatus struct {
	IsRecording bool   `json:"is_recording"`
	SessionID   string `json:"session_id,omitempty"`
}

type Status struct {
	Components ComponentStatus `json:"components"`
	Recording  RecordingStatus `json:"recording"`
}

// Status reports which components are live. Lazily built handlers count
// only once they have been constructed.
func (o *Orchestrator) Status() Status {
	id, recording := o.activeSession()
	return Status{
		Components: ComponentStatus{
			Vision:   o.registry.Loaded(tools.ActionVision),
			Memory:   o.memory != nil || o.registry.Loaded(tools.ActionMemory),
			Security: o.validator != nil,
			Recorder: o.recorder != nil,
			Browser:  o.registry.Loaded(tools.ActionBrowser),
			Hands:    o.registry.Loaded(tools.ActionHands),
		},
		Recording: RecordingStatus{IsRecording: recording, SessionID: id},
	}
}
