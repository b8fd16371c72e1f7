package orchestrator

import (
	"fmt"

	"github.com/getpipe-dev/orchestrator/internal/eventlog"
)

// RunStatus is the run's state, as always defined: the result of replaying
// its events in order. Any in-memory copy (including this struct) is a
// cache of that replay, never authoritative on its own.
type RunStatus struct {
	RunID       string
	State       string // running | completed | failed | safety_limit_reached
	StartedAt   string
	CompletedAt string
	CurrentStep int
	Steps       []StepStatus
}

// StepStatus is one step's derived status within a run.
type StepStatus struct {
	Name     string
	Status   eventlog.Status
	Attempts int
	Error    string
}

// GetStatus replays runID's event log and derives its current Run state.
func GetStatus(runID string) (*RunStatus, error) {
	store, err := eventlog.Open(runID)
	if err != nil {
		return nil, err
	}
	events, err := store.Replay()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no run found for id %s", runID)
	}

	status := &RunStatus{RunID: runID, State: "running"}
	order := []string{}
	steps := map[string]*StepStatus{}

	stepAt := func(name string) *StepStatus {
		s, ok := steps[name]
		if !ok {
			s = &StepStatus{Name: name, Status: eventlog.StatusPending}
			steps[name] = s
			order = append(order, name)
		}
		return s
	}

	for _, e := range events {
		switch e.EventType {
		case eventlog.RunStarted:
			status.StartedAt = e.Timestamp
		case eventlog.StepStarted:
			s := stepAt(e.StepID)
			s.Status = eventlog.StatusRunning
			s.Attempts++
			status.CurrentStep = len(order) - 1
		case eventlog.StepCompleted:
			stepAt(e.StepID).Status = eventlog.StatusCompleted
		case eventlog.StepFailed:
			s := stepAt(e.StepID)
			s.Status = eventlog.StatusFailed
			s.Error = e.Error
		case eventlog.StepRetrying:
			stepAt(e.StepID).Status = eventlog.StatusRunning
		case eventlog.RunCompleted:
			status.State = "completed"
			status.CompletedAt = e.Timestamp
		case eventlog.RunFailed:
			status.State = "failed"
			status.CompletedAt = e.Timestamp
		case eventlog.SafetyLimitReached:
			status.State = "safety_limit_reached"
			status.CompletedAt = e.Timestamp
		}
	}

	for _, name := range order {
		status.Steps = append(status.Steps, *steps[name])
	}
	return status, nil
}

// ListRuns enumerates every run directory under the configured home.
func ListRuns() ([]string, error) {
	return eventlog.ListRuns()
}
