package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/policy-crawler/internal/progress"
)

// Run states reported by StatusSink.
const (
	RunStateRunning = "running"
	RunStateDone    = "done"
)

const defaultStatusHistory = 20

// SourceStatus summarizes one data source within a run.
type SourceStatus struct {
	Name       string `json:"name"`
	Pages      int    `json:"pages"`
	Records    int    `json:"records"`
	Done       bool   `json:"done"`
	StopReason string `json:"stop_reason,omitempty"`
}

// RunStatus is the externally visible snapshot of a crawl run.
type RunStatus struct {
	RunID      string         `json:"run_id"`
	State      string         `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Sources    []SourceStatus `json:"sources"`
	Found      int            `json:"records_found"`
	Merged     int            `json:"records_merged"`
	Enriched   int            `json:"records_enriched"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Errors     int            `json:"errors"`
	LastError  string         `json:"last_error,omitempty"`
	StopReason string         `json:"stop_reason,omitempty"`
}

// StatusSink keeps an in-memory snapshot of recent runs for the status API.
// Only the most recent runs are retained.
type StatusSink struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]*RunStatus
	order   []uuid.UUID
	history int
}

// NewStatusSink builds a StatusSink retaining up to history runs.
func NewStatusSink(history int) *StatusSink {
	if history <= 0 {
		history = defaultStatusHistory
	}
	return &StatusSink{runs: make(map[uuid.UUID]*RunStatus), history: history}
}

// Consume folds the batch into the run snapshots.
func (s *StatusSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		run := s.runFor(evt)
		switch evt.Stage {
		case progress.StageRunStart:
			run.StartedAt = evt.TS
		case progress.StageRecordFound:
			run.Found++
		case progress.StagePageDone:
			src := sourceFor(run, evt.Source)
			src.Pages++
			src.Records += evt.NewRecords
		case progress.StageSourceDone:
			src := sourceFor(run, evt.Source)
			src.Done = true
			src.StopReason = evt.Reason
		case progress.StageRecordEnriched:
			run.Enriched++
		case progress.StageError:
			run.Errors++
			run.LastError = evt.Note
		case progress.StageRunDone:
			finished := evt.TS
			run.State = RunStateDone
			run.FinishedAt = &finished
			run.Merged = evt.Records
			run.Completed = evt.Completed
			run.Failed = evt.Failed
			run.StopReason = evt.Reason
		}
	}
	return nil
}

func (s *StatusSink) runFor(evt progress.Event) *RunStatus {
	id := evt.RunUUID()
	if run, ok := s.runs[id]; ok {
		return run
	}
	run := &RunStatus{RunID: id.String(), State: RunStateRunning, StartedAt: evt.TS}
	s.runs[id] = run
	s.order = append(s.order, id)
	if len(s.order) > s.history {
		delete(s.runs, s.order[0])
		s.order = s.order[1:]
	}
	return run
}

func sourceFor(run *RunStatus, name string) *SourceStatus {
	for i := range run.Sources {
		if run.Sources[i].Name == name {
			return &run.Sources[i]
		}
	}
	run.Sources = append(run.Sources, SourceStatus{Name: name})
	return &run.Sources[len(run.Sources)-1]
}

// Latest returns the most recently started run.
func (s *StatusSink) Latest() (RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return RunStatus{}, false
	}
	return cloneStatus(s.runs[s.order[len(s.order)-1]]), true
}

// Get returns the snapshot for id.
func (s *StatusSink) Get(id uuid.UUID) (RunStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return RunStatus{}, false
	}
	return cloneStatus(run), true
}

// List returns retained runs, newest first.
func (s *StatusSink) List() []RunStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunStatus, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, cloneStatus(s.runs[s.order[i]]))
	}
	return out
}

func cloneStatus(run *RunStatus) RunStatus {
	out := *run
	out.Sources = append([]SourceStatus(nil), run.Sources...)
	if run.FinishedAt != nil {
		finished := *run.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *StatusSink) Close(context.Context) error {
	return nil
}
