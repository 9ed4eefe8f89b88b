package store

import (
	"encoding/json"
	"log/slog"

	"github.com/mtzanidakis/nimbus/internal/dispatch"
)

// Recorder archives runs as they finish or are superseded. It subscribes to
// the aggregator; the dispatcher itself never touches the store.
type Recorder struct {
	store *Store
}

func NewRecorder(s *Store) *Recorder {
	return &Recorder{store: s}
}

func (r *Recorder) RunStarted(dispatch.RunState)                        {}
func (r *Recorder) OutcomeRecorded(dispatch.RunState, dispatch.Outcome) {}

func (r *Recorder) RunCompleted(run dispatch.RunState) {
	r.archive(run, RunCompleted)
}

func (r *Recorder) RunSuperseded(run dispatch.RunState) {
	r.archive(run, RunSuperseded)
}

func (r *Recorder) archive(run dispatch.RunState, status string) {
	rec, err := RecordFromState(run, status)
	if err != nil {
		slog.Error("encode run for archive failed", "run", run.ID, "error", err)
		return
	}
	if err := r.store.SaveRun(rec); err != nil {
		slog.Error("archive run failed", "run", run.ID, "error", err)
		return
	}
	slog.Debug("run archived", "run", run.ID, "status", status)
}

// RecordFromState converts an aggregator snapshot into its archived form.
func RecordFromState(run dispatch.RunState, status string) (*RunRecord, error) {
	outcomes, err := json.Marshal(run.Outcomes)
	if err != nil {
		return nil, err
	}
	succeeded, failed, _ := run.Counts()
	return &RunRecord{
		ID:          run.ID,
		Epoch:       run.Epoch,
		Directive:   run.Directive,
		Source:      run.Source,
		Status:      status,
		Agents:      run.Agents,
		Outcomes:    outcomes,
		Succeeded:   succeeded,
		Failed:      failed,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}, nil
}
