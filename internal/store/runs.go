package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Run archive statuses.
const (
	RunCompleted  = "completed"
	RunSuperseded = "superseded"
)

// RunRecord is the archived form of a finished or superseded run.
type RunRecord struct {
	ID          string          `json:"id"`
	Epoch       uint64          `json:"epoch"`
	Directive   string          `json:"directive"`
	Source      string          `json:"source"`
	Status      string          `json:"status"`
	Agents      []string        `json:"agents"`
	Outcomes    json.RawMessage `json:"outcomes"`
	Succeeded   int             `json:"succeeded"`
	Failed      int             `json:"failed"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

const runColumns = `id, epoch, directive, source, status, agents, outcomes, succeeded, failed, started_at, completed_at`

func scanRun(sc scanner) (*RunRecord, error) {
	r := &RunRecord{}
	var agents, outcomes string
	err := sc.Scan(&r.ID, &r.Epoch, &r.Directive, &r.Source, &r.Status, &agents, &outcomes,
		&r.Succeeded, &r.Failed, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(agents), &r.Agents); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	r.Outcomes = json.RawMessage(outcomes)
	return r, nil
}

func (s *Store) SaveRun(r *RunRecord) error {
	agents, err := json.Marshal(r.Agents)
	if err != nil {
		return fmt.Errorf("encode agents: %w", err)
	}
	outcomes := r.Outcomes
	if len(outcomes) == 0 {
		outcomes = json.RawMessage(`{}`)
	}
	source := r.Source
	if source == "" {
		source = "web"
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			outcomes = excluded.outcomes,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			completed_at = excluded.completed_at`,
		r.ID, r.Epoch, r.Directive, source, r.Status, string(agents), string(outcomes),
		r.Succeeded, r.Failed, r.StartedAt.UTC(), utc(r.CompletedAt))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun returns nil, nil when no run has the id.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) DeleteRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	return nil
}

// PruneRuns deletes runs that started before cutoff and returns how many
// were removed.
func (s *Store) PruneRuns(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
