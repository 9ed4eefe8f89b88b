package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Schedule statuses.
const (
	ScheduleActive    = "active"
	SchedulePaused    = "paused"
	ScheduleCompleted = "completed"
)

// ScheduledDirective is a directive dispatched to a fixed selection on a
// schedule.
type ScheduledDirective struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Directive  string     `json:"directive"`
	Agents     []string   `json:"agents"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const scheduleColumns = `id, name, schedule, directive, agents, status,
	next_run_at, last_run_at, last_run_id, last_status, last_error, created_at`

func scanSchedule(sc scanner) (*ScheduledDirective, error) {
	d := &ScheduledDirective{}
	var agents string
	var lastRunID, lastStatus, lastError sql.NullString
	err := sc.Scan(&d.ID, &d.Name, &d.Schedule, &d.Directive, &agents, &d.Status,
		&d.NextRunAt, &d.LastRunAt, &lastRunID, &lastStatus, &lastError, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(agents), &d.Agents); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	d.LastRunID = lastRunID.String
	d.LastStatus = lastStatus.String
	d.LastError = lastError.String
	return d, nil
}

func (s *Store) querySchedules(query string, args ...any) ([]ScheduledDirective, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledDirective
	for rows.Next() {
		d, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) SaveSchedule(d *ScheduledDirective) error {
	agents, err := json.Marshal(d.Agents)
	if err != nil {
		return fmt.Errorf("encode agents: %w", err)
	}
	if d.Status == "" {
		d.Status = ScheduleActive
	}
	_, err = s.db.Exec(`
		INSERT INTO scheduled_directives (id, name, schedule, directive, agents, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			directive = excluded.directive,
			agents = excluded.agents,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		d.ID, d.Name, d.Schedule, d.Directive, string(agents), d.Status, utc(d.NextRunAt))
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

// GetSchedule returns nil, nil when no schedule has the id.
func (s *Store) GetSchedule(id string) (*ScheduledDirective, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM scheduled_directives WHERE id = ?`, id)
	d, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return d, nil
}

func (s *Store) ListSchedules() ([]ScheduledDirective, error) {
	out, err := s.querySchedules(`SELECT ` + scheduleColumns + ` FROM scheduled_directives ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return out, nil
}

func (s *Store) GetDueSchedules(now time.Time) ([]ScheduledDirective, error) {
	out, err := s.querySchedules(`
		SELECT `+scheduleColumns+`
		FROM scheduled_directives
		WHERE status = ? AND next_run_at <= ?
		ORDER BY next_run_at`, ScheduleActive, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("get due schedules: %w", err)
	}
	return out, nil
}

// UpdateScheduleRun records the result of an execution and the next due
// time. A nil nextRunAt leaves the schedule with nothing further to run.
func (s *Store) UpdateScheduleRun(id, runID, lastStatus, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE scheduled_directives
		SET last_run_at = CURRENT_TIMESTAMP, last_run_id = ?, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, runID, lastStatus, lastError, utc(nextRunAt), id)
	if err != nil {
		return fmt.Errorf("update schedule run: %w", err)
	}
	return nil
}

func (s *Store) UpdateScheduleStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE scheduled_directives SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update schedule status: %w", err)
	}
	return nil
}

func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_directives WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// utc normalises stored due times so string comparison in sqlite orders
// them correctly.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
