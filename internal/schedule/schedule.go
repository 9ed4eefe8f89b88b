// Package schedule parses the schedule expressions attached to scheduled
// directives and computes when they are next due.
package schedule

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindOnce     Kind = "once"
)

// Schedule is stored as JSON. Plain cron strings are accepted on input and
// wrapped by Normalize.
type Schedule struct {
	Kind       Kind   `json:"kind"`
	CronExpr   string `json:"cron_expr,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty"`
	AtMs       int64  `json:"at_ms,omitempty"`
}

func Parse(raw string) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("parse schedule: %w", err)
	}
	return &s, nil
}

func (s *Schedule) Validate() error {
	switch s.Kind {
	case KindCron:
		if !gronx.New().IsValid(s.CronExpr) {
			return fmt.Errorf("invalid cron expression: %s", s.CronExpr)
		}
	case KindInterval:
		if s.IntervalMs < 1000 {
			return fmt.Errorf("interval_ms must be at least 1000")
		}
	case KindOnce:
		if s.AtMs <= 0 {
			return fmt.Errorf("at_ms must be positive")
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s", s.Kind)
	}
	return nil
}

// Next returns the first due time strictly after now. ok is false when the
// schedule will not fire again.
func (s *Schedule) Next(now time.Time) (next time.Time, ok bool) {
	switch s.Kind {
	case KindCron:
		t, err := gronx.NextTickAfter(s.CronExpr, now, false)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case KindInterval:
		if s.IntervalMs <= 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(s.IntervalMs) * time.Millisecond), true
	case KindOnce:
		t := time.UnixMilli(s.AtMs)
		if !t.After(now) {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// NextRun parses raw and returns its next due time after now, or nil.
func NextRun(raw string, now time.Time) *time.Time {
	s, err := Parse(raw)
	if err != nil {
		return nil
	}
	next, ok := s.Next(now)
	if !ok {
		return nil
	}
	return &next
}

// Describe returns a short human-readable form of raw.
func Describe(raw string) string {
	s, err := Parse(raw)
	if err != nil {
		return raw
	}

	switch s.Kind {
	case KindCron:
		return "cron " + s.CronExpr
	case KindInterval:
		d := time.Duration(s.IntervalMs) * time.Millisecond
		switch {
		case d >= time.Hour && d%time.Hour == 0:
			return plural(int(d.Hours()), "hour")
		case d >= time.Minute && d%time.Minute == 0:
			return plural(int(d.Minutes()), "minute")
		default:
			return plural(int(d.Seconds()), "second")
		}
	case KindOnce:
		return "once at " + time.UnixMilli(s.AtMs).Format("Jan 2 15:04")
	}
	return raw
}

func plural(n int, unit string) string {
	if n == 1 {
		return "every " + unit
	}
	return fmt.Sprintf("every %d %ss", n, unit)
}

// Normalize validates raw and returns its JSON form. raw may be schedule
// JSON, a plain cron expression, or a Go duration prefixed with "every "
// such as "every 15m".
func Normalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	var s Schedule
	switch {
	case strings.HasPrefix(raw, "{"):
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return "", fmt.Errorf("invalid schedule json: %w", err)
		}
	case strings.HasPrefix(strings.ToLower(raw), "every "):
		d, err := time.ParseDuration(strings.TrimSpace(raw[len("every "):]))
		if err != nil {
			return "", fmt.Errorf("invalid interval: %w", err)
		}
		s = Schedule{Kind: KindInterval, IntervalMs: d.Milliseconds()}
	default:
		s = Schedule{Kind: KindCron, CronExpr: raw}
	}

	if err := s.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
