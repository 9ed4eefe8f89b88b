package schedule

import (
	"strings"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	s, err := Parse(`{"kind":"cron","cron_expr":"0 9 * * *"}`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if s.Kind != KindCron || s.CronExpr != "0 9 * * *" {
		t.Errorf("unexpected schedule %+v", s)
	}

	if _, err := Parse("not json"); err == nil {
		t.Error("expected error for invalid json")
	}
}

func TestNextCron(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)
	s := &Schedule{Kind: KindCron, CronExpr: "0 9 * * *"}

	next, ok := s.Next(now)
	if !ok {
		t.Fatal("expected next run")
	}
	want := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestNextInterval(t *testing.T) {
	now := time.Now()
	next := NextRun(`{"kind":"interval","interval_ms":60000}`, now)
	if next == nil {
		t.Fatal("expected next run time, got nil")
	}
	if got := next.Sub(now); got != time.Minute {
		t.Errorf("expected one minute, got %v", got)
	}
}

func TestNextOnce(t *testing.T) {
	now := time.Now()

	future := now.Add(time.Hour).UnixMilli()
	s := &Schedule{Kind: KindOnce, AtMs: future}
	next, ok := s.Next(now)
	if !ok || next.UnixMilli() != future {
		t.Errorf("expected once at %d, got %v %v", future, next, ok)
	}

	past := &Schedule{Kind: KindOnce, AtMs: now.Add(-time.Hour).UnixMilli()}
	if _, ok := past.Next(now); ok {
		t.Error("expected no next run for a past one-off")
	}
}

func TestNextRunInvalid(t *testing.T) {
	for _, raw := range []string{"garbage", `{"kind":"weekly"}`, `{"kind":"cron","cron_expr":"bad"}`} {
		if next := NextRun(raw, time.Now()); next != nil {
			t.Errorf("%s: expected nil, got %v", raw, next)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		kind    Kind
		wantErr bool
	}{
		{"plain cron", "0 9 * * 1-5", KindCron, false},
		{"cron macro", "@hourly", KindCron, false},
		{"padded", "  */5 * * * *  ", KindCron, false},
		{"json interval", `{"kind":"interval","interval_ms":300000}`, KindInterval, false},
		{"every duration", "every 15m", KindInterval, false},
		{"json once", `{"kind":"once","at_ms":1893456000000}`, KindOnce, false},
		{"invalid cron", "not a cron", "", true},
		{"invalid cron in json", `{"kind":"cron","cron_expr":"bad"}`, "", true},
		{"unknown kind", `{"kind":"weekly"}`, "", true},
		{"short interval", "every 10ms", "", true},
		{"broken json", `{"kind":`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			s, err := Parse(got)
			if err != nil {
				t.Fatalf("normalized output does not parse: %v", err)
			}
			if s.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, s.Kind)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"kind":"cron","cron_expr":"0 9 * * *"}`, "cron 0 9 * * *"},
		{`{"kind":"interval","interval_ms":3600000}`, "every hour"},
		{`{"kind":"interval","interval_ms":7200000}`, "every 2 hours"},
		{`{"kind":"interval","interval_ms":60000}`, "every minute"},
		{`{"kind":"interval","interval_ms":300000}`, "every 5 minutes"},
		{`{"kind":"interval","interval_ms":45000}`, "every 45 seconds"},
		{"garbage", "garbage"},
	}
	for _, tt := range tests {
		if got := Describe(tt.raw); got != tt.want {
			t.Errorf("Describe(%s): expected %q, got %q", tt.raw, tt.want, got)
		}
	}
	if got := Describe(`{"kind":"once","at_ms":1893456000000}`); !strings.HasPrefix(got, "once at ") {
		t.Errorf("unexpected once description %q", got)
	}
}
