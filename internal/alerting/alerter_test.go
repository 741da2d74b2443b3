package alerting

import (
	"context"
	"errors"
	"testing"
)

func TestSeverityString(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "INFO"},
		{SeverityWarning, "WARNING"},
		{SeverityHigh, "HIGH"},
		{SeverityCritical, "CRITICAL"},
		{Severity(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}

func TestFormatFields(t *testing.T) {
	tests := []struct {
		name   string
		fields []any
		want   string
	}{
		{"empty", nil, ""},
		{"single pair", []any{"run_id", "abc"}, "• run_id: abc"},
		{"two pairs", []any{"run_id", "abc", "chunks", 5}, "• run_id: abc\n• chunks: 5"},
		{"non-string key skipped", []any{42, "x", "ok", 1}, "• ok: 1"},
		{"odd trailing value ignored", []any{"a", 1, "dangling"}, "• a: 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatFields(tt.fields...); got != tt.want {
				t.Errorf("FormatFields() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEventSeverity(t *testing.T) {
	tests := []struct {
		event AlertEvent
		want  Severity
	}{
		{EventTradeFailed, SeverityCritical},
		{EventRunAborted, SeverityHigh},
		{EventFallbackExhausted, SeverityHigh},
		{EventPartialFill, SeverityWarning},
		{EventConnectionLost, SeverityWarning},
		{EventRunFinished, SeverityInfo},
		{EventTradeOpened, SeverityInfo},
		{AlertEvent("unknown"), SeverityInfo},
	}
	for _, tt := range tests {
		if got := EventSeverity(tt.event); got != tt.want {
			t.Errorf("EventSeverity(%s) = %s, want %s", tt.event, got, tt.want)
		}
	}
}

func TestMultiAlerterFansOut(t *testing.T) {
	a := NewMockAlerter()
	b := NewMockAlerter()
	multi := NewMultiAlerter(nil, a, b)

	if err := multi.Alert(context.Background(), SeverityWarning, "shortfall", "run_id", "r1"); err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if a.Count() != 1 || b.Count() != 1 {
		t.Errorf("counts = %d/%d, want 1/1", a.Count(), b.Count())
	}
	if !a.HasAlertWithSeverity(SeverityWarning) || !a.HasAlertContaining("shortfall") {
		t.Errorf("alert not captured: %+v", a.Alerts())
	}
}

type failingAlerter struct{ err error }

func (f *failingAlerter) Name() string { return "failing" }
func (f *failingAlerter) Alert(context.Context, Severity, string, ...any) error {
	return f.err
}

func TestMultiAlerterJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok := NewMockAlerter()
	multi := NewMultiAlerter(nil, &failingAlerter{err: boom}, ok)

	err := multi.Alert(context.Background(), SeverityInfo, "msg")
	if !errors.Is(err, boom) {
		t.Errorf("got %v, want wrapped boom", err)
	}
	// The healthy channel still received the alert.
	if ok.Count() != 1 {
		t.Errorf("healthy alerter count = %d, want 1", ok.Count())
	}
}

func TestMultiAlerterEventSeverity(t *testing.T) {
	mock := NewMockAlerter()
	multi := NewMultiAlerter(nil, mock)

	if err := multi.AlertEvent(context.Background(), EventFallbackExhausted, "chunk 3 short"); err != nil {
		t.Fatalf("AlertEvent: %v", err)
	}
	last := mock.LastAlert()
	if last == nil || last.Severity != SeverityHigh {
		t.Errorf("last = %+v, want HIGH severity", last)
	}
}
