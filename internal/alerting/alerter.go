// Package alerting provides notification channels for execution events.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityHigh is for high priority alerts.
	SeverityHigh
	// SeverityCritical is for critical alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityHigh:
		return "🔴"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key/value fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		value := fields[i+1]
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, value)
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventRunFinished is sent when an execution run completes fully filled.
	EventRunFinished AlertEvent = "run_finished"
	// EventPartialFill is sent when a run ends with a shortfall.
	EventPartialFill AlertEvent = "partial_fill"
	// EventRunAborted is sent when a run is cancelled mid-flight.
	EventRunAborted AlertEvent = "run_aborted"
	// EventFallbackExhausted is sent when aggressive attempts run out.
	EventFallbackExhausted AlertEvent = "fallback_exhausted"
	// EventTradeOpened is sent when a lifecycle trade reaches the open state.
	EventTradeOpened AlertEvent = "trade_opened"
	// EventTradeClosed is sent when a lifecycle trade closes.
	EventTradeClosed AlertEvent = "trade_closed"
	// EventTradeFailed is sent when a lifecycle trade fails to open or close.
	EventTradeFailed AlertEvent = "trade_failed"
	// EventConnectionLost is sent when the venue connection drops.
	EventConnectionLost AlertEvent = "connection_lost"
	// EventConnectionRestored is sent when the venue connection recovers.
	EventConnectionRestored AlertEvent = "connection_restored"
	// EventBotStarted is sent when the bot starts.
	EventBotStarted AlertEvent = "bot_started"
	// EventBotStopped is sent when the bot stops.
	EventBotStopped AlertEvent = "bot_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventTradeFailed:
		return SeverityCritical
	case EventRunAborted, EventFallbackExhausted:
		return SeverityHigh
	case EventPartialFill, EventConnectionLost:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
