package logging

import (
	"log/slog"
	"time"
)

// #region levels
// Level is the audit severity.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarn     Level = "warn"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// LevelCriticalSlog sits above slog.LevelError.
const LevelCriticalSlog = slog.LevelError + 4

// Slog maps l onto a slog level; unknown levels log at info.
func (l Level) Slog() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelCritical:
		return LevelCriticalSlog
	}
	return slog.LevelInfo
}
// #endregion levels

// #region categories
// Category groups audit events.
type Category string

const (
	CategorySecurity    Category = "security"
	CategoryAccess      Category = "access"
	CategoryDefense     Category = "defense"
	CategorySystem      Category = "system"
	CategoryPerformance Category = "performance"
)
// #endregion categories

// #region audit-event
// AuditContext identifies who or what triggered an event.
type AuditContext struct {
	UserID        string `json:"user_id,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

// AuditEvent is a single row in the audit_log table. Checksum chains each
// event to the one written before it.
type AuditEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	Event     string         `json:"event"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Context   AuditContext   `json:"context"`
	PrevHash  string         `json:"prev_hash,omitempty"`
	Checksum  string         `json:"checksum"`
}
// #endregion audit-event

// #region performance
// PerformanceResult is returned by EndPerformanceTimer.
type PerformanceResult struct {
	ID        string        `json:"id"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	RSSBytes  uint64        `json:"rss_bytes"`
	VMSBytes  uint64        `json:"vms_bytes"`
	RSSDelta  int64         `json:"rss_delta"`
	MemoryErr string        `json:"memory_err,omitempty"`
}
// #endregion performance

// #region config
// Config selects the handler and level for New.
type Config struct {
	Level  string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"omitempty,oneof=text json"`
}
// #endregion config
