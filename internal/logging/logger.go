// Package logging emits one JSON object per line to stdout. Entries are built
// fluently and correlated with the active trace, so a delivery attempt can be
// followed from the admin API through the dispatcher to the outbound call.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/avandyck/drifthook/internal/tracing"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

var levelRank = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

// LogEntry is a single structured line. The typed fields carry the identifiers
// that appear on nearly every message in this system; anything else goes into
// Fields.
type LogEntry struct {
	Time        time.Time      `json:"time"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"msg"`
	Service     string         `json:"service,omitempty"`
	TraceID     string         `json:"trace_id,omitempty"`
	TenantID    string         `json:"tenant_id,omitempty"`
	TaskID      string         `json:"task_id,omitempty"`
	RecipientID string         `json:"recipient_id,omitempty"`
	EventType   string         `json:"event_type,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`

	logger *Logger
}

type Logger struct {
	service  string
	minLevel LogLevel
	out      io.Writer
}

// New returns a logger for the named service. The minimum level comes from
// LOG_LEVEL (default info).
func New(service string) *Logger {
	min := LogLevel(os.Getenv("LOG_LEVEL"))
	if _, ok := levelRank[min]; !ok {
		min = LevelInfo
	}
	return &Logger{service: service, minLevel: min, out: os.Stdout}
}

func (l *Logger) entry() *LogEntry {
	return &LogEntry{
		Time:    time.Now().UTC(),
		Service: l.service,
		Fields:  make(map[string]any),
		logger:  l,
	}
}

// WithContext starts an entry carrying the trace id of the span in ctx, if
// one is active.
func (l *Logger) WithContext(ctx context.Context) *LogEntry {
	e := l.entry()
	e.TraceID = tracing.GetTraceID(ctx)
	return e
}

// WithFields starts an entry pre-populated with the given fields.
func (l *Logger) WithFields(fields map[string]any) *LogEntry {
	e := l.entry()
	e.Fields = fields
	return e
}

// Plain starts an entry with no trace correlation.
func (l *Logger) Plain() *LogEntry {
	return l.entry()
}

func (e *LogEntry) WithTenant(tenantID string) *LogEntry {
	e.TenantID = tenantID
	return e
}

func (e *LogEntry) WithTask(taskID string) *LogEntry {
	e.TaskID = taskID
	return e
}

func (e *LogEntry) WithRecipient(recipientID string) *LogEntry {
	e.RecipientID = recipientID
	return e
}

func (e *LogEntry) WithEventType(eventType string) *LogEntry {
	e.EventType = eventType
	return e
}

func (e *LogEntry) WithField(key string, value any) *LogEntry {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithFields merges fields into the entry, overwriting duplicates.
func (e *LogEntry) WithFields(fields map[string]any) *LogEntry {
	for k, v := range fields {
		e.WithField(k, v)
	}
	return e
}

// WithError records err under the "error" field. Nil errors are ignored so
// callers can chain it unconditionally.
func (e *LogEntry) WithError(err error) *LogEntry {
	if err == nil {
		return e
	}
	return e.WithField("error", err.Error())
}

// The level methods are terminal: they emit the entry and the builder chain
// ends there.

func (e *LogEntry) Debug(message string)                { e.emit(LevelDebug, message) }
func (e *LogEntry) Info(message string)                 { e.emit(LevelInfo, message) }
func (e *LogEntry) Warn(message string)                 { e.emit(LevelWarn, message) }
func (e *LogEntry) Error(message string)                { e.emit(LevelError, message) }
func (e *LogEntry) Debugf(format string, args ...any)   { e.emit(LevelDebug, fmt.Sprintf(format, args...)) }
func (e *LogEntry) Infof(format string, args ...any)    { e.emit(LevelInfo, fmt.Sprintf(format, args...)) }
func (e *LogEntry) Warnf(format string, args ...any)    { e.emit(LevelWarn, fmt.Sprintf(format, args...)) }
func (e *LogEntry) Errorf(format string, args ...any)   { e.emit(LevelError, fmt.Sprintf(format, args...)) }

// Fatal emits the entry and exits the process.
func (e *LogEntry) Fatal(message string) {
	e.emit(LevelFatal, message)
	os.Exit(1)
}

func (e *LogEntry) Fatalf(format string, args ...any) {
	e.emit(LevelFatal, fmt.Sprintf(format, args...))
	os.Exit(1)
}

func (e *LogEntry) emit(level LogLevel, message string) {
	l := e.logger
	if l == nil {
		l = defaultLogger
	}
	if levelRank[level] < levelRank[l.minLevel] {
		return
	}

	e.Level = level
	e.Message = message
	if len(e.Fields) == 0 {
		e.Fields = nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		// Degrade to plain text rather than dropping the line
		fmt.Fprintf(l.out, "%s [%s] %s (marshal: %v)\n", e.Time.Format(time.RFC3339), level, message, err)
		return
	}
	fmt.Fprintln(l.out, string(data))
}

var defaultLogger = New("drifthook")

// WithContext starts an entry on the default logger.
func WithContext(ctx context.Context) *LogEntry {
	return defaultLogger.WithContext(ctx)
}

// WithFields starts an entry on the default logger.
func WithFields(fields map[string]any) *LogEntry {
	return defaultLogger.WithFields(fields)
}

// Plain starts an entry on the default logger.
func Plain() *LogEntry {
	return defaultLogger.Plain()
}

// SetDefaultService renames the default logger's service field.
func SetDefaultService(service string) {
	defaultLogger.service = service
}
