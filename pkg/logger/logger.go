package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level orders log severities
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l Level) String() string {
	if l < DebugLevel || int(l) >= len(levelNames) {
		return "UNKNOWN"
	}
	return levelNames[l]
}

var levelAliases = map[string]Level{
	"debug":   DebugLevel,
	"info":    InfoLevel,
	"warn":    WarnLevel,
	"warning": WarnLevel,
	"error":   ErrorLevel,
	"fatal":   FatalLevel,
}

// ParseLevel maps a config level name to a Level, falling back to info
func ParseLevel(s string) Level {
	if lvl, ok := levelAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return InfoLevel
}

// Fields holds the structured key/value pairs of one log line
type Fields map[string]any

// LogEntry is the JSON shape of one log line
type LogEntry struct {
	Timestamp string     `json:"timestamp"`
	Level     string     `json:"level"`
	RunID     string     `json:"run_id,omitempty"`
	Component string     `json:"component,omitempty"`
	Event     string     `json:"event,omitempty"`
	Message   string     `json:"message"`
	Fields    Fields     `json:"fields,omitempty"`
	Duration  int64      `json:"duration,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Caller    string     `json:"caller,omitempty"`
}

// ErrorInfo is attached to failure events
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Logger writes leveled lines as JSON or plain text
type Logger struct {
	mu            sync.Mutex
	out           io.Writer
	min           Level
	formatJSON    bool
	enableTracing bool
}

// New opens the configured output ("stdout", "stderr" or a file path)
// and returns a logger writing to it.
func New(level, format, output string, enableTracing bool) (*Logger, error) {
	var w io.Writer
	switch output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", output, err)
		}
		w = f
	}

	l := NewWithWriter(level, format, w)
	l.enableTracing = enableTracing
	return l, nil
}

// NewWithWriter returns a logger writing to w
func NewWithWriter(level, format string, w io.Writer) *Logger {
	return &Logger{
		out:        w,
		min:        ParseLevel(level),
		formatJSON: strings.EqualFold(format, "json"),
	}
}

// Nop discards everything
func Nop() *Logger {
	return &Logger{out: io.Discard, min: FatalLevel + 1}
}

func (l *Logger) enabled(lvl Level) bool { return lvl >= l.min }

// emit stamps and writes e. skip counts the frames between emit and the
// code that asked for the line.
func (l *Logger) emit(lvl Level, e LogEntry, skip int) {
	if !l.enabled(lvl) {
		return
	}
	e.Timestamp = time.Now().Format(time.RFC3339Nano)
	e.Level = lvl.String()
	if l.enableTracing {
		if _, file, line, ok := runtime.Caller(skip); ok {
			e.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	var line []byte
	if l.formatJSON {
		line, _ = json.Marshal(e)
	} else {
		line = []byte(formatText(e))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(append(line, '\n'))
}

func formatText(e LogEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Timestamp, e.Level)
	if e.Event != "" {
		fmt.Fprintf(&b, " [%s]", e.Event)
	}
	b.WriteString(" " + e.Message)
	if e.RunID != "" {
		fmt.Fprintf(&b, " run=%s", e.RunID)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	if e.Duration > 0 {
		fmt.Fprintf(&b, " duration_ms=%d", e.Duration)
	}
	if e.Error != nil {
		fmt.Fprintf(&b, " error=%q", e.Error.Message)
	}
	if e.Caller != "" {
		b.WriteString(" caller=" + e.Caller)
	}
	return b.String()
}

func (l *Logger) Debug(msg string, fields ...Fields) {
	l.emit(DebugLevel, LogEntry{Message: msg, Fields: merge(fields)}, 2)
}

func (l *Logger) Info(msg string, fields ...Fields) {
	l.emit(InfoLevel, LogEntry{Message: msg, Fields: merge(fields)}, 2)
}

func (l *Logger) Warn(msg string, fields ...Fields) {
	l.emit(WarnLevel, LogEntry{Message: msg, Fields: merge(fields)}, 2)
}

func (l *Logger) Error(msg string, fields ...Fields) {
	l.emit(ErrorLevel, LogEntry{Message: msg, Fields: merge(fields)}, 2)
}

func merge(fields []Fields) Fields {
	if len(fields) == 1 {
		return fields[0]
	}
	out := Fields{}
	for _, f := range fields {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}

// WithContext starts a ContextLogger for one run or component.
func (l *Logger) WithContext(ctx context.Context) *ContextLogger {
	return &ContextLogger{logger: l, ctx: ctx}
}

// ContextLogger tags every line with a run ID and component, and names
// the event it records.
type ContextLogger struct {
	logger    *Logger
	ctx       context.Context
	runID     string
	component string
}

func (cl *ContextLogger) WithRunID(runID string) *ContextLogger {
	cl.runID = runID
	return cl
}

func (cl *ContextLogger) WithComponent(component string) *ContextLogger {
	cl.component = component
	return cl
}

func (cl *ContextLogger) event(lvl Level, name, msg string, fields Fields, durationMs int64, failure *ErrorInfo) {
	cl.logger.emit(lvl, LogEntry{
		RunID:     cl.runID,
		Component: cl.component,
		Event:     name,
		Message:   msg,
		Fields:    fields,
		Duration:  durationMs,
		Error:     failure,
	}, 3)
}

func (cl *ContextLogger) LogRunStarted(msg string, fields Fields) {
	cl.event(InfoLevel, "RunStarted", msg, fields, 0, nil)
}

func (cl *ContextLogger) LogRunCompleted(msg string, durationMs int64, fields Fields) {
	cl.event(InfoLevel, "RunCompleted", msg, fields, durationMs, nil)
}

func (cl *ContextLogger) LogBatchFetched(msg string, durationMs int64, fields Fields) {
	cl.event(InfoLevel, "BatchFetched", msg, fields, durationMs, nil)
}

// LogBatchFailed is a warning: the run continues far enough to keep what
// earlier batches produced.
func (cl *ContextLogger) LogBatchFailed(msg, code, detail string, fields Fields) {
	cl.event(WarnLevel, "BatchFailed", msg, fields, 0, &ErrorInfo{Code: code, Message: detail})
}

func (cl *ContextLogger) LogArtifactCombined(msg string, fields Fields) {
	cl.event(InfoLevel, "ArtifactCombined", msg, fields, 0, nil)
}

func (cl *ContextLogger) LogUploadStarted(msg string, fields Fields) {
	cl.event(InfoLevel, "UploadStarted", msg, fields, 0, nil)
}

func (cl *ContextLogger) LogUploadCompleted(msg string, durationMs int64, fields Fields) {
	cl.event(InfoLevel, "UploadCompleted", msg, fields, durationMs, nil)
}

func (cl *ContextLogger) LogUploadFailed(msg, code, detail string, fields Fields) {
	cl.event(ErrorLevel, "UploadFailed", msg, fields, 0, &ErrorInfo{Code: code, Message: detail})
}

// LogInfo, LogDebug and LogWarn record ad hoc events.
func (cl *ContextLogger) LogInfo(event, msg string, fields Fields) {
	cl.event(InfoLevel, event, msg, fields, 0, nil)
}

func (cl *ContextLogger) LogDebug(event, msg string, fields Fields) {
	cl.event(DebugLevel, event, msg, fields, 0, nil)
}

func (cl *ContextLogger) LogWarn(event, msg string, fields Fields) {
	cl.event(WarnLevel, event, msg, fields, 0, nil)
}
