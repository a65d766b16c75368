// Package logger provides the agent's structured log subsystem: a bounded
// in-memory ring of records, optional console output, a size-rotated JSONL
// file sink, and an on-record callback used to fan records out to live
// WebSocket subscribers.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level classifies a log record. Levels are labels, not severities: every
// record is kept regardless of level.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarn    Level = "WARN"
	LevelError   Level = "ERROR"
	LevelSuccess Level = "SUCCESS"
	LevelSystem  Level = "SYSTEM"
)

// LevelFromString maps a wire string to a Level, defaulting to INFO.
func LevelFromString(s string) Level {
	switch strings.ToUpper(s) {
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "SUCCESS":
		return LevelSuccess
	case "SYSTEM":
		return LevelSystem
	default:
		return LevelInfo
	}
}

// Record is a single log entry. Source carries the peer address for records
// produced on behalf of a remote client.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
}

// FileSinkConfig controls the optional JSONL file sink.
type FileSinkConfig struct {
	Enabled  bool
	Path     string
	MaxBytes int64
}

// Logger owns the ring buffer and the file handle. A single mutex guards
// both so rotation never races with appends.
type Logger struct {
	mu            sync.Mutex
	buffer        []Record
	maxBufferSize int
	consoleOutput bool
	sink          FileSinkConfig
	file          *os.File
	onRecord      func(Record)
}

// New creates a Logger with the given ring capacity and file sink settings.
func New(bufferSize int, sink FileSinkConfig) *Logger {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Logger{
		buffer:        make([]Record, 0, bufferSize),
		maxBufferSize: bufferSize,
		consoleOutput: true,
		sink:          sink,
	}
}

// SetConsoleOutput enables or disables console echo of records.
func (l *Logger) SetConsoleOutput(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consoleOutput = enabled
}

// SetOnRecord registers a callback invoked for every appended record. The
// callback runs outside the logger lock; it must not call back into the
// Logger's append path.
func (l *Logger) SetOnRecord(cb func(Record)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onRecord = cb
}

// Reconfigure swaps the ring capacity and sink settings at runtime. The
// current file handle is closed; the next append reopens under the new path.
func (l *Logger) Reconfigure(bufferSize int, sink FileSinkConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bufferSize > 0 && bufferSize != l.maxBufferSize {
		l.maxBufferSize = bufferSize
		if len(l.buffer) > bufferSize {
			l.buffer = append([]Record(nil), l.buffer[len(l.buffer)-bufferSize:]...)
		}
	}
	l.sink = sink
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *Logger) Info(category, message, source string) {
	l.Append(Record{Level: LevelInfo, Category: category, Message: message, Source: source})
}

func (l *Logger) Warn(category, message, source string) {
	l.Append(Record{Level: LevelWarn, Category: category, Message: message, Source: source})
}

func (l *Logger) Error(category, message, source string) {
	l.Append(Record{Level: LevelError, Category: category, Message: message, Source: source})
}

func (l *Logger) Success(category, message, source string) {
	l.Append(Record{Level: LevelSuccess, Category: category, Message: message, Source: source})
}

func (l *Logger) System(category, message string) {
	l.Append(Record{Level: LevelSystem, Category: category, Message: message})
}

// Append stores a record in the ring, echoes it, writes it to the file sink,
// and notifies the on-record callback.
func (l *Logger) Append(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}

	l.mu.Lock()
	if len(l.buffer) >= l.maxBufferSize {
		l.buffer = l.buffer[1:]
	}
	l.buffer = append(l.buffer, rec)

	if l.consoleOutput {
		fmt.Println(formatRecord(rec))
	}
	l.writeToFile(rec)
	cb := l.onRecord
	l.mu.Unlock()

	if cb != nil {
		cb(rec)
	}
}

// Snapshot returns up to limit records, most recent first, optionally
// filtered by level and message substring. limit <= 0 means all.
func (l *Logger) Snapshot(limit int, level Level, query string) []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, 0, len(l.buffer))
	for i := len(l.buffer) - 1; i >= 0; i-- {
		rec := l.buffer[i]
		if level != "" && rec.Level != level {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(rec.Message), strings.ToLower(query)) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Len reports the number of buffered records.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buffer)
}

// Close flushes and closes the file sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// writeToFile appends the record as one JSON line. If an earlier append
// left the open file at or over the size limit, the file is rotated first
// and the record starts a fresh one. Called with l.mu held. Sink failures are
// swallowed: logging must never take the server down.
func (l *Logger) writeToFile(rec Record) {
	if !l.sink.Enabled || l.sink.Path == "" {
		return
	}

	if l.shouldRotate() {
		l.rotate()
	}

	if l.file == nil {
		if err := os.MkdirAll(filepath.Dir(l.sink.Path), 0o755); err != nil {
			return
		}
		f, err := os.OpenFile(l.sink.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return
		}
		l.file = f
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	l.file.Write(line)
	l.file.Write([]byte{'\n'})
}

func (l *Logger) shouldRotate() bool {
	if l.sink.MaxBytes <= 0 || l.file == nil {
		return false
	}
	stat, err := l.file.Stat()
	if err != nil {
		return false
	}
	return stat.Size() >= l.sink.MaxBytes
}

// rotate renames the current file with a timestamp suffix; writeToFile then
// opens a fresh one. Best effort: a failed rename keeps appending to
// the oversized file rather than dropping records.
func (l *Logger) rotate() {
	l.file.Close()
	l.file = nil

	timestamp := time.Now().Format("20060102_150405")
	backup := fmt.Sprintf("%s.%s", l.sink.Path, timestamp)
	os.Rename(l.sink.Path, backup)
}

func formatRecord(rec Record) string {
	line := fmt.Sprintf("%s [%s] [%s] %s",
		rec.Timestamp.Format("2006-01-02T15:04:05-07:00"), rec.Level, rec.Category, rec.Message)
	if rec.Source != "" {
		line += " source=" + rec.Source
	}
	return line
}
