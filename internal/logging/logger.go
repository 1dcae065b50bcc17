package logging

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const DefaultBufferSize = 1000

// Format selects how entries are rendered on the output stream.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options configure a Logger. A nil Output discards rendered lines; entries
// still reach the buffer.
type Options struct {
	Level  Level
	Format Format
	Output io.Writer
	Buffer *LogBuffer
}

// sink is shared by a logger and everything derived from it with With.
type sink struct {
	mu     sync.Mutex
	output io.Writer
	format Format
}

type Logger struct {
	buffer      *LogBuffer
	sink        *sink
	minLevel    Level
	baseContext map[string]string
}

func New(options Options) *Logger {
	buffer := options.Buffer
	if buffer == nil {
		buffer = NewLogBuffer(DefaultBufferSize)
	}
	output := options.Output
	if output == nil {
		output = io.Discard
	}
	format := options.Format
	if format != FormatJSON {
		format = FormatText
	}
	return &Logger{
		buffer:   buffer,
		sink:     &sink{output: output, format: format},
		minLevel: normalizeLevel(options.Level),
	}
}

// Stderr returns a text logger on standard error.
func Stderr(level Level) *Logger {
	return New(Options{Level: level, Output: os.Stderr})
}

// Discard returns a logger that only keeps a small in-memory buffer.
func Discard() *Logger {
	return New(Options{Level: LevelInfo, Buffer: NewLogBuffer(64)})
}

func (l *Logger) Buffer() *LogBuffer {
	if l == nil {
		return nil
	}
	return l.buffer
}

func (l *Logger) With(fields map[string]string) *Logger {
	if l == nil {
		return l
	}
	return &Logger{
		buffer:      l.buffer,
		sink:        l.sink,
		minLevel:    l.minLevel,
		baseContext: cloneFields(l.baseContext, fields),
	}
}

// WithCategory tags every entry with the component that produced it.
func (l *Logger) WithCategory(category string) *Logger {
	return l.With(map[string]string{FieldCategory: category})
}

func (l *Logger) Debug(message string, fields map[string]string) {
	l.log(LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]string) {
	l.log(LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]string) {
	l.log(LevelWarning, message, fields)
}

func (l *Logger) Error(message string, fields map[string]string) {
	l.log(LevelError, message, fields)
}

func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return levelRank(level) >= levelRank(l.minLevel)
}

func (l *Logger) log(level Level, message string, fields map[string]string) {
	if l == nil || !l.Enabled(level) {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Context:   cloneFields(l.baseContext, fields),
	}
	if l.buffer != nil {
		l.buffer.Add(entry)
	}
	if l.sink != nil {
		l.sink.write(entry)
	}
}

func (s *sink) write(entry LogEntry) {
	var line []byte
	if s.format == FormatJSON {
		encoded, err := json.Marshal(entry)
		if err != nil {
			return
		}
		line = append(encoded, '\n')
	} else {
		line = []byte(formatEntry(entry) + "\n")
	}
	s.mu.Lock()
	_, _ = s.output.Write(line)
	s.mu.Unlock()
}

func normalizeLevel(level Level) Level {
	switch level {
	case LevelDebug, LevelInfo, LevelWarning, LevelError:
		return level
	default:
		return LevelInfo
	}
}

func levelRank(level Level) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func ParseLevel(value string) (Level, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warning", "warn":
		return LevelWarning, true
	case "error":
		return LevelError, true
	default:
		return "", false
	}
}

func ParseFormat(value string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text":
		return FormatText, true
	case "json":
		return FormatJSON, true
	default:
		return "", false
	}
}

func cloneFields(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	combined := make(map[string]string, len(base)+len(extra))
	for key, value := range base {
		combined[key] = value
	}
	for key, value := range extra {
		combined[key] = value
	}
	return combined
}

// formatEntry renders logfmt with the context keys sorted.
func formatEntry(entry LogEntry) string {
	var builder strings.Builder
	builder.WriteString("ts=")
	builder.WriteString(entry.Timestamp.Format(time.RFC3339Nano))
	builder.WriteString(" level=")
	builder.WriteString(string(entry.Level))
	builder.WriteString(" msg=")
	builder.WriteString(strconv.Quote(entry.Message))

	keys := make([]string, 0, len(entry.Context))
	for key := range entry.Context {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteByte(' ')
		builder.WriteString(key)
		builder.WriteByte('=')
		builder.WriteString(strconv.Quote(entry.Context[key]))
	}
	return builder.String()
}
