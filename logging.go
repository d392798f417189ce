// logging.go - structured logging for seqrt programs.
//
// Grounded on the teacher's logging.go (package-level pluggable Logger
// interface + DefaultLogger), but specialized to spec §4.8's exact wire
// format: "<fiber-name> YYYY/MM/DD HH:MM:SS: <message>", and backed by
// zerolog rather than a hand-rolled JSON/pretty encoder.
package seqrt

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// fiberLogWriter renders zerolog events in the original sequencer's plain
// text wire format rather than zerolog's default JSON/console encodings. It
// implements io.Writer and is handed raw per-event JSON by zerolog, which it
// reformats and writes through a single mutex-protected sink so concurrent
// fibers never interleave partial lines (mirrors the teacher's
// DefaultLogger.mu discipline).
type fiberLogWriter struct {
	mu  sync.Mutex
	out io.Writer
	// json selects the alternative structured sink: when true, events pass
	// through unmodified instead of being reformatted to plain text.
	json bool
}

func newFiberLogWriter(out io.Writer, jsonOutput bool) *fiberLogWriter {
	return &fiberLogWriter{out: out, json: jsonOutput}
}

// Write implements io.Writer for zerolog's event pipeline. zerolog calls
// this once per flushed event with a single JSON-encoded line.
func (w *fiberLogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.json {
		_, err := w.out.Write(p)
		return len(p), err
	}
	return len(p), w.writePlain(p)
}

// writePlain extracts fiber/time/message from the JSON event and writes the
// "<fiber-name> YYYY/MM/DD HH:MM:SS: <message>" record the original runtime
// produced, falling back to the raw message if the event carries no fiber
// tag (e.g. a library-level log emitted before a program is attached).
func (w *fiberLogWriter) writePlain(p []byte) error {
	evt := parseLogEvent(p)
	if evt.fiber == "" {
		_, err := fmt.Fprintf(w.out, "%s\n", evt.message)
		return err
	}
	_, err := fmt.Fprintf(w.out, "%s %s: %s\n", evt.fiber, evt.timestamp, evt.message)
	return err
}

// logEvent is the subset of a zerolog JSON record seqrt's plain-text
// formatter cares about.
type logEvent struct {
	fiber     string
	timestamp string
	message   string
}

// parseLogEvent does a minimal field-scrape of a zerolog JSON line, avoiding
// a full JSON decode on seqrt's hot logging path. It tolerates any field
// ordering zerolog emits but assumes no literal '"' inside field values
// other than escaped ones, which holds for the fields seqrt writes.
func parseLogEvent(p []byte) logEvent {
	var evt logEvent
	evt.message = extractJSONField(p, "message")
	if evt.message == "" {
		evt.message = extractJSONField(p, "error")
	}
	evt.fiber = extractJSONField(p, "fiber")
	evt.timestamp = extractJSONField(p, "time")
	if evt.timestamp == "" {
		evt.timestamp = zerolog.TimestampFieldName
	}
	return evt
}

// extractJSONField returns the string value of a top-level "key":"value"
// pair in a flat JSON object, or "" if absent or not a string value.
func extractJSONField(p []byte, key string) string {
	needle := []byte(`"` + key + `":"`)
	idx := indexBytes(p, needle)
	if idx < 0 {
		return ""
	}
	start := idx + len(needle)
	end := start
	for end < len(p) && p[end] != '"' {
		if p[end] == '\\' {
			end++
		}
		end++
	}
	if end > len(p) {
		end = len(p)
	}
	return unescapeJSON(p[start:end])
}

func indexBytes(haystack, needle []byte) int {
	n, m := len(haystack), len(needle)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if string(haystack[i:i+m]) == string(needle) {
			return i
		}
	}
	return -1
}

func unescapeJSON(b []byte) string {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == '\\' && i+1 < len(b) {
			i++
			switch b[i] {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case '"', '\\', '/':
				out = append(out, b[i])
			default:
				out = append(out, b[i])
			}
			continue
		}
		out = append(out, b[i])
	}
	return string(out)
}

// LogFormat selects the program logger's on-disk record shape.
type LogFormat int

const (
	// LogFormatText reproduces the original runtime's
	// "<fiber-name> YYYY/MM/DD HH:MM:SS: <message>" line (default).
	LogFormatText LogFormat = iota
	// LogFormatJSON leaves zerolog's structured output untouched, so the
	// fiber/time/message/level fields remain queryable by log tooling.
	LogFormatJSON
)

const seqTimeFormat = "2006/01/02 15:04:05"

// newProgramLogger builds the single zerolog.Logger a program's supervisor
// and every state-set fiber share, each fiber tagging its own events via
// .With().Str("fiber", name) at call sites. debugLevel selects the zerolog
// level per spec §6's "debug (integer level)" macro: 0 is Info, 1 is Debug,
// 2 or higher is Trace.
func newProgramLogger(out io.Writer, format LogFormat, debugLevel int) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	w := newFiberLogWriter(out, format == LogFormatJSON)
	zerolog.TimeFieldFormat = seqTimeFormat
	level := zerolog.InfoLevel
	switch {
	case debugLevel >= 2:
		level = zerolog.TraceLevel
	case debugLevel == 1:
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// fiberLogger returns a child logger tagged with the given fiber name, used
// by both the supervisor/auxiliary fiber (program name) and each state-set
// fiber ("program:stateset").
func fiberLogger(base zerolog.Logger, fiberName string) zerolog.Logger {
	return base.With().Str("fiber", fiberName).Logger()
}
