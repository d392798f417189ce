// Package goroutineid extracts the calling goroutine's runtime-assigned id,
// in the spirit of the pack's goroutineid module (present in the example
// pack only as a placeholder go.mod with no published source to ground a
// literal implementation on, so this reimplements the well-known
// runtime.Stack-parsing technique that module's name documents).
package goroutineid

import (
	"runtime"
	"strconv"
	"strings"
)

// Current returns the calling goroutine's id, parsed out of the header line
// runtime.Stack always writes first ("goroutine 123 [running]:"). Returns 0
// if the stack trace is ever in a shape this parser does not recognize,
// since this is a debug-assertion aid, never something correctness depends
// on.
func Current() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	line := string(buf[:n])

	const prefix = "goroutine "
	if !strings.HasPrefix(line, prefix) {
		return 0
	}
	line = line[len(prefix):]
	end := strings.IndexByte(line, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(line[:end], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
