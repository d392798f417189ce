package seqrt

import (
	"github.com/rs/zerolog"
)

// newTestProgram builds a minimally-wired Program for unit tests that don't
// need the full Seq/buildProgram pipeline.
func newTestProgram(numFlags int) *Program {
	return &Program{
		Vars:       make([]byte, 64),
		Flags:      NewEventFlagSet(numFlags),
		term:       newTerminationSignal(),
		barrierCh:  make(chan struct{}),
		logger:     zerolog.Nop(),
		baseLogger: zerolog.Nop(),
	}
}
