package seqrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAuxFiber_IsSingleton(t *testing.T) {
	a1 := ensureAuxFiber()
	a2 := ensureAuxFiber()
	assert.Same(t, a1, a2)
}

func TestAuxiliaryFiber_RegisterAndUnregisterProgram(t *testing.T) {
	a := ensureAuxFiber()
	p := newTestProgram(1)
	p.Name = "auxtest-register"
	fp := newFakeProvider()
	p.provider = fp

	a.registerProgram(p)
	create, destroy, _ := fp.calls()
	assert.Equal(t, 1, create)
	assert.Equal(t, 0, destroy)

	a.unregisterProgram(p)
	create, destroy, _ = fp.calls()
	assert.Equal(t, 1, create)
	assert.Equal(t, 1, destroy)
}

func TestAuxiliaryFiber_HouseKeepFlushesRegisteredProviders(t *testing.T) {
	a := ensureAuxFiber()
	p := newTestProgram(1)
	p.Name = "auxtest-housekeep"
	fp := newFakeProvider()
	p.provider = fp

	a.registerProgram(p)
	defer a.unregisterProgram(p)

	require.Eventually(t, func() bool {
		_, _, flush := fp.calls()
		return flush > 0
	}, 2*time.Second, 5*time.Millisecond, "houseKeep should flush a registered Flusher provider within a few poll ticks")
}
