package seqrt

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyncQueue_ZeroCapacityFails(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")

	sq := NewSyncQueue(ch, 1, 0, p.Flags)
	assert.Nil(t, sq)
}

func TestSyncQueue_PushPopAndOverflow(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")

	sq := NewSyncQueue(ch, 1, 2, p.Flags)
	require.NotNil(t, sq)

	sq.push([]byte{1}, PVMeta{Status: 1})
	sq.push([]byte{2}, PVMeta{Status: 2})
	assert.True(t, p.Flags.TestAndClear(1))
	assert.Equal(t, 0, sq.DroppedAtChannel())

	// third push overflows the 2-capacity queue.
	sq.push([]byte{3}, PVMeta{Status: 3})
	assert.Equal(t, 1, sq.DroppedAtChannel())
	assert.Equal(t, 1, ch.LostUpdates())

	first, ok := sq.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, first.Value)

	second, ok := sq.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{2}, second.Value)

	_, ok = sq.Pop()
	assert.False(t, ok)
}

func TestSyncQueue_DrainBatch(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")
	sq := NewSyncQueue(ch, 1, 8, p.Flags)
	require.NotNil(t, sq)

	for i := 0; i < 5; i++ {
		sq.push([]byte{byte(i)}, PVMeta{})
	}

	batch := sq.DrainBatch(3)
	require.Len(t, batch, 3)
	assert.Equal(t, []byte{0}, batch[0].Value)
	assert.Equal(t, []byte{1}, batch[1].Value)
	assert.Equal(t, []byte{2}, batch[2].Value)

	rest := sq.DrainBatch(10)
	require.Len(t, rest, 2)
	assert.Equal(t, []byte{3}, rest[0].Value)
	assert.Equal(t, []byte{4}, rest[1].Value)

	assert.Nil(t, sq.DrainBatch(0))
}

// TestSyncQueue_ConcurrentProducerConsumer_StrictlyIncreasing exercises the
// same property as TestRingQueue_ConcurrentSingleProducerSingleConsumer
// (spec §8, grounded on original_source/test/unit/queueTest.c's
// readerTask/writerTask) through SyncQueue's push/Pop pair rather than
// RingQueue directly: one goroutine only ever calls push (the channel's
// monitorCallback side), the test body only ever calls Pop (the fiber's
// drain side).
func TestSyncQueue_ConcurrentProducerConsumer_StrictlyIncreasing(t *testing.T) {
	const (
		capacity   = 16
		iterations = 50000
	)
	p := newTestProgram(4)
	fp := newFakeProvider()
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")
	sq := NewSyncQueue(ch, 1, capacity, p.Flags)
	require.NotNil(t, sq)

	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		for i := 0; i < iterations; i++ {
			var buf [4]byte
			binary.LittleEndian.PutUint32(buf[:], uint32(i))
			sq.push(buf[:], PVMeta{})
		}
	}()

	var readerLost int
	var violation string
	i := 0
	for {
		payload, ok := sq.Pop()
		if !ok {
			select {
			case <-producerDone:
			default:
				runtime.Gosched()
				continue
			}
			payload, ok = sq.Pop()
			if !ok {
				break
			}
		}
		v := int(binary.LittleEndian.Uint32(payload.Value))
		if v < i && violation == "" {
			violation = fmt.Sprintf("observed %d after %d, values must never decrease", v, i)
		}
		readerLost += v - i
		i = v + 1
	}
	// The queue was drained empty after the producer finished, so every
	// value after the last one observed was dropped by push.
	readerLost += iterations - i

	require.Empty(t, violation)
	assert.Equal(t, sq.DroppedAtChannel(), readerLost)
}
