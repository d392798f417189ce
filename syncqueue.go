package seqrt

// SyncPayload is one element of a SyncQueue: a channel's value plus the
// status/severity/timestamp metadata that accompanied it (spec §3 "Sync
// queue... element size = channel element size + status/severity/timestamp
// payload").
type SyncPayload struct {
	Value []byte
	Meta  PVMeta
}

// SyncQueue bridges a syncQ-marked Channel to a RingQueue and EventFlag
// (spec §4.7 "Queue-backed sync"). A monitor callback on the bound channel
// pushes a SyncPayload and sets the event flag instead of writing the
// variable area (the channel's own latest value, Channel.Value, is still
// updated); the state-set fiber drains it with Pop, typically
// pairing the drain with EventFlagSet.TestAndClear on the same flag.
type SyncQueue struct {
	channel *Channel
	flag    int
	q       *RingQueue[SyncPayload]
	flags   *EventFlagSet

	droppedAtChannel int
}

// NewSyncQueue wires channel to a new bounded queue of the given capacity,
// bound to event-flag index flag on flags. Per spec §3's invariant, a
// capacity of zero fails and returns nil (construction-time error).
func NewSyncQueue(channel *Channel, flag int, capacity int, flags *EventFlagSet) *SyncQueue {
	q := NewRingQueue[SyncPayload](capacity)
	if q == nil {
		return nil
	}
	sq := &SyncQueue{channel: channel, flag: flag, q: q, flags: flags}
	channel.mu.Lock()
	channel.syncQ = sq
	channel.eventFlag = flag
	channel.mu.Unlock()
	return sq
}

// push is called from the channel's monitorCallback (spec §4.7 steps 1-4):
// build the payload, Put it, and on overflow increment the lost counter
// instead of propagating an error, then set the event flag unconditionally
// (a reader draining an empty-after-overflow queue still needs waking for
// the values that did land).
func (sq *SyncQueue) push(value []byte, meta PVMeta) {
	payload := SyncPayload{Value: append([]byte(nil), value...), Meta: meta}
	if full := sq.q.Put(payload); full {
		sq.channel.mu.Lock()
		sq.channel.lostUpdates++
		sq.channel.mu.Unlock()
		sq.droppedAtChannel++
	}
	sq.flags.Set(sq.flag)
}

// Pop drains one payload for the consuming fiber (spec §4.7 "pvGetQ"). The
// guard typically pairs this with flags.TestAndClear(flag) to decide
// whether to keep draining.
func (sq *SyncQueue) Pop() (SyncPayload, bool) {
	payload, empty := sq.q.Get()
	return payload, !empty
}

// DroppedAtChannel returns the number of payloads this queue's producer
// side has dropped due to overflow (spec §8 "readerLost == writerLost").
func (sq *SyncQueue) DroppedAtChannel() int { return sq.droppedAtChannel }

// DrainBatch pops up to max payloads in one call, in the budgeted-batch idiom
// the pack's microbatch module applies to bounded-size draining: a consumer
// handling a burst of queued monitor updates drains a capped batch per wake
// instead of looping Pop until empty, so one flooded sync queue cannot starve
// a state set's other transitions within a single cycle.
func (sq *SyncQueue) DrainBatch(max int) []SyncPayload {
	if max <= 0 {
		return nil
	}
	out := make([]SyncPayload, 0, max)
	for i := 0; i < max; i++ {
		payload, ok := sq.Pop()
		if !ok {
			break
		}
		out = append(out, payload)
	}
	return out
}
