package seqrt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannel(p *Program, fp *fakeProvider, desc ChannelDescriptor, resolved string) *Channel {
	ch := newChannel(p, fp, desc, resolved)
	p.Channels = append(p.Channels, ch)
	return ch
}

func TestChannel_AssignSuccess(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt, Monitor: true}, "ioc:x")

	require.NoError(t, ch.Assign())
	assert.True(t, ch.Assigned())
	assert.Equal(t, 1, p.AssignCount())
}

func TestChannel_AssignFailure_RetriesInBackground(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	fp.failNextCreates("ioc:x", 2)
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")

	err := ch.Assign()
	assert.Error(t, err)
	assert.False(t, ch.Assigned())

	require.Eventually(t, func() bool { return ch.Assigned() }, 2*time.Second, 5*time.Millisecond)
	defer p.term.Fire()
}

func TestChannel_ConnectedCallback_DrivesConnectCountAndBarrier(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")
	require.NoError(t, ch.Assign())

	assert.Equal(t, 0, p.ConnectCount())
	fp.connect("ioc:x", true)
	assert.Equal(t, 1, p.ConnectCount())

	select {
	case <-p.barrierCh:
	default:
		t.Fatal("barrier should be closed once the only channel is connected with no pending monitors")
	}

	fp.connect("ioc:x", false)
	assert.Equal(t, 0, p.ConnectCount())
}

func TestChannel_MonitorCallback_NonSafeMode_WritesProgramVars(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	desc := ChannelDescriptor{VarName: "x", VarType: PVInt, VarOffset: 4, VarCount: 1, EventFlag: 1}
	ch := newTestChannel(p, fp, desc, "ioc:x")
	require.NoError(t, ch.Assign())

	fp.deliver("ioc:x", []byte{0x2a, 0, 0, 0}, PVMeta{Status: 1})

	assert.Equal(t, byte(0x2a), p.Vars[4])
	assert.True(t, p.Flags.Test(1))
}

func TestChannel_MonitorCallback_SafeMode_MarksDirtyThenCommits(t *testing.T) {
	p := newTestProgram(4)
	p.Options.SafeMode = true
	fp := newFakeProvider()
	desc := ChannelDescriptor{VarName: "x", VarType: PVInt, VarOffset: 0, VarCount: 1}
	ch := newTestChannel(p, fp, desc, "ioc:x")
	ch.subscribers = []int{0}
	require.NoError(t, ch.Assign())

	fp.deliver("ioc:x", []byte{7, 0, 0, 0}, PVMeta{})

	shadow := make([]byte, 4)
	committed := ch.commitDirty(0, shadow)
	assert.True(t, committed)
	assert.Equal(t, byte(7), shadow[0])

	// second commit attempt for the same SS is a no-op, nothing pending.
	assert.False(t, ch.commitDirty(0, shadow))
}

func TestChannel_GetSynchronous(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	fp.getResp = func(name string) ([]byte, PVMeta, error) {
		return []byte{1, 2, 3, 4}, PVMeta{Status: 0}, nil
	}
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")
	require.NoError(t, ch.Assign())

	val, err := ch.Get(0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, val)
	assert.True(t, ch.GetComplete(0))
}

func TestChannel_GetTimeout(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	fp.getResp = func(name string) ([]byte, PVMeta, error) {
		time.Sleep(100 * time.Millisecond)
		return nil, PVMeta{}, nil
	}
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")
	require.NoError(t, ch.Assign())

	_, err := ch.Get(0, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestChannel_PutSynchronous(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")
	require.NoError(t, ch.Assign())

	require.NoError(t, ch.Put(0, []byte{9, 0, 0, 0}, time.Second))
}

func TestChannel_GetPut_UnassignedChannelErrors(t *testing.T) {
	p := newTestProgram(4)
	fp := newFakeProvider()
	ch := newTestChannel(p, fp, ChannelDescriptor{VarName: "x", VarType: PVInt}, "ioc:x")

	_, err := ch.Get(0, time.Second)
	assert.ErrorIs(t, err, ErrChannelUnassigned)

	err = ch.Put(0, []byte{1}, time.Second)
	assert.ErrorIs(t, err, ErrChannelUnassigned)
}
