package debugchan

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeOffSuppressesEmit(t *testing.T) {
	c := NewChannel(ModeOff)
	defer c.Close()
	sub := c.Subscribe()
	defer c.Unsubscribe(sub)

	c.Emit(OpcodeFrame("NOP", 0, 0, 0))

	select {
	case <-sub.Frames:
		t.Fatal("mode=off must produce zero debug frames")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitAlwaysIgnoresMode(t *testing.T) {
	c := NewChannel(ModeOff)
	defer c.Close()
	sub := c.Subscribe()
	defer c.Unsubscribe(sub)

	c.EmitAlways(AckFrame("get_status", "ok"))

	select {
	case f := <-sub.Frames:
		assert.Equal(t, TagAck, f.Tag)
	case <-time.After(time.Second):
		t.Fatal("expected an ack frame regardless of mode")
	}
}

func TestVerboseModeDeliversOpcodeFrames(t *testing.T) {
	c := NewChannel(ModeVerbose)
	defer c.Close()
	sub := c.Subscribe()
	defer c.Unsubscribe(sub)

	c.Emit(OpcodeFrame("ADD", 4, 2, 7))

	select {
	case f := <-sub.Frames:
		assert.Equal(t, TagOpcode, f.Tag)
		assert.Equal(t, "ADD", f.Fields["op"])
	case <-time.After(time.Second):
		t.Fatal("expected an opcode frame in verbose mode")
	}
}

func TestSetModeIsLive(t *testing.T) {
	c := NewChannel(ModeOff)
	defer c.Close()
	assert.Equal(t, ModeOff, c.Mode())
	c.SetMode(ModeSummary)
	assert.Equal(t, ModeSummary, c.Mode())
}

func TestDispatchWatchAddSucceedsRegardlessOfMode(t *testing.T) {
	c := NewChannel(ModeOff)
	defer c.Close()
	sub := c.Subscribe()
	defer c.Unsubscribe(sub)

	var added []uint32
	h := Handlers{
		WatchAdd: func(addr uint32) error {
			added = append(added, addr)
			return nil
		},
	}

	frame := c.Dispatch(h, Command{Name: "watch_add", Args: map[string]interface{}{"addr": float64(0x2000)}})
	assert.Equal(t, TagAck, frame.Tag)
	require.Len(t, added, 1)
	assert.Equal(t, uint32(0x2000), added[0])

	select {
	case f := <-sub.Frames:
		assert.Equal(t, TagAck, f.Tag)
	case <-time.After(time.Second):
		t.Fatal("expected the ack frame to be delivered even though mode is off")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	c := NewChannel(ModeSummary)
	defer c.Close()

	frame := c.Dispatch(Handlers{}, Command{Name: "not_a_command"})
	assert.Equal(t, TagAck, frame.Tag)
	assert.Equal(t, "not_a_command", frame.Fields["cmd"])
	assert.Contains(t, frame.Fields["val"], "unknown command")
}

func TestSubscriberCount(t *testing.T) {
	c := NewChannel(ModeOff)
	defer c.Close()
	assert.Equal(t, 0, c.SubscriberCount())

	sub1 := c.Subscribe()
	assert.Equal(t, 1, c.SubscriberCount())

	sub2 := c.Subscribe()
	assert.Equal(t, 2, c.SubscriberCount())

	c.Unsubscribe(sub1)
	assert.Equal(t, 1, c.SubscriberCount())

	c.Unsubscribe(sub2)
	assert.Equal(t, 0, c.SubscriberCount())
}

func TestSubscriberCountAfterClose(t *testing.T) {
	c := NewChannel(ModeOff)
	c.Subscribe()
	c.Close()
	assert.Equal(t, 0, c.SubscriberCount())
}

func TestWriteLinesEncodesOneFramePerLine(t *testing.T) {
	c := NewChannel(ModeVerbose)
	defer c.Close()
	sub := c.Subscribe()

	c.Emit(OpcodeFrame("NOP", 0, 0, 0))
	c.Emit(OpcodeFrame("HALT", 1, 0, 0))

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- WriteLines(&buf, sub) }()

	time.Sleep(50 * time.Millisecond)
	c.Unsubscribe(sub)
	require.NoError(t, <-done)

	lines := bytes.Split(bytes.TrimRight(buf.Bytes(), "\n"), []byte("\n"))
	require.Len(t, lines, 2)
	var f Frame
	require.NoError(t, json.Unmarshal(lines[0], &f))
	assert.Equal(t, TagOpcode, f.Tag)
}
