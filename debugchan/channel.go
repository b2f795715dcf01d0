package debugchan

import "sync/atomic"

// Subscription is one observer's feed of frames, generalized from the
// teacher's WebSocket Subscription to "one out-of-process observer of
// the debug stream" (file, websocket, TUI pane — the Channel doesn't
// care which).
type Subscription struct {
	Frames chan Frame
}

// Channel is the fan-out broadcaster for debug frames: the
// register/unregister/broadcast goroutine-owned-map shape is the same
// one the teacher uses for WebSocket event distribution, generalized
// from "WebSocket event" to "debug frame".
type Channel struct {
	mode atomic.Int32

	subscriptions map[*Subscription]bool
	broadcast     chan Frame
	register      chan *Subscription
	unregister    chan *Subscription
	countReq      chan chan int
	done          chan struct{}
}

// NewChannel creates and starts a Channel in the given starting mode.
func NewChannel(mode Mode) *Channel {
	c := &Channel{
		subscriptions: make(map[*Subscription]bool),
		broadcast:     make(chan Frame, 256),
		register:      make(chan *Subscription),
		unregister:    make(chan *Subscription),
		countReq:      make(chan chan int),
		done:          make(chan struct{}),
	}
	c.mode.Store(int32(mode))
	go c.run()
	return c
}

func (c *Channel) run() {
	for {
		select {
		case sub := <-c.register:
			c.subscriptions[sub] = true

		case sub := <-c.unregister:
			if c.subscriptions[sub] {
				delete(c.subscriptions, sub)
				close(sub.Frames)
			}

		case reply := <-c.countReq:
			reply <- len(c.subscriptions)

		case frame := <-c.broadcast:
			for sub := range c.subscriptions {
				select {
				case sub.Frames <- frame:
				default:
					// slow observer: drop rather than block the producer
				}
			}

		case <-c.done:
			for sub := range c.subscriptions {
				close(sub.Frames)
			}
			c.subscriptions = make(map[*Subscription]bool)
			return
		}
	}
}

// Mode returns the channel's current verbosity.
func (c *Channel) Mode() Mode {
	return Mode(c.mode.Load())
}

// SetMode switches verbosity live; it never fails (spec §4.5).
func (c *Channel) SetMode(m Mode) {
	c.mode.Store(int32(m))
}

// Subscribe registers a new observer.
func (c *Channel) Subscribe() *Subscription {
	sub := &Subscription{Frames: make(chan Frame, 64)}
	c.register <- sub
	return sub
}

// Unsubscribe removes an observer and closes its channel.
func (c *Channel) Unsubscribe(sub *Subscription) {
	c.unregister <- sub
}

// Close shuts the channel down, closing every subscription.
func (c *Channel) Close() {
	close(c.done)
}

// SubscriberCount reports how many observers are currently attached;
// diagnostic only. Routed through the owning goroutine rather than
// reading the map directly, since the map is otherwise only ever
// touched by run().
func (c *Channel) SubscriberCount() int {
	reply := make(chan int)
	select {
	case c.countReq <- reply:
		return <-reply
	case <-c.done:
		return 0
	}
}

// emit sends frame to every subscriber without blocking the caller.
func (c *Channel) emit(frame Frame) {
	select {
	case c.broadcast <- frame:
	default:
		// broadcaster itself is saturated: drop rather than block
	}
}

// Emit sends an execution-produced frame (opcode/fb/task/cycle/error/
// watch) — a no-op when the channel is off, preserving the "mode=off
// produces zero debug frames" invariant (spec §8).
func (c *Channel) Emit(frame Frame) {
	if c.Mode() == ModeOff {
		return
	}
	c.emit(frame)
}

// EmitAlways sends a channel-handshake or command-response frame
// (ready/ack) regardless of mode: the command surface and boot
// handshake are always live (spec §6).
func (c *Channel) EmitAlways(frame Frame) {
	c.emit(frame)
}
