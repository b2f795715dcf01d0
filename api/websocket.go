package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zplc/zplc-core/debugchan"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return isAllowedOrigin(r.Header.Get("Origin"))
	},
}

// handleWebSocket upgrades the connection and streams every debug
// frame (spec §4.5) the channel emits to the client as one JSON
// message per frame, for as long as the connection stays open.
// Generalized from the teacher's api/websocket.go client, which
// fanned out typed VM-state events; here the Channel itself already
// does the fan-out (debugchan.Channel.Subscribe), so the client
// struct only needs a write pump and a read pump for liveness.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: websocket upgrade: %v", err)
		return
	}

	sub := s.debug.Subscribe()
	client := &wsClient{conn: conn, sub: sub, debug: s.debug}

	go client.writePump()
	go client.readPump()
}

type wsClient struct {
	conn  *websocket.Conn
	sub   *debugchan.Subscription
	debug *debugchan.Channel
}

// writePump forwards frames from the subscription to the socket,
// pinging on idle periods to keep intermediaries from closing the
// connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.debug.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.sub.Frames:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to drive the pong/read-deadline liveness
// protocol and to notice the client going away; ZPLC's debug channel
// is not driven by inbound websocket traffic (commands go through
// POST /api/v1/command instead), so any message received here is
// discarded.
func (c *wsClient) readPump() {
	defer func() { _ = c.conn.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("api: websocket read: %v", err)
			}
			return
		}
	}
}
