package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/clipdex/clipdex/errors"
)

// WebSocket timeouts following the Gorilla chat example.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// progressInterval is how often a connected client receives a
	// progress snapshot while a job is live.
	progressInterval = 500 * time.Millisecond

	maxMessageSize = 4096
)

// handleWebSocket streams progress snapshots to the owner until the
// tracked job reaches a terminal state or the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		s.writeError(w, errors.ErrUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "owner_id", owner, "error", err)
		return
	}

	client := &wsClient{server: s, conn: conn, owner: owner, done: make(chan struct{})}
	s.log.Debugw("websocket client connected", "owner_id", owner)
	go client.readPump()
	client.writePump()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

type wsClient struct {
	server *Server
	conn   *websocket.Conn
	owner  string
	done   chan struct{}
}

// readPump drains the connection so pongs and close frames are
// processed; the progress stream is one-way.
func (c *wsClient) readPump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived,
			) {
				c.server.log.Warnw("websocket read error", "owner_id", c.owner, "error", err)
			}
			return
		}
	}
}

// writePump pushes a progress snapshot at a fixed interval and pings to
// keep the connection alive. After a terminal status is observed the
// final snapshot is sent and the stream is closed cleanly.
func (c *wsClient) writePump() {
	pingTicker := time.NewTicker(pingPeriod)
	pollTicker := time.NewTicker(progressInterval)
	defer func() {
		pingTicker.Stop()
		pollTicker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case <-c.server.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-pollTicker.C:
			prog, err := c.server.progress.Get(c.server.ctx, c.owner)
			if err != nil {
				c.server.log.Warnw("failed to read progress for stream", "owner_id", c.owner, "error", err)
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(prog); err != nil {
				c.server.log.Debugw("websocket write error", "owner_id", c.owner, "error", err)
				return
			}

			if prog.Status.Terminal() {
				c.server.log.Debugw("progress stream finished", "owner_id", c.owner, "status", prog.Status)
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(prog.Status)))
				return
			}
		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
