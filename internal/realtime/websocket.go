package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
)

// wsClient mirrors the SSE transport for browsers that prefer a socket.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) Send(msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrTransportClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (c *wsClient) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (s *Streamer) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
				return true
			}
			for _, allowed := range s.cfg.AllowedOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// ServeWS upgrades the request and registers the socket for userID.
func (s *Streamer) ServeWS(w http.ResponseWriter, r *http.Request, userID string, f Filter) {
	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	size := s.cfg.SendBuffer
	if size <= 0 {
		size = 64
	}
	client := &wsClient{conn: conn, send: make(chan []byte, size), done: make(chan struct{})}
	id := s.registry.Register(userID, client, f)
	s.logger.WithField("user", userID).WithField("connection", id).Info("WebSocket client connected")

	if err := client.Send(s.connectedMessage(id, userID)); err != nil {
		s.registry.Unregister(id)
		conn.Close()
		return
	}

	go s.writePump(id, client)
	go s.readPump(id, client)
}

func (s *Streamer) readPump(id string, c *wsClient) {
	defer func() {
		s.registry.Unregister(id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	deadline := 2 * s.cfg.HeartbeatInterval
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		s.registry.Heartbeat(id)
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		// Any client frame counts as liveness; content is ignored.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.WithField("connection", id).WithError(err).Warn("WebSocket read error")
			}
			return
		}
		s.registry.Heartbeat(id)
		c.conn.SetReadDeadline(time.Now().Add(deadline))
	}
}

func (s *Streamer) writePump(id string, c *wsClient) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.WithField("connection", id).WithError(err).Debug("WebSocket write failed")
				s.registry.Unregister(id)
				return
			}

		case <-ticker.C:
			heartbeat, _ := json.Marshal(models.Message{Type: models.MessageHeartbeat, Timestamp: s.now()})
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, heartbeat); err != nil {
				s.registry.Unregister(id)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.registry.Unregister(id)
				return
			}
		}
	}
}
