package realtime

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/google/uuid"

	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

var ErrSlowConsumer = errors.New("connection send buffer full")

// queueTransport buffers messages for a writer goroutine owned by a handler.
type queueTransport struct {
	out  chan models.Message
	done chan struct{}
	once sync.Once
}

func newQueueTransport(size int) *queueTransport {
	if size <= 0 {
		size = 64
	}
	return &queueTransport{
		out:  make(chan models.Message, size),
		done: make(chan struct{}),
	}
}

func (q *queueTransport) Send(msg models.Message) error {
	select {
	case <-q.done:
		return ErrTransportClosed
	default:
	}
	select {
	case q.out <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (q *queueTransport) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}

type StreamConfig struct {
	HeartbeatInterval time.Duration
	SendBuffer        int
	AllowedOrigins    []string
}

// Streamer attaches HTTP clients to the registry over SSE or WebSocket.
type Streamer struct {
	registry *Registry
	cfg      StreamConfig
	now      func() time.Time
	logger   *logger.Log
}

func NewStreamer(registry *Registry, cfg StreamConfig) *Streamer {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Streamer{
		registry: registry,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.New().WithField("component", "stream"),
	}
}

// ServeSSE holds a text/event-stream response open for userID until the
// client goes away or the registry evicts the connection.
func (s *Streamer) ServeSSE(w http.ResponseWriter, r *http.Request, userID string, f Filter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	t := newQueueTransport(s.cfg.SendBuffer)
	id := s.registry.Register(userID, t, f)
	defer s.registry.Unregister(id)

	log := s.logger.WithField("user", userID).WithField("connection", id)
	log.Info("SSE client connected")

	write := func(msg models.Message) bool {
		err := sse.Encode(w, sse.Event{Id: uuid.NewString(), Event: string(msg.Type), Data: msg})
		if err != nil {
			log.WithError(err).Debug("SSE write failed")
			return false
		}
		flusher.Flush()
		return true
	}

	if !write(s.connectedMessage(id, userID)) {
		return
	}

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("SSE client disconnected")
			return
		case <-t.done:
			return
		case msg := <-t.out:
			if !write(msg) {
				return
			}
		case <-ticker.C:
			if !write(models.Message{Type: models.MessageHeartbeat, Timestamp: s.now()}) {
				return
			}
			s.registry.Heartbeat(id)
		}
	}
}

func (s *Streamer) connectedMessage(id, userID string) models.Message {
	return models.Message{
		Type:      models.MessageConnected,
		Timestamp: s.now(),
		Data: map[string]interface{}{
			"connectionId": id,
			"userId":       userID,
		},
	}
}
