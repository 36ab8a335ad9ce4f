package client

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

// Notification is one received message as kept in the local inbox.
type Notification struct {
	ID         string         `json:"id"`
	Category   string         `json:"category"`
	Message    models.Message `json:"message"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Read       bool           `json:"read"`
}

// Inbox is a bounded, most-recent-first list of notifications.
type Inbox struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = 50
	}
	return &Inbox{limit: limit}
}

func (b *Inbox) Add(msg models.Message, at time.Time) Notification {
	n := Notification{
		ID:         uuid.NewString(),
		Category:   msg.Category(),
		Message:    msg,
		ReceivedAt: at,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append([]Notification{n}, b.items...)
	if len(b.items) > b.limit {
		b.items = b.items[:b.limit]
	}
	return n
}

func (b *Inbox) Items() []Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notification, len(b.items))
	copy(out, b.items)
	return out
}

func (b *Inbox) UnreadCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, it := range b.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// MarkRead reports whether id was found.
func (b *Inbox) MarkRead(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		if b.items[i].ID == id {
			b.items[i].Read = true
			return true
		}
	}
	return false
}

func (b *Inbox) MarkAllRead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		b.items[i].Read = true
	}
}

func (b *Inbox) Clear() {
	b.mu.Lock()
	b.items = nil
	b.mu.Unlock()
}
