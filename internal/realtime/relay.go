package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

type envelope struct {
	Origin  string         `json:"origin"`
	UserID  string         `json:"userId"`
	Message models.Message `json:"message"`
}

// Relay fans a delivery out to the other instances through Redis pub/sub.
// Each instance still delivers to its own connections directly.
type Relay struct {
	client  redis.UniversalClient
	channel string
	origin  string
	local   *Registry
	logger  *logger.Log
}

func NewRelay(client redis.UniversalClient, channel string, local *Registry) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		logger:  logger.New().WithField("component", "relay"),
	}
}

// Deliver reaches local connections and publishes for the rest. The returned
// count covers this instance only.
func (r *Relay) Deliver(ctx context.Context, userID string, msg models.Message) int {
	reached := r.local.Deliver(ctx, userID, msg)

	payload, err := json.Marshal(envelope{Origin: r.origin, UserID: userID, Message: msg})
	if err != nil {
		r.logger.WithError(err).Warn("Failed to encode relay envelope")
		return reached
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.WithField("user", userID).WithError(err).Warn("Failed to publish to relay")
	}
	return reached
}

// Run consumes deliveries published by other instances until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.logger.WithField("channel", r.channel).Info("Relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, m.Payload)
		}
	}
}

func (r *Relay) handle(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.WithError(err).Warn("Dropping malformed relay message")
		return
	}
	if env.Origin == r.origin || env.UserID == "" {
		return
	}
	r.local.Deliver(ctx, env.UserID, env.Message)
}
