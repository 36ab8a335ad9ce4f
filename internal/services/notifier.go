package services

import (
	"context"
	"fmt"

	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

// Notifier delivers an out-of-band unlock notice (email in production).
type Notifier interface {
	NotifyUnlock(ctx context.Context, userID string, achievement models.Achievement) error
}

// LogNotifier stands in for the mail service and only logs.
type LogNotifier struct {
	logger *logger.Log
}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logger.New().WithField("component", "notifier")}
}

func (n *LogNotifier) NotifyUnlock(_ context.Context, userID string, achievement models.Achievement) error {
	n.logger.WithField("user", userID).Info(fmt.Sprintf("Would email unlock of %q (%s)", achievement.Name, achievement.Rarity))
	return nil
}
