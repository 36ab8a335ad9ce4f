package models

import "time"

type MessageType string

const (
	MessageConnected           MessageType = "connected"
	MessageHeartbeat           MessageType = "heartbeat"
	MessageAchievementUnlocked MessageType = "achievement_unlocked"
	MessageAchievementProgress MessageType = "achievement_progress"
)

// Message is what the fan-out pushes to a user's live connections.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// Category groups messages for subscription filters. Empty means "all".
func (m Message) Category() string {
	switch m.Type {
	case MessageAchievementUnlocked, MessageAchievementProgress:
		return "achievement"
	case MessageConnected, MessageHeartbeat:
		return "system"
	}
	if data, ok := m.Data.(map[string]interface{}); ok {
		if c, ok := data["category"].(string); ok {
			return c
		}
	}
	return string(m.Type)
}

// UnlockData is denormalized so clients need not query the catalog.
type UnlockData struct {
	UserID           string    `json:"userId"`
	AchievementType  string    `json:"achievementType"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Icon             string    `json:"icon"`
	Rarity           Rarity    `json:"rarity"`
	Category         string    `json:"category"`
	ExperienceReward int       `json:"experienceReward"`
	UnlockedAt       time.Time `json:"unlockedAt"`
}

type ProgressData struct {
	UserID          string  `json:"userId"`
	AchievementType string  `json:"achievementType"`
	Name            string  `json:"name"`
	Icon            string  `json:"icon"`
	Progress        int     `json:"progress"`
	MaxProgress     int     `json:"maxProgress"`
	ProgressPercent float64 `json:"progressPercent"`
}
