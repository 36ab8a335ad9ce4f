package models

import (
	"fmt"
	"strings"
	"time"
)

type Rarity string

const (
	RarityCommon    Rarity = "COMMON"
	RarityUncommon  Rarity = "UNCOMMON"
	RarityRare      Rarity = "RARE"
	RarityEpic      Rarity = "EPIC"
	RarityLegendary Rarity = "LEGENDARY"
	RarityMythic    Rarity = "MYTHIC"
)

// ParseRarity accepts any casing of a known tier.
func ParseRarity(s string) (Rarity, error) {
	r := Rarity(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RarityCommon, RarityUncommon, RarityRare, RarityEpic, RarityLegendary, RarityMythic:
		return r, nil
	}
	return "", fmt.Errorf("unknown rarity %q", s)
}

// Achievement is a catalog entry. Read-only at runtime.
type Achievement struct {
	Type        string    `json:"type" db:"type"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Icon        string    `json:"icon" db:"icon"`
	Category    string    `json:"category" db:"category"` // species, technique, trips, reviews, community, exploration
	Rarity      Rarity    `json:"rarity" db:"rarity"`
	MaxProgress int       `json:"maxProgress" db:"max_progress"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// UserAchievement is the progress row for one (user, achievement) pair.
type UserAchievement struct {
	UserID          string     `json:"userId" db:"user_id"`
	AchievementType string     `json:"achievementType" db:"achievement_type"`
	Progress        int        `json:"progress" db:"progress"`
	Unlocked        bool       `json:"unlocked" db:"unlocked"`
	UnlockedAt      *time.Time `json:"unlockedAt" db:"unlocked_at"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time  `json:"updatedAt" db:"updated_at"`
}

type UserAchievementView struct {
	Achievement
	Progress        int        `json:"progress"`
	Unlocked        bool       `json:"unlocked"`
	UnlockedAt      *time.Time `json:"unlockedAt"`
	ProgressPercent float64    `json:"progressPercent"`
}

type AchievementSummary struct {
	Total           int     `json:"total"`
	Unlocked        int     `json:"unlocked"`
	ProgressPercent float64 `json:"progressPercent"`
}

type AchievementActivity struct {
	ID        int64     `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Type      string    `json:"type" db:"type"` // achievement_unlocked
	Title     string    `json:"title" db:"title"`
	Details   string    `json:"details" db:"details"`
	Icon      string    `json:"icon" db:"icon"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Percent returns progress/max as a 0-100 value rounded to one decimal.
func Percent(progress, max int) float64 {
	if max <= 0 {
		return 0
	}
	if progress >= max {
		return 100
	}
	p := float64(progress) / float64(max) * 100
	return float64(int(p*10+0.5)) / 10
}
