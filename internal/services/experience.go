package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tahcohcat/fishtrip-achievements/internal/database"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

var rarityBonus = map[models.Rarity]int{
	models.RarityCommon:    50,
	models.RarityUncommon:  100,
	models.RarityRare:      200,
	models.RarityEpic:      400,
	models.RarityLegendary: 800,
	models.RarityMythic:    1600,
}

// ExperienceFor returns the bonus for unlocking an achievement of the given rarity.
func ExperienceFor(r models.Rarity) int {
	return rarityBonus[r]
}

// LevelFor derives the level from total experience: 0→1, 100→2, 400→3, 900→4, ...
func LevelFor(points int) int {
	if points <= 0 {
		return 1
	}
	return 1 + int(math.Floor(math.Sqrt(float64(points)/100)))
}

type ExperienceLedger struct {
	db *database.DB
}

func NewExperienceLedger(db *database.DB) *ExperienceLedger {
	return &ExperienceLedger{db: db}
}

// AwardExperience adds the rarity bonus for one unlock to the user's profile.
// The award is keyed by (user, achievement) so a repeated call returns 0 and
// changes nothing.
func (l *ExperienceLedger) AwardExperience(ctx context.Context, userID, achievementType string, rarity models.Rarity) (int, error) {
	points := ExperienceFor(rarity)
	if points == 0 {
		return 0, fmt.Errorf("no experience bonus for rarity %q", rarity)
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO experience_awards (user_id, achievement_type, points, awarded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, achievement_type) DO NOTHING`),
		userID, achievementType, points, now)
	if err != nil {
		return 0, fmt.Errorf("failed to record experience award: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	} else if n == 0 {
		return 0, nil
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO user_profiles (user_id, experience_points, level, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			experience_points = user_profiles.experience_points + excluded.experience_points,
			updated_at = excluded.updated_at`),
		userID, points, LevelFor(points), now)
	if err != nil {
		return 0, fmt.Errorf("failed to update profile experience: %w", err)
	}

	var total int
	if err := tx.GetContext(ctx, &total, tx.Rebind(`SELECT experience_points FROM user_profiles WHERE user_id = ?`), userID); err != nil {
		return 0, fmt.Errorf("failed to read profile experience: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE user_profiles SET level = ? WHERE user_id = ?`), LevelFor(total), userID); err != nil {
		return 0, fmt.Errorf("failed to update profile level: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit experience award: %w", err)
	}
	return points, nil
}

// GetProfile returns the user's experience profile, defaulting to level 1.
func (l *ExperienceLedger) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var p models.UserProfile
	err := l.db.GetContext(ctx, &p, l.db.Rebind(
		`SELECT user_id, experience_points, level, updated_at FROM user_profiles WHERE user_id = ?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.UserProfile{UserID: userID, Level: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}
