package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tahcohcat/fishtrip-achievements/internal/database"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

// ErrProgressConflict means the row changed between read and conditional write.
var ErrProgressConflict = errors.New("achievement progress changed concurrently")

// ProgressStore owns durability of UserAchievement rows.
type ProgressStore interface {
	// Get returns the row and whether it exists. A missing row is not an error.
	Get(ctx context.Context, userID, achievementType string) (models.UserAchievement, bool, error)
	// Put writes next only if the stored row still equals prev (nil prev: row must not exist).
	// Returns ErrProgressConflict otherwise.
	Put(ctx context.Context, prev *models.UserAchievement, next models.UserAchievement) error
	// EnsureRows creates zero rows for the given types, skipping existing ones.
	EnsureRows(ctx context.Context, userID string, achievementTypes []string) (int, error)
	ListByUser(ctx context.Context, userID string) ([]models.UserAchievement, error)
}

type SQLProgressStore struct {
	db *database.DB
}

func NewSQLProgressStore(db *database.DB) *SQLProgressStore {
	return &SQLProgressStore{db: db}
}

func (s *SQLProgressStore) Get(ctx context.Context, userID, achievementType string) (models.UserAchievement, bool, error) {
	var row models.UserAchievement
	query := s.db.Rebind(`
		SELECT user_id, achievement_type, progress, unlocked, unlocked_at, created_at, updated_at
		FROM user_achievements WHERE user_id = ? AND achievement_type = ?`)

	err := s.db.GetContext(ctx, &row, query, userID, achievementType)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserAchievement{UserID: userID, AchievementType: achievementType}, false, nil
	}
	if err != nil {
		return models.UserAchievement{}, false, fmt.Errorf("failed to get achievement progress: %w", err)
	}
	return row, true, nil
}

func (s *SQLProgressStore) Put(ctx context.Context, prev *models.UserAchievement, next models.UserAchievement) error {
	var (
		res sql.Result
		err error
	)

	if prev == nil {
		query := s.db.Rebind(`
			INSERT INTO user_achievements (user_id, achievement_type, progress, unlocked, unlocked_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, achievement_type) DO NOTHING`)
		res, err = s.db.ExecContext(ctx, query,
			next.UserID, next.AchievementType, next.Progress, next.Unlocked, next.UnlockedAt, next.CreatedAt, next.UpdatedAt)
	} else {
		// Guarded on the values we read: a concurrent writer or an unlock makes this a no-op.
		query := s.db.Rebind(`
			UPDATE user_achievements
			SET progress = ?, unlocked = ?, unlocked_at = ?, updated_at = ?
			WHERE user_id = ? AND achievement_type = ? AND unlocked = FALSE AND progress = ?`)
		res, err = s.db.ExecContext(ctx, query,
			next.Progress, next.Unlocked, next.UnlockedAt, next.UpdatedAt,
			next.UserID, next.AchievementType, prev.Progress)
	}
	if err != nil {
		return fmt.Errorf("failed to write achievement progress: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrProgressConflict
	}
	return nil
}

func (s *SQLProgressStore) EnsureRows(ctx context.Context, userID string, achievementTypes []string) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`
		INSERT INTO user_achievements (user_id, achievement_type, progress, unlocked, unlocked_at, created_at, updated_at)
		VALUES (?, ?, 0, FALSE, NULL, ?, ?)
		ON CONFLICT (user_id, achievement_type) DO NOTHING`)

	now := time.Now().UTC()
	created := 0
	for _, t := range achievementTypes {
		res, err := tx.ExecContext(ctx, query, userID, t, now, now)
		if err != nil {
			return 0, fmt.Errorf("failed to initialize %s: %w", t, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read affected rows: %w", err)
		}
		created += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit initialization: %w", err)
	}
	return created, nil
}

func (s *SQLProgressStore) ListByUser(ctx context.Context, userID string) ([]models.UserAchievement, error) {
	var rows []models.UserAchievement
	query := s.db.Rebind(`
		SELECT user_id, achievement_type, progress, unlocked, unlocked_at, created_at, updated_at
		FROM user_achievements WHERE user_id = ?`)
	if err := s.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list achievement progress: %w", err)
	}
	return rows, nil
}
