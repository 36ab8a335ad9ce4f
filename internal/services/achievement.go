package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tahcohcat/fishtrip-achievements/internal/database"
	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

var (
	ErrInvalidIncrement   = errors.New("increment must be at least 1")
	ErrUnknownAchievement = errors.New("unknown achievement type")
)

// UnknownAchievementError is returned where an unknown type must fail the call.
type UnknownAchievementError struct {
	Type       string
	Suggestion string
}

func (e *UnknownAchievementError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("unknown achievement type %q (did you mean %q?)", e.Type, e.Suggestion)
	}
	return fmt.Sprintf("unknown achievement type %q", e.Type)
}

func (e *UnknownAchievementError) Unwrap() error {
	return ErrUnknownAchievement
}

type IncrementStatus string

const (
	StatusApplied            IncrementStatus = "applied"
	StatusAlreadyUnlocked    IncrementStatus = "alreadyUnlocked"
	StatusUnknownAchievement IncrementStatus = "unknownAchievement"
)

type IncrementResult struct {
	AchievementType string          `json:"achievementType"`
	Status          IncrementStatus `json:"status"`
	Progress        int             `json:"progress"`
	MaxProgress     int             `json:"maxProgress"`
	Unlocked        bool            `json:"unlocked"`
	JustUnlocked    bool            `json:"justUnlocked"`
	UnlockedAt      *time.Time      `json:"unlockedAt,omitempty"`
}

// Broadcaster hands a message to the fan-out and reports connections reached.
type Broadcaster interface {
	Deliver(ctx context.Context, userID string, msg models.Message) int
}

type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

type Ledger interface {
	AwardExperience(ctx context.Context, userID, achievementType string, rarity models.Rarity) (int, error)
}

type AchievementDeps struct {
	DB          *database.DB // activity log; optional
	Catalog     *Catalog
	Store       ProgressStore
	Ledger      Ledger
	Users       UserDirectory
	Broadcaster Broadcaster
	Notifier    Notifier
	Tasks       *TaskRunner
	Retries     int
	Now         func() time.Time
}

type AchievementService struct {
	db       *database.DB
	catalog  *Catalog
	store    ProgressStore
	ledger   Ledger
	users    UserDirectory
	fanout   Broadcaster
	notifier Notifier
	tasks    *TaskRunner
	retries  int
	now      func() time.Time
	locks    *keyedMutex
	logger   *logger.Log
}

func NewAchievementService(d AchievementDeps) *AchievementService {
	s := &AchievementService{
		db:       d.DB,
		catalog:  d.Catalog,
		store:    d.Store,
		ledger:   d.Ledger,
		users:    d.Users,
		fanout:   d.Broadcaster,
		notifier: d.Notifier,
		tasks:    d.Tasks,
		retries:  d.Retries,
		now:      d.Now,
		locks:    newKeyedMutex(),
		logger:   logger.New().WithField("component", "achievements"),
	}
	if s.retries <= 0 {
		s.retries = 3
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

func (s *AchievementService) Catalog() *Catalog {
	return s.catalog
}

// ApplyIncrement advances one user's progress on one achievement.
func (s *AchievementService) ApplyIncrement(ctx context.Context, userID, achievementType string, amount int) (IncrementResult, error) {
	if amount < 1 {
		return IncrementResult{}, ErrInvalidIncrement
	}
	return s.mutate(ctx, userID, achievementType, func(current int) int { return current + amount })
}

// SetProgress moves progress to an absolute value (e.g. a recomputed species
// count). It never lowers stored progress.
func (s *AchievementService) SetProgress(ctx context.Context, userID, achievementType string, value int) (IncrementResult, error) {
	if value < 0 {
		return IncrementResult{}, fmt.Errorf("absolute progress must not be negative, got %d", value)
	}
	return s.mutate(ctx, userID, achievementType, func(current int) int {
		if value < current {
			return current
		}
		return value
	})
}

func (s *AchievementService) mutate(ctx context.Context, userID, achievementType string, target func(current int) int) (IncrementResult, error) {
	achievement, ok := s.catalog.Lookup(achievementType)
	if !ok {
		s.logger.WithField("user", userID).WithField("achievement", achievementType).Warn("Unknown achievement type, skipping")
		return IncrementResult{AchievementType: achievementType, Status: StatusUnknownAchievement}, nil
	}

	unlock := s.locks.Lock(userID + "\x00" + achievementType)
	defer unlock()

	for attempt := 0; attempt < s.retries; attempt++ {
		current, exists, err := s.store.Get(ctx, userID, achievementType)
		if err != nil {
			return IncrementResult{}, err
		}

		if current.Unlocked {
			return IncrementResult{
				AchievementType: achievementType,
				Status:          StatusAlreadyUnlocked,
				Progress:        current.Progress,
				MaxProgress:     achievement.MaxProgress,
				Unlocked:        true,
				UnlockedAt:      current.UnlockedAt,
			}, nil
		}

		newProgress := target(current.Progress)
		if newProgress > achievement.MaxProgress {
			newProgress = achievement.MaxProgress
		}
		shouldUnlock := newProgress >= achievement.MaxProgress

		if exists && newProgress == current.Progress && !shouldUnlock {
			return IncrementResult{
				AchievementType: achievementType,
				Status:          StatusApplied,
				Progress:        current.Progress,
				MaxProgress:     achievement.MaxProgress,
			}, nil
		}

		now := s.now()
		next := current
		next.Progress = newProgress
		next.Unlocked = shouldUnlock
		next.UpdatedAt = now
		if !exists {
			next.CreatedAt = now
		}
		if shouldUnlock {
			next.UnlockedAt = &now
		}

		var prev *models.UserAchievement
		if exists {
			prev = &current
		}
		err = s.store.Put(ctx, prev, next)
		if errors.Is(err, ErrProgressConflict) {
			s.logger.WithField("user", userID).WithField("achievement", achievementType).Debug("Progress write conflict, retrying")
			continue
		}
		if err != nil {
			return IncrementResult{}, err
		}

		return IncrementResult{
			AchievementType: achievementType,
			Status:          StatusApplied,
			Progress:        newProgress,
			MaxProgress:     achievement.MaxProgress,
			Unlocked:        shouldUnlock,
			JustUnlocked:    shouldUnlock,
			UnlockedAt:      next.UnlockedAt,
		}, nil
	}

	return IncrementResult{}, fmt.Errorf("apply %s for %s: %w", achievementType, userID, ErrProgressConflict)
}

// EventOutcome summarizes one processed event.
type EventOutcome struct {
	Updated       []IncrementResult `json:"updated"`
	NewlyUnlocked int               `json:"newlyUnlocked"`
}

// ProcessEvent classifies an event and applies every resulting increment
// independently. A failing increment is logged and skipped.
func (s *AchievementService) ProcessEvent(ctx context.Context, userID string, ev models.Event) (*EventOutcome, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	outcome := &EventOutcome{Updated: []IncrementResult{}}
	for _, inc := range Classify(ev) {
		res, err := s.ApplyIncrement(ctx, userID, inc.AchievementType, inc.Amount)
		if err != nil {
			s.logger.WithField("user", userID).WithField("event", ev.Type()).WithField("achievement", inc.AchievementType).
				WithError(err).Warn("Failed to apply increment")
			continue
		}
		if res.Status != StatusApplied {
			continue
		}
		outcome.Updated = append(outcome.Updated, res)
		if res.JustUnlocked {
			outcome.NewlyUnlocked++
		}
		s.afterMutation(ctx, userID, res, true)
	}
	return outcome, nil
}

type TrackRequest struct {
	UserID          string
	AchievementType string
	Increment       int
	Notify          bool
}

type TrackOutcome struct {
	Achievement   models.UserAchievementView `json:"achievement"`
	Status        IncrementStatus            `json:"status"`
	NewlyUnlocked bool                       `json:"newlyUnlocked"`
}

// Track applies a manual increment. Unknown types fail the call here.
func (s *AchievementService) Track(ctx context.Context, req TrackRequest) (*TrackOutcome, error) {
	achievement, ok := s.catalog.Lookup(req.AchievementType)
	if !ok {
		return nil, &UnknownAchievementError{Type: req.AchievementType, Suggestion: s.catalog.Suggest(req.AchievementType)}
	}
	if err := s.requireUser(ctx, req.UserID); err != nil {
		return nil, err
	}

	res, err := s.ApplyIncrement(ctx, req.UserID, req.AchievementType, req.Increment)
	if err != nil {
		return nil, err
	}
	s.afterMutation(ctx, req.UserID, res, req.Notify)

	return &TrackOutcome{
		Achievement: models.UserAchievementView{
			Achievement:     achievement,
			Progress:        res.Progress,
			Unlocked:        res.Unlocked,
			UnlockedAt:      res.UnlockedAt,
			ProgressPercent: models.Percent(res.Progress, achievement.MaxProgress),
		},
		Status:        res.Status,
		NewlyUnlocked: res.JustUnlocked,
	}, nil
}

// afterMutation runs the derived side effects. None of them can undo the write.
func (s *AchievementService) afterMutation(ctx context.Context, userID string, res IncrementResult, notify bool) {
	achievement, ok := s.catalog.Lookup(res.AchievementType)
	if !ok || res.Status != StatusApplied {
		return
	}
	log := s.logger.WithField("user", userID).WithField("achievement", achievement.Type)

	if !res.JustUnlocked {
		if notify && s.fanout != nil {
			s.fanout.Deliver(ctx, userID, models.Message{
				Type:      models.MessageAchievementProgress,
				Timestamp: s.now(),
				Data: models.ProgressData{
					UserID:          userID,
					AchievementType: achievement.Type,
					Name:            achievement.Name,
					Icon:            achievement.Icon,
					Progress:        res.Progress,
					MaxProgress:     achievement.MaxProgress,
					ProgressPercent: models.Percent(res.Progress, achievement.MaxProgress),
				},
			})
		}
		return
	}

	log.Success(fmt.Sprintf("Unlocked %q", achievement.Name))

	awarded := 0
	if s.ledger != nil {
		points, err := s.ledger.AwardExperience(ctx, userID, achievement.Type, achievement.Rarity)
		if err != nil {
			log.WithError(err).Warn("Failed to award experience")
		}
		awarded = points
	}

	if err := s.RecordActivity(ctx, userID, "achievement_unlocked", fmt.Sprintf("Unlocked \"%s\"", achievement.Name), achievement.Description, achievement.Icon); err != nil {
		log.WithError(err).Warn("Failed to record activity")
	}

	if !notify {
		return
	}

	if s.fanout != nil {
		unlockedAt := s.now()
		if res.UnlockedAt != nil {
			unlockedAt = *res.UnlockedAt
		}
		reached := s.fanout.Deliver(ctx, userID, models.Message{
			Type:      models.MessageAchievementUnlocked,
			Timestamp: s.now(),
			Data: models.UnlockData{
				UserID:           userID,
				AchievementType:  achievement.Type,
				Name:             achievement.Name,
				Description:      achievement.Description,
				Icon:             achievement.Icon,
				Rarity:           achievement.Rarity,
				Category:         achievement.Category,
				ExperienceReward: awarded,
				UnlockedAt:       unlockedAt,
			},
		})
		log.WithField("reached", reached).Debug("Unlock delivered")
	}

	if s.notifier != nil && s.tasks != nil {
		s.tasks.Submit("notify-unlock:"+achievement.Type, func(ctx context.Context) error {
			return s.notifier.NotifyUnlock(ctx, userID, achievement)
		})
	}
}

func (s *AchievementService) requireUser(ctx context.Context, userID string) error {
	if s.users == nil {
		return nil
	}
	ok, err := s.users.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUserNotFound
	}
	return nil
}

type AchievementFilter struct {
	Category     string
	UnlockedOnly bool
}

// GetUserAchievements returns the catalog annotated with the user's progress.
// The summary covers the category scope, before the unlocked-only filter.
func (s *AchievementService) GetUserAchievements(ctx context.Context, userID string, f AchievementFilter) ([]models.UserAchievementView, models.AchievementSummary, error) {
	rows, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, models.AchievementSummary{}, err
	}
	byType := make(map[string]models.UserAchievement, len(rows))
	for _, r := range rows {
		byType[r.AchievementType] = r
	}

	var summary models.AchievementSummary
	views := []models.UserAchievementView{}
	for _, a := range s.catalog.All() {
		if f.Category != "" && a.Category != f.Category {
			continue
		}
		row := byType[a.Type]
		summary.Total++
		if row.Unlocked {
			summary.Unlocked++
		}
		if f.UnlockedOnly && !row.Unlocked {
			continue
		}
		views = append(views, models.UserAchievementView{
			Achievement:     a,
			Progress:        row.Progress,
			Unlocked:        row.Unlocked,
			UnlockedAt:      row.UnlockedAt,
			ProgressPercent: models.Percent(row.Progress, a.MaxProgress),
		})
	}
	summary.ProgressPercent = models.Percent(summary.Unlocked, summary.Total)
	return views, summary, nil
}

// InitializeUser creates zero-progress rows for every catalog entry the user lacks.
func (s *AchievementService) InitializeUser(ctx context.Context, userID string) (int, error) {
	if err := s.requireUser(ctx, userID); err != nil {
		return 0, err
	}
	return s.store.EnsureRows(ctx, userID, s.catalog.Types())
}

// RecordActivity adds a new activity entry for the user
func (s *AchievementService) RecordActivity(ctx context.Context, userID, activityType, title, details, icon string) error {
	if s.db == nil {
		return nil
	}
	query := s.db.Rebind(`
		INSERT INTO achievement_activities (user_id, type, title, details, icon, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query, userID, activityType, title, details, icon, s.now())
	return err
}

// GetRecentActivities returns recent user activities
func (s *AchievementService) GetRecentActivities(ctx context.Context, userID string, limit int) ([]models.AchievementActivity, error) {
	if s.db == nil {
		return []models.AchievementActivity{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	query := s.db.Rebind(`
		SELECT id, user_id, type, title, details, icon, created_at
		FROM achievement_activities
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)

	activities := []models.AchievementActivity{}
	err := s.db.SelectContext(ctx, &activities, query, userID, limit)
	return activities, err
}
