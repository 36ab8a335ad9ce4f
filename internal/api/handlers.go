package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/go-playground/validator/v10"

	"github.com/tahcohcat/fishtrip-achievements/internal/auth"
	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
	"github.com/tahcohcat/fishtrip-achievements/internal/realtime"
	"github.com/tahcohcat/fishtrip-achievements/internal/services"
)

const maxBodyBytes = 64 << 10

type Pinger interface {
	Ready(ctx context.Context) error
}

type Deps struct {
	Achievements  *services.AchievementService
	Users         *services.UserService
	Ledger        *services.ExperienceLedger
	Fanout        services.Broadcaster
	Streamer      *realtime.Streamer
	Sessions      *auth.Sessions
	DB            Pinger
	PushTokenHash string
}

type Handler struct {
	achievements  *services.AchievementService
	users         *services.UserService
	ledger        *services.ExperienceLedger
	fanout        services.Broadcaster
	streamer      *realtime.Streamer
	sessions      *auth.Sessions
	db            Pinger
	pushTokenHash []byte
	validate      *validator.Validate
	logger        *logger.Log
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		achievements:  d.Achievements,
		users:         d.Users,
		ledger:        d.Ledger,
		fanout:        d.Fanout,
		streamer:      d.Streamer,
		sessions:      d.Sessions,
		db:            d.DB,
		pushTokenHash: []byte(d.PushTokenHash),
		validate:      newValidator(),
		logger:        logger.New().WithField("component", "api"),
	}
}

type eventRequest struct {
	UserID string          `json:"userId" validate:"required"`
	Event  string          `json:"event" validate:"required"`
	Data   json.RawMessage `json:"data"`
}

// POST /api/v1/achievements/events - Classify a domain event and apply its increments
func (h *Handler) TriggerEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if !h.decode(w, r, &req) {
		return
	}

	ev, err := models.DecodeEvent(req.Event, req.Data)
	if err != nil {
		WriteProblem(w, http.StatusBadRequest, "validation failed", "event payload does not match its type",
			map[string][]string{"data": {err.Error()}})
		return
	}
	if unknown, ok := ev.(models.UnknownEvent); ok {
		h.logger.WithField("event", unknown.Name).Warn("Unknown event type, nothing to classify")
	}

	outcome, err := h.achievements.ProcessEvent(r.Context(), req.UserID, ev)
	if errors.Is(err, services.ErrUserNotFound) {
		WriteProblem(w, http.StatusNotFound, "user not found", "no user with id "+req.UserID, nil)
		return
	}
	if err != nil {
		h.internalError(w, err, "Failed to process event")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"updated":       outcome.Updated,
		"newlyUnlocked": outcome.NewlyUnlocked,
	})
}

type trackRequest struct {
	UserID          string `json:"userId" validate:"required"`
	AchievementType string `json:"achievementType" validate:"required"`
	Increment       int    `json:"increment" validate:"min=1"`
	Notify          *bool  `json:"notify"`
}

// PUT /api/v1/achievements/track - Manually advance one achievement
func (h *Handler) TrackProgress(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !h.decode(w, r, &req) {
		return
	}
	notify := req.Notify == nil || *req.Notify

	outcome, err := h.achievements.Track(r.Context(), services.TrackRequest{
		UserID:          req.UserID,
		AchievementType: req.AchievementType,
		Increment:       req.Increment,
		Notify:          notify,
	})

	var unknown *services.UnknownAchievementError
	switch {
	case errors.As(err, &unknown):
		p := Problem{Title: "achievement not found", Status: http.StatusNotFound, Detail: unknown.Error()}
		if unknown.Suggestion != "" {
			p.Meta = map[string]any{"suggestion": unknown.Suggestion}
		}
		writeProblem(w, p)
		return
	case errors.Is(err, services.ErrUserNotFound):
		WriteProblem(w, http.StatusNotFound, "user not found", "no user with id "+req.UserID, nil)
		return
	case errors.Is(err, services.ErrInvalidIncrement):
		WriteProblem(w, http.StatusBadRequest, "validation failed", err.Error(), map[string][]string{"increment": {"min=1"}})
		return
	case err != nil:
		h.internalError(w, err, "Failed to track progress")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"achievement":   outcome.Achievement,
		"status":        outcome.Status,
		"newlyUnlocked": outcome.NewlyUnlocked,
	})
}

// GET /api/v1/users/{userID}/achievements - Catalog annotated with a user's progress
func (h *Handler) ListUserAchievements(w http.ResponseWriter, r *http.Request) {
	h.listAchievements(w, r, mux.Vars(r)["userID"])
}

// GET /api/v1/me/achievements
func (h *Handler) ListMyAchievements(w http.ResponseWriter, r *http.Request) {
	userID := h.sessions.UserID(r)
	if userID == "" {
		WriteProblem(w, http.StatusUnauthorized, "authentication required", "sign in to see your achievements", nil)
		return
	}
	h.listAchievements(w, r, userID)
}

func (h *Handler) listAchievements(w http.ResponseWriter, r *http.Request, userID string) {
	if !h.userExists(w, r, userID) {
		return
	}

	q := r.URL.Query()
	filter := services.AchievementFilter{Category: q.Get("category")}
	if raw := q.Get("unlocked"); raw != "" {
		only, err := strconv.ParseBool(raw)
		if err != nil {
			WriteProblem(w, http.StatusBadRequest, "validation failed", "unlocked must be a boolean",
				map[string][]string{"unlocked": {"boolean"}})
			return
		}
		filter.UnlockedOnly = only
	}

	views, summary, err := h.achievements.GetUserAchievements(r.Context(), userID, filter)
	if err != nil {
		h.internalError(w, err, "Failed to list achievements")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"achievements": views,
		"summary":      summary,
	})
}

// POST /api/v1/users/{userID}/achievements/initialize
func (h *Handler) InitializeUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	created, err := h.achievements.InitializeUser(r.Context(), userID)
	if errors.Is(err, services.ErrUserNotFound) {
		WriteProblem(w, http.StatusNotFound, "user not found", "no user with id "+userID, nil)
		return
	}
	if err != nil {
		h.internalError(w, err, "Failed to initialize achievements")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "created": created})
}

// GET /api/v1/users/{userID}/profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if !h.userExists(w, r, userID) {
		return
	}
	profile, err := h.ledger.GetProfile(r.Context(), userID)
	if err != nil {
		h.internalError(w, err, "Failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "profile": profile})
}

// GET /api/v1/users/{userID}/activities?limit=
func (h *Handler) GetActivities(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	if !h.userExists(w, r, userID) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit > 100 {
		limit = 100
	}
	activities, err := h.achievements.GetRecentActivities(r.Context(), userID, limit)
	if err != nil {
		h.internalError(w, err, "Failed to load activities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "activities": activities})
}

// GET /api/v1/achievements/stream?userId=&categories=&entities=
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	userID, filter, ok := h.streamTarget(w, r)
	if !ok {
		return
	}
	h.streamer.ServeSSE(w, r, userID, filter)
}

// GET /ws?userId=
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	userID, filter, ok := h.streamTarget(w, r)
	if !ok {
		return
	}
	h.streamer.ServeWS(w, r, userID, filter)
}

// streamTarget resolves whose stream to open. A signed-in caller may only
// open their own.
func (h *Handler) streamTarget(w http.ResponseWriter, r *http.Request) (string, realtime.Filter, bool) {
	q := r.URL.Query()
	userID := q.Get("userId")
	if sessionUser := h.sessions.UserID(r); sessionUser != "" {
		if userID != "" && userID != sessionUser {
			WriteProblem(w, http.StatusForbidden, "forbidden", "cannot subscribe to another user's stream", nil)
			return "", realtime.Filter{}, false
		}
		userID = sessionUser
	}
	if userID == "" {
		WriteProblem(w, http.StatusBadRequest, "validation failed", "userId is required",
			map[string][]string{"userId": {"required"}})
		return "", realtime.Filter{}, false
	}
	return userID, realtime.ParseFilter(q.Get("categories"), q.Get("entities")), true
}

type pushRequest struct {
	UserID string                 `json:"userId" validate:"required"`
	Type   string                 `json:"type" validate:"required"`
	Data   map[string]interface{} `json:"data"`
}

// POST /api/v1/notifications/push - Hand a message to the fan-out
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	if len(h.pushTokenHash) == 0 {
		WriteProblem(w, http.StatusForbidden, "push disabled", "no push token is configured", nil)
		return
	}
	token := r.Header.Get("X-Push-Token")
	if token == "" || bcrypt.CompareHashAndPassword(h.pushTokenHash, []byte(token)) != nil {
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", "invalid or missing push token", nil)
		return
	}

	var req pushRequest
	if !h.decode(w, r, &req) {
		return
	}

	reached := h.fanout.Deliver(r.Context(), req.UserID, models.Message{
		Type:      models.MessageType(req.Type),
		Timestamp: time.Now().UTC(),
		Data:      req.Data,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "reached": reached})
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ready(ctx); err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) userExists(w http.ResponseWriter, r *http.Request, userID string) bool {
	ok, err := h.users.UserExists(r.Context(), userID)
	if err != nil {
		h.internalError(w, err, "Failed to look up user")
		return false
	}
	if !ok {
		WriteProblem(w, http.StatusNotFound, "user not found", "no user with id "+userID, nil)
		return false
	}
	return true
}

func (h *Handler) internalError(w http.ResponseWriter, err error, msg string) {
	h.logger.WithError(err).Error(msg)
	WriteProblem(w, http.StatusInternalServerError, "internal error", msg, nil)
}
