package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tahcohcat/fishtrip-achievements/internal/auth"
	"github.com/tahcohcat/fishtrip-achievements/internal/database"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
	"github.com/tahcohcat/fishtrip-achievements/internal/realtime"
	"github.com/tahcohcat/fishtrip-achievements/internal/services"
)

const pushToken = "push-secret"

type apiEnv struct {
	router   http.Handler
	registry *realtime.Registry
	userID   string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewDB(database.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	catalog, err := services.NewCatalog(services.DefaultAchievements())
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	if err := services.SeedCatalog(ctx, db, catalog); err != nil {
		t.Fatalf("seed: %v", err)
	}

	users := services.NewUserService(db)
	u, err := users.CreateUser(ctx, &models.CreateUserRequest{
		Username: "captain", Email: "captain@example.com", Password: "marlin123", DisplayName: "Captain",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	registry := realtime.NewRegistry(realtime.Options{})
	ledger := services.NewExperienceLedger(db)
	achievements := services.NewAchievementService(services.AchievementDeps{
		DB:          db,
		Catalog:     catalog,
		Store:       services.NewSQLProgressStore(db),
		Ledger:      ledger,
		Users:       users,
		Broadcaster: registry,
	})

	hash, err := bcrypt.GenerateFromPassword([]byte(pushToken), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	h := NewHandler(Deps{
		Achievements:  achievements,
		Users:         users,
		Ledger:        ledger,
		Fanout:        registry,
		Streamer:      realtime.NewStreamer(registry, realtime.StreamConfig{HeartbeatInterval: time.Hour}),
		Sessions:      auth.New("api-test-secret-api-test-secret!"),
		DB:            db,
		PushTokenHash: string(hash),
	})
	return &apiEnv{router: h.Router(), registry: registry, userID: u.ID}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestTriggerEventMarlin(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/achievements/events", map[string]interface{}{
		"userId": env.userID,
		"event":  "fish_caught",
		"data":   map[string]interface{}{"fishSpecies": "marlin", "isNewSpecies": true},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Success       bool                       `json:"success"`
		Updated       []services.IncrementResult `json:"updated"`
		NewlyUnlocked int                        `json:"newlyUnlocked"`
	}
	decodeBody(t, rec, &resp)
	if !resp.Success || len(resp.Updated) != 2 || resp.NewlyUnlocked != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestTriggerUnknownEventIsEmpty(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodPost, "/api/v1/achievements/events", map[string]interface{}{
		"userId": env.userID, "event": "foo", "data": map[string]interface{}{"x": 1},
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]json.RawMessage
	decodeBody(t, rec, &resp)
	if string(resp["updated"]) != "[]" {
		t.Fatalf("expected empty updated list, got %s", resp["updated"])
	}
}

func TestTriggerEventErrors(t *testing.T) {
	env := newAPIEnv(t)

	cases := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"malformed json", `{"userId":`, http.StatusBadRequest},
		{"missing event", map[string]interface{}{"userId": env.userID}, http.StatusBadRequest},
		{"wrong payload type", map[string]interface{}{"userId": env.userID, "event": "fish_caught", "data": map[string]interface{}{"isNewSpecies": "yes"}}, http.StatusBadRequest},
		{"unknown user", map[string]interface{}{"userId": "ghost", "event": "trip_completed"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/api/v1/achievements/events", tc.body, nil)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.status, rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
			t.Fatalf("%s: expected problem+json, got %q", tc.name, ct)
		}
	}
}

func TestTrackProgress(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/achievements/track", map[string]interface{}{
		"userId": env.userID, "achievementType": "TUNA_MASTER", "increment": 5,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Achievement   models.UserAchievementView `json:"achievement"`
		NewlyUnlocked bool                       `json:"newlyUnlocked"`
	}
	decodeBody(t, rec, &resp)
	if resp.Achievement.Progress != 3 || !resp.Achievement.Unlocked || !resp.NewlyUnlocked {
		t.Fatalf("unexpected track response %+v", resp)
	}
}

func TestTrackValidationAndNotFound(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPut, "/api/v1/achievements/track", map[string]interface{}{
		"userId": env.userID, "achievementType": "TUNA_MASTER", "increment": 0,
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero increment, got %d", rec.Code)
	}
	var problem Problem
	decodeBody(t, rec, &problem)
	if len(problem.Errors["increment"]) == 0 {
		t.Fatalf("expected a field error for increment, got %+v", problem)
	}

	rec = env.do(t, http.MethodPut, "/api/v1/achievements/track", map[string]interface{}{
		"userId": env.userID, "achievementType": "DORADO_HUNTR", "increment": 1,
	}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown type, got %d", rec.Code)
	}
	problem = Problem{}
	decodeBody(t, rec, &problem)
	if problem.Meta["suggestion"] != "DORADO_HUNTER" {
		t.Fatalf("expected suggestion, got %+v", problem.Meta)
	}
}

func TestListAchievements(t *testing.T) {
	env := newAPIEnv(t)
	env.do(t, http.MethodPut, "/api/v1/achievements/track", map[string]interface{}{
		"userId": env.userID, "achievementType": "LIFESAVER", "increment": 1,
	}, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/users/"+env.userID+"/achievements?category=community&unlocked=true", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Achievements []models.UserAchievementView `json:"achievements"`
		Summary      models.AchievementSummary    `json:"summary"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Achievements) != 1 || resp.Achievements[0].Type != "LIFESAVER" {
		t.Fatalf("unexpected achievements %+v", resp.Achievements)
	}
	if resp.Summary.Total != 5 || resp.Summary.Unlocked != 1 {
		t.Fatalf("unexpected summary %+v", resp.Summary)
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/users/ghost/achievements", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown user, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/v1/users/"+env.userID+"/achievements?unlocked=maybe", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad unlocked flag, got %d", rec.Code)
	}
}

func TestInitializeAndProfile(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/api/v1/users/"+env.userID+"/achievements/initialize", nil, nil)
	var init struct {
		Created int `json:"created"`
	}
	decodeBody(t, rec, &init)
	if init.Created != len(services.DefaultAchievements()) {
		t.Fatalf("expected all rows created, got %d", init.Created)
	}

	env.do(t, http.MethodPut, "/api/v1/achievements/track", map[string]interface{}{
		"userId": env.userID, "achievementType": "MARLIN_LEGEND", "increment": 1,
	}, nil)

	rec = env.do(t, http.MethodGet, "/api/v1/users/"+env.userID+"/profile", nil, nil)
	var resp struct {
		Profile models.UserProfile `json:"profile"`
	}
	decodeBody(t, rec, &resp)
	if resp.Profile.ExperiencePoints != 800 || resp.Profile.Level != 3 {
		t.Fatalf("unexpected profile %+v", resp.Profile)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/users/"+env.userID+"/activities?limit=5", nil, nil)
	var acts struct {
		Activities []models.AchievementActivity `json:"activities"`
	}
	decodeBody(t, rec, &acts)
	if len(acts.Activities) != 1 {
		t.Fatalf("expected one activity, got %+v", acts.Activities)
	}
}

type recordingTransport struct{ got []models.Message }

func (r *recordingTransport) Send(m models.Message) error { r.got = append(r.got, m); return nil }
func (r *recordingTransport) Close() error                { return nil }

func TestPushRequiresToken(t *testing.T) {
	env := newAPIEnv(t)
	body := map[string]interface{}{"userId": env.userID, "type": "trip_reminder", "data": map[string]interface{}{"category": "reminder"}}

	if rec := env.do(t, http.MethodPost, "/api/v1/notifications/push", body, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/v1/notifications/push", body, map[string]string{"X-Push-Token": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/v1/notifications/push", body, map[string]string{"X-Push-Token": pushToken})
	var resp struct {
		Reached int `json:"reached"`
	}
	decodeBody(t, rec, &resp)
	if resp.Reached != 0 {
		t.Fatalf("expected 0 reached with no connections, got %d", resp.Reached)
	}

	tr := &recordingTransport{}
	env.registry.Register(env.userID, tr, realtime.Filter{})
	rec = env.do(t, http.MethodPost, "/api/v1/notifications/push", body, map[string]string{"X-Push-Token": pushToken})
	resp.Reached = 0
	decodeBody(t, rec, &resp)
	if resp.Reached != 1 || len(tr.got) != 1 || tr.got[0].Type != "trip_reminder" {
		t.Fatalf("push not delivered: reached=%d got=%+v", resp.Reached, tr.got)
	}
}

func TestRegisterThenMe(t *testing.T) {
	env := newAPIEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/v1/me/achievements", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/register", map[string]interface{}{
		"username": "deckhand", "email": "deckhand@example.com", "password": "bait123", "displayName": "Deckhand",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me/achievements", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	me := httptest.NewRecorder()
	env.router.ServeHTTP(me, req)
	if me.Code != http.StatusOK {
		t.Fatalf("me status %d: %s", me.Code, me.Body.String())
	}

	bad := env.do(t, http.MethodPost, "/login", map[string]interface{}{"username": "deckhand", "password": "nope"}, nil)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", bad.Code)
	}
	invalid := env.do(t, http.MethodPost, "/register", map[string]interface{}{"username": "x"}, nil)
	if invalid.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid registration, got %d", invalid.Code)
	}
}

func TestHealth(t *testing.T) {
	env := newAPIEnv(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		if rec := env.do(t, http.MethodGet, path, nil, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, rec.Code)
		}
	}
}

func TestStreamRejectsOtherUsersStream(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/register", map[string]interface{}{
		"username": "deckhand", "email": "deckhand@example.com", "password": "bait123", "displayName": "Deckhand",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/achievements/stream?userId="+env.userID, nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	denied := httptest.NewRecorder()
	env.router.ServeHTTP(denied, req)
	if denied.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's stream, got %d", denied.Code)
	}
	if env.registry.ConnectionCount("") != 0 {
		t.Fatal("rejected stream should not register a connection")
	}

	if rec := env.do(t, http.MethodGet, "/api/v1/achievements/stream", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a user, got %d", rec.Code)
	}
}

func TestResponsesUseCamelCaseKeys(t *testing.T) {
	env := newAPIEnv(t)

	rawKeys := func(rec *httptest.ResponseRecorder) map[string]json.RawMessage {
		t.Helper()
		var m map[string]json.RawMessage
		decodeBody(t, rec, &m)
		return m
	}
	object := func(raw json.RawMessage) map[string]json.RawMessage {
		t.Helper()
		var m map[string]json.RawMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		return m
	}
	requireKeys := func(where string, m map[string]json.RawMessage, keys ...string) {
		t.Helper()
		for _, k := range keys {
			if _, ok := m[k]; !ok {
				t.Errorf("%s: missing key %q in %v", where, k, m)
			}
		}
		for k := range m {
			if bytes.ContainsRune([]byte(k), '_') {
				t.Errorf("%s: snake_case key %q", where, k)
			}
		}
	}

	track := rawKeys(env.do(t, http.MethodPut, "/api/v1/achievements/track", map[string]interface{}{
		"userId": env.userID, "achievementType": "DORADO_HUNTER", "increment": 1,
	}, nil))
	requireKeys("track", track, "achievement", "status", "newlyUnlocked")
	requireKeys("track.achievement", object(track["achievement"]), "maxProgress", "progressPercent", "unlockedAt", "createdAt")

	event := rawKeys(env.do(t, http.MethodPost, "/api/v1/achievements/events", map[string]interface{}{
		"userId": env.userID, "event": "fish_caught", "data": map[string]interface{}{"fishSpecies": "dorado"},
	}, nil))
	var updated []json.RawMessage
	if err := json.Unmarshal(event["updated"], &updated); err != nil || len(updated) == 0 {
		t.Fatalf("updated: %s (%v)", event["updated"], err)
	}
	requireKeys("events.updated", object(updated[0]), "achievementType", "maxProgress", "justUnlocked")

	list := rawKeys(env.do(t, http.MethodGet, "/api/v1/users/"+env.userID+"/achievements", nil, nil))
	var items []json.RawMessage
	if err := json.Unmarshal(list["achievements"], &items); err != nil || len(items) == 0 {
		t.Fatalf("achievements: %s (%v)", list["achievements"], err)
	}
	requireKeys("list.achievements", object(items[0]), "maxProgress", "progressPercent")
	requireKeys("list.summary", object(list["summary"]), "total", "unlocked", "progressPercent")
}
