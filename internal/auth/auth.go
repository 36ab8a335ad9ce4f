package auth

import (
	"context"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName = "fishtrip-session"
	userIDKey   = "user_id"
)

type contextKey struct{}

// Sessions resolves the acting user from a signed cookie session.
type Sessions struct {
	store sessions.Store
}

func New(secret string) *Sessions {
	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Sessions{store: store}
}

// SignIn stores userID in the session cookie.
func (s *Sessions) SignIn(w http.ResponseWriter, r *http.Request, userID string) error {
	session, _ := s.store.Get(r, sessionName)
	session.Values[userIDKey] = userID
	return session.Save(r, w)
}

func (s *Sessions) SignOut(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.store.Get(r, sessionName)
	delete(session.Values, userIDKey)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// UserID returns the signed-in user or "".
func (s *Sessions) UserID(r *http.Request) string {
	if id := FromContext(r.Context()); id != "" {
		return id
	}
	session, err := s.store.Get(r, sessionName)
	if err != nil {
		return ""
	}
	id, _ := session.Values[userIDKey].(string)
	return id
}

// Middleware puts the session user, when there is one, on the request context.
// It never rejects a request; handlers decide what needs a user.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := s.UserID(r); id != "" {
			r = r.WithContext(WithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
