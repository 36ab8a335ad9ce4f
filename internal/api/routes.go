package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router builds the full route table. Session resolution runs on every route;
// it never rejects anonymous requests.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.sessions.Middleware)

	r.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", h.Readyz).Methods(http.MethodGet)

	limited := BodyLimit(maxBodyBytes)
	r.Handle("/login", limited(http.HandlerFunc(h.Login))).Methods(http.MethodPost)
	r.Handle("/register", limited(http.HandlerFunc(h.Register))).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
	r.HandleFunc("/ws", h.WebSocket).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/achievements/events", limited(http.HandlerFunc(h.TriggerEvent))).Methods(http.MethodPost)
	api.Handle("/achievements/track", limited(http.HandlerFunc(h.TrackProgress))).Methods(http.MethodPut)
	api.HandleFunc("/achievements/stream", h.Stream).Methods(http.MethodGet)
	api.HandleFunc("/me/achievements", h.ListMyAchievements).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/achievements", h.ListUserAchievements).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/achievements/initialize", h.InitializeUser).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/profile", h.GetProfile).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/activities", h.GetActivities).Methods(http.MethodGet)
	api.Handle("/notifications/push", limited(http.HandlerFunc(h.Push))).Methods(http.MethodPost)

	return r
}
