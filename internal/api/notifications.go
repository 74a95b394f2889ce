package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vendor-onboarding/internal/broadcast"
)

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	notifications, err := s.notifications.List(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, notifications)
}

func (s *Server) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	updated, err := s.notifications.MarkRead(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}

	s.hub.Publish(broadcast.EventNotificationUpdated, updated)
	respondJSON(w, http.StatusOK, updated)
}
