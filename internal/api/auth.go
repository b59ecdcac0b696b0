// Package api implements HTTP handlers and helpers for the signal service.
package api

import (
	"net/http"

	"signalhook/internal/auth"
	"signalhook/internal/model"
	"signalhook/internal/store"
)

// authenticate resolves the caller from their API key and applies the
// per-key rate limit. Writes the problem response itself and returns ok
// false when the request must not proceed.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (model.User, bool) {
	raw := auth.FromRequest(r)
	if raw == "" {
		writeProblem(w, http.StatusUnauthorized, "Missing API key", "provide Authorization: Bearer sk_... or X-Api-Key", r.URL.Path)
		return model.User{}, false
	}
	hash := auth.HashKey(raw)
	u, err := s.Store.GetUserByKeyHash(r.Context(), hash)
	if err != nil {
		if err == store.ErrNotFound {
			writeProblem(w, http.StatusUnauthorized, "Invalid API key", "", r.URL.Path)
		} else {
			writeProblem(w, http.StatusInternalServerError, "Auth lookup failed", err.Error(), r.URL.Path)
		}
		return model.User{}, false
	}
	if !s.Limiter.Allow(hash) {
		w.Header().Set("Retry-After", "1")
		writeProblem(w, http.StatusTooManyRequests, "Rate limit exceeded", "slow down", r.URL.Path)
		return model.User{}, false
	}
	return u, true
}
