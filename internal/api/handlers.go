package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signalhook/internal/auth"
	"signalhook/internal/model"
	"signalhook/internal/store"
)

// UsersHandler handles POST /v1/users (registration, unauthenticated). The
// raw API key appears in the response exactly once.
func (s *Server) UsersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid email", "a valid email is required", r.URL.Path)
		return
	}
	rawKey, keyHash, err := auth.NewAPIKey()
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Key generation failed", err.Error(), r.URL.Path)
		return
	}
	u, err := s.Store.CreateUser(r.Context(), email, keyHash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			writeProblem(w, http.StatusConflict, "Email already registered", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Registration failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, model.RegisterResponse{ID: u.ID, Email: u.Email, APIKey: rawKey})
}

// QuotesHandler handles POST /v1/quotes (ingest) and GET /v1/quotes?symbol=.
func (s *Server) QuotesHandler(w http.ResponseWriter, r *http.Request) {
	_, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var q model.Quote
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
		if q.Symbol == "" || q.Price <= 0 {
			writeProblem(w, http.StatusUnprocessableEntity, "Invalid quote", "symbol and positive price required", r.URL.Path)
			return
		}
		fired, err := s.Engine.Evaluate(r.Context(), q)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Quote ingest failed", err.Error(), r.URL.Path)
			return
		}
		watching := map[string]struct{}{}
		for _, a := range fired {
			s.Broker.Publish(a.UserID, Event{Type: "alert.triggered", Data: map[string]any{
				"alertId": a.ID, "symbol": a.Symbol, "condition": a.Condition,
				"threshold": a.Threshold, "price": q.Price,
			}})
			watching[a.UserID] = struct{}{}
		}
		// every user with an alert on the symbol also hears the price move
		if rest, err := s.Store.ListActiveAlertsForSymbol(r.Context(), q.Symbol); err == nil {
			for _, a := range rest {
				watching[a.UserID] = struct{}{}
			}
		}
		for uid := range watching {
			s.Broker.Publish(uid, Event{Type: "quote.updated", Data: map[string]any{"symbol": q.Symbol, "price": q.Price}})
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"symbol": q.Symbol, "price": q.Price, "alertsTriggered": len(fired)})
	case http.MethodGet:
		symbol := r.URL.Query().Get("symbol")
		if symbol == "" {
			writeProblem(w, http.StatusBadRequest, "symbol required", "", r.URL.Path)
			return
		}
		q, err := s.Store.GetQuote(r.Context(), symbol)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeProblem(w, http.StatusNotFound, "Unknown symbol", "", r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Quote lookup failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, q)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
	}
}

// AlertsHandler handles POST /v1/alerts and GET /v1/alerts.
func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var in model.AlertInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateAlertInput(&in); err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "Invalid alert", err.Error(), r.URL.Path)
			return
		}
		a, err := s.Store.CreateAlert(r.Context(), u.ID, in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create alert failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	case http.MethodGet:
		items, err := s.Store.ListAlerts(r.Context(), u.ID)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List alerts failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
	}
}

// AlertByIDHandler handles DELETE /v1/alerts/{id}.
func (s *Server) AlertByIDHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/alerts/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	if err := s.Store.DeleteAlert(r.Context(), u.ID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Alert not found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Delete alert failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TriggeredAlertsHandler handles GET /v1/alerts/triggered. Reading consumes
// the triggered alerts and fires one webhook per alert, inline. Webhook
// outcome never changes the response.
func (s *Server) TriggeredAlertsHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	items, err := s.Store.ConsumeTriggeredAlerts(r.Context(), u.ID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Triggered alerts read failed", err.Error(), r.URL.Path)
		return
	}
	for _, a := range items {
		summary := fmt.Sprintf("%s %s %.2f @ %.2f", a.Symbol, a.Condition, a.Threshold, a.Price)
		s.Pub.Emit(r.Context(), u.ID, "alert.triggered", a, summary)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// WebhookHandler handles PUT/GET/DELETE /v1/webhook (one config per user).
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var in model.WebhookConfigInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateWebhookURL(in.URL); err != nil {
			writeProblem(w, http.StatusUnprocessableEntity, "Invalid webhook URL", err.Error(), r.URL.Path)
			return
		}
		cfg, err := s.Store.PutWebhookConfig(r.Context(), u.ID, in)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Save webhook failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodGet:
		cfg, err := s.Store.GetWebhookConfig(r.Context(), u.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeProblem(w, http.StatusNotFound, "No webhook configured", "", r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Webhook lookup failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, cfg)
	case http.MethodDelete:
		if err := s.Store.DeleteWebhookConfig(r.Context(), u.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeProblem(w, http.StatusNotFound, "No webhook configured", "", r.URL.Path)
				return
			}
			writeProblem(w, http.StatusInternalServerError, "Delete webhook failed", err.Error(), r.URL.Path)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
	}
}

// DeliveriesHandler handles GET /v1/webhook/deliveries (bounded history,
// newest first).
func (s *Server) DeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	u, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	items, err := s.Store.ListDeliveries(r.Context(), u.ID, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	// store reachability probe; a failed lookup other than not-found means the backend is down
	_, err := s.Store.GetUserByKeyHash(r.Context(), "readiness-probe")
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
