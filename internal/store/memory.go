package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"signalhook/internal/model"
)

// Memory is a mutex-guarded in-memory store. It is the default backend when
// neither DATA_DIR nor DATABASE_URL is set, and the one the tests use.
type Memory struct {
	mu        sync.Mutex
	users     map[string]model.User              // id -> user
	byKeyHash map[string]string                  // api key hash -> user id
	byEmail   map[string]string                  // email -> user id
	quotes    map[string]model.Quote             // symbol -> latest quote
	alerts    map[string]model.Alert             // id -> alert
	byUser    map[string][]string                // user id -> alert ids
	cfgs      map[string]model.WebhookConfig     // user id -> webhook config
	history   map[string][]model.WebhookDelivery // user id -> bounded history
}

func NewMemory() *Memory {
	return &Memory{
		users:     map[string]model.User{},
		byKeyHash: map[string]string{},
		byEmail:   map[string]string{},
		quotes:    map[string]model.Quote{},
		alerts:    map[string]model.Alert{},
		byUser:    map[string][]string{},
		cfgs:      map[string]model.WebhookConfig{},
		history:   map[string][]model.WebhookDelivery{},
	}
}

func (m *Memory) CreateUser(ctx context.Context, email, apiKeyHash string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	if _, exists := m.byEmail[email]; exists {
		return model.User{}, ErrDuplicateEmail
	}
	u := model.User{ID: uuid.New().String(), Email: email, APIKeyHash: apiKeyHash, CreatedAt: time.Now().UTC()}
	m.users[u.ID] = u
	m.byKeyHash[apiKeyHash] = u.ID
	m.byEmail[email] = u.ID
	return u, nil
}

func (m *Memory) GetUserByKeyHash(ctx context.Context, keyHash string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKeyHash[keyHash]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *Memory) UpsertQuote(ctx context.Context, q model.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Symbol = strings.ToUpper(q.Symbol)
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	m.quotes[q.Symbol] = q
	return nil
}

func (m *Memory) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[strings.ToUpper(symbol)]
	if !ok {
		return model.Quote{}, ErrNotFound
	}
	return q, nil
}

func (m *Memory) CreateAlert(ctx context.Context, userID string, in model.AlertInput) (model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := model.Alert{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    strings.ToUpper(in.Symbol),
		Condition: in.Condition,
		Threshold: in.Threshold,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	m.alerts[a.ID] = a
	m.byUser[userID] = append(m.byUser[userID], a.ID)
	return a, nil
}

func (m *Memory) ListAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Alert{}
	for _, id := range m.byUser[userID] {
		out = append(out, m.alerts[id])
	}
	return out, nil
}

func (m *Memory) DeleteAlert(ctx context.Context, userID, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok || a.UserID != userID {
		return ErrNotFound
	}
	delete(m.alerts, alertID)
	ids := m.byUser[userID]
	for i, id := range ids {
		if id == alertID {
			m.byUser[userID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) ListActiveAlertsForSymbol(ctx context.Context, symbol string) ([]model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	out := []model.Alert{}
	for _, a := range m.alerts {
		if a.Symbol == symbol && a.Active && !a.Triggered {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) MarkAlertTriggered(ctx context.Context, userID, alertID string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok || a.UserID != userID {
		return ErrNotFound
	}
	now := time.Now().UTC()
	a.Triggered = true
	a.TriggeredAt = &now
	a.Price = price
	m.alerts[alertID] = a
	return nil
}

func (m *Memory) ConsumeTriggeredAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Alert{}
	for _, id := range m.byUser[userID] {
		a := m.alerts[id]
		if a.Triggered && a.Active {
			out = append(out, a)
			a.Active = false
			m.alerts[id] = a
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return triggerTime(out[i]).Before(triggerTime(out[j]))
	})
	return out, nil
}

func (m *Memory) PutWebhookConfig(ctx context.Context, userID string, in model.WebhookConfigInput) (model.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	cfg, exists := m.cfgs[userID]
	if !exists {
		cfg = model.WebhookConfig{UserID: userID, Active: true, CreatedAt: now}
	}
	cfg.URL = in.URL
	cfg.Secret = in.Secret
	if in.Active != nil {
		cfg.Active = *in.Active
	}
	cfg.UpdatedAt = now
	m.cfgs[userID] = cfg
	return cfg, nil
}

func (m *Memory) GetWebhookConfig(ctx context.Context, userID string) (model.WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.cfgs[userID]
	if !ok {
		return model.WebhookConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (m *Memory) DeleteWebhookConfig(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cfgs[userID]; !ok {
		return ErrNotFound
	}
	delete(m.cfgs, userID)
	return nil
}

func (m *Memory) AppendDelivery(ctx context.Context, userID string, d model.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := append(m.history[userID], d)
	if n := len(h) - model.MaxDeliveryHistory; n > 0 {
		h = h[n:]
	}
	m.history[userID] = h
	return nil
}

func (m *Memory) ListDeliveries(ctx context.Context, userID string, limit int) ([]model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[userID]
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	// newest last in storage; return newest first
	out := make([]model.WebhookDelivery, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}
