package store

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"signalhook/internal/model"
)

// JSONFile persists one JSON document per user plus shared users/quotes
// documents under a data directory. The whole store is serialized behind a
// single mutex; webhook config and history writes share that lock. Known
// scalability ceiling, acceptable at prototype scale.
type JSONFile struct {
	mu  sync.Mutex
	dir string
}

func NewJSONFile(dir string) (*JSONFile, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating data dir")
	}
	return &JSONFile{dir: dir}, nil
}

type userRec struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	APIKeyHash string    `json:"apiKeyHash"`
	CreatedAt  time.Time `json:"createdAt"`
}

type usersDoc struct {
	Users []userRec `json:"users"`
}

type quotesDoc struct {
	Quotes map[string]model.Quote `json:"quotes"`
}

// userDoc is the per-user document: webhook config (or empty), bounded
// delivery history (newest last), and the user's alerts.
type userDoc struct {
	Config  *model.WebhookConfig    `json:"config,omitempty"`
	History []model.WebhookDelivery `json:"history"`
	Alerts  []model.Alert           `json:"alerts"`
}

func (s *JSONFile) usersPath() string         { return filepath.Join(s.dir, "users.json") }
func (s *JSONFile) quotesPath() string        { return filepath.Join(s.dir, "quotes.json") }
func (s *JSONFile) userPath(id string) string { return filepath.Join(s.dir, "user_"+id+".json") }

// readDoc decodes the JSON file at path into v. A missing file leaves v at
// its zero value. A corrupted file is logged and v reset to empty rather
// than failing the request; a wrong-typed document must not leave a partial
// decode behind.
func readDoc[T any](path string, v *T) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading %s", path)
	}
	if err := json.Unmarshal(b, v); err != nil {
		log.Printf("store: corrupted document %s, resetting: %v", path, err)
		var zero T
		*v = zero
	}
	return nil
}

func writeDoc(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(os.Rename(tmp, path), "renaming %s", path)
}

func (s *JSONFile) CreateUser(ctx context.Context, email, apiKeyHash string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	var doc usersDoc
	if err := readDoc(s.usersPath(), &doc); err != nil {
		return model.User{}, err
	}
	for _, u := range doc.Users {
		if u.Email == email {
			return model.User{}, ErrDuplicateEmail
		}
	}
	rec := userRec{ID: uuid.New().String(), Email: email, APIKeyHash: apiKeyHash, CreatedAt: time.Now().UTC()}
	doc.Users = append(doc.Users, rec)
	if err := writeDoc(s.usersPath(), &doc); err != nil {
		return model.User{}, err
	}
	return model.User{ID: rec.ID, Email: rec.Email, APIKeyHash: rec.APIKeyHash, CreatedAt: rec.CreatedAt}, nil
}

func (s *JSONFile) GetUserByKeyHash(ctx context.Context, keyHash string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc usersDoc
	if err := readDoc(s.usersPath(), &doc); err != nil {
		return model.User{}, err
	}
	for _, u := range doc.Users {
		if u.APIKeyHash == keyHash {
			return model.User{ID: u.ID, Email: u.Email, APIKeyHash: u.APIKeyHash, CreatedAt: u.CreatedAt}, nil
		}
	}
	return model.User{}, ErrNotFound
}

func (s *JSONFile) UpsertQuote(ctx context.Context, q model.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc quotesDoc
	if err := readDoc(s.quotesPath(), &doc); err != nil {
		return err
	}
	if doc.Quotes == nil {
		doc.Quotes = map[string]model.Quote{}
	}
	q.Symbol = strings.ToUpper(q.Symbol)
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now().UTC()
	}
	doc.Quotes[q.Symbol] = q
	return writeDoc(s.quotesPath(), &doc)
}

func (s *JSONFile) GetQuote(ctx context.Context, symbol string) (model.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc quotesDoc
	if err := readDoc(s.quotesPath(), &doc); err != nil {
		return model.Quote{}, err
	}
	q, ok := doc.Quotes[strings.ToUpper(symbol)]
	if !ok {
		return model.Quote{}, ErrNotFound
	}
	return q, nil
}

// mutateUser loads the per-user doc, applies fn, and writes it back if fn
// reports a change. Callers hold no other locks.
func (s *JSONFile) mutateUser(userID string, fn func(doc *userDoc) (changed bool, err error)) error {
	var doc userDoc
	if err := readDoc(s.userPath(userID), &doc); err != nil {
		return err
	}
	changed, err := fn(&doc)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return writeDoc(s.userPath(userID), &doc)
}

func (s *JSONFile) CreateAlert(ctx context.Context, userID string, in model.AlertInput) (model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := model.Alert{
		ID:        uuid.New().String(),
		UserID:    userID,
		Symbol:    strings.ToUpper(in.Symbol),
		Condition: in.Condition,
		Threshold: in.Threshold,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	err := s.mutateUser(userID, func(doc *userDoc) (bool, error) {
		doc.Alerts = append(doc.Alerts, a)
		return true, nil
	})
	return a, err
}

func (s *JSONFile) ListAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc userDoc
	if err := readDoc(s.userPath(userID), &doc); err != nil {
		return nil, err
	}
	if doc.Alerts == nil {
		return []model.Alert{}, nil
	}
	return doc.Alerts, nil
}

func (s *JSONFile) DeleteAlert(ctx context.Context, userID, alertID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateUser(userID, func(doc *userDoc) (bool, error) {
		for i, a := range doc.Alerts {
			if a.ID == alertID {
				doc.Alerts = append(doc.Alerts[:i], doc.Alerts[i+1:]...)
				return true, nil
			}
		}
		return false, ErrNotFound
	})
}

func (s *JSONFile) ListActiveAlertsForSymbol(ctx context.Context, symbol string) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	var docIdx usersDoc
	if err := readDoc(s.usersPath(), &docIdx); err != nil {
		return nil, err
	}
	out := []model.Alert{}
	for _, u := range docIdx.Users {
		var doc userDoc
		if err := readDoc(s.userPath(u.ID), &doc); err != nil {
			return nil, err
		}
		for _, a := range doc.Alerts {
			if a.Symbol == symbol && a.Active && !a.Triggered {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *JSONFile) MarkAlertTriggered(ctx context.Context, userID, alertID string, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateUser(userID, func(doc *userDoc) (bool, error) {
		for i, a := range doc.Alerts {
			if a.ID == alertID {
				now := time.Now().UTC()
				a.Triggered = true
				a.TriggeredAt = &now
				a.Price = price
				doc.Alerts[i] = a
				return true, nil
			}
		}
		return false, ErrNotFound
	})
}

func (s *JSONFile) ConsumeTriggeredAlerts(ctx context.Context, userID string) ([]model.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.Alert{}
	err := s.mutateUser(userID, func(doc *userDoc) (bool, error) {
		changed := false
		for i, a := range doc.Alerts {
			if a.Triggered && a.Active {
				out = append(out, a)
				a.Active = false
				doc.Alerts[i] = a
				changed = true
			}
		}
		return changed, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return triggerTime(out[i]).Before(triggerTime(out[j])) })
	return out, nil
}

func (s *JSONFile) PutWebhookConfig(ctx context.Context, userID string, in model.WebhookConfigInput) (model.WebhookConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cfg model.WebhookConfig
	err := s.mutateUser(userID, func(doc *userDoc) (bool, error) {
		now := time.Now().UTC()
		if doc.Config == nil {
			doc.Config = &model.WebhookConfig{UserID: userID, Active: true, CreatedAt: now}
		}
		doc.Config.URL = in.URL
		doc.Config.Secret = in.Secret
		if in.Active != nil {
			doc.Config.Active = *in.Active
		}
		doc.Config.UpdatedAt = now
		cfg = *doc.Config
		return true, nil
	})
	return cfg, err
}

func (s *JSONFile) GetWebhookConfig(ctx context.Context, userID string) (model.WebhookConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc userDoc
	if err := readDoc(s.userPath(userID), &doc); err != nil {
		return model.WebhookConfig{}, err
	}
	if doc.Config == nil {
		return model.WebhookConfig{}, ErrNotFound
	}
	return *doc.Config, nil
}

func (s *JSONFile) DeleteWebhookConfig(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateUser(userID, func(doc *userDoc) (bool, error) {
		if doc.Config == nil {
			return false, ErrNotFound
		}
		doc.Config = nil
		return true, nil
	})
}

func (s *JSONFile) AppendDelivery(ctx context.Context, userID string, d model.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateUser(userID, func(doc *userDoc) (bool, error) {
		doc.History = append(doc.History, d)
		if n := len(doc.History) - model.MaxDeliveryHistory; n > 0 {
			doc.History = doc.History[n:]
		}
		return true, nil
	})
}

func (s *JSONFile) ListDeliveries(ctx context.Context, userID string, limit int) ([]model.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var doc userDoc
	if err := readDoc(s.userPath(userID), &doc); err != nil {
		return nil, err
	}
	h := doc.History
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]model.WebhookDelivery, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}
