package store

import (
	"context"
	"errors"
	"time"

	"signalhook/internal/model"
)

// Store is the persistence interface used by the API server. Implementations
// must enforce the one-config-per-user and bounded-history invariants.
type Store interface {
	// Users / API keys
	CreateUser(ctx context.Context, email, apiKeyHash string) (model.User, error)
	GetUserByKeyHash(ctx context.Context, keyHash string) (model.User, error)

	// Quotes
	UpsertQuote(ctx context.Context, q model.Quote) error
	GetQuote(ctx context.Context, symbol string) (model.Quote, error)

	// Alerts
	CreateAlert(ctx context.Context, userID string, in model.AlertInput) (model.Alert, error)
	ListAlerts(ctx context.Context, userID string) ([]model.Alert, error)
	DeleteAlert(ctx context.Context, userID, alertID string) error
	ListActiveAlertsForSymbol(ctx context.Context, symbol string) ([]model.Alert, error)
	MarkAlertTriggered(ctx context.Context, userID, alertID string, price float64) error
	// ConsumeTriggeredAlerts returns triggered-and-unconsumed alerts for the
	// user and marks them consumed (deactivated) in the same call.
	ConsumeTriggeredAlerts(ctx context.Context, userID string) ([]model.Alert, error)

	// Webhook config (at most one per user)
	PutWebhookConfig(ctx context.Context, userID string, in model.WebhookConfigInput) (model.WebhookConfig, error)
	GetWebhookConfig(ctx context.Context, userID string) (model.WebhookConfig, error)
	DeleteWebhookConfig(ctx context.Context, userID string) error

	// Delivery history (bounded, oldest evicted first)
	AppendDelivery(ctx context.Context, userID string, d model.WebhookDelivery) error
	ListDeliveries(ctx context.Context, userID string, limit int) ([]model.WebhookDelivery, error)
}

var ErrNotFound = errors.New("not found")

// triggerTime treats a missing trigger timestamp as the zero time so sorting
// never dereferences a nil pointer from a hand-edited document.
func triggerTime(a model.Alert) time.Time {
	if a.TriggeredAt == nil {
		return time.Time{}
	}
	return *a.TriggeredAt
}

// ErrDuplicateEmail is returned when registration reuses an email.
var ErrDuplicateEmail = errors.New("email already registered")
