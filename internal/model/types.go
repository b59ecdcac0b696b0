// Package model defines the API and persistence types for the signal service.
package model

import "time"

// User is an API consumer. The raw API key is returned exactly once at
// registration; only its SHA-256 hash is persisted.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

type RegisterRequest struct {
	Email string `json:"email"`
}

type RegisterResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	APIKey string `json:"apiKey"`
}

// Quote is the latest observed price for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert condition kinds.
const (
	CondAbove = "above"
	CondBelow = "below"
)

// Alert is a price-threshold rule owned by a user. Once the condition is met
// the alert is marked triggered and stays triggered until consumed by the
// triggered-alerts read endpoint.
type Alert struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Symbol      string     `json:"symbol"`
	Condition   string     `json:"condition"` // above, below
	Threshold   float64    `json:"threshold"`
	Active      bool       `json:"active"`
	Triggered   bool       `json:"triggered"`
	TriggeredAt *time.Time `json:"triggeredAt,omitempty"`
	Price       float64    `json:"price,omitempty"` // price at trigger time
	CreatedAt   time.Time  `json:"createdAt"`
}

type AlertInput struct {
	Symbol    string  `json:"symbol"`
	Condition string  `json:"condition"`
	Threshold float64 `json:"threshold"`
}

// WebhookConfig is the single outbound webhook destination for a user.
type WebhookConfig struct {
	UserID    string    `json:"userId"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type WebhookConfigInput struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

// Delivery statuses. Pending only exists mid-sequence; delivered and failed
// are terminal.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// MaxDeliveryAttempts caps the retry sequence. Backoff between attempts is
// fixed at 1s, 2s, 4s.
const MaxDeliveryAttempts = 3

// MaxDeliveryHistory bounds the per-user delivery history; the oldest
// records are evicted first.
const MaxDeliveryHistory = 50

// WebhookDelivery records one webhook delivery sequence. Immutable once
// status is terminal.
type WebhookDelivery struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	EventType    string     `json:"eventType"`
	URL          string     `json:"url"`
	PayloadSize  int        `json:"payloadSize"`
	Summary      string     `json:"summary,omitempty"`
	Status       string     `json:"status"` // pending, delivered, failed
	ResponseCode int        `json:"responseCode,omitempty"`
	Attempts     int        `json:"attempts"`
	LastError    string     `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}
