package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"signalhook/internal/metrics"
	"signalhook/internal/store"
)

// Publisher sends events to a user's configured webhook and records the
// outcome in their delivery history. Delivery is best-effort: nothing it
// does can fail the triggering request.
type Publisher struct {
	Store     store.Store
	Deliverer *Deliverer
}

func NewPublisher(s store.Store, d *Deliverer) *Publisher {
	return &Publisher{Store: s, Deliverer: d}
}

// Emit delivers one event to the user's webhook, inline, with retries. A
// missing or inactive config is a no-op. The sequence runs to completion
// even if the triggering request goes away.
func (p *Publisher) Emit(ctx context.Context, userID, eventType string, data any, summary string) {
	cfg, err := p.Store.GetWebhookConfig(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("webhooks: config lookup for %s: %v", userID, err)
		}
		return
	}
	if !cfg.Active {
		return
	}
	payload := map[string]any{
		"id":     fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type":   eventType,
		"userId": userID,
		"ts":     time.Now().UTC().Format(time.RFC3339),
		"data":   data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("webhooks: encoding %s payload for %s: %v", eventType, userID, err)
		return
	}

	dctx := context.WithoutCancel(ctx)
	start := time.Now()
	del := p.Deliverer.Deliver(dctx, cfg, eventType, body, summary)
	ms := float64(time.Since(start).Milliseconds())
	metrics.WebhookDeliveries.WithLabelValues(eventType, del.Status).Inc()
	metrics.WebhookLatency.WithLabelValues(eventType, del.Status).Observe(ms)

	if err := p.Store.AppendDelivery(dctx, userID, del); err != nil {
		log.Printf("webhooks: recording delivery %s for %s: %v", del.ID, userID, err)
	}
}
