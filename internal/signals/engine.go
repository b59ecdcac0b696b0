// Package signals evaluates price quotes against user alert rules.
package signals

import (
	"context"
	"log"

	"signalhook/internal/metrics"
	"signalhook/internal/model"
	"signalhook/internal/store"
)

type Engine struct {
	Store store.Store
}

func NewEngine(s store.Store) *Engine {
	return &Engine{Store: s}
}

// ConditionMet reports whether a quote price satisfies an alert rule.
func ConditionMet(a model.Alert, price float64) bool {
	switch a.Condition {
	case model.CondAbove:
		return price > a.Threshold
	case model.CondBelow:
		return price < a.Threshold
	}
	return false
}

// Evaluate stores the quote and marks every active, untriggered alert on the
// symbol whose condition the new price satisfies. Returns the alerts that
// fired. Webhook delivery happens later, when the owner reads their
// triggered alerts.
func (e *Engine) Evaluate(ctx context.Context, q model.Quote) ([]model.Alert, error) {
	if err := e.Store.UpsertQuote(ctx, q); err != nil {
		return nil, err
	}
	alerts, err := e.Store.ListActiveAlertsForSymbol(ctx, q.Symbol)
	if err != nil {
		return nil, err
	}
	fired := []model.Alert{}
	for _, a := range alerts {
		if !ConditionMet(a, q.Price) {
			continue
		}
		if err := e.Store.MarkAlertTriggered(ctx, a.UserID, a.ID, q.Price); err != nil {
			log.Printf("signals: marking alert %s triggered: %v", a.ID, err)
			continue
		}
		a.Triggered = true
		a.Price = q.Price
		fired = append(fired, a)
		metrics.AlertsTriggered.WithLabelValues(a.Symbol).Inc()
	}
	return fired, nil
}
