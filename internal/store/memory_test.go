package store

import (
	"context"
	"fmt"
	"testing"

	"signalhook/internal/model"
)

func TestMemoryHistoryCapEvictsOldest(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for i := 0; i < model.MaxDeliveryHistory+1; i++ {
		d := model.WebhookDelivery{ID: fmt.Sprintf("d%03d", i), UserID: "u1", Status: model.DeliveryDelivered}
		if err := m.AppendDelivery(ctx, "u1", d); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	items, err := m.ListDeliveries(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != model.MaxDeliveryHistory {
		t.Fatalf("history len = %d, want %d", len(items), model.MaxDeliveryHistory)
	}
	// newest first; the oldest record (d000) must be gone
	for _, d := range items {
		if d.ID == "d000" {
			t.Fatal("oldest record should have been evicted")
		}
	}
	if items[0].ID != fmt.Sprintf("d%03d", model.MaxDeliveryHistory) {
		t.Fatalf("newest-first ordering broken: first is %s", items[0].ID)
	}
}

func TestMemorySingleWebhookConfigPerUser(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	first, err := m.PutWebhookConfig(ctx, "u1", model.WebhookConfigInput{URL: "https://a.example/hook", Secret: "s1"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := m.PutWebhookConfig(ctx, "u1", model.WebhookConfigInput{URL: "https://b.example/hook"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if second.URL != "https://b.example/hook" || second.Secret != "" {
		t.Fatalf("replace did not overwrite: %+v", second)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatal("replace should keep original creation time")
	}
	got, err := m.GetWebhookConfig(ctx, "u1")
	if err != nil || got.URL != second.URL {
		t.Fatalf("get after replace: %v %+v", err, got)
	}
	if err := m.DeleteWebhookConfig(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.GetWebhookConfig(ctx, "u1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryConsumeTriggeredAlerts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a1, _ := m.CreateAlert(ctx, "u1", model.AlertInput{Symbol: "AAPL", Condition: model.CondAbove, Threshold: 100})
	a2, _ := m.CreateAlert(ctx, "u1", model.AlertInput{Symbol: "MSFT", Condition: model.CondBelow, Threshold: 300})

	if err := m.MarkAlertTriggered(ctx, "u1", a1.ID, 101.5); err != nil {
		t.Fatalf("mark: %v", err)
	}
	got, err := m.ConsumeTriggeredAlerts(ctx, "u1")
	if err != nil || len(got) != 1 || got[0].ID != a1.ID {
		t.Fatalf("consume: %v %+v", err, got)
	}
	if got[0].Price != 101.5 || got[0].TriggeredAt == nil {
		t.Fatalf("trigger details missing: %+v", got[0])
	}
	// consumed alerts do not come back
	again, err := m.ConsumeTriggeredAlerts(ctx, "u1")
	if err != nil || len(again) != 0 {
		t.Fatalf("second consume should be empty: %v %+v", err, again)
	}
	// untouched alert still listed and active
	alerts, _ := m.ListAlerts(ctx, "u1")
	for _, a := range alerts {
		if a.ID == a2.ID && (!a.Active || a.Triggered) {
			t.Fatalf("untriggered alert mutated: %+v", a)
		}
	}
}

func TestMemoryUsers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	u, err := m.CreateUser(ctx, "Trader@Example.com", "hash1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u.Email != "trader@example.com" {
		t.Fatalf("email not normalized: %q", u.Email)
	}
	if _, err := m.CreateUser(ctx, "trader@example.com", "hash2"); err != ErrDuplicateEmail {
		t.Fatalf("expected duplicate email error, got %v", err)
	}
	got, err := m.GetUserByKeyHash(ctx, "hash1")
	if err != nil || got.ID != u.ID {
		t.Fatalf("lookup by key hash: %v %+v", err, got)
	}
	if _, err := m.GetUserByKeyHash(ctx, "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
