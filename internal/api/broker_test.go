package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	uid := "u1"
	ch := b.Subscribe(uid)

	evt := Event{Type: "alert.triggered", Data: map[string]any{"symbol": "AAPL"}}
	b.Publish(uid, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["symbol"].(string) != "AAPL" {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	// events for other users are not delivered
	b.Publish("u2", Event{Type: "alert.triggered"})
	select {
	case got := <-ch:
		t.Fatalf("unexpected cross-user event: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	b.Unsubscribe(uid, ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		// acceptable if already drained and closed
	}
}
