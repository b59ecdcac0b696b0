package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"signalhook/internal/config"
	"signalhook/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{Port: "0", RateRPS: 1000, RateBurst: 1000, WebhookTimeoutMs: 2000}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	// tests must not sleep through real backoff
	s.Pub.Deliverer.Sleep = func(time.Duration) {}
	return s
}

func register(t *testing.T, s *Server, email string) string {
	t.Helper()
	body := fmt.Sprintf(`{"email":%q}`, email)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/users", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	s.UsersHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("register: got %d: %s", rr.Code, rr.Body.String())
	}
	var resp model.RegisterResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("register decode: %v", err)
	}
	if resp.APIKey == "" {
		t.Fatal("register: empty api key")
	}
	return resp.APIKey
}

func doJSON(s *Server, h http.HandlerFunc, method, path, key string, body []byte) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	h(rr, req)
	return rr
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	if rr := doJSON(s, s.AlertsHandler, http.MethodGet, "/v1/alerts", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: got %d", rr.Code)
	}
	if rr := doJSON(s, s.AlertsHandler, http.MethodGet, "/v1/alerts", "sk_bogus", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bogus key: got %d", rr.Code)
	}
	key := register(t, s, "t@example.com")
	if rr := doJSON(s, s.AlertsHandler, http.MethodGet, "/v1/alerts", key, nil); rr.Code != http.StatusOK {
		t.Fatalf("valid key: got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAlertLifecycle(t *testing.T) {
	s := newTestServer(t)
	key := register(t, s, "t@example.com")

	rr := doJSON(s, s.AlertsHandler, http.MethodPost, "/v1/alerts", key, []byte(`{"symbol":"aapl","condition":"above","threshold":100}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create alert: got %d: %s", rr.Code, rr.Body.String())
	}
	var a model.Alert
	_ = json.Unmarshal(rr.Body.Bytes(), &a)
	if a.Symbol != "AAPL" || !a.Active {
		t.Fatalf("bad alert: %+v", a)
	}

	rr = doJSON(s, s.AlertsHandler, http.MethodPost, "/v1/alerts", key, []byte(`{"symbol":"AAPL","condition":"sideways","threshold":100}`))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid condition: got %d", rr.Code)
	}

	rr = doJSON(s, s.AlertByIDHandler, http.MethodDelete, "/v1/alerts/"+a.ID, key, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete alert: got %d", rr.Code)
	}
	rr = doJSON(s, s.AlertByIDHandler, http.MethodDelete, "/v1/alerts/"+a.ID, key, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("delete twice: got %d", rr.Code)
	}
}

type triggeredResponse struct {
	Items []model.Alert `json:"items"`
}

func TestQuoteIngestAndTriggeredRead(t *testing.T) {
	s := newTestServer(t)
	key := register(t, s, "t@example.com")

	rr := doJSON(s, s.AlertsHandler, http.MethodPost, "/v1/alerts", key, []byte(`{"symbol":"AAPL","condition":"above","threshold":100}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create alert: %d", rr.Code)
	}

	rr = doJSON(s, s.QuotesHandler, http.MethodPost, "/v1/quotes", key, []byte(`{"symbol":"AAPL","price":105.5}`))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("quote ingest: %d: %s", rr.Code, rr.Body.String())
	}
	var ingest struct {
		AlertsTriggered int `json:"alertsTriggered"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &ingest)
	if ingest.AlertsTriggered != 1 {
		t.Fatalf("alertsTriggered = %d, want 1", ingest.AlertsTriggered)
	}

	// no webhook configured: read must still succeed with the same shape
	rr = doJSON(s, s.TriggeredAlertsHandler, http.MethodGet, "/v1/alerts/triggered", key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("triggered read: %d", rr.Code)
	}
	var tresp triggeredResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &tresp); err != nil {
		t.Fatalf("triggered decode: %v", err)
	}
	if len(tresp.Items) != 1 || tresp.Items[0].Symbol != "AAPL" {
		t.Fatalf("triggered items: %+v", tresp.Items)
	}

	// consumed: second read is empty
	rr = doJSON(s, s.TriggeredAlertsHandler, http.MethodGet, "/v1/alerts/triggered", key, nil)
	_ = json.Unmarshal(rr.Body.Bytes(), &tresp)
	if rr.Code != http.StatusOK || len(tresp.Items) != 0 {
		t.Fatalf("second read: %d %+v", rr.Code, tresp.Items)
	}
}

func waitEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for stream event")
		return Event{}
	}
}

func TestQuoteIngestPublishesStreamEvents(t *testing.T) {
	s := newTestServer(t)
	key := register(t, s, "t@example.com")

	rr := doJSON(s, s.AlertsHandler, http.MethodPost, "/v1/alerts", key, []byte(`{"symbol":"AAPL","condition":"above","threshold":100}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create alert: %d", rr.Code)
	}
	var a model.Alert
	_ = json.Unmarshal(rr.Body.Bytes(), &a)

	ch := s.Broker.Subscribe(a.UserID)
	defer s.Broker.Unsubscribe(a.UserID, ch)

	// below threshold: the price update alone reaches the stream
	doJSON(s, s.QuotesHandler, http.MethodPost, "/v1/quotes", key, []byte(`{"symbol":"AAPL","price":10}`))
	evt := waitEvent(t, ch)
	if evt.Type != "quote.updated" {
		t.Fatalf("expected quote.updated, got %+v", evt)
	}
	if evt.Data["symbol"].(string) != "AAPL" || evt.Data["price"].(float64) != 10 {
		t.Fatalf("bad quote.updated payload: %+v", evt.Data)
	}

	// above threshold: both the trigger and the price move arrive
	doJSON(s, s.QuotesHandler, http.MethodPost, "/v1/quotes", key, []byte(`{"symbol":"AAPL","price":105}`))
	types := map[string]bool{}
	types[waitEvent(t, ch).Type] = true
	types[waitEvent(t, ch).Type] = true
	if !types["alert.triggered"] || !types["quote.updated"] {
		t.Fatalf("expected alert.triggered and quote.updated, got %v", types)
	}
}

func TestWebhookConfigValidation(t *testing.T) {
	s := newTestServer(t)
	key := register(t, s, "t@example.com")

	for _, bad := range []string{`{"url":"ftp://x.example/hook"}`, `{"url":"not a url at all %"}`, `{"url":"http://"}`} {
		rr := doJSON(s, s.WebhookHandler, http.MethodPut, "/v1/webhook", key, []byte(bad))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("bad url %s: got %d", bad, rr.Code)
		}
	}

	rr := doJSON(s, s.WebhookHandler, http.MethodPut, "/v1/webhook", key, []byte(`{"url":"https://hooks.example/in","secret":"s1"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("put config: %d: %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(s, s.WebhookHandler, http.MethodGet, "/v1/webhook", key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get config: %d", rr.Code)
	}
	var cfg model.WebhookConfig
	_ = json.Unmarshal(rr.Body.Bytes(), &cfg)
	if cfg.URL != "https://hooks.example/in" || !cfg.Active {
		t.Fatalf("config: %+v", cfg)
	}
	rr = doJSON(s, s.WebhookHandler, http.MethodDelete, "/v1/webhook", key, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete config: %d", rr.Code)
	}
	rr = doJSON(s, s.WebhookHandler, http.MethodGet, "/v1/webhook", key, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rr.Code)
	}
}

func TestTriggeredReadDeliversWebhook(t *testing.T) {
	s := newTestServer(t)
	key := register(t, s, "t@example.com")

	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("X-Event-Type")
		w.WriteHeader(200)
	}))
	defer srv.Close()

	doJSON(s, s.WebhookHandler, http.MethodPut, "/v1/webhook", key, []byte(fmt.Sprintf(`{"url":%q,"secret":"s1"}`, srv.URL)))
	doJSON(s, s.AlertsHandler, http.MethodPost, "/v1/alerts", key, []byte(`{"symbol":"AAPL","condition":"above","threshold":100}`))
	doJSON(s, s.QuotesHandler, http.MethodPost, "/v1/quotes", key, []byte(`{"symbol":"AAPL","price":101}`))

	rr := doJSON(s, s.TriggeredAlertsHandler, http.MethodGet, "/v1/alerts/triggered", key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("triggered read: %d", rr.Code)
	}
	if gotType != "alert.triggered" {
		t.Fatalf("webhook not delivered, event type %q", gotType)
	}

	rr = doJSON(s, s.DeliveriesHandler, http.MethodGet, "/v1/webhook/deliveries", key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("deliveries: %d", rr.Code)
	}
	var hist struct {
		Items []model.WebhookDelivery `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &hist)
	if len(hist.Items) != 1 || hist.Items[0].Status != model.DeliveryDelivered || hist.Items[0].Attempts != 1 {
		t.Fatalf("history: %+v", hist.Items)
	}
}

func TestTriggeredReadSurvivesWebhookFailure(t *testing.T) {
	s := newTestServer(t)
	key := register(t, s, "t@example.com")

	// destination exists at config time, gone at delivery time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	doJSON(s, s.WebhookHandler, http.MethodPut, "/v1/webhook", key, []byte(fmt.Sprintf(`{"url":%q}`, url)))
	doJSON(s, s.AlertsHandler, http.MethodPost, "/v1/alerts", key, []byte(`{"symbol":"AAPL","condition":"above","threshold":100}`))
	doJSON(s, s.QuotesHandler, http.MethodPost, "/v1/quotes", key, []byte(`{"symbol":"AAPL","price":101}`))

	rr := doJSON(s, s.TriggeredAlertsHandler, http.MethodGet, "/v1/alerts/triggered", key, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("triggered read must not fail with webhook down: %d", rr.Code)
	}
	var tresp triggeredResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &tresp); err != nil || len(tresp.Items) != 1 {
		t.Fatalf("response shape changed: %v %+v", err, tresp.Items)
	}

	rr = doJSON(s, s.DeliveriesHandler, http.MethodGet, "/v1/webhook/deliveries", key, nil)
	var hist struct {
		Items []model.WebhookDelivery `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &hist)
	if len(hist.Items) != 1 || hist.Items[0].Status != model.DeliveryFailed || hist.Items[0].Attempts != model.MaxDeliveryAttempts {
		t.Fatalf("failed delivery not recorded: %+v", hist.Items)
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t)
	key := register(t, s, "t@example.com")
	s.Limiter = NewRateLimiter(1, 2)

	codes := []int{}
	for i := 0; i < 4; i++ {
		rr := doJSON(s, s.AlertsHandler, http.MethodGet, "/v1/alerts", key, nil)
		codes = append(codes, rr.Code)
	}
	limited := 0
	for _, c := range codes {
		if c == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited == 0 {
		t.Fatalf("expected 429 after burst, got %v", codes)
	}
	if codes[0] != http.StatusOK {
		t.Fatalf("first request should pass, got %v", codes)
	}
}
