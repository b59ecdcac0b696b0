package api

import (
	"encoding/json"
	"net/http"
	"time"

	"signalhook/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"PORT":               s.Cfg.Port,
			"RATE_RPS":           s.Cfg.RateRPS,
			"RATE_BURST":         s.Cfg.RateBurst,
			"WEBHOOK_TIMEOUT_MS": s.Cfg.WebhookTimeoutMs,
			"HAS_DATABASE_URL":   s.Cfg.DatabaseURL != "",
			"HAS_REDIS_URL":      s.Cfg.RedisURL != "",
			"DATA_DIR":           s.Cfg.DataDir,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
}
