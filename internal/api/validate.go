package api

import (
	"fmt"
	"net/url"
	"strings"

	"signalhook/internal/model"
)

func validateAlertInput(in *model.AlertInput) error {
	in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
	if in.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if in.Condition != model.CondAbove && in.Condition != model.CondBelow {
		return fmt.Errorf("invalid condition: %s (allowed: above, below)", in.Condition)
	}
	if in.Threshold <= 0 {
		return fmt.Errorf("threshold must be > 0")
	}
	return nil
}

// validateWebhookURL rejects malformed destinations eagerly, at
// configuration time. Delivery-time failures are absorbed by the retry
// sequence instead.
func validateWebhookURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("url host is required")
	}
	return nil
}
