package api

import (
	"encoding/json"
	"net/http"
	"strings"
)

// problemBase prefixes the type URI carried by every error body the API
// emits.
const problemBase = "https://signalhook.example/problems"

// Problem is the RFC7807 body used for every non-2xx response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProblem derives the type URI from the title, e.g. "Rate limit
// exceeded" becomes .../rate-limit-exceeded.
func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     problemBase + "/" + problemSlug(title),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

func problemSlug(title string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "-")
}
