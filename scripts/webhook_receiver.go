// Package main runs a demo webhook receiver that verifies signatures.
package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"

	"signalhook/internal/webhooks"
)

func main() {
	port := os.Getenv("RECEIVER_PORT")
	if port == "" {
		port = "9090"
	}
	secret := os.Getenv("WEBHOOK_SECRET")

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		eventType := r.Header.Get(webhooks.HeaderEventType)
		sig := r.Header.Get(webhooks.HeaderSignature)
		if secret != "" {
			if !webhooks.VerifyHMAC(secret, body, sig) {
				log.Printf("REJECTED %s: bad signature %q", eventType, sig)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		log.Printf("received %s id=%v (%d bytes)", eventType, payload["id"], len(body))
		w.WriteHeader(http.StatusOK)
	})

	log.Printf("webhook receiver listening on :%s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}
