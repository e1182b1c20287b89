// Quill Webhook Receiver Example
//
// This is a minimal example of how to receive Quill cross-post announcements
// on your own endpoint instead of a chat integration.
//
// Usage:
//   go run main.go
//
// Then set QUILL_SOCIAL_WEBHOOK_URL to http://your-server:9000/webhook

package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
)

// Announcement is the payload Quill delivers for each published post.
type Announcement struct {
	Content string `json:"content"`
}

func main() {
	http.HandleFunc("/webhook", webhookHandler)
	http.HandleFunc("/health", healthHandler)

	log.Println("Starting webhook receiver on :9000")
	log.Println("Endpoint: http://localhost:9000/webhook")
	log.Fatal(http.ListenAndServe(":9000", nil))
}

func webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Quill identifies itself; reject anything else.
	if !strings.HasPrefix(r.Header.Get("User-Agent"), "Quill-Social/") {
		http.Error(w, "Unknown sender", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		log.Printf("Error reading body: %v", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var announcement Announcement
	if err := json.Unmarshal(body, &announcement); err != nil {
		log.Printf("Error parsing JSON: %v", err)
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	log.Printf("✓ Received announcement: %s", announcement.Content)

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "received"})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
