package notify

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"regexp"
	"time"
)

// PushMessage is one message for the push provider.
type PushMessage struct {
	Token string         `json:"to"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`
}

// Pusher delivers push messages one-way. Implementations log failures but
// callers never see them: push can never fail the owning job.
type Pusher interface {
	SendAll(msgs []PushMessage)
}

// HTTPPusher posts Expo-style message batches to a push endpoint.
type HTTPPusher struct {
	URL    string
	Client *http.Client
}

func (p *HTTPPusher) SendAll(msgs []PushMessage) {
	if len(msgs) == 0 {
		return
	}
	body, err := json.Marshal(msgs)
	if err != nil {
		log.Printf("push marshal failed: %v", err)
		return
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	go func() {
		resp, err := client.Post(p.URL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("push send failed: %v", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("push send status=%d count=%d", resp.StatusCode, len(msgs))
		}
	}()
}

// NopPusher drops messages; used when no push endpoint is configured.
type NopPusher struct{}

func (NopPusher) SendAll([]PushMessage) {}

var tokenRe = regexp.MustCompile(`^(ExponentPushToken\[[A-Za-z0-9_-]+\]|[a-fA-F0-9]{32,})$`)

// ValidToken filters obviously malformed tokens before wasting a send.
func ValidToken(t string) bool { return tokenRe.MatchString(t) }
