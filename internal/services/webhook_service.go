package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"brokerbot/internal/models"
)

// ClaimPayload is the document posted to the claim-filing endpoint when a
// conversation wraps up.
type ClaimPayload struct {
	SessionID  string           `json:"session_id"`
	ClosedAt   time.Time        `json:"closed_at"`
	Transcript []models.Message `json:"transcript"`
}

// WebhookService delivers finished-conversation transcripts to an external
// claim-filing endpoint. Delivery is best effort; failures are logged and
// never surface to the caller.
type WebhookService struct {
	url    string
	client *http.Client
}

// NewWebhookService creates the service. url may be empty, which disables
// delivery entirely.
func NewWebhookService(url string) *WebhookService {
	return &WebhookService{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a delivery endpoint is configured.
func (s *WebhookService) Enabled() bool {
	return s.url != ""
}

// SendClaim posts the transcript. Returns only transport errors so callers
// can log; a nil error means the endpoint accepted the payload.
func (s *WebhookService) SendClaim(ctx context.Context, payload ClaimPayload) error {
	if !s.Enabled() {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode claim payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build claim request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver claim: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("claim endpoint returned %d", resp.StatusCode)
	}
	log.Printf("📨 [WEBHOOK] Claim delivered for session %s", payload.SessionID)
	return nil
}
