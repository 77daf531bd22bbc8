// Package delivery pushes bot replies out through the SendPulse callback
// API, the channel the salon uses for Instagram and WhatsApp clients.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SendPulse posts messages to a configured callback URL. With no URL it is
// a logging no-op so the Telegram-only setup keeps working.
type SendPulse struct {
	url    string
	token  string
	client *http.Client
	log    *zap.Logger
}

func NewSendPulse(url, token string, log *zap.Logger) *SendPulse {
	return &SendPulse{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.Named("sendpulse"),
	}
}

type message struct {
	ContactID string `json:"contact_id"`
	Message   string `json:"message"`
	ImageURL  string `json:"image_url,omitempty"`
}

// Send delivers one reply. pic, when set, attaches an image URL.
func (s *SendPulse) Send(ctx context.Context, contactID, text, pic string) error {
	if s.url == "" {
		s.log.Warn("delivery URL not configured, message not sent",
			zap.String("contact_id", contactID),
			zap.String("preview", preview(text)))
		return nil
	}

	body, err := json.Marshal(message{ContactID: contactID, Message: text, ImageURL: pic})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	s.log.Info("sending message", zap.String("contact_id", contactID))
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendpulse request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendpulse status %d: %s", resp.StatusCode, payload)
	}
	return nil
}

func preview(s string) string {
	if len(s) > 100 {
		return s[:100]
	}
	return s
}
