package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSendPostsPayload(t *testing.T) {
	var got message
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSendPulse(srv.URL, "secret", zap.NewNop())
	err := s.Send(context.Background(), "contact-77", "Записала вас на 14:00", "https://cdn.example/pic.jpg")
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "contact-77", got.ContactID)
	assert.Equal(t, "Записала вас на 14:00", got.Message)
	assert.Equal(t, "https://cdn.example/pic.jpg", got.ImageURL)
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSendPulse(srv.URL, "", zap.NewNop())
	err := s.Send(context.Background(), "contact-77", "текст", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSendUnconfiguredIsNoop(t *testing.T) {
	s := NewSendPulse("", "", zap.NewNop())
	assert.NoError(t, s.Send(context.Background(), "contact-77", "текст", ""))
}
