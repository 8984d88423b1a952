package notification

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	t.Parallel()
	var got DiscordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	msg := DiscordMessage{Embeds: []DiscordEmbed{{Title: "t", Description: "loss 1.2 km²", Color: colorGreen}}}
	require.NoError(t, Send(srv.URL, msg))
	assert.Equal(t, msg, got)
}

func TestSend_RejectedStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := Send(srv.URL, DiscordMessage{})
	assert.ErrorContains(t, err, "status code: 400")
}

func TestSend_NoURL(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Send("", DiscordMessage{}))
}

func TestSendDiscordSuccessNotification_UsesEnv(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("DISCORD_SUCCESS_NOTIFICATION_URL", srv.URL)
	t.Setenv("DISCORD_ERROR_NOTIFICATION_URL", "")
	require.NoError(t, SendDiscordSuccessNotification("done"))
	require.NoError(t, SendDiscordErrorNotification("ignored"))
	assert.Equal(t, 1, calls)
}
