package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/frankraDIUM/Amazon-Deforestation-Monitoring-Sub-Region-Analysis-Rondonia-Hotspot/internal/properties"
)

const (
	colorRed    = 16711680
	colorGreen  = 65280
	colorYellow = 16776960
)

type DiscordMessage struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

var client = &http.Client{Timeout: 15 * time.Second}

// Send posts message to a Discord webhook. An empty url disables the call.
func Send(url string, message DiscordMessage) error {
	if url == "" {
		return nil
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	resp, err := client.Post(url, "application/json", bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to send Discord notification, status code: %d", resp.StatusCode)
	}
	return nil
}

func SendDiscordErrorNotification(errorMessage string) error {
	return Send(properties.DiscordErrorNotificationUrl(), DiscordMessage{
		Embeds: []DiscordEmbed{{
			Title:       "🚨 Error Notification",
			Description: fmt.Sprintf("An error occurred: %s", errorMessage),
			Color:       colorRed,
		}},
	})
}

func SendDiscordWarnNotification(warnMessage string) error {
	return Send(properties.DiscordErrorNotificationUrl(), DiscordMessage{
		Embeds: []DiscordEmbed{{
			Title:       "⚠️ Warning Notification",
			Description: warnMessage,
			Color:       colorYellow,
		}},
	})
}

func SendDiscordSuccessNotification(successMessage string) error {
	return Send(properties.DiscordSuccessNotificationUrl(), DiscordMessage{
		Embeds: []DiscordEmbed{{
			Title:       "✅ Success Notification",
			Description: successMessage,
			Color:       colorGreen,
		}},
	})
}
