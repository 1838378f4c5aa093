package notify

import (
	"context"
	"fmt"
	"net/http"
)

// Embed colours per event kind.
var discordColors = map[string]int{
	KindTxConfirmed: 0x2ecc71,
	KindTxFailed:    0xe74c3c,
	KindJobFailed:   0xe67e22,
	KindDeployed:    0x3498db,
}

// DiscordSender posts events to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a sender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: defaultHTTPClient}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color,omitempty"`
	Timestamp   string `json:"timestamp,omitempty"`
}

func (d *DiscordSender) Send(ctx context.Context, ev Event) error {
	embed := discordEmbed{
		Title:       ev.Title,
		Description: text(ev),
		Color:       discordColors[ev.Kind],
	}
	if !ev.At.IsZero() {
		embed.Timestamp = ev.At.UTC().Format("2006-01-02T15:04:05Z")
	}
	if err := postJSON(ctx, d.client, d.webhookURL, map[string]any{"embeds": []discordEmbed{embed}}); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
