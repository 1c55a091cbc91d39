package notify

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// discordRetryWait is how long Send waits before its single retry after a
// 429 from the webhook.
var discordRetryWait = 2 * time.Second

// DiscordSender posts alerts to a Discord channel webhook as one embed each.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender returns a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: &http.Client{Timeout: senderTimeout}}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
	// Empty parse list: question text can never ping @everyone or a role.
	AllowedMentions struct {
		Parse []string `json:"parse"`
	} `json:"allowed_mentions"`
}

// Send posts the alert. A rate-limited post is retried once.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	msg := discordMessage{Embeds: []discordEmbed{{Title: title, Description: message}}}
	msg.AllowedMentions.Parse = []string{}

	err := postJSON(ctx, d.client, d.Name(), d.webhookURL, msg)
	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusTooManyRequests {
		select {
		case <-ctx.Done():
			return err
		case <-time.After(discordRetryWait):
		}
		err = postJSON(ctx, d.client, d.Name(), d.webhookURL, msg)
	}
	return err
}

// Name returns "discord".
func (d *DiscordSender) Name() string { return "discord" }
