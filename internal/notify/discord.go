package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/webhook"
)

const (
	colorSuccess = 0x2ECC71
	colorError   = 0xE74C3C
	colorMuted   = 0x95A5A6
)

// Discord posts an embed for every finished queue job. Other events are
// ignored. Posting happens on a background goroutine.
type Discord struct {
	client *webhook.Client
	send   func(discord.Embed) error
	logger *slog.Logger
}

func NewDiscord(webhookURL string, logger *slog.Logger) (*Discord, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	client, err := webhook.NewWithURL(webhookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Discord{client: client, logger: logger}
	d.send = func(e discord.Embed) error {
		_, err := client.CreateEmbeds([]discord.Embed{e})
		return err
	}
	return d, nil
}

func (d *Discord) Broadcast(event string, payload any) {
	if event != EventJob {
		return
	}
	n, ok := payload.(JobNotice)
	if !ok {
		return
	}
	embed := JobEmbed(n, time.Now())
	go func() {
		if err := d.send(embed); err != nil {
			d.logger.Warn("Failed to post Discord notification", "profile", n.ProfileName, "app_id", n.AppID, "error", err)
		}
	}()
}

// JobEmbed renders a job notice.
func JobEmbed(n JobNotice, at time.Time) discord.Embed {
	color := colorMuted
	title := "Update " + n.Status
	switch n.Status {
	case "Completed":
		color = colorSuccess
		title = "Update completed"
	case "Error":
		color = colorError
		title = "Update failed"
	}
	b := discord.NewEmbedBuilder().
		SetTitle(title).
		SetDescription(fmt.Sprintf("**%s** (`%s`)", n.AppName, n.AppID)).
		AddField("Profile", n.ProfileName, true).
		AddField("Status", n.Status, true).
		SetColor(color).
		SetTimestamp(at)
	if n.Error != "" {
		b = b.AddField("Error", n.Error, false)
	}
	return b.Build()
}

func (d *Discord) Close(ctx context.Context) {
	if d.client != nil {
		d.client.Close(ctx)
	}
}
