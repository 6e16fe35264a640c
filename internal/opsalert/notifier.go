// Package opsalert posts the scheduler's "signer or routing likely down"
// warning to Slack, satisfying pkg/scheduler.Notifier. It is entirely
// optional: with no bot token configured it logs instead of posting.
package opsalert

import (
	"context"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts scheduler warnings to a single configured Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Slack Notifier. If botToken is empty, the notifier
// is a noop that only logs — this is the default for local/dev setups that
// never configured Slack.
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled returns true if the notifier has a live Slack client and a
// destination channel.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// Warn implements scheduler.Notifier. It never returns an error: a failed
// Slack post must not affect the scheduler run that triggered it.
func (n *Notifier) Warn(ctx context.Context, message string) {
	if !n.IsEnabled() {
		n.logger.Warn("scheduler warning (slack notifier disabled)", "message", message)
		return
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(message, false))
	if err != nil {
		n.logger.Error("posting scheduler warning to slack", "error", err)
	}
}
