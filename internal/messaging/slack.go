// Package messaging implements the messaging-platform client on Slack.
// Platform failures are folded into the small error taxonomy the display
// synchronizer branches on: not-found, rate-limited, permission-denied, or
// generic.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/guildtrack/tracker/internal/models"
)

// slackAPI is the subset of *slack.Client this package uses.
type slackAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	DeleteMessageContext(ctx context.Context, channelID, messageTimestamp string) (string, string, error)
	AuthTest() (*slack.AuthTestResponse, error)
}

// Client implements models.MessagingClient on the Slack Web API. Message ids
// are Slack message timestamps, opaque to callers.
type Client struct {
	api slackAPI
}

// NewClient builds a Slack messaging client and verifies the token.
func NewClient(botToken string) (*Client, error) {
	if len(botToken) == 0 {
		return nil, fmt.Errorf("missing Slack bot_token configuration")
	}

	api := slack.New(botToken)
	if _, err := api.AuthTest(); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Slack: %w", err)
	}

	return &Client{api: api}, nil
}

func (c *Client) Send(ctx context.Context, channelID string, content models.PageContent) (string, error) {
	_, timestamp, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionAttachments(renderAttachment(content)))
	if err != nil {
		return "", classify(err)
	}
	return timestamp, nil
}

func (c *Client) Edit(ctx context.Context, channelID, messageID string, content models.PageContent) error {
	_, _, _, err := c.api.UpdateMessageContext(ctx, channelID, messageID,
		slack.MsgOptionAttachments(renderAttachment(content)))
	if err != nil {
		return classify(err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, channelID, messageID string) error {
	_, _, err := c.api.DeleteMessageContext(ctx, channelID, messageID)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (c *Client) SendText(ctx context.Context, channelID, text string) error {
	_, _, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false))
	if err != nil {
		return classify(err)
	}
	return nil
}

// renderAttachment maps a rendered roster page onto a Slack attachment:
// title, accent color, footer, and one short field per column.
func renderAttachment(content models.PageContent) slack.Attachment {
	fields := make([]slack.AttachmentField, 0, len(content.Columns))
	for _, column := range content.Columns {
		fields = append(fields, slack.AttachmentField{
			Title: column.Name,
			Value: strings.Join(column.Lines, "\n"),
			Short: true,
		})
	}

	return slack.Attachment{
		Title:  content.Title,
		Color:  fmt.Sprintf("#%06X", content.Color),
		Footer: content.Footer,
		Fields: fields,
	}
}

// classify folds slack-go errors into the models error taxonomy. The Web API
// reports application errors as bare code strings.
func classify(err error) error {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return &models.RateLimitedError{RetryAfter: rateLimited.RetryAfter}
	}

	switch err.Error() {
	case "message_not_found", "channel_not_found", "thread_not_found":
		return models.ErrNotFound
	case "not_authed", "invalid_auth", "token_revoked", "missing_scope",
		"not_in_channel", "is_archived", "restricted_action", "access_denied",
		"cant_delete_message", "cant_update_message":
		return fmt.Errorf("%w: %s", models.ErrPermissionDenied, err.Error())
	}

	return err
}
