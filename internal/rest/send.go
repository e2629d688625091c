package rest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// SendMessage wraps content in a messageML envelope and posts it to the
// stream's message-create endpoint. Content is expected to already be
// messageML-safe.
func (c *Client) SendMessage(ctx context.Context, streamID, content string) error {
	url := strings.ReplaceAll(c.cfg.MessageCreateURL, "{sid}", streamID)
	payload := map[string]string{
		"message": fmt.Sprintf("<messageML>%s</messageML>", content),
	}
	return c.doJSON(ctx, http.MethodPost, url, payload, nil)
}

// SetPresence publishes the bot's presence category, like "AVAILABLE".
func (c *Client) SetPresence(ctx context.Context, category string) error {
	return c.doJSON(ctx, http.MethodPost, c.cfg.PresenceURL, map[string]string{"category": category}, nil)
}
