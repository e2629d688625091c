package rest

import (
	"context"
	"net/http"
	"strings"
)

// CreateDatafeed returns a datafeed id, reusing an existing feed when the
// agent already has one for this session, otherwise creating a fresh one.
// reused is true when the feed predates this call and may hold backlog.
func (c *Client) CreateDatafeed(ctx context.Context) (id string, reused bool, err error) {
	var existing []struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.cfg.DatafeedCreateURL, nil, &existing); err == nil && len(existing) > 0 {
		c.logger.Info("reusing existing symphony datafeed", "id", existing[0].ID)
		return existing[0].ID, true, nil
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.DatafeedCreateURL, nil, &created); err != nil {
		return "", false, err
	}
	c.logger.Info("created symphony datafeed", "id", created.ID)
	return created.ID, false, nil
}

// ReadDatafeed long-polls the feed once and returns the delivered events
// together with the next ack id.
func (c *Client) ReadDatafeed(ctx context.Context, datafeedID, ackID string) ([]Event, string, error) {
	url := strings.ReplaceAll(c.cfg.DatafeedReadURL, "{datafeed_id}", datafeedID)
	var out struct {
		AckID  string  `json:"ackId"`
		Events []Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodPost, url, map[string]string{"ackId": ackID}, &out); err != nil {
		return nil, ackID, err
	}
	next := out.AckID
	if next == "" {
		next = ackID
	}
	return out.Events, next, nil
}

// DeleteDatafeed removes the feed, normally during shutdown.
func (c *Client) DeleteDatafeed(ctx context.Context, datafeedID string) error {
	url := strings.ReplaceAll(c.cfg.DatafeedDeleteURL, "{datafeed_id}", datafeedID)
	return c.doJSON(ctx, http.MethodDelete, url, nil, nil)
}
