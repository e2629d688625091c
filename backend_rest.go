package symphony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/Point72/csp-adapter-symphony/internal/metrics"
	"github.com/Point72/csp-adapter-symphony/internal/rest"
)

// restBackend implements Backend over Symphony's REST surface: certificate
// session auth, agent datafeed long-polling, room directory and message
// create endpoints.
type restBackend struct {
	client *rest.Client
	policy RetryPolicy // governs datafeed reads, not outbound sends
	logger *slog.Logger
	botUID string
}

// NewBackend builds the REST backend from a validated Config.
func NewBackend(cfg *Config, logger *slog.Logger) (Backend, error) {
	client, err := rest.NewClient(rest.Config{
		AuthHost:           cfg.AuthHost,
		SessionAuthPath:    cfg.SessionAuthPath,
		KeyAuthPath:        cfg.KeyAuthPath,
		MessageCreateURL:   cfg.MessageCreateURL,
		PresenceURL:        cfg.PresenceURL,
		DatafeedCreateURL:  cfg.DatafeedCreateURL,
		DatafeedDeleteURL:  cfg.DatafeedDeleteURL,
		DatafeedReadURL:    cfg.DatafeedReadURL,
		RoomSearchURL:      cfg.RoomSearchURL,
		RoomInfoURL:        cfg.RoomInfoURL,
		RoomMembersURL:     cfg.RoomMembersURL,
		IMCreateURL:        cfg.IMCreateURL,
		SessionInfoURL:     cfg.SessionInfoURL,
		Cert:               cfg.Cert,
		Key:                cfg.Key,
		TrustStore:         cfg.TrustStore,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, logger)
	if err != nil {
		return nil, err
	}
	return &restBackend{
		client: client,
		policy: cfg.RetryPolicy(),
		logger: logger,
	}, nil
}

// classify maps transport and status errors onto the retry taxonomy:
// network-level failures, 429 and 5xx are transient; everything else,
// including auth rejections and malformed requests, is terminal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *rest.StatusError
	if errors.As(err, &se) {
		if se.Status == http.StatusTooManyRequests || se.Status >= 500 {
			return Transient(err)
		}
		return err
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return Transient(err)
	}
	return err
}

func (b *restBackend) Connect(ctx context.Context) error {
	if err := b.client.Authenticate(ctx); err != nil {
		return classify(err)
	}
	uid, err := b.client.BotUserID(ctx)
	if err != nil {
		b.logger.Warn("cannot determine bot user id, skip-own filtering disabled", "error", err)
		return nil
	}
	b.botUID = uid
	return nil
}

func (b *restBackend) Subscribe(ctx context.Context, opts SubscribeOptions) (<-chan []Event, error) {
	var feedID string
	var reused bool
	err := b.policy.Do(ctx, b.logger, func() error {
		var err error
		feedID, reused, err = b.client.CreateDatafeed(ctx)
		return classify(err)
	})
	if err != nil {
		return nil, err
	}
	metrics.DatafeedConnects.Inc()

	ch := make(chan []Event, 16)
	go b.readLoop(ctx, feedID, reused, opts, ch)
	return ch, nil
}

func (b *restBackend) readLoop(ctx context.Context, feedID string, reused bool, opts SubscribeOptions, ch chan<- []Event) {
	defer close(ch)
	defer b.deleteFeed(feedID)

	// A reused feed can deliver events queued before this subscription; the
	// first read drains that backlog when the caller wants live traffic only.
	skipNext := reused && opts.SkipHistory

	ackID := ""
	for ctx.Err() == nil {
		var raw []rest.Event
		err := b.policy.Do(ctx, b.logger, func() error {
			var err error
			raw, ackID, err = b.client.ReadDatafeed(ctx, feedID, ackID)
			return classify(err)
		})
		if err != nil {
			if ctx.Err() == nil {
				b.logger.Error("datafeed read failed, stopping feed", "error", err)
			}
			return
		}

		if skipNext {
			skipNext = false
			if len(raw) > 0 {
				b.logger.Info("dropped backlog from reused datafeed", "events", len(raw))
				continue
			}
		}

		batch := b.translate(raw, opts)
		if len(batch) == 0 {
			continue
		}
		select {
		case ch <- batch:
		case <-ctx.Done():
			return
		}
	}
}

// translate decodes raw datafeed events into backend events, applying
// skip-own filtering. Unknown event and stream types are dropped.
func (b *restBackend) translate(raw []rest.Event, opts SubscribeOptions) []Event {
	var out []Event
	for _, ev := range raw {
		switch ev.Type {
		case string(EventMessageSent):
			if ev.Payload.MessageSent == nil || ev.Payload.MessageSent.Message == nil {
				continue
			}
			m := ev.Payload.MessageSent.Message
			e := Event{
				Type:       EventMessageSent,
				StreamID:   m.Stream.StreamID,
				StreamType: m.Stream.StreamType,
				User:       m.User.DisplayName,
				UserEmail:  m.User.Email,
				UserID:     m.User.UserID.String(),
				Mentions:   m.Mentions(),
				Text:       m.Message,
			}
			e.Own = b.botUID != "" && e.UserID == b.botUID
			if opts.SkipOwnMessages && e.Own {
				continue
			}
			out = append(out, e)

		case string(EventElementsAction):
			if ev.Payload.ElementsAction == nil || ev.Initiator == nil {
				continue
			}
			a := ev.Payload.ElementsAction
			values := make(map[string]string, len(a.FormValues))
			for k, v := range a.FormValues {
				values[k] = toString(v)
			}
			e := Event{
				Type:       EventElementsAction,
				StreamID:   a.Stream.StreamID,
				StreamType: a.Stream.StreamType,
				User:       ev.Initiator.User.DisplayName,
				UserEmail:  ev.Initiator.User.Email,
				UserID:     ev.Initiator.User.UserID.String(),
				FormID:     a.FormID,
				FormValues: values,
			}
			e.Own = b.botUID != "" && e.UserID == b.botUID
			if opts.SkipOwnMessages && e.Own {
				continue
			}
			out = append(out, e)
		}
	}
	return out
}

func (b *restBackend) deleteFeed(feedID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.client.DeleteDatafeed(ctx, feedID); err != nil {
		b.logger.Warn("datafeed delete failed", "id", feedID, "error", err)
		return
	}
	b.logger.Info("deleted datafeed", "id", feedID)
}

func (b *restBackend) Send(ctx context.Context, streamID, messageML string) error {
	return classify(b.client.SendMessage(ctx, streamID, messageML))
}

func (b *restBackend) SetPresence(ctx context.Context, status PresenceStatus) error {
	return classify(b.client.SetPresence(ctx, status.Category()))
}

func (b *restBackend) LookupRoomID(ctx context.Context, name string) (string, error) {
	id, err := b.client.SearchRoomID(ctx, name)
	return id, classify(err)
}

func (b *restBackend) LookupRoomName(ctx context.Context, id string) (string, error) {
	name, err := b.client.RoomName(ctx, id)
	return name, classify(err)
}

func (b *restBackend) CreateIM(ctx context.Context, userIDs []string) (string, error) {
	id, err := b.client.CreateIM(ctx, userIDs)
	return id, classify(err)
}

func (b *restBackend) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	ids, err := b.client.RoomMembers(ctx, roomID)
	return ids, classify(err)
}

func (b *restBackend) Close() error { return nil }

// toString renders a decoded JSON form value as a string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
