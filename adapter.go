package symphony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Point72/csp-adapter-symphony/internal/metrics"
	"github.com/Point72/csp-adapter-symphony/internal/roomstore"
)

const sendQueueSize = 256

// Adapter bridges a chat Backend to application code: it translates inbound
// platform events into Messages and delivers outbound Messages with retry,
// room resolution and best-effort failure notification.
type Adapter struct {
	backend Backend
	mapper  *RoomMapper
	policy  RetryPolicy
	logger  *slog.Logger

	errorRoom    string
	informClient bool

	queue  chan Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	filter    map[string]struct{} // subscribed stream ids; empty means all
	exitRoom  string              // stream id for the shutdown exit message
	subCancel context.CancelFunc
	store     MappingStore
}

// New validates the config, builds the REST backend and wraps it in an
// Adapter. Connect must still be called before Subscribe or Publish.
func New(cfg *Config, logger *slog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backend, err := NewBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewAdapter(backend, cfg, logger)
}

// NewAdapter wraps an already-constructed Backend. The config supplies the
// retry policy, error-room behavior and optional room-cache persistence.
func NewAdapter(backend Backend, cfg *Config, logger *slog.Logger) (*Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		backend:      backend,
		mapper:       NewRoomMapper(backend),
		policy:       cfg.RetryPolicy(),
		logger:       logger,
		errorRoom:    cfg.ErrorRoom,
		informClient: cfg.InformClient,
		queue:        make(chan Message, sendQueueSize),
	}
	if cfg.RoomCachePath != "" {
		store, err := roomstore.Open(cfg.RoomCachePath, logger)
		if err != nil {
			return nil, err
		}
		if err := a.mapper.WithStore(store); err != nil {
			store.Close()
			return nil, err
		}
		a.store = store
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.wg.Add(1)
	go a.writeLoop()
	return a, nil
}

// RoomMapper exposes the adapter's room identity cache.
func (a *Adapter) RoomMapper() *RoomMapper { return a.mapper }

// Connect establishes the backend session.
func (a *Adapter) Connect(ctx context.Context) error {
	return a.backend.Connect(ctx)
}

// Subscribe starts the inbound feed and returns batches of translated
// Messages. Room names in opts are resolved up front; an unknown room is an
// error. The channel closes when ctx is cancelled or the feed dies; the
// optional exit message is then sent once, best-effort.
func (a *Adapter) Subscribe(ctx context.Context, opts SubscribeOptions) (<-chan []Message, error) {
	filter := make(map[string]struct{}, len(opts.Rooms))
	exitRoom := ""
	for _, room := range opts.Rooms {
		id, err := a.resolveRoom(ctx, room)
		if err != nil {
			return nil, fmt.Errorf("subscribe: %w", err)
		}
		filter[id] = struct{}{}
		if exitRoom == "" {
			exitRoom = id
		}
	}
	subCtx, subCancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.filter = filter
	a.exitRoom = exitRoom
	a.subCancel = subCancel
	a.mu.Unlock()

	events, err := a.backend.Subscribe(subCtx, opts)
	if err != nil {
		subCancel()
		return nil, err
	}

	out := make(chan []Message, 16)
	a.wg.Add(1)
	go a.readLoop(subCtx, events, filter, opts.ExitMessage, out)
	return out, nil
}

// resolveRoom accepts a room name or a bare stream id. Names are tried
// first; a failed name lookup falls back to validating the value as an id.
func (a *Adapter) resolveRoom(ctx context.Context, room string) (string, error) {
	id, err := a.mapper.ResolveRoomID(ctx, room)
	if err == nil {
		return id, nil
	}
	if _, nameErr := a.mapper.ResolveRoomName(ctx, room); nameErr == nil {
		return room, nil
	}
	return "", fmt.Errorf("room %q not found by name or stream id: %w", room, err)
}

func (a *Adapter) readLoop(ctx context.Context, events <-chan []Event, filter map[string]struct{}, exitMsg string, out chan<- []Message) {
	defer a.wg.Done()
	defer close(out)
	defer a.sendExitMessage(exitMsg)

	for batch := range events {
		msgs := make([]Message, 0, len(batch))
		for _, ev := range batch {
			msg, ok := a.translate(ctx, ev, filter)
			if !ok {
				continue
			}
			msgs = append(msgs, msg)
		}
		if len(msgs) == 0 {
			continue
		}
		metrics.MessagesReceived.Add(int64(len(msgs)))
		select {
		case out <- msgs:
		case <-ctx.Done():
			return
		}
	}
}

// translate maps one backend event to a Message, resolving the room name and
// registering IM streams so replies can be routed back.
func (a *Adapter) translate(ctx context.Context, ev Event, filter map[string]struct{}) (Message, bool) {
	if ev.StreamID == "" {
		return Message{}, false
	}
	if len(filter) > 0 {
		if _, ok := filter[ev.StreamID]; !ok {
			return Message{}, false
		}
	}

	msg := Message{
		User:       ev.User,
		UserEmail:  ev.UserEmail,
		UserID:     ev.UserID,
		Tags:       ev.Mentions,
		StreamID:   ev.StreamID,
		Msg:        ev.Text,
		FormID:     ev.FormID,
		FormValues: ev.FormValues,
	}

	switch ev.StreamType {
	case "ROOM":
		name, err := a.mapper.ResolveRoomName(ctx, ev.StreamID)
		if err != nil {
			a.logger.Error("cannot resolve room name, dropping event", "stream_id", ev.StreamID, "error", err)
			return Message{}, false
		}
		msg.Room = name
	case "IM":
		// Register the stream under both user id and display name so the
		// bot can respond either way.
		a.mapper.SetIMID(ev.UserID, ev.StreamID)
		if ev.User != "" {
			a.mapper.SetIMID(ev.User, ev.StreamID)
		}
		msg.Room = IMRoom
		msg.IsIM = true
	default:
		return Message{}, false
	}
	return msg, true
}

// Publish enqueues an outbound message. Delivery happens on the writer
// goroutine with the configured retry policy; terminal failures trigger the
// error-room and inform-client notifications.
func (a *Adapter) Publish(msg Message) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		a.logger.Warn("publish on closed adapter dropped", "room", msg.Room)
		return
	}
	select {
	case a.queue <- msg:
	default:
		a.logger.Warn("send queue full, blocking", "room", msg.Room)
		a.queue <- msg
	}
}

func (a *Adapter) writeLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg := <-a.queue:
			a.deliver(msg)
		}
	}
}

func (a *Adapter) deliver(msg Message) {
	streamID, err := a.resolveDestination(a.ctx, msg)
	if err != nil {
		a.logger.Error("cannot resolve destination for message", "room", msg.Room, "error", err)
		metrics.SendFailures.Inc()
		a.notifyFailure(msg, err)
		return
	}

	attempts := 0
	err = a.policy.Do(a.ctx, a.logger, func() error {
		attempts++
		return a.backend.Send(a.ctx, streamID, msg.Msg)
	})
	if attempts > 1 {
		metrics.SendRetries.Add(int64(attempts - 1))
	}
	if err != nil {
		a.logger.Error("failed sending message to symphony", "room", msg.Room, "stream_id", streamID, "error", err)
		metrics.SendFailures.Inc()
		a.notifyFailure(msg, err)
		return
	}
	metrics.MessagesSent.Inc()
}

// resolveDestination picks the target stream: an explicit StreamID wins, the
// IM room routes to the sender's direct-message stream (creating one if
// needed), anything else is a room name.
func (a *Adapter) resolveDestination(ctx context.Context, msg Message) (string, error) {
	if msg.StreamID != "" {
		return msg.StreamID, nil
	}
	if msg.Room == IMRoom {
		target := msg.UserID
		if target == "" {
			target = msg.User
		}
		if target == "" {
			return "", fmt.Errorf("im message has no user id")
		}
		return a.mapper.ResolveIMID(ctx, target)
	}
	if msg.Room == "" {
		return "", fmt.Errorf("message has neither room nor stream id")
	}
	return a.mapper.ResolveRoomID(ctx, msg.Room)
}

// notifyFailure runs the best-effort terminal-failure side channel: one
// message to the configured error room and, when enabled, one IM notice to
// the original sender. Neither is retried; their failures are only logged.
func (a *Adapter) notifyFailure(msg Message, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.errorRoom != "" {
		text := fmt.Sprintf("ERROR: could not deliver message to %s: %s",
			EscapeMessageML(destinationLabel(msg)), EscapeMessageML(cause.Error()))
		if id, err := a.mapper.ResolveRoomID(ctx, a.errorRoom); err != nil {
			a.logger.Error("cannot resolve error room", "room", a.errorRoom, "error", err)
		} else if err := a.backend.Send(ctx, id, text); err != nil {
			a.logger.Error("cannot send to error room", "room", a.errorRoom, "error", err)
		}
	}

	if a.informClient && msg.UserID != "" {
		if id, err := a.mapper.ResolveIMID(ctx, msg.UserID); err != nil {
			a.logger.Error("cannot resolve IM stream to inform sender", "user_id", msg.UserID, "error", err)
		} else if err := a.backend.Send(ctx, id, "ERROR: could not send message on Symphony"); err != nil {
			a.logger.Error("cannot inform sender of failed message", "user_id", msg.UserID, "error", err)
		}
	}
}

func destinationLabel(msg Message) string {
	switch {
	case msg.Room != "" && msg.Room != IMRoom:
		return "room " + msg.Room
	case msg.UserID != "":
		return "user " + msg.UserID
	default:
		return "stream " + msg.StreamID
	}
}

// PublishPresence sets the bot's presence with the same retry policy as
// outbound messages.
func (a *Adapter) PublishPresence(ctx context.Context, status PresenceStatus) error {
	err := a.policy.Do(ctx, a.logger, func() error {
		return a.backend.SetPresence(ctx, status)
	})
	if err != nil {
		return fmt.Errorf("set presence %s: %w", status, err)
	}
	metrics.PresenceUpdates.Inc()
	return nil
}

// RoomMembers lists user ids in a room when the backend supports it.
func (a *Adapter) RoomMembers(ctx context.Context, room string) ([]string, error) {
	lister, ok := a.backend.(MemberLister)
	if !ok {
		return nil, fmt.Errorf("backend does not support member listing")
	}
	id, err := a.resolveRoom(ctx, room)
	if err != nil {
		return nil, err
	}
	return lister.RoomMembers(ctx, id)
}

func (a *Adapter) sendExitMessage(exitMsg string) {
	a.mu.Lock()
	exitRoom := a.exitRoom
	a.mu.Unlock()
	if exitMsg == "" || exitRoom == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.backend.Send(ctx, exitRoom, exitMsg); err != nil {
		a.logger.Warn("exit message not delivered", "error", err)
	}
}

// Close stops the writer, abandons in-flight retries and releases the
// backend session and room-cache store.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	subCancel := a.subCancel
	a.mu.Unlock()

	if subCancel != nil {
		subCancel()
	}
	a.cancel()
	a.wg.Wait()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("room cache close failed", "error", err)
		}
	}
	return a.backend.Close()
}
