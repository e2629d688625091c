package symphony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type sentRecord struct {
	streamID string
	content  string
}

// mockBackend scripts send failures per stream and replays event batches.
type mockBackend struct {
	mu       sync.Mutex
	sends    []sentRecord
	failWith map[string][]error // per-stream error script, consumed per call
	presence []PresenceStatus
	rooms    map[string]string // name -> id
	names    map[string]string // id -> name
	imCount  int
	events   chan []Event
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		failWith: make(map[string][]error),
		rooms:    make(map[string]string),
		names:    make(map[string]string),
		events:   make(chan []Event, 8),
	}
}

func (m *mockBackend) addRoom(name, id string) {
	m.rooms[name] = id
	m.names[id] = name
}

func (m *mockBackend) scriptFailures(streamID string, errs ...error) {
	m.failWith[streamID] = errs
}

func (m *mockBackend) sentTo(streamID string) []sentRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentRecord
	for _, s := range m.sends {
		if s.streamID == streamID {
			out = append(out, s)
		}
	}
	return out
}

func (m *mockBackend) Connect(context.Context) error { return nil }
func (m *mockBackend) Close() error                  { return nil }

func (m *mockBackend) Subscribe(ctx context.Context, _ SubscribeOptions) (<-chan []Event, error) {
	out := make(chan []Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-m.events:
				if !ok {
					return
				}
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (m *mockBackend) Send(_ context.Context, streamID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, sentRecord{streamID: streamID, content: content})
	if script := m.failWith[streamID]; len(script) > 0 {
		err := script[0]
		m.failWith[streamID] = script[1:]
		return err
	}
	return nil
}

func (m *mockBackend) SetPresence(_ context.Context, status PresenceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence = append(m.presence, status)
	return nil
}

func (m *mockBackend) LookupRoomID(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.rooms[name]; ok {
		return id, nil
	}
	return "", errors.New("room not found")
}

func (m *mockBackend) LookupRoomName(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.names[id]; ok {
		return name, nil
	}
	return "", errors.New("stream not found")
}

func (m *mockBackend) CreateIM(_ context.Context, userIDs []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.imCount++
	return "im-" + userIDs[0], nil
}

func testAdapterConfig() *Config {
	return &Config{
		MaxAttempts:       3,
		InitialIntervalMS: 1,
		Multiplier:        2.0,
		MaxIntervalMS:     10,
	}
}

func newTestAdapter(t *testing.T, backend Backend, cfg *Config) *Adapter {
	t.Helper()
	a, err := NewAdapter(backend, cfg, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestAdapter_PublishResolvesRoomAndSends(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	a := newTestAdapter(t, backend, testAdapterConfig())

	a.Publish(Message{Room: "General", Msg: "hi there"})

	waitFor(t, "send to stream-1", func() bool { return len(backend.sentTo("stream-1")) == 1 })
	if got := backend.sentTo("stream-1")[0].content; got != "hi there" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestAdapter_PublishPrefersExplicitStreamID(t *testing.T) {
	backend := newMockBackend()
	a := newTestAdapter(t, backend, testAdapterConfig())

	a.Publish(Message{Room: "Whatever", StreamID: "stream-direct", Msg: "x"})

	waitFor(t, "direct send", func() bool { return len(backend.sentTo("stream-direct")) == 1 })
}

func TestAdapter_TransientFailureRetriedUntilSuccess(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	backend.scriptFailures("stream-1",
		Transient(errors.New("rate limited")),
		Transient(errors.New("rate limited")),
	)
	a := newTestAdapter(t, backend, testAdapterConfig())

	a.Publish(Message{Room: "General", Msg: "persistent"})

	waitFor(t, "three attempts", func() bool { return len(backend.sentTo("stream-1")) == 3 })
}

func TestAdapter_TerminalFailureNotRetried(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	backend.scriptFailures("stream-1", errors.New("401 unauthorized"))
	a := newTestAdapter(t, backend, testAdapterConfig())

	a.Publish(Message{Room: "General", Msg: "doomed"})

	// give the writer time to (incorrectly) retry
	time.Sleep(50 * time.Millisecond)
	if n := len(backend.sentTo("stream-1")); n != 1 {
		t.Fatalf("terminal failure must not be retried, got %d attempts", n)
	}
}

func TestAdapter_FailureNotifiesErrorRoomAndSender(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	backend.addRoom("Bot Errors", "err-stream")
	backend.scriptFailures("stream-1", errors.New("malformed payload"))

	cfg := testAdapterConfig()
	cfg.ErrorRoom = "Bot Errors"
	cfg.InformClient = true
	a := newTestAdapter(t, backend, cfg)

	a.Publish(Message{Room: "General", UserID: "42", Msg: "doomed"})

	waitFor(t, "error room notice", func() bool { return len(backend.sentTo("err-stream")) == 1 })
	notice := backend.sentTo("err-stream")[0].content
	if !strings.Contains(notice, "ERROR") || !strings.Contains(notice, "General") {
		t.Fatalf("error notice must name the destination: %q", notice)
	}

	waitFor(t, "sender notice", func() bool { return len(backend.sentTo("im-42")) == 1 })
	if backend.imCount != 1 {
		t.Fatalf("expected 1 IM create, got %d", backend.imCount)
	}
}

func TestAdapter_IMRoutingCreatesStreamOnce(t *testing.T) {
	backend := newMockBackend()
	a := newTestAdapter(t, backend, testAdapterConfig())

	a.Publish(Message{Room: IMRoom, UserID: "42", Msg: "one"})
	a.Publish(Message{Room: IMRoom, UserID: "42", Msg: "two"})

	waitFor(t, "two IM sends", func() bool { return len(backend.sentTo("im-42")) == 2 })
	if backend.imCount != 1 {
		t.Fatalf("IM stream must be cached after first create, got %d creates", backend.imCount)
	}
}

func TestAdapter_SubscribeTranslatesRoomEvent(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	a := newTestAdapter(t, backend, testAdapterConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := a.Subscribe(ctx, SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}

	backend.events <- []Event{{
		Type:       EventMessageSent,
		StreamID:   "stream-1",
		StreamType: "ROOM",
		User:       "John Doe",
		UserEmail:  "john@example.com",
		UserID:     "456",
		Mentions:   []string{"789"},
		Text:       "Hello, world!",
	}}

	select {
	case batch := <-msgs:
		if len(batch) != 1 {
			t.Fatalf("expected 1 message, got %d", len(batch))
		}
		msg := batch[0]
		if msg.Room != "General" || msg.User != "John Doe" || msg.UserID != "456" {
			t.Fatalf("bad translation: %+v", msg)
		}
		if msg.Msg != "Hello, world!" || len(msg.Tags) != 1 || msg.Tags[0] != "789" {
			t.Fatalf("bad content: %+v", msg)
		}
		if msg.IsIM {
			t.Fatal("room message must not be flagged IM")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestAdapter_SubscribeRegistersIMStream(t *testing.T) {
	backend := newMockBackend()
	a := newTestAdapter(t, backend, testAdapterConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := a.Subscribe(ctx, SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}

	backend.events <- []Event{{
		Type:       EventMessageSent,
		StreamID:   "im-stream-7",
		StreamType: "IM",
		User:       "John Doe",
		UserID:     "456",
		Text:       "psst",
	}}

	select {
	case batch := <-msgs:
		if batch[0].Room != IMRoom || !batch[0].IsIM {
			t.Fatalf("IM event mis-translated: %+v", batch[0])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}

	if id, ok := a.RoomMapper().GetIMID("456"); !ok || id != "im-stream-7" {
		t.Fatalf("IM stream not registered for user id: %q ok=%v", id, ok)
	}
	if id, ok := a.RoomMapper().GetIMID("John Doe"); !ok || id != "im-stream-7" {
		t.Fatalf("IM stream not registered for display name: %q ok=%v", id, ok)
	}
}

func TestAdapter_SubscribeTranslatesFormEvent(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	a := newTestAdapter(t, backend, testAdapterConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := a.Subscribe(ctx, SubscribeOptions{})
	if err != nil {
		t.Fatal(err)
	}

	backend.events <- []Event{{
		Type:       EventElementsAction,
		StreamID:   "stream-1",
		StreamType: "ROOM",
		User:       "John Doe",
		UserID:     "456",
		FormID:     "test_form",
		FormValues: map[string]string{"key": "value"},
	}}

	select {
	case batch := <-msgs:
		msg := batch[0]
		if msg.FormID != "test_form" || msg.FormValues["key"] != "value" {
			t.Fatalf("form fields lost: %+v", msg)
		}
		if msg.Room != "General" {
			t.Fatalf("expected room resolution, got %q", msg.Room)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

func TestAdapter_SubscribeFiltersUnsubscribedRooms(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	backend.addRoom("Other", "stream-2")
	a := newTestAdapter(t, backend, testAdapterConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := a.Subscribe(ctx, SubscribeOptions{Rooms: []string{"General"}})
	if err != nil {
		t.Fatal(err)
	}

	backend.events <- []Event{
		{Type: EventMessageSent, StreamID: "stream-2", StreamType: "ROOM", UserID: "1", Text: "filtered"},
		{Type: EventMessageSent, StreamID: "stream-1", StreamType: "ROOM", UserID: "1", Text: "kept"},
	}

	select {
	case batch := <-msgs:
		if len(batch) != 1 || batch[0].Msg != "kept" {
			t.Fatalf("filtering wrong: %+v", batch)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

func TestAdapter_SubscribeUnknownRoomFails(t *testing.T) {
	backend := newMockBackend()
	a := newTestAdapter(t, backend, testAdapterConfig())

	_, err := a.Subscribe(context.Background(), SubscribeOptions{Rooms: []string{"Nope"}})
	if err == nil {
		t.Fatal("expected error for unknown room")
	}
}

func TestAdapter_SubscribeAcceptsStreamIDs(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	a := newTestAdapter(t, backend, testAdapterConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := a.Subscribe(ctx, SubscribeOptions{Rooms: []string{"stream-1"}})
	if err != nil {
		t.Fatal(err)
	}

	backend.events <- []Event{{Type: EventMessageSent, StreamID: "stream-1", StreamType: "ROOM", UserID: "1", Text: "by id"}}
	select {
	case batch := <-msgs:
		if batch[0].Msg != "by id" {
			t.Fatalf("unexpected batch: %+v", batch)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out")
	}
}

func TestAdapter_ExitMessageSentOnShutdown(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	a := newTestAdapter(t, backend, testAdapterConfig())

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := a.Subscribe(ctx, SubscribeOptions{Rooms: []string{"General"}, ExitMessage: "goodbye"})
	if err != nil {
		t.Fatal(err)
	}

	cancel()
	for range msgs {
		// drain until the feed closes
	}

	waitFor(t, "exit message", func() bool {
		for _, s := range backend.sentTo("stream-1") {
			if s.content == "goodbye" {
				return true
			}
		}
		return false
	})
}

func TestAdapter_PublishPresence(t *testing.T) {
	backend := newMockBackend()
	a := newTestAdapter(t, backend, testAdapterConfig())

	if err := a.PublishPresence(context.Background(), PresenceAway); err != nil {
		t.Fatal(err)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.presence) != 1 || backend.presence[0] != PresenceAway {
		t.Fatalf("presence not recorded: %v", backend.presence)
	}
}

func TestAdapter_PublishAfterCloseDropped(t *testing.T) {
	backend := newMockBackend()
	a, err := NewAdapter(backend, testAdapterConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	a.Publish(Message{Room: "General", Msg: "late"}) // must not panic or block
	if n := len(backend.sentTo("stream-1")); n != 0 {
		t.Fatalf("expected no sends after close, got %d", n)
	}
}

func TestAdapter_CloseIdempotent(t *testing.T) {
	backend := newMockBackend()
	a, err := NewAdapter(backend, testAdapterConfig(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAdapter_ConcurrentPublish(t *testing.T) {
	backend := newMockBackend()
	backend.addRoom("General", "stream-1")
	a := newTestAdapter(t, backend, testAdapterConfig())

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Publish(Message{Room: "General", Msg: fmt.Sprintf("msg-%d", i)})
		}(i)
	}
	wg.Wait()

	waitFor(t, "all sends", func() bool { return len(backend.sentTo("stream-1")) == n })
}
