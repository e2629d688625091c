package symphony

import "context"

// EventType identifies the kind of platform event a backend delivers.
type EventType string

const (
	EventMessageSent    EventType = "MESSAGESENT"
	EventElementsAction EventType = "SYMPHONYELEMENTSACTION"
)

// Event is a decoded platform event, pre-translation. Backends emit Events;
// the Adapter turns them into Messages using the room mapper.
type Event struct {
	Type       EventType
	StreamID   string
	StreamType string // "ROOM" or "IM"
	User       string
	UserEmail  string
	UserID     string
	Mentions   []string
	Text       string
	FormID     string
	FormValues map[string]string
	Own        bool // true when the bot itself produced the event
}

// SubscribeOptions filters the inbound event stream.
type SubscribeOptions struct {
	// Rooms restricts delivery to the named rooms (names or stream ids).
	// Empty means all rooms the bot can see.
	Rooms []string
	// SkipOwnMessages drops events the bot itself produced.
	SkipOwnMessages bool
	// SkipHistory drops backlog delivered before the stream was live.
	SkipHistory bool
	// ExitMessage, when non-empty, is sent once, best-effort, to the first
	// subscribed room during shutdown.
	ExitMessage string
}

// MemberLister is implemented by backends that can enumerate room members.
type MemberLister interface {
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
}

// Backend is the external chat-backend capability: connect, subscribe, send,
// set presence. The retry controller and room cache are backend-agnostic;
// swapping implementations must not affect them.
type Backend interface {
	Directory

	// Connect establishes the session. Must be called before any other
	// operation.
	Connect(ctx context.Context) error

	// Subscribe starts the event feed and returns a channel of event
	// batches. The channel closes when ctx is cancelled or the feed dies.
	Subscribe(ctx context.Context, opts SubscribeOptions) (<-chan []Event, error)

	// Send posts messageML content to a stream.
	Send(ctx context.Context, streamID, messageML string) error

	// SetPresence publishes the bot's availability.
	SetPresence(ctx context.Context, status PresenceStatus) error

	// Close releases the session and any live feed.
	Close() error
}
