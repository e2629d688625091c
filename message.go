package symphony

import "strings"

// Message is a single chat message normalized from the backend, and the value
// application code constructs to send a reply.
//
// Room holds the human-readable room name, or "IM" for a direct message. The
// resolved platform stream identifier, when known, is carried in StreamID;
// outbound messages may set either and the adapter resolves the rest.
type Message struct {
	User       string            // display name of the author
	UserEmail  string            // email of the author, for mentions
	UserID     string            // uid of the author, for mentions
	Tags       []string          // user ids mentioned in the message
	Room       string            // room display name, or "IM" for direct messages
	StreamID   string            // platform stream identifier, if resolved
	IsIM       bool              // true when the message arrived on a direct-message stream
	Msg        string            // message content
	FormID     string            // elements form id, if the message is a form submission
	FormValues map[string]string // submitted form field values
}

// IMRoom is the Room value used for direct-message streams.
const IMRoom = "IM"

// Reply builds a response addressed to the stream this message arrived on.
func (m Message) Reply(text string) Message {
	return Message{
		Room:     m.Room,
		StreamID: m.StreamID,
		UserID:   m.UserID,
		IsIM:     m.IsIM,
		Msg:      text,
	}
}

// DirectReply builds a response addressed to the author's direct-message
// stream, regardless of where the original message arrived.
func (m Message) DirectReply(text string) Message {
	return Message{
		Room:   IMRoom,
		UserID: m.UserID,
		IsIM:   true,
		Msg:    text,
	}
}

// Mention returns a mention tag for the message author, preferring the uid
// over the email. Empty when the author is unknown.
func (m Message) Mention() string {
	id := m.UserID
	if id == "" {
		id = m.UserEmail
	}
	tag, err := MentionUser(id)
	if err != nil {
		return ""
	}
	return tag
}

// messageML escape pairs, applied in order. Ampersand must come first so
// already-escaped sequences are not double-escaped on the way back.
var messageMLPairs = [][2]string{
	{"&", "&#38;"},
	{"<", "&lt;"},
	{"${", "&#36;{"},
	{"#{", "&#35;{"},
}

// EscapeMessageML converts plain text to messageML-safe text by escaping the
// characters the dialect reserves.
func EscapeMessageML(text string) string {
	for _, p := range messageMLPairs {
		text = strings.ReplaceAll(text, p[0], p[1])
	}
	return text
}

// UnescapeMessageML is the inverse of EscapeMessageML.
func UnescapeMessageML(text string) string {
	for i := len(messageMLPairs) - 1; i >= 0; i-- {
		p := messageMLPairs[i]
		text = strings.ReplaceAll(text, p[1], p[0])
	}
	return text
}
