package rest

import "encoding/json"

// Wire shapes for agent datafeed v5 events. Only the fields the adapter
// consumes are modelled.

type Stream struct {
	StreamID   string `json:"streamId"`
	StreamType string `json:"streamType"` // ROOM, IM, POST, ...
}

type User struct {
	DisplayName string      `json:"displayName"`
	Email       string      `json:"email"`
	UserID      json.Number `json:"userId"`
}

type V4Message struct {
	Stream  Stream `json:"stream"`
	User    User   `json:"user"`
	Message string `json:"message"`
	Data    string `json:"data"` // JSON blob carrying entity data, incl. mentions
}

type ElementsAction struct {
	Stream     Stream         `json:"stream"`
	FormID     string         `json:"formId"`
	FormValues map[string]any `json:"formValues"`
}

type Payload struct {
	MessageSent *struct {
		Message *V4Message `json:"message"`
	} `json:"messageSent,omitempty"`
	ElementsAction *ElementsAction `json:"symphonyElementsAction,omitempty"`
}

type Initiator struct {
	User User `json:"user"`
}

type Event struct {
	Type      string     `json:"type"`
	Initiator *Initiator `json:"initiator,omitempty"`
	Payload   Payload    `json:"payload"`
}

const mentionEntityType = "com.symphony.user.mention"

// Mentions extracts mentioned user ids from a message's entity data blob.
// Malformed data yields an empty list rather than an error; the feed must
// keep moving.
func (m *V4Message) Mentions() []string {
	if m.Data == "" {
		return nil
	}
	// Hashtag and cashtag entities carry string id values, so each entity is
	// decoded separately; one odd entry must not drop the rest.
	var entities map[string]struct {
		Type string          `json:"type"`
		ID   json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal([]byte(m.Data), &entities); err != nil {
		return nil
	}
	var out []string
	for _, e := range entities {
		if e.Type != mentionEntityType {
			continue
		}
		var ids []struct {
			Value json.Number `json:"value"`
		}
		if err := json.Unmarshal(e.ID, &ids); err != nil || len(ids) == 0 {
			continue
		}
		out = append(out, ids[0].Value.String())
	}
	return out
}
