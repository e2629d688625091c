package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// SearchRoomID resolves a room name to its stream id. The search endpoint
// matches substrings, so results are scanned for an exact name match;
// ErrNotFound when none matches exactly.
func (c *Client) SearchRoomID(ctx context.Context, name string) (string, error) {
	var out struct {
		Rooms []struct {
			RoomAttributes struct {
				Name string `json:"name"`
			} `json:"roomAttributes"`
			RoomSystemInfo struct {
				ID string `json:"id"`
			} `json:"roomSystemInfo"`
		} `json:"rooms"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.RoomSearchURL, map[string]string{"query": name}, &out); err != nil {
		return "", err
	}
	for _, room := range out.Rooms {
		if room.RoomAttributes.Name == name && room.RoomSystemInfo.ID != "" {
			return room.RoomSystemInfo.ID, nil
		}
	}
	return "", fmt.Errorf("room %q: %w", name, ErrNotFound)
}

// RoomName resolves a stream id to the room's display name.
func (c *Client) RoomName(ctx context.Context, roomID string) (string, error) {
	url := strings.ReplaceAll(c.cfg.RoomInfoURL, "{room_id}", roomID)
	var out struct {
		RoomAttributes struct {
			Name string `json:"name"`
		} `json:"roomAttributes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &out); err != nil {
		return "", err
	}
	if out.RoomAttributes.Name == "" {
		return "", fmt.Errorf("room %s has no name in info response: %w", roomID, ErrNotFound)
	}
	return out.RoomAttributes.Name, nil
}

// RoomMembers lists the user ids of a room's members.
func (c *Client) RoomMembers(ctx context.Context, roomID string) ([]string, error) {
	url := strings.ReplaceAll(c.cfg.RoomMembersURL, "{room_id}", roomID)
	var out []struct {
		ID json.Number `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &out); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(out))
	for _, member := range out {
		if member.ID.String() != "" {
			ids = append(ids, member.ID.String())
		}
	}
	return ids, nil
}

// CreateIM returns the direct-message stream for the given users, creating
// one when necessary. The endpoint is idempotent server-side.
func (c *Client) CreateIM(ctx context.Context, userIDs []string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.IMCreateURL, userIDs, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("im create returned no stream id")
	}
	return out.ID, nil
}
