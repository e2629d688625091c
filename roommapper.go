package symphony

import (
	"context"
	"fmt"
	"sync"
)

// Directory resolves room identity against the platform's directory service.
// Implementations perform network calls; the RoomMapper consults one only on
// cache misses in the Resolve methods.
type Directory interface {
	// LookupRoomID returns the stream id for an exact room name match.
	LookupRoomID(ctx context.Context, name string) (string, error)
	// LookupRoomName returns the display name for a stream id.
	LookupRoomName(ctx context.Context, id string) (string, error)
	// CreateIM returns the direct-message stream id for the given users,
	// creating one if needed.
	CreateIM(ctx context.Context, userIDs []string) (string, error)
}

// MappingStore persists room mappings across restarts. Implementations must
// tolerate concurrent use; failures are surfaced to the caller of the write
// path but never corrupt the in-memory cache.
type MappingStore interface {
	PutRoom(name, id string) error
	PutIM(user, streamID string) error
	Load() (rooms map[string]string, ims map[string]string, err error)
	Close() error
}

// RoomMapper is a process-wide cache mapping room names to stream ids and
// users to their direct-message stream ids. Entries are only inserted after a
// successful resolution or explicit registration and live for the process
// lifetime; there is no eviction.
type RoomMapper struct {
	mu       sync.Mutex
	nameToID map[string]string
	idToName map[string]string
	imByUser map[string]string
	dir      Directory    // optional, used by Resolve*
	store    MappingStore // optional write-through persistence
}

// NewRoomMapper creates an empty mapper. dir may be nil, in which case the
// Resolve methods fail on cache misses.
func NewRoomMapper(dir Directory) *RoomMapper {
	return &RoomMapper{
		nameToID: make(map[string]string),
		idToName: make(map[string]string),
		imByUser: make(map[string]string),
		dir:      dir,
	}
}

// WithStore attaches write-through persistence and preloads any mappings the
// store already holds. Stored entries were valid once; staleness is accepted.
func (m *RoomMapper) WithStore(store MappingStore) error {
	rooms, ims, err := store.Load()
	if err != nil {
		return fmt.Errorf("load room mappings: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, id := range rooms {
		m.nameToID[name] = id
		m.idToName[id] = name
	}
	for user, id := range ims {
		m.imByUser[user] = id
	}
	m.store = store
	return nil
}

// RegisterRoom inserts or overwrites both directions of a name/id pair.
// Idempotent.
func (m *RoomMapper) RegisterRoom(name, id string) {
	m.mu.Lock()
	m.nameToID[name] = id
	m.idToName[id] = name
	store := m.store
	m.mu.Unlock()

	if store != nil {
		_ = store.PutRoom(name, id)
	}
}

// GetRoomID is a pure cache lookup; a miss returns ok=false and the decision
// to query the directory stays with the caller.
func (m *RoomMapper) GetRoomID(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.nameToID[name]
	return id, ok
}

// GetRoomName is the symmetric pure lookup.
func (m *RoomMapper) GetRoomName(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name, ok := m.idToName[id]
	return name, ok
}

// SetIMID records the direct-message stream for a user. Idempotent.
func (m *RoomMapper) SetIMID(user, streamID string) {
	m.mu.Lock()
	m.imByUser[user] = streamID
	store := m.store
	m.mu.Unlock()

	if store != nil {
		_ = store.PutIM(user, streamID)
	}
}

// GetIMID returns the cached direct-message stream for a user.
func (m *RoomMapper) GetIMID(user string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.imByUser[user]
	return id, ok
}

// ResolveRoomID returns the stream id for a room name, querying the directory
// and caching the result on a miss.
func (m *RoomMapper) ResolveRoomID(ctx context.Context, name string) (string, error) {
	if id, ok := m.GetRoomID(name); ok {
		return id, nil
	}
	if m.dir == nil {
		return "", fmt.Errorf("room %q not cached and no directory configured", name)
	}
	id, err := m.dir.LookupRoomID(ctx, name)
	if err != nil {
		return "", err
	}
	m.RegisterRoom(name, id)
	return id, nil
}

// ResolveRoomName returns the display name for a stream id, querying the
// directory and caching the result on a miss.
func (m *RoomMapper) ResolveRoomName(ctx context.Context, id string) (string, error) {
	if name, ok := m.GetRoomName(id); ok {
		return name, nil
	}
	if m.dir == nil {
		return "", fmt.Errorf("stream %q not cached and no directory configured", id)
	}
	name, err := m.dir.LookupRoomName(ctx, id)
	if err != nil {
		return "", err
	}
	m.RegisterRoom(name, id)
	return name, nil
}

// ResolveIMID returns the direct-message stream for a user id, asking the
// directory to create one on a miss.
func (m *RoomMapper) ResolveIMID(ctx context.Context, userID string) (string, error) {
	if id, ok := m.GetIMID(userID); ok {
		return id, nil
	}
	if m.dir == nil {
		return "", fmt.Errorf("no IM stream cached for user %q and no directory configured", userID)
	}
	id, err := m.dir.CreateIM(ctx, []string{userID})
	if err != nil {
		return "", err
	}
	m.SetIMID(userID, id)
	return id, nil
}
