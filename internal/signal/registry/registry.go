// registry holds the authoritative mapping from live broadcaster connections
// to their sessions and attached viewers. It is pure in-memory state guarded
// by a single mutex so it stays unit-testable in isolation from the transport.
package registry

import (
	"errors"
	"sync"
)

var (
	// ErrKeyRequired is returned when a broadcaster claim carries an empty publish key.
	ErrKeyRequired = errors.New("publish key required")
	// ErrKeyInUse is returned when a different live connection already owns the publish key.
	ErrKeyInUse = errors.New("publish key in use")
	// ErrUnknownKey is returned when no live session holds the publish key.
	ErrUnknownKey = errors.New("unknown publish key")
)

// Session is the live state owned by one broadcaster connection.
type Session struct {
	BroadcasterID string
	PublishKey    string
	DisplayName   string

	viewers map[string]struct{}
}

// SessionInfo is the discovery view of a session.
type SessionInfo struct {
	PublishKey  string `json:"publishKey"`
	DisplayName string `json:"name"`
}

// Ack acknowledges a successful broadcaster claim.
type Ack struct {
	PublishKey  string
	DisplayName string
	ViewerCount int
}

// RoleTag tells which role a released connection held.
type RoleTag int

const (
	ReleasedNone RoleTag = iota
	ReleasedBroadcaster
	ReleasedViewer
)

// Release is the tagged outcome of ReleaseConnection.
type Release struct {
	Role RoleTag

	// Broadcaster outcome: the freed key and the viewers subscribed at release time.
	PublishKey string
	ViewerIDs  []string

	// Viewer outcome: the owning broadcaster and its remaining viewer count.
	BroadcasterID string
	Remaining     int
}

// Registry maps broadcaster connection ids to sessions and keeps a reverse
// index from viewer connection ids to their owning broadcaster, so a
// disconnect never scans every session.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	viewerOf map[string]string

	// order keeps broadcaster ids in claim order so discovery answers are
	// deterministic, oldest live session first.
	order []string
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		viewerOf: make(map[string]string),
	}
}

// ClaimBroadcaster binds connID to a session for key. A re-claim by the same
// connection updates the display name in place and keeps its viewers.
func (r *Registry) ClaimBroadcaster(connID, key, name string) (Ack, error) {
	if key == "" {
		return Ack{}, ErrKeyRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		if s.PublishKey == key && id != connID {
			return Ack{}, ErrKeyInUse
		}
	}

	s, ok := r.sessions[connID]
	if !ok {
		s = &Session{
			BroadcasterID: connID,
			viewers:       make(map[string]struct{}),
		}
		r.sessions[connID] = s
		r.order = append(r.order, connID)
	}
	s.PublishKey = key
	if name == "" {
		name = "Broadcaster " + shortID(connID)
	}
	s.DisplayName = name

	return Ack{
		PublishKey:  key,
		DisplayName: s.DisplayName,
		ViewerCount: len(s.viewers),
	}, nil
}

// ClaimViewer subscribes connID to the session holding key and returns the
// owning broadcaster id and the new viewer count. A viewer watches at most one
// broadcaster: any prior subscription under another session is dropped first.
func (r *Registry) ClaimViewer(connID, key string) (string, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessionByKey(key)
	if s == nil {
		return "", 0, ErrUnknownKey
	}

	if prev, ok := r.viewerOf[connID]; ok && prev != s.BroadcasterID {
		if ps, ok := r.sessions[prev]; ok {
			delete(ps.viewers, connID)
		}
	}
	s.viewers[connID] = struct{}{}
	r.viewerOf[connID] = s.BroadcasterID

	return s.BroadcasterID, len(s.viewers), nil
}

// ReleaseConnection removes connID from every role it held. It is the single
// entry point for disconnects, explicit stops and revokes, and is idempotent:
// releasing an unknown id returns ReleasedNone.
func (r *Registry) ReleaseConnection(connID string) Release {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[connID]; ok {
		viewers := make([]string, 0, len(s.viewers))
		for id := range s.viewers {
			viewers = append(viewers, id)
			delete(r.viewerOf, id)
		}
		delete(r.sessions, connID)
		r.dropOrder(connID)
		return Release{
			Role:       ReleasedBroadcaster,
			PublishKey: s.PublishKey,
			ViewerIDs:  viewers,
		}
	}

	if bid, ok := r.viewerOf[connID]; ok {
		delete(r.viewerOf, connID)
		remaining := 0
		if s, ok := r.sessions[bid]; ok {
			delete(s.viewers, connID)
			remaining = len(s.viewers)
		}
		return Release{
			Role:          ReleasedViewer,
			BroadcasterID: bid,
			Remaining:     remaining,
		}
	}

	return Release{Role: ReleasedNone}
}

// PruneDeadViewer drops a subscription whose handle is known dead. Used by the
// liveness sweeper only; the full disconnect cascade is skipped on purpose.
func (r *Registry) PruneDeadViewer(connID string) (string, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bid, ok := r.viewerOf[connID]
	if !ok {
		return "", 0, false
	}
	delete(r.viewerOf, connID)
	remaining := 0
	if s, ok := r.sessions[bid]; ok {
		delete(s.viewers, connID)
		remaining = len(s.viewers)
	}
	return bid, remaining, true
}

// FindSessionByKey resolves a publish key to the owning broadcaster.
func (r *Registry) FindSessionByKey(key string) (SessionInfo, string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessionByKey(key)
	if s == nil {
		return SessionInfo{}, "", false
	}
	return SessionInfo{PublishKey: s.PublishKey, DisplayName: s.DisplayName}, s.BroadcasterID, true
}

// ListSessions returns the discovery view of every live session, in claim
// order.
func (r *Registry) ListSessions() []SessionInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]SessionInfo, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.sessions[id]; ok {
			infos = append(infos, SessionInfo{PublishKey: s.PublishKey, DisplayName: s.DisplayName})
		}
	}
	return infos
}

// LatestSession returns the oldest live session, if any exists.
func (r *Registry) LatestSession() (SessionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if s, ok := r.sessions[id]; ok {
			return SessionInfo{PublishKey: s.PublishKey, DisplayName: s.DisplayName}, true
		}
	}
	return SessionInfo{}, false
}

// HasViewer reports whether viewerID is currently subscribed to broadcasterID.
func (r *Registry) HasViewer(broadcasterID, viewerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[broadcasterID]
	if !ok {
		return false
	}
	_, ok = s.viewers[viewerID]
	return ok
}

// BroadcasterOf returns the broadcaster id owning viewerID's subscription.
func (r *Registry) BroadcasterOf(viewerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bid, ok := r.viewerOf[viewerID]
	return bid, ok
}

// ViewerCount returns the subscriber count of broadcasterID's session.
func (r *Registry) ViewerCount(broadcasterID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[broadcasterID]; ok {
		return len(s.viewers)
	}
	return 0
}

// ViewersOf returns a snapshot of broadcasterID's subscribed viewer ids.
func (r *Registry) ViewersOf(broadcasterID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[broadcasterID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(s.viewers))
	for id := range s.viewers {
		ids = append(ids, id)
	}
	return ids
}

// Broadcasters returns a snapshot of live broadcaster connection ids.
func (r *Registry) Broadcasters() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// dropOrder removes connID from the claim-order index. Callers must hold r.mu.
func (r *Registry) dropOrder(connID string) {
	for i, id := range r.order {
		if id == connID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// sessionByKey scans sessions for key. Callers must hold r.mu.
// Linear scan is fine at the expected scale of tens of broadcasters.
func (r *Registry) sessionByKey(key string) *Session {
	for _, s := range r.sessions {
		if s.PublishKey == key {
			return s
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
