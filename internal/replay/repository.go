package replay

import (
	"errors"
	"sort"
	"sync"
	"time"

	"spectator-recorder/internal/recording"
)

// Repository is the concurrency-safe contract for served session state.
type Repository interface {
	// Register records a chunk or keyframe, creating the session if needed.
	// Registering an id twice keeps the first payload. Ended sessions reject
	// new payloads with ErrSessionEnded.
	Register(key SessionKey, kind recording.Kind, id uint32, data []byte) error

	// Payload returns a registered payload.
	Payload(key SessionKey, kind recording.Kind, id uint32) ([]byte, bool)

	// Snapshot returns the session's ids in ascending order.
	Snapshot(key SessionKey) (SessionView, bool)

	// EndSession marks a session ended. Ending an unknown session is an error
	// since there is nothing to report as final.
	EndSession(key SessionKey) error

	// ActiveSessionCount returns the number of sessions that are not ended.
	ActiveSessionCount() int
}

var (
	// ErrSessionEnded is returned when registering into an ended session.
	ErrSessionEnded = errors.New("session has ended")

	// ErrSessionNotFound is returned for operations on unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)

// InMemoryRepository is a concurrency-safe Repository on top of a Store.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
	now   func() time.Time
}

// NewInMemoryRepository constructs a repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store, now: time.Now}
}

// Register implements Repository.Register.
func (r *InMemoryRepository) Register(key SessionKey, kind recording.Kind, id uint32, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session := r.getOrCreateSessionLocked(key)
	if session.Ended {
		return ErrSessionEnded
	}

	payloads := session.Chunks
	if kind == recording.KindKeyFrame {
		payloads = session.KeyFrames
	}
	if _, exists := payloads[id]; exists {
		return nil
	}
	payloads[id] = Payload{
		ID:         id,
		Data:       append([]byte(nil), data...),
		ReceivedAt: r.now().UTC(),
	}
	return nil
}

// Payload implements Repository.Payload.
func (r *InMemoryRepository) Payload(key SessionKey, kind recording.Kind, id uint32) ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.store.GetSession(key)
	if !ok {
		return nil, false
	}
	payloads := session.Chunks
	if kind == recording.KindKeyFrame {
		payloads = session.KeyFrames
	}
	p, ok := payloads[id]
	if !ok {
		return nil, false
	}
	return p.Data, true
}

// Snapshot implements Repository.Snapshot.
func (r *InMemoryRepository) Snapshot(key SessionKey) (SessionView, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.store.GetSession(key)
	if !ok {
		return SessionView{}, false
	}
	view := SessionView{
		Key:         session.Key,
		ChunkIDs:    sortedIDs(session.Chunks),
		KeyFrameIDs: sortedIDs(session.KeyFrames),
		Ended:       session.Ended,
		CreatedAt:   session.CreatedAt,
	}
	if n := len(view.ChunkIDs); n > 0 {
		view.LastChunkAt = session.Chunks[view.ChunkIDs[n-1]].ReceivedAt
	}
	return view, true
}

// EndSession implements Repository.EndSession.
func (r *InMemoryRepository) EndSession(key SessionKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.store.GetSession(key)
	if !ok {
		return ErrSessionNotFound
	}
	session.Ended = true
	return nil
}

// ActiveSessionCount implements Repository.ActiveSessionCount.
func (r *InMemoryRepository) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, key := range r.store.ListSessionKeys() {
		if st, ok := r.store.GetSession(key); ok && !st.Ended {
			n++
		}
	}
	return n
}

// getOrCreateSessionLocked returns an existing session or creates a new one.
// Caller must hold r.mu in write mode.
func (r *InMemoryRepository) getOrCreateSessionLocked(key SessionKey) *SessionState {
	if session, ok := r.store.GetSession(key); ok {
		return session
	}
	session := &SessionState{
		Key:       key,
		Chunks:    make(map[uint32]Payload),
		KeyFrames: make(map[uint32]Payload),
		CreatedAt: r.now().UTC(),
	}
	r.store.SetSession(session)
	return session
}

func sortedIDs(payloads map[uint32]Payload) []uint32 {
	ids := make([]uint32, 0, len(payloads))
	for id := range payloads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
