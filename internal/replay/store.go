package replay

// Store is the persistence abstraction for served sessions. The Repository
// does all locking; Store implementations need not be safe for concurrent use.
type Store interface {
	GetSession(key SessionKey) (*SessionState, bool)
	SetSession(s *SessionState)
	ListSessionKeys() []SessionKey
}

// InMemoryStore is a map-backed Store.
type InMemoryStore struct {
	sessions map[SessionKey]*SessionState
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[SessionKey]*SessionState),
	}
}

// GetSession implements Store.GetSession.
func (s *InMemoryStore) GetSession(key SessionKey) (*SessionState, bool) {
	st, ok := s.sessions[key]
	return st, ok
}

// SetSession implements Store.SetSession.
func (s *InMemoryStore) SetSession(st *SessionState) {
	s.sessions[st.Key] = st
}

// ListSessionKeys implements Store.ListSessionKeys.
func (s *InMemoryStore) ListSessionKeys() []SessionKey {
	keys := make([]SessionKey, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	return keys
}
