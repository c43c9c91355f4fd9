// internal/race/store.go
package race

import "sync"

// Store is the room registry. All creation and removal goes through it; room
// mutations never hold the store lock.
type Store struct {
	mu    sync.Mutex
	rooms map[int64]*Room
}

func NewStore() *Store {
	return &Store{
		rooms: make(map[int64]*Room),
	}
}

// Get returns the room for id, or nil.
func (s *Store) Get(id int64) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[id]
}

// GetOrCreate returns the room for id, creating it when absent. init runs on
// freshly created rooms before they become visible, so callbacks are wired
// under the store lock.
func (s *Store) GetOrCreate(id int64, init func(*Room)) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[id]; ok {
		return r, false
	}
	r := NewRoom(id, nil)
	if init != nil {
		init(r)
	}
	s.rooms[id] = r
	return r, true
}

// Delete removes a room from the registry if present.
func (s *Store) Delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
}

// Len returns the number of registered rooms.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// Summaries digests every registered room for the HTTP listing. Each room's
// lock is taken briefly in turn, never nested with the store lock held over
// another room.
func (s *Store) Summaries() []Summary {
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	return out
}
