package player

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateUsername is returned when a username is already registered.
	ErrDuplicateUsername = errors.New("username already logged in")

	// ErrNotFound is returned when no player has the given username.
	ErrNotFound = errors.New("player not found")

	// ErrFull is returned by Register when the player limit is reached.
	ErrFull = errors.New("server full")
)

// Registry is the set of players currently known to the server, keyed by
// username. One mutex guards it and is held only for the duration of a single
// operation, never across network I/O.
//
// Only the session that created a record mutates it. The registry does not
// enforce this.
type Registry struct {
	mu      sync.Mutex
	players map[string]*Player
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		players: make(map[string]*Player),
	}
}

// Register admits a new player in one locked step: it checks the limit and
// the username, takes the next id from alloc and inserts the record. A
// rejected login never consumes an id. limit <= 0 means no limit. init, if
// set, runs on the new record before it becomes visible and must not block.
func (r *Registry) Register(username string, limit int, alloc *EntityIDAllocator, init func(*Player)) (Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.players[username]; exists {
		return Player{}, fmt.Errorf("%w: %s", ErrDuplicateUsername, username)
	}
	if limit > 0 && len(r.players) >= limit {
		return Player{}, fmt.Errorf("%w: %d players online", ErrFull, limit)
	}

	p := New(username, alloc.Next())
	if init != nil {
		init(p)
	}
	r.players[username] = p
	r.order = append(r.order, username)
	return *p, nil
}

// Get returns a copy of the named player.
func (r *Registry) Get(username string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[username]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Update applies fn to the named player under the lock. fn must not block.
func (r *Registry) Update(username string, fn func(*Player)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[username]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, username)
	}
	fn(p)
	return nil
}

// Remove deletes the named player and returns its final state.
func (r *Registry) Remove(username string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[username]
	if !ok {
		return Player{}, false
	}
	delete(r.players, username)
	for i, name := range r.order {
		if name == username {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return *p, true
}

// List returns copies of all players in the order they were added.
func (r *Registry) List() []Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Player, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, *r.players[name])
	}
	return result
}

// Count returns the number of registered players.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}
