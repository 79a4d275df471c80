package world

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// MaxEntities is the number of entity ids available to players.
const MaxEntities = 128

// maxNameIDs is the size of the player-list id space.
const maxNameIDs = 256

var (
	ErrServerFull    = errors.New("server full")
	ErrNameInUse     = errors.New("name already in use")
	ErrNotRegistered = errors.New("player not registered")
)

// Registry tracks registered players by name and entity id. Mutation happens
// on the world goroutine; the mutex only makes reads from other goroutines
// (diagnostics) safe.
type Registry struct {
	mu         sync.RWMutex
	max        int
	byName     map[string]*Player
	byID       [MaxEntities]*Player
	nameIDs    [maxNameIDs]bool
	nextNameID int
}

// NewRegistry builds a registry admitting up to maxPlayers players.
func NewRegistry(maxPlayers int) *Registry {
	if maxPlayers <= 0 || maxPlayers > MaxEntities {
		maxPlayers = MaxEntities
	}
	return &Registry{max: maxPlayers, byName: make(map[string]*Player)}
}

// Capacity reports the configured player limit.
func (r *Registry) Capacity() int {
	return r.max
}

// Add registers p, assigning the lowest free entity id and the next free
// player-list id.
func (r *Registry) Add(p *Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(p.Name)
	if _, ok := r.byName[key]; ok {
		return ErrNameInUse
	}
	if len(r.byName) >= r.max {
		return ErrServerFull
	}
	id := -1
	for i, existing := range r.byID {
		if existing == nil {
			id = i
			break
		}
	}
	if id < 0 {
		return ErrServerFull
	}
	nameID := r.allocateNameIDLocked()
	if nameID < 0 {
		return ErrServerFull
	}
	p.ID = id
	p.NameID = nameID
	r.byID[id] = p
	r.byName[key] = p
	return nil
}

func (r *Registry) allocateNameIDLocked() int {
	for i := 0; i < maxNameIDs; i++ {
		candidate := (r.nextNameID + i) % maxNameIDs
		if !r.nameIDs[candidate] {
			r.nameIDs[candidate] = true
			r.nextNameID = (candidate + 1) % maxNameIDs
			return candidate
		}
	}
	return -1
}

// Remove unregisters p. It reports false if p was not the registered player
// for its name.
func (r *Registry) Remove(p *Player) bool {
	if p == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(p.Name)
	if r.byName[key] != p {
		return false
	}
	delete(r.byName, key)
	if p.ID >= 0 && p.ID < MaxEntities && r.byID[p.ID] == p {
		r.byID[p.ID] = nil
	}
	if p.NameID >= 0 && p.NameID < maxNameIDs {
		r.nameIDs[p.NameID] = false
	}
	return true
}

// Lookup finds a player by case-insensitive name.
func (r *Registry) Lookup(name string) (*Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[strings.ToLower(name)]
	return p, ok
}

// ByID finds a player by entity id.
func (r *Registry) ByID(id int) (*Player, bool) {
	if id < 0 || id >= MaxEntities {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p := r.byID[id]
	return p, p != nil
}

// Players lists registered players ordered by entity id.
func (r *Registry) Players() []*Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Player, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of registered players.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
