// Package ext declares the optional protocol extensions and tracks which of
// them a session negotiated.
package ext

import (
	"sort"
	"strings"
	"sync"
)

// Extension names understood by the server.
const (
	CustomBlocks        = "CustomBlocks"
	HeldBlock           = "HeldBlock"
	TextHotKey          = "TextHotKey"
	ExtPlayerList       = "ExtPlayerList"
	EnvColors           = "EnvColors"
	SelectionCuboid     = "SelectionCuboid"
	BlockPermissions    = "BlockPermissions"
	ChangeModel         = "ChangeModel"
	HackControl         = "HackControl"
	MessageTypes        = "MessageTypes"
	BlockDefinitions    = "BlockDefinitions"
	BlockDefinitionsExt = "BlockDefinitionsExt"
	BulkBlockUpdate     = "BulkBlockUpdate"
	EnvMapAspect        = "EnvMapAspect"
	EntityProperty      = "EntityProperty"
	TwoWayPing          = "TwoWayPing"
	InventoryOrder      = "InventoryOrder"
	FastMap             = "FastMap"
	ExtendedBlocks      = "ExtendedBlocks"
	CustomParticles     = "CustomParticles"
	SetHotbar           = "SetHotbar"
	ExtEntityTeleport   = "ExtEntityTeleport"
	LongerMessages      = "LongerMessages"
)

// Declaration is one advertised extension.
type Declaration struct {
	Name    string
	Version int
}

// DefaultDeclarations lists what the server advertises during the handshake.
func DefaultDeclarations() []Declaration {
	return []Declaration{
		{CustomBlocks, 1},
		{HeldBlock, 1},
		{TextHotKey, 1},
		{ExtPlayerList, 2},
		{EnvColors, 1},
		{SelectionCuboid, 1},
		{BlockPermissions, 1},
		{ChangeModel, 1},
		{HackControl, 1},
		{MessageTypes, 1},
		{BlockDefinitions, 1},
		{BlockDefinitionsExt, 2},
		{BulkBlockUpdate, 1},
		{EnvMapAspect, 1},
		{EntityProperty, 1},
		{TwoWayPing, 1},
		{InventoryOrder, 1},
		{FastMap, 1},
		{ExtendedBlocks, 1},
		{CustomParticles, 1},
		{SetHotbar, 1},
		{ExtEntityTeleport, 1},
		{LongerMessages, 1},
	}
}

// Registry is the server side of the negotiation. It is immutable once built
// and safe to share between sessions.
type Registry struct {
	ordered []Declaration
	byName  map[string]int
}

// NewRegistry indexes the declarations. Later duplicates override the
// version of earlier ones but keep their position.
func NewRegistry(decls []Declaration) *Registry {
	r := &Registry{byName: make(map[string]int, len(decls))}
	for _, d := range decls {
		key := strings.ToLower(d.Name)
		if i, ok := r.byName[key]; ok {
			r.ordered[i].Version = d.Version
			continue
		}
		r.byName[key] = len(r.ordered)
		r.ordered = append(r.ordered, d)
	}
	return r
}

// Declarations returns the advertised list in handshake order.
func (r *Registry) Declarations() []Declaration {
	if r == nil {
		return nil
	}
	out := make([]Declaration, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Version reports the server's version of the named extension.
func (r *Registry) Version(name string) (int, bool) {
	if r == nil {
		return 0, false
	}
	i, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return 0, false
	}
	return r.ordered[i].Version, true
}

// NewSet starts an empty negotiated set bound to this registry.
func (r *Registry) NewSet() *Set {
	return &Set{registry: r, client: make(map[string]int)}
}

// Set is one session's negotiated capabilities. The session goroutine writes
// client entries during the handshake while world tasks read it, so access
// is guarded.
type Set struct {
	registry *Registry

	mu       sync.RWMutex
	client   map[string]int
	appName  string
	expected int
	received int
}

// Begin records the client's ext info packet.
func (s *Set) Begin(appName string, count int) {
	if s == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	s.appName = appName
	s.expected = count
	s.received = 0
	s.mu.Unlock()
}

// Add records one client ext entry and reports whether the client has now
// sent every entry it announced.
func (s *Set) Add(name string, version int) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client[strings.ToLower(name)] = version
	s.received++
	return s.received >= s.expected
}

// Complete reports whether every announced entry has arrived.
func (s *Set) Complete() bool {
	if s == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received >= s.expected
}

// AppName returns the client software name from its ext info.
func (s *Set) AppName() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appName
}

// Supports reports whether both sides declared name at minVersion or later.
func (s *Set) Supports(name string, minVersion int) bool {
	if s == nil {
		return false
	}
	server, ok := s.registry.Version(name)
	if !ok || server < minVersion {
		return false
	}
	s.mu.RLock()
	client, ok := s.client[strings.ToLower(name)]
	s.mu.RUnlock()
	return ok && client >= minVersion
}

// Negotiated lists the extensions both sides share, with the lower of the
// two versions, sorted by name.
func (s *Set) Negotiated() []Declaration {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Declaration, 0, len(s.client))
	for _, d := range s.registry.Declarations() {
		client, ok := s.client[strings.ToLower(d.Name)]
		if !ok {
			continue
		}
		out = append(out, Declaration{Name: d.Name, Version: min(client, d.Version)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
