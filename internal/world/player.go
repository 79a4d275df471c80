package world

import (
	"strings"
	"time"
)

// Attributes is the persisted per-player state. Values are scalars or
// strings; numbers may come back from storage as any integer width.
type Attributes map[string]any

// Clone copies the map.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Int reads key as an int, accepting any numeric storage type.
func (a Attributes) Int(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// String reads key as a string.
func (a Attributes) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Player is the live state of one connected player. Every field is owned by
// the world goroutine.
type Player struct {
	// ID is the entity id seen by other clients, 0..127.
	ID int
	// NameID is the player-list id used by the extended player list.
	NameID int

	Name      string
	Color     string
	ListName  string
	Group     string
	GroupRank int
	Skin      string
	Model     string
	Operator  bool
	Hidden    bool
	HeldBlock uint16

	Position    Position
	Rotation    Rotation
	OldPosition Position
	OldRotation Rotation

	JoinedAt time.Time

	attributes  Attributes
	ignored     map[string]struct{}
	partialChat strings.Builder
}

// NewPlayer builds a player with display defaults derived from name.
func NewPlayer(name string) *Player {
	return &Player{
		ID:         -1,
		NameID:     -1,
		Name:       name,
		Color:      "&f",
		ListName:   name,
		Group:      "Players",
		Model:      "humanoid",
		attributes: Attributes{},
		ignored:    make(map[string]struct{}),
	}
}

// ColoredName is the name prefixed with its colour code.
func (p *Player) ColoredName() string {
	return p.Color + p.Name
}

// SkinName returns the skin reference sent with extended spawns.
func (p *Player) SkinName() string {
	if p.Skin != "" {
		return p.Skin
	}
	return p.Name
}

// MoveTo records a new position and rotation. The old values keep the
// placement last announced to other players until Settle is called.
func (p *Player) MoveTo(pos Position, rot Rotation) {
	p.Position, p.Rotation = pos, rot
}

// Settle marks the current placement as announced.
func (p *Player) Settle() {
	p.OldPosition, p.OldRotation = p.Position, p.Rotation
}

// Place sets position and rotation without producing a delta.
func (p *Player) Place(pos Position, rot Rotation) {
	p.Position, p.Rotation = pos, rot
	p.OldPosition, p.OldRotation = pos, rot
}

// Attribute returns one persisted value.
func (p *Player) Attribute(key string) (any, bool) {
	v, ok := p.attributes[key]
	return v, ok
}

// SetAttribute stores one persisted value.
func (p *Player) SetAttribute(key string, value any) {
	if p.attributes == nil {
		p.attributes = Attributes{}
	}
	p.attributes[key] = value
}

// Attributes returns a copy of the persisted state.
func (p *Player) Attributes() Attributes {
	return p.attributes.Clone()
}

// MergeAttributes overlays loaded values onto the live map. With overwrite
// false, keys already set live are kept.
func (p *Player) MergeAttributes(loaded Attributes, overwrite bool) {
	if p.attributes == nil {
		p.attributes = Attributes{}
	}
	for k, v := range loaded {
		if _, exists := p.attributes[k]; exists && !overwrite {
			continue
		}
		p.attributes[k] = v
	}
}

// ToggleIgnore flips whether p ignores name and reports the new state.
func (p *Player) ToggleIgnore(name string) bool {
	if p.ignored == nil {
		p.ignored = make(map[string]struct{})
	}
	key := strings.ToLower(name)
	if _, ok := p.ignored[key]; ok {
		delete(p.ignored, key)
		return false
	}
	p.ignored[key] = struct{}{}
	return true
}

// IsIgnored reports whether p ignores other.
func (p *Player) IsIgnored(other *Player) bool {
	if other == nil {
		return false
	}
	_, ok := p.ignored[strings.ToLower(other.Name)]
	return ok
}

// CanSee is the visibility predicate for spawns, movement and chat: other
// must not be hidden and must not be ignored by p.
func (p *Player) CanSee(other *Player) bool {
	if other == nil {
		return false
	}
	return !other.Hidden && !p.IsIgnored(other)
}

// maxPartialChat caps an assembled multi-packet message.
const maxPartialChat = 4096

// AppendChat accumulates a chat fragment. When partial is false it returns
// the complete message and resets the buffer.
func (p *Player) AppendChat(fragment string, partial bool) (string, bool) {
	if partial {
		if p.partialChat.Len()+len(fragment) <= maxPartialChat {
			p.partialChat.WriteString(fragment)
		}
		return "", false
	}
	if p.partialChat.Len() == 0 {
		return fragment, true
	}
	p.partialChat.WriteString(fragment)
	full := p.partialChat.String()
	p.partialChat.Reset()
	return full, true
}
