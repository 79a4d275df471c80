package lifecycle

import (
	"context"

	"blockworld/server/logging"
)

const (
	// EventPlayerJoined is emitted when a player finishes loading the level.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerDisconnected is emitted when a player leaves the world.
	EventPlayerDisconnected logging.EventType = "lifecycle.player_disconnected"
	// EventPlayerLoaded is emitted once saved attributes have been applied.
	EventPlayerLoaded logging.EventType = "lifecycle.player_loaded"
	// EventPlayerSaved is emitted after a player's attributes were written.
	EventPlayerSaved logging.EventType = "lifecycle.player_saved"
	// EventPersistenceFailed is emitted when a load or save could not complete.
	EventPersistenceFailed logging.EventType = "lifecycle.persistence_failed"
)

// PlayerJoinedPayload captures spawn metadata for a new player.
type PlayerJoinedPayload struct {
	EntityID   int `json:"entityId"`
	SpawnX     int `json:"spawnX"`
	SpawnY     int `json:"spawnY"`
	SpawnZ     int `json:"spawnZ"`
	Extensions int `json:"extensions"`
}

// PlayerDisconnectedPayload captures the reason a player left.
type PlayerDisconnectedPayload struct {
	Reason string `json:"reason"`
}

// PersistencePayload describes one persistence request outcome.
type PersistencePayload struct {
	Direction  string `json:"direction"`
	Attributes int    `json:"attributes,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PlayerJoined publishes a player join event.
func PlayerJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerJoinedPayload, extra map[string]any) {
	publish(ctx, pub, EventPlayerJoined, logging.SeverityInfo, logging.CategoryLifecycle, tick, actor, payload, extra)
}

// PlayerDisconnected publishes a player disconnect event.
func PlayerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerDisconnectedPayload, extra map[string]any) {
	publish(ctx, pub, EventPlayerDisconnected, logging.SeverityInfo, logging.CategoryLifecycle, tick, actor, payload, extra)
}

// PlayerLoaded publishes a debug event after a load request was applied.
func PlayerLoaded(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PersistencePayload) {
	publish(ctx, pub, EventPlayerLoaded, logging.SeverityDebug, logging.CategoryPersistence, 0, actor, payload, nil)
}

// PlayerSaved publishes a debug event after a save request completed.
func PlayerSaved(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PersistencePayload) {
	publish(ctx, pub, EventPlayerSaved, logging.SeverityDebug, logging.CategoryPersistence, 0, actor, payload, nil)
}

// PersistenceFailed publishes a warning when a request was dropped.
func PersistenceFailed(ctx context.Context, pub logging.Publisher, actor logging.EntityRef, payload PersistencePayload) {
	publish(ctx, pub, EventPersistenceFailed, logging.SeverityWarn, logging.CategoryPersistence, 0, actor, payload, nil)
}

func publish(ctx context.Context, pub logging.Publisher, eventType logging.EventType, severity logging.Severity, category string, tick uint64, actor logging.EntityRef, payload any, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     eventType,
		Tick:     tick,
		Actor:    actor,
		Severity: severity,
		Category: category,
		Payload:  payload,
		Extra:    extra,
	})
}
