// Package sender turns world events into packets for one session, picking
// the richest encoding the session negotiated and falling back quietly when
// it did not.
package sender

import (
	"blockworld/server/internal/net/ext"
	"blockworld/server/internal/net/proto"
	"blockworld/server/internal/telemetry"
	"blockworld/server/internal/world"
)

// Sink is where encoded frames go. *session.Session satisfies it.
type Sink interface {
	Send(frame []byte)
	Close(reason string)
}

// Capabilities answers whether the peer negotiated an extension.
// *ext.Set satisfies it.
type Capabilities interface {
	Supports(name string, minVersion int) bool
}

// Operator user type in the identification response.
const operatorUserType = 100

// holdSlots maps hotbar slots 0..8 to the block held in each for the
// slot-selecting HoldThis trick.
var holdSlots = [...]uint16{1, 4, 45, 3, 5, 17, 18, 2, 44}

// Sender writes packets for one session. Methods may be called from any
// goroutine; frames from one goroutine keep their order.
type Sender struct {
	out    *proto.Codec
	sink   Sink
	caps   Capabilities
	logger telemetry.Logger
}

// New builds a sender.
func New(out *proto.Codec, sink Sink, caps Capabilities, logger telemetry.Logger) *Sender {
	if logger == nil {
		logger = telemetry.Discard
	}
	return &Sender{out: out, sink: sink, caps: caps, logger: logger}
}

// Supports reports whether the session negotiated name at minVersion.
func (s *Sender) Supports(name string, minVersion int) bool {
	if s == nil || s.caps == nil {
		return false
	}
	return s.caps.Supports(name, minVersion)
}

func (s *Sender) build(opcode byte) *proto.Builder {
	return s.out.Builder(opcode)
}

func (s *Sender) send(b *proto.Builder) {
	frame, err := b.Encode()
	if err != nil {
		s.logger.Printf("[sender] dropping packet: %v", err)
		return
	}
	s.sink.Send(frame)
}

// BlockFor maps a block id to one the client can render.
func (s *Sender) BlockFor(id uint16) uint16 {
	switch {
	case id > world.MaxByteBlock && !s.Supports(ext.ExtendedBlocks, 1):
		return world.BlockStone
	case id > world.MaxCustomBlock && !s.Supports(ext.BlockDefinitions, 1):
		return world.BlockStone
	case id > world.MaxOriginalBlock && id <= world.MaxCustomBlock && !s.Supports(ext.CustomBlocks, 1):
		fallback, _ := world.CustomFallback(id)
		return fallback
	}
	return id
}

// LevelBlock maps a block id for the one-byte level stream.
func (s *Sender) LevelBlock(id uint16) byte {
	id = s.BlockFor(id)
	if id > world.MaxByteBlock {
		return byte(world.BlockStone)
	}
	return byte(id)
}

func (s *Sender) LoginResponse(serverName, motd string, operator bool) {
	userType := 0
	if operator {
		userType = operatorUserType
	}
	s.send(s.build(proto.OutServerIdentification).
		Byte("protocol_version", proto.Version).
		String("server_name", serverName).
		String("server_message", motd).
		Byte("user_type", userType))
}

// LoginFailure ends the session. The reason is the last packet the client
// sees.
func (s *Sender) LoginFailure(reason string) {
	s.sink.Close(reason)
}

func (s *Sender) LevelInit(size int) {
	s.send(s.build(proto.OutLevelInit).Int("size", size))
}

func (s *Sender) LevelChunk(chunk []byte, percent int) {
	s.send(s.build(proto.OutLevelChunk).
		Short("chunk_length", len(chunk)).
		Bytes("chunk_data", chunk).
		Byte("percent", percent))
}

func (s *Sender) LevelFinish(level *world.Level) {
	s.send(s.build(proto.OutLevelFinish).
		Short("width", level.Width()).
		Short("height", level.Height()).
		Short("length", level.Length()))
}

// StreamLevel sends level init and every chunk of the compressed level.
func (s *Sender) StreamLevel(level *world.Level) error {
	fastMap := s.Supports(ext.FastMap, 1)
	data, err := world.EncodeLevel(level.Snapshot(s.LevelBlock), fastMap)
	if err != nil {
		return err
	}
	s.LevelInit(level.Volume())
	chunks := world.Chunks(data)
	for i, chunk := range chunks {
		s.LevelChunk(chunk, (i+1)*100/len(chunks))
	}
	return nil
}

func (s *Sender) teleport(id int, pos world.Position, rot world.Rotation) {
	s.send(s.build(proto.OutTeleport).
		Byte("id", id).
		Short("x", pos.X).
		Short("y", pos.Y).
		Short("z", pos.Z).
		Byte("yaw", rot.Yaw).
		Byte("pitch", rot.Pitch))
}

// Teleport moves the session's own player.
func (s *Sender) Teleport(pos world.Position, rot world.Rotation) {
	s.teleport(-1, pos, rot)
}

// EntityTeleport moves another entity to an absolute placement.
func (s *Sender) EntityTeleport(id int, pos world.Position, rot world.Rotation) {
	s.teleport(id, pos, rot)
}

// ExtEntityTeleport moves the session's own player, keeping its velocity
// when the client supports it.
func (s *Sender) ExtEntityTeleport(pos world.Position, rot world.Rotation) {
	if !s.Supports(ext.ExtEntityTeleport, 1) {
		s.Teleport(pos, rot)
		return
	}
	s.send(s.build(proto.OutExtEntityTeleport).
		Byte("id", 255).
		Byte("behaviour", 0b111).
		Short("x", pos.X).
		Short("y", pos.Y).
		Short("z", pos.Z).
		Byte("yaw", rot.Yaw).
		Byte("pitch", rot.Pitch))
}

// SpawnSelf spawns the session's own player at the given placement.
func (s *Sender) SpawnSelf(p *world.Player, pos world.Position, rot world.Rotation) {
	s.spawn(-1, -1, p, pos, rot, false, true)
}

// AddPlayer announces other to viewer, the player this session belongs to.
// The spawn uses the last announced placement so the pending delta of the
// next movement broadcast lands on the real position.
func (s *Sender) AddPlayer(viewer, other *world.Player) {
	if other == nil {
		return
	}
	nameID := other.NameID
	if viewer != nil && nameID == viewer.NameID {
		nameID = -1
	}
	visible := viewer == nil || viewer.CanSee(other)
	s.spawn(other.ID, nameID, other, other.OldPosition, other.OldRotation, viewer == other, visible)
}

func (s *Sender) spawn(id, nameID int, p *world.Player, pos world.Position, rot world.Rotation, self, visible bool) {
	if s.Supports(ext.ExtPlayerList, 2) {
		s.AddPlayerName(nameID, p.Name, p.ListName, p.Group, p.GroupRank)
		if !self && visible {
			s.ExtSpawn(id, p.ColoredName(), p.SkinName(), pos, rot)
		}
		return
	}
	if self {
		return
	}
	s.send(s.build(proto.OutSpawnPlayer).
		Byte("id", id).
		String("name", p.ColoredName()).
		Short("x", pos.X).
		Short("y", pos.Y).
		Short("z", pos.Z).
		Byte("yaw", rot.Yaw).
		Byte("pitch", rot.Pitch))
}

func (s *Sender) AddPlayerName(id int, name, listName, group string, rank int) {
	if !s.Supports(ext.ExtPlayerList, 2) {
		return
	}
	s.send(s.build(proto.OutAddPlayerName).
		Short("id", id).
		String("player_name", name).
		String("list_name", listName).
		String("group_name", group).
		Byte("group_rank", rank))
}

func (s *Sender) RemovePlayerName(id int) {
	if !s.Supports(ext.ExtPlayerList, 2) {
		return
	}
	s.send(s.build(proto.OutRemovePlayerName).Short("id", id))
}

func (s *Sender) ExtSpawn(id int, name, skin string, pos world.Position, rot world.Rotation) {
	if !s.Supports(ext.ExtPlayerList, 2) {
		return
	}
	s.send(s.build(proto.OutExtSpawn).
		Byte("id", id).
		String("name", name).
		String("skin_name", skin).
		Short("x", pos.X).
		Short("y", pos.Y).
		Short("z", pos.Z).
		Byte("yaw", rot.Yaw).
		Byte("pitch", rot.Pitch))
}

// UpdateEntity sends the movement of p since its last announced placement.
func (s *Sender) UpdateEntity(p *world.Player) MoveKind {
	move := PlanMove(p.OldPosition, p.Position, p.OldRotation, p.Rotation)
	switch move.Kind {
	case MoveRelative:
		s.send(s.build(proto.OutMoveLook).
			Byte("id", p.ID).
			Byte("delta_x", move.Position.X).
			Byte("delta_y", move.Position.Y).
			Byte("delta_z", move.Position.Z).
			Byte("delta_yaw", move.Rotation.Yaw).
			Byte("delta_pitch", move.Rotation.Pitch))
	case MoveTeleport:
		s.teleport(p.ID, move.Position, move.Rotation)
	}
	return move.Kind
}

func (s *Sender) RemoveEntity(id int) {
	s.send(s.build(proto.OutRemoveEntity).Byte("id", id))
}

// RemovePlayer removes p's entity and its player-list entry.
func (s *Sender) RemovePlayer(p *world.Player) {
	s.RemoveEntity(p.ID)
	s.RemovePlayerName(p.NameID)
}

// ExtHandshake advertises the server's extensions.
func (s *Sender) ExtHandshake(appName string, decls []ext.Declaration) {
	s.send(s.build(proto.OutExtInfo).
		String("app_name", appName).
		Short("extension_count", len(decls)))
	for _, d := range decls {
		s.send(s.build(proto.OutExtEntry).
			String("ext_name", d.Name).
			Int("ext_version", d.Version))
	}
}

func (s *Sender) CustomBlockSupport(level int) {
	if !s.Supports(ext.CustomBlocks, 1) {
		return
	}
	s.send(s.build(proto.OutCustomBlockSupport).Byte("support_level", level))
}

func (s *Sender) HoldThis(block uint16, preventChange bool) {
	if !s.Supports(ext.HeldBlock, 1) {
		return
	}
	s.send(s.build(proto.OutHoldThis).
		Short("block_to_hold", int(s.BlockFor(block))).
		Bool("prevent_change", preventChange))
}

// HoldThisSlot puts block in the hand and then selects hotbar slot by
// holding the block the client keeps there by default.
func (s *Sender) HoldThisSlot(slot int, block uint16) {
	if slot < 0 || slot >= len(holdSlots) {
		return
	}
	s.HoldThis(block, false)
	s.HoldThis(holdSlots[slot], false)
}

func (s *Sender) HackControl(enable bool) {
	if !s.Supports(ext.HackControl, 1) {
		return
	}
	s.send(s.build(proto.OutHackControl).
		Bool("flying", enable).
		Bool("noclip", enable).
		Bool("speeding", enable).
		Bool("spawn_control", enable).
		Byte("third_person_view", 1).
		Short("jump_height", -1))
}

// MapAspect sends the texture pack URL and every environment property.
func (s *Sender) MapAspect(level *world.Level) {
	if !s.Supports(ext.EnvMapAspect, 1) {
		return
	}
	s.send(s.build(proto.OutMapURL).String("url", level.TextureURL))
	for kind, value := range level.Environment.Properties() {
		s.MapProperty(kind, value)
	}
}

func (s *Sender) MapProperty(kind, value int) {
	if !s.Supports(ext.EnvMapAspect, 1) {
		return
	}
	s.send(s.build(proto.OutMapProperty).Byte("type", kind).Int("value", value))
}

func (s *Sender) MapColor(slot int, c world.Color) {
	if !s.Supports(ext.EnvColors, 1) {
		return
	}
	s.send(s.build(proto.OutEnvColor).
		Byte("color", slot).
		Short("r", c.R).
		Short("g", c.G).
		Short("b", c.B))
}

// MapColors sends every colour slot, using the defaults for unset ones.
func (s *Sender) MapColors(level *world.Level) {
	for slot, c := range level.Colors {
		if c.Unset() {
			c = world.DefaultColors[slot]
		}
		s.MapColor(slot, c)
	}
}

func (s *Sender) Ping() {
	s.send(s.build(proto.OutPing))
}

func (s *Sender) TwoWayPing(serverToClient bool, data int) {
	if !s.Supports(ext.TwoWayPing, 1) {
		return
	}
	s.send(s.build(proto.OutTwoWayPing).
		Bool("server_to_client", serverToClient).
		Short("data", data))
}

// DefineBlock sends the basic block definition. Shape is the block height
// in sixteenths, or 0 for sprites.
func (s *Sender) DefineBlock(def world.BlockDefinition) {
	if !s.Supports(ext.BlockDefinitions, 1) {
		return
	}
	shape, draw := clamp(def.Max[1], 1, 16), def.Draw
	if def.Sprite() {
		shape, draw = 0, world.DrawOpaque
	}
	s.send(s.build(proto.OutDefineBlock).
		Short("id", int(def.ID)).
		String("name", def.Name).
		Byte("solid", def.Solidity).
		Byte("movement_speed", def.MovementSpeed).
		Short("texture_top", def.TextureTop).
		Short("texture_side", def.TextureLeft).
		Short("texture_bottom", def.TextureBottom).
		Bool("emits_light", def.EmitsLight).
		Byte("walk_sound", def.WalkSound).
		Bool("full_bright", def.FullBright).
		Byte("shape", shape).
		Byte("block_draw", draw).
		Byte("fog_density", def.FogDensity).
		Byte("fog_r", def.Fog[0]).
		Byte("fog_g", def.Fog[1]).
		Byte("fog_b", def.Fog[2]))
}

// DefineBlockExt sends the extended definition with per-face textures and
// bounds. Sprites, and clients without the extended form, get DefineBlock.
func (s *Sender) DefineBlockExt(def world.BlockDefinition) {
	if def.Sprite() || !s.Supports(ext.BlockDefinitionsExt, 2) {
		s.DefineBlock(def)
		return
	}
	s.send(s.build(proto.OutDefineBlockExt).
		Short("id", int(def.ID)).
		String("name", def.Name).
		Byte("solid", def.Solidity).
		Byte("movement_speed", def.MovementSpeed).
		Short("texture_top", def.TextureTop).
		Short("texture_left", def.TextureLeft).
		Short("texture_right", def.TextureRight).
		Short("texture_front", def.TextureFront).
		Short("texture_back", def.TextureBack).
		Short("texture_bottom", def.TextureBottom).
		Bool("emits_light", def.EmitsLight).
		Byte("walk_sound", def.WalkSound).
		Bool("full_bright", def.FullBright).
		Byte("min_x", def.Min[0]).
		Byte("min_y", def.Min[1]).
		Byte("min_z", def.Min[2]).
		Byte("max_x", def.Max[0]).
		Byte("max_y", def.Max[1]).
		Byte("max_z", def.Max[2]).
		Byte("block_draw", def.Draw).
		Byte("fog_density", def.FogDensity).
		Byte("fog_r", def.Fog[0]).
		Byte("fog_g", def.Fog[1]).
		Byte("fog_b", def.Fog[2]))
}

func (s *Sender) BlockPermissions(id uint16, place, remove bool) {
	if !s.Supports(ext.BlockPermissions, 1) {
		return
	}
	s.send(s.build(proto.OutBlockPermission).
		Short("id", int(id)).
		Bool("place", place).
		Bool("delete", remove))
}

func (s *Sender) RemoveBlockDefinition(id uint16) {
	if !s.Supports(ext.BlockDefinitions, 1) {
		return
	}
	s.send(s.build(proto.OutRemoveBlockDef).Short("id", int(id)))
}

func (s *Sender) InventoryOrder(id uint16, order int) {
	if !s.Supports(ext.InventoryOrder, 1) {
		return
	}
	s.send(s.build(proto.OutInventoryOrder).Short("id", int(id)).Short("order", order))
}

func (s *Sender) ChangeModel(id int, model string) {
	if !s.Supports(ext.ChangeModel, 1) {
		return
	}
	s.send(s.build(proto.OutChangeModel).Byte("id", id).String("model", model))
}

func (s *Sender) EntityProperty(id, key, value int) {
	if !s.Supports(ext.EntityProperty, 1) {
		return
	}
	s.send(s.build(proto.OutEntityProperty).Byte("id", id).Byte("key", key).Int("value", value))
}

func (s *Sender) Hotkey(label, action string, key, modifier int) {
	if !s.Supports(ext.TextHotKey, 1) {
		return
	}
	s.send(s.build(proto.OutTextHotKey).
		String("label", label).
		String("action", action).
		Int("key", key).
		Byte("modifier", modifier))
}

// Chat sends a plain chat message, split as needed.
func (s *Sender) Chat(message string) {
	s.ChatType(0, message)
}

// ChatType sends a message to a MessageTypes slot. Clients without
// MessageTypes only receive type 0.
func (s *Sender) ChatType(messageType int, message string) {
	if messageType != 0 && !s.Supports(ext.MessageTypes, 1) {
		return
	}
	for _, segment := range SplitChat(message) {
		s.send(s.build(proto.OutChat).Byte("id", messageType).String("message", segment.Text()))
	}
}

func (s *Sender) Block(x, y, z int, t uint16) {
	s.send(s.build(proto.OutSetBlock).
		Short("x", x).
		Short("y", y).
		Short("z", z).
		Short("type", int(s.BlockFor(t))))
}

// BlockUpdates sends a batch of block changes, packed into bulk updates
// when the client supports them.
func (s *Sender) BlockUpdates(level *world.Level, changes []BlockChange) {
	if !s.Supports(ext.BulkBlockUpdate, 1) {
		for _, c := range changes {
			s.Block(c.X, c.Y, c.Z, c.Type)
		}
		return
	}
	mapped := make([]BlockChange, len(changes))
	for i, c := range changes {
		c.Type = s.BlockFor(c.Type)
		mapped[i] = c
	}
	for len(mapped) > 0 {
		n := min(len(mapped), BulkLimit)
		count, indices, types := PackBulk(level, mapped[:n])
		mapped = mapped[n:]
		if count < 0 {
			continue
		}
		s.send(s.build(proto.OutBulkBlockUpdate).
			Byte("count", count).
			Bytes("indices", indices).
			Bytes("blocks", types))
	}
}

// Effect is a particle effect definition.
type Effect struct {
	ID                int
	U1, V1, U2, V2    int
	R, G, B           int
	FrameCount        int
	ParticleCount     int
	Size              int
	SizeVariation     int
	Spread            int
	Speed             int
	Gravity           int
	Lifetime          int
	LifetimeVariation int
	Collide           int
	FullBright        bool
}

func (s *Sender) DefineEffect(e Effect) {
	if !s.Supports(ext.CustomParticles, 1) {
		return
	}
	s.send(s.build(proto.OutDefineEffect).
		Byte("id", e.ID).
		Byte("u1", e.U1).
		Byte("v1", e.V1).
		Byte("u2", e.U2).
		Byte("v2", e.V2).
		Byte("r", e.R).
		Byte("g", e.G).
		Byte("b", e.B).
		Byte("frame_count", e.FrameCount).
		Byte("particle_count", e.ParticleCount).
		Byte("size", e.Size).
		Int("size_variation", e.SizeVariation).
		Short("spread", e.Spread).
		Int("speed", e.Speed).
		Int("gravity", e.Gravity).
		Int("lifetime", e.Lifetime).
		Int("lifetime_variation", e.LifetimeVariation).
		Byte("collide", e.Collide).
		Bool("full_bright", e.FullBright))
}

func (s *Sender) SpawnEffect(id int, at, origin world.Position) {
	if !s.Supports(ext.CustomParticles, 1) {
		return
	}
	s.send(s.build(proto.OutSpawnEffect).
		Byte("id", id).
		Int("pos_x", at.X).
		Int("pos_y", at.Y).
		Int("pos_z", at.Z).
		Int("origin_x", origin.X).
		Int("origin_y", origin.Y).
		Int("origin_z", origin.Z))
}

// Cuboid is a highlighted selection box in block coordinates.
type Cuboid struct {
	ID         int
	Label      string
	Start, End [3]int
	R, G, B    int
	Opacity    int
}

func (s *Sender) SelectionCuboid(c Cuboid) {
	if !s.Supports(ext.SelectionCuboid, 1) {
		return
	}
	s.send(s.build(proto.OutSelectionCuboid).
		Byte("id", c.ID).
		String("label", c.Label).
		Short("start_x", c.Start[0]).
		Short("start_y", c.Start[1]).
		Short("start_z", c.Start[2]).
		Short("end_x", c.End[0]).
		Short("end_y", c.End[1]).
		Short("end_z", c.End[2]).
		Short("r", c.R).
		Short("g", c.G).
		Short("b", c.B).
		Short("opacity", c.Opacity))
}

func (s *Sender) RemoveSelectionCuboid(id int) {
	if !s.Supports(ext.SelectionCuboid, 1) {
		return
	}
	s.send(s.build(proto.OutRemoveSelection).Byte("id", id))
}

func (s *Sender) Hotbar(id uint16, index int) {
	if !s.Supports(ext.SetHotbar, 1) {
		return
	}
	s.send(s.build(proto.OutHotbar).Short("id", int(id)).Byte("index", index))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
