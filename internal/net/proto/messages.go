package proto

// Version is the protocol version spoken by the server.
const Version = 7

// Magic is the identification byte a client sets when it speaks the
// extension protocol.
const Magic = 0x42

// Outgoing opcodes (server to client).
const (
	OutServerIdentification byte = 0
	OutPing                 byte = 1
	OutLevelInit            byte = 2
	OutLevelChunk           byte = 3
	OutLevelFinish          byte = 4
	OutSetBlock             byte = 6
	OutSpawnPlayer          byte = 7
	OutTeleport             byte = 8
	OutMoveLook             byte = 9
	OutRemoveEntity         byte = 12
	OutChat                 byte = 13
	OutDisconnect           byte = 14
	OutExtInfo              byte = 16
	OutExtEntry             byte = 17
	OutCustomBlockSupport   byte = 19
	OutHoldThis             byte = 20
	OutTextHotKey           byte = 21
	OutAddPlayerName        byte = 22
	OutRemovePlayerName     byte = 24
	OutEnvColor             byte = 25
	OutSelectionCuboid      byte = 26
	OutRemoveSelection      byte = 27
	OutBlockPermission      byte = 28
	OutChangeModel          byte = 29
	OutHackControl          byte = 32
	OutExtSpawn             byte = 33
	OutDefineBlock          byte = 35
	OutRemoveBlockDef       byte = 36
	OutDefineBlockExt       byte = 37
	OutBulkBlockUpdate      byte = 38
	OutMapURL               byte = 40
	OutMapProperty          byte = 41
	OutEntityProperty       byte = 42
	OutTwoWayPing           byte = 43
	OutInventoryOrder       byte = 44
	OutHotbar               byte = 45
	OutDefineEffect         byte = 48
	OutSpawnEffect          byte = 49
	OutExtEntityTeleport    byte = 54
)

// Incoming opcodes (client to server).
const (
	InIdentification     byte = 0
	InSetBlock           byte = 5
	InPosition           byte = 8
	InChat               byte = 13
	InExtInfo            byte = 16
	InExtEntry           byte = 17
	InCustomBlockSupport byte = 19
	InTwoWayPing         byte = 43
)

// Tables holds both directions of the opcode space.
type Tables struct {
	Incoming *Table
	Outgoing *Table
}

// Codecs returns one codec per direction.
func (t Tables) Codecs() (in, out *Codec) {
	return NewCodec(t.Incoming), NewCodec(t.Outgoing)
}

func b(name string) Field     { return Field{Name: name, Kind: KindByte} }
func h(name string) Field     { return Field{Name: name, Kind: KindShort} }
func i32(name string) Field   { return Field{Name: name, Kind: KindInt} }
func str(name string) Field   { return Field{Name: name, Kind: KindString} }
func raw1k(name string) Field { return Field{Name: name, Kind: KindBytes1024} }
func raw320(name string) Field {
	return Field{Name: name, Kind: KindBytes320}
}

// DefaultTables builds a fresh copy of the server's opcode tables.
func DefaultTables() Tables {
	out, err := NewTable(
		NewSchema(OutServerIdentification, "server_identification",
			b("protocol_version"), str("server_name"), str("server_message"), b("user_type")),
		NewSchema(OutPing, "ping"),
		NewSchema(OutLevelInit, "level_init", i32("size")),
		NewSchema(OutLevelChunk, "level_chunk", h("chunk_length"), raw1k("chunk_data"), b("percent")),
		NewSchema(OutLevelFinish, "level_finish", h("width"), h("height"), h("length")),
		NewSchema(OutSetBlock, "set_block", h("x"), h("y"), h("z"), h("type")),
		NewSchema(OutSpawnPlayer, "spawn_player",
			b("id"), str("name"), h("x"), h("y"), h("z"), b("yaw"), b("pitch")),
		NewSchema(OutTeleport, "teleport", b("id"), h("x"), h("y"), h("z"), b("yaw"), b("pitch")),
		NewSchema(OutMoveLook, "move_look",
			b("id"), b("delta_x"), b("delta_y"), b("delta_z"), b("delta_yaw"), b("delta_pitch")),
		NewSchema(OutRemoveEntity, "remove_entity", b("id")),
		NewSchema(OutChat, "chat", b("id"), str("message")),
		NewSchema(OutDisconnect, "disconnect", str("reason")),
		NewSchema(OutExtInfo, "ext_info", str("app_name"), h("extension_count")),
		NewSchema(OutExtEntry, "ext_entry", str("ext_name"), i32("ext_version")),
		NewSchema(OutCustomBlockSupport, "custom_block_support", b("support_level")),
		NewSchema(OutHoldThis, "hold_this", h("block_to_hold"), b("prevent_change")),
		NewSchema(OutTextHotKey, "text_hotkey", str("label"), str("action"), i32("key"), b("modifier")),
		NewSchema(OutAddPlayerName, "add_player_name",
			h("id"), str("player_name"), str("list_name"), str("group_name"), b("group_rank")),
		NewSchema(OutRemovePlayerName, "remove_player_name", h("id")),
		NewSchema(OutEnvColor, "env_color", b("color"), h("r"), h("g"), h("b")),
		NewSchema(OutSelectionCuboid, "selection_cuboid",
			b("id"), str("label"),
			h("start_x"), h("start_y"), h("start_z"), h("end_x"), h("end_y"), h("end_z"),
			h("r"), h("g"), h("b"), h("opacity")),
		NewSchema(OutRemoveSelection, "remove_selection", b("id")),
		NewSchema(OutBlockPermission, "block_permission", h("id"), b("place"), b("delete")),
		NewSchema(OutChangeModel, "change_model", b("id"), str("model")),
		NewSchema(OutHackControl, "hack_control",
			b("flying"), b("noclip"), b("speeding"), b("spawn_control"), b("third_person_view"), h("jump_height")),
		NewSchema(OutExtSpawn, "ext_spawn",
			b("id"), str("name"), str("skin_name"), h("x"), h("y"), h("z"), b("yaw"), b("pitch")),
		NewSchema(OutDefineBlock, "define_block",
			h("id"), str("name"), b("solid"), b("movement_speed"),
			h("texture_top"), h("texture_side"), h("texture_bottom"),
			b("emits_light"), b("walk_sound"), b("full_bright"), b("shape"), b("block_draw"),
			b("fog_density"), b("fog_r"), b("fog_g"), b("fog_b")),
		NewSchema(OutRemoveBlockDef, "remove_block_definition", h("id")),
		NewSchema(OutDefineBlockExt, "define_block_ext",
			h("id"), str("name"), b("solid"), b("movement_speed"),
			h("texture_top"), h("texture_left"), h("texture_right"),
			h("texture_front"), h("texture_back"), h("texture_bottom"),
			b("emits_light"), b("walk_sound"), b("full_bright"),
			b("min_x"), b("min_y"), b("min_z"), b("max_x"), b("max_y"), b("max_z"),
			b("block_draw"), b("fog_density"), b("fog_r"), b("fog_g"), b("fog_b")),
		NewSchema(OutBulkBlockUpdate, "bulk_block_update", b("count"), raw1k("indices"), raw320("blocks")),
		NewSchema(OutMapURL, "map_url", str("url")),
		NewSchema(OutMapProperty, "map_property", b("type"), i32("value")),
		NewSchema(OutEntityProperty, "entity_property", b("id"), b("key"), i32("value")),
		NewSchema(OutTwoWayPing, "two_way_ping", b("server_to_client"), h("data")),
		NewSchema(OutInventoryOrder, "inventory_order", h("id"), h("order")),
		NewSchema(OutHotbar, "hotbar", h("id"), b("index")),
		NewSchema(OutDefineEffect, "define_effect",
			b("id"), b("u1"), b("v1"), b("u2"), b("v2"), b("r"), b("g"), b("b"),
			b("frame_count"), b("particle_count"), b("size"), i32("size_variation"),
			h("spread"), i32("speed"), i32("gravity"), i32("lifetime"), i32("lifetime_variation"),
			b("collide"), b("full_bright")),
		NewSchema(OutSpawnEffect, "spawn_effect",
			b("id"), i32("pos_x"), i32("pos_y"), i32("pos_z"),
			i32("origin_x"), i32("origin_y"), i32("origin_z")),
		NewSchema(OutExtEntityTeleport, "ext_entity_teleport",
			b("id"), b("behaviour"), h("x"), h("y"), h("z"), b("yaw"), b("pitch")),
	)
	if err != nil {
		panic(err) // the literal above is the only input
	}
	in, err := NewTable(
		NewSchema(InIdentification, "player_identification",
			b("protocol_version"), str("username"), str("verification_key"), b("magic")),
		NewSchema(InSetBlock, "set_block", h("x"), h("y"), h("z"), b("mode"), h("type")),
		NewSchema(InPosition, "position", b("player_id"), h("x"), h("y"), h("z"), b("yaw"), b("pitch")),
		NewSchema(InChat, "chat", b("partial"), str("message")),
		NewSchema(InExtInfo, "ext_info", str("app_name"), h("extension_count")),
		NewSchema(InExtEntry, "ext_entry", str("ext_name"), i32("ext_version")),
		NewSchema(InCustomBlockSupport, "custom_block_support", b("support_level")),
		NewSchema(InTwoWayPing, "two_way_ping", b("server_to_client"), h("data")),
	)
	if err != nil {
		panic(err)
	}
	return Tables{Incoming: in, Outgoing: out}
}
