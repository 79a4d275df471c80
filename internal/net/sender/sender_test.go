package sender

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"blockworld/server/internal/net/ext"
	"blockworld/server/internal/net/proto"
	"blockworld/server/internal/world"
)

type recordingSink struct {
	frames [][]byte
	closed string
}

func (r *recordingSink) Send(frame []byte)   { r.frames = append(r.frames, frame) }
func (r *recordingSink) Close(reason string) { r.closed = reason }

type fakeCaps map[string]int

func (c fakeCaps) Supports(name string, minVersion int) bool {
	v, ok := c[name]
	return ok && v >= minVersion
}

func newTestSender(t *testing.T, caps fakeCaps) (*Sender, *recordingSink, *proto.Codec) {
	t.Helper()
	_, out := proto.DefaultTables().Codecs()
	sink := &recordingSink{}
	return New(out, sink, caps, nil), sink, out
}

func decodeAll(t *testing.T, out *proto.Codec, frames [][]byte) []proto.Packet {
	t.Helper()
	packets := make([]proto.Packet, 0, len(frames))
	for _, frame := range frames {
		pkt, err := out.Decode(frame, frame[0])
		if err != nil {
			t.Fatalf("decode frame %d: %v", frame[0], err)
		}
		packets = append(packets, pkt)
	}
	return packets
}

func opcodes(packets []proto.Packet) []byte {
	ops := make([]byte, len(packets))
	for i, p := range packets {
		ops[i] = p.Opcode()
	}
	return ops
}

func testLevel(t *testing.T) *world.Level {
	t.Helper()
	level, err := world.NewLevel(16, 8, 16)
	if err != nil {
		t.Fatalf("new level: %v", err)
	}
	return level
}

func TestSpawnWithExtendedPlayerList(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{ext.ExtPlayerList: 2})
	viewer := world.NewPlayer("viewer")
	viewer.ID, viewer.NameID = 0, 10
	other := world.NewPlayer("other")
	other.ID, other.NameID = 3, 11
	other.Skin = "http://skins/other.png"

	s.AddPlayer(viewer, other)
	s.AddPlayer(viewer, viewer)
	packets := decodeAll(t, out, sink.frames)

	want := []byte{proto.OutAddPlayerName, proto.OutExtSpawn, proto.OutAddPlayerName}
	if diff := cmp.Diff(want, opcodes(packets)); diff != "" {
		t.Fatalf("unexpected packets (-want +got):\n%s", diff)
	}
	if got := packets[0].Int16("id"); got != 11 {
		t.Fatalf("expected name id 11 for other, got %d", got)
	}
	if got := packets[1].String("skin_name"); got != other.Skin {
		t.Fatalf("expected skin %q, got %q", other.Skin, got)
	}
	if got := packets[2].Int16("id"); got != -1 {
		t.Fatalf("expected own name id -1, got %d", got)
	}
}

func TestSpawnHiddenPlayerOnlyListed(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{ext.ExtPlayerList: 2})
	viewer := world.NewPlayer("viewer")
	other := world.NewPlayer("ghost")
	other.ID, other.NameID = 4, 12
	other.Hidden = true

	s.AddPlayer(viewer, other)
	if diff := cmp.Diff([]byte{proto.OutAddPlayerName}, opcodes(decodeAll(t, out, sink.frames))); diff != "" {
		t.Fatalf("unexpected packets (-want +got):\n%s", diff)
	}
}

func TestLegacySpawn(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{})
	viewer := world.NewPlayer("viewer")
	viewer.ID = 0
	other := world.NewPlayer("other")
	other.ID = 5
	other.Place(world.Position{X: 100, Y: 200, Z: 300}, world.Rotation{Yaw: 64, Pitch: 0})

	s.AddPlayer(viewer, viewer)
	s.AddPlayer(viewer, other)
	s.SpawnSelf(viewer, world.Standing(1, 2, 3), world.Rotation{})
	packets := decodeAll(t, out, sink.frames)

	if diff := cmp.Diff([]byte{proto.OutSpawnPlayer, proto.OutSpawnPlayer}, opcodes(packets)); diff != "" {
		t.Fatalf("unexpected packets (-want +got):\n%s", diff)
	}
	if got := packets[0].Int8("id"); got != 5 {
		t.Fatalf("expected entity id 5, got %d", got)
	}
	if got := packets[0].String("name"); got != "&fother" {
		t.Fatalf("expected coloured name, got %q", got)
	}
	if got := packets[1].Int8("id"); got != -1 {
		t.Fatalf("expected self spawn id -1, got %d", got)
	}
}

func TestSpawnUsesAnnouncedPlacement(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{})
	viewer := world.NewPlayer("viewer")
	other := world.NewPlayer("other")
	other.ID = 5
	other.Place(world.Position{X: 100, Y: 200, Z: 300}, world.Rotation{Yaw: 64})
	other.MoveTo(world.Position{X: 110, Y: 200, Z: 300}, world.Rotation{Yaw: 70})

	s.AddPlayer(viewer, other)
	packets := decodeAll(t, out, sink.frames)
	if len(packets) != 1 {
		t.Fatalf("expected one spawn, got %d packets", len(packets))
	}
	if x, yaw := int(packets[0].Short("x")), int(packets[0].Byte("yaw")); x != 100 || yaw != 64 {
		t.Fatalf("expected spawn at the announced x=100 yaw=64, got x=%d yaw=%d", x, yaw)
	}
}

func TestUpdateEntity(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{})
	p := world.NewPlayer("mover")
	p.ID = 7
	p.Place(world.Position{X: 500, Y: 500, Z: 500}, world.Rotation{Yaw: 10, Pitch: 10})

	if kind := s.UpdateEntity(p); kind != MoveNone {
		t.Fatalf("expected no packet for a still player, got %s", kind)
	}
	p.MoveTo(world.Position{X: 495, Y: 500, Z: 627}, world.Rotation{Yaw: 12, Pitch: 10})
	if kind := s.UpdateEntity(p); kind != MoveRelative {
		t.Fatalf("expected relative move, got %s", kind)
	}
	p.Settle()
	p.MoveTo(world.Position{X: 495, Y: 500, Z: 1000}, world.Rotation{Yaw: 12, Pitch: 10})
	if kind := s.UpdateEntity(p); kind != MoveTeleport {
		t.Fatalf("expected teleport, got %s", kind)
	}

	packets := decodeAll(t, out, sink.frames)
	if diff := cmp.Diff([]byte{proto.OutMoveLook, proto.OutTeleport}, opcodes(packets)); diff != "" {
		t.Fatalf("unexpected packets (-want +got):\n%s", diff)
	}
	move := packets[0]
	got := []int8{move.Int8("delta_x"), move.Int8("delta_y"), move.Int8("delta_z"), move.Int8("delta_yaw"), move.Int8("delta_pitch")}
	if diff := cmp.Diff([]int8{-5, 0, 127, 2, 0}, got); diff != "" {
		t.Fatalf("unexpected deltas (-want +got):\n%s", diff)
	}
	if z := packets[1].Short("z"); z != 1000 {
		t.Fatalf("expected absolute z 1000, got %d", z)
	}
}

func TestExtEntityTeleportFallsBack(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{})
	s.ExtEntityTeleport(world.Position{X: 1, Y: 2, Z: 3}, world.Rotation{})
	packets := decodeAll(t, out, sink.frames)
	if len(packets) != 1 || packets[0].Opcode() != proto.OutTeleport || packets[0].Int8("id") != -1 {
		t.Fatalf("expected a self teleport, got %v", opcodes(packets))
	}

	s, sink, out = newTestSender(t, fakeCaps{ext.ExtEntityTeleport: 1})
	s.ExtEntityTeleport(world.Position{X: 1, Y: 2, Z: 3}, world.Rotation{})
	packets = decodeAll(t, out, sink.frames)
	if packets[0].Opcode() != proto.OutExtEntityTeleport || packets[0].Byte("behaviour") != 0b111 || packets[0].Byte("id") != 255 {
		t.Fatalf("unexpected ext teleport %+v", packets[0].Values)
	}
}

func TestBlockFallbacks(t *testing.T) {
	cases := []struct {
		name string
		caps fakeCaps
		in   uint16
		want uint16
	}{
		{"original block", fakeCaps{}, 20, 20},
		{"custom block without support", fakeCaps{}, 50, 44},
		{"custom block with support", fakeCaps{ext.CustomBlocks: 1}, 50, 50},
		{"defined block without definitions", fakeCaps{ext.CustomBlocks: 1}, 100, world.BlockStone},
		{"defined block with definitions", fakeCaps{ext.BlockDefinitions: 1}, 100, 100},
		{"extended block without extended ids", fakeCaps{ext.BlockDefinitions: 1}, 300, world.BlockStone},
		{"extended block with extended ids", fakeCaps{ext.BlockDefinitions: 1, ext.ExtendedBlocks: 1}, 300, 300},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _, _ := newTestSender(t, tc.caps)
			if got := s.BlockFor(tc.in); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
	s, _, _ := newTestSender(t, fakeCaps{ext.BlockDefinitions: 1, ext.ExtendedBlocks: 1})
	if got := s.LevelBlock(300); got != byte(world.BlockStone) {
		t.Fatalf("expected the level stream to fall back to stone, got %d", got)
	}
}

func TestBlockUpdatesWithoutBulk(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{})
	level := testLevel(t)
	s.BlockUpdates(level, []BlockChange{{1, 2, 3, 5}, {4, 5, 6, 60}})
	packets := decodeAll(t, out, sink.frames)
	if diff := cmp.Diff([]byte{proto.OutSetBlock, proto.OutSetBlock}, opcodes(packets)); diff != "" {
		t.Fatalf("unexpected packets (-want +got):\n%s", diff)
	}
	if got := packets[1].Short("type"); got != 20 {
		t.Fatalf("expected custom block 60 to fall back to glass, got %d", got)
	}
}

func TestBlockUpdatesSplitIntoBulkPackets(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{ext.BulkBlockUpdate: 1, ext.BlockDefinitions: 1, ext.ExtendedBlocks: 1})
	level := testLevel(t)
	var changes []BlockChange
	for i := 0; i < 300; i++ {
		changes = append(changes, BlockChange{X: i % 16, Y: (i / 16) % 8, Z: i / 128, Type: uint16(i % 1024)})
	}
	s.BlockUpdates(level, changes)
	packets := decodeAll(t, out, sink.frames)
	if len(packets) != 2 {
		t.Fatalf("expected 2 bulk packets, got %d", len(packets))
	}
	if got := packets[0].Byte("count"); got != 255 {
		t.Fatalf("expected first count 255, got %d", got)
	}
	if got := packets[1].Byte("count"); got != 43 {
		t.Fatalf("expected second count 43, got %d", got)
	}
}

func TestChatSplitsIntoPackets(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{})
	s.Chat("&ahello there, this line is long enough that it has to wrap onto a second one")
	s.ChatType(100, "status line")
	packets := decodeAll(t, out, sink.frames)
	if len(packets) != 2 {
		t.Fatalf("expected 2 chat packets and no message-type packet, got %d", len(packets))
	}
	if got := packets[1].String("message"); got[:4] != "> &a" {
		t.Fatalf("expected a coloured continuation, got %q", got)
	}
}

func TestDefineBlockExtSpriteFallsBack(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{ext.BlockDefinitions: 1, ext.BlockDefinitionsExt: 2})
	sprite := world.BlockDefinition{ID: 70, Name: "Flower", Draw: world.DrawSprite, Max: [3]int{16, 16, 16}}
	solid := world.BlockDefinition{ID: 71, Name: "Slab", Draw: world.DrawOpaque, Max: [3]int{16, 8, 16}}
	s.DefineBlockExt(sprite)
	s.DefineBlockExt(solid)
	packets := decodeAll(t, out, sink.frames)
	if diff := cmp.Diff([]byte{proto.OutDefineBlock, proto.OutDefineBlockExt}, opcodes(packets)); diff != "" {
		t.Fatalf("unexpected packets (-want +got):\n%s", diff)
	}
	if packets[0].Byte("shape") != 0 || packets[0].Byte("block_draw") != world.DrawOpaque {
		t.Fatalf("expected sprite to render as shape 0 opaque, got %+v", packets[0].Values)
	}
	if got := packets[1].Byte("max_y"); got != 8 {
		t.Fatalf("expected max_y 8, got %d", got)
	}
}

func TestMapAspectAndColors(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{ext.EnvMapAspect: 1, ext.EnvColors: 1})
	level := testLevel(t)
	level.TextureURL = "http://example.test/pack.zip"
	level.Environment = world.Environment{SideBlock: 7, EdgeBlock: 8, EdgeHeight: 4, CloudHeight: 10, ViewDistance: 0, CloudSpeed: 256, WeatherSpeed: 256, WeatherFade: 128, ExpFog: 1, SideOffset: -2}
	level.Colors[world.ColorSky] = world.Color{R: 1, G: 2, B: 3}

	s.MapAspect(level)
	s.MapColors(level)
	packets := decodeAll(t, out, sink.frames)
	if len(packets) != 1+10+world.ColorCount {
		t.Fatalf("expected %d packets, got %d", 1+10+world.ColorCount, len(packets))
	}
	if got := packets[0].String("url"); got != level.TextureURL {
		t.Fatalf("expected url %q, got %q", level.TextureURL, got)
	}
	var props []int
	for _, p := range packets[1:11] {
		if int(p.Byte("type")) != len(props) {
			t.Fatalf("expected property %d, got %d", len(props), p.Byte("type"))
		}
		props = append(props, int(p.Int("value")))
	}
	if diff := cmp.Diff([]int{7, 8, 4, 10, 0, 256, 256, 128, 1, -2}, props); diff != "" {
		t.Fatalf("unexpected properties (-want +got):\n%s", diff)
	}
	sky := packets[11]
	if sky.Short("r") != 1 || sky.Short("g") != 2 || sky.Short("b") != 3 {
		t.Fatalf("unexpected sky colour %+v", sky.Values)
	}
	cloud := packets[12]
	if cloud.Short("r") != 255 {
		t.Fatalf("expected default cloud colour, got %+v", cloud.Values)
	}
}

func TestHoldThisSlot(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{ext.HeldBlock: 1})
	s.HoldThisSlot(2, 20)
	s.HoldThisSlot(9, 20)
	packets := decodeAll(t, out, sink.frames)
	got := []uint16{packets[0].Short("block_to_hold"), packets[1].Short("block_to_hold")}
	if diff := cmp.Diff([]uint16{20, 45}, got); diff != "" {
		t.Fatalf("unexpected held blocks (-want +got):\n%s", diff)
	}
	if len(packets) != 2 {
		t.Fatalf("expected out of range slot to be ignored, got %d packets", len(packets))
	}
}

func TestHackControl(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{ext.HackControl: 1})
	s.HackControl(false)
	p := decodeAll(t, out, sink.frames)[0]
	if p.Byte("flying") != 0 || p.Byte("third_person_view") != 1 || p.Int16("jump_height") != -1 {
		t.Fatalf("unexpected hack control %+v", p.Values)
	}
}

func TestBaselineClientOnlyGetsBaselinePackets(t *testing.T) {
	registry := ext.NewRegistry(ext.DefaultDeclarations())
	caps := registry.NewSet()
	caps.Begin("vanilla", 0)
	_, out := proto.DefaultTables().Codecs()
	sink := &recordingSink{}
	s := New(out, sink, caps, nil)
	level := testLevel(t)
	p := world.NewPlayer("plain")
	p.ID = 1

	s.LoginResponse("server", "motd", false)
	s.CustomBlockSupport(1)
	s.HoldThis(1, false)
	s.HackControl(true)
	s.MapAspect(level)
	s.MapColors(level)
	s.TwoWayPing(true, 1)
	s.DefineBlockExt(world.BlockDefinition{ID: 80})
	s.RemoveBlockDefinition(80)
	s.BlockPermissions(1, true, true)
	s.InventoryOrder(1, 1)
	s.ChangeModel(1, "chicken")
	s.EntityProperty(1, 0, 90)
	s.Hotkey("a", "b", 30, 0)
	s.AddPlayerName(1, "a", "b", "c", 0)
	s.RemovePlayerName(1)
	s.ExtSpawn(1, "a", "b", world.Position{}, world.Rotation{})
	s.DefineEffect(Effect{ID: 1})
	s.SpawnEffect(1, world.Position{}, world.Position{})
	s.SelectionCuboid(Cuboid{ID: 1})
	s.RemoveSelectionCuboid(1)
	s.Hotbar(1, 0)
	s.ChatType(2, "announce")
	s.BlockUpdates(level, []BlockChange{{1, 1, 1, 300}})
	s.RemovePlayer(p)
	s.Ping()

	baseline := map[byte]bool{
		proto.OutServerIdentification: true,
		proto.OutPing:                 true,
		proto.OutSetBlock:             true,
		proto.OutRemoveEntity:         true,
	}
	for _, pkt := range decodeAll(t, out, sink.frames) {
		if !baseline[pkt.Opcode()] {
			t.Fatalf("baseline client was sent opcode %d", pkt.Opcode())
		}
	}
	if len(sink.frames) != 4 {
		t.Fatalf("expected 4 baseline packets, got %d", len(sink.frames))
	}
}

func TestLoginFailureClosesSink(t *testing.T) {
	s, sink, _ := newTestSender(t, fakeCaps{})
	s.LoginFailure("Server is full")
	if sink.closed != "Server is full" {
		t.Fatalf("expected close reason, got %q", sink.closed)
	}
}

func TestStreamLevel(t *testing.T) {
	s, sink, out := newTestSender(t, fakeCaps{})
	level := testLevel(t)
	level.Fill(0, 0, 0, 15, 1, 15, world.BlockStone)
	if err := s.StreamLevel(level); err != nil {
		t.Fatalf("stream level: %v", err)
	}
	packets := decodeAll(t, out, sink.frames)
	if packets[0].Opcode() != proto.OutLevelInit || int(packets[0].Int("size")) != level.Volume() {
		t.Fatalf("expected level init with the volume, got %+v", packets[0].Values)
	}
	last := packets[len(packets)-1]
	if last.Opcode() != proto.OutLevelChunk || last.Byte("percent") != 100 {
		t.Fatalf("expected the last chunk at 100 percent, got %+v", last.Values)
	}
}
