package sender

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"blockworld/server/internal/world"
)

func unpackBulk(level *world.Level, count int, indices, types []byte) []BlockChange {
	out := make([]BlockChange, count+1)
	for n := range out {
		index := int(indices[4*n])<<24 | int(indices[4*n+1])<<16 | int(indices[4*n+2])<<8 | int(indices[4*n+3])
		x, y, z := level.Coords(index)
		high := uint16(types[BulkLimit+n/4]>>((n%4)*2)) & 0b11
		out[n] = BlockChange{X: x, Y: y, Z: z, Type: high<<8 | uint16(types[n])}
	}
	return out
}

func TestPackBulkRoundTrip(t *testing.T) {
	level, err := world.NewLevel(32, 16, 32)
	if err != nil {
		t.Fatalf("new level: %v", err)
	}
	var changes []BlockChange
	for i := 0; i < BulkLimit; i++ {
		changes = append(changes, BlockChange{
			X:    (i * 7) % 32,
			Y:    (i * 3) % 16,
			Z:    (i * 11) % 32,
			Type: uint16((i * 37) % 1024),
		})
	}
	changes[0].Type = 1023
	changes[1].Type = 256
	changes[2].Type = 511

	count, indices, types := PackBulk(level, changes)
	if count != BulkLimit-1 {
		t.Fatalf("expected count %d, got %d", BulkLimit-1, count)
	}
	if len(indices) != 1024 || len(types) != 320 {
		t.Fatalf("unexpected array sizes %d/%d", len(indices), len(types))
	}
	if diff := cmp.Diff(changes, unpackBulk(level, count, indices, types)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestPackBulkHighBitLayout(t *testing.T) {
	level, _ := world.NewLevel(8, 8, 8)
	changes := []BlockChange{{0, 0, 0, 0x100}, {1, 0, 0, 0x200}, {2, 0, 0, 0x300}, {3, 0, 0, 0}, {4, 0, 0, 0x3FF}}
	count, indices, types := PackBulk(level, changes)
	if count != 4 {
		t.Fatalf("expected count 4, got %d", count)
	}
	if types[256] != 0b00_11_10_01 {
		t.Fatalf("unexpected packed high bits %08b", types[256])
	}
	if types[257] != 0b11 || types[4] != 0xFF {
		t.Fatalf("unexpected fifth change encoding %08b %02x", types[257], types[4])
	}
	if indices[7] != 1 {
		t.Fatalf("expected second index 1 big-endian, got % x", indices[4:8])
	}
}

func TestPackBulkSkipsOutOfBounds(t *testing.T) {
	level, _ := world.NewLevel(4, 4, 4)
	count, _, _ := PackBulk(level, []BlockChange{{9, 9, 9, 1}, {1, 1, 1, 1}})
	if count != 0 {
		t.Fatalf("expected a single packed change, got count %d", count)
	}
}
