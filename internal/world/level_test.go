package world

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestLevelIndexRoundTrip(t *testing.T) {
	level, err := NewLevel(5, 4, 3)
	if err != nil {
		t.Fatalf("new level failed: %v", err)
	}
	i, ok := level.Index(2, 3, 1)
	if !ok {
		t.Fatalf("expected in-bounds index")
	}
	if want := (3*3+1)*5 + 2; i != want {
		t.Fatalf("expected index %d, got %d", want, i)
	}
	x, y, z := level.Coords(i)
	if x != 2 || y != 3 || z != 1 {
		t.Fatalf("expected (2,3,1), got (%d,%d,%d)", x, y, z)
	}
	if _, ok := level.Index(5, 0, 0); ok {
		t.Fatalf("expected x=width to be out of bounds")
	}
}

func TestSetBlockVisibleImmediately(t *testing.T) {
	level, _ := NewLevel(4, 4, 4)
	if !level.SetBlock(1, 2, 3, 300) {
		t.Fatalf("expected set to change the block")
	}
	if got := level.Block(1, 2, 3); got != 300 {
		t.Fatalf("expected 300, got %d", got)
	}
	if level.SetBlock(1, 2, 3, 300) {
		t.Fatalf("expected identical set to report no change")
	}
	if level.SetBlock(-1, 0, 0, 1) {
		t.Fatalf("expected out of bounds set to fail")
	}
	if got := level.Block(9, 9, 9); got != BlockAir {
		t.Fatalf("expected air out of bounds, got %d", got)
	}
}

func TestNewLevelRejectsBadDimensions(t *testing.T) {
	if _, err := NewLevel(0, 1, 1); !errors.Is(err, ErrDimensions) {
		t.Fatalf("expected ErrDimensions, got %v", err)
	}
	if _, err := NewLevel(1, MaxDimension+1, 1); !errors.Is(err, ErrDimensions) {
		t.Fatalf("expected ErrDimensions, got %v", err)
	}
}

func TestGenerateFlat(t *testing.T) {
	level, err := GenerateFlat(8, 16, 8, 8)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	cases := []struct {
		y    int
		want uint16
	}{
		{0, BlockBedrock},
		{1, BlockStone},
		{5, BlockDirt},
		{7, BlockDirt},
		{8, BlockGrass},
		{9, BlockAir},
	}
	for _, tc := range cases {
		if got := level.Block(3, tc.y, 3); got != tc.want {
			t.Fatalf("expected block %d at y=%d, got %d", tc.want, tc.y, got)
		}
	}
	if want := Standing(4, 9, 4); level.SpawnPosition != want {
		t.Fatalf("expected spawn %+v, got %+v", want, level.SpawnPosition)
	}
}

func TestEncodeLevelFormats(t *testing.T) {
	blocks := bytes.Repeat([]byte{1, 2, 3}, 700)

	classic, err := EncodeLevel(blocks, false)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(classic))
	if err != nil {
		t.Fatalf("expected gzip stream: %v", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("gunzip failed: %v", err)
	}
	if got := binary.BigEndian.Uint32(raw[:4]); got != uint32(len(blocks)) {
		t.Fatalf("expected count prefix %d, got %d", len(blocks), got)
	}
	if !bytes.Equal(raw[4:], blocks) {
		t.Fatalf("classic payload mismatch")
	}

	fast, err := EncodeLevel(blocks, true)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	raw, err = io.ReadAll(flate.NewReader(bytes.NewReader(fast)))
	if err != nil {
		t.Fatalf("inflate failed: %v", err)
	}
	if !bytes.Equal(raw, blocks) {
		t.Fatalf("fast map payload mismatch")
	}
}

func TestChunks(t *testing.T) {
	data := make([]byte, 2*ChunkSize+10)
	chunks := Chunks(data)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[2]) != 10 {
		t.Fatalf("expected short tail chunk, got %d", len(chunks[2]))
	}
	if len(Chunks(nil)) != 0 {
		t.Fatalf("expected no chunks for empty data")
	}
}

func TestCustomFallback(t *testing.T) {
	if got, ok := CustomFallback(50); !ok || got != 44 {
		t.Fatalf("expected slab fallback, got %d %v", got, ok)
	}
	if got, ok := CustomFallback(65); !ok || got != BlockStone {
		t.Fatalf("expected stone brick to fall back to stone, got %d", got)
	}
	if _, ok := CustomFallback(49); ok {
		t.Fatalf("expected original block to need no fallback")
	}
	if _, ok := CustomFallback(66); ok {
		t.Fatalf("expected ids past the custom range to be rejected")
	}
}

func TestPositionBlock(t *testing.T) {
	x, y, z := Position{X: -1, Y: 64, Z: 31}.Block()
	if x != -1 || y != 2 || z != 0 {
		t.Fatalf("unexpected block coords (%d,%d,%d)", x, y, z)
	}
}
