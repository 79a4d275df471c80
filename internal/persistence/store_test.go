package persistence

import (
	"context"
	"errors"
	"testing"

	"blockworld/server/internal/world"
)

func TestMemoryStoreRoundTripsThroughCodec(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, err := store.Load(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	attrs := world.Attributes{"logins": 2, "title": "mason"}
	if err := store.Save(ctx, "Alice", attrs); err != nil {
		t.Fatalf("save: %v", err)
	}
	attrs["logins"] = 100

	loaded, err := store.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Int("logins") != 2 {
		t.Fatalf("expected stored copy to be isolated, got %v", loaded["logins"])
	}
	if loaded.String("title") != "mason" {
		t.Fatalf("expected title mason, got %q", loaded.String("title"))
	}
}

func TestDecodeAttributesRejectsGarbage(t *testing.T) {
	if _, err := DecodeAttributes([]byte{0xc1}); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestEncodeNilAttributes(t *testing.T) {
	data, err := EncodeAttributes(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	attrs, err := DecodeAttributes(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(attrs) != 0 {
		t.Fatalf("expected empty attributes, got %v", attrs)
	}
}
