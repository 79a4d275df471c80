package proto

import (
	"fmt"
	"unicode/utf8"
)

// Packet is a decoded or staged packet: a schema plus one value per field.
type Packet struct {
	Schema *Schema
	Values []any
}

// Opcode reports the packet's opcode.
func (p Packet) Opcode() byte {
	if p.Schema == nil {
		return 0
	}
	return p.Schema.Opcode
}

// Value returns the named field's raw value.
func (p Packet) Value(name string) (any, bool) {
	i, ok := p.Schema.Index(name)
	if !ok || i >= len(p.Values) {
		return nil, false
	}
	return p.Values[i], true
}

// Byte returns a byte field, or 0 when absent.
func (p Packet) Byte(name string) uint8 {
	v, _ := p.Value(name)
	b, _ := v.(uint8)
	return b
}

// Int8 returns a byte field reinterpreted as signed.
func (p Packet) Int8(name string) int8 {
	return int8(p.Byte(name))
}

// Short returns a short field, or 0 when absent.
func (p Packet) Short(name string) uint16 {
	v, _ := p.Value(name)
	s, _ := v.(uint16)
	return s
}

// Int16 returns a short field reinterpreted as signed.
func (p Packet) Int16(name string) int16 {
	return int16(p.Short(name))
}

// Int returns an int field, or 0 when absent.
func (p Packet) Int(name string) int32 {
	v, _ := p.Value(name)
	i, _ := v.(int32)
	return i
}

// String returns a string field, or "" when absent.
func (p Packet) String(name string) string {
	v, _ := p.Value(name)
	s, _ := v.(string)
	return s
}

// Bytes returns a raw block field, or nil when absent.
func (p Packet) Bytes(name string) []byte {
	v, _ := p.Value(name)
	b, _ := v.([]byte)
	return b
}

// Builder stages a packet by field name. Unset fields keep their zero value.
type Builder struct {
	schema *Schema
	values []any
	err    error
}

// NewBuilder starts a packet for the schema.
func NewBuilder(s *Schema) *Builder {
	return &Builder{schema: s, values: s.Zero()}
}

func (b *Builder) set(name string, kind Kind, value any) *Builder {
	if b.err != nil {
		return b
	}
	i, ok := b.schema.Index(name)
	if !ok {
		b.err = fmt.Errorf("%w: %s has no field %q", ErrFieldType, b.schema.Name, name)
		return b
	}
	if got := b.schema.Fields[i].Kind; got != kind {
		b.err = fmt.Errorf("%w: %s.%s is %s, not %s", ErrFieldType, b.schema.Name, name, got, kind)
		return b
	}
	b.values[i] = value
	return b
}

// Byte sets a byte field. Negative values are stored in two's complement.
func (b *Builder) Byte(name string, v int) *Builder {
	return b.set(name, KindByte, uint8(v))
}

// Bool sets a byte field to 1 or 0.
func (b *Builder) Bool(name string, v bool) *Builder {
	if v {
		return b.Byte(name, 1)
	}
	return b.Byte(name, 0)
}

// Short sets a short field. Negative values are stored in two's complement.
func (b *Builder) Short(name string, v int) *Builder {
	return b.set(name, KindShort, uint16(v))
}

// Int sets an int field.
func (b *Builder) Int(name string, v int) *Builder {
	return b.set(name, KindInt, int32(v))
}

// String sets a string field, truncating to the field width.
func (b *Builder) String(name string, v string) *Builder {
	return b.set(name, KindString, truncate(v, StringWidth))
}

// Bytes sets a raw block field of either width.
func (b *Builder) Bytes(name string, v []byte) *Builder {
	if b.err != nil {
		return b
	}
	i, ok := b.schema.Index(name)
	if !ok {
		b.err = fmt.Errorf("%w: %s has no field %q", ErrFieldType, b.schema.Name, name)
		return b
	}
	return b.set(name, b.schema.Fields[i].Kind, v)
}

// Packet returns the staged packet or the first error recorded while building.
func (b *Builder) Packet() (Packet, error) {
	if b.err != nil {
		return Packet{}, b.err
	}
	return Packet{Schema: b.schema, Values: b.values}, nil
}

// Encode serializes the staged packet.
func (b *Builder) Encode() ([]byte, error) {
	p, err := b.Packet()
	if err != nil {
		return nil, err
	}
	return Encode(p.Schema, p.Values...)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
