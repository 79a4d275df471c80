// Package proto implements the fixed-schema binary packet codec.
//
// Every packet starts with a one byte opcode followed by the fields of the
// schema registered for that opcode, in order, with no length prefix and no
// delimiter. Multi-byte integers are big-endian. Strings are fixed 64 byte
// code page 437 fields padded with spaces. Because the stream carries no
// framing of its own a malformed packet cannot be skipped: callers treat any
// decoding error as fatal to the connection.
package proto

import "fmt"

// Kind identifies the wire encoding of a single field.
type Kind uint8

const (
	KindByte Kind = iota + 1
	KindShort
	KindInt
	KindString
	KindBytes1024
	KindBytes320
)

// StringWidth is the encoded byte length of every string field.
const StringWidth = 64

// Size reports the encoded byte length of a field of this kind.
func (k Kind) Size() int {
	switch k {
	case KindByte:
		return 1
	case KindShort:
		return 2
	case KindInt:
		return 4
	case KindString:
		return StringWidth
	case KindBytes1024:
		return 1024
	case KindBytes320:
		return 320
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindByte:
		return "byte"
	case KindShort:
		return "short"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindBytes1024:
		return "bytes1024"
	case KindBytes320:
		return "bytes320"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field is one named, typed slot of a schema.
type Field struct {
	Name string
	Kind Kind
}

// Schema is the ordered field layout of one opcode in one direction.
type Schema struct {
	Opcode byte
	Name   string
	Fields []Field

	size  int
	index map[string]int
}

// NewSchema builds a schema and precomputes its body size and field index.
func NewSchema(opcode byte, name string, fields ...Field) *Schema {
	s := &Schema{
		Opcode: opcode,
		Name:   name,
		Fields: fields,
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		s.size += f.Kind.Size()
		s.index[f.Name] = i
	}
	return s
}

// Size reports the body length in bytes, excluding the opcode.
func (s *Schema) Size() int {
	if s == nil {
		return 0
	}
	return s.size
}

// Index returns the position of the named field.
func (s *Schema) Index(name string) (int, bool) {
	if s == nil {
		return 0, false
	}
	i, ok := s.index[name]
	return i, ok
}

// Zero returns the zero value list for the schema, one Go value per field.
func (s *Schema) Zero() []any {
	values := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		values[i] = zeroValue(f.Kind)
	}
	return values
}

func zeroValue(kind Kind) any {
	switch kind {
	case KindByte:
		return uint8(0)
	case KindShort:
		return uint16(0)
	case KindInt:
		return int32(0)
	case KindString:
		return ""
	default:
		return make([]byte, kind.Size())
	}
}

// Table maps opcodes to schemas for one direction of the stream.
type Table struct {
	schemas [256]*Schema
}

// NewTable indexes the schemas by opcode, rejecting duplicates.
func NewTable(schemas ...*Schema) (*Table, error) {
	t := &Table{}
	for _, s := range schemas {
		if s == nil {
			continue
		}
		if existing := t.schemas[s.Opcode]; existing != nil {
			return nil, fmt.Errorf("opcode %d registered twice (%s, %s)", s.Opcode, existing.Name, s.Name)
		}
		t.schemas[s.Opcode] = s
	}
	return t, nil
}

// Lookup returns the schema registered for the opcode.
func (t *Table) Lookup(opcode byte) (*Schema, bool) {
	if t == nil {
		return nil, false
	}
	s := t.schemas[opcode]
	return s, s != nil
}

// Schemas lists the registered schemas in opcode order.
func (t *Table) Schemas() []*Schema {
	if t == nil {
		return nil
	}
	out := make([]*Schema, 0, 64)
	for _, s := range t.schemas {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
