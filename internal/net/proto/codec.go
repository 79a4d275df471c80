package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrFormat is wrapped by every decoding and encoding failure.
	ErrFormat = errors.New("malformed packet")

	ErrUnknownOpcode  = fmt.Errorf("%w: unknown opcode", ErrFormat)
	ErrUnderrun       = fmt.Errorf("%w: buffer underrun", ErrFormat)
	ErrOpcodeMismatch = fmt.Errorf("%w: opcode mismatch", ErrFormat)
	ErrStringOverflow = fmt.Errorf("%w: string overflow", ErrFormat)
	ErrFieldType      = fmt.Errorf("%w: field type", ErrFormat)
	ErrFieldCount     = fmt.Errorf("%w: field count", ErrFormat)
)

// Codec encodes and decodes the packets of one stream direction.
type Codec struct {
	table *Table
}

// NewCodec wraps a table. A nil table yields a codec that knows no opcodes.
func NewCodec(table *Table) *Codec {
	return &Codec{table: table}
}

// Schema returns the schema registered for the opcode.
func (c *Codec) Schema(opcode byte) (*Schema, bool) {
	if c == nil {
		return nil, false
	}
	return c.table.Lookup(opcode)
}

// Builder starts a named-field builder for the opcode.
func (c *Codec) Builder(opcode byte) *Builder {
	s, ok := c.Schema(opcode)
	if !ok {
		return &Builder{err: fmt.Errorf("%w %d", ErrUnknownOpcode, opcode)}
	}
	return NewBuilder(s)
}

// Encode serializes the ordered values under the opcode's schema.
func (c *Codec) Encode(opcode byte, values ...any) ([]byte, error) {
	s, ok := c.Schema(opcode)
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownOpcode, opcode)
	}
	return Encode(s, values...)
}

// Decode parses data as a packet with the expected opcode.
func (c *Codec) Decode(data []byte, opcode byte) (Packet, error) {
	s, ok := c.Schema(opcode)
	if !ok {
		return Packet{}, fmt.Errorf("%w %d", ErrUnknownOpcode, opcode)
	}
	return Decode(s, data)
}

// ReadPacket reads exactly one packet from the stream. A clean end of stream
// before the opcode byte is reported as io.EOF; anything else that prevents a
// full packet from being read is a format error.
func (c *Codec) ReadPacket(r io.Reader) (Packet, error) {
	var op [1]byte
	if _, err := io.ReadFull(r, op[:]); err != nil {
		return Packet{}, err
	}
	s, ok := c.Schema(op[0])
	if !ok {
		return Packet{}, fmt.Errorf("%w %d", ErrUnknownOpcode, op[0])
	}
	buf := make([]byte, 1+s.Size())
	buf[0] = op[0]
	if _, err := io.ReadFull(r, buf[1:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Packet{}, fmt.Errorf("%w: %s: %v", ErrUnderrun, s.Name, err)
		}
		return Packet{}, err
	}
	return Decode(s, buf)
}

// Encode serializes values in schema order, prefixed by the opcode.
func Encode(s *Schema, values ...any) ([]byte, error) {
	if len(values) != len(s.Fields) {
		return nil, fmt.Errorf("%w: %s wants %d values, got %d", ErrFieldCount, s.Name, len(s.Fields), len(values))
	}
	buf := make([]byte, 1+s.Size())
	buf[0] = s.Opcode
	off := 1
	for i, f := range s.Fields {
		if err := putField(buf[off:off+f.Kind.Size()], f, values[i]); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", s.Name, f.Name, err)
		}
		off += f.Kind.Size()
	}
	return buf, nil
}

// Decode parses a full packet, opcode included, under the schema.
func Decode(s *Schema, data []byte) (Packet, error) {
	if len(data) < 1 {
		return Packet{}, fmt.Errorf("%w: empty buffer", ErrUnderrun)
	}
	if data[0] != s.Opcode {
		return Packet{}, fmt.Errorf("%w: want %d, got %d", ErrOpcodeMismatch, s.Opcode, data[0])
	}
	if len(data) < 1+s.Size() {
		return Packet{}, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrUnderrun, s.Name, 1+s.Size(), len(data))
	}
	values := make([]any, len(s.Fields))
	off := 1
	for i, f := range s.Fields {
		raw := data[off : off+f.Kind.Size()]
		v, err := getField(raw, f.Kind)
		if err != nil {
			return Packet{}, fmt.Errorf("%s.%s: %w", s.Name, f.Name, err)
		}
		values[i] = v
		off += f.Kind.Size()
	}
	return Packet{Schema: s, Values: values}, nil
}

func putField(dst []byte, f Field, value any) error {
	switch f.Kind {
	case KindByte:
		v, ok := value.(uint8)
		if !ok {
			return fmt.Errorf("%w: want uint8, got %T", ErrFieldType, value)
		}
		dst[0] = v
	case KindShort:
		v, ok := value.(uint16)
		if !ok {
			return fmt.Errorf("%w: want uint16, got %T", ErrFieldType, value)
		}
		binary.BigEndian.PutUint16(dst, v)
	case KindInt:
		v, ok := value.(int32)
		if !ok {
			return fmt.Errorf("%w: want int32, got %T", ErrFieldType, value)
		}
		binary.BigEndian.PutUint32(dst, uint32(v))
	case KindString:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: want string, got %T", ErrFieldType, value)
		}
		encoded, err := encodeString(v)
		if err != nil {
			return err
		}
		if len(encoded) > StringWidth {
			return fmt.Errorf("%w: %d bytes", ErrStringOverflow, len(encoded))
		}
		n := copy(dst, encoded)
		for i := n; i < len(dst); i++ {
			dst[i] = ' '
		}
	case KindBytes1024, KindBytes320:
		v, ok := value.([]byte)
		if !ok {
			return fmt.Errorf("%w: want []byte, got %T", ErrFieldType, value)
		}
		if len(v) > len(dst) {
			return fmt.Errorf("%w: %d bytes exceed %s", ErrFieldType, len(v), f.Kind)
		}
		n := copy(dst, v)
		clear(dst[n:])
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrFieldType, f.Kind)
	}
	return nil
}

func getField(raw []byte, kind Kind) (any, error) {
	switch kind {
	case KindByte:
		return raw[0], nil
	case KindShort:
		return binary.BigEndian.Uint16(raw), nil
	case KindInt:
		return int32(binary.BigEndian.Uint32(raw)), nil
	case KindString:
		return decodeString(raw)
	case KindBytes1024, KindBytes320:
		out := make([]byte, len(raw))
		copy(out, raw)
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrFieldType, kind)
	}
}

var cp437 = charmap.CodePage437

func encodeString(s string) ([]byte, error) {
	out, err := encoding.ReplaceUnsupported(cp437.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFieldType, err)
	}
	return out, nil
}

func decodeString(raw []byte) (string, error) {
	out, err := cp437.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFieldType, err)
	}
	return strings.TrimRight(string(out), " "), nil
}
