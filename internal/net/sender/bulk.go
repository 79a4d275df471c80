package sender

import "blockworld/server/internal/world"

// BulkLimit is the most block changes one bulk update carries.
const BulkLimit = 256

// BlockChange is one block set at level coordinates.
type BlockChange struct {
	X, Y, Z int
	Type    uint16
}

// PackBulk lays out up to BulkLimit changes in the bulk update arrays:
// big-endian flat indices, then the low byte of each type followed by the
// high two bits of each type, four per byte. The count is the wire value,
// one less than the number of changes. Changes outside the level are
// skipped.
func PackBulk(level *world.Level, changes []BlockChange) (count int, indices []byte, types []byte) {
	indices = make([]byte, 4*BulkLimit)
	types = make([]byte, BulkLimit+BulkLimit/4)
	n := 0
	for _, c := range changes {
		if n == BulkLimit {
			break
		}
		index, ok := level.Index(c.X, c.Y, c.Z)
		if !ok {
			continue
		}
		indices[4*n] = byte(index >> 24)
		indices[4*n+1] = byte(index >> 16)
		indices[4*n+2] = byte(index >> 8)
		indices[4*n+3] = byte(index)
		types[n] = byte(c.Type)
		high := byte(c.Type>>8) & 0b11
		types[BulkLimit+n/4] |= high << ((n % 4) * 2)
		n++
	}
	return n - 1, indices, types
}
