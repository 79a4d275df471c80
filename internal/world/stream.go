package world

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"encoding/binary"
	"fmt"
)

// ChunkSize is the payload size of one level chunk packet.
const ChunkSize = 1024

// EncodeLevel compresses a block snapshot for streaming. The classic format
// is gzip over a four byte big-endian block count followed by the blocks.
// The fast map format is raw DEFLATE over the blocks with no count.
func EncodeLevel(blocks []byte, fastMap bool) ([]byte, error) {
	var buf bytes.Buffer
	if fastMap {
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(blocks); err != nil {
			return nil, fmt.Errorf("deflate level: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("deflate level: %w", err)
		}
		return buf.Bytes(), nil
	}
	w := gzip.NewWriter(&buf)
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(blocks)))
	if _, err := w.Write(count[:]); err != nil {
		return nil, fmt.Errorf("gzip level: %w", err)
	}
	if _, err := w.Write(blocks); err != nil {
		return nil, fmt.Errorf("gzip level: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip level: %w", err)
	}
	return buf.Bytes(), nil
}

// Chunks splits compressed level data into chunk payloads of at most
// ChunkSize bytes. The returned slices alias data.
func Chunks(data []byte) [][]byte {
	chunks := make([][]byte, 0, len(data)/ChunkSize+1)
	for start := 0; start < len(data); start += ChunkSize {
		chunks = append(chunks, data[start:min(start+ChunkSize, len(data))])
	}
	return chunks
}
