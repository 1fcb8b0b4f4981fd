// Package chunker splits whole-file byte buffers into ordered, content-addressed
// chunks and verifies their integrity.
//
// Chunk size is selected from the total file size rather than being a fixed
// constant: small files get small chunks so a single-chunk upload doesn't waste
// bandwidth reserving a 10 MiB slot, and large files get large chunks so the
// chunk count — and the resulting fan-out of STORE_CHUNK calls — stays bounded.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	smallFileThreshold  = 10 * 1024 * 1024  // 10 MiB
	mediumFileThreshold = 100 * 1024 * 1024 // 100 MiB

	SmallChunkSize  = 512 * 1024       // 512 KiB
	MediumChunkSize = 2 * 1024 * 1024  // 2 MiB
	LargeChunkSize  = 10 * 1024 * 1024 // 10 MiB
)

// Chunk is one ordered slice of a file's bytes plus its content hash.
type Chunk struct {
	Hash    string
	Payload []byte
	ID      int
}

// ChunkSizeFor picks the chunk size for a file of the given total size,
// per the thresholds in the specification's chunking table.
func ChunkSizeFor(totalSize int64) int {
	switch {
	case totalSize < smallFileThreshold:
		return SmallChunkSize
	case totalSize < mediumFileThreshold:
		return MediumChunkSize
	default:
		return LargeChunkSize
	}
}

// ChunkCount returns the number of chunks a file of totalSize bytes splits
// into at the given chunkSize, i.e. ceil(totalSize / chunkSize). A zero-size
// file has zero chunks.
func ChunkCount(totalSize int64, chunkSize int) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	cs := int64(chunkSize)
	return int((totalSize + cs - 1) / cs)
}

// Split divides data into ordered chunks of chunkSize bytes, the last one
// possibly shorter. Every chunk's hash is computed eagerly so callers never
// need a separate pass to discover corruption introduced after the split.
func Split(data []byte, chunkSize int) []Chunk {
	if chunkSize <= 0 || len(data) == 0 {
		return nil
	}
	count := ChunkCount(int64(len(data)), chunkSize)
	chunks := make([]Chunk, 0, count)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		payload := make([]byte, end-start)
		copy(payload, data[start:end])
		chunks = append(chunks, Chunk{
			ID:      i,
			Payload: payload,
			Hash:    Hash(payload),
		})
	}
	return chunks
}

// Hash computes the content hash of a chunk's payload: SHA-256, hex-encoded.
func Hash(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether payload's content hash equals want. It is a pure
// comparison used both at write time (reject on mismatch before persisting)
// and, optionally, at read time (detect bit rot or disk corruption).
func Verify(payload []byte, want string) bool {
	return Hash(payload) == want
}
