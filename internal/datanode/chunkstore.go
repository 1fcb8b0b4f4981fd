package datanode

import (
	"fmt"
	"sync"

	"github.com/dreamware/torua/internal/chunker"
	"github.com/dreamware/torua/internal/storage"
)

// ErrInsufficientStorage is returned when a chunk write would exceed the
// node's declared capacity.
var ErrInsufficientStorage = fmt.Errorf("insufficient storage")

// ErrChecksumMismatch is returned when a payload's SHA-256 digest does not
// match a declared hash.
var ErrChecksumMismatch = fmt.Errorf("checksum mismatch")

// ErrChunkNotFound is returned by Get for an unknown (file_id, chunk_id).
var ErrChunkNotFound = fmt.Errorf("chunk not found")

// ChunkStore persists chunk payloads keyed by (file_id, chunk_id) on top
// of the generic storage.Store key/value allocator, adding the capacity
// accounting and checksum verification STORE_CHUNK/GET_CHUNK need.
//
// Usage is derived on demand from the underlying store's own Stats()
// rather than tracked separately, so a Delete (quarantining a chunk that
// failed a verified read) reclaims its capacity automatically instead of
// needing a matching decrement. capacityMu serializes the
// check-then-write/check-then-delete sequences against each other; it
// does not protect store reads that don't need a consistent capacity
// snapshot, such as Get.
type ChunkStore struct {
	store    storage.Store
	capacity int64

	capacityMu sync.Mutex

	hashMu sync.Mutex
	hashes map[string]string
}

// NewChunkStore creates a chunk store with capacityBytes total space,
// backed by store for the actual payload bytes.
func NewChunkStore(store storage.Store, capacityBytes int64) *ChunkStore {
	return &ChunkStore{
		store:    store,
		capacity: capacityBytes,
		hashes:   make(map[string]string),
	}
}

func chunkKeyString(fileID string, chunkID int) string {
	return fmt.Sprintf("%s:%d", fileID, chunkID)
}

// Put verifies capacity and, if wantHash is non-empty, verifies the
// payload's SHA-256 digest against it before persisting. The digest it
// accepts is recorded alongside the payload so a later verified Get can
// detect corruption introduced after the write, not just at write time. It
// returns the computed hash on success.
func (c *ChunkStore) Put(fileID string, chunkID int, payload []byte, wantHash string) (string, error) {
	size := int64(len(payload))

	hash := chunker.Hash(payload)
	if wantHash != "" && hash != wantHash {
		return "", ErrChecksumMismatch
	}

	key := chunkKeyString(fileID, chunkID)

	c.capacityMu.Lock()
	defer c.capacityMu.Unlock()

	if int64(c.store.Stats().Bytes)+size > c.capacity {
		return "", ErrInsufficientStorage
	}
	if err := c.store.Put(key, payload); err != nil {
		return "", err
	}

	c.hashMu.Lock()
	c.hashes[key] = hash
	c.hashMu.Unlock()

	return hash, nil
}

// Get returns the payload and recorded content hash for (fileID, chunkID).
// If verify is true, the stored bytes are re-hashed and compared against
// the hash recorded when the chunk was written; a mismatch -- meaning the
// bytes changed on disk since then -- returns ErrChecksumMismatch and no
// payload.
func (c *ChunkStore) Get(fileID string, chunkID int, verify bool) ([]byte, string, error) {
	key := chunkKeyString(fileID, chunkID)
	payload, err := c.store.Get(key)
	if err == storage.ErrKeyNotFound {
		return nil, "", ErrChunkNotFound
	}
	if err != nil {
		return nil, "", err
	}

	c.hashMu.Lock()
	wantHash := c.hashes[key]
	c.hashMu.Unlock()

	if verify && wantHash != "" && chunker.Hash(payload) != wantHash {
		return nil, "", ErrChecksumMismatch
	}
	return payload, wantHash, nil
}

// Corrupt inverts the first byte of the stored payload for (fileID, chunkID) without
// touching its recorded hash, simulating bit rot on the underlying medium
// after a successful write. It exists for fault-injection in tests that
// exercise GET_CHUNK's verify-on-read path.
func (c *ChunkStore) Corrupt(fileID string, chunkID int) error {
	key := chunkKeyString(fileID, chunkID)
	payload, err := c.store.Get(key)
	if err != nil {
		return err
	}
	corrupted := make([]byte, len(payload))
	copy(corrupted, payload)
	corrupted[0] ^= 0xFF
	return c.store.Put(key, corrupted)
}

// Has reports whether (fileID, chunkID) is stored on this node.
func (c *ChunkStore) Has(fileID string, chunkID int) bool {
	_, err := c.store.Get(chunkKeyString(fileID, chunkID))
	return err == nil
}

// Delete removes (fileID, chunkID) and its recorded hash, reclaiming its
// capacity. HandleGetChunk calls this when a verified read finds the
// stored bytes no longer match their recorded hash: a chunk that has
// failed integrity is quarantined rather than kept around to be served
// again or picked as a re-replication source.
func (c *ChunkStore) Delete(fileID string, chunkID int) error {
	key := chunkKeyString(fileID, chunkID)

	c.capacityMu.Lock()
	defer c.capacityMu.Unlock()

	if err := c.store.Delete(key); err != nil {
		return err
	}

	c.hashMu.Lock()
	delete(c.hashes, key)
	c.hashMu.Unlock()

	return nil
}

// UsedBytes returns the total payload bytes currently stored.
func (c *ChunkStore) UsedBytes() int64 {
	return int64(c.store.Stats().Bytes)
}

// AvailableBytes returns the remaining declared capacity.
func (c *ChunkStore) AvailableBytes() int64 {
	avail := c.capacity - int64(c.store.Stats().Bytes)
	if avail < 0 {
		return 0
	}
	return avail
}

// Capacity returns the node's total declared capacity.
func (c *ChunkStore) Capacity() int64 {
	return c.capacity
}

// ChunkCount returns the number of chunks currently stored.
func (c *ChunkStore) ChunkCount() int {
	return c.store.Stats().Keys
}
