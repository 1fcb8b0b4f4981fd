package datanode

import (
	"fmt"
	"sync"
)

// ErrNoBandwidth is returned when a transfer cannot be admitted because no
// bandwidth is currently available.
var ErrNoBandwidth = fmt.Errorf("no bandwidth available")

// Direction distinguishes inbound (STORE_CHUNK, REPLICATE_CHUNK as
// recipient) from outbound (GET_CHUNK, REPLICATE_CHUNK as source)
// transfers sharing the same (file_id, chunk_id).
type Direction string

const (
	DirectionInbound  Direction = "in"
	DirectionOutbound Direction = "out"
)

// TransferKey uniquely identifies one concurrent transfer.
type TransferKey struct {
	FileID    string
	ChunkID   int
	Direction Direction
}

// BandwidthLedger enforces the node's total link capacity invariant:
// available = bandwidth - sum(live usage); a reservation takes 0.8 of
// whatever is available at admission time, and release is mandatory on
// every exit path so the sum returns to exactly its prior value.
//
// Grounded on the reference node's active_bandwidth_usage dict keyed by
// transfer_key, with network_utilization = sum(active_bandwidth_usage.values()).
type BandwidthLedger struct {
	mu        sync.Mutex
	bandwidth int64
	usage     map[TransferKey]int64
}

// NewBandwidthLedger creates a ledger for a link of bandwidthBps bits/s.
func NewBandwidthLedger(bandwidthBps int64) *BandwidthLedger {
	return &BandwidthLedger{
		bandwidth: bandwidthBps,
		usage:     make(map[TransferKey]int64),
	}
}

// Reserve admits a new transfer and returns the bits/s reserved for it.
// It fails ErrNoBandwidth when the currently available bandwidth is <= 0.
func (b *BandwidthLedger) Reserve(key TransferKey) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var used int64
	for _, v := range b.usage {
		used += v
	}
	available := b.bandwidth - used
	if available <= 0 {
		return 0, ErrNoBandwidth
	}

	reserved := int64(float64(available) * 0.8)
	if reserved <= 0 {
		reserved = available
	}
	b.usage[key] = reserved
	return reserved, nil
}

// Release frees the bandwidth reserved for key. It is idempotent: calling
// Release for a key with no active reservation is a no-op, so handlers can
// call it unconditionally on every exit path (success, error, or panic
// recovery).
func (b *BandwidthLedger) Release(key TransferKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.usage, key)
}

// LiveUsage returns the sum of all currently reserved bandwidth, for tests
// and GET_STATUS.
func (b *BandwidthLedger) LiveUsage() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sum int64
	for _, v := range b.usage {
		sum += v
	}
	return sum
}
