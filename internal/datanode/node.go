package datanode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/torua/internal/chunker"
	"github.com/dreamware/torua/internal/cluster"
	"github.com/dreamware/torua/internal/logging"
	"github.com/dreamware/torua/internal/storage"
	"github.com/dreamware/torua/internal/wire"
)

// Node is a storage node: its chunk store, bandwidth ledger, and the wire
// handlers that serve STORE_CHUNK, GET_CHUNK, REPLICATE_CHUNK, and
// GET_STATUS.
type Node struct {
	ID   string
	Addr string

	Chunks    *ChunkStore
	Bandwidth *BandwidthLedger

	log *logging.Logger

	VerifyOnWrite bool
	VerifyOnRead  bool

	mu         sync.RWMutex
	fileCounts map[string]struct{}
}

// NewNode creates a node with capacityBytes of chunk storage and
// bandwidthBps of link capacity.
func NewNode(id, addr string, capacityBytes, bandwidthBps int64, log *logging.Logger) *Node {
	return &Node{
		ID:            id,
		Addr:          addr,
		Chunks:        NewChunkStore(storage.NewMemoryStore(), capacityBytes),
		Bandwidth:     NewBandwidthLedger(bandwidthBps),
		log:           log,
		VerifyOnWrite: true,
		VerifyOnRead:  true,
		fileCounts:    make(map[string]struct{}),
	}
}

// HandleStoreChunk implements STORE_CHUNK: capacity check, optional hash
// verification, bandwidth reservation, persist, release. Bandwidth is
// reserved before the write and released on every exit path including a
// capacity or checksum failure discovered mid-handler.
func (n *Node) HandleStoreChunk(fileID string, chunkID int, payload []byte, declaredHash string) (hash string, size int, werr error) {
	key := TransferKey{FileID: fileID, ChunkID: chunkID, Direction: DirectionInbound}

	if _, err := n.Bandwidth.Reserve(key); err != nil {
		return "", 0, werr2(wire.NoBandwidth, err)
	}
	defer n.Bandwidth.Release(key)

	wantHash := ""
	if n.VerifyOnWrite {
		wantHash = declaredHash
	}

	h, err := n.Chunks.Put(fileID, chunkID, payload, wantHash)
	if err != nil {
		code := wire.InsufficientStorage
		if err == ErrChecksumMismatch {
			code = wire.ChecksumMismatch
		}
		n.log.ChunkRejected(fileID, chunkID, string(code), err.Error())
		return "", 0, werr2(code, err)
	}

	n.mu.Lock()
	n.fileCounts[fileID] = struct{}{}
	n.mu.Unlock()

	n.log.ChunkStored(fileID, chunkID, len(payload))
	return h, len(payload), nil
}

// HandleGetChunk implements GET_CHUNK: lookup, bandwidth reservation,
// return payload, release bandwidth.
func (n *Node) HandleGetChunk(fileID string, chunkID int) (payload []byte, hash string, rerr error) {
	if !n.Chunks.Has(fileID, chunkID) {
		return nil, "", werr2(wire.NotFound, ErrChunkNotFound)
	}

	key := TransferKey{FileID: fileID, ChunkID: chunkID, Direction: DirectionOutbound}
	if _, err := n.Bandwidth.Reserve(key); err != nil {
		return nil, "", werr2(wire.NoBandwidth, err)
	}
	defer n.Bandwidth.Release(key)

	payload, hash, err := n.Chunks.Get(fileID, chunkID, n.VerifyOnRead)
	if err != nil {
		code := wire.NotFound
		if err == ErrChecksumMismatch {
			code = wire.ChecksumMismatch
			if derr := n.Chunks.Delete(fileID, chunkID); derr != nil {
				n.log.Error(derr, "quarantine after checksum mismatch failed")
			} else {
				n.log.ChunkRejected(fileID, chunkID, string(code), "quarantined after failed verification")
			}
		}
		return nil, "", werr2(code, err)
	}

	return payload, hash, nil
}

// ReplicateChunk pulls (fileID, chunkID) from srcAddr over the wire
// protocol and, on success, stores it locally as if STORE_CHUNK had been
// called directly -- the same bandwidth and capacity rules apply.
func (n *Node) ReplicateChunk(ctx context.Context, srcAddr, fileID string, chunkID int) error {
	conn, err := wire.Dial(ctx, srcAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("replicate: dial %s: %w", srcAddr, err)
	}
	defer conn.Close()

	req := wire.NewEnvelope(wire.GetChunk, map[string]any{
		"file_id":  fileID,
		"chunk_id": chunkID,
	})
	if err := conn.WriteFrame(req, nil); err != nil {
		return fmt.Errorf("replicate: send GET_CHUNK: %w", err)
	}

	resp, payload, err := conn.ReadFrame()
	if err != nil {
		return fmt.Errorf("replicate: read CHUNK_DATA: %w", err)
	}
	if resp.MsgType == wire.Error {
		return fmt.Errorf("replicate: source refused: %v", resp.Data["message"])
	}

	declaredHash, _ := resp.Data["hash"].(string)
	if declaredHash != "" && chunker.Hash(payload) != declaredHash {
		return ErrChecksumMismatch
	}

	_, _, err = n.HandleStoreChunk(fileID, chunkID, payload, declaredHash)
	return err
}

// Status summarizes the node for GET_STATUS and the HEARTBEAT emitter.
type Status struct {
	NodeID        string
	CapacityBytes int64
	UsedBytes     int64
	ChunkCount    int
	FileCount     int
}

// Status returns a snapshot of the node's current resource usage.
func (n *Node) Status() Status {
	n.mu.RLock()
	fileCount := len(n.fileCounts)
	n.mu.RUnlock()

	return Status{
		NodeID:        n.ID,
		CapacityBytes: n.Chunks.Capacity(),
		UsedBytes:     n.Chunks.UsedBytes(),
		ChunkCount:    n.Chunks.ChunkCount(),
		FileCount:     fileCount,
	}
}

// RunHeartbeatEmitter sends a HEARTBEAT envelope to the coordinator at
// every interval tick until ctx is cancelled. Grounded on the teacher
// node's register-with-retry loop, generalized to a recurring send.
func (n *Node) RunHeartbeatEmitter(ctx context.Context, coordinatorAddr string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.sendHeartbeat(ctx, coordinatorAddr); err != nil {
				n.log.Error(err, "heartbeat send failed")
			}
		}
	}
}

func (n *Node) sendHeartbeat(ctx context.Context, coordinatorAddr string) error {
	conn, err := wire.Dial(ctx, coordinatorAddr, 5*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	status := n.Status()
	env := wire.NewEnvelope(wire.Heartbeat, map[string]any{
		"node_id":     n.ID,
		"status":      string(cluster.StatusHealthy),
		"used_bytes":  status.UsedBytes,
		"free_bytes":  status.CapacityBytes - status.UsedBytes,
		"chunk_count": status.ChunkCount,
		"file_count":  status.FileCount,
	})
	if err := conn.WriteFrame(env, nil); err != nil {
		return err
	}
	_, _, err = conn.ReadFrame()
	return err
}

// wireError pairs a wire error code with the underlying cause, so wire
// handlers can translate it into an ERROR envelope without losing detail.
type wireError struct {
	Code wire.ErrorCode
	Err  error
}

func (e *wireError) Error() string { return e.Err.Error() }
func (e *wireError) Unwrap() error { return e.Err }

func werr2(code wire.ErrorCode, err error) *wireError {
	return &wireError{Code: code, Err: err}
}

// WireErrorCode extracts the wire.ErrorCode from an error returned by this
// package's handlers, defaulting to PROTOCOL_ERROR for anything else.
func WireErrorCode(err error) wire.ErrorCode {
	if e, ok := err.(*wireError); ok {
		return e.Code
	}
	return wire.ProtocolError
}
