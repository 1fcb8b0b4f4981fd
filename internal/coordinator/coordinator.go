package coordinator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/torua/internal/chunker"
	"github.com/dreamware/torua/internal/cluster"
	"github.com/dreamware/torua/internal/logging"
	"github.com/dreamware/torua/internal/metrics"
	"github.com/dreamware/torua/internal/placement"
)

// ErrNoCapacity is returned by UploadFile when the replication factor
// exceeds the number of healthy nodes or zero candidate nodes survive
// placement filtering.
var ErrNoCapacity = fmt.Errorf("no capacity: zero eligible nodes for placement")

// ErrFileNotFound is returned by DownloadFile and RegisterChunk for an
// unknown file_id.
var ErrFileNotFound = fmt.Errorf("file not found")

// FileDescriptor is the coordinator's record of one uploaded file. It is
// frozen at UPLOAD_FILE time: chunk_size and chunk_count never change
// after an upload is accepted.
type FileDescriptor struct {
	ID                string
	Name              string
	TotalSize         int64
	ChunkSize         int
	ChunkCount        int
	ReplicationFactor int
	CreatedAt         time.Time
}

// ChunkPlan assigns one chunk to its destination nodes, as returned by
// UploadFile for the client to fan STORE_CHUNK out to.
type ChunkPlan struct {
	ChunkID int
	Nodes   []string
}

// DownloadPlan is what DownloadFile returns: per-chunk healthy node
// locations, plus whether any chunk had no healthy replica at all.
type DownloadPlan struct {
	File        FileDescriptor
	Chunks      map[int][]string
	Unavailable bool
}

// StatusSnapshot is the aggregate view GET_STATUS reports.
type StatusSnapshot struct {
	TotalNodes           int
	HealthyNodes         int
	FailedNodes          int
	TotalCapacityBytes   int64
	UsedCapacityBytes    int64
	FileCount            int
	ChunkCount           int
	UnderReplicatedCount int
	DataLostCount        int
}

// Coordinator binds the node registry, replica index, health monitor, and
// placement policy to the public operations in the wire protocol:
// REGISTER_NODE, HEARTBEAT, UPLOAD_FILE, DOWNLOAD_FILE, REGISTER_CHUNK, and
// GET_STATUS. It never stores chunk payloads itself.
//
// Concurrency: the node registry and file registry are each guarded by
// their own mutex, independent of ReplicaIndex's and HealthMonitor's own
// locks. healthyCandidates calls HealthMonitor.Status while holding the
// node registry's read lock, and GetStatus calls into ReplicaIndex while
// holding the file registry's read lock.
type Coordinator struct {
	Index   *ReplicaIndex
	Health  *HealthMonitor
	log     *logging.Logger
	metrics *metrics.Metrics

	PlacementStrategy placement.Strategy
	DefaultFactor     int
	MinFactor         int

	nodesMu sync.RWMutex
	nodes   map[string]*cluster.NodeRecord

	filesMu sync.RWMutex
	files   map[string]*FileDescriptor

	// PersistNode, when set, is called after every RegisterNode so an
	// optional BoltStore can survive a coordinator restart. Nil by default.
	PersistNode func(nodeID, addr string, capacityBytes, bandwidthBps int64) error
}

// New creates a coordinator with empty node and file registries. failureTimeout
// and recoveryCheckInterval configure the embedded HealthMonitor.
func New(log *logging.Logger, m *metrics.Metrics, strategy placement.Strategy, defaultFactor, minFactor int, failureTimeout, recoveryCheckInterval time.Duration) *Coordinator {
	c := &Coordinator{
		Index:             NewReplicaIndex(),
		Health:            NewHealthMonitor(failureTimeout, recoveryCheckInterval),
		log:               log,
		metrics:           m,
		PlacementStrategy: strategy,
		DefaultFactor:     defaultFactor,
		MinFactor:         minFactor,
		nodes:             make(map[string]*cluster.NodeRecord),
		files:             make(map[string]*FileDescriptor),
	}
	c.Health.RegisterCallback(c.onHealthEvent)
	return c
}

func (c *Coordinator) onHealthEvent(kind EventKind, nodeID string) {
	c.nodesMu.Lock()
	if n, ok := c.nodes[nodeID]; ok {
		from := string(n.Status)
		if kind == EventFailed {
			n.Status = cluster.StatusFailed
		} else {
			n.Status = cluster.StatusHealthy
		}
		c.log.NodeStatusChanged(nodeID, from, string(n.Status))
	}
	c.nodesMu.Unlock()

	if c.metrics != nil {
		healthy, failed := c.Health.Counts()
		c.metrics.NodesHealthy.Set(float64(healthy))
		c.metrics.NodesFailed.Set(float64(failed))
	}
}

// RegisterNode implements REGISTER_NODE. It is idempotent: re-registering
// an existing node_id updates its address/capacity/bandwidth but never
// resets its heartbeat history.
func (c *Coordinator) RegisterNode(nodeID, addr string, capacityBytes, bandwidthBps int64) {
	c.nodesMu.Lock()
	n, ok := c.nodes[nodeID]
	if !ok {
		n = &cluster.NodeRecord{ID: nodeID}
		c.nodes[nodeID] = n
	}
	n.Addr = addr
	n.CapacityBytes = capacityBytes
	n.BandwidthBps = bandwidthBps
	c.nodesMu.Unlock()

	if c.PersistNode != nil {
		if err := c.PersistNode(nodeID, addr, capacityBytes, bandwidthBps); err != nil {
			c.log.Error(err, "failed to persist node registration")
		}
	}

	c.log.NodeRegistered(nodeID, addr, capacityBytes)
	if c.metrics != nil {
		c.nodesMu.RLock()
		count := len(c.nodes)
		c.nodesMu.RUnlock()
		c.metrics.NodesRegistered.Set(float64(count))
	}
}

// Heartbeat implements HEARTBEAT: updates the node's resource usage and
// feeds the health monitor.
func (c *Coordinator) Heartbeat(nodeID string, usedBytes int64, at time.Time) {
	c.nodesMu.Lock()
	if n, ok := c.nodes[nodeID]; ok {
		n.UsedBytes = usedBytes
		n.LastHeartbeatAt = at
	}
	c.nodesMu.Unlock()

	c.Health.ReceiveHeartbeat(nodeID, at)
	if c.metrics != nil {
		c.metrics.HeartbeatsTotal.WithLabelValues(nodeID).Inc()
	}
}

// healthyCandidates returns a placement.Candidate for every node currently
// HEALTHY, taking a snapshot of the node registry under its own lock.
func (c *Coordinator) healthyCandidates() []placement.Candidate {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()

	out := make([]placement.Candidate, 0, len(c.nodes))
	for id, n := range c.nodes {
		if c.Health.Status(id) != cluster.StatusHealthy {
			continue
		}
		out = append(out, placement.Candidate{NodeID: id, AvailableBytes: n.AvailableBytes()})
	}
	return out
}

// UploadFile implements UPLOAD_FILE: derives a file_id, computes the
// chunking plan from the §4.1 size table, and asks the placement policy for
// a destination node per chunk. It returns ErrNoCapacity when
// replicationFactor exceeds the number of HEALTHY nodes, or when zero
// candidates survive filtering for a chunk; otherwise a chunk with fewer
// survivors than replicationFactor gets a partial placement.
func (c *Coordinator) UploadFile(filename string, fileSize int64, replicationFactor int, at time.Time) ([]ChunkPlan, FileDescriptor, error) {
	if replicationFactor <= 0 {
		replicationFactor = c.DefaultFactor
	}
	if len(c.healthyCandidates()) < replicationFactor {
		return nil, FileDescriptor{}, ErrNoCapacity
	}

	chunkSize := chunker.ChunkSizeFor(fileSize)
	chunkCount := chunker.ChunkCount(fileSize, chunkSize)
	fileID := deriveFileID(filename, at)

	desc := FileDescriptor{
		ID:                fileID,
		Name:              filename,
		TotalSize:         fileSize,
		ChunkSize:         chunkSize,
		ChunkCount:        chunkCount,
		ReplicationFactor: replicationFactor,
		CreatedAt:         at,
	}

	plans := make([]ChunkPlan, 0, chunkCount)
	for chunkID := 0; chunkID < chunkCount; chunkID++ {
		candidates := c.healthyCandidates()
		selected := placement.Select(c.PlacementStrategy, candidates, replicationFactor, nil, int64(chunkSize))
		if len(selected) == 0 {
			return nil, FileDescriptor{}, ErrNoCapacity
		}
		nodeIDs := make([]string, len(selected))
		for i, s := range selected {
			nodeIDs[i] = s.NodeID
		}
		plans = append(plans, ChunkPlan{ChunkID: chunkID, Nodes: nodeIDs})
	}

	c.filesMu.Lock()
	c.files[fileID] = &desc
	c.filesMu.Unlock()

	return plans, desc, nil
}

// RegisterChunk implements REGISTER_CHUNK: the client-callback half of
// §4.7's chunk registration semantics (option a). It records that nodeID
// now holds (fileID, chunkID).
func (c *Coordinator) RegisterChunk(fileID string, chunkID int, nodeID string) error {
	c.filesMu.RLock()
	_, ok := c.files[fileID]
	c.filesMu.RUnlock()
	if !ok {
		return ErrFileNotFound
	}

	c.Index.Register(fileID, chunkID, nodeID)
	if c.metrics != nil {
		c.metrics.ChunksStoredTotal.WithLabelValues(nodeID).Inc()
		under := c.Index.UnderReplicatedCount(c.MinFactor)
		c.metrics.UnderReplicatedChunks.Set(float64(under))
	}
	return nil
}

// DownloadFile implements DOWNLOAD_FILE: it enumerates healthy nodes
// holding each chunk of fileID. A chunk with no healthy replica leaves an
// empty entry and sets Unavailable.
func (c *Coordinator) DownloadFile(fileID string) (DownloadPlan, error) {
	c.filesMu.RLock()
	desc, ok := c.files[fileID]
	c.filesMu.RUnlock()
	if !ok {
		return DownloadPlan{}, ErrFileNotFound
	}

	plan := DownloadPlan{File: *desc, Chunks: make(map[int][]string, desc.ChunkCount)}
	for chunkID := 0; chunkID < desc.ChunkCount; chunkID++ {
		var healthy []string
		for _, nodeID := range c.Index.Locations(fileID, chunkID) {
			if c.Health.Status(nodeID) == cluster.StatusHealthy {
				healthy = append(healthy, nodeID)
			}
		}
		plan.Chunks[chunkID] = healthy
		if len(healthy) == 0 {
			plan.Unavailable = true
		}
	}
	return plan, nil
}

// GetStatus implements GET_STATUS: aggregate node, capacity, file, chunk,
// and under-replication counts.
func (c *Coordinator) GetStatus() StatusSnapshot {
	c.nodesMu.RLock()
	var totalCap, usedCap int64
	for _, n := range c.nodes {
		totalCap += n.CapacityBytes
		usedCap += n.UsedBytes
	}
	totalNodes := len(c.nodes)
	c.nodesMu.RUnlock()

	healthy, failed := c.Health.Counts()

	c.filesMu.RLock()
	fileCount := len(c.files)
	chunkCount := 0
	dataLost := 0
	for _, f := range c.files {
		chunkCount += f.ChunkCount
		for chunkID := 0; chunkID < f.ChunkCount; chunkID++ {
			if c.Index.ReplicaCount(f.ID, chunkID) == 0 {
				dataLost++
			}
		}
	}
	c.filesMu.RUnlock()

	return StatusSnapshot{
		TotalNodes:           totalNodes,
		HealthyNodes:         healthy,
		FailedNodes:          failed,
		TotalCapacityBytes:   totalCap,
		UsedCapacityBytes:    usedCap,
		FileCount:            fileCount,
		ChunkCount:           chunkCount,
		UnderReplicatedCount: c.Index.UnderReplicatedCount(c.MinFactor),
		DataLostCount:        dataLost,
	}
}

// File returns the descriptor for fileID, for the re-replication
// controller's replication_factor lookup.
func (c *Coordinator) File(fileID string) (FileDescriptor, bool) {
	c.filesMu.RLock()
	defer c.filesMu.RUnlock()
	f, ok := c.files[fileID]
	if !ok {
		return FileDescriptor{}, false
	}
	return *f, true
}

// NodeAddr returns the registered address for nodeID, for dialing during
// re-replication.
func (c *Coordinator) NodeAddr(nodeID string) (string, bool) {
	c.nodesMu.RLock()
	defer c.nodesMu.RUnlock()
	n, ok := c.nodes[nodeID]
	if !ok {
		return "", false
	}
	return n.Addr, true
}

// deriveFileID computes the first 16 hex chars of SHA-256 over
// filename||timestamp, per spec §4.6: uniqueness comes from the timestamp,
// not content, so retrying an upload of the same file yields a distinct id.
func deriveFileID(filename string, at time.Time) string {
	sum := sha256.Sum256([]byte(filename + at.Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])[:16]
}
