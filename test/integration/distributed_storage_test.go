// Package integration exercises the coordinator and storage-node services
// together over real TCP sockets on 127.0.0.1:0, without exec'ing the
// compiled binaries. cmd/coordinator and cmd/node are package main and
// cannot be imported, so this file runs its own minimal accept loops
// directly on top of internal/coordinator.Coordinator and
// internal/datanode.Node, mirroring the dispatch those binaries use.
package integration

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/torua/internal/chunker"
	"github.com/dreamware/torua/internal/cluster"
	"github.com/dreamware/torua/internal/coordinator"
	"github.com/dreamware/torua/internal/datanode"
	"github.com/dreamware/torua/internal/logging"
	"github.com/dreamware/torua/internal/placement"
	"github.com/dreamware/torua/internal/wire"
	"github.com/stretchr/testify/require"
)

// --- test node server -------------------------------------------------

type testNode struct {
	Node *datanode.Node
	Addr string

	ln *wire.Listener
}

func startTestNode(t *testing.T, id string, capacityBytes, bandwidthBps int64) *testNode {
	t.Helper()

	log := logging.New(id, io.Discard)
	ln, err := wire.Listen("127.0.0.1:0")
	require.NoError(t, err)

	n := datanode.NewNode(id, ln.Addr().String(), capacityBytes, bandwidthBps, log)
	ctx, cancel := context.WithCancel(context.Background())

	tn := &testNode{Node: n, Addr: ln.Addr().String(), ln: ln}
	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				return
			}
			go testNodeHandleConn(ctx, conn, n)
		}
	}()

	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return tn
}

func testNodeHandleConn(ctx context.Context, conn *wire.Conn, n *datanode.Node) {
	defer conn.Close()
	for {
		env, payload, err := conn.ReadFrame()
		if err != nil {
			return
		}
		reply, replyPayload, fatal := testNodeDispatch(ctx, env, payload, n)
		if err := conn.WriteFrame(reply, replyPayload); err != nil {
			return
		}
		if fatal {
			return
		}
	}
}

// testNodeDispatch mirrors cmd/node/main.go's dispatch, duplicated here
// because that package is package main and not importable.
func testNodeDispatch(ctx context.Context, env wire.Envelope, payload []byte, n *datanode.Node) (wire.Envelope, []byte, bool) {
	switch env.MsgType {
	case wire.StoreChunk:
		fileID, _ := env.Data["file_id"].(string)
		chunkID := intField(env.Data, "chunk_id")
		declaredHash, _ := env.Data["hash"].(string)
		hash, size, err := n.HandleStoreChunk(fileID, chunkID, payload, declaredHash)
		if err != nil {
			return wire.NewErrorEnvelope(datanode.WireErrorCode(err), err.Error()), nil, false
		}
		return wire.NewEnvelope(wire.ChunkStored, map[string]any{"hash": hash, "size": size}), nil, false
	case wire.GetChunk:
		fileID, _ := env.Data["file_id"].(string)
		chunkID := intField(env.Data, "chunk_id")
		data, hash, err := n.HandleGetChunk(fileID, chunkID)
		if err != nil {
			return wire.NewErrorEnvelope(datanode.WireErrorCode(err), err.Error()), nil, false
		}
		return wire.NewEnvelope(wire.ChunkData, map[string]any{"hash": hash, "size": len(data)}), data, false
	case wire.ReplicateChunk:
		srcAddr, _ := env.Data["src_addr"].(string)
		fileID, _ := env.Data["file_id"].(string)
		chunkID := intField(env.Data, "chunk_id")
		if err := n.ReplicateChunk(ctx, srcAddr, fileID, chunkID); err != nil {
			return wire.NewErrorEnvelope(wire.Transient, err.Error()), nil, false
		}
		return wire.NewEnvelope(wire.ChunkStored, map[string]any{"file_id": fileID, "chunk_id": chunkID}), nil, false
	case wire.GetStatus:
		s := n.Status()
		return wire.NewEnvelope(wire.StatusResponse, map[string]any{
			"node_id": s.NodeID, "capacity_bytes": s.CapacityBytes, "used_bytes": s.UsedBytes,
			"chunk_count": s.ChunkCount, "file_count": s.FileCount,
		}), nil, false
	default:
		return wire.NewErrorEnvelope(wire.ProtocolError, fmt.Sprintf("unknown msg_type %q", env.MsgType)), nil, true
	}
}

func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func int64Field(data map[string]any, key string) int64 {
	switch v := data[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

// --- test coordinator server -------------------------------------------

type testCoordOpts struct {
	strategy              placement.Strategy
	defaultFactor         int
	minFactor             int
	failureTimeout        time.Duration
	recoveryCheckInterval time.Duration
	autoRecover           bool
}

type testCoord struct {
	Coord *coordinator.Coordinator
	Addr  string

	ln *wire.Listener
}

func startTestCoordinator(t *testing.T, opts testCoordOpts) *testCoord {
	t.Helper()

	log := logging.New("coordinator", io.Discard)
	c := coordinator.New(log, nil, opts.strategy, opts.defaultFactor, opts.minFactor,
		opts.failureTimeout, opts.recoveryCheckInterval)

	rereplicator := coordinator.NewReReplicationController(c, log, nil, opts.autoRecover)
	rereplicator.Attach()

	ln, err := wire.Listen("127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	c.Health.Start(ctx)

	tc := &testCoord{Coord: c, Addr: ln.Addr().String(), ln: ln}
	go func() {
		for {
			conn, err := ln.Accept(ctx)
			if err != nil {
				return
			}
			go testCoordHandleConn(conn, c)
		}
	}()

	t.Cleanup(func() {
		cancel()
		ln.Close()
		c.Health.Stop()
	})
	return tc
}

func testCoordHandleConn(conn *wire.Conn, c *coordinator.Coordinator) {
	defer conn.Close()
	for {
		env, payload, err := conn.ReadFrame()
		if err != nil {
			return
		}
		reply, replyPayload, fatal := testCoordDispatch(env, payload, c)
		if err := conn.WriteFrame(reply, replyPayload); err != nil {
			return
		}
		if fatal {
			return
		}
	}
}

// testCoordDispatch mirrors cmd/coordinator/main.go's dispatch, duplicated
// here because that package is package main and not importable.
func testCoordDispatch(env wire.Envelope, _ []byte, c *coordinator.Coordinator) (wire.Envelope, []byte, bool) {
	switch env.MsgType {
	case wire.RegisterNode:
		nodeID, _ := env.Data["node_id"].(string)
		addr, _ := env.Data["addr"].(string)
		capacityBytes := int64Field(env.Data, "capacity_bytes")
		bandwidthBps := int64Field(env.Data, "bandwidth_bps")
		c.RegisterNode(nodeID, addr, capacityBytes, bandwidthBps)
		return wire.NewEnvelope(wire.NodeRegistered, map[string]any{"node_id": nodeID}), nil, false

	case wire.Heartbeat:
		nodeID, _ := env.Data["node_id"].(string)
		usedBytes := int64Field(env.Data, "used_bytes")
		c.Heartbeat(nodeID, usedBytes, time.Now())
		return wire.NewEnvelope(wire.HeartbeatAck, map[string]any{"node_id": nodeID}), nil, false

	case wire.UploadFile:
		filename, _ := env.Data["filename"].(string)
		fileSize := int64Field(env.Data, "size")
		factor := intField(env.Data, "replication_factor")
		plans, desc, err := c.UploadFile(filename, fileSize, factor, time.Now())
		if err != nil {
			return wire.NewErrorEnvelope(wire.NoCapacity, err.Error()), nil, false
		}
		chunkPlans := make([]map[string]any, len(plans))
		for i, p := range plans {
			targets := make([]map[string]any, len(p.Nodes))
			for j, nodeID := range p.Nodes {
				addr, _ := c.NodeAddr(nodeID)
				targets[j] = map[string]any{"node_id": nodeID, "addr": addr}
			}
			chunkPlans[i] = map[string]any{"chunk_id": p.ChunkID, "nodes": targets}
		}
		return wire.NewEnvelope(wire.UploadAck, map[string]any{
			"file_id": desc.ID, "chunk_size": desc.ChunkSize, "chunk_count": desc.ChunkCount, "chunks": chunkPlans,
		}), nil, false

	case wire.RegisterChunk:
		fileID, _ := env.Data["file_id"].(string)
		chunkID := intField(env.Data, "chunk_id")
		nodeID, _ := env.Data["node_id"].(string)
		if err := c.RegisterChunk(fileID, chunkID, nodeID); err != nil {
			return wire.NewErrorEnvelope(wire.NotFound, err.Error()), nil, false
		}
		return wire.NewEnvelope(wire.ChunkStored, map[string]any{"file_id": fileID, "chunk_id": chunkID}), nil, false

	case wire.DownloadFile:
		fileID, _ := env.Data["file_id"].(string)
		plan, err := c.DownloadFile(fileID)
		if err != nil {
			return wire.NewErrorEnvelope(wire.NotFound, err.Error()), nil, false
		}
		if plan.Unavailable {
			return wire.NewErrorEnvelope(wire.DataLost, fmt.Sprintf("file %s has a chunk with no healthy replica", fileID)), nil, false
		}
		chunks := make(map[string]any, len(plan.Chunks))
		for chunkID, nodes := range plan.Chunks {
			targets := make([]map[string]any, len(nodes))
			for j, nodeID := range nodes {
				addr, _ := c.NodeAddr(nodeID)
				targets[j] = map[string]any{"node_id": nodeID, "addr": addr}
			}
			chunks[fmt.Sprintf("%d", chunkID)] = targets
		}
		return wire.NewEnvelope(wire.FileData, map[string]any{
			"file_id": plan.File.ID, "size": plan.File.TotalSize, "chunk_size": plan.File.ChunkSize,
			"chunk_count": plan.File.ChunkCount, "chunks": chunks,
		}), nil, false

	case wire.GetStatus:
		s := c.GetStatus()
		return wire.NewEnvelope(wire.StatusResponse, map[string]any{
			"total_nodes": s.TotalNodes, "healthy_nodes": s.HealthyNodes, "failed_nodes": s.FailedNodes,
			"total_capacity_bytes": s.TotalCapacityBytes, "used_capacity_bytes": s.UsedCapacityBytes,
			"file_count": s.FileCount, "chunk_count": s.ChunkCount,
			"under_replicated_count": s.UnderReplicatedCount, "data_lost_count": s.DataLostCount,
		}), nil, false

	default:
		return wire.NewErrorEnvelope(wire.ProtocolError, fmt.Sprintf("unknown msg_type %q", env.MsgType)), nil, true
	}
}

// --- client-side wire helpers --------------------------------------------

func dial(t *testing.T, addr string) *wire.Conn {
	t.Helper()
	conn, err := wire.Dial(context.Background(), addr, 5*time.Second)
	require.NoError(t, err)
	return conn
}

func roundTrip(t *testing.T, addr string, env wire.Envelope, payload []byte) (wire.Envelope, []byte) {
	t.Helper()
	conn := dial(t, addr)
	defer conn.Close()
	require.NoError(t, conn.WriteFrame(env, payload))
	resp, respPayload, err := conn.ReadFrame()
	require.NoError(t, err)
	return resp, respPayload
}

func registerAndHeartbeat(t *testing.T, coordAddr string, n *testNode, capacityBytes, bandwidthBps int64) {
	t.Helper()
	resp, _ := roundTrip(t, coordAddr, wire.NewEnvelope(wire.RegisterNode, map[string]any{
		"node_id": n.Node.ID, "addr": n.Addr, "capacity_bytes": capacityBytes, "bandwidth_bps": bandwidthBps,
	}), nil)
	require.Equal(t, wire.NodeRegistered, resp.MsgType)

	resp, _ = roundTrip(t, coordAddr, wire.NewEnvelope(wire.Heartbeat, map[string]any{
		"node_id": n.Node.ID, "used_bytes": int64(0),
	}), nil)
	require.Equal(t, wire.HeartbeatAck, resp.MsgType)
}

func heartbeat(t *testing.T, coordAddr, nodeID string) {
	t.Helper()
	resp, _ := roundTrip(t, coordAddr, wire.NewEnvelope(wire.Heartbeat, map[string]any{
		"node_id": nodeID, "used_bytes": int64(0),
	}), nil)
	require.Equal(t, wire.HeartbeatAck, resp.MsgType)
}

type uploadTarget struct {
	NodeID string
	Addr   string
}

func uploadFile(t *testing.T, coordAddr, filename string, size int64, factor int) (fileID string, chunkSize, chunkCount int, targets [][]uploadTarget) {
	t.Helper()
	resp, _ := roundTrip(t, coordAddr, wire.NewEnvelope(wire.UploadFile, map[string]any{
		"filename": filename, "size": float64(size), "replication_factor": float64(factor),
	}), nil)
	require.Equal(t, wire.UploadAck, resp.MsgType, "upload_file: %v", resp.Data)

	fileID = resp.Data["file_id"].(string)
	chunkSize = int(resp.Data["chunk_size"].(float64))
	chunkCount = int(resp.Data["chunk_count"].(float64))
	chunks := resp.Data["chunks"].([]any)
	targets = make([][]uploadTarget, len(chunks))
	for i, raw := range chunks {
		chunk := raw.(map[string]any)
		nodes := chunk["nodes"].([]any)
		ts := make([]uploadTarget, len(nodes))
		for j, raw := range nodes {
			n := raw.(map[string]any)
			ts[j] = uploadTarget{NodeID: n["node_id"].(string), Addr: n["addr"].(string)}
		}
		targets[i] = ts
	}
	return
}

func storeChunkAndRegister(t *testing.T, coordAddr, fileID string, chunkID int, target uploadTarget, payload []byte) {
	t.Helper()
	hash := chunker.Hash(payload)
	resp, _ := roundTrip(t, target.Addr, wire.NewEnvelope(wire.StoreChunk, map[string]any{
		"file_id": fileID, "chunk_id": chunkID, "hash": hash,
	}), payload)
	require.Equal(t, wire.ChunkStored, resp.MsgType, "store_chunk on %s: %v", target.NodeID, resp.Data)

	resp, _ = roundTrip(t, coordAddr, wire.NewEnvelope(wire.RegisterChunk, map[string]any{
		"file_id": fileID, "chunk_id": chunkID, "node_id": target.NodeID,
	}), nil)
	require.Equal(t, wire.ChunkStored, resp.MsgType)
}

func getStatus(t *testing.T, coordAddr string) map[string]any {
	t.Helper()
	resp, _ := roundTrip(t, coordAddr, wire.NewEnvelope(wire.GetStatus, nil), nil)
	require.Equal(t, wire.StatusResponse, resp.MsgType)
	return resp.Data
}

// --- scenario 1: upload with replication_factor=3 across 5 nodes --------

func TestUploadReplicatesAcrossDistinctNodes(t *testing.T) {
	coord := startTestCoordinator(t, testCoordOpts{
		strategy: placement.Diverse, defaultFactor: 3, minFactor: 3,
		failureTimeout: time.Minute, recoveryCheckInterval: time.Minute, autoRecover: true,
	})

	const nodeCapacity = 100 << 30
	nodes := make([]*testNode, 5)
	for i := range nodes {
		nodes[i] = startTestNode(t, fmt.Sprintf("node-%d", i+1), nodeCapacity, 1_000_000_000)
		registerAndHeartbeat(t, coord.Addr, nodes[i], nodeCapacity, 1_000_000_000)
	}

	fileSize := int64(1 << 20) // 1 MiB
	fileID, chunkSize, chunkCount, targets := uploadFile(t, coord.Addr, "a.bin", fileSize, 3)

	require.Equal(t, chunker.SmallChunkSize, chunkSize)
	require.Equal(t, 2, chunkCount)
	require.Len(t, targets, chunkCount)

	payload := make([]byte, chunkSize)
	for i, chunkTargets := range targets {
		require.Len(t, chunkTargets, 3)
		seen := map[string]bool{}
		for _, target := range chunkTargets {
			require.False(t, seen[target.NodeID], "duplicate node in placement for chunk %d", i)
			seen[target.NodeID] = true
			storeChunkAndRegister(t, coord.Addr, fileID, i, target, payload)
		}
	}

	for i := range targets {
		locs := coord.Coord.Index.Locations(fileID, i)
		require.Len(t, locs, 3, "chunk %d should have 3 replicas", i)
	}

	status := getStatus(t, coord.Addr)
	require.Equal(t, float64(2), status["chunk_count"])
	require.Equal(t, float64(0), status["under_replicated_count"])
}

// --- scenario 2: node failure triggers re-replication --------------------

func TestNodeFailureTriggersReReplication(t *testing.T) {
	coord := startTestCoordinator(t, testCoordOpts{
		strategy: placement.Diverse, defaultFactor: 3, minFactor: 3,
		failureTimeout: 150 * time.Millisecond, recoveryCheckInterval: 50 * time.Millisecond, autoRecover: true,
	})

	const nodeCapacity = 100 << 30
	nodes := make([]*testNode, 5)
	for i := range nodes {
		nodes[i] = startTestNode(t, fmt.Sprintf("node-%d", i+1), nodeCapacity, 1_000_000_000)
		registerAndHeartbeat(t, coord.Addr, nodes[i], nodeCapacity, 1_000_000_000)
	}

	fileSize := int64(256 * 1024)
	fileID, _, _, targets := uploadFile(t, coord.Addr, "b.bin", fileSize, 3)
	payload := make([]byte, fileSize)
	for _, target := range targets[0] {
		storeChunkAndRegister(t, coord.Addr, fileID, 0, target, payload)
	}

	// Keep every node but node-2 alive with heartbeats; stop node-2's.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(40 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for _, id := range []string{"node-1", "node-3", "node-4", "node-5"} {
					heartbeat(t, coord.Addr, id)
				}
			}
		}
	}()
	defer func() { close(stop); wg.Wait() }()

	require.Eventually(t, func() bool {
		return coord.Coord.Health.Status("node-2") == cluster.StatusFailed
	}, 2*time.Second, 20*time.Millisecond, "node-2 should transition to FAILED")

	require.Eventually(t, func() bool {
		return len(coord.Coord.Index.Locations(fileID, 0)) >= 3
	}, 3*time.Second, 50*time.Millisecond, "re-replication should restore the replica count")

	locs := coord.Coord.Index.Locations(fileID, 0)
	for _, id := range locs {
		require.NotEqual(t, "node-2", id, "node-2 should have been replaced as a replica holder")
	}
}

// --- scenario 3: bandwidth invariant under concurrent transfers ----------

func TestBandwidthInvariantUnderConcurrentStores(t *testing.T) {
	const bandwidth = int64(100_000_000)
	n := startTestNode(t, "node-1", 1<<30, bandwidth)

	const numTransfers = 10
	const chunkBytes = 1 << 20

	maxObserved := struct {
		sync.Mutex
		v int64
	}{}
	stopSampling := make(chan struct{})
	var samplerWG sync.WaitGroup
	samplerWG.Add(1)
	go func() {
		defer samplerWG.Done()
		for {
			select {
			case <-stopSampling:
				return
			default:
				usage := n.Node.Bandwidth.LiveUsage()
				maxObserved.Lock()
				if usage > maxObserved.v {
					maxObserved.v = usage
				}
				maxObserved.Unlock()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(numTransfers)
	for i := 0; i < numTransfers; i++ {
		go func(chunkID int) {
			defer wg.Done()
			payload := make([]byte, chunkBytes)
			conn := dial(t, n.Addr)
			defer conn.Close()
			env := wire.NewEnvelope(wire.StoreChunk, map[string]any{
				"file_id": "bw-test", "chunk_id": chunkID, "hash": chunker.Hash(payload),
			})
			require.NoError(t, conn.WriteFrame(env, payload))
			_, _, err := conn.ReadFrame()
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()
	close(stopSampling)
	samplerWG.Wait()

	maxObserved.Lock()
	observed := maxObserved.v
	maxObserved.Unlock()
	require.LessOrEqual(t, observed, bandwidth, "live bandwidth usage must never exceed the node's declared bandwidth")
	require.Equal(t, int64(0), n.Node.Bandwidth.LiveUsage(), "bandwidth usage must return to zero once all transfers complete")
}

// --- scenario 4: checksum mismatch on a corrupted chunk -------------------

func TestGetChunkDetectsCorruption(t *testing.T) {
	n := startTestNode(t, "node-1", 1<<20, 1_000_000_000)

	payload := []byte("a perfectly intact chunk of bytes")
	resp, _ := roundTrip(t, n.Addr, wire.NewEnvelope(wire.StoreChunk, map[string]any{
		"file_id": "f1", "chunk_id": 0, "hash": chunker.Hash(payload),
	}), payload)
	require.Equal(t, wire.ChunkStored, resp.MsgType)

	require.NoError(t, n.Node.Chunks.Corrupt("f1", 0))

	resp, respPayload := roundTrip(t, n.Addr, wire.NewEnvelope(wire.GetChunk, map[string]any{
		"file_id": "f1", "chunk_id": 0,
	}), nil)
	require.Equal(t, wire.Error, resp.MsgType)
	require.Equal(t, string(wire.ChecksumMismatch), resp.Data["code"])
	require.Empty(t, respPayload, "no chunk bytes should be returned on a checksum mismatch")
}

// --- scenario 5: diverse placement strides by descending free capacity ---

func TestDiversePlacementSelectsAcrossCapacityTiers(t *testing.T) {
	coord := startTestCoordinator(t, testCoordOpts{
		strategy: placement.Diverse, defaultFactor: 3, minFactor: 1,
		failureTimeout: time.Minute, recoveryCheckInterval: time.Minute, autoRecover: true,
	})

	capacitiesGiB := []int64{90, 80, 70, 60, 50}
	nodes := make([]*testNode, len(capacitiesGiB))
	for i, gib := range capacitiesGiB {
		capacityBytes := gib << 30
		nodes[i] = startTestNode(t, fmt.Sprintf("node-%d", i+1), capacityBytes, 1_000_000_000)
		registerAndHeartbeat(t, coord.Addr, nodes[i], capacityBytes, 1_000_000_000)
	}

	_, _, _, targets := uploadFile(t, coord.Addr, "small.bin", 1024, 3)
	require.Len(t, targets, 1)
	chosen := targets[0]
	require.Len(t, chosen, 3)

	gotIDs := make(map[string]bool, len(chosen))
	for _, target := range chosen {
		gotIDs[target.NodeID] = true
	}
	// Nodes are registered in descending-capacity order, so indices 0,1,2
	// of the sorted-by-available-bytes list are node-1, node-2, node-3.
	require.True(t, gotIDs["node-1"])
	require.True(t, gotIDs["node-2"])
	require.True(t, gotIDs["node-3"])
	require.False(t, gotIDs["node-4"])
	require.False(t, gotIDs["node-5"])
}

// --- scenario 6: losing every replica surfaces DATA_LOST ------------------

func TestLosingAllReplicasSurfacesDataLost(t *testing.T) {
	coord := startTestCoordinator(t, testCoordOpts{
		strategy: placement.Diverse, defaultFactor: 2, minFactor: 2,
		// autoRecover is false: only diagnosis runs on a FAILED event, so
		// both holders can be driven to FAILED before any re-replication
		// could possibly fill the gap.
		failureTimeout: 100 * time.Millisecond, recoveryCheckInterval: 30 * time.Millisecond, autoRecover: false,
	})

	const nodeCapacity = 10 << 30
	nodes := make([]*testNode, 3)
	for i := range nodes {
		nodes[i] = startTestNode(t, fmt.Sprintf("node-%d", i+1), nodeCapacity, 1_000_000_000)
		registerAndHeartbeat(t, coord.Addr, nodes[i], nodeCapacity, 1_000_000_000)
	}

	fileSize := int64(1 << 20)
	fileID, _, chunkCount, targets := uploadFile(t, coord.Addr, "c.bin", fileSize, 2)
	require.Equal(t, 2, chunkCount)

	payload := make([]byte, chunker.SmallChunkSize)
	for i, chunkTargets := range targets {
		for _, target := range chunkTargets {
			storeChunkAndRegister(t, coord.Addr, fileID, i, target, payload)
		}
	}

	holders := map[string]bool{}
	for _, target := range targets[0] {
		holders[target.NodeID] = true
	}
	require.Len(t, holders, 2)

	var survivor string
	for _, n := range nodes {
		if !holders[n.Node.ID] {
			survivor = n.Node.ID
		}
	}
	require.NotEmpty(t, survivor)

	// Heartbeat only the node that never held chunk 0; the two holders go
	// silent and fail out from under it.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				heartbeat(t, coord.Addr, survivor)
			}
		}
	}()
	defer func() { close(stop); wg.Wait() }()

	require.Eventually(t, func() bool {
		return len(coord.Coord.Index.Locations(fileID, 0)) == 0
	}, 3*time.Second, 30*time.Millisecond, "chunk 0 should lose every replica")

	status := getStatus(t, coord.Addr)
	require.GreaterOrEqual(t, status["data_lost_count"].(float64), float64(1))

	resp, _ := roundTrip(t, coord.Addr, wire.NewEnvelope(wire.DownloadFile, map[string]any{"file_id": fileID}), nil)
	require.Equal(t, wire.Error, resp.MsgType)
	require.Equal(t, string(wire.DataLost), resp.Data["code"])
}
