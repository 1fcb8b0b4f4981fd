// Package main implements the Torua storage node service: it holds a
// chunk store and a bandwidth ledger, serves STORE_CHUNK/GET_CHUNK/
// REPLICATE_CHUNK/GET_STATUS over the framed wire protocol, and emits a
// periodic HEARTBEAT to the coordinator.
//
// Configuration is layered flags > environment > built-in defaults per
// internal/config.LoadNode, which reads no YAML file; see that package for
// the full key list.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/torua/internal/config"
	"github.com/dreamware/torua/internal/datanode"
	"github.com/dreamware/torua/internal/logging"
	"github.com/dreamware/torua/internal/wire"
)

func main() {
	cfg, err := config.LoadNode(os.Args[1:])
	if err != nil {
		log.Fatalf("node: %v", err)
	}

	log := logging.New("node", os.Stdout).WithNode(cfg.ID)
	capacityBytes := int64(cfg.StorageGiB) * (1 << 30)
	n := datanode.NewNode(cfg.ID, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), capacityBytes, cfg.BandwidthBps, log)

	ln, err := wire.Listen(fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Error(err, "listen failed")
		os.Exit(1)
	}
	log.Info(fmt.Sprintf("listening on %s", ln.Addr()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var conns connTracker
	go serveAccepts(ctx, ln, n, log, &conns)

	coordAddr := fmt.Sprintf("%s:%d", cfg.CoordinatorHost, cfg.CoordinatorPort)
	if err := registerWithRetry(ctx, coordAddr, n, cfg.BandwidthBps); err != nil {
		log.Error(err, "failed to register with coordinator")
		os.Exit(1)
	}
	go n.RunHeartbeatEmitter(ctx, coordAddr, cfg.HeartbeatInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	ln.Close()
	conns.waitWithTimeout(30 * time.Second)
	log.Info("node stopped")
}

// connTracker waits for in-flight connection handlers to drain during
// shutdown, bounded by a timeout per spec §5's "wait up to 30s for
// in-flight transfers, then forcibly terminate" rule.
type connTracker struct {
	wg sync.WaitGroup
}

func (c *connTracker) waitWithTimeout(d time.Duration) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}

// registerWithRetry sends REGISTER_NODE to the coordinator, retrying on
// failure to absorb coordinator startup delays, grounded on the teacher
// node's register() retry-with-backoff loop.
func registerWithRetry(ctx context.Context, coordAddr string, n *datanode.Node, bandwidthBps int64) error {
	status := n.Status()
	req := wire.NewEnvelope(wire.RegisterNode, map[string]any{
		"node_id":        n.ID,
		"addr":           n.Addr,
		"capacity_bytes": status.CapacityBytes,
		"bandwidth_bps":  bandwidthBps,
	})

	var lastErr error
	for i := 0; i < 10; i++ {
		lastErr = sendRegister(ctx, coordAddr, req)
		if lastErr == nil {
			return nil
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("register: %w", lastErr)
}

func sendRegister(ctx context.Context, coordAddr string, req wire.Envelope) error {
	conn, err := wire.Dial(ctx, coordAddr, 10*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteFrame(req, nil); err != nil {
		return err
	}
	resp, _, err := conn.ReadFrame()
	if err != nil {
		return err
	}
	if resp.MsgType == wire.Error {
		return fmt.Errorf("coordinator refused registration: %v", resp.Data["message"])
	}
	return nil
}

// serveAccepts runs the node's accept loop: one goroutine per connection,
// each looping over the connection's frames until it closes or a
// PROTOCOL_ERROR is hit.
func serveAccepts(ctx context.Context, ln *wire.Listener, n *datanode.Node, log *logging.Logger, conns *connTracker) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error(err, "accept failed")
			continue
		}
		conns.wg.Add(1)
		go func() {
			defer conns.wg.Done()
			handleConn(ctx, conn, n, log)
		}()
	}
}

func handleConn(ctx context.Context, conn *wire.Conn, n *datanode.Node, log *logging.Logger) {
	defer conn.Close()
	for {
		env, payload, err := conn.ReadFrame()
		if err != nil {
			return
		}

		reply, replyPayload, fatal := dispatch(ctx, env, payload, n, log)
		if err := conn.WriteFrame(reply, replyPayload); err != nil {
			return
		}
		if fatal {
			return
		}
	}
}

func dispatch(ctx context.Context, env wire.Envelope, payload []byte, n *datanode.Node, log *logging.Logger) (wire.Envelope, []byte, bool) {
	switch env.MsgType {
	case wire.StoreChunk:
		return handleStoreChunk(env, payload, n)
	case wire.GetChunk:
		return handleGetChunk(env, n)
	case wire.ReplicateChunk:
		return handleReplicateChunk(ctx, env, n)
	case wire.GetStatus:
		return handleGetStatus(n)
	default:
		return wire.NewErrorEnvelope(wire.ProtocolError, fmt.Sprintf("unknown msg_type %q", env.MsgType)), nil, true
	}
}

func handleStoreChunk(env wire.Envelope, payload []byte, n *datanode.Node) (wire.Envelope, []byte, bool) {
	fileID, _ := env.Data["file_id"].(string)
	chunkID := intField(env.Data, "chunk_id")
	declaredHash, _ := env.Data["hash"].(string)

	hash, size, err := n.HandleStoreChunk(fileID, chunkID, payload, declaredHash)
	if err != nil {
		return wire.NewErrorEnvelope(datanode.WireErrorCode(err), err.Error()), nil, false
	}
	return wire.NewEnvelope(wire.ChunkStored, map[string]any{"hash": hash, "size": size}), nil, false
}

func handleGetChunk(env wire.Envelope, n *datanode.Node) (wire.Envelope, []byte, bool) {
	fileID, _ := env.Data["file_id"].(string)
	chunkID := intField(env.Data, "chunk_id")

	payload, hash, err := n.HandleGetChunk(fileID, chunkID)
	if err != nil {
		return wire.NewErrorEnvelope(datanode.WireErrorCode(err), err.Error()), nil, false
	}
	return wire.NewEnvelope(wire.ChunkData, map[string]any{"hash": hash, "size": len(payload)}), payload, false
}

func handleReplicateChunk(ctx context.Context, env wire.Envelope, n *datanode.Node) (wire.Envelope, []byte, bool) {
	srcAddr, _ := env.Data["src_addr"].(string)
	fileID, _ := env.Data["file_id"].(string)
	chunkID := intField(env.Data, "chunk_id")

	if err := n.ReplicateChunk(ctx, srcAddr, fileID, chunkID); err != nil {
		return wire.NewErrorEnvelope(wire.Transient, err.Error()), nil, false
	}
	return wire.NewEnvelope(wire.ChunkStored, map[string]any{"file_id": fileID, "chunk_id": chunkID}), nil, false
}

func handleGetStatus(n *datanode.Node) (wire.Envelope, []byte, bool) {
	s := n.Status()
	return wire.NewEnvelope(wire.StatusResponse, map[string]any{
		"node_id":        s.NodeID,
		"capacity_bytes": s.CapacityBytes,
		"used_bytes":     s.UsedBytes,
		"chunk_count":    s.ChunkCount,
		"file_count":     s.FileCount,
	}), nil, false
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
