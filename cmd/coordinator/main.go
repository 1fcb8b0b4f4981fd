// Package main implements the Torua coordinator service: the control plane
// that tracks storage nodes, places and locates chunks, and drives
// re-replication when a node fails. It speaks the framed wire protocol on
// its main port and exposes Prometheus metrics on a separate port.
//
// Configuration is layered flags > environment > YAML per
// internal/config.LoadCoordinator; see that package for the full key list.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dreamware/torua/internal/config"
	"github.com/dreamware/torua/internal/coordinator"
	"github.com/dreamware/torua/internal/logging"
	"github.com/dreamware/torua/internal/metrics"
	"github.com/dreamware/torua/internal/placement"
	"github.com/dreamware/torua/internal/tracing"
	"github.com/dreamware/torua/internal/wire"
)

var tracer = tracing.Tracer("torua/coordinator")

func main() {
	cfg, err := config.LoadCoordinator(os.Args[1:])
	if err != nil {
		log.Fatalf("coordinator: %v", err)
	}

	logger := logging.New("coordinator", os.Stdout)
	m := metrics.New()

	strategy := placement.Strategy(cfg.Replication.PlacementStrategy)
	switch strategy {
	case placement.Random, placement.LeastLoaded, placement.Diverse:
	default:
		logger.Warn(fmt.Sprintf("unknown placement strategy %q, defaulting to diverse", strategy))
		strategy = placement.Diverse
	}

	c := coordinator.New(logger, m, strategy, cfg.Replication.DefaultFactor, cfg.Replication.MinFactor,
		cfg.Monitoring.FailureTimeout, cfg.Monitoring.RecoveryCheckInterval)

	rereplicator := coordinator.NewReReplicationController(c, logger, m, cfg.Monitoring.EnableAutoRecovery)
	rereplicator.Attach()

	var store *coordinator.BoltStore
	if cfg.DBPath != "" {
		store, err = coordinator.OpenBoltStore(cfg.DBPath)
		if err != nil {
			logger.Error(err, "failed to open persistence db")
			os.Exit(1)
		}
		defer store.Close()
		if err := store.Restore(c); err != nil {
			logger.Error(err, "failed to restore persisted state")
			os.Exit(1)
		}
		c.Index.OnChange(store.PersistIndex)
		c.PersistNode = store.PersistNode
		logger.Info(fmt.Sprintf("persisting replica index to %s", cfg.DBPath))
	}

	ln, err := wire.Listen(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if err != nil {
		logger.Error(err, "listen failed")
		os.Exit(1)
	}
	logger.Info(fmt.Sprintf("listening on %s", ln.Addr()))

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: m.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(err, "metrics server failed")
		}
	}()
	logger.Info(fmt.Sprintf("metrics on :%d", cfg.MetricsPort))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, "coordinator")
	if err != nil {
		logger.Error(err, "failed to init tracing")
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	c.Health.Start(ctx)
	defer c.Health.Stop()

	var conns connTracker
	go serveAccepts(ctx, ln, c, logger, &conns)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	cancel()
	ln.Close()
	conns.waitWithTimeout(30 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("coordinator stopped")
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

func serveAccepts(ctx context.Context, ln *wire.Listener, c *coordinator.Coordinator, logger *logging.Logger, conns *connTracker) {
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error(err, "accept failed")
			continue
		}
		conns.wg.Add(1)
		go func() {
			defer conns.wg.Done()
			handleConn(conn, c, logger)
		}()
	}
}

func handleConn(conn *wire.Conn, c *coordinator.Coordinator, logger *logging.Logger) {
	defer conn.Close()
	for {
		env, payload, err := conn.ReadFrame()
		if err != nil {
			return
		}

		reply, replyPayload, fatal := dispatch(env, payload, c, logger)
		if err := conn.WriteFrame(reply, replyPayload); err != nil {
			return
		}
		if fatal {
			return
		}
	}
}

func dispatch(env wire.Envelope, payload []byte, c *coordinator.Coordinator, logger *logging.Logger) (wire.Envelope, []byte, bool) {
	switch env.MsgType {
	case wire.RegisterNode:
		return handleRegisterNode(env, c)
	case wire.Heartbeat:
		return handleHeartbeat(env, c)
	case wire.UploadFile:
		_, span := tracer.Start(context.Background(), "UploadFile")
		defer span.End()
		return handleUploadFile(env, c, logger)
	case wire.RegisterChunk:
		return handleRegisterChunk(env, c)
	case wire.DownloadFile:
		_, span := tracer.Start(context.Background(), "DownloadFile")
		defer span.End()
		return handleDownloadFile(env, c)
	case wire.GetStatus:
		return handleGetStatus(c)
	default:
		return wire.NewErrorEnvelope(wire.ProtocolError, fmt.Sprintf("unknown msg_type %q", env.MsgType)), nil, true
	}
}

func handleRegisterNode(env wire.Envelope, c *coordinator.Coordinator) (wire.Envelope, []byte, bool) {
	nodeID, _ := env.Data["node_id"].(string)
	addr, _ := env.Data["addr"].(string)
	if nodeID == "" || addr == "" {
		return wire.NewErrorEnvelope(wire.ProtocolError, "node_id and addr are required"), nil, false
	}
	capacityBytes := int64Field(env.Data, "capacity_bytes")
	bandwidthBps := int64Field(env.Data, "bandwidth_bps")

	c.RegisterNode(nodeID, addr, capacityBytes, bandwidthBps)
	return wire.NewEnvelope(wire.NodeRegistered, map[string]any{"node_id": nodeID}), nil, false
}

func handleHeartbeat(env wire.Envelope, c *coordinator.Coordinator) (wire.Envelope, []byte, bool) {
	nodeID, _ := env.Data["node_id"].(string)
	usedBytes := int64Field(env.Data, "used_bytes")
	c.Heartbeat(nodeID, usedBytes, time.Now())
	return wire.NewEnvelope(wire.HeartbeatAck, map[string]any{"node_id": nodeID}), nil, false
}

func handleUploadFile(env wire.Envelope, c *coordinator.Coordinator, logger *logging.Logger) (wire.Envelope, []byte, bool) {
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
	logger.UploadCompleted(desc.ID, desc.TotalSize, desc.ChunkCount, 0)
	return wire.NewEnvelope(wire.UploadAck, map[string]any{
		"file_id":     desc.ID,
		"chunk_size":  desc.ChunkSize,
		"chunk_count": desc.ChunkCount,
		"chunks":      chunkPlans,
	}), nil, false
}

func handleRegisterChunk(env wire.Envelope, c *coordinator.Coordinator) (wire.Envelope, []byte, bool) {
	fileID, _ := env.Data["file_id"].(string)
	chunkID := intField(env.Data, "chunk_id")
	nodeID, _ := env.Data["node_id"].(string)

	if err := c.RegisterChunk(fileID, chunkID, nodeID); err != nil {
		return wire.NewErrorEnvelope(wire.NotFound, err.Error()), nil, false
	}
	return wire.NewEnvelope(wire.ChunkStored, map[string]any{"file_id": fileID, "chunk_id": chunkID}), nil, false
}

func handleDownloadFile(env wire.Envelope, c *coordinator.Coordinator) (wire.Envelope, []byte, bool) {
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
		"file_id":     plan.File.ID,
		"size":        plan.File.TotalSize,
		"chunk_size":  plan.File.ChunkSize,
		"chunk_count": plan.File.ChunkCount,
		"chunks":      chunks,
	}), nil, false
}

func handleGetStatus(c *coordinator.Coordinator) (wire.Envelope, []byte, bool) {
	s := c.GetStatus()
	return wire.NewEnvelope(wire.StatusResponse, map[string]any{
		"total_nodes":            s.TotalNodes,
		"healthy_nodes":          s.HealthyNodes,
		"failed_nodes":           s.FailedNodes,
		"total_capacity_bytes":   s.TotalCapacityBytes,
		"used_capacity_bytes":    s.UsedCapacityBytes,
		"file_count":             s.FileCount,
		"chunk_count":            s.ChunkCount,
		"under_replicated_count": s.UnderReplicatedCount,
		"data_lost_count":        s.DataLostCount,
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
