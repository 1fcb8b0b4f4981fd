// Package cluster provides the node/status types shared by the coordinator
// and storage nodes, plus two small JSON-over-HTTP helpers, PostJSON and
// GetJSON.
//
// # Overview
//
// The cluster package is deliberately small: it holds the one type both
// sides of the wire protocol need to agree on (NodeRecord, the
// coordinator's view of a node's identity, address, declared capacity, and
// liveness) and two HTTP helpers, PostJSON and GetJSON. No code in this
// module calls the helpers: the coordinator's only HTTP endpoint is its
// Prometheus /metrics listener, and cmd/client talks to the coordinator
// over the wire protocol. The wire protocol itself (REGISTER_NODE, HEARTBEAT,
// STORE_CHUNK, ...) lives in internal/wire and is framed TCP, not HTTP.
//
// # Architecture
//
//	┌──────────────┐        wire protocol (TCP)       ┌─────────────┐
//	│ Coordinator  │ <------------------------------>  │ Storage Node │
//	│ - node list  │                                    │ - chunk store│
//	│ - repl index │                                    │ - bandwidth  │
//	│ - health mon │         HTTP: GET /metrics only    └─────────────┘
//	└──────┬───────┘ <------------------------------
//	       │
//	  Prometheus scraper
//
// # NodeRecord lifecycle
//
// Created by REGISTER_NODE, updated by every HEARTBEAT, transitioned
// between OFFLINE/HEALTHY/FAILED by the heartbeat monitor in
// internal/coordinator (StatusRecovering is defined but never assigned),
// and never removed from the registry once created.
// node_id is immutable once assigned; used_bytes must never exceed
// capacity_bytes.
//
// # Concurrency
//
// NodeRecord values are plain data — callers holding one after a registry
// lookup have a snapshot, not a live view; the coordinator's registry
// (internal/coordinator) owns the actual mutable state behind a
// sync.RWMutex and hands out copies.
//
// # See Also
//
//   - internal/wire: the framed TCP protocol nodes and the coordinator speak
//   - internal/coordinator: node registry, health monitor, replica index
//   - internal/datanode: the storage node that owns NodeRecord's capacity
package cluster
