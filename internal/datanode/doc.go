// Package datanode implements a storage node: the chunk store, the
// bandwidth ledger, and the wire-protocol handlers for STORE_CHUNK,
// GET_CHUNK, REPLICATE_CHUNK, and GET_STATUS, plus the heartbeat emitter
// that keeps the coordinator's view of this node current.
//
// # Overview
//
// A node never talks to other nodes except when told to by
// REPLICATE_CHUNK, and never talks to the coordinator except to register
// and heartbeat. All chunk traffic (STORE_CHUNK, GET_CHUNK) arrives from
// whichever peer the coordinator or client pointed at this node.
//
// # Architecture
//
//	┌────────────────────────────────────────┐
//	│                  Node                   │
//	├────────────────────────────────────────┤
//	│  ┌────────────┐  ┌──────────────────┐  │
//	│  │ ChunkStore │  │ BandwidthLedger  │  │
//	│  │ (file,chunk)│  │ live usage by    │  │
//	│  │  -> payload │  │ transfer key     │  │
//	│  └────────────┘  └──────────────────┘  │
//	│         independent critical sections    │
//	└────────────────────────────────────────┘
//	     ▲                    │
//	     │ STORE_CHUNK        │ HEARTBEAT (emitter goroutine)
//	     │ GET_CHUNK          ▼
//	     │ REPLICATE_CHUNK   Coordinator
//	internal/wire (framed TCP)
//
// # Concurrency
//
// ChunkStore and BandwidthLedger each own an independent lock; a
// STORE_CHUNK handler takes the bandwidth lock only long enough to
// reserve, writes the payload without holding it, then takes it again
// briefly to release -- matching the three-independent-critical-sections
// design (storage, bandwidth, and transfer bookkeeping never share a
// lock).
//
// # See Also
//
//   - internal/wire: the framed TCP protocol
//   - internal/coordinator: the control plane this node reports to
//   - internal/storage: the underlying key/value allocator ChunkStore wraps
package datanode
