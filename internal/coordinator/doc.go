// Package coordinator implements the control plane for the storage
// cluster: node registry, failure detection, replica placement, the
// replica index, and the re-replication controller that reacts to node
// failure.
//
// # Overview
//
// The coordinator never stores file data itself. It decides *where*
// chunks go (Placement Policy), tracks *where they ended up*
// (ReplicaIndex), and watches *whether those nodes are still alive*
// (HealthMonitor). When a node fails, the re-replication controller
// walks the chunks that node held and asks the placement policy for new
// homes, then drives REPLICATE_CHUNK over the wire protocol to fill them.
//
// # Architecture
//
//	┌───────────────────────────────────────────────┐
//	│                  Coordinator                   │
//	├───────────────────────────────────────────────┤
//	│  ┌──────────────┐  ┌──────────────┐            │
//	│  │ ReplicaIndex │  │ HealthMonitor│            │
//	│  │ (file,chunk) │  │ 3-state FSM  │            │
//	│  │  -> []node   │  │ per node     │            │
//	│  └──────┬───────┘  └──────┬───────┘            │
//	│         │     FAILED event │                    │
//	│         ▼                  ▼                    │
//	│  ┌─────────────────────────────────┐            │
//	│  │   Re-replication controller     │            │
//	│  │   chunks_on(failed) -> Placement │            │
//	│  └─────────────────────────────────┘            │
//	└───────────────────────────────────────────────┘
//	          │ REGISTER_NODE / HEARTBEAT / UPLOAD_FILE / ...
//	          ▼
//	   internal/wire (framed TCP)
//
// # Core Components
//
//   - ReplicaIndex (replica_index.go): (file_id, chunk_id) -> set[node_id],
//     idempotent register/unregister, used both for download routing and
//     to find a re-replication source.
//   - HealthMonitor (health_monitor.go): OFFLINE -> HEALTHY -> FAILED ->
//     HEALTHY state machine per node, driven by HEARTBEAT receipt and a
//     periodic sweep; delivers FAILED/RECOVERED events synchronously to
//     registered callbacks without holding its lock.
//   - Placement (internal/placement): a pure function from (candidates,
//     count, exclude, chunk_size) to an ordered node selection.
//   - Coordinator (coordinator.go): binds the above to the wire protocol's
//     REGISTER_NODE, HEARTBEAT, UPLOAD_FILE, DOWNLOAD_FILE, REGISTER_CHUNK,
//     and GET_STATUS handlers.
//   - Re-replication controller (rereplicate.go): the FAILED callback's
//     consumer; retries a recipient once, then leaves the chunk
//     under-replicated with no further attempt.
//
// # Concurrency and Synchronization
//
//   - ReplicaIndex and HealthMonitor each own an independent
//     sync.RWMutex; neither is held while invoking a callback or the
//     wire protocol, so a callback may safely call back into either.
//   - The node registry, replica index, and health monitor are
//     independent critical sections -- there is no single coarse lock
//     guarding coordinator state.
//   - The health monitor sweep is the one long-lived background
//     goroutine, started by HealthMonitor.Start and ended by cancelling
//     its context or calling Stop. Re-replication runs synchronously
//     inside the sweep's FAILED callback, not in a separate worker.
//
// # Failure Scenarios and Recovery
//
//   - Node failure: HealthMonitor's sweep marks the node FAILED after
//     failure_timeout with no heartbeat; the re-replication controller
//     unregisters its replicas and schedules new ones.
//   - Recipient refuses REPLICATE_CHUNK: retried once immediately; if
//     that fails too, the chunk stays under-replicated and no later
//     sweep retries it.
//   - All replicas of a chunk lost before re-replication completes: the
//     chunk is marked DATA_LOST and surfaces in GET_STATUS and any
//     subsequent DOWNLOAD_FILE.
//
// # See Also
//
//   - internal/wire: the framed TCP protocol the coordinator speaks
//   - internal/placement: the placement policy's strategies
//   - internal/datanode: the storage node the coordinator directs
//   - internal/cluster: NodeRecord and the node status values
package coordinator
