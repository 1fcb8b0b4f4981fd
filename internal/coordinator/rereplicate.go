package coordinator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dreamware/torua/internal/logging"
	"github.com/dreamware/torua/internal/metrics"
	"github.com/dreamware/torua/internal/placement"
	"github.com/dreamware/torua/internal/tracing"
	"github.com/dreamware/torua/internal/wire"
)

var reReplicationTracer = tracing.Tracer("torua/coordinator/rereplicate")

// ReReplicationController is the health monitor's FAILED-event consumer: it
// walks the chunks a failed node held, finds new homes for any that
// dropped below their file's replication factor, and drives
// REPLICATE_CHUNK over the wire protocol to fill them.
//
// Grounded on spec §4.6's controller algorithm: a failed recipient is
// retried once. If the retry also fails the chunk stays under-replicated;
// no later sweep revisits it, since handleFailure runs only when a node
// transitions to FAILED.
type ReReplicationController struct {
	coord       *Coordinator
	log         *logging.Logger
	metrics     *metrics.Metrics
	autoRecover bool
	dialTimeout time.Duration
}

// NewReReplicationController creates a controller bound to coord. When
// autoRecover is false, step 3 of the spec algorithm applies: only the
// diagnosis (unregistering the failed replica and identifying
// under-replicated chunks) is performed, with no REPLICATE_CHUNK issued.
func NewReReplicationController(coord *Coordinator, log *logging.Logger, m *metrics.Metrics, autoRecover bool) *ReReplicationController {
	return &ReReplicationController{
		coord:       coord,
		log:         log,
		metrics:     m,
		autoRecover: autoRecover,
		dialTimeout: 10 * time.Second,
	}
}

// Attach registers the controller as a health monitor callback. Call once
// at startup, after NewReReplicationController.
func (r *ReReplicationController) Attach() {
	r.coord.Health.RegisterCallback(r.onEvent)
}

func (r *ReReplicationController) onEvent(kind EventKind, nodeID string) {
	if kind != EventFailed {
		return
	}
	r.handleFailure(nodeID)
}

// handleFailure implements spec §4.6's re-replication algorithm for one
// failed node.
func (r *ReReplicationController) handleFailure(failedNode string) {
	ctx, span := reReplicationTracer.Start(context.Background(), "ReReplicationController.handleFailure")
	defer span.End()
	span.SetAttributes(attribute.String("torua.failed_node", failedNode))

	chunks := r.coord.Index.ChunksOn(failedNode)

	for _, ch := range chunks {
		remaining := r.coord.Index.Unregister(ch.FileID, ch.ChunkID, failedNode)

		file, ok := r.coord.File(ch.FileID)
		if !ok {
			continue
		}
		if remaining >= file.ReplicationFactor {
			continue
		}
		if !r.autoRecover {
			continue
		}

		survivors := r.coord.Index.Locations(ch.FileID, ch.ChunkID)
		if len(survivors) == 0 {
			r.log.ReReplicationFailed(ch.FileID, ch.ChunkID, errDataLost, false)
			if r.metrics != nil {
				r.metrics.ReReplicationsTotal.WithLabelValues("data_lost").Inc()
			}
			continue
		}

		source := survivors[0]
		sourceAddr, ok := r.coord.NodeAddr(source)
		if !ok {
			continue
		}

		needed := file.ReplicationFactor - len(survivors)
		exclude := make(map[string]struct{}, len(survivors)+1)
		for _, s := range survivors {
			exclude[s] = struct{}{}
		}
		exclude[failedNode] = struct{}{}

		candidates := r.coord.healthyCandidates()
		recipients := placement.Select(r.coord.PlacementStrategy, candidates, needed, exclude, int64(file.ChunkSize))

		for _, recipient := range recipients {
			r.replicateWithRetry(ctx, recipient.NodeID, source, sourceAddr, ch.FileID, ch.ChunkID)
		}
	}
}

// replicateWithRetry attempts REPLICATE_CHUNK against recipient, retrying
// exactly once on failure. If both attempts fail the chunk is left
// under-replicated and no further attempt is scheduled.
func (r *ReReplicationController) replicateWithRetry(ctx context.Context, recipientID, sourceID, sourceAddr, fileID string, chunkID int) {
	recipientAddr, ok := r.coord.NodeAddr(recipientID)
	if !ok {
		return
	}

	r.log.ReReplicationStarted(fileID, chunkID, sourceID, recipientID)

	err := r.replicateOnce(ctx, recipientAddr, sourceAddr, fileID, chunkID)
	if err != nil {
		r.log.ReReplicationFailed(fileID, chunkID, err, true)
		err = r.replicateOnce(ctx, recipientAddr, sourceAddr, fileID, chunkID)
	}

	if err != nil {
		r.log.ReReplicationFailed(fileID, chunkID, err, false)
		if r.metrics != nil {
			r.metrics.ReReplicationsTotal.WithLabelValues("failed").Inc()
		}
		return
	}

	r.coord.Index.Register(fileID, chunkID, recipientID)
	if r.metrics != nil {
		r.metrics.ReReplicationsTotal.WithLabelValues("succeeded").Inc()
	}
}

func (r *ReReplicationController) replicateOnce(ctx context.Context, recipientAddr, sourceAddr, fileID string, chunkID int) error {
	ctx, span := reReplicationTracer.Start(ctx, "ReReplicationController.replicateOnce")
	defer span.End()
	span.SetAttributes(attribute.String("torua.file_id", fileID), attribute.Int("torua.chunk_id", chunkID))

	ctx, cancel := context.WithTimeout(ctx, r.dialTimeout)
	defer cancel()

	conn, err := wire.Dial(ctx, recipientAddr, r.dialTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()

	req := wire.NewEnvelope(wire.ReplicateChunk, map[string]any{
		"src_addr": sourceAddr,
		"file_id":  fileID,
		"chunk_id": chunkID,
	})
	if err := conn.WriteFrame(req, nil); err != nil {
		return err
	}

	resp, _, err := conn.ReadFrame()
	if err != nil {
		return err
	}
	if resp.MsgType == wire.Error {
		if msg, ok := resp.Data["message"].(string); ok {
			return errReplicateRefused(msg)
		}
		return errReplicateRefusedGeneric
	}
	return nil
}

type errReplicateRefused string

func (e errReplicateRefused) Error() string { return "replicate: recipient refused: " + string(e) }

var errReplicateRefusedGeneric = errReplicateRefused("unknown reason")
var errDataLost = dataLostError{}

type dataLostError struct{}

func (dataLostError) Error() string { return "no surviving replica for chunk" }
