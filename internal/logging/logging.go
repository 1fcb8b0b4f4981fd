// Package logging wraps zerolog into the handful of structured events the
// coordinator and storage nodes emit: node lifecycle, chunk transfers, and
// re-replication. Grounded on QuantaraX's observability.Logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger pre-bound with a component name.
type Logger struct {
	logger zerolog.Logger
}

// New creates a logger for component (e.g. "coordinator", "node").
func New(component string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339

	return &Logger{
		logger: zerolog.New(output).With().
			Timestamp().
			Str("component", component).
			Logger(),
	}
}

// WithNode adds node_id context to the logger.
func (l *Logger) WithNode(nodeID string) *Logger {
	return &Logger{logger: l.logger.With().Str("node_id", nodeID).Logger()}
}

func (l *Logger) Debug(msg string) { l.logger.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.logger.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.logger.Warn().Msg(msg) }

func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// NodeRegistered logs a REGISTER_NODE acceptance.
func (l *Logger) NodeRegistered(nodeID, addr string, capacityBytes int64) {
	l.logger.Info().
		Str("node_id", nodeID).
		Str("addr", addr).
		Int64("capacity_bytes", capacityBytes).
		Str("capacity", humanize.Bytes(uint64(capacityBytes))).
		Msg("node registered")
}

// NodeStatusChanged logs a heartbeat monitor state transition.
func (l *Logger) NodeStatusChanged(nodeID, from, to string) {
	l.logger.Warn().
		Str("node_id", nodeID).
		Str("from", from).
		Str("to", to).
		Msg("node status changed")
}

// ChunkStored logs a successful STORE_CHUNK.
func (l *Logger) ChunkStored(fileID string, chunkID int, size int) {
	l.logger.Debug().
		Str("file_id", fileID).
		Int("chunk_id", chunkID).
		Int("size", size).
		Msg("chunk stored")
}

// ChunkRejected logs a STORE_CHUNK refusal, or a chunk quarantined by
// GET_CHUNK, and why.
func (l *Logger) ChunkRejected(fileID string, chunkID int, code string, reason string) {
	l.logger.Warn().
		Str("file_id", fileID).
		Int("chunk_id", chunkID).
		Str("error_code", code).
		Str("reason", reason).
		Msg("chunk rejected")
}

// ReReplicationStarted logs a re-replication attempt for an under-replicated chunk.
func (l *Logger) ReReplicationStarted(fileID string, chunkID int, from, to string) {
	l.logger.Info().
		Str("file_id", fileID).
		Int("chunk_id", chunkID).
		Str("from", from).
		Str("to", to).
		Msg("re-replication started")
}

// ReReplicationFailed logs a failed re-replication attempt and whether it will be retried.
func (l *Logger) ReReplicationFailed(fileID string, chunkID int, err error, willRetry bool) {
	l.logger.Error().
		Str("file_id", fileID).
		Int("chunk_id", chunkID).
		Err(err).
		Bool("will_retry", willRetry).
		Msg("re-replication failed")
}

// UploadCompleted logs a completed UPLOAD_FILE.
func (l *Logger) UploadCompleted(fileID string, totalBytes int64, chunkCount int, duration time.Duration) {
	l.logger.Info().
		Str("file_id", fileID).
		Int64("total_bytes", totalBytes).
		Str("size", humanize.Bytes(uint64(totalBytes))).
		Int("chunk_count", chunkCount).
		Float64("duration_seconds", duration.Seconds()).
		Msg("upload completed")
}

// DownloadCompleted logs a completed DOWNLOAD_FILE.
func (l *Logger) DownloadCompleted(fileID string, totalBytes int64, duration time.Duration) {
	l.logger.Info().
		Str("file_id", fileID).
		Int64("total_bytes", totalBytes).
		Float64("duration_seconds", duration.Seconds()).
		Msg("download completed")
}
