// Package wire implements the framed TCP protocol that binds the coordinator
// and storage nodes together: a small JSON envelope plus an optional opaque
// binary payload, length-prefixed for streaming over a plain net.Conn.
//
// Frame layout, all integers big-endian:
//
//	[4 bytes] total payload length N  (envelope-length field + envelope + binary)
//	[4 bytes] envelope length E
//	[E bytes] UTF-8 JSON envelope
//	[N-4-E bytes] optional opaque binary payload
//
// A frame larger than MaxFrameSize is rejected before any attempt to
// allocate a buffer for it. Any framing or parse error closes the
// connection; readers never return a partial envelope.
package wire

import (
	"errors"

	"github.com/google/uuid"
)

// MaxFrameSize bounds N, the total payload length of a single frame.
const MaxFrameSize = 100 * 1024 * 1024 // 100 MiB

const (
	lengthHeaderSize = 4
	envelopeLenSize  = 4
)

// MessageType enumerates the wire protocol's message kinds, exhaustively
// per the specification's message table.
type MessageType string

const (
	RegisterNode   MessageType = "REGISTER_NODE"
	NodeRegistered MessageType = "NODE_REGISTERED"
	Heartbeat      MessageType = "HEARTBEAT"
	HeartbeatAck   MessageType = "HEARTBEAT_ACK"
	UploadFile     MessageType = "UPLOAD_FILE"
	UploadAck      MessageType = "UPLOAD_ACK"
	StoreChunk     MessageType = "STORE_CHUNK"
	ChunkStored    MessageType = "CHUNK_STORED"
	GetChunk       MessageType = "GET_CHUNK"
	ChunkData      MessageType = "CHUNK_DATA"
	ReplicateChunk MessageType = "REPLICATE_CHUNK"
	RegisterChunk  MessageType = "REGISTER_CHUNK"
	DownloadFile   MessageType = "DOWNLOAD_FILE"
	FileData       MessageType = "FILE_DATA"
	GetStatus      MessageType = "GET_STATUS"
	StatusResponse MessageType = "STATUS_RESPONSE"
	Error          MessageType = "ERROR"
)

// ErrorCode is one of the abstract error kinds from the error handling
// design, carried as a string in an ERROR envelope's "code" field.
type ErrorCode string

const (
	ProtocolError       ErrorCode = "PROTOCOL_ERROR"
	NotFound            ErrorCode = "NOT_FOUND"
	AccessDenied        ErrorCode = "ACCESS_DENIED"
	InsufficientStorage ErrorCode = "INSUFFICIENT_STORAGE"
	NoBandwidth         ErrorCode = "NO_BANDWIDTH"
	ChecksumMismatch    ErrorCode = "CHECKSUM_MISMATCH"
	NoCapacity          ErrorCode = "NO_CAPACITY"
	DataLost            ErrorCode = "DATA_LOST"
	Transient           ErrorCode = "TRANSIENT"
)

// Envelope is the JSON header carried by every frame. Data holds
// message-type-specific fields as a generic map; callers read the fields
// they need with type assertions (JSON numbers decode as float64), which
// keeps this package agnostic of payload shapes.
type Envelope struct {
	Data      map[string]any `json:"data"`
	MsgType   MessageType    `json:"msg_type"`
	SenderID  string         `json:"sender_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ErrFrameTooLarge is returned when a peer announces a frame longer than
// MaxFrameSize; the caller MUST NOT attempt to read or allocate it.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// ErrMalformedFrame is returned when a frame's declared lengths are
// internally inconsistent (e.g. envelope length exceeds total length).
var ErrMalformedFrame = errors.New("wire: malformed frame")

// NewEnvelope builds an envelope for msgType carrying data, grounded on the
// teacher/pack convention of small constructor helpers per message kind
// (beenet's NewXxxFrame, the original protocol.py's create_message). Every
// envelope gets a fresh request_id so logs on both ends of a request can be
// correlated.
func NewEnvelope(msgType MessageType, data map[string]any) Envelope {
	return Envelope{MsgType: msgType, Data: data, RequestID: uuid.NewString()}
}

// NewErrorEnvelope builds an ERROR envelope carrying code and a human
// message, to be sent in reply to a failed request.
func NewErrorEnvelope(code ErrorCode, message string) Envelope {
	return NewEnvelope(Error, map[string]any{
		"code":    string(code),
		"message": message,
	})
}
