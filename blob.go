package taiga

import (
	"context"
	"encoding/json"
)

// Blob store partitions used by the result materializer.
const (
	PartitionHTML        = "html"
	PartitionAudio       = "audio"
	PartitionAttachments = "attachments"
)

// BlobStore persists tool attachments out-of-band, keyed by a caller-minted
// UUID within a type-derived partition. Keys never collide across
// conversations by construction, so no update-in-place or deletion
// semantics are required.
type BlobStore interface {
	Put(ctx context.Context, partition, key string, att Attachment) error
	Get(ctx context.Context, partition, key string) (Attachment, error)
}

// LogEntry is one record of the session-scoped execution log: the full
// untruncated tool payload plus the pointer message handed to the model.
type LogEntry struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// ExecutionLog is the purely additive side channel holding full tool
// results, indexed by append order (function_results[n]). It preserves
// queryability of oversized payloads without bloating prompt context.
type ExecutionLog interface {
	Append(ctx context.Context, sessionID string, entry LogEntry) error
	Entry(ctx context.Context, sessionID string, index int) (LogEntry, error)
}
