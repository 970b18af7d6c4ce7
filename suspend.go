package taiga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// --- Approval gate (suspend / resume) ---

// defaultApprovalTTL is the default time-to-live for in-memory
// ErrApprovalRequired values. When the TTL elapses without Resume(), the
// captured conversation snapshot is released automatically, preventing
// memory leaks from abandoned approvals. The serialized Checkpoint is
// unaffected: persist it and use Graph.Resume for long-lived suspensions.
const defaultApprovalTTL = 30 * time.Minute

// Decision is the human's resume payload for a pending approval.
type Decision struct {
	Type    string `json:"type"` // DecisionApprove or DecisionComment
	Message string `json:"message,omitempty"`
}

const (
	// DecisionApprove proceeds with the pending invocation.
	DecisionApprove = "approve"
	// DecisionComment declines the pending invocation; Message carries the
	// user's free-text comment.
	DecisionComment = "comment"
)

// ApprovalPayload is what the graph surfaces to the calling context while
// suspended: the decision kind requested and the invocation awaiting it.
type ApprovalPayload struct {
	Type       string     `json:"type"` // always "approve"
	Invocation Invocation `json:"invocation"`
}

// Checkpoint is the serializable suspension state: the conversation id,
// the invocation awaiting approval, and the full conversation (with its
// session) needed to continue. Persist it to durable storage and call
// Graph.Resume with the human's decision — no in-process continuation or
// open connection is held while suspended.
type Checkpoint struct {
	ConversationID string       `json:"conversation_id"`
	Pending        Invocation   `json:"pending_invocation"`
	Conversation   Conversation `json:"conversation"`
	Usage          Usage        `json:"usage"`
	// Iterations is the loop-iteration count consumed so far, so the
	// per-interaction cap survives suspension.
	Iterations int `json:"iterations"`
}

// Marshal renders the checkpoint for durable storage.
func (cp Checkpoint) Marshal() ([]byte, error) { return json.Marshal(cp) }

// UnmarshalCheckpoint restores a checkpoint persisted with Marshal.
func UnmarshalCheckpoint(data []byte) (Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("taiga: decode checkpoint: %w", err)
	}
	return cp, nil
}

// ErrApprovalRequired is returned by Graph.Run (and Graph.Resume, when the
// continued loop reaches another invocation) while an invocation awaits a
// human decision. Inspect Payload to present the approval, then either
// call Resume in-process or persist Checkpoint() and call Graph.Resume
// later — the checkpoint survives process restarts.
//
// Retention: the value holds a conversation snapshot (tool arguments,
// results, attachment references). A default TTL releases it automatically
// when no Resume arrives; after release, Resume returns an error.
type ErrApprovalRequired struct {
	// Payload carries the pending invocation for display.
	Payload ApprovalPayload

	graph      *Graph
	checkpoint Checkpoint
	// mu guards released/checkpoint against the TTL timer goroutine.
	mu       sync.Mutex
	ttlTimer *time.Timer
	released bool
}

func (e *ErrApprovalRequired) Error() string {
	return fmt.Sprintf("approval required for invocation %q", e.Payload.Invocation.Name)
}

// Checkpoint returns the serializable suspension state. Returns false when
// the value has been released or resumed.
func (e *ErrApprovalRequired) Checkpoint() (Checkpoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.released {
		return Checkpoint{}, false
	}
	return e.checkpoint, true
}

// Resume continues execution with the human's decision. Single-use: the
// snapshot is freed after the first call, and calling Resume on a released
// or expired value returns an error.
func (e *ErrApprovalRequired) Resume(ctx context.Context, decision Decision) (Result, error) {
	e.mu.Lock()
	if e.ttlTimer != nil {
		e.ttlTimer.Stop()
	}
	if e.released {
		e.mu.Unlock()
		return Result{}, fmt.Errorf("taiga: approval already resumed, released, or expired")
	}
	cp := e.checkpoint
	e.released = true
	e.checkpoint = Checkpoint{}
	e.mu.Unlock()

	return e.graph.Resume(ctx, cp, decision)
}

// Release frees the captured conversation snapshot. Call when the approval
// will not be resumed in-process. Safe to call multiple times.
func (e *ErrApprovalRequired) Release() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ttlTimer != nil {
		e.ttlTimer.Stop()
	}
	e.released = true
	e.checkpoint = Checkpoint{}
}

// WithApprovalTTL overrides the automatic expiry on the in-memory value.
func (e *ErrApprovalRequired) WithApprovalTTL(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ttlTimer != nil {
		e.ttlTimer.Stop()
	}
	e.ttlTimer = time.AfterFunc(d, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.released = true
		e.checkpoint = Checkpoint{}
	})
}

// suspend builds the ErrApprovalRequired for a pending invocation. The
// checkpoint deep-copies the conversation so later mutations of the live
// conversation never leak into a resumed one.
func (g *Graph) suspend(conv *Conversation, pending Invocation, usage Usage, iterations int) *ErrApprovalRequired {
	if len(pending.Args) > 0 {
		args := make(json.RawMessage, len(pending.Args))
		copy(args, pending.Args)
		pending.Args = args
	}
	e := &ErrApprovalRequired{
		Payload: ApprovalPayload{Type: "approve", Invocation: pending},
		graph:   g,
		checkpoint: Checkpoint{
			ConversationID: conv.ID,
			Pending:        pending,
			Conversation:   snapshotConversation(conv),
			Usage:          usage,
			Iterations:     iterations,
		},
	}
	e.WithApprovalTTL(defaultApprovalTTL)
	g.logger.Info("awaiting approval", "conversation", conv.ID, "tool", pending.Name)
	return e
}

// snapshotConversation deep-copies a conversation for checkpointing.
// Invocation args and attachment refs get their own backing arrays;
// session slices and maps are cloned as well.
func snapshotConversation(conv *Conversation) Conversation {
	snapshot := *conv
	snapshot.Turns = make([]Turn, len(conv.Turns))
	for i, turn := range conv.Turns {
		snapshot.Turns[i] = turn
		if len(turn.Invocations) > 0 {
			snapshot.Turns[i].Invocations = make([]Invocation, len(turn.Invocations))
			for j, inv := range turn.Invocations {
				snapshot.Turns[i].Invocations[j] = inv
				if len(inv.Args) > 0 {
					args := make(json.RawMessage, len(inv.Args))
					copy(args, inv.Args)
					snapshot.Turns[i].Invocations[j].Args = args
				}
			}
		}
		if len(turn.Attachments) > 0 {
			snapshot.Turns[i].Attachments = make([]AttachmentRef, len(turn.Attachments))
			copy(snapshot.Turns[i].Attachments, turn.Attachments)
		}
	}
	if conv.Session != nil {
		sess := *conv.Session
		sess.Catalog = append([]ToolDefinition(nil), conv.Session.Catalog...)
		sess.FileIDs = append([]string(nil), conv.Session.FileIDs...)
		if conv.Session.ChartAttachments != nil {
			sess.ChartAttachments = make(map[string]Attachment, len(conv.Session.ChartAttachments))
			for k, v := range conv.Session.ChartAttachments {
				sess.ChartAttachments[k] = v
			}
		}
		snapshot.Session = &sess
	}
	return snapshot
}

// cancelContent renders the tool-result payload for a declined invocation.
func cancelContent(comment string) string {
	body, _ := json.Marshal(map[string]string{
		"message": fmt.Sprintf("Пользователь отменил выполнение инструмента. Комментарий: %q", comment),
	})
	return string(body)
}
