package taiga

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// attachmentsKey is the payload field tools use to hand binary content to
// the materializer. It is popped from the payload before the result turn is
// built; the raw bytes never re-enter the conversation.
const attachmentsKey = "giga_attachments"

// dispatch executes one approved invocation and materializes its result.
// It always returns a tool result turn: every failure — unknown tool,
// schema violation, tool panic, provider fault inside a sub-agent — is
// classified into a displayable error turn instead of propagating.
func (g *Graph) dispatch(ctx context.Context, conv *Conversation, inv Invocation) (turn Turn) {
	sess := conv.Session
	callID := invocationID(inv)

	defer func() {
		if p := recover(); p != nil {
			g.logger.Error("tool dispatch panic", "tool", inv.Name, "panic", p)
			classified := g.classifier.Classify(ctx, fmt.Errorf("tool %q panic: %v", inv.Name, p))
			turn = ToolResultTurn(callID, classified.Render(), nil)
		}
	}()

	dispatchCtx := ctx
	var span Span
	if g.tracer != nil {
		dispatchCtx, span = g.tracer.Start(ctx, "graph.dispatch",
			StringAttr("tool.name", inv.Name),
			BoolAttr("tool.subagent", g.registry.IsSubAgent(inv.Name)))
		defer span.End()
	}

	tool, _, ok := g.registry.Lookup(inv.Name)
	if !ok {
		return g.errorTurn(dispatchCtx, callID, &UnknownToolError{Name: inv.Name})
	}

	args := inv.Args
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	// Sub-agents receive the full execution-session context; plain tools
	// get only their declared arguments.
	if g.registry.IsSubAgent(inv.Name) {
		args = injectSessionArgs(args, conv)
	}
	if err := g.registry.Validate(inv.Name, args); err != nil {
		return g.errorTurn(dispatchCtx, callID, err)
	}

	result, err := tool.Execute(dispatchCtx, inv.Name, args)
	if err != nil {
		return g.errorTurn(dispatchCtx, callID, err)
	}
	if result.Error != "" {
		return g.errorTurn(dispatchCtx, callID, fmt.Errorf("tool %q: %s", inv.Name, result.Error))
	}

	return g.materialize(dispatchCtx, sess, inv, callID, result)
}

// materialize post-processes a raw tool result: persists attachments to the
// blob store, appends the full payload to the execution log, and summarizes
// oversized plain-tool payloads into a schema plus pointer message.
func (g *Graph) materialize(ctx context.Context, sess *ExecutionSession, inv Invocation, callID string, result ToolResult) Turn {
	// Decode the payload as structured data; keep it as opaque text when
	// decoding fails.
	var decoded any
	if len(result.Payload) > 0 && json.Unmarshal(result.Payload, &decoded) != nil {
		decoded = string(result.Payload)
	}

	// Pop attachments embedded in the payload and merge the explicit ones.
	attachments := result.Attachments
	if m, ok := decoded.(map[string]any); ok {
		if raw, found := m[attachmentsKey]; found {
			delete(m, attachmentsKey)
			attachments = append(decodeAttachments(raw), attachments...)
		}
	}
	refs := g.storeAttachments(ctx, sess, attachments)

	sess.ResultIndex++
	message := fmt.Sprintf("Результат функции сохранен в переменную `function_results[%d]['data']` ", sess.ResultIndex)

	full, err := json.Marshal(decoded)
	if err != nil {
		full = []byte(`null`)
	}
	// The execution log keeps the full untruncated payload regardless of
	// whether it is summarized for the model below.
	if g.execLog != nil {
		if err := g.execLog.Append(ctx, sess.KernelID, LogEntry{Data: full, Message: message}); err != nil {
			g.logger.Warn("execution log append failed", "kernel", sess.KernelID, "error", err)
		}
	}

	body := map[string]any{"message": message, "data": decoded}
	if len(full) > g.summarizeThreshold && !g.registry.IsSubAgent(inv.Name) {
		delete(body, "data")
		body["message"] = message + "Результат функции вышел слишком длинным. Изучи результат функции в переменной. Схема данных:\n"
		body["schema"] = BuildSchema(decoded)
	}

	content, err := json.Marshal(body)
	if err != nil {
		return g.errorTurn(ctx, callID, fmt.Errorf("tool %q: encode result: %w", inv.Name, err))
	}
	return ToolResultTurn(callID, string(content), refs)
}

// storeAttachments persists each attachment to its type-derived partition
// and returns the lightweight references that replace the payloads in the
// conversation. Image attachments are also kept in the session's chart map
// so later turns can reference them without a blob round-trip.
func (g *Graph) storeAttachments(ctx context.Context, sess *ExecutionSession, attachments []Attachment) []AttachmentRef {
	if len(attachments) == 0 {
		return nil
	}
	refs := make([]AttachmentRef, 0, len(attachments))
	for _, att := range attachments {
		if att.FileID == "" {
			att.FileID = uuid.NewString()
		}
		if g.blobs != nil {
			if err := g.blobs.Put(ctx, partitionFor(att.Type), att.FileID, att); err != nil {
				g.logger.Error("attachment store failed", "file_id", att.FileID, "type", att.Type, "error", err)
			}
		}
		if strings.HasPrefix(att.Type, "image/") {
			sess.ChartAttachments[att.FileID] = att
		}
		sess.FileIDs = append(sess.FileIDs, att.FileID)
		refs = append(refs, AttachmentRef{Type: att.Type, FileID: att.FileID})
	}
	return refs
}

// partitionFor maps an attachment MIME type to its blob store partition.
func partitionFor(mimeType string) string {
	switch mimeType {
	case "text/html":
		return PartitionHTML
	case "audio/mp3":
		return PartitionAudio
	default:
		return PartitionAttachments
	}
}

// decodeAttachments converts the popped payload field into Attachment
// values. Malformed entries are dropped.
func decodeAttachments(raw any) []Attachment {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var attachments []Attachment
	if err := json.Unmarshal(encoded, &attachments); err != nil {
		return nil
	}
	return attachments
}

// injectSessionArgs adds the execution-session context fields to a
// sub-agent's arguments: user id, kernel id, and the attachment ids
// accumulated so far. Explicit argument values win over injected ones.
func injectSessionArgs(args json.RawMessage, conv *Conversation) json.RawMessage {
	var m map[string]any
	if err := json.Unmarshal(args, &m); err != nil {
		return args
	}
	if v, ok := m["user_id"].(string); !ok || v == "" {
		userID := conv.UserID
		if userID == "" {
			userID = defaultUserID
		}
		m["user_id"] = userID
	}
	if _, ok := m["kernel_id"]; !ok && conv.Session != nil {
		m["kernel_id"] = conv.Session.KernelID
	}
	if _, ok := m["file_ids"]; !ok && conv.Session != nil && len(conv.Session.FileIDs) > 0 {
		m["file_ids"] = conv.Session.FileIDs
	}
	injected, err := json.Marshal(m)
	if err != nil {
		return args
	}
	return injected
}

// errorTurn classifies err and renders it as a tool result turn.
func (g *Graph) errorTurn(ctx context.Context, callID string, err error) Turn {
	classified := g.classifier.Classify(ctx, err)
	g.logger.Error("tool dispatch failed",
		"disposition", string(classified.Disposition),
		"error", err)
	return ToolResultTurn(callID, classified.Render(), nil)
}
