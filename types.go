package taiga

import "encoding/json"

// --- Conversation model ---

// Turn is one atomic step of conversation history: user input, a model
// reply (possibly carrying invocations), or a tool result.
type Turn struct {
	Role         string          `json:"role"` // "system", "user", "assistant", "tool"
	Content      string          `json:"content"`
	Invocations  []Invocation    `json:"invocations,omitempty"`
	InvocationID string          `json:"invocation_id,omitempty"`
	Attachments  []AttachmentRef `json:"attachments,omitempty"`
}

// Invocation is a structured tool/agent call extracted from model output.
// Args is the raw JSON argument object as the model produced it.
type Invocation struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Conversation is the ordered turn history of one chat. The execution
// graph exclusively owns and appends to it for the lifetime of one user
// interaction; no other component mutates it.
type Conversation struct {
	ID      string            `json:"id"`
	UserID  string            `json:"user_id,omitempty"`
	Turns   []Turn            `json:"turns"`
	Session *ExecutionSession `json:"session,omitempty"`
}

// Append adds turns to the conversation.
func (c *Conversation) Append(turns ...Turn) {
	c.Turns = append(c.Turns, turns...)
}

// Last returns the most recent turn, or a zero Turn for an empty conversation.
func (c *Conversation) Last() Turn {
	if len(c.Turns) == 0 {
		return Turn{}
	}
	return c.Turns[len(c.Turns)-1]
}

// --- Attachments ---

// Attachment is a binary/text payload produced by a tool. Data is the raw
// content; it is stored out-of-band in a BlobStore and never re-enters the
// conversation after materialization.
type Attachment struct {
	FileID string `json:"file_id"`
	Type   string `json:"type"` // MIME type, e.g. "image/png"
	Data   []byte `json:"data,omitempty"`
}

// AttachmentRef is the lightweight reference kept in the conversation once
// the attachment payload has been persisted to the blob store.
type AttachmentRef struct {
	Type   string `json:"type"`
	FileID string `json:"file_id"`
}

// --- Session ---

// ExecutionSession is the per-conversation mutable context. It is created
// lazily on the first turn and lives for the conversation's lifetime.
type ExecutionSession struct {
	// KernelID identifies the session-scoped execution log namespace.
	KernelID string `json:"kernel_id"`
	// Catalog is the tool catalog bound to the model, resolved once.
	Catalog []ToolDefinition `json:"catalog,omitempty"`
	// ResultIndex is the index of the last execution-log entry
	// (function_results[n]). Starts at -1 before any tool has run.
	ResultIndex int `json:"result_index"`
	// FileIDs accumulates attachment ids produced during the interaction.
	FileIDs []string `json:"file_ids,omitempty"`
	// ChartAttachments keeps image attachments produced by tools, keyed by
	// file id, so later turns can reference them without a blob round-trip.
	ChartAttachments map[string]Attachment `json:"chart_attachments,omitempty"`
}

// --- LLM protocol ---

// ChatRequest is the input to a Provider. Tool calling is non-parallel:
// at most one invocation batch is expected per model reply.
type ChatRequest struct {
	Messages []Turn           `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// ChatResponse is a Provider reply. Invocations is populated when the
// provider returned structured tool calls; otherwise the execution graph
// runs the textual extractor over Content.
type ChatResponse struct {
	Content     string       `json:"content"`
	Invocations []Invocation `json:"invocations,omitempty"`
	Usage       Usage        `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes a callable tool or sub-agent: its name, the JSON
// schema of its arguments, and the environment variables it needs to be
// available.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"` // JSON Schema
	RequiredEnv []string        `json:"required_env,omitempty"`
}

// --- Turn constructors ---

func SystemTurn(text string) Turn {
	return Turn{Role: "system", Content: text}
}

func UserTurn(text string) Turn {
	return Turn{Role: "user", Content: text}
}

func ModelTurn(text string, invocations []Invocation) Turn {
	return Turn{Role: "assistant", Content: text, Invocations: invocations}
}

func ToolResultTurn(invocationID, content string, refs []AttachmentRef) Turn {
	return Turn{Role: "tool", Content: content, InvocationID: invocationID, Attachments: refs}
}
