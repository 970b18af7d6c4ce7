package taiga

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// --- Execution graph ---

// defaultMaxIter caps the Agent → ToolCall loop for one interaction.
const defaultMaxIter = 16

// defaultSummarizeThreshold is the serialized payload size (bytes) above
// which a plain tool result is replaced by a structural schema plus pointer
// message. Sub-agent results are exempt: they are assumed to already be
// summarized by the sub-agent.
const defaultSummarizeThreshold = 40_000

// nopLogger discards all output. Used when no logger is configured so the
// graph never nil-checks its logger.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// GraphOption configures a Graph.
type GraphOption func(*Graph)

// WithBlobStore sets the attachment blob store.
func WithBlobStore(b BlobStore) GraphOption { return func(g *Graph) { g.blobs = b } }

// WithExecutionLog sets the session-scoped full-result log.
func WithExecutionLog(l ExecutionLog) GraphOption { return func(g *Graph) { g.execLog = l } }

// WithClassifier replaces the default failure classifier.
func WithClassifier(c *Classifier) GraphOption { return func(g *Graph) { g.classifier = c } }

// WithSystemPrompt sets the system prompt prepended to every model call.
func WithSystemPrompt(p string) GraphOption { return func(g *Graph) { g.systemPrompt = p } }

// WithMaxIterations caps the tool-calling loop for one interaction.
func WithMaxIterations(n int) GraphOption { return func(g *Graph) { g.maxIter = n } }

// WithSummarizeThreshold overrides the oversized-result threshold in bytes.
func WithSummarizeThreshold(n int) GraphOption { return func(g *Graph) { g.summarizeThreshold = n } }

// WithTracer enables span emission.
func WithTracer(t Tracer) GraphOption { return func(g *Graph) { g.tracer = t } }

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) GraphOption { return func(g *Graph) { g.logger = l } }

// WithExtractor replaces the textual function-call extractor (tests).
func WithExtractor(fn func(string) ExtractionResult) GraphOption {
	return func(g *Graph) { g.extract = fn }
}

// WithClock replaces the wall clock used for the task envelope (tests).
func WithClock(now func() time.Time) GraphOption { return func(g *Graph) { g.now = now } }

// Graph drives the Model → Extract → (Approve) → Execute → Model cycle
// until the model emits no further invocations.
//
// One conversation is one sequential state-machine instance: the graph
// processes a turn end-to-end before accepting the next, and never raises
// out of a turn — every failure is classified into a displayable turn so
// the conversation stays resumable.
type Graph struct {
	provider           Provider
	registry           *Registry
	blobs              BlobStore
	execLog            ExecutionLog
	classifier         *Classifier
	extract            func(string) ExtractionResult
	systemPrompt       string
	maxIter            int
	summarizeThreshold int
	tracer             Tracer
	logger             *slog.Logger
	now                func() time.Time
}

// NewGraph creates an execution graph over the given provider and registry.
func NewGraph(provider Provider, registry *Registry, opts ...GraphOption) *Graph {
	g := &Graph{
		provider:           provider,
		registry:           registry,
		extract:            Extract,
		maxIter:            defaultMaxIter,
		summarizeThreshold: defaultSummarizeThreshold,
		logger:             nopLogger,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.classifier == nil {
		g.classifier = NewClassifier(WithClassifierLogger(g.logger))
	}
	return g
}

// FileDescriptor describes a file attached to a user message.
type FileDescriptor struct {
	Path   string `json:"path"`
	FileID string `json:"file_id,omitempty"` // set when the file is an image
}

// UserInput is one user message entering the graph.
type UserInput struct {
	Text string
	// Files are attachments uploaded with the message.
	Files []FileDescriptor
	// Selected maps attachment keys to labels for attachments the user
	// pointed at in the conversation.
	Selected map[string]string
}

// Result is the terminal outcome of one interaction.
type Result struct {
	// Output is the model's final reply text.
	Output string
	// Usage aggregates token usage across all model calls of the interaction.
	Usage Usage
	// Conversation is the full history after the interaction, including any
	// turns appended while resuming from a checkpoint.
	Conversation *Conversation
}

// Run processes one user message through the graph. It returns either a
// terminal Result or an *ErrApprovalRequired when an extracted invocation
// awaits a human decision; resume via its Resume method or by persisting
// its Checkpoint and calling Graph.Resume later.
func (g *Graph) Run(ctx context.Context, conv *Conversation, input UserInput) (Result, error) {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	g.ensureSession(conv)
	conv.Append(g.taskTurn(conv, input))
	return g.loop(ctx, conv, Usage{}, 0)
}

// Resume continues a suspended interaction from a serialized checkpoint.
// decision must be {type: "approve"} or {type: "comment", message}; any
// other shape is a caller error.
func (g *Graph) Resume(ctx context.Context, cp Checkpoint, decision Decision) (Result, error) {
	conv := &cp.Conversation
	g.ensureSession(conv)
	switch decision.Type {
	case DecisionComment:
		conv.Append(ToolResultTurn(invocationID(cp.Pending), cancelContent(decision.Message), nil))
		g.logger.Info("invocation declined", "conversation", conv.ID, "tool", cp.Pending.Name)
	case DecisionApprove:
		conv.Append(g.dispatch(ctx, conv, cp.Pending))
	default:
		return Result{}, fmt.Errorf("taiga: invalid resume decision type %q", decision.Type)
	}
	return g.loop(ctx, conv, cp.Usage, cp.Iterations)
}

// loop runs the Agent → Route → ToolCall cycle. It returns a terminal
// Result when the model's reply carries no invocations, or suspends with
// *ErrApprovalRequired when one does. iter carries the iteration count
// across suspensions so the cap applies to the whole interaction, not to
// each resumed segment.
func (g *Graph) loop(ctx context.Context, conv *Conversation, usage Usage, iter int) (Result, error) {
	for i := iter; i < g.maxIter; i++ {
		iterCtx := ctx
		var span Span
		if g.tracer != nil {
			iterCtx, span = g.tracer.Start(ctx, "graph.turn",
				StringAttr("conversation.id", conv.ID),
				IntAttr("iteration", i))
		}

		turn, u := g.agentStep(iterCtx, conv)
		usage.InputTokens += u.InputTokens
		usage.OutputTokens += u.OutputTokens
		conv.Append(turn)

		if span != nil {
			span.SetAttr(IntAttr("invocations", len(turn.Invocations)))
			span.End()
		}

		// Route: no invocations means the reply is final.
		if len(turn.Invocations) == 0 {
			return Result{Output: turn.Content, Usage: usage, Conversation: conv}, nil
		}

		// ToolCall: one invocation per loop iteration, deterministically the
		// first of the batch. Suspend for the human decision.
		return Result{Usage: usage, Conversation: conv}, g.suspend(conv, turn.Invocations[0], usage, i+1)
	}

	g.logger.Warn("max iterations reached", "conversation", conv.ID, "iterations", g.maxIter)
	return Result{Output: lastAssistantContent(conv), Usage: usage, Conversation: conv}, nil
}

// agentStep invokes the model over the full history and turns the reply
// into a model turn. Provider failures are classified and become a
// displayable turn instead of an error — the graph never aborts here.
func (g *Graph) agentStep(ctx context.Context, conv *Conversation) (Turn, Usage) {
	req := ChatRequest{Messages: g.promptTurns(conv), Tools: conv.Session.Catalog}
	resp, err := g.provider.Chat(ctx, req)
	if err != nil {
		classified := g.classifier.Classify(ctx, err)
		g.logger.Error("model call failed",
			"conversation", conv.ID,
			"disposition", string(classified.Disposition),
			"error", err)
		return ModelTurn(classified.Render(), nil), Usage{}
	}

	invocations := resp.Invocations
	content := resp.Content
	if len(invocations) == 0 {
		// The model emitted no structured calls; fall back to the textual
		// extractor over the reply body.
		ext := g.extract(content)
		content = ext.CleanedText
		invocations = ext.Invocations
	}
	return ModelTurn(content, invocations), resp.Usage
}

// promptTurns assembles the provider message list: system prompt first,
// then the conversation history verbatim.
func (g *Graph) promptTurns(conv *Conversation) []Turn {
	if g.systemPrompt == "" {
		return conv.Turns
	}
	turns := make([]Turn, 0, len(conv.Turns)+1)
	turns = append(turns, SystemTurn(g.systemPrompt))
	return append(turns, conv.Turns...)
}

// ensureSession lazily initializes the per-conversation execution session:
// kernel id and tool catalog resolve on the first turn and are reused for
// the conversation's lifetime.
func (g *Graph) ensureSession(conv *Conversation) {
	if conv.Session == nil {
		conv.Session = &ExecutionSession{
			KernelID:         uuid.NewString(),
			ResultIndex:      -1,
			ChartAttachments: make(map[string]Attachment),
		}
	}
	if conv.Session.ChartAttachments == nil {
		conv.Session.ChartAttachments = make(map[string]Attachment)
	}
	if conv.Session.Catalog == nil {
		conv.Session.Catalog = g.registry.Available()
	}
}

// taskTurn wraps the user message in the <task> envelope: current
// timestamp, attached-file descriptors, and selected-attachment references.
func (g *Graph) taskTurn(conv *Conversation, input UserInput) Turn {
	sess := conv.Session

	var filePrompt string
	if len(input.Files) > 0 {
		parts := make([]string, 0, len(input.Files))
		for idx, file := range input.Files {
			part := fmt.Sprintf("Файл ![](graph:%d)\nЗагружен по пути: '%s'", idx, file.Path)
			if file.FileID != "" {
				part += fmt.Sprintf("\nФайл является изображением его id: '%s'", file.FileID)
				sess.FileIDs = append(sess.FileIDs, file.FileID)
			}
			parts = append(parts, part)
		}
		filePrompt = "<files_data>" + strings.Join(parts, "\n----\n") + "</files_data>"
	}

	var selectedPrompt string
	if len(input.Selected) > 0 {
		keys := make([]string, 0, len(input.Selected))
		for key := range input.Selected {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		items := make([]string, 0, len(keys))
		for _, key := range keys {
			items = append(items, fmt.Sprintf("![%s](graph:%s)", input.Selected[key], key))
		}
		selectedPrompt = "Пользователь указал на следующие вложения: \n" + strings.Join(items, "\n")
	}

	content := fmt.Sprintf(
		"<task>%s</task> Активно планируй и следуй своему плану! Действуй по простым шагам!<user_info>\nТекущая дата: %s</user_info>\n%s\n%s\nСледующий шаг: ",
		input.Text,
		g.now().Format("02.01.2006 15:04"),
		filePrompt,
		selectedPrompt,
	)
	return UserTurn(content)
}

// lastAssistantContent returns the content of the most recent model turn.
func lastAssistantContent(conv *Conversation) string {
	for i := len(conv.Turns) - 1; i >= 0; i-- {
		if conv.Turns[i].Role == "assistant" {
			return conv.Turns[i].Content
		}
	}
	return ""
}

// invocationID returns the invocation's id, minting one when the model
// supplied none.
func invocationID(inv Invocation) string {
	if inv.ID != "" {
		return inv.ID
	}
	return uuid.NewString()
}
