// Package taiga is a conversational agent execution graph: a language
// model proposes tool invocations, the graph executes them against a
// registry of tools and sub-agents behind a human approval gate, and
// feeds results back to the model until it produces a final answer.
//
// The graph is a resumable state machine (Agent → Route → ToolCall →
// Agent / Done). Model output is parsed leniently: structured tool calls
// from the provider are used when present, and a best-effort textual
// extractor recovers calls the model emitted as prose. Every failure —
// provider rejection, schema violation, transport fault — is classified
// into a displayable turn, so a conversation is never lost to an error.
//
// Suspension at the approval gate is explicit state: a serializable
// Checkpoint that survives process restarts, resumed with the human's
// approve-or-comment decision.
//
// Subpackages provide the concrete infrastructure: provider/gigachat (LLM
// backend with token-balance queries), store/sqlite and store/postgres
// (attachment blob store and execution log), observer (OpenTelemetry
// tracing), and internal/config (TOML configuration).
package taiga
