package taiga

import "fmt"

// Disposition is the classifier's verdict on how a failure affects control flow.
type Disposition string

const (
	// Retryable marks transient transport faults. The caller may re-issue
	// the same turn.
	Retryable Disposition = "retryable"
	// FatalToTurn marks failures surfaced as an error turn; the graph
	// proceeds to the next model call.
	FatalToTurn Disposition = "fatal-to-turn"
	// FatalToSession is reserved for callers layering a retry budget on
	// top of the graph. The classifier never produces it internally.
	FatalToSession Disposition = "fatal-to-session"
)

// ProviderError is an upstream model/completions API rejection (quota, auth,
// malformed request). TokenInfo carries supplementary account/balance data
// when the classifier's side query succeeded.
type ProviderError struct {
	Provider   string
	Status     int
	RawMessage string
	TokenInfo  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.RawMessage)
}

// ValidationError reports tool arguments that do not satisfy the tool's
// declared schema. The schema is rendered alongside the message so the
// model can self-correct on its next turn.
type ValidationError struct {
	Tool   string
	Schema []byte
	Args   []byte
	Cause  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %q: arguments do not match schema: %v", e.Tool, e.Cause)
}

func (e *ValidationError) Unwrap() error { return e.Cause }

// TransportError wraps a network or timeout fault on the way to the
// provider or a tool.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return "transport: " + e.Cause.Error() }
func (e *TransportError) Unwrap() error { return e.Cause }

// UnknownToolError reports an invocation naming a tool absent from the registry.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return "unknown tool: " + e.Name }
