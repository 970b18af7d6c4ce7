package taiga

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is a callable capability exposing one or more tool functions.
// Implementations live outside the core; the graph only needs the declared
// name, input schema, and (result | error) contract.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution. Payload is the raw result
// bytes; the materializer decodes them as JSON when possible and keeps them
// as opaque text otherwise. Attachments carries binary content destined for
// the blob store. A non-empty Error marks a failure inside the tool's own
// logic.
type ToolResult struct {
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Registry maps tool and sub-agent names to their callable contracts.
// It is read-only after startup and safely shared across conversations.
type Registry struct {
	tools     []Tool
	subAgents map[string]bool
	schemas   map[string]*jsonschema.Schema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subAgents: make(map[string]bool),
		schemas:   make(map[string]*jsonschema.Schema),
	}
}

// Add registers a plain tool.
func (r *Registry) Add(t Tool) {
	r.tools = append(r.tools, t)
	r.compileSchemas(t)
}

// AddSubAgent registers a sub-agent. Sub-agent invocations receive the full
// execution-session context at dispatch, and their results are exempt from
// oversized-result summarization.
func (r *Registry) AddSubAgent(t Tool) {
	r.tools = append(r.tools, t)
	for _, d := range t.Definitions() {
		r.subAgents[d.Name] = true
	}
	r.compileSchemas(t)
}

// compileSchemas compiles the Parameters schema of each definition once at
// registration. Definitions without a schema (or with one that does not
// compile) skip argument validation at dispatch.
func (r *Registry) compileSchemas(t Tool) {
	for _, d := range t.Definitions() {
		if len(d.Parameters) == 0 {
			continue
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(d.Name+".json", bytes.NewReader(d.Parameters)); err != nil {
			continue
		}
		if s, err := c.Compile(d.Name + ".json"); err == nil {
			r.schemas[d.Name] = s
		}
	}
}

// IsSubAgent reports whether name resolves to a sub-agent rather than a plain tool.
func (r *Registry) IsSubAgent(name string) bool { return r.subAgents[name] }

// Lookup finds the tool handling name, with its definition.
func (r *Registry) Lookup(name string) (Tool, ToolDefinition, bool) {
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t, d, true
			}
		}
	}
	return nil, ToolDefinition{}, false
}

// Definitions returns every registered definition, unfiltered.
func (r *Registry) Definitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Available returns the definitions whose required environment variables are
// all set. A definition with no RequiredEnv is always available.
func (r *Registry) Available() []ToolDefinition {
	var defs []ToolDefinition
	for _, d := range r.Definitions() {
		if hasRequiredEnv(d) {
			defs = append(defs, d)
		}
	}
	return defs
}

func hasRequiredEnv(d ToolDefinition) bool {
	for _, name := range d.RequiredEnv {
		if strings.TrimSpace(os.Getenv(name)) == "" {
			return false
		}
	}
	return true
}

// Validate checks args against the declared schema of name. It returns a
// *ValidationError carrying the schema so the model can self-correct, or
// nil when the arguments conform (or no schema was declared).
func (r *Registry) Validate(name string, args json.RawMessage) error {
	schema, ok := r.schemas[name]
	if !ok {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return &ValidationError{Tool: name, Schema: r.schemaBytes(name), Args: args, Cause: err}
	}
	if err := schema.Validate(decoded); err != nil {
		return &ValidationError{Tool: name, Schema: r.schemaBytes(name), Args: args, Cause: err}
	}
	return nil
}

func (r *Registry) schemaBytes(name string) []byte {
	for _, d := range r.Definitions() {
		if d.Name == name {
			return d.Parameters
		}
	}
	return nil
}
