package taiga

import "context"

// Provider abstracts the LLM backend.
type Provider interface {
	// Chat sends the conversation (with the tool catalog bound) and returns
	// the model's reply. Tool calling is non-parallel: a reply carries at
	// most one batch of invocations. Failures should surface as
	// *ProviderError (API rejection) or *TransportError (network/timeout)
	// so the classifier can produce a remediation hint.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name (e.g. "GigaChat").
	Name() string
}
