package gigachat

import (
	"log/slog"
	"net/http"
)

// Option configures a Provider.
type Option func(*Provider)

// WithModel sets the model name (default "GigaChat").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithScope sets the OAuth scope (default GIGACHAT_API_PERS).
func WithScope(scope string) Option {
	return func(p *Provider) { p.scope = scope }
}

// WithBaseURL overrides the API base URL (tests, proxies).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithAuthURL overrides the OAuth endpoint.
func WithAuthURL(u string) Option {
	return func(p *Provider) { p.authURL = u }
}

// WithHTTPClient replaces the HTTP client, e.g. to install the Russian
// trusted-root certificate chain the production endpoints are signed with.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}
