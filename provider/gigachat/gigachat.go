// Package gigachat implements taiga.Provider for the GigaChat API.
//
// It handles the OAuth credential exchange, chat completions with bound
// function definitions (non-parallel function calling), and the account
// token-balance endpoint consumed by the failure classifier's side query.
package gigachat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anikeev/taiga"
)

const (
	defaultBaseURL = "https://gigachat.devices.sberbank.ru/api/v1"
	defaultAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	defaultScope   = "GIGACHAT_API_PERS"
	defaultModel   = "GigaChat"

	// tokenSlack refetches the access token this long before its expiry
	// so an in-flight chat request never races token expiration.
	tokenSlack = 30 * time.Second
)

// Provider implements taiga.Provider over the GigaChat chat completions API.
type Provider struct {
	credentials string // base64 client_id:client_secret
	scope       string
	model       string
	baseURL     string
	authURL     string
	client      *http.Client
	logger      *slog.Logger

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

var _ taiga.Provider = (*Provider)(nil)

// New creates a GigaChat provider. credentials is the base64-encoded
// client_id:client_secret pair issued for the API project.
func New(credentials string, opts ...Option) *Provider {
	p := &Provider{
		credentials: credentials,
		scope:       defaultScope,
		model:       defaultModel,
		baseURL:     defaultBaseURL,
		authURL:     defaultAuthURL,
		client:      &http.Client{Timeout: 120 * time.Second},
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "GigaChat".
func (p *Provider) Name() string { return "GigaChat" }

// Chat sends the conversation with the tool catalog bound as GigaChat
// function definitions and parses the reply into a taiga.ChatResponse.
// GigaChat emits at most one function_call per reply, which matches the
// graph's non-parallel tool-calling contract.
func (p *Provider) Chat(ctx context.Context, req taiga.ChatRequest) (taiga.ChatResponse, error) {
	body := buildBody(p.model, req)
	payload, err := json.Marshal(body)
	if err != nil {
		return taiga.ChatResponse{}, err
	}

	token, err := p.token(ctx)
	if err != nil {
		return taiga.ChatResponse{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return taiga.ChatResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return taiga.ChatResponse{}, &taiga.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return taiga.ChatResponse{}, &taiga.TransportError{Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return taiga.ChatResponse{}, &taiga.ProviderError{
			Provider:   p.Name(),
			Status:     resp.StatusCode,
			RawMessage: strings.TrimSpace(string(raw)),
		}
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return taiga.ChatResponse{}, &taiga.ProviderError{
			Provider:   p.Name(),
			Status:     resp.StatusCode,
			RawMessage: "malformed completions response: " + err.Error(),
		}
	}
	return parseResponse(decoded), nil
}

// token returns a valid access token, exchanging credentials when the
// cached one is missing or close to expiry.
func (p *Provider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Until(p.expiresAt) > tokenSlack {
		return p.accessToken, nil
	}

	form := url.Values{"scope": {p.scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+p.credentials)
	req.Header.Set("RqUID", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &taiga.TransportError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &taiga.TransportError{Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &taiga.ProviderError{
			Provider:   p.Name(),
			Status:     resp.StatusCode,
			RawMessage: "authorization failed: " + strings.TrimSpace(string(raw)),
		}
	}

	var auth struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"` // unix milliseconds
	}
	if err := json.Unmarshal(raw, &auth); err != nil || auth.AccessToken == "" {
		return "", &taiga.ProviderError{
			Provider:   p.Name(),
			Status:     resp.StatusCode,
			RawMessage: "authorization response carried no access token",
		}
	}

	p.accessToken = auth.AccessToken
	p.expiresAt = time.UnixMilli(auth.ExpiresAt)
	p.logger.Debug("access token refreshed", "expires_at", p.expiresAt)
	return p.accessToken, nil
}
