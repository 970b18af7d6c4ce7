package gigachat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/anikeev/taiga"
)

// TokenBalance queries the account token endpoint and renders the limits
// for display. It satisfies taiga.BalanceFunc, so the failure classifier
// can append balance information to quota/payment classifications.
func (p *Provider) TokenBalance(ctx context.Context) (string, error) {
	token, err := p.token(ctx)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/token", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)

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
			RawMessage: "token info failed: " + strings.TrimSpace(string(raw)),
		}
	}

	var info struct {
		TokenLimit      *int64 `json:"token_limit"`
		UsedTokens      *int64 `json:"used_tokens"`
		RemainingTokens *int64 `json:"remaining_tokens"`
	}
	if err := json.Unmarshal(raw, &info); err != nil {
		return "", fmt.Errorf("gigachat: decode token info: %w", err)
	}

	return fmt.Sprintf("📊 **Информация о токенах:**\n• Лимит токенов: %s\n• Использовано: %s\n• Остаток: %s",
		formatCount(info.TokenLimit),
		formatCount(info.UsedTokens),
		formatCount(info.RemainingTokens)), nil
}

func formatCount(v *int64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *v)
}
