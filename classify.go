package taiga

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// --- Failure classification ---

// BalanceFunc queries the provider's account/token-balance endpoint and
// returns a human-readable rendering. Used by the classifier as a
// best-effort side query when an error looks like a quota/payment problem.
type BalanceFunc func(ctx context.Context) (string, error)

// Classified is a structured, user-presentable failure: a short primary
// message, a collapsible details block, and a machine disposition.
type Classified struct {
	Message     string
	Details     string
	Disposition Disposition
}

// Render produces the user-visible text: the primary message plus an
// optional collapsible details block. Raw tracebacks never appear here.
func (c Classified) Render() string {
	if c.Details == "" {
		return c.Message
	}
	return c.Message + "\n\n<details>\n<summary>🔍 Показать детали ошибки</summary>\n\n" + c.Details + "\n</details>"
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithBalanceQuery wires the provider's token-balance side query into
// quota/payment classifications.
func WithBalanceQuery(fn BalanceFunc) ClassifierOption {
	return func(c *Classifier) { c.balance = fn }
}

// WithClassifierLogger sets a structured logger.
func WithClassifierLogger(l *slog.Logger) ClassifierOption {
	return func(c *Classifier) { c.logger = l }
}

// Classifier inspects errors raised during model calls or tool execution
// and produces a displayable message plus a retry/fatal disposition. It
// never produces FatalToSession: session-level fatality is a caller policy.
type Classifier struct {
	balance BalanceFunc
	logger  *slog.Logger
}

// NewClassifier creates a Classifier.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{logger: nopLogger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify maps err to a Classified failure.
func (c *Classifier) Classify(ctx context.Context, err error) Classified {
	var provider *ProviderError
	if errors.As(err, &provider) {
		return c.classifyProvider(ctx, provider)
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		details := "**Детали ошибки:**\n" + validation.Error()
		if len(validation.Schema) > 0 {
			details += "\n\n**Схема аргументов инструмента:**\n```json\n" + string(validation.Schema) + "\n```"
		}
		return Classified{
			Message:     "❌ Аргументы инструмента `" + validation.Tool + "` не прошли проверку схемы. Исправь аргументы и повтори вызов.",
			Details:     details,
			Disposition: FatalToTurn,
		}
	}

	var unknown *UnknownToolError
	if errors.As(err, &unknown) {
		return Classified{
			Message:     "❌ Инструмент `" + unknown.Name + "` не найден. Используй только инструменты из своего списка.",
			Disposition: FatalToTurn,
		}
	}

	var transport *TransportError
	if errors.As(err, &transport) || errors.Is(err, context.DeadlineExceeded) {
		return Classified{
			Message:     "❌ Сетевая ошибка при обращении к сервису. Попробуйте повторить запрос.",
			Details:     "**Детали ошибки:**\n" + err.Error(),
			Disposition: Retryable,
		}
	}

	return Classified{
		Message:     "❌ Ошибка выполнения инструмента.",
		Details:     "**Детали ошибки:**\n" + err.Error(),
		Disposition: FatalToTurn,
	}
}

// classifyProvider inspects a provider rejection for embedded signals and
// maps each to a remediation hint. Quota/payment errors additionally pull
// the account token balance; that side query is itself fallible and its
// failure never changes the primary classification.
func (c *Classifier) classifyProvider(ctx context.Context, e *ProviderError) Classified {
	raw := e.RawMessage
	lower := strings.ToLower(raw)

	var hint string
	var wantBalance bool
	switch {
	case e.Status == 402 || strings.Contains(lower, "payment required") || strings.Contains(raw, "402"):
		hint = "У вас закончились токены или превышен лимит оплаты. Пополните баланс в личном кабинете."
		wantBalance = true
	case strings.Contains(lower, "quota") || strings.Contains(lower, "limit"):
		hint = "Возможно, превышен лимит токенов. Проверьте остаток токенов в личном кабинете."
		wantBalance = true
	case e.Status == 401 || strings.Contains(lower, "unauthorized") || strings.Contains(raw, "401"):
		hint = "Проблема с авторизацией. Проверьте правильность токенов в переменных окружения."
	case e.Status == 422 || strings.Contains(raw, "422") || strings.Contains(raw, "properties.state.properties"):
		hint = "Ошибка формата запроса. Возможно, проблема с версией API или конфигурацией."
	}

	name := e.Provider
	if name == "" {
		name = "LLM"
	}
	message := "❌ **Ошибка " + name + " API**"
	if hint != "" {
		message += "\n\n💡 **Рекомендация:** " + hint
	}

	details := "**Детали ошибки:**\n" + raw
	tokenInfo := e.TokenInfo
	if tokenInfo == "" && wantBalance && c.balance != nil {
		info, err := c.balance(ctx)
		if err != nil {
			c.logger.Warn("token balance side query failed", "error", err)
		} else {
			tokenInfo = info
		}
	}
	if tokenInfo != "" {
		details += "\n\n" + tokenInfo
	}

	return Classified{Message: message, Details: details, Disposition: FatalToTurn}
}
