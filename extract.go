package taiga

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// --- Function-call extraction ---

// ExtractionResult is the outcome of running the extractor over model output.
// CleanedText is the reply with matched structured fragments stripped;
// Invocations is empty when the text carries no tool call.
type ExtractionResult struct {
	CleanedText string
	Invocations []Invocation
}

// defaultUserID is substituted when a structured fragment carries no user_id.
const defaultUserID = "default_user"

// minRequestLen is the minimum rune length for a request recovered by the
// contextual fallback. Anything shorter is discarded as noise.
const minRequestLen = 5

// resultIndicators are substrings that mark model output as an already
// materialized tool result. The upstream model sometimes echoes prior tool
// output verbatim; re-parsing it as a new call would cause infinite
// repetition, so their presence short-circuits extraction entirely.
var resultIndicators = []string{
	// brokerage results
	"Общая стоимость портфеля",
	"ПОЗИЦИИ В ПОРТФЕЛЕ",
	"FIGI:",
	"Доходность:",
	"Текущая цена:",
	"Итоговая стоимость:",
	"Ваш текущий портфель",
	"СВОДКА ПО ПОРТФЕЛЮ",
	"Действие: tinkoff_agent",

	// calendar results
	"событие добавлено",
	"напоминание создано",
	"календарь обновлен",
	"Действие: calendar_agent",

	// weather results
	"текущая погода",
	"температура",
	"влажность",
	"Действие: weather",

	// generic result markers
	"Результат выполнения инструмента",
	"Действие:",
	"✅",
	"❌",
	"⚠️",
}

// strictPatterns match self-contained {"name": ..., "args": {...}} fragments.
// The model's JSON is often malformed prose-embedded JSON, so these are
// pattern matches rather than a full JSON parse. The three-group variant
// (with user_id) is tried first.
var strictPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\{"name":\s*"(\w+_agent)",\s*"args":\s*\{[^}]*"user_request":\s*"([^"]+)"[^}]*"user_id":\s*"([^"]+)"[^}]*\}\}`),
	regexp.MustCompile(`\{"name":\s*"(\w+_agent)",\s*"args":\s*\{[^}]*"user_request":\s*"([^"]+)"[^}]*\}\}`),
}

// agentKeywords maps vocabulary to an agent for the contextual fallback.
// Order matters: the first agent whose vocabulary appears in the text wins.
var agentKeywords = []struct {
	agent string
	words []string
}{
	{"tinkoff_agent", []string{"tinkoff", "портфель", "акции", "операции", "купи", "продай", "график", "мечел", "sber", "газпром", "инвестиционный счет", "сбербанк"}},
	{"calendar_agent", []string{"calendar", "календарь", "напоминание", "событие", "встреча"}},
	{"weather", []string{"погода", "weather"}},
	{"search", []string{"поиск", "search", "найди"}},
}

// contextPatterns recover a request from "instruct the agent to ..." phrasing.
var contextPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Передать запрос агенту\s+\S+\s+для\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)вызвать\s+\S+\s+для\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)использовать\s+\S+\s+для\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)обратиться к\s+\S+\s+с\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)Передать запрос агенту\s+\S+\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)вызвать\s+\S+\s+(.+?)(?:\.|$)`),
	regexp.MustCompile(`(?i)использовать\s+\S+\s+(.+?)(?:\.|$)`),
}

// requestFragmentPatterns recover a request from a loose user_request
// key/value fragment anywhere in the text.
var requestFragmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`"user_request":\s*"([^"]+)"`),
	regexp.MustCompile(`'user_request':\s*'([^']+)'`),
	regexp.MustCompile(`user_request:\s*"([^"]+)"`),
	regexp.MustCompile(`user_request:\s*'([^']+)'`),
}

// Boilerplate stripped before using the whole text as a last-resort request.
var (
	leadInRe   = regexp.MustCompile(`(?i)(План:|Начинаю выполнение плана\.|Ожидаю подтверждение[^\n]*)`)
	tagRe      = regexp.MustCompile(`<[^>]+>`)
	jsonLikeRe = regexp.MustCompile(`\{[^}]*\}`)
)

// foldCaser lowercases text for the case-insensitive keyword scan,
// handling Cyrillic correctly.
var foldCaser = cases.Fold()

// Extract parses tool invocations out of raw model output text.
//
// It is a best-effort layer over an unreliable upstream format: strict
// pattern matching first, a contextual keyword fallback second. Text that
// contains a result indicator is treated as already-executed output and
// returned untouched with zero invocations. Extract never panics; any
// internal failure degrades to "no invocations found".
func Extract(text string) (result ExtractionResult) {
	result = ExtractionResult{CleanedText: text}
	defer func() {
		if recover() != nil {
			result = ExtractionResult{CleanedText: text}
		}
	}()

	for _, indicator := range resultIndicators {
		if strings.Contains(text, indicator) {
			return result
		}
	}

	seen := make(map[string]bool)
	var invocations []Invocation

	// Dedup key deliberately omits user_id: the strict patterns overlap (the
	// with-user_id variant is a special case of the without one), so one
	// fragment may match both. First match wins, keeping the captured user_id.
	add := func(agent, request, userID string) {
		key := agent + ":" + request
		if seen[key] {
			return
		}
		seen[key] = true
		invocations = append(invocations, Invocation{
			ID:   fmt.Sprintf("call_%d", len(invocations)+1),
			Name: agent,
			Args: marshalArgs(request, userID),
		})
	}

	for _, pattern := range strictPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			switch len(m) {
			case 4:
				add(m[1], m[2], m[3])
			case 3:
				add(m[1], m[2], defaultUserID)
			}
		}
	}

	if len(invocations) == 0 {
		if agent := inferAgent(text); agent != "" {
			if request := recoverRequest(text); utf8.RuneCountInString(request) > minRequestLen {
				add(agent, request, defaultUserID)
			}
		}
	}

	if len(invocations) == 0 {
		return result
	}

	cleaned := text
	for _, pattern := range strictPatterns {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	result.CleanedText = strings.TrimSpace(cleaned)
	result.Invocations = invocations
	return result
}

// marshalArgs builds the canonical {"user_request": ..., "user_id": ...}
// argument object. Values pass through json encoding so quotes and control
// characters in the recovered request stay valid JSON.
func marshalArgs(request, userID string) []byte {
	return []byte(`{"user_request": ` + quoteJSON(request) + `, "user_id": ` + quoteJSON(userID) + `}`)
}

// inferAgent scans the text case-insensitively for agent vocabulary and
// returns the first matching agent name, or "".
func inferAgent(text string) string {
	lower := foldCaser.String(text)
	for _, entry := range agentKeywords {
		for _, word := range entry.words {
			if strings.Contains(lower, word) {
				return entry.agent
			}
		}
	}
	return ""
}

// recoverRequest extracts a natural-language request from prose, trying
// phrase templates, then loose user_request fragments, then the whole text
// with boilerplate stripped.
func recoverRequest(text string) string {
	for _, pattern := range contextPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	for _, pattern := range requestFragmentPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	clean := leadInRe.ReplaceAllString(text, "")
	clean = tagRe.ReplaceAllString(clean, "")
	clean = jsonLikeRe.ReplaceAllString(clean, "")
	return strings.TrimSpace(clean)
}

// quoteJSON renders s as a JSON string literal.
func quoteJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
