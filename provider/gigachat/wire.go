package gigachat

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/anikeev/taiga"
)

// --- GigaChat wire format ---

type chatBody struct {
	Model        string     `json:"model"`
	Messages     []message  `json:"messages"`
	Functions    []function `json:"functions,omitempty"`
	FunctionCall string     `json:"function_call,omitempty"`
}

type message struct {
	Role         string        `json:"role"` // system, user, assistant, function
	Content      string        `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *functionCall `json:"function_call,omitempty"`
}

type function struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// functionCall is GigaChat's structured call: arguments arrive as a JSON
// object, not an encoded string.
type functionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role         string        `json:"role"`
			Content      string        `json:"content"`
			FunctionCall *functionCall `json:"function_call,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

// buildBody converts a taiga.ChatRequest into the GigaChat payload.
// Tool result turns become role "function" messages named after the
// invocation they answer; assistant turns carrying an invocation get a
// function_call block.
func buildBody(model string, req taiga.ChatRequest) chatBody {
	body := chatBody{Model: model}

	for i, turn := range req.Messages {
		m := message{Content: turn.Content}
		switch turn.Role {
		case "tool":
			m.Role = "function"
			m.Name = resultName(req.Messages, i)
		case "assistant":
			m.Role = "assistant"
			if len(turn.Invocations) > 0 {
				inv := turn.Invocations[0]
				m.FunctionCall = &functionCall{Name: inv.Name, Arguments: inv.Args}
			}
		default:
			m.Role = turn.Role
		}
		body.Messages = append(body.Messages, m)
	}

	if len(req.Tools) > 0 {
		body.FunctionCall = "auto"
		for _, def := range req.Tools {
			body.Functions = append(body.Functions, function{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			})
		}
	}
	return body
}

// resultName resolves the function name for the tool-result turn at index
// i: the nearest preceding assistant turn with a matching invocation id.
// Extractor-minted ids restart at call_1 every turn, so ids are unique
// only within one assistant turn and a history-wide id lookup would name
// earlier results after later calls.
func resultName(turns []taiga.Turn, i int) string {
	id := turns[i].InvocationID
	for j := i - 1; j >= 0; j-- {
		if turns[j].Role != "assistant" {
			continue
		}
		for _, inv := range turns[j].Invocations {
			if inv.ID == id {
				return inv.Name
			}
		}
	}
	return ""
}

// parseResponse converts a GigaChat completions reply. GigaChat carries no
// call id, so one is minted; the graph correlates results by it.
func parseResponse(resp chatResponse) taiga.ChatResponse {
	var out taiga.ChatResponse
	if resp.Usage != nil {
		out.Usage = taiga.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	if fc := choice.Message.FunctionCall; fc != nil && fc.Name != "" {
		args := fc.Arguments
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out.Invocations = []taiga.Invocation{{
			ID:   uuid.NewString(),
			Name: fc.Name,
			Args: args,
		}}
	}
	return out
}
