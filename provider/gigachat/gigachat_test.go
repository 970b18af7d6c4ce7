package gigachat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anikeev/taiga"
)

// newTestServer serves the oauth, completions, and token-balance endpoints
// from handler functions. Nil handlers get a sensible default.
func newTestServer(t *testing.T, chat, balance http.HandlerFunc) (*Provider, *atomic.Int64) {
	t.Helper()
	var authCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth", func(w http.ResponseWriter, r *http.Request) {
		authCalls.Add(1)
		if r.Header.Get("Authorization") != "Basic dGVzdA==" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		if r.Header.Get("RqUID") == "" {
			http.Error(w, "missing RqUID", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-1",
			"expires_at":   time.Now().Add(30*time.Minute).UnixNano() / 1e6,
		})
	})
	if chat != nil {
		mux.HandleFunc("/chat/completions", chat)
	}
	if balance != nil {
		mux.HandleFunc("/token", balance)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := New("dGVzdA==",
		WithBaseURL(srv.URL),
		WithAuthURL(srv.URL+"/oauth"),
		WithHTTPClient(srv.Client()),
	)
	return p, &authCalls
}

func TestChatPlainReply(t *testing.T) {
	p, authCalls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		var body chatBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Model != "GigaChat" {
			t.Errorf("model = %q", body.Model)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "Привет!"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 4},
		})
	}, nil)

	resp, err := p.Chat(context.Background(), taiga.ChatRequest{
		Messages: []taiga.Turn{taiga.UserTurn("привет")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Привет!" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 4 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if got := authCalls.Load(); got != 1 {
		t.Errorf("auth calls = %d, want 1", got)
	}
}

func TestChatFunctionCall(t *testing.T) {
	p, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body chatBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.FunctionCall != "auto" {
			t.Errorf("function_call = %q", body.FunctionCall)
		}
		if len(body.Functions) != 1 || body.Functions[0].Name != "weather" {
			t.Errorf("functions = %+v", body.Functions)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":          "assistant",
					"content":       "",
					"function_call": map[string]any{"name": "weather", "arguments": map[string]any{"city": "Москва"}},
				},
				"finish_reason": "function_call",
			}},
		})
	}, nil)

	resp, err := p.Chat(context.Background(), taiga.ChatRequest{
		Messages: []taiga.Turn{taiga.UserTurn("погода?")},
		Tools:    []taiga.ToolDefinition{{Name: "weather"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Invocations) != 1 {
		t.Fatalf("invocations = %d, want 1", len(resp.Invocations))
	}
	inv := resp.Invocations[0]
	if inv.Name != "weather" {
		t.Errorf("Name = %q", inv.Name)
	}
	if inv.ID == "" {
		t.Error("no call id minted")
	}
	var args map[string]string
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		t.Fatal(err)
	}
	if args["city"] != "Москва" {
		t.Errorf("args = %v", args)
	}
}

func TestChatSendsFunctionResults(t *testing.T) {
	p, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body chatBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if len(body.Messages) != 3 {
			t.Fatalf("messages = %d, want 3", len(body.Messages))
		}
		assistant := body.Messages[1]
		if assistant.FunctionCall == nil || assistant.FunctionCall.Name != "weather" {
			t.Errorf("assistant message = %+v", assistant)
		}
		result := body.Messages[2]
		if result.Role != "function" || result.Name != "weather" {
			t.Errorf("function result message = %+v", result)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "В Москве +5"},
			}},
		})
	}, nil)

	inv := taiga.Invocation{ID: "call_1", Name: "weather", Args: json.RawMessage(`{"city":"Москва"}`)}
	resp, err := p.Chat(context.Background(), taiga.ChatRequest{
		Messages: []taiga.Turn{
			taiga.UserTurn("погода?"),
			taiga.ModelTurn("", []taiga.Invocation{inv}),
			taiga.ToolResultTurn("call_1", `{"temp": 5}`, nil),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "В Москве +5" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestFunctionResultNamesWithRepeatedCallIDs(t *testing.T) {
	// The extractor restarts its minted ids at call_1 every turn, so two
	// different calls in one conversation share an id. Each result message
	// must be named after its own preceding call, not a later one.
	weather := taiga.Invocation{ID: "call_1", Name: "weather", Args: json.RawMessage(`{"city":"Москва"}`)}
	tinkoff := taiga.Invocation{ID: "call_1", Name: "tinkoff_agent", Args: json.RawMessage(`{"user_request":"портфель"}`)}

	body := buildBody("GigaChat", taiga.ChatRequest{
		Messages: []taiga.Turn{
			taiga.UserTurn("погода и портфель"),
			taiga.ModelTurn("", []taiga.Invocation{weather}),
			taiga.ToolResultTurn("call_1", `{"temp": 5}`, nil),
			taiga.ModelTurn("", []taiga.Invocation{tinkoff}),
			taiga.ToolResultTurn("call_1", `{"total": 100}`, nil),
		},
	})

	var names []string
	for _, m := range body.Messages {
		if m.Role == "function" {
			names = append(names, m.Name)
		}
	}
	if len(names) != 2 {
		t.Fatalf("function messages = %d, want 2", len(names))
	}
	if names[0] != "weather" {
		t.Errorf("first function-result message named %q, want weather", names[0])
	}
	if names[1] != "tinkoff_agent" {
		t.Errorf("second function-result message named %q, want tinkoff_agent", names[1])
	}
}

func TestChatAPIErrorMapsToProviderError(t *testing.T) {
	p, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message": "Payment Required"}`, http.StatusPaymentRequired)
	}, nil)

	_, err := p.Chat(context.Background(), taiga.ChatRequest{Messages: []taiga.Turn{taiga.UserTurn("hi")}})
	var perr *taiga.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *taiga.ProviderError", err)
	}
	if perr.Status != 402 {
		t.Errorf("Status = %d", perr.Status)
	}
	if !strings.Contains(perr.RawMessage, "Payment Required") {
		t.Errorf("RawMessage = %q", perr.RawMessage)
	}
}

func TestChatTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // refuse all connections

	p := New("dGVzdA==", WithBaseURL(srv.URL), WithAuthURL(srv.URL+"/oauth"))
	_, err := p.Chat(context.Background(), taiga.ChatRequest{Messages: []taiga.Turn{taiga.UserTurn("hi")}})
	var terr *taiga.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *taiga.TransportError", err)
	}
}

func TestTokenCachedAcrossCalls(t *testing.T) {
	p, authCalls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "ok"}}},
		})
	}, nil)

	for i := 0; i < 3; i++ {
		if _, err := p.Chat(context.Background(), taiga.ChatRequest{Messages: []taiga.Turn{taiga.UserTurn("hi")}}); err != nil {
			t.Fatal(err)
		}
	}
	if got := authCalls.Load(); got != 1 {
		t.Errorf("auth calls = %d, want 1 (token not cached)", got)
	}
}

func TestTokenBalance(t *testing.T) {
	p, _ := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"token_limit":      1000000,
			"used_tokens":      250000,
			"remaining_tokens": 750000,
		})
	})

	info, err := p.TokenBalance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Информация о токенах", "Лимит токенов: 1000000", "Использовано: 250000", "Остаток: 750000"} {
		if !strings.Contains(info, want) {
			t.Errorf("balance missing %q:\n%s", want, info)
		}
	}
}

func TestTokenBalancePartialFields(t *testing.T) {
	p, _ := newTestServer(t, nil, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"remaining_tokens": 10})
	})

	info, err := p.TokenBalance(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(info, "Лимит токенов: N/A") {
		t.Errorf("missing N/A for absent field:\n%s", info)
	}
	if !strings.Contains(info, "Остаток: 10") {
		t.Errorf("info = %s", info)
	}
}
