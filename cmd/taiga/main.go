// Command taiga runs an interactive chat session over the execution graph:
// type a message, approve or decline tool invocations as the model
// proposes them, read the final answer.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anikeev/taiga"
	"github.com/anikeev/taiga/internal/config"
	"github.com/anikeev/taiga/observer"
	"github.com/anikeev/taiga/provider/gigachat"
	"github.com/anikeev/taiga/store/postgres"
	"github.com/anikeev/taiga/store/sqlite"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg := config.Load(os.Getenv("TAIGA_CONFIG"))
	if cfg.LLM.Credentials == "" {
		log.Fatal("no credentials: set GIGACHAT_CREDENTIALS or llm.credentials in the config")
	}

	if cfg.Observer.Enabled {
		shutdown, err := observer.Init(ctx)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer shutdown(ctx) //nolint:errcheck
	}

	provider := buildProvider(cfg)
	blobs, execLog := buildStores(ctx, cfg)

	registry := taiga.NewRegistry()
	// Tools and sub-agents are external collaborators; register them here.

	graphOpts := []taiga.GraphOption{
		taiga.WithBlobStore(blobs),
		taiga.WithExecutionLog(execLog),
		taiga.WithLogger(logger),
		taiga.WithClassifier(taiga.NewClassifier(
			taiga.WithBalanceQuery(provider.TokenBalance),
			taiga.WithClassifierLogger(logger),
		)),
	}
	if cfg.Graph.SystemPrompt != "" {
		graphOpts = append(graphOpts, taiga.WithSystemPrompt(cfg.Graph.SystemPrompt))
	}
	if cfg.Graph.MaxIterations > 0 {
		graphOpts = append(graphOpts, taiga.WithMaxIterations(cfg.Graph.MaxIterations))
	}
	if cfg.Graph.SummarizeThreshold > 0 {
		graphOpts = append(graphOpts, taiga.WithSummarizeThreshold(cfg.Graph.SummarizeThreshold))
	}
	if cfg.Observer.Enabled {
		graphOpts = append(graphOpts, taiga.WithTracer(observer.NewTracer()))
	}
	graph := taiga.NewGraph(provider, registry, graphOpts...)

	conv := &taiga.Conversation{}
	stdin := bufio.NewScanner(os.Stdin)
	stdin.Buffer(make([]byte, 1024*1024), 1024*1024)

	fmt.Println("taiga chat — empty line to exit")
	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			return
		}
		text := strings.TrimSpace(stdin.Text())
		if text == "" {
			return
		}

		result, err := graph.Run(ctx, conv, taiga.UserInput{Text: text})
		for err != nil {
			var approval *taiga.ErrApprovalRequired
			if !errors.As(err, &approval) {
				log.Fatalf("run: %v", err)
			}
			result, err = approval.Resume(ctx, askDecision(stdin, approval.Payload.Invocation))
		}
		fmt.Println(result.Output)
	}
}

// askDecision prompts the terminal for an approve/decline decision on a
// pending invocation.
func askDecision(stdin *bufio.Scanner, inv taiga.Invocation) taiga.Decision {
	fmt.Printf("model wants to call %s(%s)\napprove? [y / comment]: ", inv.Name, string(inv.Args))
	if !stdin.Scan() {
		return taiga.Decision{Type: taiga.DecisionComment, Message: "session closed"}
	}
	answer := strings.TrimSpace(stdin.Text())
	if answer == "y" || answer == "yes" || answer == "" {
		return taiga.Decision{Type: taiga.DecisionApprove}
	}
	return taiga.Decision{Type: taiga.DecisionComment, Message: answer}
}

func buildProvider(cfg config.Config) *gigachat.Provider {
	var opts []gigachat.Option
	if cfg.LLM.Model != "" {
		opts = append(opts, gigachat.WithModel(cfg.LLM.Model))
	}
	if cfg.LLM.Scope != "" {
		opts = append(opts, gigachat.WithScope(cfg.LLM.Scope))
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, gigachat.WithBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.AuthURL != "" {
		opts = append(opts, gigachat.WithAuthURL(cfg.LLM.AuthURL))
	}
	return gigachat.New(cfg.LLM.Credentials, opts...)
}

func buildStores(ctx context.Context, cfg config.Config) (taiga.BlobStore, taiga.ExecutionLog) {
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			log.Fatalf("postgres pool: %v", err)
		}
		store := postgres.New(pool)
		if err := store.Init(ctx); err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		return store, store
	default:
		if cfg.Database.Path != "" {
			os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755) //nolint:errcheck
		}
		store := sqlite.New(cfg.Database.Path)
		if err := store.Init(ctx); err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		return store, store
	}
}
