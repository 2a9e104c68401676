package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/viper"

	"github.com/josedab/docsynth-sub010/internal/drift"
	"github.com/josedab/docsynth-sub010/internal/generator"
	"github.com/josedab/docsynth-sub010/internal/git"
	"github.com/josedab/docsynth-sub010/internal/intent"
	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/pipeline"
	"github.com/josedab/docsynth-sub010/internal/qa"
	"github.com/josedab/docsynth-sub010/internal/queue"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// newLogger creates the structured logger shared by long-running components.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newLLMClient creates an LLM client from config/env. Without an API key the
// fallback client is returned and every LLM-backed stage degrades
// conservatively instead of failing.
func newLLMClient() llm.Client {
	apiKey := viper.GetString("anthropic.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return llm.FallbackClient{}
	}
	return llm.NewAnthropicClient(apiKey, viper.GetString("anthropic.model"))
}

// appDeps bundles the wired pipeline components the commands share.
type appDeps struct {
	store    store.Store
	queue    *queue.Queue
	pipeline *pipeline.Pipeline
	sessions *qa.SessionManager
	monitor  *drift.Monitor
	healer   *drift.Healer
	logger   *slog.Logger
}

// buildDeps wires the full component graph over the shared store.
func buildDeps() (*appDeps, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}

	logger := newLogger()
	client := newLLMClient()
	scm := git.NewGHClient()
	q := queue.New(s)

	engine := intent.NewEngine(client, []intent.ContextProvider{
		intent.NewIssueRefProvider(intent.NewRegexIssueExtractor()),
	}, logger)
	gate := qa.NewGate(s, client, logger)
	refiner := qa.NewRefiner(s, client)
	sessions := qa.NewSessionManager(s, refiner, logger)
	monitor := drift.NewMonitor(s, git.NewHostSignalSource(git.NewGHClient()), logger)
	healer := drift.NewHealer(s, drift.NewLLMRegenerator(client), logger)

	p := pipeline.New(pipeline.Config{
		Store:     s,
		Queue:     q,
		SCM:       scm,
		Intent:    engine,
		Generator: generator.NewLLMGenerator(client),
		Gate:      gate,
		Monitor:   monitor,
		Healer:    healer,
		LLMRPM:    viper.GetInt("llm.requests_per_minute"),
		Logger:    logger,
	})

	return &appDeps{
		store:    s,
		queue:    q,
		pipeline: p,
		sessions: sessions,
		monitor:  monitor,
		healer:   healer,
		logger:   logger,
	}, nil
}
