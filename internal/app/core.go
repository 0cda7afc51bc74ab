// Package app composes the proxy at startup: one Core struct owns every
// process-wide collaborator and hands them to the HTTP handlers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wishmasterff/animara/internal/agent"
	"github.com/wishmasterff/animara/internal/config"
	"github.com/wishmasterff/animara/internal/httpapi"
	"github.com/wishmasterff/animara/internal/mcp"
	"github.com/wishmasterff/animara/internal/memory"
	"github.com/wishmasterff/animara/internal/providers"
	"github.com/wishmasterff/animara/internal/retrieval"
	"github.com/wishmasterff/animara/internal/router"
	"github.com/wishmasterff/animara/internal/session"
	"github.com/wishmasterff/animara/internal/tools"
)

const shutdownGrace = 10 * time.Second

// Core owns the process-wide singletons.
type Core struct {
	Config     *config.Config
	Store      *retrieval.Store
	Embedder   *retrieval.HTTPEmbedder
	BM25       *retrieval.BM25Index
	Retriever  *retrieval.Retriever
	Workspace  *memory.Workspace
	Sessions   *session.Manager
	Classifier *router.Classifier
	Registry   *tools.Registry
	MCP        *mcp.Manager
	Local      *providers.LocalProvider
	Premium    *providers.PremiumProvider
	Flusher    *memory.Flusher
	Facts      *memory.FactExtractor
	Engine     *agent.Engine
	Server     *httpapi.Server

	telemetry *telemetryExporter
}

// New wires the Core from config. Fatal only when a hard dependency
// (vector DB) is unreachable; MCP servers degrade gracefully.
func New(ctx context.Context, cfg *config.Config) (*Core, error) {
	c := &Core{Config: cfg}

	tracer, telemetry, err := setupTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	}
	c.telemetry = telemetry

	store, err := retrieval.NewStore(
		cfg.VectorDB.URI,
		cfg.VectorDB.MemoriesCollection,
		cfg.VectorDB.ConversationsCollection,
		cfg.Embedding.Dimensions,
	)
	if err != nil {
		return nil, fmt.Errorf("connect vector DB: %w", err)
	}
	c.Store = store

	c.Embedder = retrieval.NewHTTPEmbedder(cfg.Embedding.Endpoint, cfg.Embedding.Model)

	c.BM25 = retrieval.NewBM25Index(store)
	if err := c.BM25.Rebuild(ctx); err != nil {
		slog.Warn("initial BM25 rebuild failed", "error", err)
	}

	c.Retriever = retrieval.NewRetriever(
		c.Embedder, store, c.BM25,
		cfg.Identity.OwnerID,
		cfg.Search.VectorWeight, cfg.Search.BM25Weight,
	)

	c.Workspace = memory.NewWorkspace(cfg.Workspace.Path, time.Duration(cfg.Workspace.CacheTTLSec)*time.Second)

	c.Sessions = session.NewManager(session.Limits{
		MaxMessages:       cfg.Sessions.MaxMessages,
		Timeout:           time.Duration(cfg.Sessions.TimeoutSec) * time.Second,
		PruneAfter:        cfg.Sessions.PruneAfter,
		PruneToolMaxChars: cfg.Sessions.PruneToolMaxChar,
		FlushThreshold:    cfg.Budget.FlushThreshold,
	})

	c.Classifier = router.NewClassifier()

	c.Local = providers.NewLocalProvider(cfg.LLM.Endpoint, cfg.LLM.Model, time.Duration(cfg.LLM.TimeoutSec)*time.Second)
	c.Premium = providers.NewPremiumProvider(cfg.Godmode.APIKey, cfg.Godmode.Endpoint, cfg.Godmode.Model, time.Duration(cfg.Godmode.TimeoutSec)*time.Second)

	c.Registry = tools.NewRegistry(time.Duration(cfg.Tools.TimeoutSec)*time.Second, cfg.Tools.MaxOutputChar)
	c.registerBuiltinTools()

	c.MCP = mcp.NewManager(c.Registry, cfg.MCP.Servers)
	c.MCP.Start(ctx)

	c.Facts = memory.NewFactExtractor(c.Embedder, store, c.Sessions)
	c.Flusher = memory.NewFlusher(c.Local, c.Workspace, c.Embedder, store, c.Sessions)

	c.Engine = agent.NewEngine(
		agent.Options{
			OwnerID:           cfg.Identity.OwnerID,
			ContextWindow:     cfg.LLM.ContextWindow,
			DesiredMaxTokens:  cfg.LLM.MaxTokens,
			PremiumMaxTokens:  cfg.Godmode.MaxTokens,
			ReserveTokens:     cfg.Budget.ReserveTokens,
			MinResponseTokens: cfg.Budget.MinResponseTokens,
			MaxIterations:     cfg.Tools.MaxIterations,
			SearchTopK:        cfg.Search.TopK,
			LocalModel:        cfg.LLM.Model,
			PremiumModel:      cfg.Godmode.Model,
		},
		c.Sessions, c.Workspace, c.Retriever, c.Classifier, c.Registry,
		c.Local, c.Premium, c.Flusher, c.Facts,
		agent.NewBackground(8), tracer,
	)

	c.Server = httpapi.NewServer(cfg.Server.Host, cfg.Server.Port, cfg.Server.AuthToken, cfg.Server.RateLimitRPM, httpapi.Deps{
		Engine:          c.Engine,
		Sessions:        c.Sessions,
		Workspace:       c.Workspace,
		Registry:        c.Registry,
		BM25:            c.BM25,
		Retriever:       c.Retriever,
		Classifier:      c.Classifier,
		MCP:             c.MCP,
		Local:           c.Local,
		Premium:         c.Premium,
		DefaultCallerID: cfg.Identity.DefaultCallerID,
		SearchTopK:      cfg.Search.TopK,
	})

	return c, nil
}

// registerBuiltinTools wires the built-in tool set and the classifier
// tool-set groups.
func (c *Core) registerBuiltinTools() {
	cfg := c.Config

	if cfg.Tools.BraveAPIKey != "" {
		c.Registry.Register(tools.NewWebSearchTool(cfg.Tools.BraveAPIKey))
	}
	if cfg.Tools.TaskBoardURL != "" {
		board := tools.NewTaskBoardClient(cfg.Tools.TaskBoardURL, cfg.Tools.TaskBoardKey)
		c.Registry.Register(tools.NewTaskListTool(board))
		c.Registry.Register(tools.NewTaskFindTool(board))
		c.Registry.Register(tools.NewTaskCreateTool(board))
	}
	c.Registry.Register(tools.NewSystemCheckTool("/"))
	c.Registry.Register(tools.NewTimeNowTool())
	c.Registry.Register(tools.NewReadFileTool(cfg.Workspace.Path))
	c.Registry.Register(tools.NewWriteFileTool(cfg.Workspace.Path))
	c.Registry.Register(tools.NewMemorySearchTool(c.Retriever, cfg.Search.TopK))

	c.Registry.RegisterGroup("task", []string{"task_list", "task_find", "task_create"})
	c.Registry.RegisterGroup("web", []string{"web_search"})
	c.Registry.RegisterGroup("fs", []string{"read_file", "write_file"})
	c.Registry.RegisterGroup("memory", []string{"memory_search"})
	c.Registry.RegisterGroup("vector", []string{"memory_search"})
	c.Registry.RegisterGroup("time", []string{"time_now"})
	c.Registry.RegisterGroup("shell", []string{"system_check"})
}

// Run starts the maintenance loop and serves HTTP until ctx is canceled.
func (c *Core) Run(ctx context.Context) error {
	go c.maintenanceLoop(ctx)

	c.Server.SetReady()
	slog.Info("animara proxy ready",
		"tools", len(c.Registry.List()),
		"bm25_docs", c.BM25.DocCount(),
		"premium", c.Premium.Available(),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Server.Start() }()

	select {
	case <-ctx.Done():
		return c.shutdown()
	case err := <-errCh:
		return err
	}
}

func (c *Core) shutdown() error {
	slog.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := c.Server.Shutdown(sctx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}

	c.Engine.Background().Drain(shutdownGrace)
	c.MCP.Stop()
	c.Workspace.Close()
	if c.telemetry != nil {
		c.telemetry.Shutdown(sctx)
	}
	if err := c.Store.Close(); err != nil {
		slog.Warn("vector store close", "error", err)
	}
	return nil
}
