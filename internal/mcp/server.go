package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/repodex/internal/config"
	"github.com/dshills/repodex/internal/discovery"
	"github.com/dshills/repodex/internal/indexer"
	"github.com/dshills/repodex/internal/logging"
	"github.com/dshills/repodex/internal/searcher"
	"github.com/dshills/repodex/internal/storage"
	"github.com/dshills/repodex/internal/vcs"
)

const (
	// ServerName is the MCP server name
	ServerName = "repodex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies. The store is
// opened for each tool call and closed when the call returns; only the
// search cache and the run guards live as long as the server.
type Server struct {
	mcp    *server.MCPServer
	cfg    *config.Config
	logger *slog.Logger
	walker *discovery.Walker
	git    vcs.Client
	cache  *searcher.Cache

	indexLock indexer.IndexLock
	syncing   atomic.Bool
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	logger = logging.OrDiscard(logger)

	// Fail early on an unusable database path
	store, err := storage.Open(context.Background(), cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	_ = store.Close()

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:    mcpServer,
		cfg:    cfg,
		logger: logger,
		walker: discovery.New(discovery.Options{
			ExcludeDirs:  cfg.ExcludeDirs,
			ExcludeGlobs: cfg.ExcludeGlobs,
			Logger:       logger,
		}),
		git:   vcs.NewGit(cfg.Sync.PullTimeout),
		cache: searcher.NewCache(searcher.DefaultCacheSize),
	}

	// Register tools
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio", "db", s.cfg.DBPath)
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(indexRepositoryTool(), s.handleIndexRepository)
	s.mcp.AddTool(searchFilesTool(), s.handleSearchFiles)
	s.mcp.AddTool(syncRepositoriesTool(), s.handleSyncRepositories)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	return nil
}

// openStore opens the store for one tool call.
func (s *Server) openStore(ctx context.Context) (*storage.SQLiteStorage, error) {
	return storage.Open(ctx, s.cfg.DBPath)
}
