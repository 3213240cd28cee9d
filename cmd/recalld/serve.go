package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/recallbank/recalld/internal/config"
	"github.com/recallbank/recalld/internal/embeddings"
	"github.com/recallbank/recalld/internal/ensemble"
	"github.com/recallbank/recalld/internal/graph"
	"github.com/recallbank/recalld/internal/httpapi"
	"github.com/recallbank/recalld/internal/knowledge"
	"github.com/recallbank/recalld/internal/logging"
	"github.com/recallbank/recalld/internal/reranker"
	"github.com/recallbank/recalld/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recalld HTTP server",
	Long: `Start the recalld daemon.

Examples:
  # Start with defaults
  recalld serve

  # Use a specific config file
  recalld serve --config /etc/recalld/config.yaml

  # Configure via environment
  SERVER_PORT=8080 STORAGE_DATA_DIR=/var/lib/recalld recalld serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // stdout sync errors are harmless

	logger.Info("starting recalld",
		zap.String("version", version),
		zap.String("data_dir", cfg.Storage.DataDir))

	store, err := knowledge.New(knowledge.Config{DataDir: cfg.Storage.DataDir}, logger)
	if err != nil {
		return fmt.Errorf("open knowledge store: %w", err)
	}
	defer store.Close()

	providers := []ensemble.Provider{ensemble.NewKnowledgeProvider(store)}

	// The vector provider is best effort. A missing ONNX runtime or
	// unreachable TEI server degrades search to the remaining providers
	// instead of keeping the daemon down.
	var mirror knowledge.Mirror
	if cfg.VectorStore.Enabled {
		vectors, embedder := setupVectorStore(cfg, logger)
		if vectors != nil {
			defer vectors.Close()
			defer embedder.Close()
			mirror = vectorstore.NewMemoryMirror(vectors)
			providers = append(providers, ensemble.NewVectorProvider(vectors))
		}
	}

	svc := knowledge.NewService(store, mirror, logger)

	var graphProvider ensemble.Provider
	if cfg.Graph.Enabled {
		graphStore, err := graph.New(store.DB(), logger)
		if err != nil {
			return fmt.Errorf("open graph store: %w", err)
		}
		graphProvider = ensemble.NewGraphProvider(graphStore)
	}

	var rr reranker.Reranker
	if cfg.Ensemble.RerankEnabled {
		rr = reranker.NewTermOverlap()
	}

	coordinator, err := ensemble.New(ensemble.Config{
		ProviderTimeout:   cfg.Ensemble.ProviderTimeout,
		ConflictThreshold: cfg.Ensemble.ConflictThreshold,
		CacheTTL:          cfg.Ensemble.CacheTTL,
	}, providers, graphProvider, rr, logger)
	if err != nil {
		return fmt.Errorf("create ensemble coordinator: %w", err)
	}
	defer coordinator.Close()

	server, err := httpapi.NewServer(svc, coordinator, logger, &httpapi.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// setupVectorStore builds the embedder and chromem store, returning nils on
// failure so the caller can continue without semantic search.
func setupVectorStore(cfg *config.Config, logger *zap.Logger) (vectorstore.Store, embeddings.Provider) {
	embedder, err := embeddings.NewProvider(embeddings.Config{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		CacheDir: cfg.Embeddings.CacheDir,
	})
	if err != nil {
		logger.Warn("embedding provider unavailable, vector search disabled", zap.Error(err))
		return nil, nil
	}

	vectors, err := vectorstore.NewChromemStore(vectorstore.Config{
		Path:       cfg.VectorStore.Path,
		Collection: cfg.VectorStore.Collection,
		Compress:   cfg.VectorStore.Compress,
	}, embedder, logger)
	if err != nil {
		logger.Warn("vector store unavailable, vector search disabled", zap.Error(err))
		_ = embedder.Close()
		return nil, nil
	}
	return vectors, embedder
}
