// Command graphragd runs the graphrag HTTP server: ingestion, retrieval,
// answer synthesis, graph exploration, analytics/orchestration, snapshots,
// and the event stream, all behind internal/api's mux. Grounded on the
// teacher's cmd/api/main.go Config/loadConfig/run shape and graceful
// shutdown pattern.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/graphrag/core/internal/analytics"
	"github.com/graphrag/core/internal/answer"
	"github.com/graphrag/core/internal/api"
	"github.com/graphrag/core/internal/docsource"
	"github.com/graphrag/core/internal/embedder"
	"github.com/graphrag/core/internal/eventbus"
	"github.com/graphrag/core/internal/extractor"
	"github.com/graphrag/core/internal/graphstore"
	"github.com/graphrag/core/internal/ingest"
	"github.com/graphrag/core/internal/orchestrator"
	"github.com/graphrag/core/internal/retrieval"
	"github.com/graphrag/core/pkg/mid"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	CORSOrigin string
	APIKey     string

	GraphStore string // "sqlite" or "neo4j"
	SQLitePath string
	Neo4jURL   string
	Neo4jUser  string
	Neo4jPass  string

	EmbeddingURL   string
	EmbeddingModel string

	QdrantAddr       string
	QdrantCollection string

	AnthropicAPIKey string
	AnthropicModel  string

	DataDir       string
	OrchNamespace string
	OrchInterval  time.Duration
	OrchThreshold int

	NATSURL    string
	NATSPrefix string
}

func loadConfig() Config {
	interval, _ := time.ParseDuration(envOr("ORCHESTRATOR_INTERVAL", "1h"))
	threshold, _ := strconv.Atoi(envOr("ORCHESTRATOR_THRESHOLD", "50"))
	return Config{
		Port:       envOr("PORT", "8080"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		APIKey:     os.Getenv("API_KEY"),

		GraphStore: envOr("GRAPH_STORE", "sqlite"),
		SQLitePath: envOr("SQLITE_PATH", "/tmp/graphrag-data/graph.db"),
		Neo4jURL:   envOr("NEO4J_URL", "neo4j://localhost:7687"),
		Neo4jUser:  envOr("NEO4J_USER", "neo4j"),
		Neo4jPass:  envOr("NEO4J_PASS", "password"),

		EmbeddingURL:   os.Getenv("EMBEDDING_URL"),
		EmbeddingModel: envOr("EMBEDDING_MODEL", "nomic-embed-text"),

		QdrantAddr:       os.Getenv("QDRANT_ADDR"),
		QdrantCollection: envOr("QDRANT_COLLECTION", "graphrag"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),

		DataDir:       envOr("DATA_DIR", "/tmp/graphrag-data"),
		OrchNamespace: envOr("ORCHESTRATOR_NAMESPACES", "default"),
		OrchInterval:  interval,
		OrchThreshold: threshold,

		NATSURL:    os.Getenv("NATS_URL"),
		NATSPrefix: envOr("NATS_SUBJECT_PREFIX", "graphrag"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("graph store: %w", err)
	}
	defer closeStore()

	var vecIndex *embedder.VectorIndex
	if cfg.QdrantAddr != "" {
		vecIndex, err = embedder.NewVectorIndex(cfg.QdrantAddr, cfg.QdrantCollection)
		if err != nil {
			return fmt.Errorf("qdrant connect: %w", err)
		}
		defer vecIndex.Close()
	}

	var embSvc *embedder.Service
	if cfg.EmbeddingURL != "" {
		embSvc = embedder.New(embedder.NewHTTPProvider("ollama", cfg.EmbeddingURL, cfg.EmbeddingModel))
	} else {
		embSvc = embedder.New(nil)
	}

	var extr *extractor.Extractor
	if cfg.AnthropicAPIKey != "" {
		extr = extractor.New(extractor.NewLLMClient(cfg.AnthropicAPIKey, cfg.AnthropicModel))
	} else {
		extr = extractor.New(nil)
	}

	bus := eventbus.New()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer natsConn.Close()
		mirror := eventbus.NewNATSMirror(natsConn, cfg.NATSPrefix, logger)
		go mirror.Run(ctx, bus)
	}

	pipelinePublisher := eventbus.IngestPublisher{Bus: bus}
	linkingCap := extractor.LinkingCapEmbedded
	if cfg.GraphStore == "neo4j" {
		linkingCap = extractor.LinkingCapGraph
	}
	pipeline := ingest.New(ingest.Deps{
		Store:       store,
		Extractor:   extr,
		Embedder:    embSvc,
		Publisher:   pipelinePublisher,
		Logger:      logger,
		LinkingCap:  linkingCap,
		VectorIndex: vecIndex,
	})

	retrievalEngine := retrieval.New(store, embSvc)
	synthesizer := answer.New(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	analyticsEngine := analytics.New(store, logger)
	summarizer := analytics.NewSummarizer(cfg.AnthropicAPIKey, cfg.AnthropicModel)

	docSource := docsource.New(cfg.DataDir)

	orch := orchestrator.New(store, pipeline, docSource, analyticsEngine, cfg.DataDir, logger)
	orch.SetPublisher(eventbus.RunPublisher{Bus: bus})

	namespaces := strings.Split(cfg.OrchNamespace, ",")
	scheduler := orchestrator.NewScheduler(orch, namespaces, cfg.OrchInterval, cfg.OrchThreshold, staleDocCounter{store: store})
	go scheduler.Run(ctx)

	srv := api.New(api.Deps{
		Store:        store,
		Pipeline:     pipeline,
		Retrieval:    retrievalEngine,
		Synthesizer:  synthesizer,
		Analytics:    analyticsEngine,
		Summarizer:   summarizer,
		Orchestrator: orch,
		Bus:          bus,
		DocSource:    docSource,
		VectorIndex:  vecIndex,
		APIKey:       cfg.APIKey,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("/graphrag/", srv.NewMux())

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.CORS(cfg.CORSOrigin),
	)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("graphragd starting", "port", cfg.Port, "graph_store", cfg.GraphStore)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// buildStore constructs the configured graph store and returns its close
// func; an unrecognized GraphStore value falls back to embedded SQLite.
func buildStore(ctx context.Context, cfg Config) (graphstore.Store, func(), error) {
	switch cfg.GraphStore {
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURL, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPass, ""))
		if err != nil {
			return nil, func() {}, err
		}
		return graphstore.NewNeo4jStore(driver), func() { driver.Close(ctx) }, nil
	default:
		store, err := graphstore.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() { store.Close() }, nil
	}
}

// staleDocCounter adapts graphstore.Store.StaleDocs to orchestrator's
// ThresholdCounter, which wants just a count.
type staleDocCounter struct {
	store graphstore.Store
}

func (c staleDocCounter) StaleDocCount(ctx context.Context, namespace string) (int, error) {
	docs, err := c.store.StaleDocs(ctx, namespace)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}
