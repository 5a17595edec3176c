// Command graphragctl runs one-shot maintenance operations directly against
// the graph store: a manual orchestration pass, or a snapshot capture/diff,
// without starting the HTTP server. Grounded on the teacher's cmd/backfill
// (a single-purpose CLI dialing the store directly, flag-driven, no server).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/graphrag/core/internal/analytics"
	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/internal/embedder"
	"github.com/graphrag/core/internal/extractor"
	"github.com/graphrag/core/internal/graphstore"
	"github.com/graphrag/core/internal/ingest"
	"github.com/graphrag/core/internal/orchestrator"
	"github.com/graphrag/core/internal/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "run":
		cmdRun(ctx, os.Args[2:])
	case "snapshot":
		cmdSnapshot(ctx, os.Args[2:])
	case "diff":
		cmdDiff(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: graphragctl <run|snapshot|diff> [flags]")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func openStore(ctx context.Context) (graphstore.Store, func()) {
	switch envOr("GRAPH_STORE", "sqlite") {
	case "neo4j":
		driver, err := neo4j.NewDriverWithContext(
			envOr("NEO4J_URL", "neo4j://localhost:7687"),
			neo4j.BasicAuth(envOr("NEO4J_USER", "neo4j"), envOr("NEO4J_PASS", "password"), ""))
		if err != nil {
			log.Fatalf("neo4j connect: %v", err)
		}
		return graphstore.NewNeo4jStore(driver), func() { driver.Close(ctx) }
	default:
		store, err := graphstore.NewSQLiteStore(envOr("SQLITE_PATH", "/tmp/graphrag-data/graph.db"))
		if err != nil {
			log.Fatalf("sqlite open: %v", err)
		}
		return store, func() { store.Close() }
	}
}

func cmdRun(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	namespace := fs.String("namespace", "default", "namespace to re-index")
	force := fs.Bool("force", false, "bypass lock contention")
	fs.Parse(args)

	store, closeStore := openStore(ctx)
	defer closeStore()

	embSvc := embedder.New(nil)
	if url := os.Getenv("EMBEDDING_URL"); url != "" {
		embSvc = embedder.New(embedder.NewHTTPProvider("ollama", url, envOr("EMBEDDING_MODEL", "nomic-embed-text")))
	}
	var extr *extractor.Extractor
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		extr = extractor.New(extractor.NewLLMClient(key, envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5")))
	} else {
		extr = extractor.New(nil)
	}
	pipeline := ingest.New(ingest.Deps{Store: store, Extractor: extr, Embedder: embSvc})
	analyticsEngine := analytics.New(store, nil)

	dataDir := envOr("DATA_DIR", "/tmp/graphrag-data")
	orch := orchestrator.New(store, pipeline, noDocSource{}, analyticsEngine, dataDir, nil)

	rec, err := orch.RunOnce(ctx, orchestrator.RunOptions{Namespace: *namespace, Trigger: orchestrator.TriggerManual, Force: *force})
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}
	printJSON(rec)
}

// noDocSource is used when graphragctl runs without a docsource.Cache
// configured; every re-fetch attempt fails not_found, so each stale document
// a run finds counts as a failed re-ingestion.
type noDocSource struct{}

func (noDocSource) FetchText(context.Context, string, string) (string, map[string]any, error) {
	return "", nil, domain.NewError(domain.KindNotFound, "graphragctl run: no document source configured", nil)
}

func cmdSnapshot(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	namespace := fs.String("namespace", "default", "namespace to snapshot")
	fs.Parse(args)

	store, closeStore := openStore(ctx)
	defer closeStore()

	snap, err := snapshot.Capture(ctx, store, *namespace)
	if err != nil {
		log.Fatalf("snapshot failed: %v", err)
	}
	printJSON(snap)
}

func cmdDiff(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	aPath := fs.String("a", "", "path to earlier snapshot JSON")
	bPath := fs.String("b", "", "path to later snapshot JSON")
	fs.Parse(args)

	if *aPath == "" || *bPath == "" {
		log.Fatal("diff requires -a and -b snapshot file paths")
	}

	var a, b snapshot.Snapshot
	if err := readJSONFile(*aPath, &a); err != nil {
		log.Fatalf("read %s: %v", *aPath, err)
	}
	if err := readJSONFile(*bPath, &b); err != nil {
		log.Fatalf("read %s: %v", *bPath, err)
	}
	printJSON(snapshot.Between(a, b))
}

func readJSONFile(path string, v any) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
