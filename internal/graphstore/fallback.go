package graphstore

import (
	"context"

	"github.com/graphrag/core/internal/domain"
	"github.com/graphrag/core/pkg/resilience"
)

// FallbackStore prefers the graph backend and transparently switches to the
// embedded backend when the graph backend is unreachable, per the backend
// parity rule: every operation returns the same logical result on either
// backend, with the response tagged with which one actually served it.
type FallbackStore struct {
	primary  Store
	fallback Store
	breaker  *resilience.Breaker
}

// NewFallbackStore wires primary (typically Neo4jStore) with fallback
// (typically SQLiteStore) behind a shared circuit breaker.
func NewFallbackStore(primary, fallback Store) *FallbackStore {
	return &FallbackStore{
		primary:  primary,
		fallback: fallback,
		breaker:  resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 3}),
	}
}

func (f *FallbackStore) useFallback() bool {
	return f.breaker.State() != resilience.StateClosed
}

func (f *FallbackStore) trip(err error) {
	if err == nil {
		return
	}
	if domain.KindOf(err) == domain.KindBackendUnavailable {
		_ = f.breaker.Call(context.Background(), func(context.Context) error { return err })
	}
}

func (f *FallbackStore) recordSuccess() {
	_ = f.breaker.Call(context.Background(), func(context.Context) error { return nil })
}

func (f *FallbackStore) UpsertNode(ctx context.Context, node domain.Node) (UpsertResult, error) {
	if !f.useFallback() {
		res, err := f.primary.UpsertNode(ctx, node)
		if err == nil {
			f.recordSuccess()
			return res, nil
		}
		f.trip(err)
	}
	res, err := f.fallback.UpsertNode(ctx, node)
	res.Store = "sqlite_fallback"
	return res, err
}

func (f *FallbackStore) UpsertEdge(ctx context.Context, edge domain.Edge) (UpsertResult, error) {
	if !f.useFallback() {
		res, err := f.primary.UpsertEdge(ctx, edge)
		if err == nil {
			f.recordSuccess()
			return res, nil
		}
		f.trip(err)
	}
	res, err := f.fallback.UpsertEdge(ctx, edge)
	res.Store = "sqlite_fallback"
	return res, err
}

func (f *FallbackStore) GetNode(ctx context.Context, namespace, id string) (domain.Node, error) {
	if !f.useFallback() {
		n, err := f.primary.GetNode(ctx, namespace, id)
		if err == nil || domain.KindOf(err) == domain.KindNotFound {
			f.recordSuccess()
			return n, err
		}
		f.trip(err)
	}
	return f.fallback.GetNode(ctx, namespace, id)
}

func (f *FallbackStore) Neighbors(ctx context.Context, namespace, id string, depth int) ([]domain.Node, []domain.Edge, error) {
	if !f.useFallback() {
		n, e, err := f.primary.Neighbors(ctx, namespace, id, depth)
		if err == nil {
			f.recordSuccess()
			return n, e, nil
		}
		f.trip(err)
	}
	return f.fallback.Neighbors(ctx, namespace, id, depth)
}

func (f *FallbackStore) SearchByName(ctx context.Context, namespace, prefix string, limit int) ([]domain.Node, error) {
	if !f.useFallback() {
		n, err := f.primary.SearchByName(ctx, namespace, prefix, limit)
		if err == nil {
			f.recordSuccess()
			return n, nil
		}
		f.trip(err)
	}
	return f.fallback.SearchByName(ctx, namespace, prefix, limit)
}

func (f *FallbackStore) SampleSubgraph(ctx context.Context, namespace string, params SampleParams) ([]domain.Node, []domain.Edge, error) {
	if !f.useFallback() {
		n, e, err := f.primary.SampleSubgraph(ctx, namespace, params)
		if err == nil {
			f.recordSuccess()
			return n, e, nil
		}
		f.trip(err)
	}
	return f.fallback.SampleSubgraph(ctx, namespace, params)
}

func (f *FallbackStore) IterateNodes(ctx context.Context, namespace, cursor string, limit int) (Page, error) {
	if !f.useFallback() {
		p, err := f.primary.IterateNodes(ctx, namespace, cursor, limit)
		if err == nil {
			f.recordSuccess()
			return p, nil
		}
		f.trip(err)
	}
	return f.fallback.IterateNodes(ctx, namespace, cursor, limit)
}

func (f *FallbackStore) ShortestPath(ctx context.Context, namespace, sourceID, targetID string, maxDepth int) ([]domain.Node, []domain.Edge, error) {
	if !f.useFallback() {
		n, e, err := f.primary.ShortestPath(ctx, namespace, sourceID, targetID, maxDepth)
		if err == nil {
			f.recordSuccess()
			return n, e, nil
		}
		f.trip(err)
	}
	return f.fallback.ShortestPath(ctx, namespace, sourceID, targetID, maxDepth)
}

func (f *FallbackStore) BulkUpsert(ctx context.Context, nodes []domain.Node, edges []domain.Edge) (BulkResult, error) {
	if !f.useFallback() {
		res, err := f.primary.BulkUpsert(ctx, nodes, edges)
		if err == nil {
			f.recordSuccess()
			return res, nil
		}
		f.trip(err)
	}
	res, err := f.fallback.BulkUpsert(ctx, nodes, edges)
	res.Store = "sqlite_fallback"
	return res, err
}

func (f *FallbackStore) Stats(ctx context.Context, namespace string) (Stats, error) {
	if !f.useFallback() {
		s, err := f.primary.Stats(ctx, namespace)
		if err == nil {
			f.recordSuccess()
			return s, nil
		}
		f.trip(err)
	}
	return f.fallback.Stats(ctx, namespace)
}

func (f *FallbackStore) Namespaces(ctx context.Context) ([]string, error) {
	if !f.useFallback() {
		ns, err := f.primary.Namespaces(ctx)
		if err == nil {
			f.recordSuccess()
			return ns, nil
		}
		f.trip(err)
	}
	return f.fallback.Namespaces(ctx)
}

func (f *FallbackStore) IngestLog(ctx context.Context, namespace, docID string) (domain.IngestLog, bool, error) {
	if !f.useFallback() {
		l, ok, err := f.primary.IngestLog(ctx, namespace, docID)
		if err == nil {
			f.recordSuccess()
			return l, ok, nil
		}
		f.trip(err)
	}
	return f.fallback.IngestLog(ctx, namespace, docID)
}

func (f *FallbackStore) PutIngestLog(ctx context.Context, log domain.IngestLog) error {
	if !f.useFallback() {
		err := f.primary.PutIngestLog(ctx, log)
		if err == nil {
			f.recordSuccess()
			return nil
		}
		f.trip(err)
	}
	return f.fallback.PutIngestLog(ctx, log)
}

func (f *FallbackStore) StaleDocs(ctx context.Context, namespace string) ([]domain.IngestLog, error) {
	if !f.useFallback() {
		docs, err := f.primary.StaleDocs(ctx, namespace)
		if err == nil {
			f.recordSuccess()
			return docs, nil
		}
		f.trip(err)
	}
	return f.fallback.StaleDocs(ctx, namespace)
}

func (f *FallbackStore) Close() error {
	errPrimary := f.primary.Close()
	errFallback := f.fallback.Close()
	if errPrimary != nil {
		return errPrimary
	}
	return errFallback
}
