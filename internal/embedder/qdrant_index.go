package embedder

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// VectorIndex is the pluggable external vector store named by the
// embedding component: a thin owner of all Qdrant operations, grounded on
// the teacher's vector store shape.
type VectorIndex struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// VectorRecord is one point upserted into the index.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// IndexResult is one k-NN hit.
type IndexResult struct {
	ID    string
	Score float32
	Meta  map[string]string
}

// NewVectorIndex dials addr and binds to collection.
func NewVectorIndex(addr, collection string) (*VectorIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("embedder: dial qdrant %s: %w", addr, err)
	}
	return &VectorIndex{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// Close releases the gRPC connection.
func (v *VectorIndex) Close() error { return v.conn.Close() }

// EnsureCollection creates the collection with the given dimensionality if
// it does not already exist.
func (v *VectorIndex) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("embedder: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dims), Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("embedder: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores embedding records.
func (v *VectorIndex) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		payload := make(map[string]*pb.Value, len(r.Payload))
		for k, val := range r.Payload {
			payload[k] = toQdrantValue(val)
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}}},
			Payload: payload,
		}
	}
	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{CollectionName: v.collection, Wait: &wait, Points: points})
	if err != nil {
		return fmt.Errorf("embedder: upsert %d points: %w", len(records), err)
	}
	return nil
}

// DeleteByDocID removes all points tagged with doc_id, used on re-ingestion.
func (v *VectorIndex) DeleteByDocID(ctx context.Context, docID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("doc_id", docID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("embedder: delete by doc_id %s: %w", docID, err)
	}
	return nil
}

// Search performs k-NN similarity search, optionally filtered by exact
// metadata match.
func (v *VectorIndex) Search(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]IndexResult, error) {
	req := &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(filters) > 0 {
		must := make([]*pb.Condition, 0, len(filters))
		for k, val := range filters {
			must = append(must, fieldMatch(k, val))
		}
		req.Filter = &pb.Filter{Must: must}
	}
	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedder: search: %w", err)
	}
	results := make([]IndexResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		ir := IndexResult{ID: r.GetId().GetUuid(), Score: r.GetScore(), Meta: map[string]string{}}
		for k, val := range r.GetPayload() {
			ir.Meta[k] = val.GetStringValue()
		}
		results[i] = ir
	}
	return results, nil
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}}},
		},
	}
}

func toQdrantValue(v any) *pb.Value {
	switch tv := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}
