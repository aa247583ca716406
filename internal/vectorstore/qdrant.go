package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"movesia/internal/contextutil"
	"movesia/internal/event"
)

// deletePageSize bounds each scroll page when deleting by path.
const deletePageSize = 256

// QdrantIndex implements VectorIndex using the Qdrant gRPC client.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantIndex creates a gateway for the named collection.
// urlStr should be in the format "http://host:port" (e.g., "http://127.0.0.1:6333").
// The gRPC port is derived from the HTTP port.
func NewQdrantIndex(urlStr, collection string) (*QdrantIndex, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	// gRPC port is conventionally the HTTP port + 1.
	port := 6334
	if parsedURL.Port() != "" {
		if httpPort, err := strconv.Atoi(parsedURL.Port()); err == nil {
			port = httpPort + 1
		}
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create Qdrant client: %w", err)
	}

	return &QdrantIndex{client: client, collection: collection}, nil
}

// Collection returns the collection name the gateway writes to.
func (q *QdrantIndex) Collection() string {
	return q.collection
}

// WaitReady polls the health probe until success or deadline.
func (q *QdrantIndex) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := q.client.HealthCheck(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, lastErr)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, ctx.Err())
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// EnsureCollection creates the collection on first use and ensures the
// keyword payload indices. An existing collection is accepted as success.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dim int) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}

	if !exists {
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
			OnDiskPayload: qdrant.PtrOf(false),
		})
		if err != nil {
			// A concurrent creator winning the race is fine; recheck.
			if again, checkErr := q.client.CollectionExists(ctx, q.collection); checkErr != nil || !again {
				return fmt.Errorf("create collection: %w", err)
			}
		} else {
			logger.InfoContext(ctx, "collection created", "collection", q.collection, "dim", dim)
		}
	}

	return q.ensurePayloadIndices(ctx)
}

// ensurePayloadIndices creates the keyword indices used by filtered deletes
// and search. Existing indices are accepted.
func (q *QdrantIndex) ensurePayloadIndices(ctx context.Context) error {
	for _, field := range []string{"rel_path", "guid"} {
		_, err := q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: q.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("create payload index on %s: %w", field, err)
		}
	}
	return nil
}

// UpsertPoints writes one batch of points with wait semantics.
func (q *QdrantIndex) UpsertPoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, point := range points {
		p := &qdrant.PointStruct{
			Id:      qdrant.NewID(point.ID),
			Vectors: qdrant.NewVectors(point.Vector...),
		}
		if len(point.Payload) > 0 {
			p.Payload = qdrant.NewValueMap(point.Payload)
		}
		qdrantPoints = append(qdrantPoints, p)
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// DeleteByPath scrolls for every point whose rel_path matches the normalized
// path exactly and deletes them by explicit IDs. Pages are deleted as they
// are read, so the scroll never needs an offset cursor.
func (q *QdrantIndex) DeleteByPath(ctx context.Context, relPath string) error {
	logger := contextutil.LoggerFromContext(ctx)
	rel := event.NormalizeRelPath(relPath)

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch("rel_path", rel)},
	}

	var removed int
	for {
		page, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter:         filter,
			Limit:          qdrant.PtrOf(uint32(deletePageSize)),
			WithPayload:    qdrant.NewWithPayload(false),
			WithVectors:    qdrant.NewWithVectors(false),
		})
		if err != nil {
			return fmt.Errorf("scroll points for %s: %w", rel, err)
		}
		if len(page) == 0 {
			break
		}

		ids := make([]*qdrant.PointId, 0, len(page))
		for _, p := range page {
			if p.Id != nil {
				ids = append(ids, p.Id)
			}
		}
		_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: q.collection,
			Points:         qdrant.NewPointsSelector(ids...),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("delete %d points for %s: %w", len(ids), rel, err)
		}
		removed += len(ids)
	}

	if removed > 0 {
		logger.DebugContext(ctx, "deleted stale points", "rel_path", rel, "count", removed)
	}
	return nil
}

// DeleteByGUID removes points via a payload filter with wait semantics.
func (q *QdrantIndex) DeleteByGUID(ctx context.Context, guid string) error {
	g := event.NormalizeGUID(guid)

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("guid", g)},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete points for guid %s: %w", g, err)
	}
	return nil
}

// DeleteByIDs removes explicit point IDs with wait semantics.
func (q *QdrantIndex) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	qdrantIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		qdrantIDs = append(qdrantIDs, qdrant.NewID(id))
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrantIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete %d points by id: %w", len(ids), err)
	}
	return nil
}

// Search runs a top-K cosine query with optional exact payload filters.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int, filters map[string]string, threshold *float32) ([]ScoredPoint, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		ScoreThreshold: threshold,
	}

	if len(filters) > 0 {
		must := make([]*qdrant.Condition, 0, len(filters))
		for field, value := range filters {
			must = append(must, qdrant.NewMatch(field, value))
		}
		req.Filter = &qdrant.Filter{Must: must}
	}

	scored, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	results := make([]ScoredPoint, 0, len(scored))
	for _, hit := range scored {
		id := ""
		if hit.Id != nil {
			id = hit.Id.GetUuid()
		}
		payload := map[string]any{}
		if hit.Payload != nil {
			payload = convertPayloadToMap(hit.Payload)
		}
		results = append(results, ScoredPoint{ID: id, Score: hit.Score, Payload: payload})
	}
	return results, nil
}

// CountPoints returns the exact point count of the collection.
func (q *QdrantIndex) CountPoints(ctx context.Context) (uint64, error) {
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	return count, nil
}

// DropCollection deletes the collection; a missing collection is success.
func (q *QdrantIndex) DropCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection existence: %w", err)
	}
	if !exists {
		return nil
	}
	if err := q.client.DeleteCollection(ctx, q.collection); err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	return nil
}

// convertPayloadToMap converts Qdrant payload to map[string]any.
func convertPayloadToMap(payload map[string]*qdrant.Value) map[string]any {
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		result[k] = convertValue(v)
	}
	return result
}

// convertValue converts a Qdrant Value to a Go any value.
func convertValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		list := make([]any, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return convertPayloadToMap(val.StructValue.Fields)
	default:
		return nil
	}
}
