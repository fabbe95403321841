package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"pixie-engine/internal/contextutil"
)

// pointNamespace derives stable UUIDv5 point ids from external document ids,
// so re-upserting a document always addresses the same point.
var pointNamespace = uuid.MustParse("9c9eb0f0-4bd4-4b3f-8f68-0e6b9f7a2d11")

// Payload keys reserved for engine bookkeeping. Caller metadata with these
// names is dropped on upsert.
const (
	payloadDocumentID = "document_id"
	payloadOwnerID    = "owner_id"
	payloadKind       = "kind"
	payloadVersion    = "version"
)

const scrollPageSize = 1000

// Default indexing threshold restored when bulk-load mode ends.
const defaultIndexingThreshold = 20000

// QdrantStore implements VectorStore using Qdrant with cosine distance.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a Qdrant-backed vector store.
// urlStr is the HTTP URL ("http://host:6333"); the gRPC port is derived
// from the HTTP port.
func NewQdrantStore(urlStr, collection string) (*QdrantStore, error) {
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

	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	return &QdrantStore{client: client, collection: collection}, nil
}

// PointID returns the stable Qdrant point id for an external document id.
func PointID(documentID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(documentID)).String()
}

// Upsert inserts or replaces points keyed by document id.
func (s *QdrantStore) Upsert(ctx context.Context, points []Point) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, point := range points {
		if point.OwnerID == "" {
			return fmt.Errorf("point %s has no owner", point.DocumentID)
		}

		payload := map[string]any{
			payloadDocumentID: point.DocumentID,
			payloadOwnerID:    point.OwnerID,
			payloadKind:       point.Kind,
			payloadVersion:    point.Version,
		}
		for k, v := range point.Meta {
			switch k {
			case payloadDocumentID, payloadOwnerID, payloadKind, payloadVersion:
				continue
			}
			payload[k] = v
		}

		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(point.DocumentID)),
			Vectors: qdrant.NewVectors(point.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         qdrantPoints,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", s.collection, "count", len(points), "error", err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	logger.DebugContext(ctx, "upserted points", "collection", s.collection, "count", len(points))
	return nil
}

// Delete removes points by their document ids.
func (s *QdrantStore) Delete(ctx context.Context, documentIDs []string) error {
	logger := contextutil.LoggerFromContext(ctx)

	if len(documentIDs) == 0 {
		return nil
	}

	qdrantIDs := make([]*qdrant.PointId, 0, len(documentIDs))
	for _, id := range documentIDs {
		qdrantIDs = append(qdrantIDs, qdrant.NewID(PointID(id)))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelector(qdrantIDs...),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to delete points", "collection", s.collection, "count", len(documentIDs), "error", err)
		return fmt.Errorf("failed to delete points: %w", err)
	}

	logger.DebugContext(ctx, "deleted points", "collection", s.collection, "count", len(documentIDs))
	return nil
}

// Search performs an owner-scoped approximate nearest-neighbor search.
func (s *QdrantStore) Search(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if params.OwnerID == "" {
		return nil, ErrMissingOwnerFilter
	}
	if params.K <= 0 {
		return nil, fmt.Errorf("k must be greater than 0")
	}

	must := []*qdrant.Condition{
		qdrant.NewMatch(payloadOwnerID, params.OwnerID),
	}
	if params.Kind != "" {
		must = append(must, qdrant.NewMatch(payloadKind, params.Kind))
	}

	limit := uint64(params.K)
	scoredPoints, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(params.Vector...),
		Filter:         &qdrant.Filter{Must: must},
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", s.collection, "k", params.K, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	results := make([]SearchResult, 0, len(scoredPoints))
	for _, scored := range scoredPoints {
		meta := make(map[string]any)
		if scored.Payload != nil {
			meta = convertPayloadToMap(scored.Payload)
		}
		result := SearchResult{
			Score: float64(scored.Score),
			Meta:  meta,
		}
		result.DocumentID, _ = meta[payloadDocumentID].(string)
		result.OwnerID, _ = meta[payloadOwnerID].(string)
		result.Kind, _ = meta[payloadKind].(string)
		result.Version, _ = meta[payloadVersion].(int64)

		// Belt and braces: a hit for the wrong owner is never returned,
		// even if the filter were misapplied upstream.
		if result.OwnerID != params.OwnerID {
			logger.ErrorContext(ctx, "dropping search hit with mismatched owner",
				"document_id", result.DocumentID, "hit_owner", result.OwnerID)
			continue
		}
		results = append(results, result)
	}

	logger.DebugContext(ctx, "search completed", "collection", s.collection, "k", params.K, "results", len(results))
	return results, nil
}

// ListDocumentIDs returns the ids of all indexed documents, scoped to an
// owner when ownerID is non-empty.
func (s *QdrantStore) ListDocumentIDs(ctx context.Context, ownerID string) ([]string, error) {
	var filter *qdrant.Filter
	if ownerID != "" {
		filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(payloadOwnerID, ownerID)},
		}
	}

	var ids []string
	var offset *qdrant.PointId
	var lastPointID string
	limit := uint32(scrollPageSize)

	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude(payloadDocumentID),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scroll points: %w", err)
		}

		for _, point := range points {
			// The page offset is inclusive on some server versions; skip the
			// boundary point if it repeats.
			if point.Id != nil && point.Id.GetUuid() == lastPointID {
				continue
			}
			meta := convertPayloadToMap(point.Payload)
			if docID, ok := meta[payloadDocumentID].(string); ok {
				ids = append(ids, docID)
			}
		}

		if len(points) < scrollPageSize {
			break
		}
		last := points[len(points)-1]
		offset = last.Id
		if last.Id != nil {
			lastPointID = last.Id.GetUuid()
		}
	}

	return ids, nil
}

// SetBulkLoad toggles bulk-load mode by adjusting the collection's indexing
// threshold: zero defers HNSW graph linking until the mode is turned off,
// which finalizes the index once instead of per upsert batch.
func (s *QdrantStore) SetBulkLoad(ctx context.Context, enabled bool) error {
	logger := contextutil.LoggerFromContext(ctx)

	threshold := uint64(defaultIndexingThreshold)
	if enabled {
		threshold = 0
	}

	err := s.client.UpdateCollection(ctx, &qdrant.UpdateCollection{
		CollectionName: s.collection,
		OptimizersConfig: &qdrant.OptimizersConfigDiff{
			IndexingThreshold: &threshold,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to toggle bulk load: %w", err)
	}

	logger.InfoContext(ctx, "bulk load mode changed", "collection", s.collection, "enabled", enabled)
	return nil
}

// CollectionExists checks if the backing collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection existence: %w", err)
	}
	return exists, nil
}

// EnsureCollection creates the collection if missing, configured for cosine
// distance with the given HNSW graph parameters (m bounds node degree,
// efConstruct is the construction-time search breadth). If the collection
// exists its vector size is validated against vectorSize.
func (s *QdrantStore) EnsureCollection(ctx context.Context, vectorSize, m, efConstruct int) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := s.CollectionExists(ctx)
	if err != nil {
		return err
	}

	if !exists {
		logger.InfoContext(ctx, "creating collection",
			"collection", s.collection, "vector_size", vectorSize, "hnsw_m", m, "hnsw_ef_construct", efConstruct)
		mVal := uint64(m)
		efVal := uint64(efConstruct)
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
			HnswConfig: &qdrant.HnswConfigDiff{
				M:           &mVal,
				EfConstruct: &efVal,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection info: %w", err)
	}
	config := info.Config
	if config == nil || config.Params == nil {
		return fmt.Errorf("collection config is invalid")
	}
	vectorsConfig := config.Params.GetVectorsConfig()
	if vectorsConfig == nil || vectorsConfig.GetParams() == nil {
		return fmt.Errorf("collection vectors config is invalid")
	}
	actualSize := vectorsConfig.GetParams().Size
	if int(actualSize) != vectorSize {
		return fmt.Errorf("collection vector size mismatch: expected %d, got %d", vectorSize, actualSize)
	}

	logger.InfoContext(ctx, "collection validated", "collection", s.collection, "vector_size", vectorSize)
	return nil
}

// convertPayloadToMap converts a Qdrant payload to map[string]any.
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

// convertValue converts a Qdrant Value to a Go value.
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
