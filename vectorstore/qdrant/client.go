package qdrant

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/creastat/console/vectorstore"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Config holds Qdrant connection configuration.
type Config struct {
	// URL is the Qdrant server address (e.g., "https://example.qdrant.io:6334").
	URL string

	// CollectionName is the collection holding project chunks.
	CollectionName string

	// APIKey is optional API key for authentication.
	APIKey string

	// VectorSize is the embedding dimension used when the collection is created.
	VectorSize int
}

// Client implements vectorstore.Store for Qdrant.
type Client struct {
	client         *qdrant.Client
	embedder       vectorstore.Embedder
	collectionName string
	vectorSize     int

	mu      sync.Mutex
	ensured bool
}

// New creates a new Qdrant client. Queries and documents are embedded with embedder.
func New(cfg Config, embedder vectorstore.Embedder) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("qdrant embedder is required")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("qdrant collection name is required")
	}

	host, port, useTLS, err := parseAddress(cfg.URL)
	if err != nil {
		return nil, err
	}

	qdrantClient, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	size := cfg.VectorSize
	if size <= 0 {
		size = vectorstore.DefaultDimensions
	}
	return &Client{
		client:         qdrantClient,
		embedder:       embedder,
		collectionName: cfg.CollectionName,
		vectorSize:     size,
	}, nil
}

// parseAddress splits a Qdrant URL into gRPC host, port and TLS flag.
// A URL without scheme is treated as https.
func parseAddress(raw string) (string, int, bool, error) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to parse qdrant url: %w", err)
	}

	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}
	return u.Hostname(), port, u.Scheme == "https", nil
}

// ensureCollection creates the collection on first write.
func (c *Client) ensureCollection(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ensured {
		return nil
	}

	exists, err := c.client.CollectionExists(ctx, c.collectionName)
	if err != nil {
		return fmt.Errorf("checking qdrant collection %s: %w", c.collectionName, err)
	}
	if !exists {
		err := c.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(c.vectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("creating qdrant collection %s: %w", c.collectionName, err)
		}
	}
	c.ensured = true
	return nil
}

// Upsert implements vectorstore.Store.
func (c *Client) Upsert(ctx context.Context, docs []vectorstore.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := c.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		vec, err := c.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return fmt.Errorf("embedding %s: %w", doc.ID, err)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(doc.ID),
			Vectors: qdrant.NewVectors(vec...),
			Payload: buildPayload(doc),
		})
	}

	if _, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collectionName,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

// Search implements vectorstore.Store.
func (c *Client) Search(ctx context.Context, query string, filter vectorstore.SearchFilter, limit int) ([]vectorstore.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, vectorstore.ErrEmptyQuery
	}
	vector, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	limitUint64 := uint64(limit)
	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collectionName,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitUint64,
		Filter:         buildQdrantFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	results := make([]vectorstore.SearchResult, 0, len(points))
	for _, point := range points {
		if filter.MinScore > 0 && point.Score < filter.MinScore {
			continue
		}
		results = append(results, convertPoint(point.Id, point.Score, point.Payload))
	}
	return results, nil
}

// Close implements vectorstore.Store.
func (c *Client) Close() error {
	return c.client.Close()
}

// pointID maps a chunk ID to a stable UUID; Qdrant only accepts UUIDs and
// integers. The original ID is kept in the payload.
func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

func buildPayload(doc vectorstore.Document) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"id":          stringValue(doc.ID),
		"content":     stringValue(doc.Content),
		"source_id":   stringValue(doc.SourceID),
		"document_id": stringValue(doc.DocumentID),
	}
	for k, v := range doc.Metadata {
		if _, reserved := payload[k]; reserved {
			continue
		}
		switch val := v.(type) {
		case string:
			payload[k] = stringValue(val)
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = stringValue(fmt.Sprint(val))
		}
	}
	return payload
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func convertPoint(id *qdrant.PointId, score float32, payload map[string]*qdrant.Value) vectorstore.SearchResult {
	result := vectorstore.SearchResult{
		Score:    score,
		Metadata: make(map[string]any),
	}
	if id != nil {
		if u := id.GetUuid(); u != "" {
			result.ID = u
		} else if num := id.GetNum(); num != 0 {
			result.ID = strconv.FormatUint(num, 10)
		}
	}

	for k, v := range payload {
		switch k {
		case "id":
			if str := v.GetStringValue(); str != "" {
				result.ID = str
			}
		case "content":
			result.Content = v.GetStringValue()
		case "source_id":
			result.SourceID = v.GetStringValue()
		case "document_id":
			result.DocumentID = v.GetStringValue()
		default:
			result.Metadata[k] = extractValue(v)
		}
	}
	return result
}

// buildQdrantFilter converts SearchFilter to Qdrant Filter.
func buildQdrantFilter(filter vectorstore.SearchFilter) *qdrant.Filter {
	var conditions []*qdrant.Condition

	switch len(filter.SourceIDs) {
	case 0:
	case 1:
		conditions = append(conditions, buildMatchCondition("source_id", filter.SourceIDs[0]))
	default:
		keywords := make([]string, len(filter.SourceIDs))
		copy(keywords, filter.SourceIDs)
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "source_id",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keywords{
							Keywords: &qdrant.RepeatedStrings{Strings: keywords},
						},
					},
				},
			},
		})
	}

	for key, value := range filter.Metadata {
		conditions = append(conditions, buildMatchCondition(key, value))
	}

	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

// buildMatchCondition creates a match condition for a key-value pair.
func buildMatchCondition(key string, value any) *qdrant.Condition {
	var match *qdrant.Match

	switch v := value.(type) {
	case string:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
	case int:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case int64:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	case bool:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	default:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", v)}}
	}

	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: match,
			},
		},
	}
}

// extractValue extracts a Go value from a Qdrant Value.
func extractValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}

	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	default:
		return nil
	}
}

// Compile-time check that Client implements Store.
var _ vectorstore.Store = (*Client)(nil)
