package qdrant

import (
	"context"
	"fmt"
	"io/fs"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

// Storage is a Qdrant collection accessed over gRPC.
// It assumes cosine distance.
type Storage struct {
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
}

type Config struct {
	Host       string
	Port       int
	Collection string
}

func dial(cfg Config) (*grpc.ClientConn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return conn, nil
}

func (s *Storage) Add(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if err := vectorstore.CheckBatch(chunks, vectors); err != nil {
		return err
	}
	points := make([]*pb.PointStruct, len(chunks))
	for i := range chunks {
		points[i] = toPoint(chunks[i], vectors[i])
	}
	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]domain.SearchResult, error) {
	if topK <= 0 {
		topK = 3
	}
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	results := make([]domain.SearchResult, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		c := fromPayload(pt.GetPayload())
		c.ID = pt.GetId().GetUuid()
		results = append(results, domain.SearchResult{Chunk: c, Score: float64(pt.GetScore())})
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (s *Storage) Close() error {
	return s.conn.Close()
}

func toPoint(c domain.Chunk, vec []float32) *pb.PointStruct {
	return &pb.PointStruct{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: c.ID}},
		Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}}},
		Payload: map[string]*pb.Value{
			"source": {Kind: &pb.Value_StringValue{StringValue: c.Source}},
			"page":   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Page)}},
			"index":  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Index)}},
			"text":   {Kind: &pb.Value_StringValue{StringValue: c.Text}},
		},
	}
}

func fromPayload(p map[string]*pb.Value) domain.Chunk {
	return domain.Chunk{
		Source: p["source"].GetStringValue(),
		Page:   int(p["page"].GetIntegerValue()),
		Index:  int(p["index"].GetIntegerValue()),
		Text:   p["text"].GetStringValue(),
	}
}

// Backend resolves the configured collection. Points are upserted with
// wait=true, so Commit has nothing left to do.
type Backend struct {
	Config Config
}

// Open connects to an existing collection.
func (b *Backend) Open(ctx context.Context) (vectorstore.Storage, error) {
	conn, err := dial(b.Config)
	if err != nil {
		return nil, err
	}
	resp, err := pb.NewCollectionsClient(conn).CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: b.Config.Collection,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("qdrant collection lookup: %w", err)
	}
	if !resp.GetResult().GetExists() {
		_ = conn.Close()
		return nil, fmt.Errorf("qdrant collection %q: %w", b.Config.Collection, fs.ErrNotExist)
	}
	return b.storage(conn), nil
}

// Create makes the collection sized to the first batch and stores it.
func (b *Backend) Create(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) (vectorstore.Storage, error) {
	if len(chunks) == 0 {
		return nil, vectorstore.ErrNoChunks
	}
	if err := vectorstore.CheckBatch(chunks, vectors); err != nil {
		return nil, err
	}
	conn, err := dial(b.Config)
	if err != nil {
		return nil, err
	}
	_, err = pb.NewCollectionsClient(conn).Create(ctx, &pb.CreateCollection{
		CollectionName: b.Config.Collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(len(vectors[0])),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("qdrant create collection: %w", err)
	}
	s := b.storage(conn)
	if err := s.Add(ctx, chunks, vectors); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (b *Backend) Commit(context.Context, vectorstore.Storage) error { return nil }

func (b *Backend) storage(conn *grpc.ClientConn) *Storage {
	return &Storage{conn: conn, points: pb.NewPointsClient(conn), collection: b.Config.Collection}
}

var (
	_ vectorstore.Storage = (*Storage)(nil)
	_ vectorstore.Backend = (*Backend)(nil)
)
