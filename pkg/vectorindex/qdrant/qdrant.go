// Package qdrant mirrors stored item embeddings into a Qdrant collection
// so they can be searched by similarity.
package qdrant

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/propolis-ai/annotator/pkg/config"
	"github.com/propolis-ai/annotator/pkg/models"
)

// ErrDimensions is returned when vectors in one upsert disagree on length.
var ErrDimensions = errors.New("embedding dimensions differ")

// Match is one similarity search hit.
type Match struct {
	ItemID int64
	Score  float32
}

// Mirror upserts embeddings into Qdrant, keyed by item ID.
type Mirror struct {
	client     *qdrant.Client
	collection string
	log        *zap.Logger

	mu    sync.Mutex
	ready bool
}

// New connects to Qdrant. The collection is created on first upsert, once
// the vector size is known.
func New(cfg config.QdrantConfig, log *zap.Logger) (*Mirror, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create qdrant client")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{client: client, collection: cfg.Collection, log: log}, nil
}

// Upsert writes recs as points. Empty input is a no-op.
func (m *Mirror) Upsert(ctx context.Context, recs []models.EmbeddingRecord) error {
	points, dims, err := Points(recs)
	if err != nil || len(points) == 0 {
		return err
	}
	if err := m.ensureCollection(ctx, dims); err != nil {
		return err
	}

	wait := true
	_, err = m.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: m.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return errors.Wrapf(err, "upsert %d points", len(points))
	}
	m.log.Debug("mirrored embeddings", zap.Int("points", len(points)), zap.String("collection", m.collection))
	return nil
}

// Similar returns the items nearest to vec.
func (m *Mirror) Similar(ctx context.Context, vec []float64, limit uint64) ([]Match, error) {
	res, err := m.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: m.collection,
		Query:          qdrant.NewQueryDense(toFloat32(vec)),
		Limit:          qdrant.PtrOf(limit),
	})
	if err != nil {
		return nil, errors.Wrap(err, "query qdrant")
	}
	out := make([]Match, 0, len(res))
	for _, p := range res {
		out = append(out, Match{ItemID: int64(p.GetId().GetNum()), Score: p.GetScore()})
	}
	return out, nil
}

// Close releases the gRPC connection.
func (m *Mirror) Close() error {
	return m.client.Close()
}

func (m *Mirror) ensureCollection(ctx context.Context, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		return nil
	}

	exists, err := m.client.CollectionExists(ctx, m.collection)
	if err != nil {
		return errors.Wrapf(err, "check collection %s", m.collection)
	}
	if !exists {
		err = m.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: m.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return errors.Wrapf(err, "create collection %s", m.collection)
		}
		m.log.Info("created qdrant collection", zap.String("collection", m.collection), zap.Int("dims", dims))
	}
	m.ready = true
	return nil
}

// Points converts records to Qdrant points and reports their dimension.
func Points(recs []models.EmbeddingRecord) ([]*qdrant.PointStruct, int, error) {
	if len(recs) == 0 {
		return nil, 0, nil
	}
	dims := len(recs[0].Vector)
	points := make([]*qdrant.PointStruct, 0, len(recs))
	for _, r := range recs {
		if len(r.Vector) != dims || dims == 0 {
			return nil, 0, errors.Wrapf(ErrDimensions, "item %d has %d, want %d", r.ItemID, len(r.Vector), dims)
		}
		if r.ItemID <= 0 {
			return nil, 0, errors.Newf("item id %d cannot be a point id", r.ItemID)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(r.ItemID)),
			Vectors: qdrant.NewVectorsDense(toFloat32(r.Vector)),
			Payload: qdrant.NewValueMap(map[string]any{
				"item_id":       r.ItemID,
				"credential_id": r.CredentialID,
				"prompt_tokens": r.PromptTokens,
				"created_at":    r.CreatedAt.Unix(),
			}),
		})
	}
	return points, dims, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
