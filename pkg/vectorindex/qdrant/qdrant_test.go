package qdrant

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propolis-ai/annotator/pkg/models"
)

func TestPoints(t *testing.T) {
	now := time.Unix(1700000000, 0)
	recs := []models.EmbeddingRecord{
		{ItemID: 7, Vector: []float64{0.5, -0.25, 1}, PromptTokens: 12, CredentialID: 3, CreatedAt: now},
		{ItemID: 9, Vector: []float64{0, 0, 1}, PromptTokens: 12, CredentialID: 3, CreatedAt: now},
	}

	points, dims, err := Points(recs)
	require.NoError(t, err)
	assert.Equal(t, 3, dims)
	require.Len(t, points, 2)

	assert.Equal(t, uint64(7), points[0].GetId().GetNum())
	assert.NotNil(t, points[0].GetVectors().GetVector())
	assert.Equal(t, int64(7), points[0].GetPayload()["item_id"].GetIntegerValue())
	assert.Equal(t, int64(1700000000), points[0].GetPayload()["created_at"].GetIntegerValue())
	assert.Equal(t, uint64(9), points[1].GetId().GetNum())
}

func TestPointsEmpty(t *testing.T) {
	points, dims, err := Points(nil)
	require.NoError(t, err)
	assert.Nil(t, points)
	assert.Zero(t, dims)
}

func TestPointsRejectsMixedDimensions(t *testing.T) {
	_, _, err := Points([]models.EmbeddingRecord{
		{ItemID: 1, Vector: []float64{1, 2}},
		{ItemID: 2, Vector: []float64{1, 2, 3}},
	})
	assert.True(t, errors.Is(err, ErrDimensions))
}

func TestPointsRejectsUnsavedItem(t *testing.T) {
	_, _, err := Points([]models.EmbeddingRecord{{ItemID: 0, Vector: []float64{1}}})
	assert.Error(t, err)
}
