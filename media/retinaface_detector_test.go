package media

import (
	"testing"

	"github.com/camden-git/facesentry/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRetinaFacePriors(t *testing.T) {
	priors := GenerateRetinaFacePriors(640, 640)
	// (80*80 + 40*40 + 20*20) feature cells, two anchors each
	require.Len(t, priors, 16800)

	first := priors[0]
	assert.InDelta(t, 4.0/640, first.Cx, 1e-6)
	assert.InDelta(t, 4.0/640, first.Cy, 1e-6)
	assert.InDelta(t, 16.0/640, first.W, 1e-6)
	assert.InDelta(t, 32.0/640, priors[1].W, 1e-6)
}

func TestDecodeBoxZeroOffsetReturnsPrior(t *testing.T) {
	prior := PriorBox{Cx: 0.5, Cy: 0.5, W: 0.2, H: 0.4}
	box := DecodeBox([4]float32{}, prior, [2]float32{0.1, 0.2})
	assert.InDelta(t, 0.4, box[0], 1e-6)
	assert.InDelta(t, 0.3, box[1], 1e-6)
	assert.InDelta(t, 0.6, box[2], 1e-6)
	assert.InDelta(t, 0.7, box[3], 1e-6)
}

func TestIoU(t *testing.T) {
	a := models.BoundingBox{X: 0, Y: 0, W: 10, H: 10}
	assert.InDelta(t, 1.0, IoU(a, a), 1e-6)
	assert.Zero(t, IoU(a, models.BoundingBox{X: 20, Y: 20, W: 5, H: 5}))
	// 5x10 overlap, union 150
	assert.InDelta(t, 50.0/150.0, IoU(a, models.BoundingBox{X: 5, Y: 0, W: 10, H: 10}), 1e-6)
}

func TestNonMaxSuppressionKeepsBestOfOverlaps(t *testing.T) {
	faces := []models.Face{
		{Box: models.BoundingBox{X: 0, Y: 0, W: 10, H: 10}, Score: 0.6},
		{Box: models.BoundingBox{X: 1, Y: 1, W: 10, H: 10}, Score: 0.9},
		{Box: models.BoundingBox{X: 100, Y: 100, W: 10, H: 10}, Score: 0.7},
	}
	kept := NonMaxSuppression(faces, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].Score)
	assert.Equal(t, float32(0.7), kept[1].Score)

	assert.Empty(t, NonMaxSuppression(nil, 0.4))
}
