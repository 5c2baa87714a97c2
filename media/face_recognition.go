package media

import (
	"fmt"
	"image"
	"math"
	"os"

	"github.com/camden-git/facesentry/models"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FaceRecognitionModel extracts face encodings with an ONNX embedding network.
type FaceRecognitionModel struct {
	Net       gocv.Net
	ModelName string

	InputSizeW int
	InputSizeH int
}

// NewFaceRecognitionModel loads a face recognition model (arcface, facenet).
func NewFaceRecognitionModel(modelPath, modelName string, logger *zap.Logger) (*FaceRecognitionModel, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: face recognition model path is required", models.ErrInvalidConfig)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("face recognition model %s: %w", modelPath, err)
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load %s network from %s", modelName, modelPath)
	}
	preferCUDA(&net, logger.Named("recognition"))

	size := 112
	if modelName == "facenet" {
		size = 160
	}
	return &FaceRecognitionModel{
		Net:        net,
		ModelName:  modelName,
		InputSizeW: size,
		InputSizeH: size,
	}, nil
}

func (f *FaceRecognitionModel) Close() {
	if f != nil {
		f.Net.Close()
	}
}

// ExtractEmbedding returns the L2-normalized encoding of a face region.
func (f *FaceRecognitionModel) ExtractEmbedding(faceRegion gocv.Mat) ([]float32, error) {
	if faceRegion.Empty() {
		return nil, fmt.Errorf("%w: empty face region", models.ErrDecode)
	}

	processed := f.preprocessFace(faceRegion)
	defer processed.Close()

	blob := gocv.BlobFromImage(processed, 1.0/255.0, image.Pt(f.InputSizeW, f.InputSizeH), gocv.NewScalar(0, 0, 0, 0), false, false)
	defer blob.Close()

	f.Net.SetInput(blob, "")
	output := f.Net.Forward("")
	defer output.Close()

	embedding := extractEmbeddingVector(output)
	if len(embedding) == 0 {
		return nil, fmt.Errorf("%s produced an empty embedding", f.ModelName)
	}
	return normalizeEmbedding(embedding), nil
}

// preprocessFace converts BGR to RGB, resizes to the network input and converts to float32.
func (f *FaceRecognitionModel) preprocessFace(faceRegion gocv.Mat) gocv.Mat {
	rgb := gocv.NewMat()
	defer rgb.Close()
	if faceRegion.Channels() == 3 {
		gocv.CvtColor(faceRegion, &rgb, gocv.ColorBGRToRGB)
	} else {
		faceRegion.CopyTo(&rgb)
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(rgb, &resized, image.Pt(f.InputSizeW, f.InputSizeH), 0, 0, gocv.InterpolationLinear)

	out := gocv.NewMat()
	resized.ConvertTo(&out, gocv.MatTypeCV32F)
	return out
}

func extractEmbeddingVector(output gocv.Mat) []float32 {
	if len(output.Size()) == 0 {
		return nil
	}
	flattened := output.Reshape(1, 1)
	defer flattened.Close()

	embedding := make([]float32, flattened.Cols())
	for i := range embedding {
		embedding[i] = flattened.GetFloatAt(0, i)
	}
	return embedding
}

// normalizeEmbedding scales the embedding to unit length.
func normalizeEmbedding(embedding []float32) []float32 {
	var norm float64
	for _, v := range embedding {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return embedding
	}
	normalized := make([]float32, len(embedding))
	for i, v := range embedding {
		normalized[i] = float32(float64(v) / norm)
	}
	return normalized
}
