package media

import (
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/camden-git/facesentry/models"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// PriorBox is an anchor box (center_x, center_y, width, height), normalized.
type PriorBox struct {
	Cx, Cy, W, H float32
}

// GenerateRetinaFacePriors generates the anchors of the standard RetinaFace configuration.
func GenerateRetinaFacePriors(imgW, imgH int) []PriorBox {
	minSizes := [][]int{{16, 32}, {64, 128}, {256, 512}}
	steps := []int{8, 16, 32}
	var priors []PriorBox
	for k, step := range steps {
		fmH, fmW := imgH/step, imgW/step
		for i := 0; i < fmH; i++ {
			for j := 0; j < fmW; j++ {
				for _, minSize := range minSizes[k] {
					priors = append(priors, PriorBox{
						Cx: (float32(j) + 0.5) * float32(step) / float32(imgW),
						Cy: (float32(i) + 0.5) * float32(step) / float32(imgH),
						W:  float32(minSize) / float32(imgW),
						H:  float32(minSize) / float32(imgH),
					})
				}
			}
		}
	}
	return priors
}

// DecodeBox decodes one [dx, dy, dw, dh] prediction into normalized corners.
func DecodeBox(rawBox [4]float32, prior PriorBox, variances [2]float32) [4]float32 {
	cx := prior.Cx + rawBox[0]*variances[0]*prior.W
	cy := prior.Cy + rawBox[1]*variances[0]*prior.H
	w := prior.W * float32(math.Exp(float64(rawBox[2]*variances[1])))
	h := prior.H * float32(math.Exp(float64(rawBox[3]*variances[1])))
	return [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2}
}

// RetinaFaceDetector detects faces with a RetinaFace ONNX model.
type RetinaFaceDetector struct {
	Net gocv.Net

	InputSizeW    int
	InputSizeH    int
	MeanVal       gocv.Scalar
	ConfThreshold float32
	IoUThreshold  float32

	priors []PriorBox
	logger *zap.Logger
}

// NewRetinaFaceDetector loads the RetinaFace model.
func NewRetinaFaceDetector(modelPath string, confThreshold float32, logger *zap.Logger) (*RetinaFaceDetector, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: retinaface model path is required", models.ErrInvalidConfig)
	}
	logger = logger.Named("detection")

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load retinaface network %s", modelPath)
	}
	preferCUDA(&net, logger)

	if confThreshold <= 0 {
		confThreshold = 0.5
	}
	return &RetinaFaceDetector{
		Net:           net,
		InputSizeW:    640,
		InputSizeH:    640,
		MeanVal:       gocv.NewScalar(104.0, 117.0, 123.0, 0),
		ConfThreshold: confThreshold,
		IoUThreshold:  0.4,
		priors:        GenerateRetinaFacePriors(640, 640),
		logger:        logger,
	}, nil
}

func (r *RetinaFaceDetector) Close() {
	if r != nil {
		r.Net.Close()
	}
}

// DetectFaces runs RetinaFace on img and applies non-maximum suppression.
func (r *RetinaFaceDetector) DetectFaces(img gocv.Mat) []models.Face {
	if r == nil || img.Empty() {
		return nil
	}
	imgHeight := float32(img.Rows())
	imgWidth := float32(img.Cols())

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(r.InputSizeW, r.InputSizeH), r.MeanVal, false, false)
	defer blob.Close()
	r.Net.SetInput(blob, "input")

	outputs := r.Net.ForwardLayers([]string{"bbox", "confidence", "landmark"})
	defer func() {
		for _, m := range outputs {
			m.Close()
		}
	}()
	if len(outputs) < 2 {
		r.logger.Warn("unexpected retinaface outputs", zap.Int("count", len(outputs)))
		return nil
	}
	boxes, scores := outputs[0], outputs[1]

	sizes := boxes.Size()
	if len(sizes) < 2 || sizes[1] != len(r.priors) {
		r.logger.Warn("retinaface output does not match priors", zap.Ints("sizes", sizes), zap.Int("priors", len(r.priors)))
		return nil
	}

	variances := [2]float32{0.1, 0.2}
	var faces []models.Face
	for i, prior := range r.priors {
		score := scores.GetFloatAt(0, i*2+1)
		if score < r.ConfThreshold {
			continue
		}
		var raw [4]float32
		for j := 0; j < 4; j++ {
			raw[j] = boxes.GetFloatAt(0, i*4+j)
		}
		d := DecodeBox(raw, prior, variances)
		x1 := max(0, d[0]*imgWidth)
		y1 := max(0, d[1]*imgHeight)
		x2 := min(imgWidth, d[2]*imgWidth)
		y2 := min(imgHeight, d[3]*imgHeight)
		if x2 <= x1 || y2 <= y1 {
			continue
		}
		faces = append(faces, models.Face{
			Box:   models.BoundingBox{X: int(x1), Y: int(y1), W: int(x2 - x1), H: int(y2 - y1)},
			Score: score,
		})
	}
	return NonMaxSuppression(faces, r.IoUThreshold)
}

// NonMaxSuppression keeps the highest scoring face of every group of
// faces overlapping by more than iouThreshold.
func NonMaxSuppression(faces []models.Face, iouThreshold float32) []models.Face {
	if len(faces) == 0 {
		return faces
	}
	sort.SliceStable(faces, func(i, j int) bool { return faces[i].Score > faces[j].Score })

	var result []models.Face
	used := make([]bool, len(faces))
	for i := range faces {
		if used[i] {
			continue
		}
		result = append(result, faces[i])
		for j := i + 1; j < len(faces); j++ {
			if !used[j] && IoU(faces[i].Box, faces[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}
	return result
}

// IoU returns the intersection over union of two boxes.
func IoU(a, b models.BoundingBox) float32 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}
	intersection := float32(inter.Dx() * inter.Dy())
	union := float32(a.Area()+b.Area()) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}
