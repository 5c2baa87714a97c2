package media

import (
	"context"
	"fmt"
	"image"

	"github.com/camden-git/facesentry/models"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Face backends and detectors.
const (
	BackendDNN  = "dnn"
	BackendDlib = "dlib"

	DetectorSSD        = "ssd"
	DetectorRetinaFace = "retinaface"
)

// Analyzer finds faces in an encoded image and computes their encodings.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) ([]models.Face, error)
	Close() error
}

// AnalyzerConfig selects and configures the face models.
type AnalyzerConfig struct {
	Backend             string
	Detector            string
	DNNConfigPath       string
	DNNModelPath        string
	RetinaFaceModelPath string
	RecognitionModel    string
	RecognitionName     string
	DlibModelsDir       string
	DetectionScale      float64 // frames are shrunk by this factor before detection
	DetectionConfidence float32
}

// NewAnalyzer loads the models of the configured backend. Every call loads
// its own networks, so each worker gets an independent analyzer.
func NewAnalyzer(cfg AnalyzerConfig, logger *zap.Logger) (Analyzer, error) {
	switch cfg.Backend {
	case BackendDlib:
		return NewDlibAnalyzer(cfg.DlibModelsDir)
	case BackendDNN, "":
		return NewDNNAnalyzer(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown face backend %q", models.ErrInvalidConfig, cfg.Backend)
	}
}

// DNNAnalyzer detects faces with an OpenCV DNN detector and encodes them with a recognition network.
type DNNAnalyzer struct {
	detector FaceDetector
	model    *FaceRecognitionModel
	scale    float64
}

// NewDNNAnalyzer loads the detector and recognition networks.
func NewDNNAnalyzer(cfg AnalyzerConfig, logger *zap.Logger) (*DNNAnalyzer, error) {
	var (
		detector FaceDetector
		err      error
	)
	switch cfg.Detector {
	case DetectorRetinaFace:
		detector, err = NewRetinaFaceDetector(cfg.RetinaFaceModelPath, cfg.DetectionConfidence, logger)
	case DetectorSSD, "":
		detector, err = NewDNNFaceDetector(cfg.DNNConfigPath, cfg.DNNModelPath, cfg.DetectionConfidence, logger)
	default:
		err = fmt.Errorf("%w: unknown face detector %q", models.ErrInvalidConfig, cfg.Detector)
	}
	if err != nil {
		return nil, err
	}

	model, err := NewFaceRecognitionModel(cfg.RecognitionModel, cfg.RecognitionName, logger)
	if err != nil {
		detector.Close()
		return nil, err
	}

	scale := cfg.DetectionScale
	if scale <= 0 || scale > 1 {
		scale = 1
	}
	return &DNNAnalyzer{detector: detector, model: model, scale: scale}, nil
}

// Analyze decodes data, detects faces on a scaled copy and encodes each face
// from the full-resolution image.
func (a *DNNAnalyzer) Analyze(ctx context.Context, data []byte) ([]models.Face, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDecode, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, fmt.Errorf("%w: image could not be decoded", models.ErrDecode)
	}

	faces := a.detect(img)
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	out := faces[:0]
	for _, face := range faces {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rect := face.Box.Rect().Intersect(bounds)
		if rect.Empty() {
			continue
		}
		region := img.Region(rect)
		encoding, err := a.model.ExtractEmbedding(region)
		region.Close()
		if err != nil {
			continue
		}
		face.Encoding = encoding
		out = append(out, face)
	}
	return out, nil
}

func (a *DNNAnalyzer) detect(img gocv.Mat) []models.Face {
	if a.scale == 1 {
		return a.detector.DetectFaces(img)
	}
	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(img, &small, image.Point{}, a.scale, a.scale, gocv.InterpolationArea)

	faces := a.detector.DetectFaces(small)
	for i := range faces {
		b := faces[i].Box
		faces[i].Box = models.BoundingBox{
			X: int(float64(b.X) / a.scale),
			Y: int(float64(b.Y) / a.scale),
			W: int(float64(b.W) / a.scale),
			H: int(float64(b.H) / a.scale),
		}
	}
	return faces
}

func (a *DNNAnalyzer) Close() error {
	a.detector.Close()
	a.model.Close()
	return nil
}
