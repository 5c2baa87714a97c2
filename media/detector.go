package media

import (
	"fmt"
	"image"

	"github.com/camden-git/facesentry/models"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FaceDetector finds face regions in a decoded image.
type FaceDetector interface {
	DetectFaces(img gocv.Mat) []models.Face
	Close()
}

// DNNFaceDetector is the res10 SSD face detector.
type DNNFaceDetector struct {
	Net gocv.Net

	// configuration parameters used during detection
	InputSizeW    int
	InputSizeH    int
	ScaleFactor   float64
	MeanVal       gocv.Scalar
	ConfThreshold float32

	logger *zap.Logger
}

// NewDNNFaceDetector loads the SSD model.
func NewDNNFaceDetector(configPath, modelPath string, confThreshold float32, logger *zap.Logger) (*DNNFaceDetector, error) {
	if configPath == "" || modelPath == "" {
		return nil, fmt.Errorf("%w: face detector config and model paths are required", models.ErrInvalidConfig)
	}
	logger = logger.Named("detection")

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load face detection network: config=%s, model=%s", configPath, modelPath)
	}
	preferCUDA(&net, logger)

	if confThreshold <= 0 {
		confThreshold = 0.5
	}
	return &DNNFaceDetector{
		Net:           net,
		InputSizeW:    300,
		InputSizeH:    300,
		ScaleFactor:   1.0,
		MeanVal:       gocv.NewScalar(104.0, 177.0, 123.0, 0),
		ConfThreshold: confThreshold,
		logger:        logger,
	}, nil
}

// preferCUDA selects the CUDA backend when it is available and falls back to CPU.
func preferCUDA(net *gocv.Net, logger *zap.Logger) {
	cudaBackendErr := net.SetPreferableBackend(gocv.NetBackendCUDA)
	cudaTargetErr := net.SetPreferableTarget(gocv.NetTargetCUDA)
	if cudaBackendErr == nil && cudaTargetErr == nil {
		logger.Debug("dnn backend set to cuda")
		return
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)
	logger.Debug("dnn backend set to cpu")
}

func (d *DNNFaceDetector) Close() {
	if d != nil {
		d.Net.Close()
	}
}

// DetectFaces runs face detection on img. Boxes are clamped to the image.
func (d *DNNFaceDetector) DetectFaces(img gocv.Mat) []models.Face {
	if d == nil || img.Empty() {
		return nil
	}

	imgHeight := float32(img.Rows())
	imgWidth := float32(img.Cols())

	blob := gocv.BlobFromImage(img, d.ScaleFactor, image.Pt(d.InputSizeW, d.InputSizeH), d.MeanVal, false, false)
	defer blob.Close()

	d.Net.SetInput(blob, "")
	detectionsMat := d.Net.Forward("")
	defer detectionsMat.Close()

	sizes := detectionsMat.Size()
	if len(sizes) != 4 {
		d.logger.Warn("unexpected detector output dimensions", zap.Ints("sizes", sizes))
		return nil
	}
	numDetections := sizes[2]
	if numDetections == 0 {
		return nil
	}

	// reshape to [N, 7] rows for GetFloatAt(row, col)
	detections2D := detectionsMat.Reshape(1, numDetections*sizes[3])
	defer detections2D.Close()
	detectionsData := detections2D.Reshape(1, numDetections)
	defer detectionsData.Close()

	var faces []models.Face
	for i := 0; i < numDetections; i++ {
		confidence := detectionsData.GetFloatAt(i, 2)
		if confidence <= d.ConfThreshold {
			continue
		}
		xMin := max(0, detectionsData.GetFloatAt(i, 3)*imgWidth)
		yMin := max(0, detectionsData.GetFloatAt(i, 4)*imgHeight)
		xMax := min(imgWidth, detectionsData.GetFloatAt(i, 5)*imgWidth)
		yMax := min(imgHeight, detectionsData.GetFloatAt(i, 6)*imgHeight)

		if xMax > xMin && yMax > yMin {
			faces = append(faces, models.Face{
				Box:   models.BoundingBox{X: int(xMin), Y: int(yMin), W: int(xMax - xMin), H: int(yMax - yMin)},
				Score: confidence,
			})
		}
	}
	return faces
}
