package media

import (
	"context"
	"fmt"

	"github.com/Kagami/go-face"
	"github.com/camden-git/facesentry/models"
)

// DlibAnalyzer finds and encodes faces with dlib's 128-d face descriptors.
// It needs shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat
// and mmod_human_face_detector.dat in its models directory.
type DlibAnalyzer struct {
	rec *face.Recognizer
}

// NewDlibAnalyzer loads the dlib models from dir.
func NewDlibAnalyzer(dir string) (*DlibAnalyzer, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: dlib models directory is required", models.ErrInvalidConfig)
	}
	rec, err := face.NewRecognizer(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", dir, err)
	}
	return &DlibAnalyzer{rec: rec}, nil
}

// Analyze returns every face in the JPEG image with its descriptor.
func (d *DlibAnalyzer) Analyze(ctx context.Context, data []byte) ([]models.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found, err := d.rec.Recognize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrDecode, err)
	}
	faces := make([]models.Face, 0, len(found))
	for _, f := range found {
		r := f.Rectangle
		encoding := make([]float32, len(f.Descriptor))
		copy(encoding, f.Descriptor[:])
		faces = append(faces, models.Face{
			Box:      models.BoundingBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()},
			Score:    1,
			Encoding: encoding,
		})
	}
	return faces, nil
}

func (d *DlibAnalyzer) Close() error {
	d.rec.Close()
	return nil
}
