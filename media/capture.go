package media

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/camden-git/facesentry/cameras"
	"github.com/camden-git/facesentry/models"
	"gocv.io/x/gocv"
)

const captureJpegQuality = 90

// VideoStream reads frames from an RTSP/HTTP url, a file or a local device.
type VideoStream struct {
	capture *gocv.VideoCapture
	img     gocv.Mat
}

// OpenVideoStream opens locator. An integer locator selects a local device.
// It implements cameras.Opener.
func OpenVideoStream(ctx context.Context, locator string) (cameras.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	locator = strings.TrimSpace(locator)

	var (
		capture *gocv.VideoCapture
		err     error
	)
	if device, convErr := strconv.Atoi(locator); convErr == nil {
		capture, err = gocv.OpenVideoCapture(device)
	} else {
		capture, err = gocv.OpenVideoCapture(locator)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", models.ErrConnection, locator, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: stream %s did not open", models.ErrConnection, locator)
	}
	capture.Set(gocv.VideoCaptureBufferSize, 1)

	return &VideoStream{capture: capture, img: gocv.NewMat()}, nil
}

// Read grabs the next frame and encodes it as JPEG.
func (v *VideoStream) Read() (cameras.Frame, error) {
	if ok := v.capture.Read(&v.img); !ok {
		return cameras.Frame{}, fmt.Errorf("%w: read failed", models.ErrConnection)
	}
	capturedAt := time.Now()
	if v.img.Empty() {
		return cameras.Frame{}, fmt.Errorf("%w: empty frame", models.ErrDecode)
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, v.img, []int{gocv.IMWriteJpegQuality, captureJpegQuality})
	if err != nil {
		return cameras.Frame{}, fmt.Errorf("%w: encode frame: %w", models.ErrDecode, err)
	}
	defer buf.Close()

	data := make([]byte, buf.Len())
	copy(data, buf.GetBytes())
	return cameras.Frame{
		CapturedAt: capturedAt,
		Data:       data,
		Width:      v.img.Cols(),
		Height:     v.img.Rows(),
	}, nil
}

// Close releases the capture device.
func (v *VideoStream) Close() error {
	v.img.Close()
	return v.capture.Close()
}
