package cameras

import "time"

// Frame is one captured image. Data holds the JPEG-encoded image.
type Frame struct {
	CameraID   uint
	Seq        uint64
	CapturedAt time.Time
	Data       []byte
	Width      int
	Height     int
}
