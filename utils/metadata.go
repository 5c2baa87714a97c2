package utils

import (
	"bytes"
	"image"
	"os"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// PhotoMetadata is the subset of image metadata used during enrollment.
type PhotoMetadata struct {
	Width       int
	Height      int
	CameraMake  string
	CameraModel string
	TakenAt     time.Time // zero when the photo carries no EXIF capture time
}

func exifString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil || tag == nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}

// ReadPhotoMetadata decodes dimensions and EXIF fields from an encoded image.
func ReadPhotoMetadata(data []byte) PhotoMetadata {
	var meta PhotoMetadata
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		meta.Width, meta.Height = cfg.Width, cfg.Height
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		// photos without EXIF are common
		return meta
	}
	meta.CameraMake = exifString(x, exif.Make)
	meta.CameraModel = exifString(x, exif.Model)
	if dt, err := x.DateTime(); err == nil {
		meta.TakenAt = dt
	}
	return meta
}

// PhotoTakenAt prefers the EXIF capture time and falls back to the file modification time.
func PhotoTakenAt(path string, data []byte) time.Time {
	if meta := ReadPhotoMetadata(data); !meta.TakenAt.IsZero() {
		return meta.TakenAt
	}
	if info, err := os.Stat(path); err == nil {
		return info.ModTime()
	}
	return time.Now()
}
