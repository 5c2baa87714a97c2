package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/camden-git/facesentry/models"
	"github.com/disintegration/imaging"
)

const (
	SnapshotJpegQuality   = 90
	SnapshotFileExtension = ".jpg"
	SnapshotContentType   = "image/jpeg"
)

// SnapshotOptions controls how alert snapshots are cropped.
type SnapshotOptions struct {
	Padding int // pixels added on each side of the face box
	MaxSize int // longest side of the saved image, 0 keeps the crop size
}

// SnapshotWriter crops the face of an alert out of its frame and saves it to
// a Store.
type SnapshotWriter struct {
	store Store
	opts  SnapshotOptions
}

func NewSnapshotWriter(store Store, opts SnapshotOptions) *SnapshotWriter {
	if opts.Padding < 0 {
		opts.Padding = 0
	}
	return &SnapshotWriter{store: store, opts: opts}
}

// SnapshotKey is the storage key of an alert snapshot, grouped by UTC day.
func (w *SnapshotWriter) SnapshotKey(alertID string, at time.Time) string {
	return at.UTC().Format("2006/01/02") + "/" + alertID + SnapshotFileExtension
}

// URL returns where the snapshot stored under key will be served.
func (w *SnapshotWriter) URL(key string) string {
	return w.store.URL(key)
}

// SaveSnapshot renders and stores the snapshot synchronously.
func (w *SnapshotWriter) SaveSnapshot(ctx context.Context, alertID string, at time.Time, frame []byte, box models.BoundingBox) (string, error) {
	key := w.SnapshotKey(alertID, at)
	if err := w.Write(ctx, key, frame, box); err != nil {
		return "", err
	}
	return w.URL(key), nil
}

// Write renders the snapshot and saves it under key.
func (w *SnapshotWriter) Write(ctx context.Context, key string, frame []byte, box models.BoundingBox) error {
	data, err := w.Render(frame, box)
	if err != nil {
		return err
	}
	if _, err := w.store.Save(ctx, key, data, SnapshotContentType); err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}

// Render decodes frame and returns the JPEG encoded face crop. An empty box
// keeps the whole frame.
func (w *SnapshotWriter) Render(frame []byte, box models.BoundingBox) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(frame), imaging.AutoOrientation(false))
	if err != nil {
		return nil, fmt.Errorf("%w: snapshot frame: %w", models.ErrDecode, err)
	}

	region := PaddedCrop(img.Bounds(), box, w.opts.Padding)
	var out image.Image = img
	if !region.Empty() && region != img.Bounds() {
		out = imaging.Crop(img, region)
	}
	if w.opts.MaxSize > 0 {
		b := out.Bounds()
		if b.Dx() > w.opts.MaxSize || b.Dy() > w.opts.MaxSize {
			out = imaging.Fit(out, w.opts.MaxSize, w.opts.MaxSize, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(SnapshotJpegQuality)); err != nil {
		return nil, fmt.Errorf("snapshot encoding failed: %w", err)
	}
	return buf.Bytes(), nil
}

// PaddedCrop grows box by padding pixels on each side and clamps it to bounds.
func PaddedCrop(bounds image.Rectangle, box models.BoundingBox, padding int) image.Rectangle {
	if box.W <= 0 || box.H <= 0 {
		return bounds
	}
	r := image.Rect(box.X-padding, box.Y-padding, box.X+box.W+padding, box.Y+box.H+padding)
	return r.Intersect(bounds)
}
