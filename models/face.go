package models

import "image"

// BoundingBox is a face region in frame pixel coordinates.
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Area returns the box area in pixels.
func (b BoundingBox) Area() int {
	return b.W * b.H
}

// Face is one face found in a frame together with its encoding.
type Face struct {
	Box      BoundingBox `json:"box"`
	Score    float32     `json:"score"`
	Encoding []float32   `json:"-"`
}

// Match is the result of resolving an encoding against the known identities.
type Match struct {
	PersonName string  `json:"person_name"`
	Known      bool    `json:"known"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
}
