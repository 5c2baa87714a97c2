package models

import (
	"encoding/binary"
	"math"
)

// FaceEncoding is one enrolled face encoding for a known person.
// It corresponds to the 'face_encodings' table.
type FaceEncoding struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	PersonName   string `gorm:"not null;index" json:"person_name"`
	Source       string `gorm:"column:source" json:"source"`                          // enrollment image the encoding came from
	EncodingData []byte `gorm:"not null;column:encoding_data" json:"-"`               // little-endian float32 vector
	Dimensions   int    `gorm:"not null;column:dimensions" json:"dimensions"`         // length of the vector
	EnrolledAt   int64  `gorm:"not null;index;column:enrolled_at" json:"enrolled_at"` // Unix timestamp, orders identities
	CreatedAt    int64  `gorm:"not null" json:"created_at"`
}

// TableName explicitly sets the table name for GORM.
func (FaceEncoding) TableName() string {
	return "face_encodings"
}

// GetEncoding converts the BLOB data to []float32
func (fe *FaceEncoding) GetEncoding() []float32 {
	if len(fe.EncodingData) < 4 {
		return nil
	}
	encoding := make([]float32, len(fe.EncodingData)/4)
	for i := range encoding {
		encoding[i] = math.Float32frombits(binary.LittleEndian.Uint32(fe.EncodingData[i*4:]))
	}
	return encoding
}

// SetEncoding converts []float32 to BLOB data
func (fe *FaceEncoding) SetEncoding(encoding []float32) {
	fe.Dimensions = len(encoding)
	if len(encoding) == 0 {
		fe.EncodingData = nil
		return
	}
	fe.EncodingData = make([]byte, len(encoding)*4)
	for i, val := range encoding {
		binary.LittleEndian.PutUint32(fe.EncodingData[i*4:], math.Float32bits(val))
	}
}
