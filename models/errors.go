package models

import "errors"

// Error kinds shared by the pipeline. Wrap them with fmt.Errorf("...: %w", Err...)
// and test with errors.Is.
var (
	ErrConnection    = errors.New("connection failure")
	ErrDecode        = errors.New("decode failure")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrReload        = errors.New("reload failure")
	ErrStartFailure  = errors.New("start failure")
	ErrInvalidConfig = errors.New("invalid configuration")
)
