package media

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Store saves media assets and returns the path clients use to fetch them.
type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) (string, error)
	URL(key string) string
}

// LocalStorage implements the Store interface using the local filesystem
type LocalStorage struct {
	basePath  string // absolute path to the MEDIA_STORAGE_PATH
	urlPrefix string // prefix of the returned paths, e.g. "/api/snapshots"
	logger    *zap.Logger
}

// NewLocalStorage creates a new local filesystem store
func NewLocalStorage(basePath, urlPrefix string, logger *zap.Logger) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}
	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}

	logger = logger.Named("store")
	logger.Info("local storage initialized", zap.String("path", absBasePath))
	return &LocalStorage{
		basePath:  absBasePath,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
		logger:    logger,
	}, nil
}

// BasePath returns the absolute storage root.
func (ls *LocalStorage) BasePath() string {
	return ls.basePath
}

// Save writes data under key. The file appears atomically.
func (ls *LocalStorage) Save(_ context.Context, key string, data []byte, _ string) (string, error) {
	fullSavePath, err := ls.GetFullPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullSavePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for '%s': %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullSavePath), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create destination file '%s': %w", fullSavePath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write data to '%s': %w", fullSavePath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write data to '%s': %w", fullSavePath, err)
	}
	if err := os.Rename(tmp.Name(), fullSavePath); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move asset into place '%s': %w", fullSavePath, err)
	}

	ls.logger.Debug("asset saved", zap.String("path", fullSavePath))
	return ls.URL(key), nil
}

// URL returns the served path of key.
func (ls *LocalStorage) URL(key string) string {
	return path.Join(ls.urlPrefix, path.Clean("/"+filepath.ToSlash(key)))
}

// Delete removes an asset file
func (ls *LocalStorage) Delete(relativePath string) error {
	fullPath, err := ls.GetFullPath(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete asset '%s': %w", relativePath, err)
	}
	return nil
}

// GetFullPath calculates the absolute path and performs security check
func (ls *LocalStorage) GetFullPath(relativePath string) (string, error) {
	absFullPath := filepath.Join(ls.basePath, filepath.Clean("/"+relativePath))
	if absFullPath != ls.basePath && !strings.HasPrefix(absFullPath, ls.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid path: access denied for '%s'", relativePath)
	}
	return absFullPath, nil
}
