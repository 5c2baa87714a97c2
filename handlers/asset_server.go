package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AssetServer creates a handler to serve static files from baseDir.
// it expects the request path to be routePrefix followed by the relative path
// within baseDir, e.g.
//
//	r.Get("/api/snapshots/*", AssetServer(cfg.SnapshotsPath, "/api/snapshots/", logger))
func AssetServer(baseDir, routePrefix string, logger *zap.Logger) http.HandlerFunc {
	fullAssetDirPath := filepath.Clean(baseDir)
	logger = logger.Named("assets")
	logger.Info("serving assets", zap.String("route", routePrefix+"*"), zap.String("dir", fullAssetDirPath))

	return func(w http.ResponseWriter, r *http.Request) {
		relativePath := strings.TrimPrefix(r.URL.Path, routePrefix)

		if relativePath == "" || relativePath == r.URL.Path || strings.Contains(relativePath, "..") {
			http.Error(w, "Invalid asset path", http.StatusBadRequest)
			return
		}

		cleanedAssetPath := filepath.Clean(filepath.Join(fullAssetDirPath, relativePath))
		if !strings.HasPrefix(cleanedAssetPath, fullAssetDirPath+string(filepath.Separator)) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			logger.Warn("asset access outside designated directory",
				zap.String("request", r.URL.Path), zap.String("resolved", cleanedAssetPath))
			return
		}

		info, err := os.Stat(cleanedAssetPath)
		if os.IsNotExist(err) || (err == nil && info.IsDir()) {
			http.NotFound(w, r)
			return
		} else if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			logger.Error("failed to stat asset", zap.String("path", cleanedAssetPath), zap.Error(err))
			return
		}

		// snapshots never change once written
		cacheDuration := 24 * time.Hour
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(cacheDuration.Seconds())))
		w.Header().Set("Expires", time.Now().Add(cacheDuration).Format(http.TimeFormat))

		http.ServeFile(w, r, cleanedAssetPath)
	}
}
