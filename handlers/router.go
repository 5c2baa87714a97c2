package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const snapshotRoute = "/api/snapshots/"

// RouterConfig holds everything the HTTP API is served from.
type RouterConfig struct {
	Cameras    *CameraHandler
	Alerts     *AlertHandler
	Watchlist  *WatchlistHandler
	Engine     *EngineHandler
	Detections *DetectionHandler
	Updates    http.HandlerFunc // websocket endpoint

	SnapshotsDir   string // empty when snapshots are not stored locally
	AllowedOrigins []string
	APIKeyHash     string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsHandler.Handler)

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.With(APIKeyMiddleware(cfg.APIKeyHash)).Get("/ws/updates", cfg.Updates)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", cfg.Engine.Health)

		r.Group(func(r chi.Router) {
			r.Use(APIKeyMiddleware(cfg.APIKeyHash))

			// long lived, kept out of the request timeout
			r.Get("/cameras/{camera_id}/stream", cfg.Cameras.StreamCamera)
			r.Post("/detection-engine/reload", cfg.Engine.ReloadEncodings)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(timeout))

				r.Get("/cameras", cfg.Cameras.ListCameras)
				r.Post("/cameras", cfg.Cameras.CreateCamera)
				r.Post("/cameras/start-all", cfg.Cameras.StartAll)
				r.Post("/cameras/stop-all", cfg.Cameras.StopAll)
				r.Get("/cameras/{camera_id}", cfg.Cameras.GetCamera)
				r.Put("/cameras/{camera_id}", cfg.Cameras.UpdateCamera)
				r.Delete("/cameras/{camera_id}", cfg.Cameras.DeleteCamera)
				r.Post("/cameras/{camera_id}/start", cfg.Cameras.StartCamera)
				r.Post("/cameras/{camera_id}/stop", cfg.Cameras.StopCamera)
				r.Get("/cameras/{camera_id}/status", cfg.Cameras.CameraStatus)

				r.Get("/alerts", cfg.Alerts.ListAlerts)
				r.Get("/alerts/{alert_id}", cfg.Alerts.GetAlert)
				r.Post("/alerts/{alert_id}/acknowledge", cfg.Alerts.AcknowledgeAlert)

				r.Get("/watchlist", cfg.Watchlist.ListWatchlist)
				r.Post("/watchlist", cfg.Watchlist.UpsertWatchlistEntry)
				r.Get("/watchlist/{person_name}", cfg.Watchlist.GetWatchlistEntry)
				r.Put("/watchlist/{person_name}", cfg.Watchlist.UpsertWatchlistEntry)
				r.Delete("/watchlist/{person_name}", cfg.Watchlist.DeleteWatchlistEntry)

				r.Post("/detection-engine/start", cfg.Engine.StartEngine)
				r.Post("/detection-engine/stop", cfg.Engine.StopEngine)
				r.Get("/detection-engine/status", cfg.Engine.EngineStatus)

				r.Get("/statistics", cfg.Engine.Statistics)
				r.Get("/detections", cfg.Detections.ListDetections)
				r.Post("/detect-frame", cfg.Detections.DetectFrame)

				if cfg.SnapshotsDir != "" {
					r.Get("/snapshots/*", AssetServer(cfg.SnapshotsDir, snapshotRoute, cfg.Logger))
				}
			})
		})
	})

	return r
}
