package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/camden-git/facesentry/alerts"
	"github.com/camden-git/facesentry/cameras"
	"github.com/camden-git/facesentry/config"
	"github.com/camden-git/facesentry/database"
	"github.com/camden-git/facesentry/handlers"
	"github.com/camden-git/facesentry/media"
	"github.com/camden-git/facesentry/realtime"
	"github.com/camden-git/facesentry/recognition"
	"github.com/camden-git/facesentry/repository"
	"github.com/camden-git/facesentry/services"
	"github.com/camden-git/facesentry/utils"
	"github.com/camden-git/facesentry/workers"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Info: No .env file found or error loading: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	logger, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat, "facesentry")
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.MediaStoragePath, 0755); err != nil {
		logger.Fatal("failed to create media storage directory", zap.String("path", cfg.MediaStoragePath), zap.Error(err))
	}
	if cfg.DatabaseDriver == "sqlite" && !strings.HasPrefix(cfg.DatabaseDSN, "file:") {
		if err := os.MkdirAll(filepath.Dir(cfg.DatabaseDSN), 0755); err != nil {
			logger.Fatal("failed to create database directory", zap.Error(err))
		}
	}

	db, err := database.InitGormDB(cfg.DatabaseDriver, cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	if err := database.AutoMigrateModels(db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("failed to access database handle", zap.Error(err))
	}
	defer sqlDB.Close()

	cameraRepo := repository.NewCameraRepository(db)
	detectionRepo := repository.NewDetectionRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	watchlistRepo := repository.NewWatchlistRepository(db)
	encodingRepo := repository.NewFaceEncodingRepository(db)

	hub := realtime.NewHub(realtime.HubConfig{Interval: cfg.StatsInterval, QueueSize: cfg.SubscriberQueueSize}, logger)
	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	counts, err := database.NewCounters(sqlDB, cfg.DatabaseDriver).Load(context.Background(), today)
	if err != nil {
		logger.Warn("failed to load statistics counters", zap.Error(err))
	} else {
		hub.Seed(counts)
	}

	var cooldown alerts.Cooldown
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, cooldown checks fail open until it recovers", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cancel()
		cooldown = alerts.NewRedisCooldown(rdb, "")
		logger.Info("using redis alert cooldown", zap.String("addr", cfg.RedisAddr))
	}

	// snapshots stay a nil interface when disabled
	var (
		snapshots     alerts.SnapshotSaver
		snapshotQueue *workers.SnapshotQueue
		snapshotsDir  string
	)
	if cfg.SaveAlertSnapshots {
		var store media.Store
		if cfg.MinioEndpoint != "" {
			store, err = media.NewMinioStore(media.MinioConfig{
				Endpoint:      cfg.MinioEndpoint,
				AccessKey:     cfg.MinioAccessKey,
				SecretKey:     cfg.MinioSecretKey,
				Bucket:        cfg.MinioBucket,
				UseSSL:        cfg.MinioUseSSL,
				PublicBaseURL: cfg.MinioPublicBaseURL,
			}, logger)
		} else {
			store, err = media.NewLocalStorage(cfg.SnapshotsPath, "/api/snapshots", logger)
			snapshotsDir = cfg.SnapshotsPath
		}
		if err != nil {
			logger.Fatal("failed to initialize snapshot storage", zap.Error(err))
		}
		writer := media.NewSnapshotWriter(store, media.SnapshotOptions{Padding: cfg.SnapshotPadding, MaxSize: cfg.SnapshotMaxSize})
		snapshotQueue = workers.NewSnapshotQueue(writer, cfg.SnapshotQueueSize, 1, logger)
		snapshots = snapshotQueue
	}

	analyzerCfg := media.AnalyzerConfig{
		Backend:             cfg.FaceBackend,
		Detector:            cfg.FaceDetector,
		DNNConfigPath:       cfg.FaceDNNNetConfigPath,
		DNNModelPath:        cfg.FaceDNNNetModelPath,
		RetinaFaceModelPath: cfg.RetinaFaceModelPath,
		RecognitionModel:    cfg.FaceRecognitionModelPath,
		RecognitionName:     cfg.FaceRecognitionModelName,
		DlibModelsDir:       cfg.DlibModelsDir,
		DetectionScale:      cfg.DetectionScale,
		DetectionConfidence: float32(cfg.DetectionConfidence),
	}
	newAnalyzer := func(workerID int) (workers.Analyzer, error) {
		a, err := media.NewAnalyzer(analyzerCfg, logger.With(zap.Int("worker", workerID)))
		if err != nil {
			return nil, err
		}
		return a, nil
	}

	var enroller recognition.Enroller
	switch cfg.EnrollmentSource {
	case "database":
		enroller = &recognition.RepositoryEnroller{Repo: encodingRepo}
	default:
		encoder, err := media.NewAnalyzer(analyzerCfg, logger.Named("enrollment"))
		if err != nil {
			logger.Fatal("failed to load enrollment models", zap.Error(err))
		}
		defer encoder.Close()
		dir := &recognition.DirectoryEnroller{
			Dir:               cfg.KnownFacesDir,
			Encoder:           encoder,
			DuplicateDistance: cfg.DuplicateDistance,
			Logger:            logger,
		}
		if cfg.EnrollmentPersist {
			dir.Repo = encodingRepo
		}
		enroller = dir
	}

	live := services.NewLiveView()
	pipeline, err := services.NewPipeline(services.PipelineConfig{
		Registry: cameras.RegistryConfig{
			Source: cameras.SourceConfig{
				Backoff:           cameras.BackoffPolicy{Initial: cfg.CameraReconnectDelay, Max: cfg.CameraMaxReconnectDelay},
				FailureThreshold:  cfg.CameraFailureThreshold,
				MaxDecodeFailures: cfg.MaxDecodeFailures,
				FPSWindow:         cfg.FPSWindow,
				ProcessEveryN:     cfg.ProcessEveryNFrames,
			},
			BusCapacity:  cfg.FrameBusCapacity,
			StartTimeout: cfg.CameraStartTimeout,
		},
		Pool: workers.PoolConfig{
			NumWorkers:   cfg.NumDetectionWorkers,
			IdleInterval: cfg.WorkerIdleInterval,
			AutoStart:    cfg.EngineAutoStart,
		},
		Alerts: alerts.Config{
			Cooldown:       cfg.AlertCooldown,
			AlertOnKnown:   cfg.AlertOnKnown,
			AlertOnUnknown: cfg.AlertOnUnknown,
			SaveSnapshots:  cfg.SaveAlertSnapshots,
		},
		MatchThreshold: cfg.MatchThreshold,
		RestoreCameras: cfg.RestoreCameras,
	}, services.PipelineDeps{
		Cameras:     cameraRepo,
		Detections:  detectionRepo,
		Alerts:      alertRepo,
		Watchlist:   watchlistRepo,
		Open:        media.OpenVideoStream,
		NewAnalyzer: newAnalyzer,
		Enroller:    enroller,
		Cooldown:    cooldown,
		Snapshots:   snapshots,
		Hub:         hub,
		Live:        live,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build pipeline", zap.Error(err))
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	if err := pipeline.Init(context.Background()); err != nil {
		logger.Fatal("failed to initialize pipeline", zap.Error(err))
	}

	var mqttClient *realtime.MQTTClient
	if cfg.MQTTHost != "" {
		mqttClient, err = realtime.NewMQTTClient(realtime.MQTTConfig{
			Host:     cfg.MQTTHost,
			Port:     cfg.MQTTPort,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			ClientID: cfg.MQTTClientID,
		})
		if err != nil {
			logger.Error("mqtt disabled, failed to connect", zap.String("host", cfg.MQTTHost), zap.Error(err))
		} else {
			go realtime.NewMQTTBridge(mqttClient, cfg.MQTTTopicPrefix, logger).Run(hubCtx, hub)
		}
	}
	if cfg.AlertWebhookURL != "" {
		go realtime.NewWebhookNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookTimeout, logger).Run(hubCtx, hub)
	}

	recognizer := services.NewFaceRecognitionService(newAnalyzer, pipeline.Encodings, pipeline.Encodings, logger)
	defer recognizer.Close()

	router := handlers.NewRouter(handlers.RouterConfig{
		Cameras:    &handlers.CameraHandler{Cameras: pipeline.Cameras(), Live: live, Logger: logger},
		Alerts:     &handlers.AlertHandler{Alerts: pipeline.Alerts, Logger: logger},
		Watchlist:  &handlers.WatchlistHandler{Watchlist: pipeline.Encodings, Logger: logger},
		Engine:     &handlers.EngineHandler{Engine: pipeline, Stats: hub, Logger: logger},
		Detections: &handlers.DetectionHandler{Detections: detectionRepo, Recognizer: recognizer, Logger: logger},
		Updates:    hub.ServeWS,

		SnapshotsDir:   snapshotsDir,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		APIKeyHash:     cfg.APIKeyHash,
		Logger:         logger,
	})
	if cfg.APIKeyHash == "" {
		logger.Warn("API_KEY_HASH is not set, the api is open")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streams and websockets stay open
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	pipeline.Shutdown()
	if snapshotQueue != nil {
		snapshotQueue.Stop()
	}
	stopHub()
	if mqttClient != nil {
		mqttClient.Close()
	}
	logger.Info("shutdown complete")
}
