package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultSnapshotsSubDir = "alerts"
)

const (
	defaultPort               = "8080"
	defaultNumWorkers         = 4
	defaultFrameBusCapacity   = 2
	defaultStatsInterval      = 2 * time.Second
	defaultSubscriberQueue    = 32
	defaultSnapshotQueueSize  = 64
	defaultSnapshotMaxSize    = 640
	defaultWorkerIdleInterval = 50 * time.Millisecond
)

type Config struct {
	// http server
	Port               string
	CORSAllowedOrigins []string
	APIKeyHash         string // bcrypt hash, empty leaves the api open

	// logging
	LogLevel  string
	LogFormat string

	// database
	DatabaseDriver string
	DatabaseDSN    string

	// media storage configuration
	MediaStoragePath string // root for generated assets
	SnapshotsPath    string // full-calculated path for alert snapshots
	SnapshotsSubDir  string

	// face models
	FaceBackend              string
	FaceDetector             string
	FaceDNNNetConfigPath     string
	FaceDNNNetModelPath      string
	RetinaFaceModelPath      string
	FaceRecognitionModelPath string
	FaceRecognitionModelName string
	DlibModelsDir            string
	DetectionScale           float64
	DetectionConfidence      float64

	// recognition
	MatchThreshold    float64
	DuplicateDistance float64
	EnrollmentSource  string // directory or database
	KnownFacesDir     string
	EnrollmentPersist bool

	// detection workers
	NumDetectionWorkers int
	FrameBusCapacity    int
	EngineAutoStart     bool
	WorkerIdleInterval  time.Duration

	// cameras
	CameraReconnectDelay    time.Duration
	CameraMaxReconnectDelay time.Duration
	CameraFailureThreshold  int
	FPSWindow               time.Duration
	ProcessEveryNFrames     int
	MaxDecodeFailures       int
	CameraStartTimeout      time.Duration
	RestoreCameras          bool

	// alerts
	AlertCooldown      time.Duration
	AlertOnKnown       bool
	AlertOnUnknown     bool
	SaveAlertSnapshots bool
	SnapshotPadding    int
	SnapshotMaxSize    int
	SnapshotQueueSize  int

	// statistics
	StatsInterval       time.Duration
	SubscriberQueueSize int

	// redis cooldown, empty address keeps the cooldown in memory
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// mqtt bridge, empty host disables it
	MQTTHost        string
	MQTTPort        int
	MQTTUsername    string
	MQTTPassword    string
	MQTTClientID    string
	MQTTTopicPrefix string

	// minio snapshot storage, empty endpoint stores snapshots locally
	MinioEndpoint      string
	MinioAccessKey     string
	MinioSecretKey     string
	MinioBucket        string
	MinioUseSSL        bool
	MinioPublicBaseURL string

	// alert webhook, empty url disables it
	AlertWebhookURL     string
	AlertWebhookTimeout time.Duration
}

// values resolves keys from the process environment first, then from the
// optional config file.
type values struct {
	file map[string]string
}

func (v values) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return v.file[key]
}

func (v values) getEnvOrDefault(key, defaultValue string) string {
	value := v.lookup(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func (v values) getEnvIntOrDefault(envVar string, defaultVal int) int {
	valStr := v.lookup(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(strings.TrimSpace(valStr))
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %d. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func (v values) getEnvPositiveIntOrDefault(envVar string, defaultVal int) int {
	val := v.getEnvIntOrDefault(envVar, defaultVal)
	if val <= 0 {
		log.Printf("Warning: Invalid %s '%d'. Using default %d.", envVar, val, defaultVal)
		return defaultVal
	}
	return val
}

func (v values) getEnvFloatOrDefault(envVar string, defaultVal float64) float64 {
	valStr := v.lookup(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(valStr), 64)
	if err != nil || val < 0 {
		log.Printf("Warning: Invalid %s '%s'. Using default %g. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func (v values) getEnvBoolOrDefault(envVar string, defaultVal bool) bool {
	valStr := v.lookup(envVar)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(strings.TrimSpace(valStr))
	if err != nil {
		log.Printf("Warning: Invalid %s '%s'. Using default %t. Error: %v", envVar, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

// getEnvSecondsOrDefault reads a duration given in (possibly fractional) seconds.
func (v values) getEnvSecondsOrDefault(envVar string, defaultVal time.Duration) time.Duration {
	secs := v.getEnvFloatOrDefault(envVar, defaultVal.Seconds())
	return time.Duration(secs * float64(time.Second))
}

func (v values) getEnvMillisOrDefault(envVar string, defaultVal time.Duration) time.Duration {
	ms := v.getEnvPositiveIntOrDefault(envVar, int(defaultVal/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

func (v values) getEnvListOrDefault(envVar string, defaultVal []string) []string {
	valStr := v.lookup(envVar)
	if valStr == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// readConfigFile parses a flat TOML file of KEY = value pairs.
func readConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file '%s': %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		switch val := value.(type) {
		case []any:
			parts := make([]string, len(val))
			for i, p := range val {
				parts[i] = fmt.Sprint(p)
			}
			out[strings.ToUpper(key)] = strings.Join(parts, ",")
		case map[string]any:
			return nil, fmt.Errorf("config file '%s': key %s must be a plain value", path, key)
		default:
			out[strings.ToUpper(key)] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func LoadConfig() (Config, error) {
	v := values{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		v.file = file
	}

	mediaStorage := v.getEnvOrDefault("MEDIA_STORAGE_PATH", filepath.Join(".", "media_storage"))
	absMediaStorage, err := filepath.Abs(mediaStorage)
	if err != nil {
		return Config{}, fmt.Errorf("failed to get absolute path for media storage '%s': %w", mediaStorage, err)
	}
	snapshotsSubDir := v.getEnvOrDefault("SNAPSHOTS_SUBDIR", DefaultSnapshotsSubDir)

	cfg := Config{
		Port:               v.getEnvOrDefault("PORT", defaultPort),
		CORSAllowedOrigins: v.getEnvListOrDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		APIKeyHash:         v.getEnvOrDefault("API_KEY_HASH", ""),

		LogLevel:  v.getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: v.getEnvOrDefault("LOG_FORMAT", "json"),

		DatabaseDriver: v.getEnvOrDefault("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    v.getEnvOrDefault("DATABASE_DSN", "facesentry.db"),

		MediaStoragePath: absMediaStorage,
		SnapshotsSubDir:  snapshotsSubDir,
		SnapshotsPath:    filepath.Join(absMediaStorage, snapshotsSubDir),

		FaceBackend:              v.getEnvOrDefault("FACE_BACKEND", "dnn"),
		FaceDetector:             v.getEnvOrDefault("FACE_DETECTOR", "ssd"),
		FaceDNNNetConfigPath:     v.getEnvOrDefault("FACE_DNN_CONFIG_PATH", "./models/deploy.prototxt.txt"),
		FaceDNNNetModelPath:      v.getEnvOrDefault("FACE_DNN_MODEL_PATH", "./models/res10_300x300_ssd_iter_140000_fp16.caffemodel"),
		RetinaFaceModelPath:      v.getEnvOrDefault("RETINAFACE_MODEL_PATH", "./models/retinaface.onnx"),
		FaceRecognitionModelPath: v.getEnvOrDefault("FACE_RECOGNITION_MODEL_PATH", "./models/arcface.onnx"),
		FaceRecognitionModelName: v.getEnvOrDefault("FACE_RECOGNITION_MODEL_NAME", "arcface"),
		DlibModelsDir:            v.getEnvOrDefault("DLIB_MODELS_DIR", "./models/dlib"),
		DetectionScale:           v.getEnvFloatOrDefault("DETECTION_SCALE", 0.5),
		DetectionConfidence:      v.getEnvFloatOrDefault("DETECTION_CONFIDENCE", 0.5),

		MatchThreshold:    v.getEnvFloatOrDefault("MATCH_THRESHOLD", 0.5),
		DuplicateDistance: v.getEnvFloatOrDefault("DUPLICATE_DISTANCE", 0.45),
		EnrollmentSource:  v.getEnvOrDefault("ENROLLMENT_SOURCE", "directory"),
		KnownFacesDir:     v.getEnvOrDefault("KNOWN_FACES_DIR", "./known_faces"),
		EnrollmentPersist: v.getEnvBoolOrDefault("ENROLLMENT_PERSIST", true),

		// non-positive values are kept so the pool and registry reject them
		NumDetectionWorkers: v.getEnvIntOrDefault("NUM_DETECTION_WORKERS", defaultNumWorkers),
		FrameBusCapacity:    v.getEnvIntOrDefault("FRAME_BUS_CAPACITY", defaultFrameBusCapacity),
		EngineAutoStart:     v.getEnvBoolOrDefault("ENGINE_AUTO_START", true),
		WorkerIdleInterval:  v.getEnvMillisOrDefault("WORKER_IDLE_INTERVAL_MS", defaultWorkerIdleInterval),

		CameraReconnectDelay:    v.getEnvSecondsOrDefault("CAMERA_RECONNECT_DELAY_SECONDS", 5*time.Second),
		CameraMaxReconnectDelay: v.getEnvSecondsOrDefault("CAMERA_MAX_RECONNECT_DELAY_SECONDS", 60*time.Second),
		CameraFailureThreshold:  v.getEnvPositiveIntOrDefault("CAMERA_FAILURE_THRESHOLD", 5),
		FPSWindow:               v.getEnvSecondsOrDefault("FPS_WINDOW_SECONDS", 5*time.Second),
		ProcessEveryNFrames:     v.getEnvPositiveIntOrDefault("PROCESS_EVERY_N_FRAMES", 1),
		MaxDecodeFailures:       v.getEnvPositiveIntOrDefault("MAX_DECODE_FAILURES", 10),
		CameraStartTimeout:      v.getEnvSecondsOrDefault("CAMERA_START_TIMEOUT_SECONDS", 10*time.Second),
		RestoreCameras:          v.getEnvBoolOrDefault("RESTORE_CAMERAS", true),

		AlertCooldown:      v.getEnvSecondsOrDefault("ALERT_COOLDOWN_SECONDS", 30*time.Second),
		AlertOnKnown:       v.getEnvBoolOrDefault("ALERT_ON_KNOWN", false),
		AlertOnUnknown:     v.getEnvBoolOrDefault("ALERT_ON_UNKNOWN", false),
		SaveAlertSnapshots: v.getEnvBoolOrDefault("SAVE_ALERT_SNAPSHOTS", true),
		SnapshotPadding:    v.getEnvIntOrDefault("SNAPSHOT_PADDING", 20),
		SnapshotMaxSize:    v.getEnvIntOrDefault("SNAPSHOT_MAX_SIZE", defaultSnapshotMaxSize),
		SnapshotQueueSize:  v.getEnvPositiveIntOrDefault("SNAPSHOT_QUEUE_SIZE", defaultSnapshotQueueSize),

		StatsInterval:       v.getEnvSecondsOrDefault("STATS_INTERVAL_SECONDS", defaultStatsInterval),
		SubscriberQueueSize: v.getEnvPositiveIntOrDefault("SUBSCRIBER_QUEUE_SIZE", defaultSubscriberQueue),

		RedisAddr:     v.getEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword: v.getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       v.getEnvIntOrDefault("REDIS_DB", 0),

		MQTTHost:        v.getEnvOrDefault("MQTT_HOST", ""),
		MQTTPort:        v.getEnvPositiveIntOrDefault("MQTT_PORT", 1883),
		MQTTUsername:    v.getEnvOrDefault("MQTT_USERNAME", ""),
		MQTTPassword:    v.getEnvOrDefault("MQTT_PASSWORD", ""),
		MQTTClientID:    v.getEnvOrDefault("MQTT_CLIENT_ID", "facesentry"),
		MQTTTopicPrefix: v.getEnvOrDefault("MQTT_TOPIC_PREFIX", "facesentry"),

		MinioEndpoint:      v.getEnvOrDefault("MINIO_ENDPOINT", ""),
		MinioAccessKey:     v.getEnvOrDefault("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:     v.getEnvOrDefault("MINIO_SECRET_KEY", ""),
		MinioBucket:        v.getEnvOrDefault("MINIO_BUCKET", "facesentry-alerts"),
		MinioUseSSL:        v.getEnvBoolOrDefault("MINIO_USE_SSL", false),
		MinioPublicBaseURL: v.getEnvOrDefault("MINIO_PUBLIC_BASE_URL", ""),

		AlertWebhookURL:     v.getEnvOrDefault("ALERT_WEBHOOK_URL", ""),
		AlertWebhookTimeout: v.getEnvSecondsOrDefault("ALERT_WEBHOOK_TIMEOUT_SECONDS", 5*time.Second),
	}

	if cfg.CameraMaxReconnectDelay < cfg.CameraReconnectDelay {
		log.Printf("Warning: CAMERA_MAX_RECONNECT_DELAY_SECONDS is below CAMERA_RECONNECT_DELAY_SECONDS, using %s", cfg.CameraReconnectDelay)
		cfg.CameraMaxReconnectDelay = cfg.CameraReconnectDelay
	}

	return cfg, nil
}
