package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// ConfigFileEnv names the optional YAML file loaded before environment overrides.
const ConfigFileEnv = "NOTE2TEX_CONFIG"

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Inference InferenceConfig `yaml:"inference"`
	Render    RenderConfig    `yaml:"render"`
	Worker    WorkerConfig    `yaml:"worker"`
	Quota     QuotaConfig     `yaml:"quota"`
	Layout    LayoutConfig    `yaml:"layout"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // postgres | sqlite
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	AutoMigrate      bool          `yaml:"auto_migrate"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr  string `yaml:"grpc_addr"`
	LogFormat string `yaml:"log_format"` // text | json
	LogLevel  string `yaml:"log_level"`
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Backend            string        `yaml:"backend"` // local | gcs
	FilesDir           string        `yaml:"files_dir"`
	FilesBaseURL       string        `yaml:"files_base_url"`
	GCSBucket          string        `yaml:"gcs_bucket"`
	GCSEndpoint        string        `yaml:"gcs_endpoint"`
	GCSCredentialsFile string        `yaml:"gcs_credentials_file"`
	SignedURLTTL       time.Duration `yaml:"signed_url_ttl"`
	UploadRetries      int           `yaml:"upload_retries"`
}

// InferenceConfig holds detector and recognizer settings
type InferenceConfig struct {
	BaseURL              string        `yaml:"base_url"`
	APIKey               string        `yaml:"api_key"`
	Timeout              time.Duration `yaml:"timeout"`
	DetConf              float32       `yaml:"det_conf"`
	DetIOU               float32       `yaml:"det_iou"`
	DetImgSize           int           `yaml:"det_imgsz"`
	DetPad               float32       `yaml:"det_pad"`
	TextMinConf          float32       `yaml:"text_min_conf"`
	Beams                int           `yaml:"beams"`
	MaxNewTokens         int           `yaml:"max_new_tokens"`
	LengthPenalty        float32       `yaml:"length_penalty"`
	BinStrength          float32       `yaml:"bin_strength"`
	ErodeKernel          int           `yaml:"erode_kernel"`
	TextBackend          string        `yaml:"text_backend"` // http | tesseract
	TesseractLanguages   string        `yaml:"tesseract_languages"`
	MaxRegionSide        int           `yaml:"max_region_side"`
	RecognizeConcurrency int           `yaml:"recognize_concurrency"`
}

// RenderConfig holds compiler and converter settings
type RenderConfig struct {
	PDFLatex       string        `yaml:"pdflatex"`
	Pandoc         string        `yaml:"pandoc"`
	CompileTimeout time.Duration `yaml:"compile_timeout"`
	ConvertTimeout time.Duration `yaml:"convert_timeout"`
	WorkDir        string        `yaml:"work_dir"`
	Language       string        `yaml:"language"`
}

// WorkerConfig sizes the job queue
type WorkerConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// QuotaConfig holds free-plan limits
type QuotaConfig struct {
	FreePagesPerMonth int `yaml:"free_pages_per_month"`
	FreeMaxProjects   int `yaml:"free_max_projects"`
}

// LayoutConfig holds line clustering constants
type LayoutConfig struct {
	MinTolerance     float64 `yaml:"min_tolerance"`
	ToleranceFactor  float64 `yaml:"tolerance_factor"`
	SpreadRatio      float64 `yaml:"spread_ratio"`
	SpreadInflation  float64 `yaml:"spread_inflation"`
	OverlapThreshold float64 `yaml:"overlap_threshold"`
	OverlapWeight    float64 `yaml:"overlap_weight"`
}

// InboxConfig enables the watched intake directory
type InboxConfig struct {
	Dir      string        `yaml:"dir"`
	UserID   string        `yaml:"user_id"`
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
			AutoMigrate:     true,
		},
		Server: ServerConfig{
			GRPCAddr:  ":8080",
			LogFormat: "text",
			LogLevel:  "info",
		},
		Storage: StorageConfig{
			Backend:       "local",
			FilesDir:      "storage",
			FilesBaseURL:  "http://localhost:8000/files",
			SignedURLTTL:  15 * time.Minute,
			UploadRetries: 3,
		},
		Inference: InferenceConfig{
			BaseURL:              "http://localhost:9000",
			Timeout:              60 * time.Second,
			DetConf:              0.25,
			DetIOU:               0.5,
			DetImgSize:           1280,
			DetPad:               0.001,
			TextMinConf:          0.5,
			Beams:                4,
			MaxNewTokens:         224,
			LengthPenalty:        1.1,
			BinStrength:          0.75,
			ErodeKernel:          3,
			TextBackend:          "http",
			TesseractLanguages:   "eng",
			MaxRegionSide:        1600,
			RecognizeConcurrency: 4,
		},
		Render: RenderConfig{
			PDFLatex:       "pdflatex",
			Pandoc:         "pandoc",
			CompileTimeout: 240 * time.Second,
			ConvertTimeout: 60 * time.Second,
			WorkDir:        "temp",
			Language:       "english",
		},
		Worker: WorkerConfig{
			Workers:       4,
			QueueSize:     256,
			JobTimeout:    10 * time.Minute,
			ShutdownGrace: 30 * time.Second,
		},
		Quota: QuotaConfig{
			FreePagesPerMonth: 10,
			FreeMaxProjects:   10,
		},
		Layout: LayoutConfig{
			MinTolerance:     10,
			ToleranceFactor:  0.6,
			SpreadRatio:      0.8,
			SpreadInflation:  1.25,
			OverlapThreshold: 0.5,
			OverlapWeight:    0.5,
		},
		Inbox: InboxConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// LoadConfig loads defaults, then the optional YAML file, then environment variables
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewAppError(CodeConfig, fmt.Sprintf("read %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewAppError(CodeConfig, fmt.Sprintf("parse %s", path), err)
	}
	return nil
}

func (c *Config) applyEnv() {
	db := &c.Database
	db.Driver = getEnv("DB_DRIVER", db.Driver)
	db.DSN = getEnv("DB_URL", db.DSN)
	db.MaxConns = getEnvAsInt32("DB_MAX_CONNS", db.MaxConns)
	db.MinConns = getEnvAsInt32("DB_MIN_CONNS", db.MinConns)
	db.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", db.MaxConnLifetime)
	db.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", db.MaxConnIdleTime)
	db.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", db.DialTimeout)
	db.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", db.StatementTimeout)
	db.AutoMigrate = getEnvAsBool("DB_AUTO_MIGRATE", db.AutoMigrate)

	srv := &c.Server
	srv.GRPCAddr = getEnv("GRPC_ADDR", srv.GRPCAddr)
	srv.LogFormat = getEnv("LOG_FORMAT", srv.LogFormat)
	srv.LogLevel = getEnv("LOG_LEVEL", srv.LogLevel)

	st := &c.Storage
	st.Backend = getEnv("STORAGE_BACKEND", st.Backend)
	st.FilesDir = getEnv("FILES_DIR", st.FilesDir)
	st.FilesBaseURL = getEnv("FILES_BASE_URL", st.FilesBaseURL)
	st.GCSBucket = getEnv("GCS_BUCKET", st.GCSBucket)
	st.GCSEndpoint = getEnv("GCS_ENDPOINT", st.GCSEndpoint)
	st.GCSCredentialsFile = getEnv("GCS_CREDENTIALS_FILE", st.GCSCredentialsFile)
	st.SignedURLTTL = getEnvAsDuration("SIGNED_URL_TTL", st.SignedURLTTL)
	st.UploadRetries = getEnvAsInt("UPLOAD_RETRIES", st.UploadRetries)

	inf := &c.Inference
	inf.BaseURL = getEnv("INFERENCE_URL", inf.BaseURL)
	inf.APIKey = getEnv("INFERENCE_API_KEY", inf.APIKey)
	inf.Timeout = getEnvAsDuration("INFERENCE_TIMEOUT", inf.Timeout)
	inf.DetConf = getEnvAsFloat32("DET_CONF", inf.DetConf)
	inf.DetIOU = getEnvAsFloat32("DET_IOU", inf.DetIOU)
	inf.DetImgSize = getEnvAsInt("DET_IMGSZ", inf.DetImgSize)
	inf.DetPad = getEnvAsFloat32("DET_PAD", inf.DetPad)
	inf.TextMinConf = getEnvAsFloat32("DET_TEXT_MIN_CONF", inf.TextMinConf)
	inf.Beams = getEnvAsInt("BEAMS", inf.Beams)
	inf.MaxNewTokens = getEnvAsInt("MAX_NEW_TOKENS", inf.MaxNewTokens)
	inf.LengthPenalty = getEnvAsFloat32("LENGTH_PENALTY", inf.LengthPenalty)
	inf.BinStrength = getEnvAsFloat32("BIN_STRENGTH", inf.BinStrength)
	inf.ErodeKernel = getEnvAsInt("ERODE_KERNEL", inf.ErodeKernel)
	inf.TextBackend = getEnv("TEXT_BACKEND", inf.TextBackend)
	inf.TesseractLanguages = getEnv("TESSERACT_LANGUAGES", inf.TesseractLanguages)
	inf.MaxRegionSide = getEnvAsInt("MAX_REGION_SIDE", inf.MaxRegionSide)
	inf.RecognizeConcurrency = getEnvAsInt("RECOGNIZE_CONCURRENCY", inf.RecognizeConcurrency)

	r := &c.Render
	r.PDFLatex = getEnv("PDFLATEX", r.PDFLatex)
	r.Pandoc = getEnv("PANDOC", r.Pandoc)
	r.CompileTimeout = getEnvAsDuration("RENDER_COMPILE_TIMEOUT", r.CompileTimeout)
	r.ConvertTimeout = getEnvAsDuration("RENDER_CONVERT_TIMEOUT", r.ConvertTimeout)
	r.WorkDir = getEnv("TEMP_DIR", r.WorkDir)
	r.Language = getEnv("LATEX_LANGUAGE", r.Language)

	w := &c.Worker
	w.Workers = getEnvAsInt("WORKERS", w.Workers)
	w.QueueSize = getEnvAsInt("QUEUE_SIZE", w.QueueSize)
	w.JobTimeout = getEnvAsDuration("JOB_TIMEOUT", w.JobTimeout)
	w.ShutdownGrace = getEnvAsDuration("SHUTDOWN_GRACE", w.ShutdownGrace)

	q := &c.Quota
	q.FreePagesPerMonth = getEnvAsInt("FREE_PAGES_PER_MONTH", q.FreePagesPerMonth)
	q.FreeMaxProjects = getEnvAsInt("FREE_MAX_PROJECTS", q.FreeMaxProjects)

	l := &c.Layout
	l.MinTolerance = getEnvAsFloat64("LAYOUT_MIN_TOLERANCE", l.MinTolerance)
	l.ToleranceFactor = getEnvAsFloat64("LAYOUT_TOLERANCE_FACTOR", l.ToleranceFactor)
	l.SpreadRatio = getEnvAsFloat64("LAYOUT_SPREAD_RATIO", l.SpreadRatio)
	l.SpreadInflation = getEnvAsFloat64("LAYOUT_SPREAD_INFLATION", l.SpreadInflation)
	l.OverlapThreshold = getEnvAsFloat64("LAYOUT_OVERLAP_THRESHOLD", l.OverlapThreshold)
	l.OverlapWeight = getEnvAsFloat64("LAYOUT_OVERLAP_WEIGHT", l.OverlapWeight)

	in := &c.Inbox
	in.Dir = getEnv("INBOX_DIR", in.Dir)
	in.UserID = getEnv("INBOX_USER_ID", in.UserID)
	in.Debounce = getEnvAsDuration("INBOX_DEBOUNCE", in.Debounce)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError(CodeConfig, "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError(CodeConfig, "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError(CodeConfig, "GRPC_ADDR is required", ErrInvalidInput)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.FilesDir == "" {
			return NewAppError(CodeConfig, "FILES_DIR is required for local storage", ErrInvalidInput)
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return NewAppError(CodeConfig, "GCS_BUCKET is required for gcs storage", ErrInvalidInput)
		}
	default:
		return NewAppError(CodeConfig, "STORAGE_BACKEND must be local or gcs", ErrInvalidInput)
	}
	switch c.Inference.TextBackend {
	case "http", "tesseract":
	default:
		return NewAppError(CodeConfig, "TEXT_BACKEND must be http or tesseract", ErrInvalidInput)
	}
	if c.Render.CompileTimeout <= 0 {
		return NewAppError(CodeConfig, "RENDER_COMPILE_TIMEOUT must be positive", ErrInvalidInput)
	}
	if c.Worker.Workers <= 0 {
		return NewAppError(CodeConfig, "WORKERS must be positive", ErrInvalidInput)
	}
	if c.Quota.FreePagesPerMonth < 0 || c.Quota.FreeMaxProjects < 0 {
		return NewAppError(CodeConfig, "quota limits must not be negative", ErrInvalidInput)
	}
	return nil
}
