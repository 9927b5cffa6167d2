package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type VideoConfig struct {
	Path string
}

type EvidenceConfig struct {
	Dir        string
	PublicPath string
}

type DetectorConfig struct {
	ModelPath      string
	InputSize      int
	ScoreThreshold float64
	NMSThreshold   float64
}

type OCRConfig struct {
	Languages   []string
	PageSegMode int
	MinHeight   int
}

type EngineConfig struct {
	PoolSize int
}

type SearchConfig struct {
	FrameStride          int
	VehicleClassID       int
	VehicleMinConfidence float64
	TokenMinConfidence   float64
	MinTokenLength       int
	DefaultThreshold     float64
	Timeout              time.Duration
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Video       VideoConfig
	Evidence    EvidenceConfig
	Detector    DetectorConfig
	OCR         OCRConfig
	Engine      EngineConfig
	Search      SearchConfig
}

// HistoryEnabled reports whether searches are persisted.
func (c *Config) HistoryEnabled() bool {
	return c.DB.DSN != ""
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")

	v.AutomaticEnv()
	setDefaults(v)

	_ = v.ReadInConfig()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 5000)

	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")

	v.SetDefault("VIDEO_PATH", "video.mp4")
	v.SetDefault("EVIDENCE_DIR", "prints_placa")
	v.SetDefault("EVIDENCE_PUBLIC_PATH", "/evidence")

	v.SetDefault("DETECTOR_MODEL_PATH", "yolov8n.onnx")
	v.SetDefault("DETECTOR_INPUT_SIZE", 640)
	v.SetDefault("DETECTOR_SCORE_THRESHOLD", 0.25)
	v.SetDefault("DETECTOR_NMS_THRESHOLD", 0.45)

	v.SetDefault("OCR_LANGUAGES", "eng,por")
	v.SetDefault("OCR_PAGE_SEG_MODE", 11)
	v.SetDefault("OCR_MIN_HEIGHT", 300)

	v.SetDefault("ENGINE_POOL_SIZE", 1)

	v.SetDefault("SEARCH_FRAME_STRIDE", 15)
	v.SetDefault("SEARCH_VEHICLE_CLASS_ID", 3)
	v.SetDefault("SEARCH_VEHICLE_MIN_CONFIDENCE", 0.5)
	v.SetDefault("SEARCH_TOKEN_MIN_CONFIDENCE", 0.3)
	v.SetDefault("SEARCH_MIN_TOKEN_LENGTH", 2)
	v.SetDefault("SEARCH_DEFAULT_THRESHOLD", 0.8)
	v.SetDefault("SEARCH_TIMEOUT", "0s")
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Video: VideoConfig{
			Path: v.GetString("VIDEO_PATH"),
		},
		Evidence: EvidenceConfig{
			Dir:        v.GetString("EVIDENCE_DIR"),
			PublicPath: strings.TrimRight(v.GetString("EVIDENCE_PUBLIC_PATH"), "/"),
		},
		Detector: DetectorConfig{
			ModelPath:      v.GetString("DETECTOR_MODEL_PATH"),
			InputSize:      v.GetInt("DETECTOR_INPUT_SIZE"),
			ScoreThreshold: v.GetFloat64("DETECTOR_SCORE_THRESHOLD"),
			NMSThreshold:   v.GetFloat64("DETECTOR_NMS_THRESHOLD"),
		},
		OCR: OCRConfig{
			Languages:   splitList(v.GetString("OCR_LANGUAGES")),
			PageSegMode: v.GetInt("OCR_PAGE_SEG_MODE"),
			MinHeight:   v.GetInt("OCR_MIN_HEIGHT"),
		},
		Engine: EngineConfig{
			PoolSize: v.GetInt("ENGINE_POOL_SIZE"),
		},
		Search: SearchConfig{
			FrameStride:          v.GetInt("SEARCH_FRAME_STRIDE"),
			VehicleClassID:       v.GetInt("SEARCH_VEHICLE_CLASS_ID"),
			VehicleMinConfidence: v.GetFloat64("SEARCH_VEHICLE_MIN_CONFIDENCE"),
			TokenMinConfidence:   v.GetFloat64("SEARCH_TOKEN_MIN_CONFIDENCE"),
			MinTokenLength:       v.GetInt("SEARCH_MIN_TOKEN_LENGTH"),
			DefaultThreshold:     v.GetFloat64("SEARCH_DEFAULT_THRESHOLD"),
			Timeout:              v.GetDuration("SEARCH_TIMEOUT"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if cfg.HistoryEnabled() && cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required when DB_DSN is set")
	}
	if cfg.Evidence.Dir == "" {
		return fmt.Errorf("EVIDENCE_DIR is required")
	}
	if cfg.Detector.ModelPath == "" {
		return fmt.Errorf("DETECTOR_MODEL_PATH is required")
	}
	if cfg.Engine.PoolSize < 1 {
		return fmt.Errorf("ENGINE_POOL_SIZE must be at least 1")
	}
	if cfg.Search.FrameStride < 1 {
		return fmt.Errorf("SEARCH_FRAME_STRIDE must be at least 1")
	}
	if cfg.Search.DefaultThreshold < 0 || cfg.Search.DefaultThreshold > 1 {
		return fmt.Errorf("SEARCH_DEFAULT_THRESHOLD must be between 0 and 1")
	}
	if cfg.Search.Timeout < 0 {
		return fmt.Errorf("SEARCH_TIMEOUT cannot be negative")
	}
	return nil
}
