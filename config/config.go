package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ardylee-mml/adto3d/internal/domain/entity"
)

// Config настройки сервиса, собранные из переменных окружения
type Config struct {
	// HTTP
	ListenAddr      string
	PublicBaseURL   string // адрес, по которому облачный сервис скачивает загрузки
	AllowedOrigins  []string
	MaxUploadMB     int64
	RateLimitRPS    float64
	RateLimitBurst  int
	ShutdownTimeout time.Duration

	// Каталоги
	UploadDir string
	OutputDir string

	// Хранилище задач: memory или sqlite
	JobStore string
	DBPath   string

	// Конвейер
	DefaultMode       entity.ConversionMode
	Generator         string // native или blender
	MaxConcurrentJobs int64
	PollInterval      time.Duration
	PollTimeout       time.Duration
	DownloadRetries   uint
	OutfitConfigPath  string

	// Облачный сервис
	MasterpieceAPIKey  string
	MasterpieceBaseURL string

	// Blender
	BlenderPath    string
	BlenderTimeout time.Duration

	// Описатель (OpenAI-совместимый API)
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	DeepSeekModel   string

	// Telegram
	TelegramToken string

	// Логирование
	LogLevel  string
	LogFormat string
}

// Load читает .env.local и .env (если есть) и переменные окружения
func Load() (*Config, error) {
	// Загружаем .env файлы (игнорируем ошибку если файла нет)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	mode, err := entity.ParseConversionMode(getEnv("CONVERSION_MODE", ""), entity.ModeCloud)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:      getEnv("LISTEN_ADDR", ":3000"),
		PublicBaseURL:   strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "*")),
		MaxUploadMB:     int64(getEnvInt("MAX_UPLOAD_MB", 16)),
		RateLimitRPS:    getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 10),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		UploadDir: getEnv("UPLOAD_DIR", filepath.Join("temp", "uploads")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join("temp", "output")),

		JobStore: getEnv("JOB_STORE", "memory"),
		DBPath:   getEnv("DB_PATH", filepath.Join("temp", "jobs.db")),

		DefaultMode:       mode,
		Generator:         getEnv("GENERATOR", "native"),
		MaxConcurrentJobs: int64(getEnvInt("MAX_CONCURRENT_JOBS", 4)),
		PollInterval:      getEnvDuration("POLL_INTERVAL", 10*time.Second),
		PollTimeout:       getEnvDuration("POLL_TIMEOUT", 10*time.Minute),
		DownloadRetries:   uint(getEnvInt("DOWNLOAD_RETRIES", 3)),
		OutfitConfigPath:  os.Getenv("OUTFIT_CONFIG"),

		MasterpieceAPIKey:  os.Getenv("MPX_SDK_BEARER_TOKEN"),
		MasterpieceBaseURL: getEnv("MPX_BASE_URL", "https://api.genai.masterpiecex.com/v2"),

		BlenderPath:    os.Getenv("BLENDER_PATH"),
		BlenderTimeout: getEnvDuration("BLENDER_TIMEOUT", 5*time.Minute),

		DeepSeekAPIKey:  os.Getenv("DEEPSEEK_API_KEY"),
		DeepSeekBaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		DeepSeekModel:   getEnv("DEEPSEEK_MODEL", "deepseek-chat"),

		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	return cfg, nil
}

// Validate отклоняет невозможные значения
func (c *Config) Validate() error {
	var errs []error

	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be positive"))
	}
	if c.MaxConcurrentJobs <= 0 {
		errs = append(errs, errors.New("MAX_CONCURRENT_JOBS must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.PollTimeout < c.PollInterval {
		errs = append(errs, errors.New("POLL_TIMEOUT must not be shorter than POLL_INTERVAL"))
	}
	if c.DownloadRetries == 0 {
		errs = append(errs, errors.New("DOWNLOAD_RETRIES must be at least 1"))
	}
	switch c.JobStore {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("JOB_STORE must be memory or sqlite, got %q", c.JobStore))
	}
	switch c.Generator {
	case "native":
	case "blender":
		if c.BlenderPath == "" {
			errs = append(errs, errors.New("GENERATOR=blender requires BLENDER_PATH"))
		}
	default:
		errs = append(errs, fmt.Errorf("GENERATOR must be native or blender, got %q", c.Generator))
	}
	if c.DefaultMode == entity.ModeCloud && c.MasterpieceAPIKey == "" {
		errs = append(errs, errors.New("cloud mode requires MPX_SDK_BEARER_TOKEN"))
	}

	return errors.Join(errs...)
}

// MaxUploadBytes лимит размера запроса в байтах
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// NewLogger строит zap-логгер по уровню и формату из конфига
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		format = "json"
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Development:      format == "console",
		Encoding:         format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapConfig.Build()
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration принимает "10s" или число секунд
func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
