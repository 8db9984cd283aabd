package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	OpenAI    OpenAIConfig
	Image     ImageConfig
	R2        R2Config
	Gateway   GatewayConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type RateLimitConfig struct {
	GeneratePerHour int
	StatusPerMin    int
}

// OpenAIConfig covers every chat-completion call site: planning, page content,
// the safety gate, the validator and the vision critics. The endpoint is
// OpenAI-compatible, so BaseURL may point at any conforming provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
}

// ImageConfig covers the image-generation provider.
type ImageConfig struct {
	Model   string
	Quality string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type GatewayConfig struct {
	Enabled bool
}

// PipelineConfig bounds the generation pipeline's retry and degradation
// behavior.
type PipelineConfig struct {
	PageRetryLimit         int           // per-page regeneration attempts
	IllustratorAttempts    int           // image call attempts per illustration
	IllustratorBaseDelay   time.Duration // exponential backoff base
	MaxReferenceCharacters int           // reference portraits per story
	JobMaxAttempts         int           // whole-job attempts (1 run + retries)
	JobRetryDelay          time.Duration // fixed delay between whole-job retries
	JobSoftTimeout         time.Duration // logged warning
	JobHardTimeout         time.Duration // task killed
	SignedURLExpiry        time.Duration
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("OPENAI_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("JWT_SECRET")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	_ = viper.BindEnv("openai.model", "OPENAI_MODEL")
	_ = viper.BindEnv("openai.vision_model", "OPENAI_VISION_MODEL")
	_ = viper.BindEnv("image.model", "IMAGE_MODEL")
	_ = viper.BindEnv("image.quality", "IMAGE_QUALITY")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = viper.BindEnv("pipeline.page_retry_limit", "PIPELINE_PAGE_RETRY_LIMIT")
	_ = viper.BindEnv("pipeline.illustrator_attempts", "PIPELINE_ILLUSTRATOR_ATTEMPTS")
	_ = viper.BindEnv("pipeline.illustrator_base_delay", "PIPELINE_ILLUSTRATOR_BASE_DELAY")
	_ = viper.BindEnv("pipeline.max_reference_characters", "PIPELINE_MAX_REFERENCE_CHARACTERS")
	_ = viper.BindEnv("pipeline.job_max_attempts", "PIPELINE_JOB_MAX_ATTEMPTS")
	_ = viper.BindEnv("pipeline.job_retry_delay", "PIPELINE_JOB_RETRY_DELAY")
	_ = viper.BindEnv("pipeline.job_soft_timeout", "PIPELINE_JOB_SOFT_TIMEOUT")
	_ = viper.BindEnv("pipeline.job_hard_timeout", "PIPELINE_JOB_HARD_TIMEOUT")
	_ = viper.BindEnv("pipeline.signed_url_expiry", "PIPELINE_SIGNED_URL_EXPIRY")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("ratelimit.generate_per_hour", 10)
	viper.SetDefault("ratelimit.status_per_min", 120)

	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-4o")
	viper.SetDefault("openai.vision_model", "gpt-4o")
	viper.SetDefault("image.model", "dall-e-3")
	viper.SetDefault("image.quality", "standard")

	viper.SetDefault("gateway.enabled", false)

	viper.SetDefault("pipeline.page_retry_limit", 3)
	viper.SetDefault("pipeline.illustrator_attempts", 3)
	viper.SetDefault("pipeline.illustrator_base_delay", "2s")
	viper.SetDefault("pipeline.max_reference_characters", 3)
	viper.SetDefault("pipeline.job_max_attempts", 3)
	viper.SetDefault("pipeline.job_retry_delay", "30s")
	viper.SetDefault("pipeline.job_soft_timeout", "10m")
	viper.SetDefault("pipeline.job_hard_timeout", "20m")
	viper.SetDefault("pipeline.signed_url_expiry", "24h")

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: viper.GetString("jwt.secret"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
			StatusPerMin:    viper.GetInt("ratelimit.status_per_min"),
		},
		OpenAI: OpenAIConfig{
			APIKey:      viper.GetString("openai.api_key"),
			BaseURL:     viper.GetString("openai.base_url"),
			Model:       viper.GetString("openai.model"),
			VisionModel: viper.GetString("openai.vision_model"),
		},
		Image: ImageConfig{
			Model:   viper.GetString("image.model"),
			Quality: viper.GetString("image.quality"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
		Pipeline: PipelineConfig{
			PageRetryLimit:         viper.GetInt("pipeline.page_retry_limit"),
			IllustratorAttempts:    viper.GetInt("pipeline.illustrator_attempts"),
			IllustratorBaseDelay:   viper.GetDuration("pipeline.illustrator_base_delay"),
			MaxReferenceCharacters: viper.GetInt("pipeline.max_reference_characters"),
			JobMaxAttempts:         viper.GetInt("pipeline.job_max_attempts"),
			JobRetryDelay:          viper.GetDuration("pipeline.job_retry_delay"),
			JobSoftTimeout:         viper.GetDuration("pipeline.job_soft_timeout"),
			JobHardTimeout:         viper.GetDuration("pipeline.job_hard_timeout"),
			SignedURLExpiry:        viper.GetDuration("pipeline.signed_url_expiry"),
		},
	}

	return cfg, nil
}
