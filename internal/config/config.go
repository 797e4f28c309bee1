// internal/config/config.go
package config

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	R2              R2Config
	StableDiffusion StableDiffusionConfig
	Server          ServerConfig
	Cache           CacheConfig
	LogLevel        string
}

// R2Config holds the Cloudflare R2 (S3-compatible) connection settings.
type R2Config struct {
	Endpoint          string
	AccessKeyID       string
	SecretAccessKey   string
	Bucket            string
	PublicDomain      string
	Region            string
	UploadConcurrency int
}

type StableDiffusionConfig struct {
	BaseURL     string
	Concurrency int
	Timeout     time.Duration
}

type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int
	WriteTimeout   int
	AllowedOrigins []string
}

type CacheConfig struct {
	Enabled          bool
	RedisURL         string
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	RedisDB          int
	UploadTTLSeconds int
}

var (
	once     sync.Once
	instance *Config
)

// Load reads .env (if present) and the environment once and returns the shared Config.
func Load() *Config {
	once.Do(func() {
		// Load .env file if it exists
		_ = godotenv.Load()

		instance = FromViper(viper.GetViper())
	})

	return instance
}

// FromViper builds a Config from v after registering defaults and env binding on it.
func FromViper(v *viper.Viper) *Config {
	setDefaults(v)
	v.AutomaticEnv()

	return &Config{
		R2: R2Config{
			Endpoint:          v.GetString("CLOUDFLARE_R2_ENDPOINT"),
			AccessKeyID:       v.GetString("CLOUDFLARE_R2_ACCESS_KEY_ID"),
			SecretAccessKey:   v.GetString("CLOUDFLARE_R2_SECRET_ACCESS_KEY"),
			Bucket:            v.GetString("CLOUDFLARE_R2_BUCKET_NAME"),
			PublicDomain:      v.GetString("CLOUDFLARE_R2_PUBLIC_ACCESS_DOMAIN"),
			Region:            v.GetString("CLOUDFLARE_R2_REGION"),
			UploadConcurrency: v.GetInt("CLOUDFLARE_R2_UPLOAD_CONCURRENCY"),
		},
		StableDiffusion: StableDiffusionConfig{
			BaseURL:     strings.TrimRight(v.GetString("SD_BASE_URL"), "/"),
			Concurrency: v.GetInt("SD_CONCURRENCY"),
			Timeout:     time.Duration(v.GetInt("SD_TIMEOUT_SECONDS")) * time.Second,
		},
		Server: ServerConfig{
			Port:           v.GetString("SERVER_PORT"),
			Mode:           v.GetString("SERVER_MODE"),
			ReadTimeout:    v.GetInt("SERVER_READ_TIMEOUT"),
			WriteTimeout:   v.GetInt("SERVER_WRITE_TIMEOUT"),
			AllowedOrigins: v.GetStringSlice("SERVER_ALLOWED_ORIGINS"),
		},
		Cache: CacheConfig{
			Enabled:          v.GetBool("CACHE_ENABLED"),
			RedisURL:         v.GetString("REDIS_URL"),
			RedisHost:        v.GetString("REDIS_HOST"),
			RedisPort:        v.GetString("REDIS_PORT"),
			RedisPassword:    v.GetString("REDIS_PASSWORD"),
			RedisDB:          v.GetInt("REDIS_DB"),
			UploadTTLSeconds: v.GetInt("CACHE_UPLOAD_TTL_SECONDS"),
		},
		LogLevel: v.GetString("LOG_LEVEL"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("CLOUDFLARE_R2_REGION", "auto")
	v.SetDefault("CLOUDFLARE_R2_UPLOAD_CONCURRENCY", 8)
	v.SetDefault("SD_BASE_URL", "http://127.0.0.1:7860")
	v.SetDefault("SD_CONCURRENCY", 3)
	v.SetDefault("SD_TIMEOUT_SECONDS", 300)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_MODE", "debug")
	v.SetDefault("SERVER_READ_TIMEOUT", 60)
	v.SetDefault("SERVER_WRITE_TIMEOUT", 600)
	v.SetDefault("SERVER_ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("CACHE_ENABLED", false)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_HOST", "127.0.0.1")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_UPLOAD_TTL_SECONDS", 86400)
	v.SetDefault("LOG_LEVEL", "info")
}

// Validate reports every required R2 setting that is empty, by env var name.
func (c R2Config) Validate() error {
	var missing []string
	for name, value := range map[string]string{
		"CLOUDFLARE_R2_ENDPOINT":             c.Endpoint,
		"CLOUDFLARE_R2_ACCESS_KEY_ID":        c.AccessKeyID,
		"CLOUDFLARE_R2_SECRET_ACCESS_KEY":    c.SecretAccessKey,
		"CLOUDFLARE_R2_BUCKET_NAME":          c.Bucket,
		"CLOUDFLARE_R2_PUBLIC_ACCESS_DOMAIN": c.PublicDomain,
	} {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing R2 configuration: %s", strings.Join(missing, ", "))
}
