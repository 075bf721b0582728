package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerSettings is the `server` section of the thumbnail cache config file.
type ServerSettings struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	WorkerHealthCheckPort int    `yaml:"worker_health_check_port"`
	Reload                bool   `yaml:"reload"`
}

// ThumbnailStorageSettings is the `thumbnail_storage` section.
type ThumbnailStorageSettings struct {
	Path                     string  `yaml:"path"`
	MaxSize                  int64   `yaml:"max_size"`
	CleanupMultiplier        float64 `yaml:"cleanup_multiplier"`
	RedisOffsetAllowed       int     `yaml:"redis_offset_allowed"`
	MaxBeforeAsyncGeneration int     `yaml:"max_before_async_generation"`
	MaxQueueSize             int     `yaml:"max_queue_size"`
}

// TargetSize is MAX_SIZE * CLEANUP_MULTIPLIER, spec.md §4.D.
func (t ThumbnailStorageSettings) TargetSize() int64 {
	return int64(float64(t.MaxSize) * t.CleanupMultiplier)
}

// RedisSettings is the `redis` section.
type RedisSettings struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// YTAuthSettings is the `yt_auth` section.
type YTAuthSettings struct {
	VisitorData string `yaml:"visitorData"`
}

// ThumbnailConfig is the full contents of the single configuration file
// enumerated in spec.md §6: exactly these keys, nothing more.
type ThumbnailConfig struct {
	Server                 ServerSettings           `yaml:"server"`
	ThumbnailStorage       ThumbnailStorageSettings `yaml:"thumbnail_storage"`
	Redis                  RedisSettings            `yaml:"redis"`
	DefaultMaxHeight       int                      `yaml:"default_max_height"`
	StatusAuthPassword     string                   `yaml:"status_auth_password"`
	FrontAuth              *string                  `yaml:"front_auth"`
	FloatieAuth            string                   `yaml:"floatie_auth"`
	YTAuth                 YTAuthSettings           `yaml:"yt_auth"`
	TryFloatie             bool                     `yaml:"try_floatie"`
	TryFloatieForLive      bool                     `yaml:"try_floatie_for_live"`
	TryYtdlp               bool                     `yaml:"try_ytdlp"`
	SkipLocalFfmpeg        bool                     `yaml:"skip_local_ffmpeg"`
	ProxyURL               *string                  `yaml:"proxy_url"`
	ProxyURLs              []string                 `yaml:"proxy_urls"`
	ProxyToken             *string                  `yaml:"proxy_token"`
	MaxConcurrentRenders   int                      `yaml:"max_concurrent_renders"`
	MaxConcurrentYtdlp     int                      `yaml:"max_concurrent_ytdlp"`
	Debug                  bool                     `yaml:"debug"`
}

// Load reads and parses a ThumbnailConfig from path.
func Load(path string) (*ThumbnailConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %s: %w", path, err)
	}
	defer f.Close()

	var cfg ThumbnailConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, nil
}
