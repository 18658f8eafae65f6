// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Job        Job
	Dir        Dir
	Workspace  Workspace
	Auth       Auth
	Store      Store
	RateLimit  RateLimit
	DepManager DepManager
	Proxy      Proxy
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"VIDGRAB_APP_LOG_LEVEL" envDefault:"info"`
	// MockBackends replaces every extraction backend with a fixture writer.
	MockBackends bool `env:"VIDGRAB_APP_MOCK_BACKENDS" envDefault:"false"`
}

// Job holds download worker pool configuration.
type Job struct {
	Workers   int           `env:"VIDGRAB_JOB_WORKERS"    envDefault:"4"`
	QueueSize int           `env:"VIDGRAB_JOB_QUEUE_SIZE" envDefault:"16"`
	Timeout   time.Duration `env:"VIDGRAB_JOB_TIMEOUT"    envDefault:"10m"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port              string        `env:"VIDGRAB_HTTP_PORT"                envDefault:":8000"`
	HandlerTimeout    time.Duration `env:"VIDGRAB_HTTP_HANDLER_TIMEOUT"     envDefault:"20s"`
	ReadHeaderTimeout time.Duration `env:"VIDGRAB_HTTP_READ_HEADER_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout   time.Duration `env:"VIDGRAB_HTTP_SHUTDOWN_TIMEOUT"    envDefault:"10s"`
	MaxBodyBytes      int64         `env:"VIDGRAB_HTTP_MAX_BODY_BYTES"      envDefault:"1048576"`
	CORSOrigins       []string      `env:"VIDGRAB_HTTP_CORS_ORIGINS"        envDefault:"*"       envSeparator:","`
}

// Dir holds the yt-dlp cache directory and cookie file.
type Dir struct {
	Cache string `env:"VIDGRAB_DIR_CACHE" envDefault:"./data/cache"` // yt-dlp cache (meta, sigs)

	// netscape cookies.txt passed to yt-dlp
	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"VIDGRAB_DIR_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Cache, err = filepath.Abs(c.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// Workspace holds per-request workspace configuration.
type Workspace struct {
	// Root is the parent of every ws-* directory. Empty means <tmp>/vidgrab.
	Root string `env:"VIDGRAB_WORKSPACE_ROOT" envDefault:""`
	// MaxAge is the age after which an inactive workspace is swept.
	MaxAge        time.Duration `env:"VIDGRAB_WORKSPACE_MAX_AGE"        envDefault:"2h"`
	SweepInterval time.Duration `env:"VIDGRAB_WORKSPACE_SWEEP_INTERVAL" envDefault:"15m"`
}

// SetAbsPaths resolves Root, defaulting it under the system temp dir.
func (w *Workspace) SetAbsPaths() error {
	if w.Root == "" {
		w.Root = filepath.Join(os.TempDir(), "vidgrab")
	}

	var err error
	if w.Root, err = filepath.Abs(w.Root); err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}

	return nil
}

// Auth holds token and password settings.
type Auth struct {
	// Secret signs HS256 tokens. Empty generates a random per-process secret.
	Secret     string        `env:"VIDGRAB_AUTH_SECRET"      envDefault:""`
	TokenTTL   time.Duration `env:"VIDGRAB_AUTH_TOKEN_TTL"   envDefault:"30m"`
	Issuer     string        `env:"VIDGRAB_AUTH_ISSUER"      envDefault:"vidgrab"`
	BcryptCost int           `env:"VIDGRAB_AUTH_BCRYPT_COST" envDefault:"10"`

	// seed user created at startup, empty username disables it
	SeedUsername string `env:"VIDGRAB_AUTH_SEED_USERNAME" envDefault:"testuser"`
	SeedPassword string `env:"VIDGRAB_AUTH_SEED_PASSWORD" envDefault:"secret"`
}

// Store holds user store configuration.
type Store struct {
	// RedisAddr selects the redis store, empty keeps users in memory.
	RedisAddr     string `env:"VIDGRAB_STORE_REDIS_ADDR"     envDefault:""`
	RedisPassword string `env:"VIDGRAB_STORE_REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"VIDGRAB_STORE_REDIS_DB"       envDefault:"0"`
	KeyPrefix     string `env:"VIDGRAB_STORE_KEY_PREFIX"     envDefault:"vidgrab"`
}

// RateLimit holds per-client limits on the download route.
type RateLimit struct {
	// RPM is requests per minute per client, 0 disables limiting.
	RPM     int           `env:"VIDGRAB_RATE_LIMIT_RPM"      envDefault:"10"`
	Burst   int           `env:"VIDGRAB_RATE_LIMIT_BURST"    envDefault:"5"`
	IdleTTL time.Duration `env:"VIDGRAB_RATE_LIMIT_IDLE_TTL" envDefault:"10m"`
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.Workspace.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set workspace paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the directory where binaries are stored
	BinsDir string `env:"VIDGRAB_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries skips downloads and resolves yt-dlp and ffmpeg from PATH.
	UseSystemBinaries bool `env:"VIDGRAB_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"false"`
	// UpdateInterval is how often to check for binary updates
	UpdateInterval time.Duration `env:"VIDGRAB_DEPMANAGER_UPDATE_INTERVAL" envDefault:"24h"`

	// ffmpeg archives (ffmpeg and ffprobe inside) per platform.
	FFmpegSHA256SumsURL string `env:"VIDGRAB_DEPMANAGER_FFMPEG_SHA256SUMS_URL" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/checksums.sha256"`                        //nolint:lll
	FFmpegLinuxARM64    string `env:"VIDGRAB_DEPMANAGER_FFMPEG_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64    string `env:"VIDGRAB_DEPMANAGER_FFMPEG_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll

	// yt-dlp binary URLs per platform.
	YTdlpSHA256SumsURL string `env:"VIDGRAB_DEPMANAGER_YTDLP_SHA256SUMS_URL" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/SHA2-256SUMS"`      //nolint:lll
	YTdlpLinuxARM64    string `env:"VIDGRAB_DEPMANAGER_YTDLP_LINUX_ARM64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64"` //nolint:lll
	YTdlpLinuxAMD64    string `env:"VIDGRAB_DEPMANAGER_YTDLP_LINUX_AMD64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"`         //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Proxy holds proxy configuration for both extraction backends.
type Proxy struct {
	// List is a comma-separated list of proxy URLs (http, https, socks5, socks5h)
	List string `env:"VIDGRAB_PROXY_LIST" envDefault:""`
	// HealthCheckInterval is how often to check proxy health
	HealthCheckInterval time.Duration `env:"VIDGRAB_PROXY_HEALTH_CHECK_INTERVAL" envDefault:"5m"`
	// FailureBackoff is the initial backoff duration for failed proxies
	FailureBackoff time.Duration `env:"VIDGRAB_PROXY_FAILURE_BACKOFF" envDefault:"1m"`
	// MaxFailures is the maximum number of failures before a proxy is temporarily removed
	MaxFailures int `env:"VIDGRAB_PROXY_MAX_FAILURES" envDefault:"3"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

func (p *Proxy) parseList() {
	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}
