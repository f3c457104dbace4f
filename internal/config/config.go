package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// EngineKind selects the render engine implementation.
type EngineKind string

const (
	// EngineBundle evaluates the server bundle in-process.
	EngineBundle EngineKind = "bundle"
	// EngineRemote streams from a sidecar renderer over HTTP.
	EngineRemote EngineKind = "remote"
)

const (
	devTemplatePath  = "index.html"
	prodTemplatePath = "dist/client/index.html"
)

type Config struct {
	//===============
	//  Mode
	//===============
	// Production serves the built template, compiles the bundle once,
	// serves static assets and turns on the page cache.
	production bool

	//===============
	//  HTTP
	//===============
	// Port to listen on
	port int
	// Base path the app is mounted under; always starts and ends with "/"
	base string
	// Grace period for in-flight requests on shutdown
	shutdownTimeout time.Duration

	//===============
	//  Page cache
	//===============
	// Maximum number of cached documents held in memory
	cacheMaxEntries int
	// How long a cached document stays valid
	cacheMaxAge time.Duration
	// Redis address; empty keeps the cache in process memory
	redisAddr     string
	redisPassword string
	redisDB       int
	// Prefix for every Redis key written by the page cache
	redisPrefix string

	//===============
	//  Render
	//===============
	// Maximum wait for the render shell before answering 503
	renderTimeout time.Duration
	// HTML template containing the <!--app-html--> marker.
	// Empty picks the mode default.
	templatePath string
	// Client build output served as static files in production
	clientDir string
	// Server bundle exposing a global render(url, tenant)
	serverBundle string
	engine       EngineKind
	// Sidecar endpoint, required for the remote engine
	rendererURL string
	// Script sources injected into <head> in development
	devScripts []string

	//===============
	//  Startup retry
	//===============
	// maximum attempt when connecting to Redis at startup
	maxAttempt int
	// initial delay for backoff
	backoffInitialDuration time.Duration
	// multiplier during exponential backoff
	backoffMultiplier float64
	// capped maximum delay for backoff to stop exponential multiplication
	backoffMaxDuration time.Duration
	// Randomized variation added on top of each backoff delay
	jitter time.Duration
	// Controls the random number generator
	randomSeed int64

	//===============
	//  Logging
	//===============
	logLevel  string
	logFormat string
}

type configDTO struct {
	Production             bool          `json:"production,omitempty"`
	Port                   int           `json:"port,omitempty"`
	Base                   string        `json:"base,omitempty"`
	ShutdownTimeout        time.Duration `json:"shutdownTimeout,omitempty"`
	CacheMaxEntries        int           `json:"cacheMaxEntries,omitempty"`
	CacheMaxAge            time.Duration `json:"cacheMaxAge,omitempty"`
	RedisAddr              string        `json:"redisAddr,omitempty"`
	RedisPassword          string        `json:"redisPassword,omitempty"`
	RedisDB                int           `json:"redisDb,omitempty"`
	RedisPrefix            string        `json:"redisPrefix,omitempty"`
	RenderTimeout          time.Duration `json:"renderTimeout,omitempty"`
	TemplatePath           string        `json:"templatePath,omitempty"`
	ClientDir              string        `json:"clientDir,omitempty"`
	ServerBundle           string        `json:"serverBundle,omitempty"`
	Engine                 EngineKind    `json:"engine,omitempty"`
	RendererURL            string        `json:"rendererUrl,omitempty"`
	DevScripts             []string      `json:"devScripts,omitempty"`
	MaxAttempt             int           `json:"maxAttempt,omitempty"`
	BackoffInitialDuration time.Duration `json:"backoffInitialDuration,omitempty"`
	BackoffMultiplier      float64       `json:"backoffMultiplier,omitempty"`
	BackoffMaxDuration     time.Duration `json:"backoffMaxDuration,omitempty"`
	Jitter                 time.Duration `json:"jitter,omitempty"`
	RandomSeed             int64         `json:"randomSeed,omitempty"`
	LogLevel               string        `json:"logLevel,omitempty"`
	LogFormat              string        `json:"logFormat,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg := WithDefault()

	// Production is a boolean; the DTO value is used as-is
	cfg.production = dto.Production

	// For other fields, only override if non-zero value is provided
	if dto.Port != 0 {
		cfg.port = dto.Port
	}
	if dto.Base != "" {
		cfg.base = dto.Base
	}
	if dto.ShutdownTimeout != 0 {
		cfg.shutdownTimeout = dto.ShutdownTimeout
	}
	if dto.CacheMaxEntries != 0 {
		cfg.cacheMaxEntries = dto.CacheMaxEntries
	}
	if dto.CacheMaxAge != 0 {
		cfg.cacheMaxAge = dto.CacheMaxAge
	}
	if dto.RedisAddr != "" {
		cfg.redisAddr = dto.RedisAddr
	}
	if dto.RedisPassword != "" {
		cfg.redisPassword = dto.RedisPassword
	}
	if dto.RedisDB != 0 {
		cfg.redisDB = dto.RedisDB
	}
	if dto.RedisPrefix != "" {
		cfg.redisPrefix = dto.RedisPrefix
	}
	if dto.RenderTimeout != 0 {
		cfg.renderTimeout = dto.RenderTimeout
	}
	if dto.TemplatePath != "" {
		cfg.templatePath = dto.TemplatePath
	}
	if dto.ClientDir != "" {
		cfg.clientDir = dto.ClientDir
	}
	if dto.ServerBundle != "" {
		cfg.serverBundle = dto.ServerBundle
	}
	if dto.Engine != "" {
		cfg.engine = dto.Engine
	}
	if dto.RendererURL != "" {
		cfg.rendererURL = dto.RendererURL
	}
	if len(dto.DevScripts) > 0 {
		cfg.devScripts = dto.DevScripts
	}
	if dto.MaxAttempt != 0 {
		cfg.maxAttempt = dto.MaxAttempt
	}
	if dto.BackoffInitialDuration != 0 {
		cfg.backoffInitialDuration = dto.BackoffInitialDuration
	}
	if dto.BackoffMultiplier != 0 {
		cfg.backoffMultiplier = dto.BackoffMultiplier
	}
	if dto.BackoffMaxDuration != 0 {
		cfg.backoffMaxDuration = dto.BackoffMaxDuration
	}
	if dto.Jitter != 0 {
		cfg.jitter = dto.Jitter
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}
	if dto.LogLevel != "" {
		cfg.logLevel = dto.LogLevel
	}
	if dto.LogFormat != "" {
		cfg.logFormat = dto.LogFormat
	}

	return cfg.Build()
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	err = json.Unmarshal(configContent, &cfgDTO)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	cfg, err := newConfigFromDTO(cfgDTO)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WithDefault creates a new Config with default values for every field.
func WithDefault() *Config {
	defaultConfig := Config{
		production:             false,
		port:                   5173,
		base:                   "/",
		shutdownTimeout:        30 * time.Second,
		cacheMaxEntries:        1000,
		cacheMaxAge:            15 * time.Minute,
		redisPrefix:            "ssr:",
		renderTimeout:          10 * time.Second,
		clientDir:              "dist/client",
		serverBundle:           "dist/server/entry-server.js",
		engine:                 EngineBundle,
		maxAttempt:             5,
		backoffInitialDuration: 100 * time.Millisecond,
		backoffMultiplier:      2.0,
		backoffMaxDuration:     5 * time.Second,
		jitter:                 100 * time.Millisecond,
		randomSeed:             time.Now().UnixNano(),
		logLevel:               "info",
		logFormat:              "json",
	}
	return &defaultConfig
}

func (c *Config) WithProduction(production bool) *Config {
	c.production = production
	return c
}

func (c *Config) WithPort(port int) *Config {
	c.port = port
	return c
}

func (c *Config) WithBase(base string) *Config {
	c.base = base
	return c
}

func (c *Config) WithShutdownTimeout(timeout time.Duration) *Config {
	c.shutdownTimeout = timeout
	return c
}

func (c *Config) WithCacheMaxEntries(entries int) *Config {
	c.cacheMaxEntries = entries
	return c
}

func (c *Config) WithCacheMaxAge(age time.Duration) *Config {
	c.cacheMaxAge = age
	return c
}

func (c *Config) WithRedis(addr string, password string, db int) *Config {
	c.redisAddr = addr
	c.redisPassword = password
	c.redisDB = db
	return c
}

func (c *Config) WithRedisPrefix(prefix string) *Config {
	c.redisPrefix = prefix
	return c
}

func (c *Config) WithRenderTimeout(timeout time.Duration) *Config {
	c.renderTimeout = timeout
	return c
}

func (c *Config) WithTemplatePath(path string) *Config {
	c.templatePath = path
	return c
}

func (c *Config) WithClientDir(dir string) *Config {
	c.clientDir = dir
	return c
}

func (c *Config) WithServerBundle(path string) *Config {
	c.serverBundle = path
	return c
}

func (c *Config) WithEngine(engine EngineKind) *Config {
	c.engine = engine
	return c
}

func (c *Config) WithRendererURL(rendererURL string) *Config {
	c.rendererURL = rendererURL
	return c
}

func (c *Config) WithDevScripts(scripts []string) *Config {
	c.devScripts = scripts
	return c
}

func (c *Config) WithMaxAttempt(attempts int) *Config {
	c.maxAttempt = attempts
	return c
}

func (c *Config) WithBackoffInitialDuration(duration time.Duration) *Config {
	c.backoffInitialDuration = duration
	return c
}

func (c *Config) WithBackoffMultiplier(multiplier float64) *Config {
	c.backoffMultiplier = multiplier
	return c
}

func (c *Config) WithBackoffMaxDuration(duration time.Duration) *Config {
	c.backoffMaxDuration = duration
	return c
}

func (c *Config) WithJitter(jitter time.Duration) *Config {
	c.jitter = jitter
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) WithLogLevel(level string) *Config {
	c.logLevel = level
	return c
}

func (c *Config) WithLogFormat(format string) *Config {
	c.logFormat = format
	return c
}

func (c *Config) Build() (Config, error) {
	if c.port < 1 || c.port > 65535 {
		return Config{}, fmt.Errorf("%w: port must be within 1..65535, got %d", ErrInvalidConfig, c.port)
	}
	if !strings.HasPrefix(c.base, "/") || !strings.HasSuffix(c.base, "/") {
		return Config{}, fmt.Errorf("%w: base must start and end with '/', got %q", ErrInvalidConfig, c.base)
	}
	if c.cacheMaxEntries <= 0 {
		return Config{}, fmt.Errorf("%w: cacheMaxEntries must be positive", ErrInvalidConfig)
	}
	if c.cacheMaxAge <= 0 {
		return Config{}, fmt.Errorf("%w: cacheMaxAge must be positive", ErrInvalidConfig)
	}
	if c.renderTimeout <= 0 {
		return Config{}, fmt.Errorf("%w: renderTimeout must be positive", ErrInvalidConfig)
	}
	if c.maxAttempt <= 0 {
		return Config{}, fmt.Errorf("%w: maxAttempt must be positive", ErrInvalidConfig)
	}

	switch c.engine {
	case EngineBundle:
	case EngineRemote:
		if c.rendererURL == "" {
			return Config{}, fmt.Errorf("%w: rendererUrl is required for the %s engine", ErrInvalidConfig, EngineRemote)
		}
		if _, err := url.ParseRequestURI(c.rendererURL); err != nil {
			return Config{}, fmt.Errorf("%w: rendererUrl: %s", ErrInvalidConfig, err.Error())
		}
	default:
		return Config{}, fmt.Errorf("%w: unknown engine %q", ErrInvalidConfig, c.engine)
	}

	switch c.logFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("%w: logFormat must be json or console, got %q", ErrInvalidConfig, c.logFormat)
	}

	// Empty template path follows the mode
	if c.templatePath == "" {
		if c.production {
			c.templatePath = prodTemplatePath
		} else {
			c.templatePath = devTemplatePath
		}
	}

	return *c, nil
}

func (c Config) Production() bool {
	return c.production
}

func (c Config) Port() int {
	return c.port
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.port)
}

func (c Config) Base() string {
	return c.base
}

func (c Config) ShutdownTimeout() time.Duration {
	return c.shutdownTimeout
}

func (c Config) CacheMaxEntries() int {
	return c.cacheMaxEntries
}

func (c Config) CacheMaxAge() time.Duration {
	return c.cacheMaxAge
}

func (c Config) RedisAddr() string {
	return c.redisAddr
}

func (c Config) RedisPassword() string {
	return c.redisPassword
}

func (c Config) RedisDB() int {
	return c.redisDB
}

func (c Config) RedisPrefix() string {
	return c.redisPrefix
}

func (c Config) RenderTimeout() time.Duration {
	return c.renderTimeout
}

func (c Config) TemplatePath() string {
	return c.templatePath
}

func (c Config) ClientDir() string {
	return c.clientDir
}

func (c Config) ServerBundle() string {
	return c.serverBundle
}

func (c Config) Engine() EngineKind {
	return c.engine
}

func (c Config) RendererURL() string {
	return c.rendererURL
}

func (c Config) DevScripts() []string {
	scripts := make([]string, len(c.devScripts))
	copy(scripts, c.devScripts)
	return scripts
}

func (c Config) MaxAttempt() int {
	return c.maxAttempt
}

func (c Config) BackoffInitialDuration() time.Duration {
	return c.backoffInitialDuration
}

func (c Config) BackoffMultiplier() float64 {
	return c.backoffMultiplier
}

func (c Config) BackoffMaxDuration() time.Duration {
	return c.backoffMaxDuration
}

func (c Config) Jitter() time.Duration {
	return c.jitter
}

func (c Config) RandomSeed() int64 {
	return c.randomSeed
}

func (c Config) LogLevel() string {
	return c.logLevel
}

func (c Config) LogFormat() string {
	return c.logFormat
}
