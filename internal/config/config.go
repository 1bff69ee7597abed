package config

import (
	"encoding/base64"
	"fmt"
	"slices"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultHeartbeatInterval = 30 * time.Second
	DefaultCacheTTL          = 5 * time.Minute
	DefaultExecuteURL        = "https://emkc.org/api/v2/piston"
	DefaultRateLimit         = 100
	DefaultRateBurst         = 200
)

// Options are the raw values collected from the command line.
type Options struct {
	ServerAddr        string
	DatabaseDriver    string
	DatabaseDSN       string
	SigningKey        string
	AllowedOrigins    []string
	RedisAddr         string
	CacheTTL          time.Duration
	ExecuteURL        string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	RateLimit         float64
	RateBurst         int
}

type Config struct {
	ServerAddr        string
	DatabaseDriver    string
	DatabaseDSN       string
	SigningKey        []byte
	AllowedOrigins    []string
	RedisAddr         string
	CacheTTL          time.Duration
	ExecuteURL        string
	HeartbeatInterval time.Duration
	// HeartbeatTimeout closes connections that have not answered a
	// heartbeat for this long. Zero disables eviction.
	HeartbeatTimeout time.Duration
	RateLimit        float64
	RateBurst        int
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(opts Options) (*Config, error) {
	if opts.ServerAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if !slices.Contains([]string{DriverPostgres, DriverSQLite}, opts.DatabaseDriver) {
		return nil, fmt.Errorf("unsupported database driver %q", opts.DatabaseDriver)
	}
	if opts.DatabaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if opts.SigningKey == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	if opts.HeartbeatTimeout < 0 {
		return nil, fmt.Errorf("heartbeat timeout cannot be negative")
	}

	signingKey, err := decodeSigningSecret(opts.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	cfg := &Config{
		ServerAddr:        opts.ServerAddr,
		DatabaseDriver:    opts.DatabaseDriver,
		DatabaseDSN:       opts.DatabaseDSN,
		SigningKey:        signingKey,
		AllowedOrigins:    opts.AllowedOrigins,
		RedisAddr:         opts.RedisAddr,
		CacheTTL:          opts.CacheTTL,
		ExecuteURL:        opts.ExecuteURL,
		HeartbeatInterval: opts.HeartbeatInterval,
		HeartbeatTimeout:  opts.HeartbeatTimeout,
		RateLimit:         opts.RateLimit,
		RateBurst:         opts.RateBurst,
	}

	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.ExecuteURL == "" {
		cfg.ExecuteURL = DefaultExecuteURL
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}

	return cfg, nil
}
