package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                  string
	DatabaseDSN           string
	JWTSecret             string
	Env                   string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int

	// 中继核心相关参数。
	RingCapacity       int
	HeartbeatPeriod    time.Duration
	RateLimitMax       int
	RateLimitWindow    time.Duration
	CompressMinMembers int
	MaxPayloadBytes    int64
	SendQueueDepth     int
	FeedPollPeriod     time.Duration
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// getenvIntZero 与 getenvInt 相同，但允许 0（压缩阈值 0 表示房间有人就压缩）。
func getenvIntZero(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatrelay port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:             getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:                   getenv("APP_ENV", "dev"),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		RingCapacity:          getenvInt("RING_CAPACITY", 50),
		HeartbeatPeriod:       time.Duration(getenvInt("HEARTBEAT_SECONDS", 30)) * time.Second,
		RateLimitMax:          getenvInt("RATE_LIMIT_MAX", 10),
		RateLimitWindow:       time.Duration(getenvInt("RATE_LIMIT_WINDOW_SECONDS", 30)) * time.Second,
		CompressMinMembers:    getenvIntZero("COMPRESS_MIN_MEMBERS", 0),
		MaxPayloadBytes:       int64(getenvInt("MAX_PAYLOAD_BYTES", 2_000_000)),
		SendQueueDepth:        getenvInt("SEND_QUEUE_DEPTH", 100),
		FeedPollPeriod:        time.Duration(getenvInt("FEED_POLL_SECONDS", 3)) * time.Second,
	}
}

// Validate 启动前检查配置，生产环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: empty port")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: empty database dsn")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("config: default jwt secret outside dev")
	}
	if cfg.RingCapacity <= 0 || cfg.RateLimitMax <= 0 {
		return errors.New("config: ring capacity and rate limit max must be positive")
	}
	if cfg.HeartbeatPeriod <= 0 || cfg.RateLimitWindow <= 0 || cfg.FeedPollPeriod <= 0 {
		return errors.New("config: periods must be positive")
	}
	return nil
}
