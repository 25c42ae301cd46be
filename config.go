package main

import (
	"os"
	"strconv"
	"time"
)

// config is loaded once at startup from the environment (godotenv fills
// it from .env during development) and passed by value after that.
type config struct {
	Port     string
	TempRoot string

	YtdlpBinary     string
	ExtractTimeout  time.Duration
	DownloadTimeout time.Duration

	GateCapacity    int
	GateTimeout     time.Duration
	ConnectTimeout  time.Duration
	TransferTimeout time.Duration

	RatePerMinute int
	RateClientCap int

	SweepInterval time.Duration
	JobMaxAge     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JobTTL        time.Duration
}

func loadConfig() config {
	return config{
		Port:     envStr("PORT", "8080"),
		TempRoot: envStr("TEMP_ROOT", os.TempDir()),

		YtdlpBinary:     envStr("YTDLP_BINARY", "yt-dlp"),
		ExtractTimeout:  envDuration("EXTRACT_TIMEOUT", 45*time.Second),
		DownloadTimeout: envDuration("DOWNLOAD_TIMEOUT", 10*time.Minute),

		GateCapacity:    envInt("MAX_CONCURRENT_DOWNLOADS", 3),
		GateTimeout:     envDuration("GATE_TIMEOUT", 10*time.Second),
		ConnectTimeout:  envDuration("CONNECT_TIMEOUT", 15*time.Second),
		TransferTimeout: envDuration("TRANSFER_TIMEOUT", 30*time.Minute),

		RatePerMinute: envInt("RATE_LIMIT_PER_MIN", 30),
		RateClientCap: envInt("RATE_LIMIT_CLIENT_CAP", 1024),

		SweepInterval: envDuration("SWEEP_INTERVAL", 2*time.Minute),
		JobMaxAge:     envDuration("JOB_MAX_AGE", 30*time.Minute),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),
		JobTTL:        envDuration("JOB_TTL", 24*time.Hour),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
