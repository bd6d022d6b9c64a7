// Package config provides runtime configuration values for the service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds configuration knobs for the HTTP server, the record store,
// and the stream fan-out.
type Config struct {
	HTTPAddr          string
	DBPath            string
	ShutdownTimeout   time.Duration
	SinkBuffer        int
	KeepAliveInterval time.Duration
	FlushInterval     time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenvms(key string, defMs int) time.Duration {
	ms := atoienv(key, defMs)
	return time.Duration(ms) * time.Millisecond
}

func durenvs(key string, defSec int) time.Duration {
	sec := atoienv(key, defSec)
	return time.Duration(sec) * time.Second
}

// Load collects configuration from environment with defaults.
func Load() Config {
	return Config{
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DBPath:            getenv("DB_PATH", "db.json"),
		ShutdownTimeout:   durenvs("SHUTDOWN_TIMEOUT", 15),
		SinkBuffer:        atoienv("SINK_BUFFER", 16),
		KeepAliveInterval: durenvms("KEEPALIVE_MS", 25000),
		FlushInterval:     durenvms("FLUSH_INTERVAL_MS", 300),
	}
}
