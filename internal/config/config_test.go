package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DB_PATH", "")
	t.Setenv("SHUTDOWN_TIMEOUT", "")
	t.Setenv("SINK_BUFFER", "")
	t.Setenv("KEEPALIVE_MS", "")
	t.Setenv("FLUSH_INTERVAL_MS", "")
	c := Load()
	if c.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr default")
	}
	if c.DBPath != "db.json" {
		t.Fatalf("DBPath default")
	}
	if c.ShutdownTimeout != 15*time.Second {
		t.Fatalf("ShutdownTimeout default")
	}
	if c.SinkBuffer != 16 {
		t.Fatalf("SinkBuffer default")
	}
	if c.KeepAliveInterval != 25*time.Second {
		t.Fatalf("KeepAliveInterval default")
	}
	if c.FlushInterval != 300*time.Millisecond {
		t.Fatalf("FlushInterval default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("DB_PATH", "/tmp/auctions.json")
	t.Setenv("SHUTDOWN_TIMEOUT", "2")
	t.Setenv("SINK_BUFFER", "4")
	t.Setenv("KEEPALIVE_MS", "5000")
	t.Setenv("FLUSH_INTERVAL_MS", "50")
	c := Load()
	if c.HTTPAddr != ":9090" {
		t.Fatalf("HTTPAddr env")
	}
	if c.DBPath != "/tmp/auctions.json" {
		t.Fatalf("DBPath env")
	}
	if c.ShutdownTimeout != 2*time.Second {
		t.Fatalf("ShutdownTimeout env")
	}
	if c.SinkBuffer != 4 {
		t.Fatalf("SinkBuffer env")
	}
	if c.KeepAliveInterval != 5*time.Second {
		t.Fatalf("KeepAliveInterval env")
	}
	if c.FlushInterval != 50*time.Millisecond {
		t.Fatalf("FlushInterval env")
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SINK_BUFFER", "not-a-number")
	t.Setenv("KEEPALIVE_MS", "")
	c := Load()
	if c.SinkBuffer != 16 {
		t.Fatalf("expected default SinkBuffer, got %d", c.SinkBuffer)
	}
}
