package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != TransportRedis {
		t.Fatalf("default transport = %q, want redis", cfg.Transport)
	}
	if cfg.Port == 0 || cfg.Redis.Addr == "" || cfg.Postgres.DSN == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsUnknownTransport(t *testing.T) {
	t.Setenv("PUBSUB_TRANSPORT", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatal("unknown transport accepted")
	}
}

func TestLoadNatsTransport(t *testing.T) {
	t.Setenv("PUBSUB_TRANSPORT", "nats")
	t.Setenv("NATS_SERVERS", "nats://a:4222,nats://b:4222")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Transport != TransportNats {
		t.Fatalf("transport = %q", cfg.Transport)
	}
	if len(cfg.Nats.Servers) != 2 {
		t.Fatalf("servers = %v", cfg.Nats.Servers)
	}
}
