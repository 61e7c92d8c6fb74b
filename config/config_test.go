package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/next-trace/scg-api-bus/config"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestDecode_MergesOverDefaults(t *testing.T) {
	cfg := config.Default()

	data := []byte(`
service: order
rabbitmq:
  prefetch: 8
  faultMode: dead-letter
catalog:
  transport: grpc
  grpcTarget: catalog:9090
  timeout: 750ms
auth:
  tokens:
    s3cret: {subject: gateway, role: Admin}
  public: ["GET /api/products"]
`)

	if err := config.Decode(data, &cfg); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if cfg.Service != "order" || cfg.RabbitMQ.Prefetch != 8 || cfg.RabbitMQ.FaultMode != "dead-letter" {
		t.Fatalf("cfg=%+v", cfg.RabbitMQ)
	}

	if cfg.RabbitMQ.URL != config.Default().RabbitMQ.URL || cfg.RabbitMQ.MaxAttempts != 3 {
		t.Fatalf("defaults lost: %+v", cfg.RabbitMQ)
	}

	if cfg.Catalog.Timeout != 750*time.Millisecond || cfg.Catalog.OpenFor != 30*time.Second {
		t.Fatalf("catalog=%+v", cfg.Catalog)
	}

	if cfg.Auth.Tokens["s3cret"].Role != "Admin" || len(cfg.Auth.Public) != 1 {
		t.Fatalf("auth=%+v", cfg.Auth)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestDecode_RejectsUnknownKeys(t *testing.T) {
	cfg := config.Default()
	if err := config.Decode([]byte("rabbitmq:\n  prefech: 3\n"), &cfg); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := config.Default()

	err := config.ApplyEnvOverrides(&cfg, env(map[string]string{
		"SCG_SERVICE":           "catalog",
		"SCG_RABBITMQ_PREFETCH": "4",
		"SCG_EVENTS_DRIVER":     "kafka",
		"SCG_KAFKA_BROKERS":     "k1:9092, k2:9092,",
		"SCG_MYSQL_DSN":         "  ",
	}))
	if err != nil {
		t.Fatalf("env: %v", err)
	}

	if cfg.Service != "catalog" || cfg.RabbitMQ.Prefetch != 4 || cfg.Events.Driver != "kafka" {
		t.Fatalf("cfg=%+v", cfg)
	}

	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers=%v", cfg.Events.KafkaBrokers)
	}

	if cfg.Storage.DSN != "" {
		t.Fatalf("blank value must not override: %q", cfg.Storage.DSN)
	}

	if err := config.ApplyEnvOverrides(&cfg, env(map[string]string{"SCG_RABBITMQ_PREFETCH": "many"})); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"no service", func(c *config.Config) { c.Service = "" }, "service"},
		{"bad fault mode", func(c *config.Config) { c.RabbitMQ.FaultMode = "drop" }, "faultMode"},
		{"mysql without dsn", func(c *config.Config) { c.Storage.Driver = "mysql" }, "storage.dsn"},
		{"nats without url", func(c *config.Config) { c.Events.Driver = "nats" }, "natsURL"},
		{"grpc without target", func(c *config.Config) { c.Catalog.Transport = "grpc" }, "grpcTarget"},
		{"zero prefetch", func(c *config.Config) { c.RabbitMQ.Prefetch = 0 }, "prefetch"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Service = "order"
			tc.mutate(&cfg)

			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "svc.yaml")
	if err := os.WriteFile(path, []byte("service: identity\nstorage:\n  driver: memory\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("SCG_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Service != "identity" || cfg.LogLevel != "debug" {
		t.Fatalf("cfg=%+v", cfg)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}
