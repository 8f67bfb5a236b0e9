package config

import (
	"testing"
	"time"

	"github.com/gocql/gocql"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("TRANSPORT_DRIVER", "")
	t.Setenv("TYPING_IDLE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreDriver != DriverMemory || cfg.TransportDriver != DriverMemory {
		t.Fatalf("unexpected drivers %q/%q", cfg.StoreDriver, cfg.TransportDriver)
	}
	if cfg.TypingIdle != 900*time.Millisecond {
		t.Fatalf("typing idle default %s", cfg.TypingIdle)
	}
	if cfg.PresenceStaleAfter != 0 {
		t.Fatalf("stale-after should be disabled by default")
	}
	if len(cfg.RetryBackoff) != 3 {
		t.Fatalf("retry backoff %v", cfg.RetryBackoff)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Scylla")
	t.Setenv("SCYLLA_HOSTS", "a, b,,c")
	t.Setenv("SCYLLA_CONSISTENCY", "local_quorum")
	t.Setenv("TRANSPORT_DRIVER", "rabbitmq")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("S3_USE_SSL", "yes")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.ScyllaHosts) != 3 || cfg.ScyllaConsistency != gocql.LocalQuorum {
		t.Fatalf("scylla settings %v %v", cfg.ScyllaHosts, cfg.ScyllaConsistency)
	}
	if !cfg.UsesKafka() || !cfg.S3UseSSL {
		t.Fatalf("kafka/s3 flags not applied")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"TYPING_IDLE":        "soon",
		"S3_USE_SSL":         "maybe",
		"STORE_DRIVER":       "postgres",
		"SCYLLA_CONSISTENCY": "two",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("%s=%s should fail", key, value)
			}
		})
	}
}
