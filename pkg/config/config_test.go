package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigLoading(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "test_config.yaml")

	configContent := `
server:
  addr: ":9090"
  readTimeout: 5s
producer:
  driver: franz-go
  dialTimeout: 3s
  sendTimeout: 2s
  requiredAcks: leader
  batchSize: 10
  allowAutoTopicCreation: false
registry:
  timeout: 1s
  verifyOnCreate: false
log:
  debug: true
`

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	config, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Server.Addr != ":9090" {
		t.Errorf("Expected addr :9090, got %s", config.Server.Addr)
	}
	if config.Server.ReadTimeout != 5*time.Second {
		t.Errorf("Expected read timeout 5s, got %v", config.Server.ReadTimeout)
	}
	// Not in the file, default must survive the unmarshal.
	if config.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Expected default write timeout 30s, got %v", config.Server.WriteTimeout)
	}
	if config.Producer.Driver != DriverFranzGo {
		t.Errorf("Expected driver franz-go, got %s", config.Producer.Driver)
	}
	if config.Producer.DialTimeout != 3*time.Second {
		t.Errorf("Expected dial timeout 3s, got %v", config.Producer.DialTimeout)
	}
	if config.Producer.RequiredAcks != "leader" {
		t.Errorf("Expected requiredAcks leader, got %s", config.Producer.RequiredAcks)
	}
	if config.Producer.BatchSize != 10 {
		t.Errorf("Expected batch size 10, got %d", config.Producer.BatchSize)
	}
	if config.Producer.AllowAutoTopicCreation {
		t.Errorf("Expected AllowAutoTopicCreation to be false")
	}
	if config.Registry.Timeout != time.Second {
		t.Errorf("Expected registry timeout 1s, got %v", config.Registry.Timeout)
	}
	if config.Registry.VerifyOnCreate {
		t.Errorf("Expected VerifyOnCreate to be false")
	}
	if !config.Log.Debug {
		t.Errorf("Expected debug logging to be enabled")
	}
}

func TestConfigMissingFileUsesDefaults(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Missing file should not error: %v", err)
	}

	def := Default()
	if config.Server.Addr != def.Server.Addr {
		t.Errorf("Expected default addr %s, got %s", def.Server.Addr, config.Server.Addr)
	}
	if config.Producer.Driver != DriverKafkaGo {
		t.Errorf("Expected default driver kafka-go, got %s", config.Producer.Driver)
	}
	if config.Producer.BatchSize != 1 {
		t.Errorf("Expected default batch size 1, got %d", config.Producer.BatchSize)
	}
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv(envAddr, ":7000")
	t.Setenv(envDriver, DriverSarama)
	t.Setenv(envDebug, "true")

	config, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.Server.Addr != ":7000" {
		t.Errorf("Expected addr from env, got %s", config.Server.Addr)
	}
	if config.Producer.Driver != DriverSarama {
		t.Errorf("Expected driver from env, got %s", config.Producer.Driver)
	}
	if !config.Log.Debug {
		t.Errorf("Expected debug from env")
	}
}

func TestConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", "producer:\n  driver: pulsar\n"},
		{"unknown acks", "producer:\n  requiredAcks: some\n"},
		{"zero batch", "producer:\n  batchSize: 0\n"},
		{"malformed yaml", "producer: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatalf("Failed to write test config: %v", err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}
