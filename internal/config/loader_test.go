package config_test

import (
	"strings"
	"testing"

	"github.com/vivavox/vivavox/internal/config"
)

func TestValidate_SensitivityOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
detector:
  sensitivity: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for sensitivity > 1, got nil")
	}
	if !strings.Contains(err.Error(), "sensitivity") {
		t.Errorf("error should mention sensitivity, got: %v", err)
	}
}

func TestValidate_PositiveEnergyThreshold(t *testing.T) {
	t.Parallel()
	yaml := `
detector:
  energy_threshold_db: 12
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for positive dBFS threshold, got nil")
	}
	if !strings.Contains(err.Error(), "energy_threshold_db") {
		t.Errorf("error should mention energy_threshold_db, got: %v", err)
	}
}

func TestValidate_NegativeMaxConnections(t *testing.T) {
	t.Parallel()
	yaml := `
stream:
  max_connections: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative max_connections, got nil")
	}
	if !strings.Contains(err.Error(), "max_connections") {
		t.Errorf("error should mention max_connections, got: %v", err)
	}
}

func TestValidate_TimeoutBelowHeartbeat(t *testing.T) {
	t.Parallel()
	yaml := `
stream:
  heartbeat_interval: 30s
  connection_timeout: 10s
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for connection_timeout <= heartbeat_interval, got nil")
	}
	if !strings.Contains(err.Error(), "connection_timeout") {
		t.Errorf("error should mention connection_timeout, got: %v", err)
	}
}

func TestValidate_TLSMissingKeyFile(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/ssl/server.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for TLS without key_file, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_MultipleErrorsJoined(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
detector:
  sensitivity: 2
stream:
  max_connections: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected joined validation errors, got nil")
	}
	for _, want := range []string{"log_level", "sensitivity", "max_connections"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %s, got: %v", want, err)
		}
	}
}

func TestValidate_NegativeExamValues(t *testing.T) {
	t.Parallel()
	yaml := `
exam:
  total_questions: -3
  questions_per_scenario: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative exam values, got nil")
	}
	if !strings.Contains(err.Error(), "total_questions") {
		t.Errorf("error should mention total_questions, got: %v", err)
	}
	if !strings.Contains(err.Error(), "questions_per_scenario") {
		t.Errorf("error should mention questions_per_scenario, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/vivavox.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
