package align

import (
	"os"
	"path/filepath"
	"testing"
)

func validServiceYAML() string {
	return `mqtt:
  broker: tcp://localhost:1883
  publishPrefix: meshalign
  clientId: meshalign-test
reference: scan-a
clouds:
  - id: scan-a
    topic: scanners/scan-a
  - id: scan-b
    topic: scanners/scan-b
registration:
  k: 5
  maxIterations: 50
`
}

func writeServiceConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadServiceConfig_NotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := LoadServiceConfig(path)
	if err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadServiceConfig_ValidYAML(t *testing.T) {
	path := writeServiceConfig(t, validServiceYAML())

	cfg, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("Broker = %q, want %q", cfg.MQTT.Broker, "tcp://localhost:1883")
	}
	if len(cfg.Clouds) != 2 {
		t.Fatalf("len(Clouds) = %d, want 2", len(cfg.Clouds))
	}
	if cfg.Clouds[1].Topic != "scanners/scan-b" {
		t.Errorf("Clouds[1].Topic = %q, want %q", cfg.Clouds[1].Topic, "scanners/scan-b")
	}
	if cfg.ReferenceID() != "scan-a" {
		t.Errorf("ReferenceID = %q, want %q", cfg.ReferenceID(), "scan-a")
	}

	resolved := cfg.Registration.Config()
	if resolved.K != 5 {
		t.Errorf("K = %d, want 5", resolved.K)
	}
	if resolved.MaxIterations != 50 {
		t.Errorf("MaxIterations = %d, want 50", resolved.MaxIterations)
	}
	// Unset fields fall back to the defaults
	if resolved.Kappa != DefaultKappa {
		t.Errorf("Kappa = %g, want default %g", resolved.Kappa, DefaultKappa)
	}
	if resolved.FlagThreshold != DefaultFlagThreshold {
		t.Errorf("FlagThreshold = %g, want default %g", resolved.FlagThreshold, DefaultFlagThreshold)
	}
}

func TestLoadServiceConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing broker",
			yaml: `mqtt:
  broker: ""
clouds:
  - id: scan-a
    topic: scanners/scan-a
`,
		},
		{
			name: "empty clouds list",
			yaml: `mqtt:
  broker: tcp://localhost:1883
clouds: []
`,
		},
		{
			name: "cloud missing id",
			yaml: `mqtt:
  broker: tcp://localhost:1883
clouds:
  - id: ""
    topic: scanners/scan-a
`,
		},
		{
			name: "cloud missing topic",
			yaml: `mqtt:
  broker: tcp://localhost:1883
clouds:
  - id: scan-a
    topic: ""
`,
		},
		{
			name: "reference not a configured cloud",
			yaml: `mqtt:
  broker: tcp://localhost:1883
reference: ghost
clouds:
  - id: scan-a
    topic: scanners/scan-a
`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeServiceConfig(t, tc.yaml)
			_, err := LoadServiceConfig(path)
			if err == nil {
				t.Errorf("expected validation error for %q, got nil", tc.name)
			}
		})
	}
}

func TestSaveServiceConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	original := &ServiceConfig{
		MQTT: MQTTConfig{
			Broker:        "tcp://localhost:1883",
			PublishPrefix: "meshalign",
			ClientID:      "test-client",
		},
		Clouds: []CloudConfig{
			{ID: "scan-a", Topic: "scanners/scan-a"},
		},
		Registration: RegistrationConfig{K: 7, AdjustScale: true},
	}

	if err := SaveServiceConfig(path, original); err != nil {
		t.Fatalf("SaveServiceConfig: %v", err)
	}

	loaded, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("LoadServiceConfig after save: %v", err)
	}
	if loaded.MQTT.Broker != original.MQTT.Broker {
		t.Errorf("Broker = %q, want %q", loaded.MQTT.Broker, original.MQTT.Broker)
	}
	if len(loaded.Clouds) != 1 || loaded.Clouds[0].ID != "scan-a" {
		t.Errorf("Clouds round-trip mismatch: %+v", loaded.Clouds)
	}
	if !loaded.Registration.Config().AdjustScale {
		t.Error("AdjustScale lost in round-trip")
	}
}

func TestReferenceID_DefaultsToFirstCloud(t *testing.T) {
	cfg := &ServiceConfig{
		Clouds: []CloudConfig{
			{ID: "scan-b", Topic: "scanners/scan-b"},
			{ID: "scan-a", Topic: "scanners/scan-a"},
		},
	}
	if got := cfg.ReferenceID(); got != "scan-b" {
		t.Errorf("ReferenceID = %q, want first cloud %q", got, "scan-b")
	}
}
