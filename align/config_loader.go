package align

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadServiceConfig loads the service configuration from a YAML file.
func LoadServiceConfig(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config ServiceConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	// Validate required fields
	if config.MQTT.Broker == "" {
		return nil, fmt.Errorf("mqtt.broker is required")
	}
	if len(config.Clouds) == 0 {
		return nil, fmt.Errorf("at least one cloud must be defined")
	}
	for i, cc := range config.Clouds {
		if cc.ID == "" {
			return nil, fmt.Errorf("clouds[%d].id is required", i)
		}
		if cc.Topic == "" {
			return nil, fmt.Errorf("clouds[%d].topic is required for %s", i, cc.ID)
		}
	}
	if config.Reference != "" && config.CloudByID(config.Reference) == nil {
		return nil, fmt.Errorf("reference %q is not a configured cloud", config.Reference)
	}

	return &config, nil
}

// SaveServiceConfig saves the configuration to a YAML file.
func SaveServiceConfig(path string, config *ServiceConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
