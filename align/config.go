package align

// ServiceConfig is the YAML configuration for the registration service.
type ServiceConfig struct {
	MQTT         MQTTConfig         `yaml:"mqtt" json:"mqtt"`
	Reference    string             `yaml:"reference,omitempty" json:"reference,omitempty"` // Optional reference cloud ID
	Clouds       []CloudConfig      `yaml:"clouds" json:"clouds"`
	Registration RegistrationConfig `yaml:"registration,omitempty" json:"registration,omitempty"`
}

// MQTTConfig holds MQTT connection settings.
type MQTTConfig struct {
	Broker        string `yaml:"broker" json:"broker"`
	PublishPrefix string `yaml:"publishPrefix" json:"publishPrefix"`
	ClientID      string `yaml:"clientId" json:"clientId"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// CloudConfig maps one cloud ID to the topic its payloads arrive on.
type CloudConfig struct {
	ID    string `yaml:"id" json:"id"`
	Topic string `yaml:"topic" json:"topic"`
}

// RegistrationConfig is the YAML form of the registration knobs. Zero fields
// fall back to DefaultConfig values.
type RegistrationConfig struct {
	K                 int     `yaml:"k,omitempty" json:"k,omitempty"`
	Kappa             float64 `yaml:"kappa,omitempty" json:"kappa,omitempty"`
	FlagThreshold     float64 `yaml:"flagThreshold,omitempty" json:"flagThreshold,omitempty"`
	MaxIterations     int     `yaml:"maxIterations,omitempty" json:"maxIterations,omitempty"`
	ConvergenceThresh float64 `yaml:"convergenceThresh,omitempty" json:"convergenceThresh,omitempty"`
	AdjustScale       bool    `yaml:"adjustScale,omitempty" json:"adjustScale,omitempty"`
}

// Config resolves the YAML registration settings against the defaults.
func (r RegistrationConfig) Config() Config {
	config := DefaultConfig()
	if r.K > 0 {
		config.K = r.K
	}
	if r.Kappa > 0 {
		config.Kappa = r.Kappa
	}
	if r.FlagThreshold > 0 {
		config.FlagThreshold = r.FlagThreshold
	}
	if r.MaxIterations > 0 {
		config.MaxIterations = r.MaxIterations
	}
	if r.ConvergenceThresh > 0 {
		config.ConvergenceThresh = r.ConvergenceThresh
	}
	config.AdjustScale = r.AdjustScale
	return config
}

// CloudByID returns the cloud config for the given ID, or nil.
func (c *ServiceConfig) CloudByID(id string) *CloudConfig {
	for i := range c.Clouds {
		if c.Clouds[i].ID == id {
			return &c.Clouds[i]
		}
	}
	return nil
}

// ReferenceID returns the configured reference cloud ID, defaulting to the
// first configured cloud.
func (c *ServiceConfig) ReferenceID() string {
	if c.Reference != "" {
		return c.Reference
	}
	if len(c.Clouds) > 0 {
		return c.Clouds[0].ID
	}
	return ""
}
