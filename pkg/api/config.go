package api

import "time"

// APIConfig configures the HTTP status API: health probes, /metrics and
// read-only association views.
type APIConfig struct {
	// Enabled defaults to true. A pointer tells "unset" from "false".
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// BindAddress restricts the listener to one interface. Empty binds all.
	BindAddress string `mapstructure:"bind_address" validate:"omitempty,ip" yaml:"bind_address,omitempty"`

	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// RequireToken protects /api/v1 with a Bearer identity token minted by
	// "dicomul token". Health probes and /metrics stay open.
	RequireToken bool `mapstructure:"require_token" yaml:"require_token"`
}

// IsEnabled reports whether the API server should run.
func (c *APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ApplyDefaults sets port 8080, 10s read and write timeouts and a 60s idle
// timeout where unset.
func (c *APIConfig) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = 8080
	}
	for _, d := range []struct {
		field *time.Duration
		def   time.Duration
	}{
		{&c.ReadTimeout, 10 * time.Second},
		{&c.WriteTimeout, 10 * time.Second},
		{&c.IdleTimeout, 60 * time.Second},
	} {
		if *d.field == 0 {
			*d.field = d.def
		}
	}
}
