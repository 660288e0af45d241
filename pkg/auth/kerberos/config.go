package kerberos

import "time"

// DefaultMaxClockSkew is the tolerated difference between client and
// server clocks.
const DefaultMaxClockSkew = 5 * time.Minute

// Config configures the Kerberos provider. DICOMUL_KERBEROS_KEYTAB and
// DICOMUL_KERBEROS_PRINCIPAL override the first two fields.
type Config struct {
	KeytabPath       string        `mapstructure:"keytab_path" yaml:"keytab_path,omitempty"`
	ServicePrincipal string        `mapstructure:"service_principal" yaml:"service_principal,omitempty"`
	MaxClockSkew     time.Duration `mapstructure:"max_clock_skew" yaml:"max_clock_skew,omitempty"`
}
