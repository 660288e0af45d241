package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/dicomul/internal/bytesize"
	"github.com/marmos91/dicomul/pkg/adapter/dicom"
	"github.com/marmos91/dicomul/pkg/api"
	"github.com/marmos91/dicomul/pkg/audit"
	"github.com/marmos91/dicomul/pkg/auth/jwt"
	"github.com/marmos91/dicomul/pkg/auth/kerberos"
	"github.com/marmos91/dicomul/pkg/auth/password"
	capturebadger "github.com/marmos91/dicomul/pkg/capture/badger"
	capturefs "github.com/marmos91/dicomul/pkg/capture/fs"
	captures3 "github.com/marmos91/dicomul/pkg/capture/s3"
	"github.com/marmos91/dicomul/pkg/ul/transport"
)

// Config represents the dicomul configuration.
//
// This structure captures the static configuration of the server and of the
// echo client:
//   - Logging, telemetry and profiling
//   - The DICOM acceptor (listener, PDU limits, transport timeouts)
//   - The presentation context policy
//   - User identity verification
//   - Audit log and capture store
//   - Status API and metrics
//   - Requestor defaults for "dicomul echo"
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DICOMUL_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics controls Prometheus metrics collection. Metrics are served by
	// the API server on /metrics.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains status API server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Server configures the DICOM acceptor
	Server dicom.Config `mapstructure:"server" yaml:"server"`

	// Policy lists the presentation contexts the acceptor supports and the
	// AE titles it answers to
	Policy PolicyConfig `mapstructure:"policy" yaml:"policy"`

	// Identity configures verification of user identity negotiation
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`

	// Audit configures the association audit log
	Audit audit.Config `mapstructure:"audit" yaml:"audit"`

	// Capture selects where received commands and datasets are stored
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`

	// Client holds requestor defaults used by "dicomul echo"
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
// When enabled, one span per association is exported to an OTLP-compatible
// collector (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead) and
// /metrics answers 404.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// PolicyConfig describes the acceptor's presentation context policy.
type PolicyConfig struct {
	// AETitle is the acceptor's own AE title.
	// Default: "DICOMUL"
	AETitle string `mapstructure:"ae_title" validate:"required,max=16" yaml:"ae_title"`

	// CheckCalledAETitle rejects requests addressed to another AE title.
	CheckCalledAETitle bool `mapstructure:"check_called_ae_title" yaml:"check_called_ae_title"`

	// CallingAETitles, when non-empty, lists the requestors allowed to
	// associate.
	CallingAETitles []string `mapstructure:"calling_ae_titles" validate:"dive,required,max=16" yaml:"calling_ae_titles,omitempty"`

	// AlwaysAcceptDefaultRole accepts default-role proposals for abstract
	// syntaxes configured as SCP only.
	AlwaysAcceptDefaultRole bool `mapstructure:"always_accept_default_role" yaml:"always_accept_default_role"`

	// EchoExtendedNegotiation returns the requestor's extended negotiation
	// items for accepted SOP classes.
	EchoExtendedNegotiation bool `mapstructure:"echo_extended_negotiation" yaml:"echo_extended_negotiation"`

	// Syntaxes lists the supported abstract syntaxes.
	Syntaxes []SyntaxConfig `mapstructure:"syntaxes" validate:"required,min=1,dive" yaml:"syntaxes"`
}

// SyntaxConfig is one abstract syntax with its transfer syntaxes.
//
// Transfer syntaxes are UIDs or the symbolic names local-endian-explicit
// and opposite-endian-explicit.
type SyntaxConfig struct {
	AbstractSyntax   string   `mapstructure:"abstract_syntax" validate:"required" yaml:"abstract_syntax"`
	TransferSyntaxes []string `mapstructure:"transfer_syntaxes" validate:"required,min=1,dive,required" yaml:"transfer_syntaxes"`

	// Role is one of default, scu, scp or scu/scp.
	Role string `mapstructure:"role" yaml:"role,omitempty"`
}

// IdentityConfig configures user identity verification on the acceptor.
type IdentityConfig struct {
	// Enforce rejects associations without a verified user identity.
	Enforce bool `mapstructure:"enforce" yaml:"enforce"`

	// AllowUsernameOnly accepts the username mode, which carries no
	// secret, for users listed in Users.
	AllowUsernameOnly bool `mapstructure:"allow_username_only" yaml:"allow_username_only"`

	// Users is the username/password table. Hashes are bcrypt; generate
	// them with "dicomul passwd".
	Users []password.User `mapstructure:"users" validate:"dive" yaml:"users,omitempty"`

	// JWT configures identity mode 5 and API tokens.
	JWT JWTConfig `mapstructure:"jwt" yaml:"jwt"`

	// Kerberos configures identity mode 3.
	Kerberos KerberosConfig `mapstructure:"kerberos" yaml:"kerberos"`
}

// JWTConfig enables JWT identity verification.
type JWTConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	jwt.Config `mapstructure:",squash" yaml:",inline"`
}

// KerberosConfig enables Kerberos identity verification.
// DICOMUL_KERBEROS_KEYTAB and DICOMUL_KERBEROS_PRINCIPAL override the
// keytab path and the service principal.
type KerberosConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	kerberos.Config `mapstructure:",squash" yaml:",inline"`
}

// CaptureConfig selects the capture store.
type CaptureConfig struct {
	// Type is the backend: none, memory, filesystem, badger or s3.
	// Default: none
	Type string `mapstructure:"type" validate:"omitempty,oneof=none memory filesystem badger s3" yaml:"type"`

	Filesystem capturefs.Config     `mapstructure:"filesystem" yaml:"filesystem,omitempty"`
	Badger     capturebadger.Config `mapstructure:"badger" yaml:"badger,omitempty"`
	S3         captures3.Config     `mapstructure:"s3" yaml:"s3,omitempty"`
}

// ClientConfig holds requestor defaults.
type ClientConfig struct {
	// Address is the peer's host:port.
	Address string `mapstructure:"address" validate:"omitempty,hostname_port" yaml:"address,omitempty"`

	// CallingAETitle identifies this requestor.
	// Default: "DICOMUL_SCU"
	CallingAETitle string `mapstructure:"calling_ae_title" validate:"omitempty,max=16" yaml:"calling_ae_title"`

	// CalledAETitle addresses the peer.
	// Default: "ANY-SCP"
	CalledAETitle string `mapstructure:"called_ae_title" validate:"omitempty,max=16" yaml:"called_ae_title"`

	// MaxPDULength is announced to the acceptor.
	// Default: 16KiB
	MaxPDULength bytesize.ByteSize `mapstructure:"max_pdu_length" yaml:"max_pdu_length"`

	// RequireIdentityResponse fails the association when the acceptor does
	// not acknowledge an identity that asked for a positive response.
	RequireIdentityResponse bool `mapstructure:"require_identity_response" yaml:"require_identity_response"`

	// Contexts are proposed in order; context IDs are assigned 1, 3, 5...
	Contexts []SyntaxConfig `mapstructure:"contexts" validate:"dive" yaml:"contexts,omitempty"`

	Transport transport.Config `mapstructure:"transport" yaml:"transport"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DICOMUL_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	// Unmarshal into config struct with custom decode hooks
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  dicomul config init\n\n"+
				"Or specify a custom config file:\n"+
				"  dicomul <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  dicomul config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold password hashes and the JWT secret.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DICOMUL_ prefix and underscores
	// Example: DICOMUL_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DICOMUL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/dicomul/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// An explicit config file that doesn't exist surfaces as a PathError
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
		fileModeDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, so
// config files can use sizes like "16KiB", "1Mi" or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s", "5m" or "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// fileModeDecodeHook accepts octal strings ("0750") for os.FileMode
// fields.
func fileModeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(os.FileMode(0)) {
			return data, nil
		}

		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		var mode uint32
		if _, err := fmt.Sscanf(s, "%o", &mode); err != nil {
			return nil, fmt.Errorf("invalid file mode %q: %w", s, err)
		}
		return os.FileMode(mode), nil
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dicomul")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dicomul")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}

const redactedValue = "<redacted>"

// Redacted returns a copy of c with secrets masked. "dicomul config show"
// prints it.
func (c Config) Redacted() Config {
	mask := func(s *string) {
		if *s != "" {
			*s = redactedValue
		}
	}
	mask(&c.Identity.JWT.Secret)
	mask(&c.Audit.Postgres.Password)
	mask(&c.Capture.S3.SecretAccessKey)

	users := make([]password.User, len(c.Identity.Users))
	copy(users, c.Identity.Users)
	for i := range users {
		mask(&users[i].PasswordHash)
	}
	c.Identity.Users = users
	return c
}
