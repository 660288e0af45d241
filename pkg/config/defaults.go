package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dicomul/internal/bytesize"
	"github.com/marmos91/dicomul/pkg/adapter/dicom"
	"github.com/marmos91/dicomul/pkg/api"
	"github.com/marmos91/dicomul/pkg/audit"
	capturefs "github.com/marmos91/dicomul/pkg/capture/fs"
	"github.com/marmos91/dicomul/pkg/ul/transport"
	"github.com/marmos91/dicomul/pkg/ul/uid"
)

const (
	// DefaultAETitle is the acceptor's AE title when none is configured.
	DefaultAETitle = "DICOMUL"

	// DefaultCallingAETitle identifies the echo client.
	DefaultCallingAETitle = "DICOMUL_SCU"

	// DefaultCalledAETitle is addressed by the echo client.
	DefaultCalledAETitle = "ANY-SCP"

	// CaptureNone disables the capture store.
	CaptureNone = "none"
)

// defaultTransferSyntaxes are offered for every default abstract syntax.
var defaultTransferSyntaxes = []string{
	uid.ExplicitVRLittleEndian,
	uid.ImplicitVRLittleEndian,
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyAPIDefaults(&cfg.API)
	applyServerDefaults(&cfg.Server)
	applyPolicyDefaults(&cfg.Policy)
	applyAuditDefaults(&cfg.Audit)
	applyCaptureDefaults(&cfg.Capture)
	applyClientDefaults(&cfg.Client)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}

	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}

	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyAPIDefaults(cfg *api.APIConfig) {
	cfg.ApplyDefaults()
}

// applyServerDefaults sets the acceptor defaults (port 11112, 16KiB
// announced PDU length).
func applyServerDefaults(cfg *dicom.Config) {
	cfg.ApplyDefaults()
}

// applyPolicyDefaults sets the AE title and, when no syntax is
// configured, accepts Verification and the common storage classes.
func applyPolicyDefaults(cfg *PolicyConfig) {
	if cfg.AETitle == "" {
		cfg.AETitle = DefaultAETitle
	}
	if len(cfg.Syntaxes) == 0 {
		for _, abstract := range []string{
			uid.Verification,
			uid.CTImageStorage,
			uid.MRImageStorage,
			uid.SecondaryCaptureStorage,
		} {
			cfg.Syntaxes = append(cfg.Syntaxes, SyntaxConfig{
				AbstractSyntax:   abstract,
				TransferSyntaxes: append([]string(nil), defaultTransferSyntaxes...),
			})
		}
	}
}

// applyAuditDefaults fills in the database settings only when auditing is
// enabled, so a disabled section stays empty in saved files.
func applyAuditDefaults(cfg *audit.Config) {
	if cfg.Enabled {
		cfg.ApplyDefaults()
	}
}

func applyCaptureDefaults(cfg *CaptureConfig) {
	if cfg.Type == "" {
		cfg.Type = CaptureNone
	}
	if cfg.Type == "filesystem" {
		if cfg.Filesystem.BasePath == "" {
			cfg.Filesystem.BasePath = filepath.Join(getConfigDir(), "capture")
			cfg.Filesystem.CreateDir = true
		}
		defaults := capturefs.DefaultConfig(cfg.Filesystem.BasePath)
		if cfg.Filesystem.DirMode == 0 {
			cfg.Filesystem.DirMode = defaults.DirMode
		}
		if cfg.Filesystem.FileMode == 0 {
			cfg.Filesystem.FileMode = defaults.FileMode
		}
	}
}

func applyClientDefaults(cfg *ClientConfig) {
	if cfg.CallingAETitle == "" {
		cfg.CallingAETitle = DefaultCallingAETitle
	}
	if cfg.CalledAETitle == "" {
		cfg.CalledAETitle = DefaultCalledAETitle
	}
	if cfg.MaxPDULength == 0 {
		cfg.MaxPDULength = 16 * bytesize.KiB
	}
	if len(cfg.Contexts) == 0 {
		cfg.Contexts = []SyntaxConfig{{
			AbstractSyntax:   uid.Verification,
			TransferSyntaxes: append([]string(nil), defaultTransferSyntaxes...),
		}}
	}
	if cfg.Transport == (transport.Config{}) {
		cfg.Transport = transport.DefaultConfig()
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
