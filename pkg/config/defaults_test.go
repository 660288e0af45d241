package config

import (
	"testing"
	"time"

	"github.com/marmos91/dicomul/internal/bytesize"
	"github.com/marmos91/dicomul/pkg/ul/transport"
	"github.com/marmos91/dicomul/pkg/ul/uid"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default log format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default log output 'stdout', got %q", cfg.Logging.Output)
	}
}

func TestApplyDefaults_ShutdownTimeout(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown timeout 30s, got %v", cfg.ShutdownTimeout)
	}
}

func TestApplyDefaults_API(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.API.Port != 8080 {
		t.Errorf("Expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.API.ReadTimeout != 10*time.Second {
		t.Errorf("Expected default read timeout 10s, got %v", cfg.API.ReadTimeout)
	}
	if cfg.API.IdleTimeout != 60*time.Second {
		t.Errorf("Expected default idle timeout 60s, got %v", cfg.API.IdleTimeout)
	}
	if !cfg.API.IsEnabled() {
		t.Error("Expected API to be enabled by default")
	}
}

func TestApplyDefaults_Server(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Server.Port != 11112 {
		t.Errorf("Expected default DICOM port 11112, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxPDULength != 16*bytesize.KiB {
		t.Errorf("Expected default max PDU length 16KiB, got %v", cfg.Server.MaxPDULength)
	}
	if cfg.Server.Transport != transport.DefaultConfig() {
		t.Errorf("Expected default transport settings, got %+v", cfg.Server.Transport)
	}
}

func TestApplyDefaults_Policy(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Policy.AETitle != DefaultAETitle {
		t.Errorf("Expected AE title %q, got %q", DefaultAETitle, cfg.Policy.AETitle)
	}
	if len(cfg.Policy.Syntaxes) == 0 || cfg.Policy.Syntaxes[0].AbstractSyntax != uid.Verification {
		t.Fatalf("Expected Verification first in the default policy, got %+v", cfg.Policy.Syntaxes)
	}

	// The defaults must not share a backing array between syntaxes.
	cfg.Policy.Syntaxes[0].TransferSyntaxes[0] = "1.2.3"
	if cfg.Policy.Syntaxes[1].TransferSyntaxes[0] == "1.2.3" {
		t.Error("Expected independent transfer syntax slices")
	}
}

func TestApplyDefaults_Client(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.Client.CallingAETitle != DefaultCallingAETitle {
		t.Errorf("Expected calling AE %q, got %q", DefaultCallingAETitle, cfg.Client.CallingAETitle)
	}
	if cfg.Client.CalledAETitle != DefaultCalledAETitle {
		t.Errorf("Expected called AE %q, got %q", DefaultCalledAETitle, cfg.Client.CalledAETitle)
	}
	if len(cfg.Client.Contexts) != 1 {
		t.Errorf("Expected one default context, got %d", len(cfg.Client.Contexts))
	}
}

func TestApplyDefaults_AuditOnlyWhenEnabled(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Audit.Type != "" {
		t.Errorf("Expected disabled audit to stay empty, got type %q", cfg.Audit.Type)
	}

	cfg = &Config{}
	cfg.Audit.Enabled = true
	ApplyDefaults(cfg)
	if cfg.Audit.Type != "sqlite" || cfg.Audit.SQLite.Path == "" {
		t.Errorf("Expected sqlite defaults, got %+v", cfg.Audit)
	}
}

func TestApplyDefaults_CaptureFilesystem(t *testing.T) {
	cfg := &Config{Capture: CaptureConfig{Type: "filesystem"}}
	ApplyDefaults(cfg)

	if cfg.Capture.Filesystem.BasePath == "" {
		t.Error("Expected a default base path")
	}
	if !cfg.Capture.Filesystem.CreateDir {
		t.Error("Expected the default base path to be created")
	}
	if cfg.Capture.Filesystem.DirMode != 0750 {
		t.Errorf("Expected dir mode 0750, got %o", cfg.Capture.Filesystem.DirMode)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: "/var/log/dicomul.log",
		},
		ShutdownTimeout: 5 * time.Second,
		Policy: PolicyConfig{
			AETitle: "ARCHIVE",
			Syntaxes: []SyntaxConfig{
				{AbstractSyntax: uid.CTImageStorage, TransferSyntaxes: []string{uid.JPEGLossless}},
			},
		},
	}
	cfg.Server.Port = 104

	ApplyDefaults(cfg)

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected normalized level 'DEBUG', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "/var/log/dicomul.log" {
		t.Errorf("Expected explicit output to be preserved, got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout 5s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Server.Port != 104 {
		t.Errorf("Expected port 104, got %d", cfg.Server.Port)
	}
	if cfg.Policy.AETitle != "ARCHIVE" || len(cfg.Policy.Syntaxes) != 1 {
		t.Errorf("Expected explicit policy to be preserved, got %+v", cfg.Policy)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
	if _, err := cfg.AcceptorPolicy(); err != nil {
		t.Errorf("Default policy should build, got error: %v", err)
	}
}
