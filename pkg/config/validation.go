package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/negotiation"
	"github.com/marmos91/dicomul/pkg/ul/uid"
)

// minJWTSecretLength matches the HMAC key length required by pkg/auth/jwt.
const minJWTSecretLength = 32

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration.
//
// Struct tags cover ranges and enumerations; validateSections covers the
// rules that span fields or need the DICOM packages (UIDs, roles, bcrypt
// hashes). Validate does not normalize values: that is ApplyDefaults' job.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateSections(cfg)
}

// formatValidationError flattens validator errors into one message that
// names each failing field and tag.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s' validation (param: %s)", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed '%s' validation", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func validateSections(cfg *Config) error {
	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return fmt.Errorf("telemetry.profiling.endpoint is required when profiling is enabled")
	}
	if err := cfg.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validateSyntaxes("policy.syntaxes", cfg.Policy.Syntaxes); err != nil {
		return err
	}
	if err := validateIdentity(&cfg.Identity); err != nil {
		return err
	}
	if cfg.API.RequireToken && cfg.Identity.JWT.Secret == "" {
		return fmt.Errorf("api.require_token needs identity.jwt.secret")
	}
	if cfg.Audit.Enabled {
		if err := cfg.Audit.Validate(); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
	}
	if err := validateCapture(&cfg.Capture); err != nil {
		return err
	}
	if err := validateSyntaxes("client.contexts", cfg.Client.Contexts); err != nil {
		return err
	}
	if len(cfg.Client.Contexts) > assoc.MaxPresentationContexts {
		return fmt.Errorf("client.contexts: at most %d presentation contexts can be proposed", assoc.MaxPresentationContexts)
	}
	return nil
}

// validateSyntaxes checks UIDs, symbolic transfer syntax names and roles.
func validateSyntaxes(section string, syntaxes []SyntaxConfig) error {
	seen := make(map[string]bool, len(syntaxes))
	for i, s := range syntaxes {
		if err := uid.Validate(s.AbstractSyntax); err != nil {
			return fmt.Errorf("%s[%d].abstract_syntax: %w", section, i, err)
		}
		if seen[s.AbstractSyntax] && section == "policy.syntaxes" {
			return fmt.Errorf("%s[%d]: abstract syntax %s listed twice", section, i, s.AbstractSyntax)
		}
		seen[s.AbstractSyntax] = true
		if len(s.TransferSyntaxes) == 0 {
			return fmt.Errorf("%s[%d]: abstract syntax %s has no transfer syntax", section, i, s.AbstractSyntax)
		}
		for _, ts := range s.TransferSyntaxes {
			if _, err := uid.Parse(ts); err != nil {
				return fmt.Errorf("%s[%d].transfer_syntaxes: %w", section, i, err)
			}
		}
		if _, err := negotiation.ParseRole(s.Role); err != nil {
			return fmt.Errorf("%s[%d].role: %w", section, i, err)
		}
	}
	return nil
}

func validateIdentity(cfg *IdentityConfig) error {
	seen := make(map[string]bool, len(cfg.Users))
	for i, u := range cfg.Users {
		if seen[u.Username] {
			return fmt.Errorf("identity.users[%d]: user %q listed twice", i, u.Username)
		}
		seen[u.Username] = true
		if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
			return fmt.Errorf("identity.users[%d]: password_hash is not a bcrypt hash", i)
		}
	}
	if (cfg.JWT.Enabled || cfg.JWT.Secret != "") && len(cfg.JWT.Secret) < minJWTSecretLength {
		return fmt.Errorf("identity.jwt.secret must be at least %d characters", minJWTSecretLength)
	}
	if cfg.Enforce && len(cfg.Users) == 0 && !cfg.JWT.Enabled && !cfg.Kerberos.Enabled {
		return fmt.Errorf("identity.enforce needs at least one identity provider (users, jwt or kerberos)")
	}
	return nil
}

func validateCapture(cfg *CaptureConfig) error {
	switch cfg.Type {
	case "filesystem":
		if cfg.Filesystem.BasePath == "" {
			return fmt.Errorf("capture.filesystem.base_path is required for the filesystem capture store")
		}
	case "badger":
		if cfg.Badger.Path == "" && !cfg.Badger.InMemory {
			return fmt.Errorf("capture.badger.path is required for the badger capture store")
		}
	case "s3":
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("capture.s3.bucket is required for the s3 capture store")
		}
	}
	return nil
}
