package config

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dicomul/pkg/audit"
	"github.com/marmos91/dicomul/pkg/auth"
	"github.com/marmos91/dicomul/pkg/auth/jwt"
	"github.com/marmos91/dicomul/pkg/auth/kerberos"
	"github.com/marmos91/dicomul/pkg/auth/password"
	"github.com/marmos91/dicomul/pkg/capture"
	capturebadger "github.com/marmos91/dicomul/pkg/capture/badger"
	capturefs "github.com/marmos91/dicomul/pkg/capture/fs"
	capturememory "github.com/marmos91/dicomul/pkg/capture/memory"
	captures3 "github.com/marmos91/dicomul/pkg/capture/s3"
)

// CreateCaptureStore creates the capture store selected by cfg.Type.
// Returns nil, nil when capture is disabled.
func CreateCaptureStore(ctx context.Context, cfg CaptureConfig) (capture.Store, error) {
	switch cfg.Type {
	case "", CaptureNone:
		return nil, nil
	case "memory":
		return capturememory.New(), nil
	case "filesystem":
		return createFSCaptureStore(cfg.Filesystem)
	case "badger":
		return createBadgerCaptureStore(cfg.Badger)
	case "s3":
		return createS3CaptureStore(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown capture store type: %q", cfg.Type)
	}
}

// createFSCaptureStore creates a filesystem-backed capture store.
func createFSCaptureStore(cfg capturefs.Config) (capture.Store, error) {
	if cfg.BasePath == "" {
		return nil, fmt.Errorf("filesystem capture store requires base_path to be set")
	}
	return capturefs.New(cfg)
}

// createBadgerCaptureStore opens a BadgerDB capture store.
func createBadgerCaptureStore(cfg capturebadger.Config) (capture.Store, error) {
	store, err := capturebadger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}
	return store, nil
}

// createS3CaptureStore creates an S3-backed capture store.
func createS3CaptureStore(ctx context.Context, cfg captures3.Config) (capture.Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 capture store requires bucket to be set")
	}
	return captures3.NewFromConfig(ctx, cfg)
}

// CreateAuditStore opens the audit log. Returns nil, nil when auditing is
// disabled.
func CreateAuditStore(ctx context.Context, cfg audit.Config) (*audit.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.ApplyDefaults()
	store, err := audit.New(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	return store, nil
}

// CreateTokenService returns the JWT service for identity tokens. Returns
// nil, nil when no secret is configured.
func CreateTokenService(cfg IdentityConfig) (*jwt.Service, error) {
	if cfg.JWT.Secret == "" {
		return nil, nil
	}
	return jwt.NewService(cfg.JWT.Config)
}

// CreateAuthenticator chains the configured identity providers in the
// order password, JWT, Kerberos. tokens may be nil.
//
// The returned closer releases provider resources (the keytab poller) and
// is never nil. A nil Authenticator means no provider is configured.
func CreateAuthenticator(cfg IdentityConfig, tokens *jwt.Service) (*auth.Authenticator, io.Closer, error) {
	var (
		providers []auth.Provider
		closer    io.Closer = nopCloser{}
	)

	if len(cfg.Users) > 0 {
		p, err := password.New(password.Config{
			Users:             cfg.Users,
			AllowUsernameOnly: cfg.AllowUsernameOnly,
		})
		if err != nil {
			return nil, closer, fmt.Errorf("identity users: %w", err)
		}
		providers = append(providers, p)
	}

	if cfg.JWT.Enabled {
		if tokens == nil {
			return nil, closer, fmt.Errorf("identity.jwt is enabled without a secret")
		}
		providers = append(providers, jwt.NewProvider(tokens))
	}

	if cfg.Kerberos.Enabled {
		kcfg := cfg.Kerberos.Config
		p, err := kerberos.NewProvider(&kcfg)
		if err != nil {
			return nil, closer, fmt.Errorf("identity kerberos: %w", err)
		}
		providers = append(providers, p)
		closer = p
	}

	if len(providers) == 0 {
		return nil, closer, nil
	}
	return auth.NewAuthenticator(providers...), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
