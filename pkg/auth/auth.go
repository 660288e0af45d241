package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// Provider verifies one kind of user identity.
//
// Thread safety: implementations must be safe for concurrent use.
type Provider interface {
	// CanHandle reports whether this provider verifies the request's
	// identity mode. It must not inspect the credentials in depth.
	CanHandle(id *pdu.UserIdentityRQ) bool

	// Authenticate verifies the credentials.
	//
	// Returns:
	//   - (*Result, nil) on successful verification
	//   - (nil, ErrUnsupportedMechanism) to let the next provider try
	//   - (nil, error) on failure
	Authenticate(ctx context.Context, id *pdu.UserIdentityRQ) (*Result, error)

	// Name returns the provider name for logging and diagnostics.
	Name() string
}

// Result contains the outcome of a successful verification.
type Result struct {
	// Identity is the authenticated identity.
	Identity Identity

	// Provider is the name of the Provider that handled the request.
	Provider string

	// ServerResponse is sent back in the User Identity AC sub-item when the
	// requestor asked for a positive response. Empty for the username modes.
	ServerResponse []byte
}

// Authenticator chains multiple Provider implementations and tries each in order.
//
// The first provider whose CanHandle returns true authenticates the request.
// A provider returning ErrUnsupportedMechanism passes the request on to the
// next one. If no provider takes it, ErrUnsupportedMechanism is returned.
//
// Thread safety: safe for concurrent use (providers are read-only after construction).
type Authenticator struct {
	providers []Provider
}

// NewAuthenticator creates a new Authenticator with the given providers.
func NewAuthenticator(providers ...Provider) *Authenticator {
	return &Authenticator{providers: providers}
}

// Authenticate verifies id with the first matching provider.
func (a *Authenticator) Authenticate(ctx context.Context, id *pdu.UserIdentityRQ) (*Result, error) {
	if id == nil {
		return nil, ErrInvalidCredentials
	}
	for _, p := range a.providers {
		if !p.CanHandle(id) {
			continue
		}
		res, err := p.Authenticate(ctx, id)
		if errors.Is(err, ErrUnsupportedMechanism) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
		return res, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMechanism, id.Mode)
}

// Verify implements assoc.IdentityVerifier.
func (a *Authenticator) Verify(ctx context.Context, id *pdu.UserIdentityRQ) (*assoc.IdentityResult, error) {
	res, err := a.Authenticate(ctx, id)
	if err != nil {
		return nil, err
	}
	return &assoc.IdentityResult{
		Identity:       res.Identity.Name(),
		ServerResponse: res.ServerResponse,
	}, nil
}

// Providers returns a copy of the registered providers, or nil when there
// are none.
func (a *Authenticator) Providers() []Provider {
	if a == nil || len(a.providers) == 0 {
		return nil
	}
	return slices.Clone(a.providers)
}

// Standard authentication errors.
var (
	// ErrAuthFailed indicates that verification was attempted but failed
	// (e.g., bad password, expired token, invalid ticket).
	ErrAuthFailed = errors.New("auth: authentication failed")

	// ErrUnsupportedMechanism indicates that no registered Provider can
	// handle the identity mode.
	ErrUnsupportedMechanism = errors.New("auth: unsupported authentication mechanism")

	// ErrInvalidCredentials indicates that the credentials are malformed or
	// cannot be parsed (distinct from wrong credentials).
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)

var _ assoc.IdentityVerifier = (*Authenticator)(nil)
