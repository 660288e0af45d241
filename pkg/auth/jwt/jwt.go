// Package jwt verifies JSON Web Token user identities (identity mode 5) and
// mints the tokens requestors present.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/marmos91/dicomul/pkg/auth"
	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// Common errors for JWT operations.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrExpiredToken        = errors.New("token has expired")
	ErrInvalidTokenType    = errors.New("invalid token type")
	ErrTokenSigningFailed  = errors.New("failed to sign token")
	ErrInvalidSecretLength = errors.New("JWT secret must be at least 32 characters")
)

// TokenType tells identity tokens from the acknowledgements the acceptor
// returns.
type TokenType string

const (
	// TokenTypeIdentity is presented by a requestor.
	TokenTypeIdentity TokenType = "identity"
	// TokenTypeAck is the acceptor's positive response.
	TokenTypeAck TokenType = "ack"
)

// Claims are the claims of dicomul tokens.
type Claims struct {
	gojwt.RegisteredClaims

	// CallingAETitle optionally binds the token to one requestor AE title.
	CallingAETitle string `json:"calling_ae,omitempty"`

	TokenType TokenType `json:"token_type"`
}

// Config holds configuration for JWT tokens.
type Config struct {
	// Secret is the HMAC signing key. Must be at least 32 characters.
	Secret string `mapstructure:"secret" yaml:"secret,omitempty"`

	// Issuer is the token issuer claim. Default: "dicomul"
	Issuer string `mapstructure:"issuer" yaml:"issuer,omitempty"`

	// TokenDuration is the lifetime of minted identity tokens. Default: 1 hour.
	TokenDuration time.Duration `mapstructure:"token_duration" yaml:"token_duration,omitempty"`

	// AckDuration is the lifetime of acknowledgement tokens. Default: 5 minutes.
	AckDuration time.Duration `mapstructure:"ack_duration" yaml:"ack_duration,omitempty"`
}

// Service signs and validates tokens.
type Service struct {
	config Config
}

// NewService creates a new JWT service with the given configuration.
func NewService(config Config) (*Service, error) {
	if len(config.Secret) < 32 {
		return nil, ErrInvalidSecretLength
	}
	if config.Issuer == "" {
		config.Issuer = "dicomul"
	}
	if config.TokenDuration == 0 {
		config.TokenDuration = time.Hour
	}
	if config.AckDuration == 0 {
		config.AckDuration = 5 * time.Minute
	}
	return &Service{config: config}, nil
}

// Issue mints an identity token for subject. callingAE may be empty.
func (s *Service) Issue(subject, callingAE string) (string, time.Time, error) {
	expires := time.Now().Add(s.config.TokenDuration)
	token, err := s.sign(subject, callingAE, TokenTypeIdentity, expires)
	return token, expires, err
}

func (s *Service) sign(subject, callingAE string, tokenType TokenType, expiresAt time.Time) (string, error) {
	claims := &Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   subject,
			IssuedAt:  gojwt.NewNumericDate(time.Now()),
			ExpiresAt: gojwt.NewNumericDate(expiresAt),
		},
		CallingAETitle: callingAE,
		TokenType:      tokenType,
	}

	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", ErrTokenSigningFailed
	}
	return signed, nil
}

// Validate checks signature, expiry and issuer, and returns the claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	token, err := gojwt.ParseWithClaims(tokenString, &Claims{}, func(token *gojwt.Token) (any, error) {
		if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, gojwt.WithIssuer(s.config.Issuer))
	if err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateIdentity validates a token and ensures it is an identity token.
func (s *Service) ValidateIdentity(tokenString string) (*Claims, error) {
	claims, err := s.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeIdentity {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

// Provider verifies JWT identities. Its positive response is a freshly
// signed acknowledgement token for the same subject.
type Provider struct {
	service *Service
}

// NewProvider returns a provider backed by service.
func NewProvider(service *Service) *Provider {
	return &Provider{service: service}
}

func (p *Provider) Name() string { return "jwt" }

func (p *Provider) CanHandle(id *pdu.UserIdentityRQ) bool {
	return id.Mode == pdu.IdentityJWT
}

func (p *Provider) Authenticate(ctx context.Context, id *pdu.UserIdentityRQ) (*auth.Result, error) {
	if len(id.Primary) == 0 {
		return nil, auth.ErrInvalidCredentials
	}
	claims, err := p.service.ValidateIdentity(string(id.Primary))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrAuthFailed, err)
	}
	if claims.CallingAETitle != "" {
		if calling, ok := assoc.CallingAETitle(ctx); ok && calling != claims.CallingAETitle {
			return nil, fmt.Errorf("%w: token bound to calling AE %q", auth.ErrAuthFailed, claims.CallingAETitle)
		}
	}

	ack, err := p.service.sign(claims.Subject, claims.CallingAETitle, TokenTypeAck, time.Now().Add(p.service.config.AckDuration))
	if err != nil {
		return nil, err
	}

	return &auth.Result{
		Identity: auth.Identity{
			Username:   claims.Subject,
			Attributes: map[string]string{"issuer": claims.Issuer},
		},
		Provider:       p.Name(),
		ServerResponse: []byte(ack),
	}, nil
}

var _ auth.Provider = (*Provider)(nil)
