package jwt

import (
	"context"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomul/pkg/auth"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(Config{Secret: testSecret})
	require.NoError(t, err)
	return s
}

func TestNewService(t *testing.T) {
	_, err := NewService(Config{Secret: "short"})
	assert.ErrorIs(t, err, ErrInvalidSecretLength)

	s := newService(t)
	assert.Equal(t, "dicomul", s.config.Issuer)
	assert.Equal(t, time.Hour, s.config.TokenDuration)
	assert.Equal(t, 5*time.Minute, s.config.AckDuration)
}

func TestIssueAndValidate(t *testing.T) {
	s := newService(t)
	token, expires, err := s.Issue("alice", "MODALITY")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := s.ValidateIdentity(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "MODALITY", claims.CallingAETitle)
	assert.Equal(t, TokenTypeIdentity, claims.TokenType)
}

func TestValidateRejects(t *testing.T) {
	s := newService(t)

	t.Run("expired", func(t *testing.T) {
		token, err := s.sign("alice", "", TokenTypeIdentity, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		_, err = s.Validate(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewService(Config{Secret: "fedcba9876543210fedcba9876543210"})
		require.NoError(t, err)
		token, _, err := other.Issue("alice", "")
		require.NoError(t, err)
		_, err = s.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other issuer", func(t *testing.T) {
		other, err := NewService(Config{Secret: testSecret, Issuer: "someone-else"})
		require.NoError(t, err)
		token, _, err := other.Issue("alice", "")
		require.NoError(t, err)
		_, err = s.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("none algorithm", func(t *testing.T) {
		token, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, &Claims{TokenType: TokenTypeIdentity}).
			SignedString(gojwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = s.Validate(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("ack is not an identity", func(t *testing.T) {
		token, err := s.sign("alice", "", TokenTypeAck, time.Now().Add(time.Minute))
		require.NoError(t, err)
		_, err = s.ValidateIdentity(token)
		assert.ErrorIs(t, err, ErrInvalidTokenType)
	})
}

func TestProvider(t *testing.T) {
	s := newService(t)
	p := NewProvider(s)
	assert.True(t, p.CanHandle(&pdu.UserIdentityRQ{Mode: pdu.IdentityJWT}))
	assert.False(t, p.CanHandle(&pdu.UserIdentityRQ{Mode: pdu.IdentitySAML}))

	token, _, err := s.Issue("alice", "")
	require.NoError(t, err)

	res, err := p.Authenticate(context.Background(), &pdu.UserIdentityRQ{Mode: pdu.IdentityJWT, Primary: []byte(token)})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Identity.Username)
	assert.Equal(t, "jwt", res.Provider)

	ack, err := s.Validate(string(res.ServerResponse))
	require.NoError(t, err)
	assert.Equal(t, TokenTypeAck, ack.TokenType)
	assert.Equal(t, "alice", ack.Subject)

	_, err = p.Authenticate(context.Background(), &pdu.UserIdentityRQ{Mode: pdu.IdentityJWT, Primary: []byte("garbage")})
	assert.ErrorIs(t, err, auth.ErrAuthFailed)

	_, err = p.Authenticate(context.Background(), &pdu.UserIdentityRQ{Mode: pdu.IdentityJWT})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}
