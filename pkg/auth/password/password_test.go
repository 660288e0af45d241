package password

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/marmos91/dicomul/pkg/auth"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

func newProvider(t *testing.T, allowUsernameOnly bool) *Provider {
	t.Helper()
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	p, err := New(Config{
		Users:             []User{{Username: "alice", PasswordHash: hash}},
		AllowUsernameOnly: allowUsernameOnly,
	})
	require.NoError(t, err)
	return p
}

func TestUsernamePassword(t *testing.T) {
	p := newProvider(t, false)
	ctx := context.Background()

	res, err := p.Authenticate(ctx, &pdu.UserIdentityRQ{
		Mode: pdu.IdentityUsernamePassword, Primary: []byte("alice"), Secondary: []byte("correct horse"),
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Identity.Username)
	assert.Equal(t, "password", res.Provider)
	assert.Empty(t, res.ServerResponse)

	_, err = p.Authenticate(ctx, &pdu.UserIdentityRQ{
		Mode: pdu.IdentityUsernamePassword, Primary: []byte("alice"), Secondary: []byte("wrong horse"),
	})
	assert.ErrorIs(t, err, auth.ErrAuthFailed)

	_, err = p.Authenticate(ctx, &pdu.UserIdentityRQ{
		Mode: pdu.IdentityUsernamePassword, Primary: []byte("mallory"), Secondary: []byte("correct horse"),
	})
	assert.ErrorIs(t, err, auth.ErrAuthFailed)

	_, err = p.Authenticate(ctx, &pdu.UserIdentityRQ{Mode: pdu.IdentityUsernamePassword})
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestUsernameOnly(t *testing.T) {
	id := &pdu.UserIdentityRQ{Mode: pdu.IdentityUsername, Primary: []byte("alice")}

	_, err := newProvider(t, false).Authenticate(context.Background(), id)
	assert.ErrorIs(t, err, auth.ErrAuthFailed)

	p := newProvider(t, true)
	res, err := p.Authenticate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Identity.Name())

	_, err = p.Authenticate(context.Background(), &pdu.UserIdentityRQ{Mode: pdu.IdentityUsername, Primary: []byte("bob")})
	assert.ErrorIs(t, err, auth.ErrAuthFailed)
}

func TestCanHandle(t *testing.T) {
	p := newProvider(t, false)
	assert.True(t, p.CanHandle(&pdu.UserIdentityRQ{Mode: pdu.IdentityUsername}))
	assert.True(t, p.CanHandle(&pdu.UserIdentityRQ{Mode: pdu.IdentityUsernamePassword}))
	assert.False(t, p.CanHandle(&pdu.UserIdentityRQ{Mode: pdu.IdentityJWT}))
	assert.False(t, p.CanHandle(&pdu.UserIdentityRQ{Mode: pdu.IdentityKerberos}))
}

func TestNewRejectsBadTable(t *testing.T) {
	_, err := New(Config{Users: []User{{Username: "alice", PasswordHash: "plaintext"}}})
	assert.Error(t, err)

	_, err = New(Config{Users: []User{{PasswordHash: "x"}}})
	assert.Error(t, err)

	hash, err := HashPassword("12345678")
	require.NoError(t, err)
	_, err = New(Config{Users: []User{{Username: "a", PasswordHash: hash}, {Username: "a", PasswordHash: hash}}})
	assert.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	_, err := HashPassword("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)

	_, err = HashPassword(strings.Repeat("x", 73))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	hash, err := HashPassword("a long enough password")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, DefaultBcryptCost, cost)
}

func TestDummyHashIsValid(t *testing.T) {
	_, err := bcrypt.Cost(dummyHash)
	assert.NoError(t, err)
}
