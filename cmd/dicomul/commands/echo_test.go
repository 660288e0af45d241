package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomul/internal/cli/credentials"
	"github.com/marmos91/dicomul/pkg/config"
)

func TestReadMessages(t *testing.T) {
	dir := t.TempDir()
	cmdFile := filepath.Join(dir, "cmd.bin")
	dsFile := filepath.Join(dir, "ds.bin")
	require.NoError(t, os.WriteFile(cmdFile, []byte{1, 2}, 0644))
	require.NoError(t, os.WriteFile(dsFile, []byte{3}, 0644))

	msgs, err := readMessages(3, []string{cmdFile}, []string{dsFile})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Command)
	assert.Equal(t, uint8(3), msgs[0].ContextID)
	assert.False(t, msgs[1].Command)
	assert.Equal(t, []byte{3}, msgs[1].Data)

	_, err = readMessages(1, nil, []string{filepath.Join(dir, "missing")})
	require.Error(t, err)
}

func TestApplyPeer(t *testing.T) {
	cc := config.ClientConfig{Address: "a:104", CallingAETitle: "SCU", CalledAETitle: "ANY-SCP"}
	applyPeer(&cc, &credentials.Peer{Address: "b:11112", CalledAETitle: "PACS"})
	assert.Equal(t, "b:11112", cc.Address)
	assert.Equal(t, "SCU", cc.CallingAETitle)
	assert.Equal(t, "PACS", cc.CalledAETitle)
}

func TestEchoIdentity_FromPeer(t *testing.T) {
	opts, err := echoIdentity(&credentials.Peer{
		IdentityType: credentials.IdentityPassword,
		Username:     "alice",
		Password:     "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", opts.Username)
	assert.Equal(t, "secret", opts.Password)

	_, err = echoIdentity(&credentials.Peer{IdentityType: credentials.IdentityJWT})
	require.Error(t, err)

	opts, err = echoIdentity(nil)
	require.NoError(t, err)
	id, err := opts.Build()
	require.NoError(t, err)
	assert.Nil(t, id)
}
