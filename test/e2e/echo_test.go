//go:build e2e

package e2e

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomul/test/e2e/helpers"
)

const ctImageStorage = "1.2.840.10008.5.1.4.1.1.2"

type echoResult struct {
	ID       string `json:"id"`
	Outcome  string `json:"outcome"`
	Contexts []struct {
		ID     uint8  `json:"id"`
		Result string `json:"result"`
	} `json:"contexts"`
	MessagesSent int    `json:"messages_sent"`
	Rejection    string `json:"rejection"`
}

type auditRow struct {
	ID            string `json:"id"`
	Outcome       string `json:"outcome"`
	UnitsCaptured int64  `json:"units_captured"`
}

func echo(t *testing.T, s *helpers.Server, args ...string) (echoResult, error) {
	t.Helper()
	out, err := s.Run(append([]string{"echo", s.DICOMAddr, "-o", "json"}, args...)...)
	var res echoResult
	require.NoError(t, json.Unmarshal([]byte(out), &res), "echo output: %s", out)
	return res, err
}

func TestEcho_Released(t *testing.T) {
	s := helpers.StartServer(t, helpers.ServerOptions{})

	res, err := echo(t, s)
	require.NoError(t, err)
	assert.Equal(t, "released", res.Outcome)
	require.Len(t, res.Contexts, 1)
	assert.Equal(t, "acceptance", res.Contexts[0].Result)
}

func TestEcho_SendCapturesAndAudits(t *testing.T) {
	s := helpers.StartServer(t, helpers.ServerOptions{})

	dir := t.TempDir()
	command := filepath.Join(dir, "command.bin")
	dataset := filepath.Join(dir, "dataset.bin")
	require.NoError(t, os.WriteFile(command, []byte{0x00, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00}, 0600))
	require.NoError(t, os.WriteFile(dataset, make([]byte, 70000), 0600))

	res, err := echo(t, s, "--send-command", command, "--send", dataset)
	require.NoError(t, err)
	assert.Equal(t, "released", res.Outcome)
	assert.Equal(t, 2, res.MessagesSent)

	var row auditRow
	require.Eventually(t, func() bool {
		out, err := s.Run("associations", "show", res.ID, "--api-url", s.APIURL, "-o", "json")
		return err == nil && json.Unmarshal([]byte(out), &row) == nil
	}, 5*time.Second, 100*time.Millisecond)
	assert.Equal(t, "released", row.Outcome)
	assert.Equal(t, int64(2), row.UnitsCaptured)

	var files int
	require.NoError(t, filepath.WalkDir(s.CaptureDir, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files++
		}
		return err
	}))
	assert.GreaterOrEqual(t, files, 2)
}

func TestEcho_RejectedWhenNoContextIsSupported(t *testing.T) {
	s := helpers.StartServer(t, helpers.ServerOptions{ClientSyntaxes: []string{ctImageStorage}})

	res, err := echo(t, s)
	require.Error(t, err)
	assert.Equal(t, "rejected", res.Outcome)
	assert.NotEmpty(t, res.Rejection)

	out, err := s.Run("associations", "--recent", "5", "--api-url", s.APIURL, "-o", "json")
	require.NoError(t, err)
	var rows []auditRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.NotEmpty(t, rows)
	assert.Equal(t, "rejected", rows[0].Outcome)
}

func TestStatus(t *testing.T) {
	s := helpers.StartServer(t, helpers.ServerOptions{})

	out, err := s.Run("status", "--api-url", s.APIURL, "-o", "json")
	require.NoError(t, err)
	var status struct {
		Ready bool `json:"ready"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Ready)
}
