//go:build e2e

// Package helpers drives the dicomul binary for end-to-end tests.
package helpers

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"testing"
	"text/template"
	"time"
)

var binary string

// BuildBinary compiles cmd/dicomul into dir. Tests call Run and
// StartServer afterwards.
func BuildBinary(dir string) error {
	if path := os.Getenv("DICOMUL_E2E_BINARY"); path != "" {
		binary = path
		return nil
	}
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "..", "..", "..")

	binary = filepath.Join(dir, "dicomul")
	cmd := exec.Command("go", "build", "-o", binary, "./cmd/dicomul")
	cmd.Dir = root
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("build dicomul: %w\n%s", err, out)
	}
	return nil
}

// FreePort returns a loopback port nothing listens on.
func FreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer func() { _ = ln.Close() }()
	return ln.Addr().(*net.TCPAddr).Port
}

// ServerOptions shape the generated configuration.
type ServerOptions struct {
	// AbstractSyntaxes supported by the acceptor. Default: Verification.
	AbstractSyntaxes []string

	// ClientSyntaxes proposed by "dicomul echo". Default: Verification.
	ClientSyntaxes []string
}

// Server is a "dicomul start --foreground" subprocess.
type Server struct {
	t          *testing.T
	cmd        *exec.Cmd
	home       string
	ConfigFile string
	CaptureDir string
	DICOMAddr  string
	APIURL     string
	logFile    string
}

const configTemplate = `logging:
  level: DEBUG
  format: text
  output: stdout
shutdown_timeout: 5s
server:
  bind_address: 127.0.0.1
  port: {{.DICOMPort}}
policy:
  ae_title: DICOMUL
  syntaxes:
{{- range .Syntaxes}}
    - abstract_syntax: "{{.}}"
      transfer_syntaxes: ["1.2.840.10008.1.2"]
{{- end}}
capture:
  type: filesystem
  filesystem:
    base_path: "{{.CaptureDir}}"
    create_dir: true
audit:
  enabled: true
  type: sqlite
  sqlite:
    path: "{{.AuditPath}}"
api:
  port: {{.APIPort}}
client:
  called_ae_title: DICOMUL
  contexts:
{{- range .ClientSyntaxes}}
    - abstract_syntax: "{{.}}"
      transfer_syntaxes: ["1.2.840.10008.1.2"]
{{- end}}
`

// StartServer writes a configuration into a temporary directory, starts
// the acceptor and waits until /health/ready answers 200.
func StartServer(t *testing.T, opts ServerOptions) *Server {
	t.Helper()
	if len(opts.AbstractSyntaxes) == 0 {
		opts.AbstractSyntaxes = []string{"1.2.840.10008.1.1"}
	}
	if len(opts.ClientSyntaxes) == 0 {
		opts.ClientSyntaxes = []string{"1.2.840.10008.1.1"}
	}

	home := t.TempDir()
	s := &Server{
		t:          t,
		home:       home,
		ConfigFile: filepath.Join(home, "config.yaml"),
		CaptureDir: filepath.Join(home, "captures"),
		logFile:    filepath.Join(home, "dicomul.log"),
	}
	dicomPort, apiPort := FreePort(t), FreePort(t)
	s.DICOMAddr = fmt.Sprintf("127.0.0.1:%d", dicomPort)
	s.APIURL = fmt.Sprintf("http://127.0.0.1:%d", apiPort)

	var cfg bytes.Buffer
	err := template.Must(template.New("config").Parse(configTemplate)).Execute(&cfg, map[string]any{
		"DICOMPort":      dicomPort,
		"APIPort":        apiPort,
		"Syntaxes":       opts.AbstractSyntaxes,
		"ClientSyntaxes": opts.ClientSyntaxes,
		"CaptureDir":     filepath.ToSlash(s.CaptureDir),
		"AuditPath":      filepath.ToSlash(filepath.Join(home, "audit.db")),
	})
	if err != nil {
		t.Fatalf("render config: %v", err)
	}
	if err := os.WriteFile(s.ConfigFile, cfg.Bytes(), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	log, err := os.Create(s.logFile)
	if err != nil {
		t.Fatalf("create log file: %v", err)
	}
	s.cmd = exec.Command(binary, "start", "--foreground",
		"--config", s.ConfigFile,
		"--pid-file", filepath.Join(home, "dicomul.pid"))
	s.cmd.Env = s.env()
	s.cmd.Stdout = log
	s.cmd.Stderr = log
	if err := s.cmd.Start(); err != nil {
		_ = log.Close()
		t.Fatalf("start dicomul: %v", err)
	}
	t.Cleanup(func() {
		s.Stop()
		_ = log.Close()
		if t.Failed() {
			s.dumpLogs()
		}
	})

	if err := s.waitReady(10 * time.Second); err != nil {
		s.dumpLogs()
		t.Fatalf("server not ready: %v", err)
	}
	return s
}

func (s *Server) env() []string {
	var env []string
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, "DICOMUL_") && !strings.HasPrefix(e, "XDG_") {
			env = append(env, e)
		}
	}
	return append(env,
		"XDG_CONFIG_HOME="+filepath.Join(s.home, "config"),
		"XDG_STATE_HOME="+filepath.Join(s.home, "state"))
}

func (s *Server) waitReady(timeout time.Duration) error {
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(s.APIURL + "/health/ready")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("no ready answer from %s within %s", s.APIURL, timeout)
}

// Stop sends SIGTERM and waits for exit, killing the process after 10s.
func (s *Server) Stop() {
	if s.cmd.ProcessState != nil {
		return
	}
	_ = s.cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			s.t.Errorf("dicomul exited with %v", err)
		}
	case <-time.After(10 * time.Second):
		_ = s.cmd.Process.Kill()
		<-done
		s.t.Error("dicomul did not stop after SIGTERM")
	}
}

func (s *Server) dumpLogs() {
	data, err := os.ReadFile(s.logFile)
	if err != nil {
		return
	}
	s.t.Logf("dicomul log:\n%s", data)
}

// Run executes the CLI against this server's configuration and returns
// stdout. The error carries stderr.
func (s *Server) Run(args ...string) (string, error) {
	s.t.Helper()
	cmd := exec.Command(binary, append([]string{"--config", s.ConfigFile}, args...)...)
	cmd.Env = s.env()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
