package kerberos

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/marmos91/dicomul/internal/logger"
)

const keytabPollInterval = 60 * time.Second

// KeytabManager polls a keytab file and reloads the provider's copy when
// its modification time changes. Key management tools usually replace the
// file by rename, which polling observes on every platform.
type KeytabManager struct {
	path     string
	provider *Provider
	interval time.Duration
	stopCh   chan struct{}
	mu       sync.Mutex
	lastMod  time.Time
}

// NewKeytabManager creates a keytab manager (not yet started).
func NewKeytabManager(path string, provider *Provider) *KeytabManager {
	return &KeytabManager{
		path:     path,
		provider: provider,
		interval: keytabPollInterval,
		stopCh:   make(chan struct{}),
	}
}

// Start records the file's modification time and begins polling.
func (km *KeytabManager) Start() error {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, err := os.Stat(km.path)
	if err != nil {
		return fmt.Errorf("keytab file not accessible: %w", err)
	}
	km.lastMod = info.ModTime()

	go km.pollLoop()

	logger.Info("Keytab hot-reload started",
		logger.KeyPath, km.path,
		"poll_interval", km.interval.String())
	return nil
}

// Stop ends polling. Safe to call multiple times or on a manager that was
// never started.
func (km *KeytabManager) Stop() {
	km.mu.Lock()
	defer km.mu.Unlock()

	select {
	case <-km.stopCh:
	default:
		close(km.stopCh)
	}
}

func (km *KeytabManager) pollLoop() {
	ticker := time.NewTicker(km.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			km.checkAndReload()
		case <-km.stopCh:
			return
		}
	}
}

// checkAndReload reloads the keytab if the file changed. It reports whether
// a reload happened.
func (km *KeytabManager) checkAndReload() bool {
	km.mu.Lock()
	defer km.mu.Unlock()

	info, err := os.Stat(km.path)
	if err != nil {
		logger.Error("Keytab file stat failed", logger.KeyPath, km.path, logger.Err(err))
		return false
	}

	modTime := info.ModTime()
	if modTime.Equal(km.lastMod) {
		return false
	}

	if err := km.provider.ReloadKeytab(); err != nil {
		logger.Error("Keytab reload failed", logger.KeyPath, km.path, logger.Err(err))
		return false
	}

	km.lastMod = modTime
	logger.Info("Keytab reloaded", logger.KeyPath, km.path)
	return true
}

// resolveKeytabPath prefers DICOMUL_KERBEROS_KEYTAB over the configured path.
func resolveKeytabPath(configPath string) string {
	if envPath := os.Getenv("DICOMUL_KERBEROS_KEYTAB"); envPath != "" {
		return envPath
	}
	return configPath
}

// resolveServicePrincipal prefers DICOMUL_KERBEROS_PRINCIPAL over the
// configured principal.
func resolveServicePrincipal(configPrincipal string) string {
	if envSPN := os.Getenv("DICOMUL_KERBEROS_PRINCIPAL"); envSPN != "" {
		return envSPN
	}
	return configPrincipal
}
