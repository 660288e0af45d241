package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dicomul/pkg/config"
)

func TestConfigWarnings(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Capture.Type = "memory"
	cfg.Identity.JWT.Secret = ""
	assert.Empty(t, configWarnings(cfg))

	cfg.Identity.Enforce = true
	cfg.API.RequireToken = true
	cfg.Capture.Type = "none"
	warnings := configWarnings(cfg)
	assert.Len(t, warnings, 3)
}
