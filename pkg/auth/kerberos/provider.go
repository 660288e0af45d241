package kerberos

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/jcmturner/gofork/encoding/asn1"
	"github.com/jcmturner/gokrb5/v8/keytab"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/service"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/pkg/auth"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// Provider manages the keytab and service principal and verifies
// Kerberos identities against them.
//
// Thread Safety: All methods are safe for concurrent use. The keytab can be
// hot-reloaded at runtime via ReloadKeytab() without disrupting verifications
// in flight.
type Provider struct {
	keytab           *keytab.Keytab
	servicePrincipal string
	maxClockSkew     time.Duration
	keytabPath       string
	keytabManager    *KeytabManager
	mu               sync.RWMutex
}

// NewProvider loads the keytab and starts a KeytabManager that polls it
// for changes.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kerberos config is nil")
	}

	keytabPath := resolveKeytabPath(cfg.KeytabPath)
	if keytabPath == "" {
		return nil, fmt.Errorf("kerberos keytab path not configured (set keytab_path or DICOMUL_KERBEROS_KEYTAB)")
	}

	servicePrincipal := resolveServicePrincipal(cfg.ServicePrincipal)
	if servicePrincipal == "" {
		return nil, fmt.Errorf("kerberos service principal not configured (set service_principal or DICOMUL_KERBEROS_PRINCIPAL)")
	}

	kt, err := loadKeytab(keytabPath)
	if err != nil {
		return nil, fmt.Errorf("load keytab %s: %w", keytabPath, err)
	}

	skew := cfg.MaxClockSkew
	if skew == 0 {
		skew = DefaultMaxClockSkew
	}

	p := &Provider{
		keytab:           kt,
		servicePrincipal: servicePrincipal,
		maxClockSkew:     skew,
		keytabPath:       keytabPath,
	}

	km := NewKeytabManager(keytabPath, p)
	if err := km.Start(); err != nil {
		// The file can vanish between load and start; verification still works.
		logger.Warn("Keytab hot-reload failed to start, continuing without it",
			logger.KeyPath, keytabPath, logger.Err(err))
	}
	p.keytabManager = km

	return p, nil
}

// Keytab returns the current keytab (thread-safe read).
func (p *Provider) Keytab() *keytab.Keytab {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.keytab
}

// ServicePrincipal returns the configured service principal name.
func (p *Provider) ServicePrincipal() string {
	return p.servicePrincipal
}

// MaxClockSkew returns the maximum allowed clock skew.
func (p *Provider) MaxClockSkew() time.Duration {
	return p.maxClockSkew
}

// ReloadKeytab re-reads the keytab file and atomically swaps it. On error
// the old keytab remains active.
func (p *Provider) ReloadKeytab() error {
	kt, err := loadKeytab(p.keytabPath)
	if err != nil {
		return fmt.Errorf("reload keytab %s: %w", p.keytabPath, err)
	}

	p.mu.Lock()
	p.keytab = kt
	p.mu.Unlock()

	return nil
}

// Close stops the KeytabManager's polling goroutine. Safe to call multiple times.
func (p *Provider) Close() error {
	if p.keytabManager != nil {
		p.keytabManager.Stop()
	}
	return nil
}

func (p *Provider) Name() string {
	return "kerberos"
}

func (p *Provider) CanHandle(id *pdu.UserIdentityRQ) bool {
	return id.Mode == pdu.IdentityKerberos
}

// Authenticate verifies the AP-REQ carried in the primary field.
func (p *Provider) Authenticate(_ context.Context, id *pdu.UserIdentityRQ) (*auth.Result, error) {
	raw, viaSPNEGO, err := extractAPReq(id.Primary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", auth.ErrInvalidCredentials, err)
	}

	var apReq messages.APReq
	if err := apReq.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshal AP-REQ: %w", auth.ErrInvalidCredentials, err)
	}

	settings := service.NewSettings(
		p.Keytab(),
		service.MaxClockSkew(p.MaxClockSkew()),
		service.DecodePAC(false),
		service.KeytabPrincipal(p.ServicePrincipal()),
	)
	ok, _, err := service.VerifyAPREQ(&apReq, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: verify AP-REQ: %w", auth.ErrAuthFailed, err)
	}
	if !ok {
		return nil, auth.ErrAuthFailed
	}

	// The client principal is in the decrypted ticket, not the authenticator.
	name := apReq.Ticket.DecryptedEncPart.CName.PrincipalNameString()
	realm := apReq.Ticket.DecryptedEncPart.CRealm
	mechanism := "krb5"
	if viaSPNEGO {
		mechanism = "spnego"
	}

	res := &auth.Result{
		Identity: auth.Identity{
			Username:  name,
			Principal: name + "@" + realm,
			Attributes: map[string]string{
				"realm":     realm,
				"mechanism": mechanism,
			},
		},
		Provider: p.Name(),
	}

	if id.PositiveResponseRequested {
		rep, err := p.reply(apReq, viaSPNEGO)
		if err != nil {
			return nil, err
		}
		res.ServerResponse = rep
	}
	return res, nil
}

// reply builds the AP-REP server response, wrapped like the request.
func (p *Provider) reply(apReq messages.APReq, viaSPNEGO bool) ([]byte, error) {
	sessionKey := apReq.Ticket.DecryptedEncPart.Key
	if err := apReq.DecryptAuthenticator(sessionKey); err != nil {
		return nil, fmt.Errorf("decrypt authenticator: %w", err)
	}
	rep, err := buildAPRep(apReq, sessionKey)
	if err != nil {
		return nil, err
	}
	if !viaSPNEGO {
		return rep, nil
	}
	resp := spnego.NegTokenResp{
		NegState:      asn1.Enumerated(negStateAcceptCompleted),
		SupportedMech: OIDKerberosV5,
		ResponseToken: rep,
	}
	return resp.Marshal()
}

// loadKeytab reads and parses a keytab file.
func loadKeytab(path string) (*keytab.Keytab, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keytab file: %w", err)
	}

	kt := keytab.New()
	if err := kt.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parse keytab: %w", err)
	}

	return kt, nil
}

var _ auth.Provider = (*Provider)(nil)
