package dicom

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomul/pkg/audit"
	"github.com/marmos91/dicomul/pkg/capture/memory"
	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/marmos91/dicomul/pkg/ul/negotiation"
	"github.com/marmos91/dicomul/pkg/ul/transport"
	"github.com/marmos91/dicomul/pkg/ul/uid"
)

type auditSink struct {
	mu      sync.Mutex
	records []*audit.Record
	ch      chan *audit.Record
}

func newAuditSink() *auditSink {
	return &auditSink{ch: make(chan *audit.Record, 8)}
}

func (s *auditSink) Record(_ context.Context, r *audit.Record) error {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	s.ch <- r
	return nil
}

func (s *auditSink) next(t *testing.T) *audit.Record {
	t.Helper()
	select {
	case r := <-s.ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no audit record written")
		return nil
	}
}

func verificationPolicy(t *testing.T, abstract string) *negotiation.AcceptorPolicy {
	t.Helper()
	p, err := negotiation.NewAcceptorPolicy(negotiation.PolicyConfig{
		Syntaxes: []negotiation.SyntaxPolicy{
			{AbstractSyntax: abstract, TransferSyntaxes: []string{uid.ImplicitVRLittleEndian}},
		},
	})
	require.NoError(t, err)
	return p
}

// startAdapter serves a on a loopback port and returns its address.
func startAdapter(t *testing.T, cfg Config, opts Options) (*Adapter, string, context.CancelFunc) {
	t.Helper()
	cfg.BindAddress = "127.0.0.1"
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	a, err := New(cfg, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("adapter did not stop")
		}
	})
	return a, a.GetListenerAddr(), cancel
}

func dial(t *testing.T, addr string) *assoc.Association {
	t.Helper()
	conn, err := transport.Dial(t.Context(), addr, transport.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	params := assoc.NewParameters("MODALITY", "ARCHIVE")
	require.NoError(t, params.AddPresentationContext(1, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))
	return assoc.NewRequestor(conn, params, assoc.Config{})
}

func TestNew(t *testing.T) {
	t.Run("RequiresPolicy", func(t *testing.T) {
		_, err := New(Config{}, Options{})
		require.Error(t, err)
	})

	t.Run("RejectsBadNetwork", func(t *testing.T) {
		_, err := New(Config{AllowedNetworks: []string{"not-a-cidr"}}, Options{Policy: verificationPolicy(t, uid.Verification)})
		require.Error(t, err)
	})

	t.Run("RejectsAnnouncedLengthAboveCeiling", func(t *testing.T) {
		_, err := New(Config{MaxPDULength: 2 << 20, MaxPDUSize: 1 << 20}, Options{Policy: verificationPolicy(t, uid.Verification)})
		require.Error(t, err)
	})

	t.Run("AppliesLimits", func(t *testing.T) {
		a, err := New(Config{}, Options{Policy: verificationPolicy(t, uid.Verification)})
		require.NoError(t, err)
		assert.Equal(t, uint32(16384), a.config.MaxPDULength.Uint32())
		assert.Equal(t, 30*time.Second, a.config.ShutdownTimeout)
		assert.Equal(t, transport.DefaultConfig(), a.config.Transport)
		assert.Equal(t, "DICOM", a.Protocol())
	})
}

func TestConfigApplyDefaults(t *testing.T) {
	var c Config
	c.ApplyDefaults()
	assert.Equal(t, DefaultPort, c.Port)
	require.NoError(t, c.Validate())
}

func TestAdapter_CapturesUnitsAndAudits(t *testing.T) {
	store := memory.New()
	sink := newAuditSink()
	_, addr, _ := startAdapter(t, Config{}, Options{
		Policy:      verificationPolicy(t, uid.Verification),
		Capture:     store,
		CaptureType: "memory",
		Audit:       sink,
	})

	req := dial(t, addr)
	require.NoError(t, req.Connect(t.Context()))
	require.NoError(t, req.SendData(1, true, []byte{0x01, 0x02, 0x03, 0x04}))
	require.NoError(t, req.SendData(1, false, make([]byte, 40000)))
	_, err := req.Release(t.Context())
	require.NoError(t, err)

	rec := sink.next(t)
	assert.Equal(t, assoc.OutcomeReleased, rec.Outcome)
	assert.Equal(t, "MODALITY", rec.CallingAETitle)
	assert.Equal(t, "ARCHIVE", rec.CalledAETitle)
	assert.Equal(t, int64(2), rec.UnitsCaptured)
	assert.Equal(t, 1, rec.AcceptedContexts)

	keys, err := store.List(t.Context(), rec.ID)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	cmd, err := store.Get(t.Context(), keys[0])
	require.NoError(t, err)
	assert.True(t, cmd.Command)
	assert.Equal(t, uid.Verification, cmd.AbstractSyntax)
	assert.Equal(t, uid.ImplicitVRLittleEndian, cmd.TransferSyntax)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, cmd.Data)

	ds, err := store.Get(t.Context(), keys[1])
	require.NoError(t, err)
	assert.False(t, ds.Command)
	assert.Len(t, ds.Data, 40000)
}

func TestAdapter_ActiveAssociations(t *testing.T) {
	sink := newAuditSink()
	a, addr, _ := startAdapter(t, Config{}, Options{
		Policy: verificationPolicy(t, uid.Verification),
		Audit:  sink,
	})

	req := dial(t, addr)
	require.NoError(t, req.Connect(t.Context()))

	require.Eventually(t, func() bool {
		active := a.Active()
		return len(active) == 1 && active[0].State == assoc.StateEstablished.String()
	}, 5*time.Second, 10*time.Millisecond)

	info := a.Active()[0]
	assert.Equal(t, "MODALITY", info.CallingAETitle)
	assert.Equal(t, 1, info.AcceptedContexts)
	assert.Equal(t, int32(1), a.GetActiveConnections())

	_, err := req.Release(t.Context())
	require.NoError(t, err)
	sink.next(t)

	require.Eventually(t, func() bool {
		return len(a.Active()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAdapter_SetPolicyAffectsNewAssociations(t *testing.T) {
	sink := newAuditSink()
	a, addr, _ := startAdapter(t, Config{}, Options{
		Policy: verificationPolicy(t, uid.Verification),
		Audit:  sink,
	})

	a.SetPolicy(verificationPolicy(t, uid.CTImageStorage))
	assert.Equal(t, []string{uid.CTImageStorage}, a.Policy().AbstractSyntaxes())

	req := dial(t, addr)
	err := req.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.Is(err, cond.AssociationRejected))

	rec := sink.next(t)
	assert.Equal(t, assoc.OutcomeRejected, rec.Outcome)
	assert.Equal(t, 0, rec.AcceptedContexts)
}

func TestAdapter_RefusesPeersOutsideAllowedNetworks(t *testing.T) {
	_, addr, _ := startAdapter(t, Config{AllowedNetworks: []string{"192.0.2.0/24"}}, Options{
		Policy: verificationPolicy(t, uid.Verification),
	})

	req := dial(t, addr)
	err := req.Connect(t.Context())
	require.Error(t, err)
	assert.Equal(t, assoc.StateDropped, req.State())
}

func TestAdapter_ShutdownAbortsAssociations(t *testing.T) {
	sink := newAuditSink()
	_, addr, cancel := startAdapter(t, Config{}, Options{
		Policy: verificationPolicy(t, uid.Verification),
		Audit:  sink,
	})

	req := dial(t, addr)
	require.NoError(t, req.Connect(t.Context()))

	cancel()

	_, err := req.Receive(t.Context())
	require.Error(t, err)
	assert.True(t, req.State().Terminal())

	rec := sink.next(t)
	assert.Equal(t, assoc.OutcomeAborted, rec.Outcome)
}
