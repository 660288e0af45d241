package assoc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/marmos91/dicomul/pkg/ul/negotiation"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
	"github.com/marmos91/dicomul/pkg/ul/pdv"
	"github.com/marmos91/dicomul/pkg/ul/transport"
	"github.com/marmos91/dicomul/pkg/ul/uid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helpers
// ============================================================================

// recordConn captures written PDUs and reports EOF on read.
type recordConn struct {
	mu     sync.Mutex
	out    bytes.Buffer
	closed bool
}

func (c *recordConn) Read([]byte) (int, error) { return 0, io.EOF }

func (c *recordConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, cond.TransportClosed.Errorf("closed")
	}
	return c.out.Write(p)
}

func (c *recordConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordConn) RemoteAddr() string { return "127.0.0.1:104" }

func (c *recordConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// pdus decodes everything written so far.
func (c *recordConn) pdus(t *testing.T) []pdu.PDU {
	t.Helper()
	c.mu.Lock()
	r := bytes.NewReader(c.out.Bytes())
	c.mu.Unlock()
	var out []pdu.PDU
	for r.Len() > 0 {
		raw, err := pdu.Codec{}.ReadRaw(r)
		require.NoError(t, err)
		p, err := pdu.Decode(raw)
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func testPolicy(t *testing.T, mutate ...func(*negotiation.PolicyConfig)) *negotiation.AcceptorPolicy {
	t.Helper()
	cfg := negotiation.PolicyConfig{
		Syntaxes: []negotiation.SyntaxPolicy{
			{AbstractSyntax: uid.Verification, TransferSyntaxes: []string{uid.ImplicitVRLittleEndian, uid.ExplicitVRLittleEndian}},
			{AbstractSyntax: uid.SecondaryCaptureStorage, TransferSyntaxes: []string{uid.ImplicitVRLittleEndian}},
			{AbstractSyntax: uid.CTImageStorage, TransferSyntaxes: []string{uid.ImplicitVRLittleEndian, uid.ExplicitVRLittleEndian}},
			{AbstractSyntax: uid.PatientRootQueryGet, TransferSyntaxes: []string{uid.ImplicitVRLittleEndian}, Role: negotiation.RoleSCP},
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	p, err := negotiation.NewAcceptorPolicy(cfg)
	require.NoError(t, err)
	return p
}

func pipeConfig() transport.Config {
	return transport.Config{ReadTimeout: 5 * time.Second, WriteTimeout: 500 * time.Millisecond}
}

// serve runs an acceptor until it ends, forwarding completed units.
type served struct {
	assoc *Association
	units chan pdv.Unit
	done  chan error
}

func serve(t *testing.T, conn transport.Connection, cfg Config) *served {
	t.Helper()
	s := &served{
		assoc: NewAcceptor(conn, cfg),
		units: make(chan pdv.Unit, 64),
		done:  make(chan error, 1),
	}
	go func() {
		ctx := context.Background()
		if err := s.assoc.Accept(ctx); err != nil {
			s.done <- err
			return
		}
		for !s.assoc.State().Terminal() {
			ev, err := s.assoc.Receive(ctx)
			for _, u := range ev.Units {
				s.units <- u
			}
			if err != nil {
				s.done <- err
				return
			}
		}
		s.done <- s.assoc.Err()
	}()
	return s
}

func (s *served) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("acceptor did not finish")
		return nil
	}
}

func pair(t *testing.T, params *Parameters, rcfg, acfg Config) (*Association, *served) {
	t.Helper()
	rc, ac := transport.Pipe(pipeConfig())
	t.Cleanup(func() {
		_ = rc.Close()
		_ = ac.Close()
	})
	if acfg.Policy == nil {
		acfg.Policy = testPolicy(t)
	}
	acc := serve(t, ac, acfg)
	return NewRequestor(rc, params, rcfg), acc
}

// established returns an association forced into the Established state
// with the given accepted contexts.
func established(side Side, peerMax uint32, contexts ...PresentationContext) (*Association, *recordConn) {
	conn := &recordConn{}
	params := &Parameters{PeerMaxPDULength: peerMax, PresentationContexts: contexts}
	a := newAssociation(conn, side, params, Config{})
	a.reasm = pdv.NewReassembler(params.isAccepted, 0)
	a.state = StateEstablished
	return a, conn
}

func accepted(id uint8, abstract string) PresentationContext {
	return PresentationContext{ID: id, AbstractSyntax: abstract, Result: pdu.ResultAcceptance,
		TransferSyntax: uid.ImplicitVRLittleEndian}
}

func encode(t *testing.T, p pdu.PDU) []byte {
	t.Helper()
	raw, err := pdu.Encode(p)
	require.NoError(t, err)
	return raw
}

// ============================================================================
// Establishment
// ============================================================================

func TestEstablishTransferAndRelease(t *testing.T) {
	params := NewParameters("MODALITY", "ARCHIVE")
	require.NoError(t, params.AddPresentationContext(1, uid.SecondaryCaptureStorage,
		[]string{uid.ExplicitVRLittleEndian, uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))

	req, acc := pair(t, params, Config{}, Config{LocalMaxPDULength: 4096})
	require.NoError(t, req.Connect(context.Background()))
	assert.Equal(t, StateEstablished, req.State())

	// First transfer syntax the acceptor supports, in proposal order.
	pc, ok := req.Parameters().AcceptedContext(uid.SecondaryCaptureStorage)
	require.True(t, ok)
	assert.Equal(t, uid.ImplicitVRLittleEndian, pc.TransferSyntax)
	assert.Equal(t, uint32(4096), req.Parameters().PeerMaxPDULength)
	assert.Equal(t, ImplementationClassUID, req.Parameters().PeerImplementationClassUID)

	command := []byte("command")
	dataset := bytes.Repeat([]byte{0xAB}, 10000)
	require.NoError(t, req.SendData(1, true, command))
	require.NoError(t, req.SendData(1, false, dataset))

	got := []pdv.Unit{<-acc.units, <-acc.units}
	assert.Equal(t, pdv.Unit{ContextID: 1, Command: true, Data: command}, got[0])
	assert.Equal(t, pdv.Unit{ContextID: 1, Command: false, Data: dataset}, got[1])

	units, err := req.Release(context.Background())
	require.NoError(t, err)
	assert.Empty(t, units)
	assert.Equal(t, StateReleased, req.State())
	assert.NoError(t, req.Err())

	require.NoError(t, acc.wait(t))
	assert.Equal(t, StateReleased, acc.assoc.State())
	assert.Equal(t, OutcomeReleased, req.Outcome())
	assert.Equal(t, OutcomeReleased, acc.assoc.Outcome())

	// RQ, command PDU, three dataset PDUs at 4096, RELEASE-RQ.
	assert.Equal(t, uint64(6), req.Stats().PDUsOut)
	assert.Equal(t, uint64(6), acc.assoc.Stats().PDUsIn)
	assert.Equal(t, req.Stats().BytesOut, acc.assoc.Stats().BytesIn)
}

func TestEstablishWithOneRejectedContext(t *testing.T) {
	params := NewParameters("MODALITY", "ARCHIVE")
	require.NoError(t, params.AddPresentationContext(1, uid.MRImageStorage, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))
	require.NoError(t, params.AddPresentationContext(3, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))
	require.NoError(t, params.AddPresentationContext(5, uid.CTImageStorage, []string{uid.JPEGBaseline}, negotiation.RoleDefault))

	req, acc := pair(t, params, Config{}, Config{})
	require.NoError(t, req.Connect(context.Background()))

	p := req.Parameters()
	mr, _ := p.Context(1)
	assert.Equal(t, pdu.ResultAbstractSyntaxNotSupported, mr.Result)
	ct, _ := p.Context(5)
	assert.Equal(t, pdu.ResultTransferSyntaxesNotSupported, ct.Result)
	assert.Equal(t, 1, p.AcceptedCount())

	req.Abort()
	assert.ErrorIs(t, acc.wait(t), cond.PeerAborted)
	assert.Equal(t, StateAborted, acc.assoc.State())
}

func TestNoAcceptableContextsRejects(t *testing.T) {
	params := NewParameters("MODALITY", "ARCHIVE")
	require.NoError(t, params.AddPresentationContext(1, uid.MRImageStorage, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))

	req, acc := pair(t, params, Config{}, Config{})
	err := req.Connect(context.Background())
	assert.ErrorIs(t, err, cond.AssociationRejected)
	assert.Equal(t, StateAborted, req.State())
	require.NotNil(t, req.Parameters().Rejection)
	assert.Equal(t, pdu.RejectSourceServiceUser, req.Parameters().Rejection.Source)

	// A negotiated rejection is not an error for the acceptor.
	assert.NoError(t, acc.wait(t))
	assert.Equal(t, StateReleased, acc.assoc.State())
	require.NotNil(t, acc.assoc.Parameters().Rejection)
	assert.Equal(t, pdu.RejectReasonNoReason, acc.assoc.Parameters().Rejection.Reason)
	assert.Equal(t, OutcomeRejected, req.Outcome())
	assert.Equal(t, OutcomeRejected, acc.assoc.Outcome())
}

func TestAETitleAdmission(t *testing.T) {
	policy := testPolicy(t, func(c *negotiation.PolicyConfig) {
		c.CalledAETitle = "ARCHIVE"
		c.CallingAETitles = []string{"MODALITY"}
	})

	tests := []struct {
		name    string
		calling string
		called  string
		reason  uint8
	}{
		{"CalledNotRecognized", "MODALITY", "OTHER", pdu.RejectReasonCalledAETitleNotRecognized},
		{"CallingNotRecognized", "INTRUDER", "ARCHIVE", pdu.RejectReasonCallingAETitleNotRecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := NewParameters(tt.calling, tt.called)
			require.NoError(t, params.AddPresentationContext(1, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))

			req, acc := pair(t, params, Config{}, Config{Policy: policy})
			assert.ErrorIs(t, req.Connect(context.Background()), cond.AssociationRejected)
			assert.Equal(t, tt.reason, req.Parameters().Rejection.Reason)
			assert.NoError(t, acc.wait(t))
		})
	}
}

func TestProtocolVersionAndApplicationContextRejected(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*pdu.AssociateRQ)
		want   pdu.AssociateRJ
	}{
		{
			"ProtocolVersion",
			func(rq *pdu.AssociateRQ) { rq.ProtocolVersion = 2 },
			pdu.AssociateRJ{Result: pdu.RejectPermanent, Source: pdu.RejectSourceServiceProviderACSE,
				Reason: pdu.RejectReasonProtocolVersionNotSupported},
		},
		{
			"ApplicationContext",
			func(rq *pdu.AssociateRQ) { rq.ApplicationContext = "1.2.3" },
			pdu.AssociateRJ{Result: pdu.RejectPermanent, Source: pdu.RejectSourceServiceUser,
				Reason: pdu.RejectReasonApplicationContextNotSupported},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := NewParameters("MODALITY", "ARCHIVE")
			require.NoError(t, params.AddPresentationContext(1, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))
			rq, err := params.buildAssociateRQ()
			require.NoError(t, err)
			tt.mutate(rq)

			conn := &recordConn{}
			a := NewAcceptor(conn, Config{Policy: testPolicy(t)})
			_, err = a.Dispatch(context.Background(), encode(t, rq))
			require.NoError(t, err)

			assert.Equal(t, StateReleased, a.State())
			written := conn.pdus(t)
			require.Len(t, written, 1)
			assert.Equal(t, &tt.want, written[0])
			assert.True(t, conn.isClosed())
		})
	}
}

func TestRoleSelectionOnTheWire(t *testing.T) {
	params := NewParameters("MODALITY", "ARCHIVE")
	require.NoError(t, params.AddPresentationContext(1, uid.PatientRootQueryGet, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleSCUSCP))
	require.NoError(t, params.AddPresentationContext(3, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))

	req, acc := pair(t, params, Config{}, Config{})
	require.NoError(t, req.Connect(context.Background()))

	get, ok := req.Parameters().AcceptedContext(uid.PatientRootQueryGet)
	require.True(t, ok)
	assert.Equal(t, negotiation.RoleSCP, get.AcceptedRole)

	echo, ok := req.Parameters().AcceptedContext(uid.Verification)
	require.True(t, ok)
	assert.Equal(t, negotiation.RoleDefault, echo.AcceptedRole)

	_, err := req.Release(context.Background())
	require.NoError(t, err)
	require.NoError(t, acc.wait(t))
}

func TestDefaultRoleAgainstSCPOnly(t *testing.T) {
	for _, always := range []bool{false, true} {
		params := NewParameters("MODALITY", "ARCHIVE")
		require.NoError(t, params.AddPresentationContext(1, uid.PatientRootQueryGet, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))
		require.NoError(t, params.AddPresentationContext(3, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))

		policy := testPolicy(t, func(c *negotiation.PolicyConfig) { c.AlwaysAcceptDefaultRole = always })
		req, acc := pair(t, params, Config{}, Config{Policy: policy})
		require.NoError(t, req.Connect(context.Background()))

		get, _ := req.Parameters().Context(1)
		if always {
			assert.True(t, get.Accepted())
			assert.Empty(t, acc.assoc.Parameters().Warnings)
		} else {
			assert.Equal(t, pdu.ResultNoReason, get.Result)
			require.Len(t, acc.assoc.Parameters().Warnings, 1)
			assert.ErrorIs(t, acc.assoc.Parameters().Warnings[0], cond.RoleNegotiationFailed)
		}

		_, err := req.Release(context.Background())
		require.NoError(t, err)
		require.NoError(t, acc.wait(t))
	}
}

func TestExtendedNegotiationEcho(t *testing.T) {
	params := NewParameters("MODALITY", "ARCHIVE")
	require.NoError(t, params.AddPresentationContext(1, uid.CTImageStorage, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))
	params.ExtendedNegotiation = []pdu.ExtendedNegotiation{
		{SOPClassUID: uid.CTImageStorage, AppInfo: []byte{1, 0, 1}},
		{SOPClassUID: uid.MRImageStorage, AppInfo: []byte{1}},
	}

	policy := testPolicy(t, func(c *negotiation.PolicyConfig) { c.EchoExtendedNegotiation = true })
	req, acc := pair(t, params, Config{}, Config{Policy: policy})
	require.NoError(t, req.Connect(context.Background()))

	assert.Equal(t, []pdu.ExtendedNegotiation{{SOPClassUID: uid.CTImageStorage, AppInfo: []byte{1, 0, 1}}},
		req.Parameters().AcceptedExtendedNegotiation)

	_, err := req.Release(context.Background())
	require.NoError(t, err)
	require.NoError(t, acc.wait(t))
}

func TestAsyncOperationsWindowAnswered(t *testing.T) {
	params := NewParameters("MODALITY", "ARCHIVE")
	params.AsyncOperations = &pdu.AsyncOperationsWindow{Invoked: 8, Performed: 8}
	require.NoError(t, params.AddPresentationContext(1, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))

	req, acc := pair(t, params, Config{}, Config{})
	require.NoError(t, req.Connect(context.Background()))
	assert.Equal(t, &pdu.AsyncOperationsWindow{Invoked: 1, Performed: 1}, req.Parameters().AsyncOperations)

	_, err := req.Release(context.Background())
	require.NoError(t, err)
	require.NoError(t, acc.wait(t))
}

// ============================================================================
// User identity
// ============================================================================

type fakeVerifier struct {
	identity string
	response []byte
	err      error
}

func (v fakeVerifier) Verify(ctx context.Context, id *pdu.UserIdentityRQ) (*IdentityResult, error) {
	if v.err != nil {
		return nil, v.err
	}
	if calling, ok := CallingAETitle(ctx); !ok || calling != "MODALITY" {
		return nil, errors.New("calling AE title missing from context")
	}
	return &IdentityResult{Identity: v.identity, ServerResponse: v.response}, nil
}

func identityParams(t *testing.T, positive bool) *Parameters {
	t.Helper()
	params := NewParameters("MODALITY", "ARCHIVE")
	require.NoError(t, params.AddPresentationContext(1, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))
	params.Identity = &pdu.UserIdentityRQ{
		Mode:                      pdu.IdentityUsernamePassword,
		PositiveResponseRequested: positive,
		Primary:                   []byte("alice"),
		Secondary:                 []byte("secret"),
	}
	return params
}

func TestIdentityPositiveResponse(t *testing.T) {
	req, acc := pair(t, identityParams(t, true), Config{RequireIdentityResponse: true},
		Config{Verifier: fakeVerifier{identity: "alice", response: []byte("welcome")}})
	require.NoError(t, req.Connect(context.Background()))

	assert.True(t, req.Parameters().IdentityAcknowledge)
	assert.Equal(t, []byte("welcome"), req.Parameters().IdentityResponse)
	assert.Equal(t, "alice", acc.assoc.Parameters().AuthenticatedIdentity)

	_, err := req.Release(context.Background())
	require.NoError(t, err)
	require.NoError(t, acc.wait(t))
}

func TestIdentityEnforcedRejects(t *testing.T) {
	req, acc := pair(t, identityParams(t, false), Config{},
		Config{Verifier: fakeVerifier{err: errors.New("bad password")}, EnforceIdentity: true})

	assert.ErrorIs(t, req.Connect(context.Background()), cond.AssociationRejected)
	assert.Equal(t, &pdu.AssociateRJ{Result: pdu.RejectPermanent, Source: pdu.RejectSourceServiceUser,
		Reason: pdu.RejectReasonNoReason}, req.Parameters().Rejection)
	assert.NoError(t, acc.wait(t))
}

func TestIdentityFailureNotEnforced(t *testing.T) {
	req, acc := pair(t, identityParams(t, true), Config{},
		Config{Verifier: fakeVerifier{err: errors.New("bad password")}})
	require.NoError(t, req.Connect(context.Background()))
	assert.False(t, req.Parameters().IdentityAcknowledge)
	assert.Len(t, acc.assoc.Parameters().Warnings, 1)

	_, err := req.Release(context.Background())
	require.NoError(t, err)
	require.NoError(t, acc.wait(t))
}

func TestIdentityResponseRequired(t *testing.T) {
	req, acc := pair(t, identityParams(t, true), Config{RequireIdentityResponse: true}, Config{})

	assert.ErrorIs(t, req.Connect(context.Background()), cond.IdentityRejected)
	assert.Equal(t, StateAborted, req.State())
	assert.ErrorIs(t, acc.wait(t), cond.PeerAborted)
}

func TestMalformedIdentityAborts(t *testing.T) {
	params := identityParams(t, false)
	params.Identity.Secondary = nil
	rq, err := params.buildAssociateRQ()
	require.NoError(t, err)
	raw := encode(t, rq)

	// Identity item: type 0x58, item length 1+1+2+5+2 = 11 for username
	// "alice" with an empty secondary field. Claim a 20 byte primary field.
	i := bytes.Index(raw, []byte{byte(pdu.ItemUserIdentityRQ), 0, 0, 11})
	require.GreaterOrEqual(t, i, 0)
	raw[i+6], raw[i+7] = 0, 20

	conn := &recordConn{}
	a := NewAcceptor(conn, Config{Policy: testPolicy(t)})
	_, err = a.Dispatch(context.Background(), raw)

	assert.ErrorIs(t, err, cond.IllegalPduLength)
	assert.Equal(t, StateAborted, a.State())
	assert.Nil(t, a.Parameters().Identity)

	written := conn.pdus(t)
	require.Len(t, written, 1)
	assert.Equal(t, &pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: pdu.AbortReasonInvalidParameter}, written[0])
}

// ============================================================================
// Data transfer
// ============================================================================

func TestSendPDVsPacksUnderPeerMaximum(t *testing.T) {
	a, conn := established(SideRequestor, 64, accepted(1, uid.Verification), accepted(3, uid.CTImageStorage))

	// Body limit is 64 - 6 = 58 bytes: two 20 byte payloads (26 each) fit,
	// the third starts a new PDU.
	values := []pdu.PDV{
		{ContextID: 1, Command: true, Last: true, Data: bytes.Repeat([]byte{1}, 20)},
		{ContextID: 3, Command: true, Last: true, Data: bytes.Repeat([]byte{2}, 20)},
		{ContextID: 3, Last: true, Data: bytes.Repeat([]byte{3}, 20)},
	}
	require.NoError(t, a.SendPDVs(values))

	written := conn.pdus(t)
	require.Len(t, written, 2)
	assert.Len(t, written[0].(*pdu.PDataTF).Values, 2)
	assert.Len(t, written[1].(*pdu.PDataTF).Values, 1)
	for _, p := range written {
		raw := encode(t, p)
		assert.LessOrEqual(t, len(raw), 64)
	}
}

func TestSendDataRejectsUnacceptedContext(t *testing.T) {
	a, _ := established(SideRequestor, 0, accepted(1, uid.Verification))
	assert.ErrorIs(t, a.SendData(3, true, []byte{1}), cond.UnknownPresentationContext)
	assert.Equal(t, StateEstablished, a.State())

	err := a.SendPDVs([]pdu.PDV{{ContextID: 1, Last: true, Data: make([]byte, pdu.DefaultMaxPDUSize)}})
	assert.ErrorIs(t, err, cond.InvalidParameter)
}

func TestSendDataUnlimitedPeer(t *testing.T) {
	a, conn := established(SideRequestor, 0, accepted(1, uid.Verification))
	a.cfg.Codec = pdu.Codec{MaxPDUSize: 1024}

	require.NoError(t, a.SendData(1, false, make([]byte, 3000)))
	written := conn.pdus(t)
	require.Len(t, written, 3)
	for _, p := range written {
		for _, v := range p.(*pdu.PDataTF).Values {
			assert.LessOrEqual(t, pdu.PDVHeaderSize+len(v.Data), 1024)
		}
	}
}

func TestPDataForUnknownContextAborts(t *testing.T) {
	a, conn := established(SideAcceptor, 0, accepted(1, uid.Verification))

	raw := encode(t, &pdu.PDataTF{Values: []pdu.PDV{{ContextID: 5, Last: true, Data: []byte{1}}}})
	ev, err := a.Dispatch(context.Background(), raw)
	assert.Equal(t, pdu.TypePDataTF, ev.Type)
	assert.ErrorIs(t, err, cond.UnknownPresentationContext)
	assert.Equal(t, StateAborted, a.State())
	assert.True(t, conn.isClosed())
}

func TestReassemblyBound(t *testing.T) {
	a, _ := established(SideAcceptor, 0, accepted(1, uid.Verification))
	a.reasm = pdv.NewReassembler(a.params.isAccepted, 8)

	raw := encode(t, &pdu.PDataTF{Values: []pdu.PDV{{ContextID: 1, Data: make([]byte, 16)}}})
	_, err := a.Dispatch(context.Background(), raw)
	assert.ErrorIs(t, err, cond.PduTooLarge)
	assert.Equal(t, StateAborted, a.State())
}

// ============================================================================
// Sequencing
// ============================================================================

func samplePDUs(t *testing.T) map[pdu.Type][]byte {
	params := NewParameters("MODALITY", "ARCHIVE")
	require.NoError(t, params.AddPresentationContext(1, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))
	rq, err := params.buildAssociateRQ()
	require.NoError(t, err)
	ac := &pdu.AssociateAC{
		ProtocolVersion:      pdu.ProtocolVersion,
		ApplicationContext:   uid.ApplicationContext,
		PresentationContexts: []pdu.PresentationContextAC{{ID: 1, TransferSyntax: uid.ImplicitVRLittleEndian}},
	}
	return map[pdu.Type][]byte{
		pdu.TypeAssociateRQ: encode(t, rq),
		pdu.TypeAssociateAC: encode(t, ac),
		pdu.TypeAssociateRJ: encode(t, &pdu.AssociateRJ{Result: 1, Source: 1, Reason: 1}),
		pdu.TypePDataTF:     encode(t, &pdu.PDataTF{Values: []pdu.PDV{{ContextID: 1, Last: true}}}),
		pdu.TypeReleaseRQ:   encode(t, &pdu.ReleaseRQ{}),
		pdu.TypeReleaseRP:   encode(t, &pdu.ReleaseRP{}),
		pdu.TypeAbort:       encode(t, &pdu.Abort{}),
	}
}

func TestUnexpectedPDUsAbort(t *testing.T) {
	samples := samplePDUs(t)
	states := []State{
		StateIdle, StateRequesting, StateAwaitingAssociateResponse, StateEstablished,
		StateReleaseRequested, StateReleaseIndicated,
	}
	for _, side := range []Side{SideRequestor, SideAcceptor} {
		for _, s := range states {
			for typ, raw := range samples {
				if canReceive(side, s, typ) {
					continue
				}
				t.Run(side.String()+"/"+s.String()+"/"+typ.String(), func(t *testing.T) {
					a, conn := established(side, 0, accepted(1, uid.Verification))
					a.state = s

					_, err := a.Dispatch(context.Background(), raw)
					assert.ErrorIs(t, err, cond.SequencingError)
					assert.Equal(t, StateAborted, a.State())
					assert.True(t, conn.isClosed())

					written := conn.pdus(t)
					require.Len(t, written, 1)
					assert.Equal(t, &pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: pdu.AbortReasonUnexpectedPDU}, written[0])
				})
			}
		}
	}
}

func TestTerminalStatesIgnorePDUs(t *testing.T) {
	samples := samplePDUs(t)
	for _, s := range []State{StateReleased, StateAborted, StateDropped} {
		for typ, raw := range samples {
			a, conn := established(SideAcceptor, 0)
			a.state = s

			_, err := a.Dispatch(context.Background(), raw)
			assert.ErrorIs(t, err, cond.SequencingError, "%s in %s", typ, s)
			assert.Equal(t, s, a.State())
			assert.Empty(t, conn.pdus(t))
		}
	}
}

func TestUnknownPDUTypeAborts(t *testing.T) {
	a, conn := established(SideAcceptor, 0)
	_, err := a.Dispatch(context.Background(), []byte{0x09, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, cond.UnknownPduType)
	assert.Equal(t, StateAborted, a.State())
	assert.Equal(t, &pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: pdu.AbortReasonUnrecognizedPDU}, conn.pdus(t)[0])
}

func TestLocalSequencingErrors(t *testing.T) {
	t.Run("SendDataBeforeEstablished", func(t *testing.T) {
		conn := &recordConn{}
		a := NewRequestor(conn, NewParameters("A", "B"), Config{})
		assert.ErrorIs(t, a.SendData(1, true, nil), cond.SequencingError)
		assert.Equal(t, StateAborted, a.State())
		assert.Empty(t, conn.pdus(t))
	})

	t.Run("RequestByAcceptor", func(t *testing.T) {
		a := NewAcceptor(&recordConn{}, Config{})
		assert.ErrorIs(t, a.Request(), cond.SequencingError)
		assert.Equal(t, StateAborted, a.State())
	})

	t.Run("ReleaseWhileReleasing", func(t *testing.T) {
		a, conn := established(SideRequestor, 0)
		a.state = StateReleaseRequested
		_, err := a.Release(context.Background())
		assert.ErrorIs(t, err, cond.SequencingError)
		assert.Equal(t, StateAborted, a.State())
		assert.Equal(t, &pdu.Abort{Source: pdu.AbortSourceServiceUser}, conn.pdus(t)[0])
	})

	t.Run("AfterRelease", func(t *testing.T) {
		a, _ := established(SideRequestor, 0)
		a.state = StateReleased
		assert.ErrorIs(t, a.SendData(1, true, nil), cond.AssociationReleased)
		assert.Equal(t, StateReleased, a.State())
	})
}

// ============================================================================
// Release, abort and transport failures
// ============================================================================

func TestPeerReleaseRequest(t *testing.T) {
	a, conn := established(SideAcceptor, 0, accepted(1, uid.Verification))
	_, err := a.Dispatch(context.Background(), encode(t, &pdu.ReleaseRQ{}))
	require.NoError(t, err)
	assert.Equal(t, StateReleased, a.State())
	assert.Equal(t, []pdu.PDU{&pdu.ReleaseRP{}}, conn.pdus(t))
	assert.True(t, conn.isClosed())
}

func TestReleaseCollision(t *testing.T) {
	a, conn := established(SideRequestor, 0, accepted(1, uid.Verification))
	a.state = StateReleaseRequested

	_, err := a.Dispatch(context.Background(), encode(t, &pdu.ReleaseRQ{}))
	require.NoError(t, err)
	assert.Equal(t, StateReleaseRequested, a.State())

	_, err = a.Dispatch(context.Background(), encode(t, &pdu.ReleaseRP{}))
	require.NoError(t, err)
	assert.Equal(t, StateReleased, a.State())
	assert.Equal(t, []pdu.PDU{&pdu.ReleaseRP{}}, conn.pdus(t))
}

func TestDataDuringRelease(t *testing.T) {
	a, _ := established(SideRequestor, 0, accepted(1, uid.Verification))
	a.state = StateReleaseRequested

	ev, err := a.Dispatch(context.Background(), encode(t, &pdu.PDataTF{Values: []pdu.PDV{{ContextID: 1, Last: true, Data: []byte{7}}}}))
	require.NoError(t, err)
	assert.Equal(t, []pdv.Unit{{ContextID: 1, Data: []byte{7}}}, ev.Units)
}

func TestAbortIsIdempotent(t *testing.T) {
	a, conn := established(SideRequestor, 0)
	assert.Equal(t, OutcomeActive, a.Outcome())

	a.Abort()
	a.Abort()

	assert.Equal(t, StateAborted, a.State())
	assert.ErrorIs(t, a.Err(), cond.AssociationAborted)
	assert.Equal(t, OutcomeAborted, a.Outcome())
	assert.Equal(t, []pdu.PDU{&pdu.Abort{Source: pdu.AbortSourceServiceUser}}, conn.pdus(t))
	assert.True(t, conn.isClosed())
}

func TestAbortInIdle(t *testing.T) {
	t.Run("LocalAbortSendsNothing", func(t *testing.T) {
		conn := &recordConn{}
		a := NewAcceptor(conn, Config{Policy: testPolicy(t)})
		a.Abort()

		assert.Equal(t, StateAborted, a.State())
		assert.Empty(t, conn.pdus(t))
		assert.True(t, conn.isClosed())
	})

	t.Run("UnexpectedPDUSendsProviderAbort", func(t *testing.T) {
		conn := &recordConn{}
		a := NewAcceptor(conn, Config{Policy: testPolicy(t)})
		_, err := a.Dispatch(context.Background(), encode(t, &pdu.ReleaseRQ{}))

		assert.ErrorIs(t, err, cond.SequencingError)
		assert.Equal(t, StateAborted, a.State())
		assert.Equal(t, []pdu.PDU{&pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: pdu.AbortReasonUnexpectedPDU}}, conn.pdus(t))
	})
}

func TestAbortDuringBlockedRead(t *testing.T) {
	_, ac := transport.Pipe(pipeConfig())
	a := NewAcceptor(ac, Config{Policy: testPolicy(t)})

	done := make(chan error, 1)
	go func() { done <- a.Accept(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	a.Abort()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, cond.AssociationAborted)
	case <-time.After(5 * time.Second):
		t.Fatal("Accept did not return after Abort")
	}
	assert.Equal(t, StateAborted, a.State())
}

func TestContextCancellationAborts(t *testing.T) {
	_, ac := transport.Pipe(pipeConfig())
	a := NewAcceptor(ac, Config{Policy: testPolicy(t)})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := a.Accept(ctx)
	assert.ErrorIs(t, err, cond.AssociationAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, a.State())
}

func TestReadTimeoutAborts(t *testing.T) {
	rc, ac := transport.Pipe(transport.Config{ReadTimeout: 30 * time.Millisecond, WriteTimeout: 30 * time.Millisecond})
	defer rc.Close()
	a := NewAcceptor(ac, Config{Policy: testPolicy(t)})

	err := a.Accept(context.Background())
	assert.ErrorIs(t, err, cond.ReadTimeout)
	assert.Equal(t, StateAborted, a.State())
}

func TestPeerCloseDrops(t *testing.T) {
	rc, ac := transport.Pipe(pipeConfig())
	a := NewAcceptor(ac, Config{Policy: testPolicy(t)})
	require.NoError(t, rc.Close())

	err := a.Accept(context.Background())
	assert.ErrorIs(t, err, cond.TransportClosed)
	assert.Equal(t, StateDropped, a.State())
	assert.Equal(t, OutcomeDropped, a.Outcome())
}

func TestPeerAbort(t *testing.T) {
	a, _ := established(SideRequestor, 0)
	_, err := a.Dispatch(context.Background(), encode(t, &pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: pdu.AbortReasonInvalidParameter}))
	assert.ErrorIs(t, err, cond.PeerAborted)
	assert.Contains(t, err.Error(), "invalid-PDU-parameter-value")
	assert.Equal(t, StateAborted, a.State())
}

type recordingObserver struct {
	mu          sync.Mutex
	transitions []State
	in, out     int
}

func (o *recordingObserver) StateChanged(_ *Association, _, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, to)
}

func (o *recordingObserver) PDU(_ *Association, dir Direction, _ pdu.Type, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if dir == DirectionIn {
		o.in++
	} else {
		o.out++
	}
}

func TestObserver(t *testing.T) {
	params := NewParameters("MODALITY", "ARCHIVE")
	require.NoError(t, params.AddPresentationContext(1, uid.Verification, []string{uid.ImplicitVRLittleEndian}, negotiation.RoleDefault))

	obs := &recordingObserver{}
	req, acc := pair(t, params, Config{Observer: obs}, Config{})
	require.NoError(t, req.Connect(context.Background()))
	_, err := req.Release(context.Background())
	require.NoError(t, err)
	require.NoError(t, acc.wait(t))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []State{
		StateRequesting, StateAwaitingAssociateResponse, StateEstablished, StateReleaseRequested, StateReleased,
	}, obs.transitions)
	assert.Equal(t, 2, obs.in)
	assert.Equal(t, 2, obs.out)
}
