// Package assoc implements the association state machine: establishment
// (A-ASSOCIATE), data transfer (P-DATA), orderly release (A-RELEASE) and
// abort (A-ABORT) over a transport.Connection.
//
// An Association is owned by one goroutine, which drives it by calling
// Receive or the request methods. Abort is the only method that may be
// called concurrently, from any goroutine, at any time.
package assoc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/pkg/bufpool"
	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/marmos91/dicomul/pkg/ul/negotiation"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
	"github.com/marmos91/dicomul/pkg/ul/pdv"
	"github.com/marmos91/dicomul/pkg/ul/transport"
	"github.com/marmos91/dicomul/pkg/ul/uid"
)

// IdentityVerifier checks a requestor's user identity on the acceptor.
type IdentityVerifier interface {
	Verify(ctx context.Context, id *pdu.UserIdentityRQ) (*IdentityResult, error)
}

// IdentityResult is a successful identity verification.
type IdentityResult struct {
	// Identity names the authenticated user.
	Identity string

	// ServerResponse is returned to the requestor when it asked for a
	// positive response.
	ServerResponse []byte
}

type callingAEKey struct{}

func withCallingAETitle(ctx context.Context, ae string) context.Context {
	return context.WithValue(ctx, callingAEKey{}, ae)
}

// CallingAETitle returns the requestor's AE title inside
// IdentityVerifier.Verify.
func CallingAETitle(ctx context.Context) (string, bool) {
	ae, ok := ctx.Value(callingAEKey{}).(string)
	return ae, ok
}

// Observer receives association events. Calls are made synchronously from
// the goroutine that caused the event and must not block.
type Observer interface {
	StateChanged(a *Association, from, to State)
	PDU(a *Association, dir Direction, t pdu.Type, size int)
}

// Config holds the settings of one association.
type Config struct {
	// Codec bounds received PDUs.
	Codec pdu.Codec

	// Policy decides proposed presentation contexts. Required on the
	// acceptor.
	Policy *negotiation.AcceptorPolicy

	// Verifier checks user identity requests on the acceptor. When nil,
	// identity requests are ignored unless EnforceIdentity is set.
	Verifier IdentityVerifier

	// EnforceIdentity rejects requests whose identity is missing or fails
	// verification.
	EnforceIdentity bool

	// RequireIdentityResponse fails a requestor association when the
	// acceptor does not acknowledge an identity that asked for a positive
	// response.
	RequireIdentityResponse bool

	// LocalMaxPDULength is announced by the acceptor. Zero selects
	// DefaultMaxPDULength.
	LocalMaxPDULength uint32

	// MaxUnitSize bounds one reassembled command or dataset. Zero disables
	// the bound.
	MaxUnitSize int

	// Observer is notified of state changes and PDUs. Optional.
	Observer Observer

	// ID identifies the association in logs. A random UUID when empty.
	ID string
}

// Event reports what Receive processed.
type Event struct {
	Type pdu.Type

	// Units are the commands and datasets completed by a P-DATA-TF.
	Units []pdv.Unit
}

// Stats counts the traffic of an association.
type Stats struct {
	PDUsIn   uint64
	PDUsOut  uint64
	BytesIn  uint64
	BytesOut uint64
}

// Association is one DICOM association.
type Association struct {
	id      string
	side    Side
	conn    transport.Connection
	cfg     Config
	started time.Time

	mu     sync.Mutex
	state  State
	err    error
	params *Parameters

	writeMu sync.Mutex
	reasm   *pdv.Reassembler
	lc      atomic.Pointer[logger.LogContext]

	pdusIn, pdusOut   atomic.Uint64
	bytesIn, bytesOut atomic.Uint64
}

func newAssociation(conn transport.Connection, side Side, params *Parameters, cfg Config) *Association {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	a := &Association{
		id:      id,
		side:    side,
		conn:    conn,
		cfg:     cfg,
		started: time.Now(),
		params:  params,
	}
	a.lc.Store(logger.NewLogContext(id, conn.RemoteAddr()))
	return a
}

// NewRequestor returns an association that will propose params over conn.
func NewRequestor(conn transport.Connection, params *Parameters, cfg Config) *Association {
	return newAssociation(conn, SideRequestor, params, cfg)
}

// NewAcceptor returns an association that waits for an A-ASSOCIATE-RQ on
// conn. cfg.Policy must be set.
func NewAcceptor(conn transport.Connection, cfg Config) *Association {
	return newAssociation(conn, SideAcceptor, &Parameters{}, cfg)
}

func (a *Association) ID() string           { return a.id }
func (a *Association) Side() Side           { return a.side }
func (a *Association) StartTime() time.Time { return a.started }
func (a *Association) RemoteAddr() string   { return a.conn.RemoteAddr() }

// State returns the current protocol state.
func (a *Association) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err returns the condition that ended the association, or nil while it
// is active and after an orderly release.
func (a *Association) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Parameters returns the negotiation parameters. They must be treated as
// read-only.
func (a *Association) Parameters() *Parameters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// Outcome reports how the association ended, or OutcomeActive while it is
// not in a terminal state.
func (a *Association) Outcome() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateReleased:
		if a.params.Rejection != nil {
			return OutcomeRejected
		}
		return OutcomeReleased
	case StateAborted:
		if a.params.Rejection != nil {
			return OutcomeRejected
		}
		return OutcomeAborted
	case StateDropped:
		return OutcomeDropped
	default:
		return OutcomeActive
	}
}

// Stats returns the traffic counters.
func (a *Association) Stats() Stats {
	return Stats{
		PDUsIn:   a.pdusIn.Load(),
		PDUsOut:  a.pdusOut.Load(),
		BytesIn:  a.bytesIn.Load(),
		BytesOut: a.bytesOut.Load(),
	}
}

// LogContext returns ctx carrying the association's logging fields.
func (a *Association) LogContext(ctx context.Context) context.Context {
	return logger.WithContext(ctx, a.lc.Load())
}

// SetTrace adds trace and span IDs to the association's logging fields.
func (a *Association) SetTrace(traceID, spanID string) {
	if traceID == "" {
		return
	}
	a.lc.Store(a.lc.Load().WithTrace(traceID, spanID))
}

func (a *Association) logCtx() context.Context {
	return a.LogContext(context.Background())
}

// ============================================================================
// Requestor
// ============================================================================

// Request sends the A-ASSOCIATE-RQ built from the parameters.
func (a *Association) Request() error {
	if err := a.expectLocal(StateIdle, SideRequestor, "A-ASSOCIATE-RQ"); err != nil {
		return err
	}
	rq, err := a.params.buildAssociateRQ()
	if err != nil {
		return err
	}
	a.lc.Store(a.lc.Load().WithAETitles(rq.CallingAETitle, rq.CalledAETitle))
	if !a.advance(StateRequesting) {
		return a.Err()
	}
	if err := a.send(rq); err != nil {
		return err
	}
	if !a.advance(StateAwaitingAssociateResponse) {
		return a.Err()
	}
	return nil
}

// Connect sends the request and waits for the acceptor's answer. It
// returns nil once the association is established.
func (a *Association) Connect(ctx context.Context) error {
	if err := a.Request(); err != nil {
		return err
	}
	if _, err := a.Receive(ctx); err != nil {
		return err
	}
	if s := a.State(); s != StateEstablished {
		if err := a.Err(); err != nil {
			return err
		}
		return cond.SequencingError.Errorf("association is %s after establishment", s)
	}
	return nil
}

// OnAssociateAC processes the acceptor's A-ASSOCIATE-AC.
func (a *Association) OnAssociateAC(raw []byte) error {
	ac, err := decodeAs[*pdu.AssociateAC](a, raw, pdu.TypeAssociateAC)
	if err != nil {
		return err
	}
	a.mu.Lock()
	err = a.params.applyAssociateAC(ac)
	params := a.params
	a.mu.Unlock()
	if err != nil {
		return a.fail(err, pdu.AbortReasonInvalidParameter)
	}

	if a.cfg.RequireIdentityResponse && params.Identity != nil &&
		params.Identity.PositiveResponseRequested && !params.IdentityAcknowledge {
		return a.terminate(StateAborted,
			cond.IdentityRejected.Errorf("acceptor did not acknowledge the %s identity", params.Identity.Mode),
			&pdu.Abort{Source: pdu.AbortSourceServiceUser})
	}

	a.reasm = pdv.NewReassembler(params.isAccepted, a.cfg.MaxUnitSize)
	if !a.advance(StateEstablished) {
		return a.Err()
	}
	logger.DebugCtx(a.logCtx(), "association established",
		logger.MaxPDU(params.PeerMaxPDULength),
		"accepted_contexts", params.AcceptedCount())
	return nil
}

// OnAssociateRJ processes the acceptor's A-ASSOCIATE-RJ. The rejection is
// recorded in the parameters and returned as an AssociationRejected
// condition.
func (a *Association) OnAssociateRJ(raw []byte) error {
	rj, err := decodeAs[*pdu.AssociateRJ](a, raw, pdu.TypeAssociateRJ)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.params.Rejection = rj
	a.mu.Unlock()
	return a.terminate(StateAborted, cond.AssociationRejected.Errorf("%s", rj), nil)
}

// ============================================================================
// Acceptor
// ============================================================================

// Accept waits for the requestor's A-ASSOCIATE-RQ and answers it. A
// negotiated rejection is not an error: the association ends Released and
// Parameters().Rejection holds the reason.
func (a *Association) Accept(ctx context.Context) error {
	_, err := a.Receive(ctx)
	return err
}

// OnAssociateRQ negotiates a received A-ASSOCIATE-RQ and sends the
// A-ASSOCIATE-AC or -RJ.
func (a *Association) OnAssociateRQ(ctx context.Context, raw []byte) error {
	rq, err := decodeAs[*pdu.AssociateRQ](a, raw, pdu.TypeAssociateRQ)
	if err != nil {
		return err
	}
	policy := a.cfg.Policy
	if policy == nil {
		return a.fail(cond.InvalidParameter.Errorf("acceptor has no presentation context policy"), pdu.AbortReasonNotSpecified)
	}

	params := parametersFromAssociateRQ(rq)
	params.LocalMaxPDULength = a.cfg.LocalMaxPDULength
	if params.LocalMaxPDULength == 0 {
		params.LocalMaxPDULength = DefaultMaxPDULength
	}
	params.ImplementationClassUID = ImplementationClassUID
	params.ImplementationVersionName = ImplementationVersionName
	a.mu.Lock()
	a.params = params
	a.mu.Unlock()
	a.lc.Store(a.lc.Load().WithAETitles(rq.CallingAETitle, rq.CalledAETitle))

	if rj := admit(rq, policy); rj != nil {
		return a.reject(rj)
	}

	var identityResponse []byte
	sendIdentity := false
	if rj, res := a.verifyIdentity(ctx, params); rj != nil {
		return a.reject(rj)
	} else if res != nil {
		params.AuthenticatedIdentity = res.Identity
		a.lc.Store(a.lc.Load().WithIdentity(res.Identity))
		if params.Identity.PositiveResponseRequested {
			identityResponse, sendIdentity = res.ServerResponse, true
		}
	}

	outcomes, err := negotiation.NegotiateAll(params.proposals(), policy)
	if err != nil {
		params.Warnings = append(params.Warnings, flatten(err)...)
		for _, w := range params.Warnings {
			logger.WarnCtx(a.logCtx(), "role negotiation failed", logger.Err(w))
		}
	}
	params.applyOutcomes(outcomes)
	for _, pc := range params.PresentationContexts {
		logger.DebugCtx(a.logCtx(), "presentation context",
			logger.PresCtxID(pc.ID),
			logger.AbstractSyntax(pc.AbstractSyntax),
			logger.TransferSyntax(pc.TransferSyntax),
			logger.Role(pc.AcceptedRole),
			logger.KeyResult, pc.Result.String())
	}

	if params.AcceptedCount() == 0 {
		return a.reject(&pdu.AssociateRJ{
			Result: pdu.RejectPermanent,
			Source: pdu.RejectSourceServiceUser,
			Reason: pdu.RejectReasonNoReason,
		})
	}

	if policy.EchoExtendedNegotiation() {
		for _, en := range params.ExtendedNegotiation {
			if _, ok := params.AcceptedContext(en.SOPClassUID); ok {
				params.AcceptedExtendedNegotiation = append(params.AcceptedExtendedNegotiation, en)
			}
		}
	}
	if params.AsyncOperations != nil {
		params.AsyncOperations = &pdu.AsyncOperationsWindow{Invoked: 1, Performed: 1}
	}

	ac := params.buildAssociateAC(identityResponse, sendIdentity)
	if err := a.send(ac); err != nil {
		return err
	}
	a.reasm = pdv.NewReassembler(params.isAccepted, a.cfg.MaxUnitSize)
	if !a.advance(StateEstablished) {
		return a.Err()
	}
	logger.DebugCtx(a.logCtx(), "association accepted",
		logger.MaxPDU(params.PeerMaxPDULength),
		"accepted_contexts", params.AcceptedCount())
	return nil
}

// admit applies the checks that reject a request as a whole.
func admit(rq *pdu.AssociateRQ, policy *negotiation.AcceptorPolicy) *pdu.AssociateRJ {
	switch {
	case rq.ProtocolVersion&pdu.ProtocolVersion == 0:
		return &pdu.AssociateRJ{
			Result: pdu.RejectPermanent,
			Source: pdu.RejectSourceServiceProviderACSE,
			Reason: pdu.RejectReasonProtocolVersionNotSupported,
		}
	case rq.ApplicationContext != uid.ApplicationContext:
		return &pdu.AssociateRJ{
			Result: pdu.RejectPermanent,
			Source: pdu.RejectSourceServiceUser,
			Reason: pdu.RejectReasonApplicationContextNotSupported,
		}
	case !policy.AcceptsCalledAETitle(rq.CalledAETitle):
		return &pdu.AssociateRJ{
			Result: pdu.RejectPermanent,
			Source: pdu.RejectSourceServiceUser,
			Reason: pdu.RejectReasonCalledAETitleNotRecognized,
		}
	case !policy.AcceptsCallingAETitle(rq.CallingAETitle):
		return &pdu.AssociateRJ{
			Result: pdu.RejectPermanent,
			Source: pdu.RejectSourceServiceUser,
			Reason: pdu.RejectReasonCallingAETitleNotRecognized,
		}
	}
	return nil
}

// verifyIdentity returns a rejection when identity is enforced and not
// established, or the verification result.
func (a *Association) verifyIdentity(ctx context.Context, params *Parameters) (*pdu.AssociateRJ, *IdentityResult) {
	reject := &pdu.AssociateRJ{
		Result: pdu.RejectPermanent,
		Source: pdu.RejectSourceServiceUser,
		Reason: pdu.RejectReasonNoReason,
	}
	id := params.Identity
	if id == nil || a.cfg.Verifier == nil {
		if a.cfg.EnforceIdentity {
			logger.WarnCtx(a.logCtx(), "identity required but not verifiable", "identity_present", id != nil)
			return reject, nil
		}
		return nil, nil
	}
	res, err := a.cfg.Verifier.Verify(withCallingAETitle(a.LogContext(ctx), params.CallingAETitle), id)
	if err != nil {
		logger.WarnCtx(a.logCtx(), "identity verification failed", logger.IdentityMode(id.Mode), logger.Err(err))
		params.Warnings = append(params.Warnings, err)
		if a.cfg.EnforceIdentity {
			return reject, nil
		}
		return nil, nil
	}
	logger.DebugCtx(a.logCtx(), "identity verified", logger.IdentityMode(id.Mode), logger.Username(res.Identity))
	return nil, res
}

// reject sends rj and ends the association Released.
func (a *Association) reject(rj *pdu.AssociateRJ) error {
	a.mu.Lock()
	a.params.Rejection = rj
	a.mu.Unlock()
	logger.InfoCtx(a.logCtx(), "association rejected", "rejection", rj.String())
	if err := a.send(rj); err != nil {
		return err
	}
	return a.terminate(StateReleased, nil, nil)
}

// ============================================================================
// Data transfer
// ============================================================================

// SendData fragments data into PDVs for context id and sends them.
func (a *Association) SendData(id uint8, command bool, data []byte) error {
	if err := a.expectLocal(StateEstablished, a.side, "P-DATA-TF"); err != nil {
		return err
	}
	values, err := pdv.FragmentLimit(id, command, data, a.Parameters().PeerMaxPDULength, a.sendLimit())
	if err != nil {
		return err
	}
	return a.SendPDVs(values)
}

// SendPDVs packs values into as few P-DATA-TF PDUs as the peer's maximum
// length allows and sends them in order.
func (a *Association) SendPDVs(values []pdu.PDV) error {
	if err := a.expectLocal(StateEstablished, a.side, "P-DATA-TF"); err != nil {
		return err
	}
	params := a.Parameters()
	bodyMax := pdv.Capacity(params.PeerMaxPDULength, a.sendLimit()) + pdu.PDVHeaderSize
	for _, v := range values {
		if !params.isAccepted(v.ContextID) {
			return cond.UnknownPresentationContext.Errorf("presentation context %d was not accepted", v.ContextID)
		}
		if pdu.PDVHeaderSize+len(v.Data) > bodyMax {
			return cond.InvalidParameter.Errorf("PDV of %d bytes exceeds the peer maximum PDU length %d",
				len(v.Data), params.PeerMaxPDULength)
		}
	}

	var batch []pdu.PDV
	size := 0
	for _, v := range values {
		n := pdu.PDVHeaderSize + len(v.Data)
		if len(batch) > 0 && size+n > bodyMax {
			if err := a.send(&pdu.PDataTF{Values: batch}); err != nil {
				return err
			}
			batch, size = nil, 0
		}
		batch = append(batch, v)
		size += n
	}
	if len(batch) > 0 {
		return a.send(&pdu.PDataTF{Values: batch})
	}
	return nil
}

// sendLimit bounds outgoing PDV payloads when the peer set no maximum.
func (a *Association) sendLimit() uint32 {
	if a.cfg.Codec.Unlimited {
		return 0
	}
	if a.cfg.Codec.MaxPDUSize == 0 {
		return pdu.DefaultMaxPDUSize
	}
	return a.cfg.Codec.MaxPDUSize
}

// OnPDataTF reassembles the values of a received P-DATA-TF and returns the
// units it completed.
func (a *Association) OnPDataTF(raw []byte) ([]pdv.Unit, error) {
	p, err := decodeAs[*pdu.PDataTF](a, raw, pdu.TypePDataTF)
	if err != nil {
		return nil, err
	}
	units, err := a.reasm.AddAll(p.Values)
	if err != nil {
		return nil, a.fail(err, pdu.AbortReasonInvalidParameter)
	}
	return units, nil
}

// ============================================================================
// Release and abort
// ============================================================================

// Release requests an orderly release and waits for the peer's
// A-RELEASE-RP. Units completed by P-DATA-TF PDUs that arrive in the
// meantime are returned.
func (a *Association) Release(ctx context.Context) ([]pdv.Unit, error) {
	if err := a.expectLocal(StateEstablished, a.side, "A-RELEASE-RQ"); err != nil {
		return nil, err
	}
	if err := a.send(&pdu.ReleaseRQ{}); err != nil {
		return nil, err
	}
	if !a.advance(StateReleaseRequested) {
		return nil, a.Err()
	}
	var units []pdv.Unit
	for !a.State().Terminal() {
		ev, err := a.Receive(ctx)
		if err != nil {
			return units, err
		}
		units = append(units, ev.Units...)
	}
	return units, a.Err()
}

// OnReleaseRQ answers the peer's A-RELEASE-RQ with an A-RELEASE-RP.
func (a *Association) OnReleaseRQ(raw []byte) error {
	if _, err := decodeAs[*pdu.ReleaseRQ](a, raw, pdu.TypeReleaseRQ); err != nil {
		return err
	}
	if a.State() == StateReleaseRequested {
		// Release collision: answer and keep waiting for the peer's reply.
		return a.send(&pdu.ReleaseRP{})
	}
	if !a.advance(StateReleaseIndicated) {
		return a.Err()
	}
	if err := a.send(&pdu.ReleaseRP{}); err != nil {
		return err
	}
	return a.terminate(StateReleased, nil, nil)
}

// OnReleaseRP completes a release this side requested.
func (a *Association) OnReleaseRP(raw []byte) error {
	if _, err := decodeAs[*pdu.ReleaseRP](a, raw, pdu.TypeReleaseRP); err != nil {
		return err
	}
	return a.terminate(StateReleased, nil, nil)
}

// Abort sends an A-ABORT, closes the transport and ends the association
// Aborted. It is safe to call from any goroutine and more than once; calls
// after the association ended have no effect.
func (a *Association) Abort() {
	a.abortWith(cond.AssociationAborted.Errorf("aborted by the local user"))
}

func (a *Association) abortWith(err error) {
	var p *pdu.Abort
	if s := a.State(); s != StateIdle {
		p = &pdu.Abort{Source: pdu.AbortSourceServiceUser}
	}
	_ = a.terminate(StateAborted, err, p)
}

// OnAbort processes the peer's A-ABORT.
func (a *Association) OnAbort(raw []byte) error {
	ab, err := decodeAs[*pdu.Abort](a, raw, pdu.TypeAbort)
	if err != nil {
		return err
	}
	return a.terminate(StateAborted, cond.PeerAborted.Errorf("%s", ab), nil)
}

// OnTransportClosed records that the transport ended without an orderly
// release.
func (a *Association) OnTransportClosed(cause error) error {
	return a.terminate(StateDropped,
		cond.TransportClosed.Wrap(cause, "connection lost in state %s", a.State()), nil)
}

// ============================================================================
// Receive loop
// ============================================================================

// Receive reads one PDU from the transport and dispatches it. Cancelling
// ctx aborts the association.
func (a *Association) Receive(ctx context.Context) (Event, error) {
	if s := a.State(); s.Terminal() {
		return Event{}, a.endedErr(s)
	}
	stop := context.AfterFunc(ctx, func() {
		a.abortWith(cond.AssociationAborted.Wrap(context.Cause(ctx), "cancelled"))
	})
	defer stop()

	raw, err := a.cfg.Codec.ReadRaw(a.conn)
	if err != nil {
		return Event{}, a.readFailed(err)
	}
	return a.Dispatch(ctx, raw)
}

// Dispatch routes one complete received PDU to its handler.
func (a *Association) Dispatch(ctx context.Context, raw []byte) (Event, error) {
	if len(raw) < pdu.HeaderSize {
		return Event{}, a.fail(cond.MalformedPdu.Errorf("%d bytes, need %d for a PDU header", len(raw), pdu.HeaderSize),
			pdu.AbortReasonInvalidParameter)
	}
	t := pdu.Type(raw[0])
	a.pdusIn.Add(1)
	a.bytesIn.Add(uint64(len(raw)))
	if a.cfg.Observer != nil {
		a.cfg.Observer.PDU(a, DirectionIn, t, len(raw))
	}
	if logger.Enabled(logger.LevelDebug) {
		logger.DebugCtx(a.logCtx(), "PDU received", logger.PDUType(t), logger.PDULen(len(raw)), logger.State(a.State()))
	}

	ev := Event{Type: t}
	var err error
	switch t {
	case pdu.TypeAssociateRQ:
		err = a.OnAssociateRQ(ctx, raw)
	case pdu.TypeAssociateAC:
		err = a.OnAssociateAC(raw)
	case pdu.TypeAssociateRJ:
		err = a.OnAssociateRJ(raw)
	case pdu.TypePDataTF:
		ev.Units, err = a.OnPDataTF(raw)
	case pdu.TypeReleaseRQ:
		err = a.OnReleaseRQ(raw)
	case pdu.TypeReleaseRP:
		err = a.OnReleaseRP(raw)
	case pdu.TypeAbort:
		err = a.OnAbort(raw)
	default:
		err = a.fail(cond.UnknownPduType.Errorf("type 0x%02X", raw[0]), pdu.AbortReasonUnrecognizedPDU)
	}
	return ev, err
}

func (a *Association) readFailed(err error) error {
	if s := a.State(); s.Terminal() {
		return a.endedErr(s)
	}
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, cond.TransportClosed):
		return a.OnTransportClosed(err)
	case errors.Is(err, cond.ReadTimeout):
		return a.terminate(StateAborted, err, &pdu.Abort{Source: pdu.AbortSourceServiceProvider})
	case errors.Is(err, cond.UnknownPduType):
		return a.fail(err, pdu.AbortReasonUnrecognizedPDU)
	case errors.Is(err, cond.PduTooLarge), errors.Is(err, cond.MalformedPdu):
		return a.fail(err, pdu.AbortReasonInvalidParameter)
	default:
		return a.terminate(StateDropped, cond.TransportFailed.Wrap(err, "reading PDU"), nil)
	}
}

// endedErr is returned by operations attempted after the association
// ended.
func (a *Association) endedErr(s State) error {
	if err := a.Err(); err != nil {
		return err
	}
	return cond.AssociationReleased.Errorf("association is %s", s)
}

// ============================================================================
// Transitions
// ============================================================================

// decodeAs checks that a PDU of type want may be received now, then
// decodes raw as T. Violations abort the association.
func decodeAs[T pdu.PDU](a *Association, raw []byte, want pdu.Type) (T, error) {
	var zero T
	s := a.State()
	if !canReceive(a.side, s, want) {
		err := cond.SequencingError.Errorf("%s received by %s in state %s", want, a.side, s)
		if s.Terminal() {
			return zero, err
		}
		return zero, a.fail(err, pdu.AbortReasonUnexpectedPDU)
	}
	p, err := a.cfg.Codec.Decode(raw)
	if err != nil {
		reason := pdu.AbortReasonInvalidParameter
		if errors.Is(err, cond.UnknownPduType) {
			reason = pdu.AbortReasonUnrecognizedPDU
		}
		return zero, a.fail(err, reason)
	}
	v, ok := p.(T)
	if !ok {
		return zero, a.fail(cond.SequencingError.Errorf("expected %s, decoded %s", want, p.Type()), pdu.AbortReasonUnexpectedPDU)
	}
	return v, nil
}

// expectLocal checks that a locally initiated operation is valid now.
// Violations in a non-terminal state abort the association.
func (a *Association) expectLocal(want State, side Side, op string) error {
	s := a.State()
	if s == want && a.side == side {
		return nil
	}
	if s.Terminal() {
		return a.endedErr(s)
	}
	err := cond.SequencingError.Errorf("%s is not valid for the %s in state %s", op, a.side, s)
	var p *pdu.Abort
	if s != StateIdle {
		p = &pdu.Abort{Source: pdu.AbortSourceServiceUser}
	}
	return a.terminate(StateAborted, err, p)
}

// fail aborts the association after a protocol error, notifying the peer.
func (a *Association) fail(err error, reason uint8) error {
	return a.terminate(StateAborted, err, &pdu.Abort{Source: pdu.AbortSourceServiceProvider, Reason: reason})
}

// advance moves to a non-terminal state. It reports false when the
// association ended concurrently.
func (a *Association) advance(to State) bool {
	a.mu.Lock()
	from := a.state
	if from.Terminal() {
		a.mu.Unlock()
		return false
	}
	a.state = to
	a.mu.Unlock()
	a.stateChanged(from, to)
	return true
}

// terminate moves to the terminal state to, optionally sends abort, and
// closes the transport. Only the first call has an effect; err is returned
// unchanged.
func (a *Association) terminate(to State, err error, abort *pdu.Abort) error {
	a.mu.Lock()
	from := a.state
	if from.Terminal() {
		a.mu.Unlock()
		return err
	}
	a.state = to
	a.err = err
	a.mu.Unlock()

	if abort != nil && a.writeMu.TryLock() {
		if n, werr := pdu.WritePDU(a.conn, abort); werr == nil {
			a.pdusOut.Add(1)
			a.bytesOut.Add(uint64(n))
		}
		a.writeMu.Unlock()
	}
	_ = a.conn.Close()

	a.stateChanged(from, to)
	if to == StateReleased {
		logger.DebugCtx(a.logCtx(), "association released", logger.DurationMs(logger.Duration(a.started)))
	} else {
		args := []any{logger.State(from), logger.Err(err)}
		if c := cond.From(err); c != nil {
			args = append(args, logger.Condition(c.ID()))
		}
		logger.WarnCtx(a.logCtx(), "association "+to.String(), args...)
	}
	return err
}

func (a *Association) stateChanged(from, to State) {
	logger.DebugCtx(a.logCtx(), "association state", "from", from.String(), "to", to.String())
	if a.cfg.Observer != nil {
		a.cfg.Observer.StateChanged(a, from, to)
	}
}

// send encodes and writes p. Write failures drop the association.
func (a *Association) send(p pdu.PDU) error {
	scratch := bufpool.Get(pdu.EncodedSizeHint(p))
	defer bufpool.Put(scratch)

	buf, err := pdu.AppendEncode(scratch, p)
	if err != nil {
		return a.fail(err, pdu.AbortReasonNotSpecified)
	}
	a.writeMu.Lock()
	_, err = a.conn.Write(buf)
	a.writeMu.Unlock()
	if err != nil {
		if s := a.State(); s.Terminal() {
			return a.endedErr(s)
		}
		return a.terminate(StateDropped, cond.TransportFailed.Wrap(err, "sending %s", p.Type()), nil)
	}
	a.pdusOut.Add(1)
	a.bytesOut.Add(uint64(len(buf)))
	if a.cfg.Observer != nil {
		a.cfg.Observer.PDU(a, DirectionOut, p.Type(), len(buf))
	}
	return nil
}

// flatten splits an errors.Join result.
func flatten(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
