package assoc

import (
	"fmt"
	"slices"

	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/marmos91/dicomul/pkg/ul/negotiation"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
	"github.com/marmos91/dicomul/pkg/ul/uid"
)

const (
	// ImplementationClassUID identifies this implementation in the user
	// information of every association it negotiates.
	ImplementationClassUID = "2.25.141060349392943731308264766573995772691"

	// ImplementationVersionName accompanies ImplementationClassUID.
	ImplementationVersionName = "DICOMUL_1"

	// DefaultMaxPDULength is the maximum P-DATA-TF length announced when
	// none is configured.
	DefaultMaxPDULength uint32 = 16384

	// MaxPresentationContexts is the number of odd context IDs in 1..255.
	MaxPresentationContexts = 128
)

// PresentationContext is one presentation context of an association, as
// proposed and, once negotiation completed, as decided.
type PresentationContext struct {
	ID             uint8
	AbstractSyntax string

	// TransferSyntaxes are the proposed transfer syntaxes, in preference
	// order.
	TransferSyntaxes []string

	// TransferSyntax is the accepted transfer syntax.
	TransferSyntax string

	ProposedRole negotiation.Role
	AcceptedRole negotiation.Role
	Result       pdu.ContextResult
}

// Accepted reports whether the acceptor accepted the context.
func (pc PresentationContext) Accepted() bool {
	return pc.Result == pdu.ResultAcceptance && pc.TransferSyntax != ""
}

// Parameters is the logical content of an association negotiation. The
// requestor fills in the proposal; the acceptor's decisions are merged in
// when the A-ASSOCIATE-AC or -RJ arrives. On the acceptor side Parameters
// are built from the received request and completed by negotiation.
//
// Parameters must not be modified once the association left the Idle state.
type Parameters struct {
	CallingAETitle     string
	CalledAETitle      string
	ApplicationContext string

	// LocalMaxPDULength is announced to the peer: the longest P-DATA-TF
	// this side accepts. Zero means unlimited.
	LocalMaxPDULength uint32

	// PeerMaxPDULength is what the peer announced. Zero means unlimited.
	PeerMaxPDULength uint32

	ImplementationClassUID    string
	ImplementationVersionName string

	PeerImplementationClassUID    string
	PeerImplementationVersionName string

	// AsyncOperations is the proposed or negotiated asynchronous operations
	// window, or nil when the sub-item is omitted.
	AsyncOperations *pdu.AsyncOperationsWindow

	PresentationContexts []PresentationContext

	// Identity is the user identity proposed by the requestor.
	Identity *pdu.UserIdentityRQ

	// IdentityResponse is the acceptor's server response, set when the
	// A-ASSOCIATE-AC carried a user identity sub-item.
	IdentityResponse    []byte
	IdentityAcknowledge bool

	// AuthenticatedIdentity is the identity name established by the
	// acceptor's verifier.
	AuthenticatedIdentity string

	ExtendedNegotiation         []pdu.ExtendedNegotiation
	AcceptedExtendedNegotiation []pdu.ExtendedNegotiation

	// Rejection is set once an A-ASSOCIATE-RJ was sent or received.
	Rejection *pdu.AssociateRJ

	// Warnings lists non-fatal conditions raised during negotiation.
	Warnings []error
}

// NewParameters returns requestor parameters with the standard
// application context and this implementation's identification.
func NewParameters(calling, called string) *Parameters {
	return &Parameters{
		CallingAETitle:            calling,
		CalledAETitle:             called,
		ApplicationContext:        uid.ApplicationContext,
		LocalMaxPDULength:         DefaultMaxPDULength,
		ImplementationClassUID:    ImplementationClassUID,
		ImplementationVersionName: ImplementationVersionName,
	}
}

// AddPresentationContext appends a proposed presentation context. Symbolic
// transfer syntax names are resolved.
func (p *Parameters) AddPresentationContext(id uint8, abstract string, transfer []string, role negotiation.Role) error {
	if id%2 == 0 {
		return cond.InvalidParameter.Errorf("presentation context ID %d is not odd", id)
	}
	if _, ok := p.Context(id); ok {
		return cond.InvalidParameter.Errorf("duplicate presentation context ID %d", id)
	}
	if len(p.PresentationContexts) >= MaxPresentationContexts {
		return cond.InvalidParameter.Errorf("more than %d presentation contexts", MaxPresentationContexts)
	}
	if err := uid.Validate(abstract); err != nil {
		return cond.InvalidParameter.Wrap(err, "abstract syntax of presentation context %d", id)
	}
	if len(transfer) == 0 {
		return cond.InvalidParameter.Errorf("presentation context %d proposes no transfer syntax", id)
	}
	resolved := make([]string, 0, len(transfer))
	for _, ts := range transfer {
		u, err := uid.Parse(ts)
		if err != nil {
			return cond.InvalidParameter.Wrap(err, "transfer syntax of presentation context %d", id)
		}
		resolved = append(resolved, u)
	}
	p.PresentationContexts = append(p.PresentationContexts, PresentationContext{
		ID:               id,
		AbstractSyntax:   abstract,
		TransferSyntaxes: resolved,
		ProposedRole:     role,
	})
	return nil
}

// NextContextID returns the lowest unused odd context ID, or 0 when all
// are taken.
func (p *Parameters) NextContextID() uint8 {
	for id := 1; id <= 255; id += 2 {
		if _, ok := p.Context(uint8(id)); !ok {
			return uint8(id)
		}
	}
	return 0
}

// Context returns the presentation context with the given ID.
func (p *Parameters) Context(id uint8) (PresentationContext, bool) {
	for _, pc := range p.PresentationContexts {
		if pc.ID == id {
			return pc, true
		}
	}
	return PresentationContext{}, false
}

// AcceptedContext returns the first accepted presentation context for
// abstract. When transfer syntaxes are given, the accepted transfer syntax
// must be one of them.
func (p *Parameters) AcceptedContext(abstract string, transfer ...string) (PresentationContext, bool) {
	for _, pc := range p.PresentationContexts {
		if !pc.Accepted() || pc.AbstractSyntax != abstract {
			continue
		}
		if len(transfer) > 0 && !slices.Contains(transfer, pc.TransferSyntax) {
			continue
		}
		return pc, true
	}
	return PresentationContext{}, false
}

// AcceptedCount returns the number of accepted presentation contexts.
func (p *Parameters) AcceptedCount() int {
	n := 0
	for _, pc := range p.PresentationContexts {
		if pc.Accepted() {
			n++
		}
	}
	return n
}

func (p *Parameters) isAccepted(id uint8) bool {
	pc, ok := p.Context(id)
	return ok && pc.Accepted()
}

// buildAssociateRQ converts the proposal into an A-ASSOCIATE-RQ.
func (p *Parameters) buildAssociateRQ() (*pdu.AssociateRQ, error) {
	if len(p.PresentationContexts) == 0 {
		return nil, cond.InvalidParameter.Errorf("no presentation contexts proposed")
	}
	rq := &pdu.AssociateRQ{
		ProtocolVersion:    pdu.ProtocolVersion,
		CalledAETitle:      p.CalledAETitle,
		CallingAETitle:     p.CallingAETitle,
		ApplicationContext: p.ApplicationContext,
	}
	roles := make(map[string]negotiation.Role)
	for _, pc := range p.PresentationContexts {
		rq.PresentationContexts = append(rq.PresentationContexts, pdu.PresentationContextRQ{
			ID:               pc.ID,
			AbstractSyntax:   pc.AbstractSyntax,
			TransferSyntaxes: pc.TransferSyntaxes,
		})
		if prev, ok := roles[pc.AbstractSyntax]; ok && prev != pc.ProposedRole {
			return nil, cond.InvalidParameter.Errorf("conflicting roles %s and %s proposed for %s",
				prev, pc.ProposedRole, pc.AbstractSyntax)
		}
		roles[pc.AbstractSyntax] = pc.ProposedRole
	}

	info := p.baseUserInformation()
	seen := make(map[string]bool)
	for _, pc := range p.PresentationContexts {
		if seen[pc.AbstractSyntax] {
			continue
		}
		seen[pc.AbstractSyntax] = true
		if rs, ok := pc.ProposedRole.Selection(pc.AbstractSyntax); ok && pc.ProposedRole != negotiation.RoleNone {
			info = append(info, rs)
		}
	}
	for _, en := range p.ExtendedNegotiation {
		info = append(info, en)
	}
	if p.Identity != nil {
		info = append(info, *p.Identity)
	}
	rq.UserInfo = info
	return rq, nil
}

func (p *Parameters) baseUserInformation() pdu.UserInformation {
	info := pdu.UserInformation{pdu.MaxLength{Length: p.LocalMaxPDULength}}
	if p.ImplementationClassUID != "" {
		info = append(info, pdu.ImplementationClassUID{UID: p.ImplementationClassUID})
	}
	if p.AsyncOperations != nil {
		info = append(info, *p.AsyncOperations)
	}
	if p.ImplementationVersionName != "" {
		info = append(info, pdu.ImplementationVersionName{Name: p.ImplementationVersionName})
	}
	return info
}

// applyAssociateAC merges the acceptor's decisions into the proposal.
func (p *Parameters) applyAssociateAC(ac *pdu.AssociateAC) error {
	answered := make(map[uint8]bool, len(ac.PresentationContexts))
	for _, acpc := range ac.PresentationContexts {
		i := slices.IndexFunc(p.PresentationContexts, func(pc PresentationContext) bool { return pc.ID == acpc.ID })
		if i < 0 {
			return cond.MalformedPdu.Errorf("A-ASSOCIATE-AC answers presentation context %d, which was not proposed", acpc.ID)
		}
		answered[acpc.ID] = true
		pc := &p.PresentationContexts[i]
		pc.Result = acpc.Result
		if acpc.Result != pdu.ResultAcceptance {
			continue
		}
		if !slices.Contains(pc.TransferSyntaxes, acpc.TransferSyntax) {
			return cond.MalformedPdu.Errorf("presentation context %d accepted with transfer syntax %s, which was not proposed",
				acpc.ID, acpc.TransferSyntax)
		}
		pc.TransferSyntax = acpc.TransferSyntax
	}
	for i := range p.PresentationContexts {
		pc := &p.PresentationContexts[i]
		if !answered[pc.ID] {
			pc.Result = pdu.ResultNoReason
		}
	}

	info := ac.UserInfo
	if n, ok := info.MaxLength(); ok {
		p.PeerMaxPDULength = n
	}
	p.PeerImplementationClassUID = info.ImplementationClassUID()
	p.PeerImplementationVersionName = info.ImplementationVersionName()
	if w, ok := info.AsyncOperationsWindow(); ok {
		p.AsyncOperations = &w
	} else {
		p.AsyncOperations = nil
	}

	accepted := make(map[string]negotiation.Role)
	for _, rs := range info.RoleSelections() {
		accepted[rs.SOPClassUID] = negotiation.AcceptedRoleFromSelection(&rs)
	}
	for i := range p.PresentationContexts {
		pc := &p.PresentationContexts[i]
		if role, ok := accepted[pc.AbstractSyntax]; ok {
			pc.AcceptedRole = role
		} else {
			pc.AcceptedRole = negotiation.RoleDefault
		}
	}

	p.AcceptedExtendedNegotiation = info.ExtendedNegotiations()
	if id, ok := info.UserIdentity().(*pdu.UserIdentityAC); ok {
		p.IdentityAcknowledge = true
		p.IdentityResponse = id.ServerResponse
	}
	return nil
}

// parametersFromAssociateRQ builds acceptor-side parameters from a
// received request.
func parametersFromAssociateRQ(rq *pdu.AssociateRQ) *Parameters {
	info := rq.UserInfo
	p := &Parameters{
		CallingAETitle:                rq.CallingAETitle,
		CalledAETitle:                 rq.CalledAETitle,
		ApplicationContext:            rq.ApplicationContext,
		PeerImplementationClassUID:    info.ImplementationClassUID(),
		PeerImplementationVersionName: info.ImplementationVersionName(),
		ExtendedNegotiation:           info.ExtendedNegotiations(),
	}
	if n, ok := info.MaxLength(); ok {
		p.PeerMaxPDULength = n
	}
	if w, ok := info.AsyncOperationsWindow(); ok {
		p.AsyncOperations = &w
	}
	if id, ok := info.UserIdentity().(*pdu.UserIdentityRQ); ok {
		p.Identity = id
	}

	proposed := make(map[string]negotiation.Role)
	for _, rs := range info.RoleSelections() {
		proposed[rs.SOPClassUID] = negotiation.RoleFromSelection(&rs)
	}
	for _, pc := range rq.PresentationContexts {
		p.PresentationContexts = append(p.PresentationContexts, PresentationContext{
			ID:               pc.ID,
			AbstractSyntax:   pc.AbstractSyntax,
			TransferSyntaxes: pc.TransferSyntaxes,
			ProposedRole:     proposed[pc.AbstractSyntax],
		})
	}
	return p
}

// proposals returns the contexts in the form the negotiator consumes.
func (p *Parameters) proposals() []negotiation.Proposal {
	out := make([]negotiation.Proposal, 0, len(p.PresentationContexts))
	for _, pc := range p.PresentationContexts {
		out = append(out, negotiation.Proposal{
			ID:               pc.ID,
			AbstractSyntax:   pc.AbstractSyntax,
			TransferSyntaxes: pc.TransferSyntaxes,
			Role:             pc.ProposedRole,
		})
	}
	return out
}

// applyOutcomes records the acceptor's decisions.
func (p *Parameters) applyOutcomes(outcomes []negotiation.Outcome) {
	for i, o := range outcomes {
		pc := &p.PresentationContexts[i]
		pc.Result = o.Result
		pc.TransferSyntax = o.TransferSyntax
		pc.AcceptedRole = o.Role
	}
}

// buildAssociateAC converts the acceptor's decisions into an
// A-ASSOCIATE-AC.
func (p *Parameters) buildAssociateAC(identityResponse []byte, sendIdentity bool) *pdu.AssociateAC {
	ac := &pdu.AssociateAC{
		ProtocolVersion:    pdu.ProtocolVersion,
		CalledAETitle:      p.CalledAETitle,
		CallingAETitle:     p.CallingAETitle,
		ApplicationContext: p.ApplicationContext,
	}
	for _, pc := range p.PresentationContexts {
		acpc := pdu.PresentationContextAC{ID: pc.ID, Result: pc.Result}
		if pc.Result == pdu.ResultAcceptance {
			acpc.TransferSyntax = pc.TransferSyntax
		}
		ac.PresentationContexts = append(ac.PresentationContexts, acpc)
	}

	info := p.baseUserInformation()
	seen := make(map[string]bool)
	for _, pc := range p.PresentationContexts {
		if !pc.Accepted() || seen[pc.AbstractSyntax] {
			continue
		}
		seen[pc.AbstractSyntax] = true
		if rs, ok := pc.AcceptedRole.Selection(pc.AbstractSyntax); ok {
			info = append(info, rs)
		}
	}
	for _, en := range p.AcceptedExtendedNegotiation {
		info = append(info, en)
	}
	if sendIdentity {
		info = append(info, pdu.UserIdentityAC{ServerResponse: identityResponse})
	}
	ac.UserInfo = info
	return ac
}

// String summarizes the negotiated contexts for diagnostics.
func (pc PresentationContext) String() string {
	if pc.Accepted() {
		return fmt.Sprintf("[%d] %s: %s (%s)", pc.ID, uid.Name(pc.AbstractSyntax), uid.Name(pc.TransferSyntax), pc.AcceptedRole)
	}
	return fmt.Sprintf("[%d] %s: %s", pc.ID, uid.Name(pc.AbstractSyntax), pc.Result)
}
