package negotiation

import (
	"errors"

	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// Proposal is one presentation context as proposed by the requestor.
type Proposal struct {
	ID               uint8
	AbstractSyntax   string
	TransferSyntaxes []string
	Role             Role
}

// Outcome is the acceptor's decision for one proposal.
type Outcome struct {
	ID             uint8
	AbstractSyntax string
	TransferSyntax string
	Result         pdu.ContextResult
	ProposedRole   Role
	Role           Role
}

// Accepted reports whether the context was accepted.
func (o Outcome) Accepted() bool {
	return o.Result == pdu.ResultAcceptance
}

// Negotiate decides one proposed presentation context. An abstract syntax
// without registered transfer syntaxes is rejected with
// abstract-syntax-not-supported; otherwise the first proposed transfer
// syntax the policy supports is selected, in proposal order. A role
// mismatch that the table resolves to a rejection yields result no-reason
// together with a RoleNegotiationFailed condition.
func Negotiate(p Proposal, policy *AcceptorPolicy) (Outcome, error) {
	out := Outcome{
		ID:             p.ID,
		AbstractSyntax: p.AbstractSyntax,
		ProposedRole:   p.Role,
	}
	if len(policy.TransferSyntaxes(p.AbstractSyntax)) == 0 {
		out.Result = pdu.ResultAbstractSyntaxNotSupported
		return out, nil
	}

	for _, ts := range p.TransferSyntaxes {
		if policy.supports(p.AbstractSyntax, ts) {
			out.TransferSyntax = ts
			break
		}
	}
	if out.TransferSyntax == "" {
		out.Result = pdu.ResultTransferSyntaxesNotSupported
		return out, nil
	}

	acceptor := policy.Role(p.AbstractSyntax)
	role, err := ResolveRole(p.Role, acceptor, policy.AlwaysAcceptDefaultRole())
	if err != nil {
		out.TransferSyntax = ""
		out.Result = pdu.ResultNoReason
		return out, cond.RoleNegotiationFailed.Errorf("presentation context %d (%s): proposed %s, acceptor %s",
			p.ID, p.AbstractSyntax, p.Role, acceptor)
	}
	out.Role = role
	out.Result = pdu.ResultAcceptance
	return out, nil
}

// NegotiateAll decides every proposal in order. Role negotiation failures
// are collected and returned joined; they never stop the remaining
// proposals from being decided.
func NegotiateAll(proposals []Proposal, policy *AcceptorPolicy) ([]Outcome, error) {
	out := make([]Outcome, 0, len(proposals))
	var errs []error
	for _, p := range proposals {
		o, err := Negotiate(p, policy)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, o)
	}
	return out, errors.Join(errs...)
}
