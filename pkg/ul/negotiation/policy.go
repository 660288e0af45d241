// Package negotiation implements acceptor-side presentation context
// negotiation: transfer syntax selection and SCU/SCP role resolution against
// an AcceptorPolicy.
package negotiation

import (
	"fmt"
	"slices"

	"github.com/marmos91/dicomul/pkg/ul/uid"
)

// SyntaxPolicy lists what the acceptor supports for one abstract syntax.
type SyntaxPolicy struct {
	AbstractSyntax   string
	TransferSyntaxes []string
	Role             Role
}

// PolicyConfig is the input to NewAcceptorPolicy.
type PolicyConfig struct {
	Syntaxes []SyntaxPolicy

	// AlwaysAcceptDefaultRole resolves a default-role proposal against an
	// SCP-only abstract syntax to the default role instead of rejecting it.
	AlwaysAcceptDefaultRole bool

	// EchoExtendedNegotiation returns the requestor's extended negotiation
	// items for accepted SOP classes unchanged.
	EchoExtendedNegotiation bool

	// CalledAETitle, when set, is the only called AE title accepted.
	CalledAETitle string

	// CallingAETitles, when non-empty, lists the accepted calling AE titles.
	CallingAETitles []string
}

type syntaxEntry struct {
	transfer []string
	role     Role
}

// AcceptorPolicy is the acceptor's capability table. It is immutable after
// construction and safe to share between concurrent associations.
type AcceptorPolicy struct {
	syntaxes                map[string]syntaxEntry
	order                   []string
	alwaysAcceptDefaultRole bool
	echoExtended            bool
	calledAETitle           string
	callingAETitles         map[string]struct{}
}

// NewAcceptorPolicy validates cfg and builds a policy. Symbolic transfer
// syntax names are resolved.
func NewAcceptorPolicy(cfg PolicyConfig) (*AcceptorPolicy, error) {
	p := &AcceptorPolicy{
		syntaxes:                make(map[string]syntaxEntry, len(cfg.Syntaxes)),
		alwaysAcceptDefaultRole: cfg.AlwaysAcceptDefaultRole,
		echoExtended:            cfg.EchoExtendedNegotiation,
		calledAETitle:           cfg.CalledAETitle,
	}
	for _, s := range cfg.Syntaxes {
		if err := uid.Validate(s.AbstractSyntax); err != nil {
			return nil, fmt.Errorf("abstract syntax: %w", err)
		}
		if _, dup := p.syntaxes[s.AbstractSyntax]; dup {
			return nil, fmt.Errorf("abstract syntax %s listed twice", s.AbstractSyntax)
		}
		if len(s.TransferSyntaxes) == 0 {
			return nil, fmt.Errorf("abstract syntax %s has no transfer syntax", s.AbstractSyntax)
		}
		if s.Role > RoleSCUSCP {
			return nil, fmt.Errorf("abstract syntax %s: %s is not a configurable role", s.AbstractSyntax, s.Role)
		}
		entry := syntaxEntry{role: s.Role}
		for _, ts := range s.TransferSyntaxes {
			resolved, err := uid.Parse(ts)
			if err != nil {
				return nil, fmt.Errorf("abstract syntax %s: transfer syntax: %w", s.AbstractSyntax, err)
			}
			if !slices.Contains(entry.transfer, resolved) {
				entry.transfer = append(entry.transfer, resolved)
			}
		}
		p.syntaxes[s.AbstractSyntax] = entry
		p.order = append(p.order, s.AbstractSyntax)
	}
	if len(cfg.CallingAETitles) > 0 {
		p.callingAETitles = make(map[string]struct{}, len(cfg.CallingAETitles))
		for _, ae := range cfg.CallingAETitles {
			p.callingAETitles[ae] = struct{}{}
		}
	}
	return p, nil
}

// TransferSyntaxes returns the transfer syntaxes registered for abstract, or
// nil.
func (p *AcceptorPolicy) TransferSyntaxes(abstract string) []string {
	e, ok := p.syntaxes[abstract]
	if !ok {
		return nil
	}
	return slices.Clone(e.transfer)
}

// Role returns the acceptor's configured role for abstract.
func (p *AcceptorPolicy) Role(abstract string) Role {
	return p.syntaxes[abstract].role
}

func (p *AcceptorPolicy) supports(abstract, transfer string) bool {
	return slices.Contains(p.syntaxes[abstract].transfer, transfer)
}

// AbstractSyntaxes lists the configured abstract syntaxes in configuration
// order.
func (p *AcceptorPolicy) AbstractSyntaxes() []string {
	return slices.Clone(p.order)
}

func (p *AcceptorPolicy) AlwaysAcceptDefaultRole() bool { return p.alwaysAcceptDefaultRole }
func (p *AcceptorPolicy) EchoExtendedNegotiation() bool { return p.echoExtended }

// AcceptsCalledAETitle reports whether ae may be addressed.
func (p *AcceptorPolicy) AcceptsCalledAETitle(ae string) bool {
	return p.calledAETitle == "" || p.calledAETitle == ae
}

// AcceptsCallingAETitle reports whether ae may associate.
func (p *AcceptorPolicy) AcceptsCallingAETitle(ae string) bool {
	if p.callingAETitles == nil {
		return true
	}
	_, ok := p.callingAETitles[ae]
	return ok
}
