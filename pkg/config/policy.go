package config

import (
	"fmt"

	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/negotiation"
)

// AcceptorPolicy builds the immutable presentation context policy from the
// policy section.
func (c *Config) AcceptorPolicy() (*negotiation.AcceptorPolicy, error) {
	return c.Policy.Build()
}

// Build converts the section to a negotiation.AcceptorPolicy.
func (p PolicyConfig) Build() (*negotiation.AcceptorPolicy, error) {
	pc := negotiation.PolicyConfig{
		AlwaysAcceptDefaultRole: p.AlwaysAcceptDefaultRole,
		EchoExtendedNegotiation: p.EchoExtendedNegotiation,
		CallingAETitles:         p.CallingAETitles,
	}
	if p.CheckCalledAETitle {
		pc.CalledAETitle = p.AETitle
	}
	for _, s := range p.Syntaxes {
		role, err := negotiation.ParseRole(s.Role)
		if err != nil {
			return nil, fmt.Errorf("abstract syntax %s: %w", s.AbstractSyntax, err)
		}
		pc.Syntaxes = append(pc.Syntaxes, negotiation.SyntaxPolicy{
			AbstractSyntax:   s.AbstractSyntax,
			TransferSyntaxes: s.TransferSyntaxes,
			Role:             role,
		})
	}
	return negotiation.NewAcceptorPolicy(pc)
}

// Parameters builds requestor parameters proposing the configured
// contexts. Context IDs are the odd numbers 1, 3, 5... in order.
func (c ClientConfig) Parameters() (*assoc.Parameters, error) {
	params := assoc.NewParameters(c.CallingAETitle, c.CalledAETitle)
	params.LocalMaxPDULength = c.MaxPDULength.Uint32()
	for _, s := range c.Contexts {
		role, err := negotiation.ParseRole(s.Role)
		if err != nil {
			return nil, fmt.Errorf("abstract syntax %s: %w", s.AbstractSyntax, err)
		}
		if err := params.AddPresentationContext(params.NextContextID(), s.AbstractSyntax, s.TransferSyntaxes, role); err != nil {
			return nil, err
		}
	}
	return params, nil
}
