package client

import (
	"errors"

	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// IdentityOptions selects the user identity proposed in the
// A-ASSOCIATE-RQ. At most one of Password, Token or KerberosTicket is used,
// in that order of precedence after Username.
type IdentityOptions struct {
	Username       string
	Password       string
	Token          string
	KerberosTicket []byte

	// PositiveResponse asks the acceptor to acknowledge the identity.
	PositiveResponse bool
}

// Build returns the User Identity sub-item, or nil when no identity is set.
func (o IdentityOptions) Build() (*pdu.UserIdentityRQ, error) {
	id := &pdu.UserIdentityRQ{PositiveResponseRequested: o.PositiveResponse}
	switch {
	case o.Username != "" && o.Password != "":
		id.Mode = pdu.IdentityUsernamePassword
		id.Primary = []byte(o.Username)
		id.Secondary = []byte(o.Password)
	case o.Username != "":
		id.Mode = pdu.IdentityUsername
		id.Primary = []byte(o.Username)
	case o.Password != "":
		return nil, errors.New("a password requires a username")
	case o.Token != "":
		id.Mode = pdu.IdentityJWT
		id.Primary = []byte(o.Token)
	case len(o.KerberosTicket) > 0:
		id.Mode = pdu.IdentityKerberos
		id.Primary = o.KerberosTicket
	default:
		return nil, nil
	}
	if len(id.Primary) > pdu.MaxIdentityField || len(id.Secondary) > pdu.MaxIdentityField {
		return nil, errors.New("identity field exceeds 65535 bytes")
	}
	return id, nil
}
