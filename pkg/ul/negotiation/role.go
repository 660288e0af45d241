package negotiation

import (
	"fmt"
	"strings"

	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// Role is an SCU/SCP role, proposed or resolved, for one abstract syntax.
type Role uint8

const (
	// RoleDefault means no role selection item: the requestor is SCU and
	// the acceptor SCP.
	RoleDefault Role = iota
	RoleSCU
	RoleSCP
	RoleSCUSCP
	// RoleNone is a resolution result only: neither side may act in the
	// proposed role.
	RoleNone
)

func (r Role) String() string {
	switch r {
	case RoleDefault:
		return "default"
	case RoleSCU:
		return "scu"
	case RoleSCP:
		return "scp"
	case RoleSCUSCP:
		return "scu/scp"
	case RoleNone:
		return "none"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// ParseRole accepts the names produced by Role.String; "" is RoleDefault.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return RoleDefault, nil
	case "scu":
		return RoleSCU, nil
	case "scp":
		return RoleSCP, nil
	case "scu/scp", "scuscp", "both":
		return RoleSCUSCP, nil
	default:
		return RoleDefault, fmt.Errorf("unknown role %q", s)
	}
}

// RoleFromSelection maps a role selection item to the proposed role. A
// missing item or one with both flags clear is RoleDefault.
func RoleFromSelection(rs *pdu.RoleSelection) Role {
	if rs == nil {
		return RoleDefault
	}
	switch {
	case rs.SCU && rs.SCP:
		return RoleSCUSCP
	case rs.SCU:
		return RoleSCU
	case rs.SCP:
		return RoleSCP
	default:
		return RoleDefault
	}
}

// AcceptedRoleFromSelection maps a role selection item returned in an
// A-ASSOCIATE-AC to the accepted role. There both flags clear means RoleNone.
func AcceptedRoleFromSelection(rs *pdu.RoleSelection) Role {
	if rs != nil && !rs.SCU && !rs.SCP {
		return RoleNone
	}
	return RoleFromSelection(rs)
}

// Selection returns the role selection item that conveys r for sopClass,
// and false for RoleDefault, which is conveyed by omitting the item.
func (r Role) Selection(sopClass string) (pdu.RoleSelection, bool) {
	rs := pdu.RoleSelection{SOPClassUID: sopClass}
	switch r {
	case RoleSCU:
		rs.SCU = true
	case RoleSCP:
		rs.SCP = true
	case RoleSCUSCP:
		rs.SCU, rs.SCP = true, true
	case RoleNone:
	default:
		return rs, false
	}
	return rs, true
}

// ResolveRole applies the role negotiation table to the requestor's
// proposal and the acceptor's configured role.
//
//	Requestor  Acceptor  Result
//	SCU        SCP       none
//	SCU        SCU       SCU
//	SCU        SCU/SCP   SCU
//	SCU        default   default
//	SCP        SCP       SCP
//	SCP        SCU       none
//	SCP        SCU/SCP   SCP
//	SCP        default   default
//	SCU/SCP    SCP       SCP
//	SCU/SCP    SCU       SCU
//	SCU/SCP    SCU/SCP   SCU/SCP
//	SCU/SCP    default   default
//	default    SCP       reject (default if alwaysAcceptDefault)
//	default    SCU       default
//	default    SCU/SCP   default
//	default    default   default
func ResolveRole(proposed, acceptor Role, alwaysAcceptDefault bool) (Role, error) {
	if acceptor == RoleDefault {
		return RoleDefault, nil
	}
	switch proposed {
	case RoleSCU:
		switch acceptor {
		case RoleSCP:
			return RoleNone, nil
		case RoleSCU, RoleSCUSCP:
			return RoleSCU, nil
		}
	case RoleSCP:
		switch acceptor {
		case RoleSCU:
			return RoleNone, nil
		case RoleSCP, RoleSCUSCP:
			return RoleSCP, nil
		}
	case RoleSCUSCP:
		switch acceptor {
		case RoleSCP:
			return RoleSCP, nil
		case RoleSCU:
			return RoleSCU, nil
		case RoleSCUSCP:
			return RoleSCUSCP, nil
		}
	case RoleDefault:
		if acceptor == RoleSCP && !alwaysAcceptDefault {
			return RoleNone, cond.RoleNegotiationFailed.Errorf("requestor proposed the default role, acceptor is configured as SCP only")
		}
		return RoleDefault, nil
	}
	return RoleDefault, nil
}
