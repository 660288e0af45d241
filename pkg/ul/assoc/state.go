package assoc

import (
	"fmt"
	"slices"

	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// State is the protocol state of an association.
type State uint8

const (
	StateIdle State = iota
	StateRequesting
	StateAwaitingAssociateResponse
	StateEstablished
	StateReleaseRequested
	StateReleaseIndicated
	StateReleased
	StateAborted
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRequesting:
		return "Requesting"
	case StateAwaitingAssociateResponse:
		return "AwaitingAssociateResponse"
	case StateEstablished:
		return "Established"
	case StateReleaseRequested:
		return "ReleaseRequested"
	case StateReleaseIndicated:
		return "ReleaseIndicated"
	case StateReleased:
		return "Released"
	case StateAborted:
		return "Aborted"
	case StateDropped:
		return "Dropped"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateReleased || s == StateAborted || s == StateDropped
}

// Association outcomes, as reported by Association.Outcome.
const (
	OutcomeActive   = "active"
	OutcomeReleased = "released"
	OutcomeRejected = "rejected"
	OutcomeAborted  = "aborted"
	OutcomeDropped  = "dropped"
)

// Side is the part a local association plays in establishment.
type Side uint8

const (
	SideRequestor Side = iota
	SideAcceptor
)

func (s Side) String() string {
	if s == SideAcceptor {
		return "acceptor"
	}
	return "requestor"
}

// Direction tells received PDUs from sent ones.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	if d == DirectionOut {
		return "out"
	}
	return "in"
}

// receivable lists the PDU types each state accepts from the peer.
// A-ABORT is accepted in every non-terminal state and is not listed.
var receivable = map[State][]pdu.Type{
	StateAwaitingAssociateResponse: {pdu.TypeAssociateAC, pdu.TypeAssociateRJ},
	StateEstablished:               {pdu.TypePDataTF, pdu.TypeReleaseRQ},
	StateReleaseRequested:          {pdu.TypePDataTF, pdu.TypeReleaseRQ, pdu.TypeReleaseRP},
}

// canReceive reports whether side may receive a PDU of type t in state s.
func canReceive(side Side, s State, t pdu.Type) bool {
	if s.Terminal() {
		return false
	}
	if t == pdu.TypeAbort {
		return true
	}
	if s == StateIdle {
		return side == SideAcceptor && t == pdu.TypeAssociateRQ
	}
	return slices.Contains(receivable[s], t)
}
