package pdv

import (
	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// Unit is a complete command or dataset.
type Unit struct {
	ContextID uint8
	Command   bool
	Data      []byte
}

type key struct {
	id      uint8
	command bool
}

// Reassembler accumulates PDVs per presentation context, keeping command and
// dataset fragments apart. It is not safe for concurrent use.
type Reassembler struct {
	accepted    func(id uint8) bool
	maxUnitSize int
	pending     map[key][]byte
}

// NewReassembler returns a Reassembler that admits PDVs whose context ID
// satisfies accepted. maxUnitSize bounds a single unit; zero disables the
// bound.
func NewReassembler(accepted func(id uint8) bool, maxUnitSize int) *Reassembler {
	return &Reassembler{
		accepted:    accepted,
		maxUnitSize: maxUnitSize,
		pending:     make(map[key][]byte),
	}
}

// Add appends one PDV and returns the completed unit when v is the last
// fragment, or nil.
func (r *Reassembler) Add(v pdu.PDV) (*Unit, error) {
	if !r.accepted(v.ContextID) {
		return nil, cond.UnknownPresentationContext.Errorf("PDV for presentation context %d, which was not accepted", v.ContextID)
	}
	k := key{id: v.ContextID, command: v.Command}
	buf := r.pending[k]
	if r.maxUnitSize > 0 && len(buf)+len(v.Data) > r.maxUnitSize {
		delete(r.pending, k)
		return nil, cond.PduTooLarge.Errorf("unit on presentation context %d exceeds %d bytes", v.ContextID, r.maxUnitSize)
	}
	buf = append(buf, v.Data...)
	if !v.Last {
		r.pending[k] = buf
		return nil, nil
	}
	delete(r.pending, k)
	if buf == nil {
		buf = []byte{}
	}
	return &Unit{ContextID: v.ContextID, Command: v.Command, Data: buf}, nil
}

// AddAll feeds every PDV of a P-DATA-TF and returns the units completed by
// it, in order.
func (r *Reassembler) AddAll(values []pdu.PDV) ([]Unit, error) {
	var out []Unit
	for _, v := range values {
		u, err := r.Add(v)
		if err != nil {
			return out, err
		}
		if u != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}

// Pending reports the number of bytes held in incomplete units.
func (r *Reassembler) Pending() int {
	n := 0
	for _, b := range r.pending {
		n += len(b)
	}
	return n
}

// Reset drops all incomplete units.
func (r *Reassembler) Reset() {
	clear(r.pending)
}
