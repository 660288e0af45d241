// Package pdv splits command and dataset streams into presentation data
// values bounded by the peer's maximum PDU length, and reassembles received
// values into complete units.
package pdv

import (
	"math"

	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// Overhead is the P-DATA-TF header plus one PDV header.
const Overhead = pdu.HeaderSize + pdu.PDVHeaderSize

// MinMaxPDULength is the smallest maximum PDU length that leaves room for
// payload.
const MinMaxPDULength = Overhead + 1

// Capacity returns the largest PDV payload that fits a P-DATA-TF of at most
// maxPDULength bytes. Zero maxPDULength means the peer set no limit; the
// payload is then bounded by limit, or unbounded when limit is zero.
func Capacity(maxPDULength, limit uint32) int {
	if maxPDULength == 0 {
		if limit == 0 {
			return math.MaxInt32 - Overhead
		}
		return int(limit) - pdu.PDVHeaderSize
	}
	return int(maxPDULength) - Overhead
}

// Fragment splits data into PDVs for context id such that each P-DATA-TF
// carrying a single PDV stays within maxPDULength. The last PDV has Last
// set; an empty stream yields exactly one empty last PDV. The payloads
// alias data.
func Fragment(id uint8, command bool, data []byte, maxPDULength uint32) ([]pdu.PDV, error) {
	return FragmentLimit(id, command, data, maxPDULength, 0)
}

// FragmentLimit is Fragment with the payload bound used when the peer
// declared no maximum length.
func FragmentLimit(id uint8, command bool, data []byte, maxPDULength, limit uint32) ([]pdu.PDV, error) {
	capacity := Capacity(maxPDULength, limit)
	if len(data) > 0 && capacity <= 0 {
		return nil, cond.InvalidParameter.Errorf("maximum PDU length %d leaves no room for PDV payload (minimum %d)", maxPDULength, MinMaxPDULength)
	}
	if len(data) == 0 {
		return []pdu.PDV{{ContextID: id, Command: command, Last: true}}, nil
	}

	out := make([]pdu.PDV, 0, (len(data)+capacity-1)/capacity)
	for off := 0; off < len(data); off += capacity {
		end := min(off+capacity, len(data))
		out = append(out, pdu.PDV{
			ContextID: id,
			Command:   command,
			Last:      end == len(data),
			Data:      data[off:end],
		})
	}
	return out, nil
}
