package pdu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dicomul/internal/ulenc"
	"github.com/marmos91/dicomul/pkg/ul/cond"
)

// ItemType is the type byte of an item nested in an A-ASSOCIATE PDU.
type ItemType uint8

const (
	ItemApplicationContext   ItemType = 0x10
	ItemPresentationContext  ItemType = 0x20
	ItemPresentationContextA ItemType = 0x21
	ItemAbstractSyntax       ItemType = 0x30
	ItemTransferSyntax       ItemType = 0x40
	ItemUserInformation      ItemType = 0x50
	ItemMaxLength            ItemType = 0x51
	ItemImplementationClass  ItemType = 0x52
	ItemAsyncOperations      ItemType = 0x53
	ItemRoleSelection        ItemType = 0x54
	ItemImplementationVer    ItemType = 0x55
	ItemExtendedNegotiation  ItemType = 0x56
	ItemUserIdentityRQ       ItemType = 0x58
	ItemUserIdentityAC       ItemType = 0x59
)

func (t ItemType) String() string {
	switch t {
	case ItemApplicationContext:
		return "application context"
	case ItemPresentationContext:
		return "presentation context (RQ)"
	case ItemPresentationContextA:
		return "presentation context (AC)"
	case ItemAbstractSyntax:
		return "abstract syntax"
	case ItemTransferSyntax:
		return "transfer syntax"
	case ItemUserInformation:
		return "user information"
	case ItemMaxLength:
		return "maximum length"
	case ItemImplementationClass:
		return "implementation class UID"
	case ItemAsyncOperations:
		return "asynchronous operations window"
	case ItemRoleSelection:
		return "SCP/SCU role selection"
	case ItemImplementationVer:
		return "implementation version name"
	case ItemExtendedNegotiation:
		return "SOP class extended negotiation"
	case ItemUserIdentityRQ:
		return "user identity (RQ)"
	case ItemUserIdentityAC:
		return "user identity (AC)"
	default:
		return fmt.Sprintf("item 0x%02X", uint8(t))
	}
}

// ItemHeaderSize is the size of an item header.
const ItemHeaderSize = 4

// nextItem reads an item header and returns a reader bounded to the item's
// declared length.
func nextItem(r *ulenc.Reader, parent string) (ItemType, uint16, *ulenc.Reader, error) {
	if n := r.Remaining(); n < ItemHeaderSize {
		return 0, 0, nil, cond.TruncatedItem.Errorf("%s: %d bytes left at offset %d, need %d for an item header",
			parent, n, r.Position(), ItemHeaderSize)
	}
	t := ItemType(r.ReadUint8())
	r.Skip(1)
	n := r.ReadUint16()
	body := r.Sub(int(n))
	if err := r.Err(); err != nil {
		return t, n, nil, cond.TruncatedItem.Wrap(err, "%s: %s item", parent, t)
	}
	return t, n, body, nil
}

// itemErr maps a failed item body read to TruncatedItem.
func itemErr(body *ulenc.Reader, t ItemType) error {
	if err := body.Err(); err != nil {
		return cond.TruncatedItem.Wrap(err, "%s item", t)
	}
	return nil
}

func writeItem(w *ulenc.Writer, t ItemType, body func(w *ulenc.Writer)) {
	w.WriteUint8(uint8(t))
	w.WriteUint8(0)
	mark := w.Reserve16()
	body(w)
	w.Patch16(mark)
}

// encodeErr maps a writer failure to a condition.
func encodeErr(err error, what string) error {
	if err == nil {
		return nil
	}
	var c *cond.Condition
	if errors.As(err, &c) {
		return err
	}
	return cond.InvalidParameter.Wrap(err, "encoding %s", what)
}

func trimUID(s string) string {
	return strings.TrimRight(s, "\x00 ")
}

func trimAE(s string) string {
	return strings.Trim(s, " \x00")
}

// ContextResult is the result byte of an A-ASSOCIATE-AC presentation context.
type ContextResult uint8

const (
	ResultAcceptance                   ContextResult = 0
	ResultUserRejection                ContextResult = 1
	ResultNoReason                     ContextResult = 2
	ResultAbstractSyntaxNotSupported   ContextResult = 3
	ResultTransferSyntaxesNotSupported ContextResult = 4
)

func (r ContextResult) String() string {
	switch r {
	case ResultAcceptance:
		return "acceptance"
	case ResultUserRejection:
		return "user-rejection"
	case ResultNoReason:
		return "no-reason"
	case ResultAbstractSyntaxNotSupported:
		return "abstract-syntax-not-supported"
	case ResultTransferSyntaxesNotSupported:
		return "transfer-syntaxes-not-supported"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// PresentationContextRQ is a proposed presentation context.
type PresentationContextRQ struct {
	ID               uint8
	AbstractSyntax   string
	TransferSyntaxes []string
}

// PresentationContextAC is the acceptor's answer for one proposed context.
// TransferSyntax is meaningful only when Result is ResultAcceptance.
type PresentationContextAC struct {
	ID             uint8
	Result         ContextResult
	TransferSyntax string
}

func decodePresentationContextRQ(body *ulenc.Reader) (PresentationContextRQ, error) {
	var pc PresentationContextRQ
	pc.ID = body.ReadUint8()
	body.Skip(3)
	if err := itemErr(body, ItemPresentationContext); err != nil {
		return pc, err
	}
	if pc.ID%2 == 0 {
		return pc, cond.MalformedPdu.Errorf("presentation context ID %d is not odd", pc.ID)
	}

	var haveAbstract bool
	for body.Remaining() > 0 {
		t, _, sub, err := nextItem(body, "presentation context")
		if err != nil {
			return pc, err
		}
		switch t {
		case ItemAbstractSyntax:
			if haveAbstract {
				return pc, cond.MalformedPdu.Errorf("presentation context %d has more than one abstract syntax", pc.ID)
			}
			haveAbstract = true
			pc.AbstractSyntax = trimUID(string(sub.Rest()))
		case ItemTransferSyntax:
			pc.TransferSyntaxes = append(pc.TransferSyntaxes, trimUID(string(sub.Rest())))
		default:
			return pc, cond.MalformedPdu.Errorf("unexpected %s in presentation context %d", t, pc.ID)
		}
	}
	if !haveAbstract {
		return pc, cond.MalformedPdu.Errorf("presentation context %d has no abstract syntax", pc.ID)
	}
	if len(pc.TransferSyntaxes) == 0 {
		return pc, cond.MalformedPdu.Errorf("presentation context %d has no transfer syntax", pc.ID)
	}
	return pc, nil
}

func (pc PresentationContextRQ) appendTo(w *ulenc.Writer) {
	if pc.ID%2 == 0 {
		w.Fail(cond.InvalidParameter.Errorf("presentation context ID %d is not odd", pc.ID))
		return
	}
	if pc.AbstractSyntax == "" || len(pc.TransferSyntaxes) == 0 {
		w.Fail(cond.InvalidParameter.Errorf("presentation context %d needs an abstract syntax and at least one transfer syntax", pc.ID))
		return
	}
	writeItem(w, ItemPresentationContext, func(w *ulenc.Writer) {
		w.WriteUint8(pc.ID)
		w.WriteZeros(3)
		writeItem(w, ItemAbstractSyntax, func(w *ulenc.Writer) { w.WriteString(pc.AbstractSyntax) })
		for _, ts := range pc.TransferSyntaxes {
			writeItem(w, ItemTransferSyntax, func(w *ulenc.Writer) { w.WriteString(ts) })
		}
	})
}

func decodePresentationContextAC(body *ulenc.Reader) (PresentationContextAC, error) {
	var pc PresentationContextAC
	pc.ID = body.ReadUint8()
	body.Skip(1)
	pc.Result = ContextResult(body.ReadUint8())
	body.Skip(1)
	if err := itemErr(body, ItemPresentationContextA); err != nil {
		return pc, err
	}
	if pc.ID%2 == 0 {
		return pc, cond.MalformedPdu.Errorf("presentation context ID %d is not odd", pc.ID)
	}
	if pc.Result > ResultTransferSyntaxesNotSupported {
		return pc, cond.MalformedPdu.Errorf("presentation context %d has result %d", pc.ID, uint8(pc.Result))
	}

	var count int
	for body.Remaining() > 0 {
		t, _, sub, err := nextItem(body, "presentation context")
		if err != nil {
			return pc, err
		}
		if t != ItemTransferSyntax {
			return pc, cond.MalformedPdu.Errorf("unexpected %s in presentation context %d", t, pc.ID)
		}
		count++
		if count > 1 {
			return pc, cond.MalformedPdu.Errorf("presentation context %d carries more than one transfer syntax", pc.ID)
		}
		pc.TransferSyntax = trimUID(string(sub.Rest()))
	}
	if pc.Result == ResultAcceptance && pc.TransferSyntax == "" {
		return pc, cond.MalformedPdu.Errorf("accepted presentation context %d has no transfer syntax", pc.ID)
	}
	return pc, nil
}

func (pc PresentationContextAC) appendTo(w *ulenc.Writer) {
	if pc.ID%2 == 0 {
		w.Fail(cond.InvalidParameter.Errorf("presentation context ID %d is not odd", pc.ID))
		return
	}
	if pc.Result == ResultAcceptance && pc.TransferSyntax == "" {
		w.Fail(cond.InvalidParameter.Errorf("accepted presentation context %d needs a transfer syntax", pc.ID))
		return
	}
	writeItem(w, ItemPresentationContextA, func(w *ulenc.Writer) {
		w.WriteUint8(pc.ID)
		w.WriteUint8(0)
		w.WriteUint8(uint8(pc.Result))
		w.WriteUint8(0)
		writeItem(w, ItemTransferSyntax, func(w *ulenc.Writer) { w.WriteString(pc.TransferSyntax) })
	})
}
