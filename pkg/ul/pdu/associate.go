package pdu

import (
	"github.com/marmos91/dicomul/internal/ulenc"
	"github.com/marmos91/dicomul/pkg/ul/cond"
)

// associateFixedSize is the size of the fixed fields preceding the variable
// items of an A-ASSOCIATE-RQ/AC body.
const associateFixedSize = 2 + 2 + AETitleLength + AETitleLength + 32

type associateHeader struct {
	version     uint16
	called      string
	calling     string
	appContext  string
	userInfo    UserInformation
	haveContext bool
	haveInfo    bool
}

// decodeAssociate decodes the common part of A-ASSOCIATE-RQ and -AC and
// hands presentation context items to onContext.
func decodeAssociate(t Type, body []byte, onContext func(ItemType, *ulenc.Reader) error) (*associateHeader, error) {
	if len(body) < associateFixedSize {
		return nil, cond.MalformedPdu.Errorf("%s body is %d bytes, need at least %d", t, len(body), associateFixedSize)
	}
	r := ulenc.NewReader(body)
	h := &associateHeader{}
	h.version = r.ReadUint16()
	r.Skip(2)
	h.called = trimAE(r.ReadString(AETitleLength))
	h.calling = trimAE(r.ReadString(AETitleLength))
	r.Skip(32)

	identity := ItemUserIdentityRQ
	if t == TypeAssociateAC {
		identity = ItemUserIdentityAC
	}

	for r.Remaining() > 0 {
		it, _, item, err := nextItem(r, t.String())
		if err != nil {
			return nil, err
		}
		switch it {
		case ItemApplicationContext:
			if h.haveContext {
				return nil, cond.MalformedPdu.Errorf("%s has more than one application context", t)
			}
			h.haveContext = true
			h.appContext = trimUID(string(item.Rest()))
		case ItemPresentationContext, ItemPresentationContextA:
			if err := onContext(it, item); err != nil {
				return nil, err
			}
		case ItemUserInformation:
			if h.haveInfo {
				return nil, cond.MalformedPdu.Errorf("%s has more than one user information item", t)
			}
			h.haveInfo = true
			info, err := decodeUserInformation(item, identity)
			if err != nil {
				return nil, err
			}
			h.userInfo = info
		default:
			// PS3.8 9.3.1: unrecognized items are ignored.
		}
	}
	if !h.haveContext || h.appContext == "" {
		return nil, cond.MalformedPdu.Errorf("%s has no application context name", t)
	}
	return h, nil
}

func decodeAssociateRQ(body []byte) (*AssociateRQ, error) {
	rq := &AssociateRQ{}
	seen := make(map[uint8]bool)
	h, err := decodeAssociate(TypeAssociateRQ, body, func(it ItemType, item *ulenc.Reader) error {
		if it != ItemPresentationContext {
			return cond.MalformedPdu.Errorf("unexpected %s", it)
		}
		pc, err := decodePresentationContextRQ(item)
		if err != nil {
			return err
		}
		if seen[pc.ID] {
			return cond.MalformedPdu.Errorf("duplicate presentation context ID %d", pc.ID)
		}
		seen[pc.ID] = true
		rq.PresentationContexts = append(rq.PresentationContexts, pc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	rq.ProtocolVersion = h.version
	rq.CalledAETitle = h.called
	rq.CallingAETitle = h.calling
	rq.ApplicationContext = h.appContext
	rq.UserInfo = h.userInfo
	return rq, nil
}

func decodeAssociateAC(body []byte) (*AssociateAC, error) {
	ac := &AssociateAC{}
	seen := make(map[uint8]bool)
	h, err := decodeAssociate(TypeAssociateAC, body, func(it ItemType, item *ulenc.Reader) error {
		if it != ItemPresentationContextA {
			return cond.MalformedPdu.Errorf("unexpected %s", it)
		}
		pc, err := decodePresentationContextAC(item)
		if err != nil {
			return err
		}
		if seen[pc.ID] {
			return cond.MalformedPdu.Errorf("duplicate presentation context ID %d", pc.ID)
		}
		seen[pc.ID] = true
		ac.PresentationContexts = append(ac.PresentationContexts, pc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	ac.ProtocolVersion = h.version
	ac.CalledAETitle = h.called
	ac.CallingAETitle = h.calling
	ac.ApplicationContext = h.appContext
	ac.UserInfo = h.userInfo
	return ac, nil
}

func appendAssociateHeader(w *ulenc.Writer, version uint16, called, calling, appContext string) {
	if appContext == "" {
		w.Fail(cond.InvalidParameter.Errorf("missing application context name"))
		return
	}
	w.WriteUint16(version)
	w.WriteZeros(2)
	w.WritePadded(called, AETitleLength, ' ')
	w.WritePadded(calling, AETitleLength, ' ')
	w.WriteZeros(32)
	writeItem(w, ItemApplicationContext, func(w *ulenc.Writer) { w.WriteString(appContext) })
}

func (rq *AssociateRQ) appendBody(w *ulenc.Writer) {
	appendAssociateHeader(w, rq.ProtocolVersion, rq.CalledAETitle, rq.CallingAETitle, rq.ApplicationContext)
	for _, pc := range rq.PresentationContexts {
		pc.appendTo(w)
	}
	if info := rq.UserInfo.UserIdentity(); info != nil && info.ItemType() != ItemUserIdentityRQ {
		w.Fail(cond.InvalidParameter.Errorf("%s in A-ASSOCIATE-RQ", info.ItemType()))
		return
	}
	rq.UserInfo.appendTo(w)
}

func (ac *AssociateAC) appendBody(w *ulenc.Writer) {
	appendAssociateHeader(w, ac.ProtocolVersion, ac.CalledAETitle, ac.CallingAETitle, ac.ApplicationContext)
	for _, pc := range ac.PresentationContexts {
		pc.appendTo(w)
	}
	if info := ac.UserInfo.UserIdentity(); info != nil && info.ItemType() != ItemUserIdentityAC {
		w.Fail(cond.InvalidParameter.Errorf("%s in A-ASSOCIATE-AC", info.ItemType()))
		return
	}
	ac.UserInfo.appendTo(w)
}
