package metrics

import (
	"context"
	"time"

	"github.com/marmos91/dicomul/pkg/capture"
	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
)

// Identity verification outcomes.
const (
	IdentityAccepted = "accepted"
	IdentityRejected = "rejected"
)

type observer struct {
	m AssociationMetrics
}

// NewObserver returns an assoc.Observer feeding m, or nil when m is nil.
// Presentation context results are counted when an association becomes
// established; association outcomes when it reaches a terminal state.
func NewObserver(m AssociationMetrics) assoc.Observer {
	if m == nil {
		return nil
	}
	return &observer{m: m}
}

func (o *observer) StateChanged(a *assoc.Association, _, to assoc.State) {
	switch {
	case to == assoc.StateEstablished:
		for _, pc := range a.Parameters().PresentationContexts {
			o.m.RecordPresentationContext(pc.Result.String())
		}
	case to.Terminal():
		o.m.RecordAssociation(a.Outcome(), time.Since(a.StartTime()))
	}
}

func (o *observer) PDU(_ *assoc.Association, dir assoc.Direction, t pdu.Type, size int) {
	o.m.RecordPDU(dir.String(), t.String(), size)
}

type instrumentedVerifier struct {
	next assoc.IdentityVerifier
	m    AssociationMetrics
}

// InstrumentVerifier counts the verifications made by v. It returns v
// unchanged when m is nil.
func InstrumentVerifier(v assoc.IdentityVerifier, m AssociationMetrics) assoc.IdentityVerifier {
	if m == nil || v == nil {
		return v
	}
	return &instrumentedVerifier{next: v, m: m}
}

func (v *instrumentedVerifier) Verify(ctx context.Context, id *pdu.UserIdentityRQ) (*assoc.IdentityResult, error) {
	res, err := v.next.Verify(ctx, id)
	outcome := IdentityAccepted
	if err != nil {
		outcome = IdentityRejected
	}
	v.m.RecordIdentity(id.Mode.String(), outcome)
	return res, err
}

type instrumentedStore struct {
	next      capture.Store
	storeType string
	m         CaptureMetrics
}

// InstrumentStore times every call to s. It returns s unchanged when m is
// nil.
func InstrumentStore(s capture.Store, storeType string, m CaptureMetrics) capture.Store {
	if m == nil {
		return s
	}
	return &instrumentedStore{next: s, storeType: storeType, m: m}
}

func (s *instrumentedStore) Put(ctx context.Context, r *capture.Record) error {
	start := time.Now()
	err := s.next.Put(ctx, r)
	s.m.ObserveOperation(s.storeType, "put", time.Since(start), err)
	if err == nil {
		s.m.RecordBytes(s.storeType, "put", int64(len(r.Data)))
	}
	return err
}

func (s *instrumentedStore) Get(ctx context.Context, key string) (*capture.Record, error) {
	start := time.Now()
	r, err := s.next.Get(ctx, key)
	s.m.ObserveOperation(s.storeType, "get", time.Since(start), err)
	if err == nil {
		s.m.RecordBytes(s.storeType, "get", int64(len(r.Data)))
	}
	return r, err
}

func (s *instrumentedStore) List(ctx context.Context, associationID string) ([]string, error) {
	start := time.Now()
	keys, err := s.next.List(ctx, associationID)
	s.m.ObserveOperation(s.storeType, "list", time.Since(start), err)
	return keys, err
}

func (s *instrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.m.ObserveOperation(s.storeType, "delete", time.Since(start), err)
	return err
}

func (s *instrumentedStore) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
