package dicom

import (
	"context"
	"errors"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/internal/telemetry"
	"github.com/marmos91/dicomul/pkg/audit"
	"github.com/marmos91/dicomul/pkg/capture"
	"github.com/marmos91/dicomul/pkg/metrics"
	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/cond"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
	"github.com/marmos91/dicomul/pkg/ul/pdv"
	"github.com/marmos91/dicomul/pkg/ul/transport"
)

// auditTimeout bounds the audit write made after an association ends. The
// connection context may already be cancelled at that point.
const auditTimeout = 5 * time.Second

// Connection serves one acceptor association.
type Connection struct {
	server *Adapter
	conn   net.Conn

	sequence uint64
	captured int64
}

// NewConnection creates a handler for conn.
func NewConnection(server *Adapter, conn net.Conn) *Connection {
	return &Connection{server: server, conn: conn}
}

// Serve runs the association until it reaches a terminal state.
//
// The association ends when:
//   - The peer releases or aborts it
//   - A protocol error aborts it
//   - The connection drops or times out
//   - The context is cancelled (server shutdown), which aborts it
func (c *Connection) Serve(ctx context.Context) {
	s := c.server
	tc := transport.NewConnection(c.conn, s.config.Transport)
	defer func() { _ = tc.Close() }()

	id := uuid.NewString()
	ctx, span := telemetry.StartAssociationSpan(ctx, id, assoc.SideAcceptor.String(), tc.RemoteAddr())
	defer span.End()

	a := assoc.NewAcceptor(tc, assoc.Config{
		Codec:             pdu.Codec{MaxPDUSize: s.config.MaxPDUSize.Uint32()},
		Policy:            s.Policy(),
		Verifier:          s.opts.Verifier,
		EnforceIdentity:   s.opts.EnforceIdentity,
		LocalMaxPDULength: s.config.MaxPDULength.Uint32(),
		MaxUnitSize:       s.config.MaxUnitSize.Int(),
		Observer:          metrics.NewObserver(s.opts.Metrics),
		ID:                id,
	})
	a.SetTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = a.LogContext(ctx)

	s.track(a)
	defer s.untrack(a)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "panic serving DICOM association", "panic", r, "stack", string(debug.Stack()))
			a.Abort()
		}
		c.finish(ctx, a)
	}()

	for {
		ev, err := a.Receive(ctx)
		for _, u := range ev.Units {
			c.store(ctx, a, u)
		}
		if err != nil {
			logEnd(ctx, err)
			return
		}
		if a.State().Terminal() {
			return
		}
	}
}

func logEnd(ctx context.Context, err error) {
	switch {
	case errors.Is(err, cond.TransportClosed), errors.Is(err, cond.PeerAborted):
		logger.DebugCtx(ctx, "DICOM association ended by peer", logger.Err(err))
	case errors.Is(err, cond.AssociationAborted):
		logger.DebugCtx(ctx, "DICOM association aborted", logger.Err(err))
	default:
		attrs := []any{logger.Err(err)}
		if c := cond.From(err); c != nil {
			attrs = append(attrs, logger.Condition(c.ID()))
		}
		logger.WarnCtx(ctx, "DICOM association failed", attrs...)
	}
}

// store hands one completed unit to the capture store.
func (c *Connection) store(ctx context.Context, a *assoc.Association, u pdv.Unit) {
	s := c.server
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordUnit(u.Command, len(u.Data))
	}
	if s.opts.Capture == nil {
		return
	}

	c.sequence++
	r := &capture.Record{
		AssociationID: a.ID(),
		Sequence:      c.sequence,
		ContextID:     u.ContextID,
		Command:       u.Command,
		ReceivedAt:    time.Now().UTC(),
		Size:          len(u.Data),
		Data:          u.Data,
	}
	if pc, ok := a.Parameters().Context(u.ContextID); ok {
		r.AbstractSyntax = pc.AbstractSyntax
		r.TransferSyntax = pc.TransferSyntax
	}

	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanCaptureWrite, s.opts.CaptureType,
		telemetry.PresCtxID(u.ContextID),
		telemetry.Command(u.Command),
		telemetry.Bytes(len(u.Data)),
		telemetry.StorageKey(r.Key()))
	defer span.End()

	if err := s.opts.Capture.Put(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture write failed")
		logger.ErrorCtx(ctx, "capture write failed",
			logger.PresCtxID(u.ContextID),
			logger.StoreType(s.opts.CaptureType),
			logger.Err(err))
		return
	}
	c.captured++
	logger.DebugCtx(ctx, "unit captured",
		logger.PresCtxID(u.ContextID),
		logger.KeyCommand, u.Command,
		logger.KeyBytes, len(u.Data))
}

// finish annotates the span and writes the audit row.
func (c *Connection) finish(ctx context.Context, a *assoc.Association) {
	endedAt := time.Now()
	rec := audit.NewRecord(a, c.captured, endedAt)

	span := telemetry.SpanFromContext(ctx)
	span.SetAttributes(
		telemetry.State(rec.FinalState),
		telemetry.Outcome(rec.Outcome),
		telemetry.CallingAE(rec.CallingAETitle),
		telemetry.CalledAE(rec.CalledAETitle))
	if rec.ConditionID != "" {
		span.SetAttributes(telemetry.Condition(rec.ConditionID))
	}
	if rec.Outcome == assoc.OutcomeAborted || rec.Outcome == assoc.OutcomeDropped {
		span.SetStatus(codes.Error, rec.Outcome)
	}

	logger.InfoCtx(ctx, "DICOM association ended",
		logger.Outcome(rec.Outcome),
		logger.KeyState, rec.FinalState,
		"accepted_contexts", rec.AcceptedContexts,
		"units_captured", rec.UnitsCaptured,
		logger.DurationMs(float64(rec.DurationMs)))

	if c.server.opts.Audit == nil {
		return
	}
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	auditCtx, auditSpan := telemetry.StartSpan(auditCtx, telemetry.SpanAuditRecord)
	defer auditSpan.End()
	if err := c.server.opts.Audit.Record(auditCtx, rec); err != nil {
		auditSpan.RecordError(err)
		logger.ErrorCtx(ctx, "audit write failed", logger.Err(err))
	}
}
