// Package client runs requestor associations: it dials a remote acceptor,
// negotiates the proposed presentation contexts, optionally sends
// commands and datasets and releases the association.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/internal/telemetry"
	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/pdu"
	"github.com/marmos91/dicomul/pkg/ul/transport"
	"github.com/marmos91/dicomul/pkg/ul/uid"
)

// Message is one command or dataset to send on an accepted context.
type Message struct {
	ContextID uint8
	Command   bool
	Data      []byte
}

// Options configures one requestor association.
type Options struct {
	// Address is the acceptor's host:port.
	Address string

	// Parameters is the proposal. Required.
	Parameters *assoc.Parameters

	Transport transport.Config

	// Codec bounds PDUs received from the acceptor.
	Codec pdu.Codec

	// RequireIdentityResponse fails the association when a requested
	// positive identity response is missing.
	RequireIdentityResponse bool

	// Messages are sent in order once the association is established.
	Messages []Message
}

// ContextResult is the acceptor's decision on one proposed context.
type ContextResult struct {
	ID             uint8  `json:"id" yaml:"id"`
	AbstractSyntax string `json:"abstract_syntax" yaml:"abstract_syntax"`
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	Result         string `json:"result" yaml:"result"`
	TransferSyntax string `json:"transfer_syntax,omitempty" yaml:"transfer_syntax,omitempty"`
	Role           string `json:"role,omitempty" yaml:"role,omitempty"`
}

// Result summarises a finished requestor association.
type Result struct {
	ID                     string          `json:"id" yaml:"id"`
	Peer                   string          `json:"peer" yaml:"peer"`
	CallingAETitle         string          `json:"calling_ae" yaml:"calling_ae"`
	CalledAETitle          string          `json:"called_ae" yaml:"called_ae"`
	PeerMaxPDULength       uint32          `json:"peer_max_pdu" yaml:"peer_max_pdu"`
	PeerImplementation     string          `json:"peer_implementation,omitempty" yaml:"peer_implementation,omitempty"`
	PeerImplementationName string          `json:"peer_implementation_name,omitempty" yaml:"peer_implementation_name,omitempty"`
	IdentityAcknowledged   bool            `json:"identity_acknowledged" yaml:"identity_acknowledged"`
	Contexts               []ContextResult `json:"contexts" yaml:"contexts"`
	MessagesSent           int             `json:"messages_sent" yaml:"messages_sent"`
	BytesSent              int             `json:"bytes_sent" yaml:"bytes_sent"`
	Outcome                string          `json:"outcome" yaml:"outcome"`
	Rejection              string          `json:"rejection,omitempty" yaml:"rejection,omitempty"`
	Duration               time.Duration   `json:"duration" yaml:"duration"`
}

// Headers implements output.TableRenderer.
func (r *Result) Headers() []string {
	return []string{"ID", "Abstract Syntax", "Result", "Transfer Syntax", "Role"}
}

// Rows implements output.TableRenderer.
func (r *Result) Rows() [][]string {
	rows := make([][]string, 0, len(r.Contexts))
	for _, c := range r.Contexts {
		abstract := c.AbstractSyntax
		if c.Name != "" {
			abstract = c.Name
		}
		rows = append(rows, []string{fmt.Sprintf("%d", c.ID), abstract, c.Result, uid.Name(c.TransferSyntax), c.Role})
	}
	return rows
}

// Run associates with the acceptor, sends opts.Messages and releases.
//
// A rejected association returns the Result (Outcome "rejected", Contexts
// empty) together with an error matching cond.AssociationRejected.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Parameters == nil {
		return nil, errors.New("client: parameters are required")
	}
	start := time.Now()

	conn, err := transport.Dial(ctx, opts.Address, opts.Transport)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	a := assoc.NewRequestor(conn, opts.Parameters, assoc.Config{
		Codec:                   opts.Codec,
		RequireIdentityResponse: opts.RequireIdentityResponse,
	})
	ctx, span := telemetry.StartAssociationSpan(ctx, a.ID(), assoc.SideRequestor.String(), opts.Address)
	defer span.End()
	a.SetTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = a.LogContext(ctx)

	res := &Result{
		ID:             a.ID(),
		Peer:           opts.Address,
		CallingAETitle: opts.Parameters.CallingAETitle,
		CalledAETitle:  opts.Parameters.CalledAETitle,
	}
	finish := func(err error) (*Result, error) {
		res.Outcome = a.Outcome()
		res.Duration = time.Since(start)
		span.SetAttributes(telemetry.Outcome(res.Outcome), telemetry.State(a.State().String()))
		if err != nil {
			span.RecordError(err)
		}
		return res, err
	}

	if err := a.Connect(ctx); err != nil {
		if rj := a.Parameters().Rejection; rj != nil {
			res.Rejection = rj.String()
		}
		return finish(err)
	}
	describe(res, a.Parameters())
	logger.DebugCtx(ctx, "association established", "accepted_contexts", a.Parameters().AcceptedCount())

	for _, m := range opts.Messages {
		if err := a.SendData(m.ContextID, m.Command, m.Data); err != nil {
			a.Abort()
			return finish(fmt.Errorf("send on context %d: %w", m.ContextID, err))
		}
		res.MessagesSent++
		res.BytesSent += len(m.Data)
	}

	if _, err := a.Release(ctx); err != nil {
		return finish(err)
	}
	return finish(nil)
}

func describe(res *Result, p *assoc.Parameters) {
	res.PeerMaxPDULength = p.PeerMaxPDULength
	res.PeerImplementation = p.PeerImplementationClassUID
	res.PeerImplementationName = p.PeerImplementationVersionName
	res.IdentityAcknowledged = p.IdentityAcknowledge

	for _, pc := range p.PresentationContexts {
		c := ContextResult{
			ID:             pc.ID,
			AbstractSyntax: pc.AbstractSyntax,
			Result:         pc.Result.String(),
		}
		if name := uid.Name(pc.AbstractSyntax); name != pc.AbstractSyntax {
			c.Name = name
		}
		if pc.Accepted() {
			c.TransferSyntax = pc.TransferSyntax
			c.Role = pc.AcceptedRole.String()
		}
		res.Contexts = append(res.Contexts, c)
	}
}
