// Package dicom implements the DICOM acceptor service: it accepts TCP
// connections, runs one association per connection and hands completed
// commands and datasets to a capture store.
package dicom

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dicomul/internal/logger"
	"github.com/marmos91/dicomul/pkg/adapter"
	"github.com/marmos91/dicomul/pkg/audit"
	"github.com/marmos91/dicomul/pkg/capture"
	"github.com/marmos91/dicomul/pkg/metrics"
	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/negotiation"
)

// AuditRecorder persists one row per finished association.
// *audit.Store satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, r *audit.Record) error
}

// Options carries the collaborators of the adapter.
type Options struct {
	// Policy is the initial presentation context policy. Required.
	Policy *negotiation.AcceptorPolicy

	// Verifier checks user identity requests. Optional.
	Verifier assoc.IdentityVerifier

	// EnforceIdentity rejects associations without a verified identity.
	EnforceIdentity bool

	// Capture receives completed commands and datasets. Optional.
	Capture capture.Store

	// CaptureType names the capture backend in spans.
	CaptureType string

	// Audit records finished associations. Optional.
	Audit AuditRecorder

	// Metrics records association metrics. Optional.
	Metrics metrics.AssociationMetrics
}

// Adapter is the DICOM acceptor.
//
// Architecture:
// Adapter embeds BaseAdapter for the TCP lifecycle (listener, shutdown,
// connection tracking, semaphore, metrics logging). Each accepted
// connection is served by a Connection that drives one acceptor
// association until it reaches a terminal state.
//
// The presentation context policy is held behind an atomic pointer. SetPolicy
// swaps it; associations already running keep the policy they started with.
type Adapter struct {
	*adapter.BaseAdapter

	config  Config
	opts    Options
	allowed []*net.IPNet

	policy atomic.Pointer[negotiation.AcceptorPolicy]

	// active maps association IDs to running associations.
	active sync.Map
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a stopped adapter. Call Serve to start accepting
// connections.
func New(config Config, opts Options) (*Adapter, error) {
	config.applyLimits()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid DICOM config: %w", err)
	}
	if opts.Policy == nil {
		return nil, errors.New("invalid DICOM config: a presentation context policy is required")
	}
	allowed, _ := parseNetworks(config.AllowedNetworks)

	baseConfig := adapter.BaseConfig{
		BindAddress:        config.BindAddress,
		Port:               config.Port,
		MaxConnections:     config.MaxConnections,
		ShutdownTimeout:    config.ShutdownTimeout,
		MetricsLogInterval: config.MetricsLogInterval,
	}

	a := &Adapter{
		BaseAdapter: adapter.NewBaseAdapter(baseConfig, "DICOM"),
		config:      config,
		opts:        opts,
		allowed:     allowed,
	}
	if opts.Metrics != nil {
		a.Metrics = opts.Metrics
	}
	a.opts.Verifier = metrics.InstrumentVerifier(opts.Verifier, opts.Metrics)
	a.policy.Store(opts.Policy)
	return a, nil
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a, a.preAccept, nil)
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return NewConnection(a, conn)
}

// SetPolicy replaces the policy used by new associations.
func (a *Adapter) SetPolicy(p *negotiation.AcceptorPolicy) {
	if p == nil {
		return
	}
	a.policy.Store(p)
	logger.Info("DICOM presentation context policy updated", "abstract_syntaxes", len(p.AbstractSyntaxes()))
}

// Policy returns the policy new associations use.
func (a *Adapter) Policy() *negotiation.AcceptorPolicy {
	return a.policy.Load()
}

func (a *Adapter) preAccept(conn net.Conn) bool {
	if len(a.allowed) == 0 {
		return true
	}
	if allowedPeer(conn.RemoteAddr(), a.allowed) {
		return true
	}
	logger.Warn("DICOM connection refused: peer outside allowed networks", logger.Peer(conn.RemoteAddr().String()))
	if a.Metrics != nil {
		a.Metrics.RecordConnectionRefused(adapter.RefusedNetwork)
	}
	return false
}

func allowedPeer(addr net.Addr, allowed []*net.IPNet) bool {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return false
	}
	for _, n := range allowed {
		if n.Contains(tcp.IP) {
			return true
		}
	}
	return false
}

// AssociationInfo describes a running association.
type AssociationInfo struct {
	ID               string    `json:"id"`
	Peer             string    `json:"peer"`
	State            string    `json:"state"`
	CallingAETitle   string    `json:"calling_ae,omitempty"`
	CalledAETitle    string    `json:"called_ae,omitempty"`
	Identity         string    `json:"identity,omitempty"`
	AcceptedContexts int       `json:"accepted_contexts"`
	PeerMaxPDULength uint32    `json:"peer_max_pdu,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	PDUsIn           uint64    `json:"pdus_in"`
	PDUsOut          uint64    `json:"pdus_out"`
	BytesIn          uint64    `json:"bytes_in"`
	BytesOut         uint64    `json:"bytes_out"`
}

// Active lists the running associations, oldest first.
func (a *Adapter) Active() []AssociationInfo {
	var out []AssociationInfo
	a.active.Range(func(_, value any) bool {
		out = append(out, describe(value.(*assoc.Association)))
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// describe snapshots a. Negotiated parameters are only read once the
// association has left the establishment phase, after which they no longer
// change.
func describe(a *assoc.Association) AssociationInfo {
	state := a.State()
	stats := a.Stats()
	info := AssociationInfo{
		ID:        a.ID(),
		Peer:      a.RemoteAddr(),
		State:     state.String(),
		StartedAt: a.StartTime().UTC(),
		PDUsIn:    stats.PDUsIn,
		PDUsOut:   stats.PDUsOut,
		BytesIn:   stats.BytesIn,
		BytesOut:  stats.BytesOut,
	}
	switch state {
	case assoc.StateIdle, assoc.StateRequesting, assoc.StateAwaitingAssociateResponse:
		return info
	}
	p := a.Parameters()
	info.CallingAETitle = p.CallingAETitle
	info.CalledAETitle = p.CalledAETitle
	info.Identity = p.AuthenticatedIdentity
	info.AcceptedContexts = p.AcceptedCount()
	info.PeerMaxPDULength = p.PeerMaxPDULength
	return info
}

func (a *Adapter) track(as *assoc.Association) {
	a.active.Store(as.ID(), as)
}

func (a *Adapter) untrack(as *assoc.Association) {
	a.active.Delete(as.ID())
}
