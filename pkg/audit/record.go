package audit

import (
	"time"

	"github.com/marmos91/dicomul/pkg/ul/assoc"
	"github.com/marmos91/dicomul/pkg/ul/cond"
)

// ContextSummary is one presentation context as stored in the audit log.
type ContextSummary struct {
	ID             uint8  `json:"id"`
	AbstractSyntax string `json:"abstract_syntax"`
	TransferSyntax string `json:"transfer_syntax,omitempty"`
	Role           string `json:"role,omitempty"`
	Result         string `json:"result"`
}

// Record is one finished association.
type Record struct {
	ID               string           `gorm:"column:id;primaryKey;size:36" json:"id"`
	Side             string           `gorm:"column:side;size:16;not null" json:"side"`
	Peer             string           `gorm:"column:peer;size:255" json:"peer"`
	CallingAETitle   string           `gorm:"column:calling_ae;size:16;index" json:"calling_ae"`
	CalledAETitle    string           `gorm:"column:called_ae;size:16" json:"called_ae"`
	IdentityMode     string           `gorm:"column:identity_mode;size:32" json:"identity_mode,omitempty"`
	Username         string           `gorm:"column:username;size:255" json:"username,omitempty"`
	PeerMaxPDULength int64            `gorm:"column:peer_max_pdu" json:"peer_max_pdu"`
	ProposedContexts int              `gorm:"column:proposed_contexts" json:"proposed_contexts"`
	AcceptedContexts int              `gorm:"column:accepted_contexts" json:"accepted_contexts"`
	Contexts         []ContextSummary `gorm:"column:contexts;serializer:json;type:text" json:"contexts,omitempty"`
	FinalState       string           `gorm:"column:final_state;size:32;not null" json:"final_state"`
	Outcome          string           `gorm:"column:outcome;size:16;index" json:"outcome"`
	ConditionID      string           `gorm:"column:condition_id;size:16" json:"condition_id,omitempty"`
	ConditionText    string           `gorm:"column:condition_text;type:text" json:"condition,omitempty"`
	PDUsIn           int64            `gorm:"column:pdus_in" json:"pdus_in"`
	PDUsOut          int64            `gorm:"column:pdus_out" json:"pdus_out"`
	BytesIn          int64            `gorm:"column:bytes_in" json:"bytes_in"`
	BytesOut         int64            `gorm:"column:bytes_out" json:"bytes_out"`
	UnitsCaptured    int64            `gorm:"column:units_captured" json:"units_captured"`
	StartedAt        time.Time        `gorm:"column:started_at;index" json:"started_at"`
	EndedAt          time.Time        `gorm:"column:ended_at" json:"ended_at"`
	DurationMs       int64            `gorm:"column:duration_ms" json:"duration_ms"`
}

// TableName returns the table name for Record.
func (Record) TableName() string {
	return "associations"
}

// NewRecord summarizes a finished association.
func NewRecord(a *assoc.Association, unitsCaptured int64, endedAt time.Time) *Record {
	p := a.Parameters()
	stats := a.Stats()

	r := &Record{
		ID:               a.ID(),
		Side:             a.Side().String(),
		Peer:             a.RemoteAddr(),
		CallingAETitle:   p.CallingAETitle,
		CalledAETitle:    p.CalledAETitle,
		Username:         p.AuthenticatedIdentity,
		PeerMaxPDULength: int64(p.PeerMaxPDULength),
		ProposedContexts: len(p.PresentationContexts),
		AcceptedContexts: p.AcceptedCount(),
		FinalState:       a.State().String(),
		Outcome:          a.Outcome(),
		PDUsIn:           int64(stats.PDUsIn),
		PDUsOut:          int64(stats.PDUsOut),
		BytesIn:          int64(stats.BytesIn),
		BytesOut:         int64(stats.BytesOut),
		UnitsCaptured:    unitsCaptured,
		StartedAt:        a.StartTime().UTC(),
		EndedAt:          endedAt.UTC(),
		DurationMs:       endedAt.Sub(a.StartTime()).Milliseconds(),
	}
	if p.Identity != nil {
		r.IdentityMode = p.Identity.Mode.String()
	}

	for _, pc := range p.PresentationContexts {
		s := ContextSummary{
			ID:             pc.ID,
			AbstractSyntax: pc.AbstractSyntax,
			Result:         pc.Result.String(),
		}
		if pc.Accepted() {
			s.TransferSyntax = pc.TransferSyntax
			s.Role = pc.AcceptedRole.String()
		}
		r.Contexts = append(r.Contexts, s)
	}

	if err := a.Err(); err != nil {
		if c := cond.From(err); c != nil {
			r.ConditionID = c.ID()
		}
		r.ConditionText = err.Error()
	} else if p.Rejection != nil {
		r.ConditionText = p.Rejection.String()
	}
	return r
}
