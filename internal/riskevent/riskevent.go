// Package riskevent implements the risk decision ledger.
//
// Every scored occurrence (a credit grant, a promo redemption, an admin
// balance adjustment) becomes an immutable RiskEvent carrying the score and
// reasons produced at creation time. The only mutable field is the decision,
// which moves posted → hold → reversed under a one-shot, operator-driven
// resolution protocol. Records are never deleted; "reversed" is a terminal
// state, not a removal.
package riskevent

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("risk event not found")
	ErrConflict           = errors.New("risk event already exists")
	ErrStaleState         = errors.New("risk event decision changed concurrently")
	ErrAlreadyResolved    = errors.New("risk event already resolved")
	ErrInvalidTransition  = errors.New("risk event is not pending review")
	ErrScoringUnavailable = errors.New("risk scoring unavailable")
	ErrStorageUnavailable = errors.New("event storage unavailable")
)

// Decision is the ledger state of an event.
type Decision string

const (
	DecisionPosted   Decision = "posted"
	DecisionHold     Decision = "hold"
	DecisionReversed Decision = "reversed"
)

// Valid reports whether d is a known decision value.
func (d Decision) Valid() bool {
	switch d {
	case DecisionPosted, DecisionHold, DecisionReversed:
		return true
	}
	return false
}

// EventType identifies which scoring policy and metadata shape apply.
type EventType string

const (
	TypeCredit      EventType = "credit"
	TypePromoRedeem EventType = "promo_redeem"
	TypeAdminAdjust EventType = "admin_adjust"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case TypeCredit, TypePromoRedeem, TypeAdminAdjust:
		return true
	}
	return false
}

// Metadata carries the per-type details of an event. Which fields are
// required depends on the event type; see validation.ValidateMetadata.
// Immutable after creation.
type Metadata struct {
	Amount         float64 `json:"amount,omitempty"`
	Source         string  `json:"source,omitempty"`
	CustomerID     string  `json:"customerId,omitempty"`
	IP             string  `json:"ip,omitempty"`
	AccountAgeDays int     `json:"accountAgeDays,omitempty"`
}

// RiskEvent is a single entry in the decision ledger.
//
// ResolvedAt/ResolvedBy/ResolutionReason are set exactly once, together,
// when the event leaves hold. Their absence means the decision was assigned
// at creation and never changed.
type RiskEvent struct {
	ID               string     `json:"id"`
	UID              string     `json:"uid"`
	EventType        EventType  `json:"eventType"`
	RiskScore        float64    `json:"riskScore"`
	RiskReasons      []string   `json:"riskReasons"`
	Decision         Decision   `json:"decision"`
	Metadata         Metadata   `json:"metadata"`
	RequestToken     string     `json:"requestToken,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy       string     `json:"resolvedBy,omitempty"`
	ResolutionReason string     `json:"resolutionReason,omitempty"`
}

// Resolved reports whether the event left hold via an explicit resolution.
func (e *RiskEvent) Resolved() bool {
	return e.ResolvedAt != nil
}

// Clone returns a deep copy so stored records can't be mutated by callers.
func (e *RiskEvent) Clone() *RiskEvent {
	cp := *e
	if e.RiskReasons != nil {
		cp.RiskReasons = append([]string(nil), e.RiskReasons...)
	}
	if e.ResolvedAt != nil {
		t := *e.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

// Resolution records who moved an event out of hold, when, and why.
type Resolution struct {
	ResolvedAt time.Time
	ResolvedBy string
	Reason     string
}

// Filter selects events for Query. Zero values mean "any".
type Filter struct {
	UID       string
	Decision  Decision
	EventType EventType
	From      time.Time
	To        time.Time

	// AfterCreatedAt/AfterID position the page just past a cursor
	// (createdAt ascending, id as tiebreak).
	AfterCreatedAt time.Time
	AfterID        string
	Limit          int
}

// Summary aggregates event counts for operator dashboards.
type Summary struct {
	Total       int64               `json:"total"`
	ByDecision  map[Decision]int64  `json:"byDecision"`
	ByEventType map[EventType]int64 `json:"byEventType"`
}

// Store is durable keyed storage for RiskEvent records.
//
// Transition is the concurrency-control primitive: it succeeds only if the
// stored decision still equals expected, otherwise ErrStaleState. Query
// returns events ordered by createdAt ascending (id ascending as tiebreak),
// never partial or duplicated within one call.
type Store interface {
	Create(ctx context.Context, event *RiskEvent) error
	Get(ctx context.Context, id string) (*RiskEvent, error)
	GetByToken(ctx context.Context, token string) (*RiskEvent, error)
	Transition(ctx context.Context, id string, expected, next Decision, res Resolution) (*RiskEvent, error)
	Query(ctx context.Context, filter Filter) ([]*RiskEvent, error)
	Aggregate(ctx context.Context, from, to time.Time) (*Summary, error)
}

// Scorer produces a risk score and explanatory reasons for a candidate
// event. Implementations must respect ctx cancellation; the caller bounds
// each call with a timeout and treats failure as ErrScoringUnavailable.
type Scorer interface {
	Score(ctx context.Context, uid string, eventType EventType, meta Metadata) (float64, []string, error)
}
