package riskevent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/riskledger/internal/idgen"
	"github.com/mbd888/riskledger/internal/logging"
	"github.com/mbd888/riskledger/internal/metrics"
	"github.com/mbd888/riskledger/internal/traces"
)

// DefaultScoringTimeout bounds a single Scorer call.
const DefaultScoringTimeout = 2 * time.Second

// EventEmitter receives ledger activity for real-time streaming.
type EventEmitter interface {
	EmitScored(event *RiskEvent)
	EmitResolved(event *RiskEvent)
}

// Service orchestrates scoring, decisioning, and resolution over a Store.
type Service struct {
	store          Store
	scorer         Scorer
	policy         *Policy
	scoringTimeout time.Duration
	events         EventEmitter
}

// NewService creates a risk event service.
func NewService(store Store, scorer Scorer, policy *Policy) *Service {
	return &Service{
		store:          store,
		scorer:         scorer,
		policy:         policy,
		scoringTimeout: DefaultScoringTimeout,
	}
}

// WithScoringTimeout overrides the scorer call timeout.
func (s *Service) WithScoringTimeout(d time.Duration) *Service {
	s.scoringTimeout = d
	return s
}

// WithEvents attaches a real-time event emitter.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// Policy returns the decision policy in use.
func (s *Service) Policy() *Policy {
	return s.policy
}

// CreateRequest is a candidate event submitted for scoring.
type CreateRequest struct {
	UID          string    `json:"uid"`
	EventType    EventType `json:"eventType" binding:"required"`
	Metadata     Metadata  `json:"metadata"`
	RequestToken string    `json:"requestToken"`
}

// Create scores a candidate event, applies the decision policy, and appends
// the record atomically. If a request token is supplied, retries after a
// storage failure are idempotent: the same token always maps to the same
// persisted record.
//
// Scoring failure aborts creation entirely; no record is written with a
// fabricated score.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*RiskEvent, error) {
	ctx, span := traces.StartSpan(ctx, "riskevent.Create",
		traces.UID(req.UID), traces.EventTypeAttr(string(req.EventType)))
	defer span.End()

	if req.UID == "" {
		return nil, fmt.Errorf("%w: uid is required", ErrValidation)
	}
	if err := ValidateMetadata(req.EventType, req.Metadata); err != nil {
		return nil, err
	}

	// Replay of a previously committed create returns the original record.
	if req.RequestToken != "" {
		existing, err := s.store.GetByToken(ctx, req.RequestToken)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: token lookup: %v", ErrStorageUnavailable, err)
		}
	}

	score, reasons, err := s.score(ctx, req)
	if err != nil {
		return nil, err
	}

	decision := s.policy.Decide(score)
	if reasons == nil {
		reasons = []string{}
	}

	event := &RiskEvent{
		ID:           idgen.WithPrefix("evt_"),
		UID:          req.UID,
		EventType:    req.EventType,
		RiskScore:    score,
		RiskReasons:  reasons,
		Decision:     decision,
		Metadata:     req.Metadata,
		RequestToken: req.RequestToken,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.Create(ctx, event); err != nil {
		// A concurrent retry with the same token may have won the insert.
		if errors.Is(err, ErrConflict) && req.RequestToken != "" {
			if existing, gerr := s.store.GetByToken(ctx, req.RequestToken); gerr == nil {
				return existing, nil
			}
		}
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	metrics.EventsTotal.WithLabelValues(string(event.EventType), string(event.Decision)).Inc()
	logging.L(ctx).Info("risk event created",
		"event_id", event.ID,
		"uid", event.UID,
		"event_type", event.EventType,
		"score", event.RiskScore,
		"decision", event.Decision,
	)

	if s.events != nil {
		s.events.EmitScored(event)
	}
	return event, nil
}

// score runs the scorer under the configured timeout and enforces its
// contract: non-negative score, and a non-empty explanation whenever the
// score reaches the hold threshold. A contract breach is treated the same
// as a scorer outage — the candidate is rejected, never persisted.
func (s *Service) score(ctx context.Context, req CreateRequest) (float64, []string, error) {
	scoreCtx, cancel := context.WithTimeout(ctx, s.scoringTimeout)
	defer cancel()

	start := time.Now()
	score, reasons, err := s.scorer.Score(scoreCtx, req.UID, req.EventType, req.Metadata)
	metrics.ScoringDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.ScoringFailuresTotal.Inc()
		return 0, nil, fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
	}
	if score < 0 {
		metrics.ScoringFailuresTotal.Inc()
		return 0, nil, fmt.Errorf("%w: scorer returned negative score %.2f", ErrScoringUnavailable, score)
	}
	if score >= s.policy.HoldThreshold() && len(reasons) == 0 {
		metrics.ScoringFailuresTotal.Inc()
		return 0, nil, fmt.Errorf("%w: scorer returned score %.2f with no reasons", ErrScoringUnavailable, score)
	}
	return score, reasons, nil
}

// Get returns a single event by id.
func (s *Service) Get(ctx context.Context, id string) (*RiskEvent, error) {
	return s.store.Get(ctx, id)
}

// Resolve moves a held event to posted or reversed, recording who resolved
// it, when, and why. Exactly one of two concurrent resolutions wins; the
// loser observes ErrAlreadyResolved, never a silent overwrite.
func (s *Service) Resolve(ctx context.Context, id, resolvedBy string, outcome Decision, reason string) (*RiskEvent, error) {
	ctx, span := traces.StartSpan(ctx, "riskevent.Resolve",
		traces.EventID(id), traces.DecisionAttr(string(outcome)))
	defer span.End()

	if outcome != DecisionPosted && outcome != DecisionReversed {
		return nil, fmt.Errorf("%w: outcome must be posted or reversed, got %q", ErrValidation, outcome)
	}
	if resolvedBy == "" {
		return nil, fmt.Errorf("%w: resolvedBy is required", ErrValidation)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: resolution reason is required", ErrValidation)
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Decision != DecisionHold {
		if current.Resolved() {
			return nil, fmt.Errorf("%w: event %s is %s", ErrAlreadyResolved, id, current.Decision)
		}
		return nil, fmt.Errorf("%w: event %s was %s at creation", ErrInvalidTransition, id, current.Decision)
	}

	updated, err := s.store.Transition(ctx, id, DecisionHold, outcome, Resolution{
		ResolvedAt: time.Now().UTC(),
		ResolvedBy: resolvedBy,
		Reason:     reason,
	})
	if err != nil {
		if errors.Is(err, ErrStaleState) {
			metrics.ResolutionConflictsTotal.Inc()
			return nil, fmt.Errorf("%w: event %s", ErrAlreadyResolved, id)
		}
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	metrics.ResolutionsTotal.WithLabelValues(string(outcome)).Inc()
	logging.L(ctx).Info("risk event resolved",
		"event_id", updated.ID,
		"outcome", updated.Decision,
		"resolved_by", resolvedBy,
	)

	if s.events != nil {
		s.events.EmitResolved(updated)
	}
	return updated, nil
}
