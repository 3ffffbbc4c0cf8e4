package riskevent

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/riskledger/internal/pagination"
)

// Read-side projection for operator review and compliance export. Nothing
// here mutates state.

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Page is one window of the ledger plus a continuation cursor.
type Page struct {
	Events     []*RiskEvent `json:"events"`
	NextCursor string       `json:"nextCursor,omitempty"`
	HasMore    bool         `json:"hasMore"`
}

// List returns events matching the filter in createdAt-ascending order,
// paginated by an opaque cursor. Re-issuing the same filter and cursor
// yields a consistent window with no duplicated or missing rows.
func (s *Service) List(ctx context.Context, filter Filter, cursor string) (*Page, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if cur != nil {
		filter.AfterCreatedAt = cur.CreatedAt
		filter.AfterID = cur.ID
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}

	// Fetch one extra row to detect whether another page exists.
	limit := filter.Limit
	filter.Limit = limit + 1

	events, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	events, next, more := pagination.ComputePage(events, limit, func(e *RiskEvent) (time.Time, string) {
		return e.CreatedAt, e.ID
	})
	return &Page{Events: events, NextCursor: next, HasMore: more}, nil
}

// Aggregate returns counts by decision and event type over a window for
// operator dashboards. A zero "to" means now; a zero "from" means the
// beginning of the ledger.
func (s *Service) Aggregate(ctx context.Context, from, to time.Time) (*Summary, error) {
	if to.IsZero() {
		to = time.Now().UTC()
	}
	summary, err := s.store.Aggregate(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return summary, nil
}
