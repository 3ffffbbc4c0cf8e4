package riskevent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory event store for demo/development mode and
// tests. All operations are guarded by a single lock, which gives the same
// per-event serialization guarantees as the conditional update in Postgres.
type MemoryStore struct {
	mu      sync.RWMutex
	events  map[string]*RiskEvent // by ID
	byToken map[string]string     // request token → ID
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string]*RiskEvent),
		byToken: make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, event *RiskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.events[event.ID]; ok {
		return ErrConflict
	}
	if event.RequestToken != "" {
		if _, ok := m.byToken[event.RequestToken]; ok {
			return ErrConflict
		}
		m.byToken[event.RequestToken] = event.ID
	}
	m.events[event.ID] = event.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*RiskEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	event, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return event.Clone(), nil
}

func (m *MemoryStore) GetByToken(ctx context.Context, token string) (*RiskEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return m.events[id].Clone(), nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, expected, next Decision, res Resolution) (*RiskEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	if event.Decision != expected || event.ResolvedAt != nil {
		return nil, ErrStaleState
	}

	event.Decision = next
	at := res.ResolvedAt
	event.ResolvedAt = &at
	event.ResolvedBy = res.ResolvedBy
	event.ResolutionReason = res.Reason
	return event.Clone(), nil
}

func (m *MemoryStore) Query(ctx context.Context, filter Filter) ([]*RiskEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*RiskEvent
	for _, event := range m.events {
		if matches(event, filter) {
			result = append(result, event.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *MemoryStore) Aggregate(ctx context.Context, from, to time.Time) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := &Summary{
		ByDecision:  make(map[Decision]int64),
		ByEventType: make(map[EventType]int64),
	}
	for _, event := range m.events {
		if !from.IsZero() && event.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && event.CreatedAt.After(to) {
			continue
		}
		summary.Total++
		summary.ByDecision[event.Decision]++
		summary.ByEventType[event.EventType]++
	}
	return summary, nil
}

func matches(event *RiskEvent, f Filter) bool {
	if f.UID != "" && event.UID != f.UID {
		return false
	}
	if f.Decision != "" && event.Decision != f.Decision {
		return false
	}
	if f.EventType != "" && event.EventType != f.EventType {
		return false
	}
	if !f.From.IsZero() && event.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && event.CreatedAt.After(f.To) {
		return false
	}
	if !f.AfterCreatedAt.IsZero() {
		// Strictly after the cursor position.
		if event.CreatedAt.Before(f.AfterCreatedAt) {
			return false
		}
		if event.CreatedAt.Equal(f.AfterCreatedAt) && event.ID <= f.AfterID {
			return false
		}
	}
	return true
}
