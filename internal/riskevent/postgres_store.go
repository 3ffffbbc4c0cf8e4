package riskevent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL. The conditional
// decision check in Transition is a single UPDATE with decision in the
// WHERE clause, so two concurrent resolutions of one event produce exactly
// one affected row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed event store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_events table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_events (
			id                VARCHAR(40) PRIMARY KEY,
			uid               VARCHAR(64) NOT NULL,
			event_type        VARCHAR(20) NOT NULL,
			risk_score        NUMERIC(6,1) NOT NULL CHECK (risk_score >= 0),
			risk_reasons      TEXT[] NOT NULL DEFAULT '{}',
			decision          VARCHAR(10) NOT NULL,
			metadata          JSONB NOT NULL DEFAULT '{}',
			request_token     VARCHAR(64),
			created_at        TIMESTAMPTZ NOT NULL,
			resolved_at       TIMESTAMPTZ,
			resolved_by       VARCHAR(64),
			resolution_reason TEXT
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_risk_events_token
			ON risk_events(request_token) WHERE request_token <> '';
		CREATE INDEX IF NOT EXISTS idx_risk_events_uid ON risk_events(uid);
		CREATE INDEX IF NOT EXISTS idx_risk_events_decision ON risk_events(decision);
		CREATE INDEX IF NOT EXISTS idx_risk_events_created ON risk_events(created_at, id);
	`)
	return err
}

const eventColumns = `id, uid, event_type, risk_score, risk_reasons, decision,
	metadata, request_token, created_at, resolved_at, resolved_by, resolution_reason`

// Create appends a new event. ErrConflict covers both an id collision and a
// replayed request token; the service disambiguates by re-reading the token.
func (p *PostgresStore) Create(ctx context.Context, event *RiskEvent) error {
	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO risk_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		event.ID, event.UID, string(event.EventType), event.RiskScore,
		pq.Array(event.RiskReasons), string(event.Decision),
		meta, event.RequestToken, event.CreatedAt,
		nullTime(event.ResolvedAt), nullString(event.ResolvedBy), nullString(event.ResolutionReason),
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert risk event: %w", err)
	}
	return nil
}

// Get retrieves an event by id.
func (p *PostgresStore) Get(ctx context.Context, id string) (*RiskEvent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM risk_events WHERE id = $1
	`, id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get risk event: %w", err)
	}
	return event, nil
}

// GetByToken retrieves an event by its create request token.
func (p *PostgresStore) GetByToken(ctx context.Context, token string) (*RiskEvent, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM risk_events WHERE request_token = $1
	`, token)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get risk event by token: %w", err)
	}
	return event, nil
}

// Transition performs the optimistic conditional update. Zero affected rows
// means either the record is gone (ErrNotFound) or its decision no longer
// matches (ErrStaleState); a follow-up read distinguishes the two.
func (p *PostgresStore) Transition(ctx context.Context, id string, expected, next Decision, res Resolution) (*RiskEvent, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE risk_events
		SET decision = $2, resolved_at = $3, resolved_by = $4, resolution_reason = $5
		WHERE id = $1 AND decision = $6 AND resolved_at IS NULL
		RETURNING `+eventColumns+`
	`, id, string(next), res.ResolvedAt, res.ResolvedBy, res.Reason, string(expected))

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		var exists bool
		checkErr := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM risk_events WHERE id = $1)`, id).Scan(&exists)
		if checkErr != nil {
			return nil, fmt.Errorf("transition existence check: %w", checkErr)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrStaleState
	}
	if err != nil {
		return nil, fmt.Errorf("transition risk event: %w", err)
	}
	return event, nil
}

// Query returns events matching the filter, createdAt ascending with id as
// tiebreak so pagination windows are stable under concurrent inserts.
func (p *PostgresStore) Query(ctx context.Context, filter Filter) ([]*RiskEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM risk_events WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UID != "" {
		query += ` AND uid = ` + arg(filter.UID)
	}
	if filter.Decision != "" {
		query += ` AND decision = ` + arg(string(filter.Decision))
	}
	if filter.EventType != "" {
		query += ` AND event_type = ` + arg(string(filter.EventType))
	}
	if !filter.From.IsZero() {
		query += ` AND created_at >= ` + arg(filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND created_at <= ` + arg(filter.To)
	}
	if !filter.AfterCreatedAt.IsZero() {
		query += ` AND (created_at, id) > (` + arg(filter.AfterCreatedAt) + `, ` + arg(filter.AfterID) + `)`
	}

	query += ` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query risk events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// Aggregate counts events by decision and event type within a window.
func (p *PostgresStore) Aggregate(ctx context.Context, from, to time.Time) (*Summary, error) {
	query := `
		SELECT decision, event_type, COUNT(*)
		FROM risk_events
		WHERE created_at <= $1`
	args := []interface{}{to}
	if !from.IsZero() {
		query += ` AND created_at >= $2`
		args = append(args, from)
	}
	query += ` GROUP BY decision, event_type`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate risk events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summary := &Summary{
		ByDecision:  make(map[Decision]int64),
		ByEventType: make(map[EventType]int64),
	}
	for rows.Next() {
		var decision, eventType string
		var count int64
		if err := rows.Scan(&decision, &eventType, &count); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		summary.Total += count
		summary.ByDecision[Decision(decision)] += count
		summary.ByEventType[EventType(eventType)] += count
	}
	return summary, rows.Err()
}

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scannable) (*RiskEvent, error) {
	var event RiskEvent
	var eventType, decision string
	var reasons pq.StringArray
	var meta []byte
	var token, resolvedBy, resolutionReason sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&event.ID, &event.UID, &eventType, &event.RiskScore, &reasons, &decision,
		&meta, &token, &event.CreatedAt, &resolvedAt, &resolvedBy, &resolutionReason,
	)
	if err != nil {
		return nil, err
	}

	event.EventType = EventType(eventType)
	event.Decision = Decision(decision)
	event.RiskReasons = []string(reasons)
	if event.RiskReasons == nil {
		event.RiskReasons = []string{}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &event.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if token.Valid {
		event.RequestToken = token.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		event.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		event.ResolvedBy = resolvedBy.String
	}
	if resolutionReason.Valid {
		event.ResolutionReason = resolutionReason.String
	}
	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]*RiskEvent, error) {
	var result []*RiskEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}
	return result, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
