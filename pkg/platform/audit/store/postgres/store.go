package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "veriledger/pkg/domain"
	audit "veriledger/pkg/platform/audit"
	txcontext "veriledger/pkg/platform/tx"
)

// Store implements audit.Store with a queryable audit_events table plus the
// transactional outbox. Both rows are written through the same executor, so
// an event recorded inside a ledger transaction commits or rolls back with it.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// OutboxPayload is the JSON structure relayed to Kafka.
type OutboxPayload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	CompanyID string `json:"company_id,omitempty"`
	ChainType string `json:"chain_type,omitempty"`
	Subject   string `json:"subject,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Severity  string `json:"severity,omitempty"`
}

// Append writes an audit event and its outbox entry.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	// Always derive category from action - eventCategories map is the source of truth
	event.Category = audit.AuditEvent(event.Action).Category()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	var companyID *uuid.UUID
	if !event.CompanyID.IsNil() {
		cid := uuid.UUID(event.CompanyID)
		companyID = &cid
	}

	exec := txcontext.Exec(ctx, s.db)
	_, err := exec.ExecContext(ctx, `
		INSERT INTO audit_events (
			id, category, timestamp, action, company_id, chain_type, subject,
			actor_id, decision, reason, ip, user_agent, request_id, severity
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		event.ID,
		string(event.Category),
		event.Timestamp.UTC(),
		event.Action,
		companyID,
		string(event.ChainType),
		event.Subject,
		event.ActorID,
		event.Decision,
		event.Reason,
		event.IP,
		event.UserAgent,
		event.RequestID,
		string(event.Severity),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	payload := OutboxPayload{
		ID:        event.ID.String(),
		Category:  string(event.Category),
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:    event.Action,
		ChainType: string(event.ChainType),
		Subject:   event.Subject,
		ActorID:   event.ActorID,
		Decision:  event.Decision,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		Severity:  string(event.Severity),
	}
	aggregateType, aggregateID := "audit", event.ID.String()
	if companyID != nil {
		payload.CompanyID = companyID.String()
		aggregateType, aggregateID = "company", companyID.String()
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	_, err = exec.ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(),
		aggregateType,
		aggregateID,
		event.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// List returns events matching filter, oldest first.
func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	var companyID *uuid.UUID
	if !filter.CompanyID.IsNil() {
		cid := uuid.UUID(filter.CompanyID)
		companyID = &cid
	}
	var from, to *time.Time
	if !filter.From.IsZero() {
		from = &filter.From
	}
	if !filter.To.IsZero() {
		to = &filter.To
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, timestamp, action, company_id, chain_type, subject,
		       actor_id, decision, reason, ip, user_agent, request_id, severity
		FROM audit_events
		WHERE ($1::uuid IS NULL OR company_id = $1)
		  AND ($2::timestamptz IS NULL OR timestamp >= $2)
		  AND ($3::timestamptz IS NULL OR timestamp < $3)
		  AND (cardinality($4::text[]) = 0 OR action = ANY($4))
		ORDER BY timestamp, id`,
		companyID, from, to, pq.Array(nonNil(filter.Actions)),
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			event     audit.Event
			category  string
			chainType string
			severity  string
			company   *uuid.UUID
		)
		err := rows.Scan(
			&event.ID,
			&category,
			&event.Timestamp,
			&event.Action,
			&company,
			&chainType,
			&event.Subject,
			&event.ActorID,
			&event.Decision,
			&event.Reason,
			&event.IP,
			&event.UserAgent,
			&event.RequestID,
			&severity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Category = audit.EventCategory(category)
		event.ChainType = id.ChainType(chainType)
		event.Severity = audit.Severity(severity)
		if company != nil {
			event.CompanyID = id.CompanyID(*company)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// OutboxEntry is one pending outbox row.
type OutboxEntry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// FetchPending returns up to limit unprocessed outbox rows, oldest first.
// Rows are locked with SKIP LOCKED so several relays can run side by side;
// call it inside a transaction held until MarkProcessed.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]OutboxEntry, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var out []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

// MarkProcessed stamps relayed outbox rows.
func (s *Store) MarkProcessed(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, v := range ids {
		strs[i] = v.String()
	}
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx,
		`UPDATE outbox SET processed_at = now() WHERE id = ANY($1::uuid[])`, pq.Array(strs))
	if err != nil {
		return fmt.Errorf("mark outbox processed: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
