package correction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"veriledger/internal/ledger/models"
	"veriledger/internal/platform/postgres"
	id "veriledger/pkg/domain"
	"veriledger/pkg/platform/sentinel"
	txcontext "veriledger/pkg/platform/tx"
)

// PostgresStore keeps requests in correction_requests and decisions in
// correction_decisions. Both tables reject UPDATE and DELETE.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const requestColumns = `
	r.id, r.company_id, r.chain_type, r.original_id, r.original_seq, r.kind, r.reason,
	r.requested_by, r.proposed_payload, r.rectifying_entry_id, r.created_at,
	d.state, d.decided_by, d.reason, d.resulting_entry_id, d.decided_at`

const requestFrom = `
	FROM correction_requests r
	LEFT JOIN correction_decisions d ON d.request_id = r.id`

func (s *PostgresStore) Create(ctx context.Context, req *models.CorrectionRequest) error {
	var rectifying any
	if req.RectifyingEntryID != nil {
		rectifying = uuid.UUID(*req.RectifyingEntryID)
	}
	var proposed any
	if len(req.ProposedPayload) > 0 {
		proposed = string(req.ProposedPayload)
	}
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO correction_requests (
			id, company_id, chain_type, original_id, original_seq, kind, reason,
			requested_by, proposed_payload, rectifying_entry_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(req.ID),
		uuid.UUID(req.Scope.CompanyID),
		string(req.Scope.ChainType),
		uuid.UUID(req.OriginalID),
		req.OriginalSeq,
		string(req.Kind),
		req.Reason,
		uuid.UUID(req.RequestedBy),
		proposed,
		rectifying,
		req.CreatedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("create correction request: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create correction request: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, requestID id.CorrectionID) (*models.CorrectionRequest, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+requestColumns+requestFrom+` WHERE r.id = $1`, uuid.UUID(requestID))
	return scanRequest(row)
}

func (s *PostgresStore) ListPending(ctx context.Context, scope models.Scope) ([]*models.CorrectionRequest, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx,
		`SELECT `+requestColumns+requestFrom+`
		WHERE r.company_id = $1 AND r.chain_type = $2 AND d.request_id IS NULL
		ORDER BY r.created_at`,
		uuid.UUID(scope.CompanyID), string(scope.ChainType))
	if err != nil {
		return nil, fmt.Errorf("list pending corrections: %w", err)
	}
	defer rows.Close()

	var out []*models.CorrectionRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corrections: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Decide(ctx context.Context, decision models.CorrectionDecision) error {
	var resulting any
	if decision.ResultingEntryID != nil {
		resulting = uuid.UUID(*decision.ResultingEntryID)
	}
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO correction_decisions (request_id, state, decided_by, reason, resulting_entry_id, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.UUID(decision.RequestID),
		string(decision.State),
		uuid.UUID(decision.DecidedBy),
		decision.Reason,
		resulting,
		decision.DecidedAt,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("record decision: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*models.CorrectionRequest, error) {
	var (
		req         models.CorrectionRequest
		reqID       uuid.UUID
		companyID   uuid.UUID
		chainType   string
		originalID  uuid.UUID
		kind        string
		requestedBy uuid.UUID
		proposed    []byte
		rectifying  uuid.NullUUID
		state       sql.NullString
		decidedBy   uuid.NullUUID
		decReason   sql.NullString
		resulting   uuid.NullUUID
		decidedAt   sql.NullTime
	)
	err := row.Scan(
		&reqID, &companyID, &chainType, &originalID, &req.OriginalSeq, &kind, &req.Reason,
		&requestedBy, &proposed, &rectifying, &req.CreatedAt,
		&state, &decidedBy, &decReason, &resulting, &decidedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan correction request: %w", err)
	}

	req.ID = id.CorrectionID(reqID)
	req.Scope = models.Scope{CompanyID: id.CompanyID(companyID), ChainType: id.ChainType(chainType)}
	req.OriginalID = id.EntryID(originalID)
	req.Kind = models.CorrectionKind(kind)
	req.RequestedBy = id.UserID(requestedBy)
	req.CreatedAt = req.CreatedAt.UTC()
	if len(proposed) > 0 {
		req.ProposedPayload = proposed
	}
	if rectifying.Valid {
		entryID := id.EntryID(rectifying.UUID)
		req.RectifyingEntryID = &entryID
	}
	if state.Valid {
		d := &models.CorrectionDecision{
			RequestID: req.ID,
			State:     models.CorrectionState(state.String),
			DecidedBy: id.UserID(decidedBy.UUID),
			Reason:    decReason.String,
			DecidedAt: decidedAt.Time.UTC(),
		}
		if resulting.Valid {
			entryID := id.EntryID(resulting.UUID)
			d.ResultingEntryID = &entryID
		}
		req.Decision = d
	}
	return &req, nil
}
