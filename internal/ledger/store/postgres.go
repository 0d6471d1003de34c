package store

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

const entryColumns = `id, company_id, chain_type, seq, kind, payload, prev_hash, hash, code,
	supersedes, voids, issuer_id, created_at`

// PostgresStore persists chains in ledger_entries. Writes go through the
// context transaction when one is present.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts the entry only if its predecessor is the current tip: seq 1
// requires an empty chain, any other seq requires seq-1 with a matching hash.
// A lost race surfaces as either zero rows inserted or a unique violation on
// (company_id, chain_type, seq); both map to ErrConcurrentAppend.
//
// Inside a context transaction the insert runs under a savepoint so a lost
// race leaves the transaction usable for another attempt.
func (s *PostgresStore) Append(ctx context.Context, e *models.Entry) error {
	if err := validateAppend(e); err != nil {
		return err
	}
	tx, inTx := txcontext.From(ctx)
	if !inTx {
		return insertEntry(ctx, s.db, e)
	}
	if _, err := tx.ExecContext(ctx, `SAVEPOINT ledger_append`); err != nil {
		return fmt.Errorf("append entry: savepoint: %w", err)
	}
	if err := insertEntry(ctx, tx, e); err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT ledger_append`); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT ledger_append`); err != nil {
		return fmt.Errorf("append entry: release savepoint: %w", err)
	}
	return nil
}

func insertEntry(ctx context.Context, exec txcontext.Executor, e *models.Entry) error {
	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		SELECT $1::uuid, $2::uuid, $3::text, $4::bigint, $5::text, $6::bytea, $7::text, $8::text, $9::text,
			$10::bigint, $11::bigint, $12::text, $13::timestamptz
		WHERE CASE
			WHEN $4 = 1 THEN
				$7 = '` + models.GenesisHash + `' AND NOT EXISTS (
					SELECT 1 FROM ledger_entries WHERE company_id = $2 AND chain_type = $3)
			ELSE EXISTS (
				SELECT 1 FROM ledger_entries
				WHERE company_id = $2 AND chain_type = $3 AND seq = $4 - 1 AND hash = $7)
		END
	`
	res, err := exec.ExecContext(ctx, query,
		uuid.UUID(e.ID),
		uuid.UUID(e.Scope.CompanyID),
		string(e.Scope.ChainType),
		e.Seq,
		string(e.Kind),
		e.Payload,
		e.PrevHash,
		e.Hash,
		e.Code,
		nullSeq(e.Supersedes),
		nullSeq(e.Voids),
		e.IssuerID,
		e.CreatedAt.UTC(),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			if postgres.ConstraintName(err) == "ledger_entries_scope_seq_key" {
				return ErrConcurrentAppend
			}
			return fmt.Errorf("append entry: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("append entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	if n == 0 {
		return ErrConcurrentAppend
	}
	return nil
}

func (s *PostgresStore) Tip(ctx context.Context, scope models.Scope) (*models.Entry, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE company_id = $1 AND chain_type = $2
		ORDER BY seq DESC LIMIT 1`,
		uuid.UUID(scope.CompanyID), string(scope.ChainType))
	e, err := scanEntry(row)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	return e, err
}

func (s *PostgresStore) Range(ctx context.Context, scope models.Scope, from, to int64) ([]*models.Entry, error) {
	if from < 1 {
		from = 1
	}
	query := `
		SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE company_id = $1 AND chain_type = $2 AND seq >= $3 AND ($4::bigint <= 0 OR seq <= $4)
		ORDER BY seq`
	return s.queryEntries(ctx, query, uuid.UUID(scope.CompanyID), string(scope.ChainType), from, to)
}

func (s *PostgresStore) ByCode(ctx context.Context, code string) (*models.Entry, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE code = $1`, code)
	return scanEntry(row)
}

func (s *PostgresStore) ByID(ctx context.Context, entryID id.EntryID) (*models.Entry, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE id = $1`, uuid.UUID(entryID))
	return scanEntry(row)
}

func (s *PostgresStore) BySeq(ctx context.Context, scope models.Scope, seq int64) (*models.Entry, error) {
	row := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE company_id = $1 AND chain_type = $2 AND seq = $3`,
		uuid.UUID(scope.CompanyID), string(scope.ChainType), seq)
	return scanEntry(row)
}

func (s *PostgresStore) Markers(ctx context.Context, scope models.Scope, after int64) ([]*models.Entry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE company_id = $1 AND chain_type = $2 AND seq > $3 AND kind <> 'record'
		ORDER BY seq`
	return s.queryEntries(ctx, query, uuid.UUID(scope.CompanyID), string(scope.ChainType), after)
}

func (s *PostgresStore) StatusOf(ctx context.Context, scope models.Scope, seq int64) (models.Status, error) {
	target, err := s.BySeq(ctx, scope, seq)
	if err != nil {
		return "", err
	}
	markers, err := s.queryEntries(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE company_id = $1 AND chain_type = $2 AND seq > $3
			AND ((kind = 'void' AND voids = $3) OR (kind = 'correction' AND supersedes = $3))
		ORDER BY seq`,
		uuid.UUID(scope.CompanyID), string(scope.ChainType), seq)
	if err != nil {
		return "", fmt.Errorf("derive status: %w", err)
	}
	return sealedStatus(target, markers), nil
}

func (s *PostgresStore) Scopes(ctx context.Context) ([]models.Scope, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		SELECT DISTINCT company_id, chain_type FROM ledger_entries
		ORDER BY company_id, chain_type`)
	if err != nil {
		return nil, fmt.Errorf("list scopes: %w", err)
	}
	defer rows.Close()

	var out []models.Scope
	for rows.Next() {
		var (
			companyID uuid.UUID
			chainType string
		)
		if err := rows.Scan(&companyID, &chainType); err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		out = append(out, models.Scope{CompanyID: id.CompanyID(companyID), ChainType: id.ChainType(chainType)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scopes: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FlagSuspect(ctx context.Context, flag models.SuspectFlag) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		INSERT INTO ledger_suspect_scopes (company_id, chain_type, seq, reason, flagged_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, chain_type) DO NOTHING`,
		uuid.UUID(flag.Scope.CompanyID), string(flag.Scope.ChainType), flag.Seq, flag.Reason, flag.FlaggedAt.UTC())
	if err != nil {
		return fmt.Errorf("flag suspect scope: %w", err)
	}
	return nil
}

func (s *PostgresStore) SuspectFlag(ctx context.Context, scope models.Scope) (*models.SuspectFlag, error) {
	flag := models.SuspectFlag{Scope: scope}
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT seq, reason, flagged_at FROM ledger_suspect_scopes
		WHERE company_id = $1 AND chain_type = $2`,
		uuid.UUID(scope.CompanyID), string(scope.ChainType),
	).Scan(&flag.Seq, &flag.Reason, &flag.FlaggedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read suspect flag: %w", err)
	}
	return &flag, nil
}

func (s *PostgresStore) queryEntries(ctx context.Context, query string, args ...any) ([]*models.Entry, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []*models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*models.Entry, error) {
	var (
		e          models.Entry
		entryID    uuid.UUID
		companyID  uuid.UUID
		chainType  string
		kind       string
		supersedes sql.NullInt64
		voids      sql.NullInt64
	)
	err := row.Scan(
		&entryID,
		&companyID,
		&chainType,
		&e.Seq,
		&kind,
		&e.Payload,
		&e.PrevHash,
		&e.Hash,
		&e.Code,
		&supersedes,
		&voids,
		&e.IssuerID,
		&e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	e.ID = id.EntryID(entryID)
	e.Scope = models.Scope{CompanyID: id.CompanyID(companyID), ChainType: id.ChainType(chainType)}
	e.Kind = models.EntryKind(kind)
	e.Supersedes = supersedes.Int64
	e.Voids = voids.Int64
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func nullSeq(seq int64) sql.NullInt64 {
	return sql.NullInt64{Int64: seq, Valid: seq > 0}
}
