//go:build integration

package correction_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"veriledger/internal/ledger/correction"
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/seal"
	"veriledger/internal/ledger/store"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/platform/audit/publishers/compliance"
	auditpostgres "veriledger/pkg/platform/audit/store/postgres"
	txcontext "veriledger/pkg/platform/tx"
	"veriledger/pkg/testutil/containers"
)

type PostgresCorrectionSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	ledger   *store.PostgresStore
	requests *correction.PostgresStore
	auditLog *auditpostgres.Store
	service  *correction.Service
	sealer   *seal.Sealer
	scope    models.Scope
}

func TestPostgresCorrectionSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresCorrectionSuite))
}

func (s *PostgresCorrectionSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.ledger = store.NewPostgres(s.postgres.DB)
	s.requests = correction.NewPostgresStore(s.postgres.DB)
	s.auditLog = auditpostgres.New(s.postgres.DB)
	s.sealer = seal.New(s.ledger)
	s.service = correction.New(s.requests, s.ledger, s.sealer,
		correction.WithTxRunner(txcontext.NewPostgresRunner(s.postgres.DB)),
		correction.WithAuditPublisher(compliance.New(s.auditLog)),
	)
}

func (s *PostgresCorrectionSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"outbox", "audit_events", "correction_decisions", "correction_requests", "ledger_suspect_scopes", "ledger_entries")
	s.Require().NoError(err)
	s.scope = models.Scope{CompanyID: id.CompanyID(uuid.New()), ChainType: id.ChainFichajes}
}

func (s *PostgresCorrectionSuite) sealPunch(ctx context.Context, at time.Time) *models.Entry {
	payload, err := models.RecordPayload(&models.Fichaje{EmployeeID: "emp-9", PunchType: models.PunchIn, PunchedAt: at})
	s.Require().NoError(err)
	e, err := s.sealer.Seal(ctx, s.scope, models.KindRecord, payload, models.SealMeta{})
	s.Require().NoError(err)
	return e
}

func (s *PostgresCorrectionSuite) TestApproveCommitsEntryDecisionAndAudit() {
	ctx := context.Background()
	at := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	original := s.sealPunch(ctx, at)

	proposed, err := json.Marshal(models.Fichaje{EmployeeID: "emp-9", PunchType: models.PunchIn, PunchedAt: at.Add(-10 * time.Minute)})
	s.Require().NoError(err)
	req, err := s.service.RequestCorrection(ctx, correction.RequestInput{
		OriginalID:      original.ID,
		Kind:            models.CorrectionAmend,
		Reason:          "wrong punch time",
		RequestedBy:     id.UserID(uuid.New()),
		ProposedPayload: proposed,
	})
	s.Require().NoError(err)

	pending, err := s.service.ListPending(ctx, s.scope)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(req.ID, pending[0].ID)

	entry, err := s.service.Approve(ctx, req.ID, id.UserID(uuid.New()))
	s.Require().NoError(err)
	s.Equal(int64(2), entry.Seq)

	got, err := s.service.Get(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(models.CorrectionApproved, got.State())
	s.Equal(entry.ID, *got.Decision.ResultingEntryID)

	status, err := s.ledger.StatusOf(ctx, s.scope, original.Seq)
	s.Require().NoError(err)
	s.Equal(models.StatusSuperseded, status)

	events, err := s.auditLog.List(ctx, audit.Filter{CompanyID: s.scope.CompanyID})
	s.Require().NoError(err)
	s.Len(events, 2)

	outbox, err := s.auditLog.FetchPending(ctx, 10)
	s.Require().NoError(err)
	s.Len(outbox, 2)
}

func (s *PostgresCorrectionSuite) TestDecisionIsInsertOnce() {
	ctx := context.Background()
	original := s.sealPunch(ctx, time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC))
	req := &models.CorrectionRequest{
		ID:          id.CorrectionID(uuid.New()),
		Scope:       s.scope,
		OriginalID:  original.ID,
		OriginalSeq: original.Seq,
		Kind:        models.CorrectionVoid,
		Reason:      "duplicate punch",
		RequestedBy: id.UserID(uuid.New()),
		CreatedAt:   time.Now().UTC(),
	}
	s.Require().NoError(s.requests.Create(ctx, req))

	decision := models.CorrectionDecision{
		RequestID: req.ID,
		State:     models.CorrectionRejected,
		DecidedBy: id.UserID(uuid.New()),
		Reason:    "no",
		DecidedAt: time.Now().UTC(),
	}
	s.Require().NoError(s.requests.Decide(ctx, decision))
	err := s.requests.Decide(ctx, decision)
	s.Require().Error(err)

	_, err = s.service.Approve(ctx, req.ID, id.UserID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))

	_, err = s.postgres.DB.ExecContext(ctx, `UPDATE correction_requests SET reason = 'edited' WHERE id = $1`, uuid.UUID(req.ID))
	s.Require().Error(err, "correction requests are insert-only")
}
