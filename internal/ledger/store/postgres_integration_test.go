//go:build integration

package store_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/store"
	"veriledger/internal/platform/postgres"
	id "veriledger/pkg/domain"
	"veriledger/pkg/platform/sentinel"
	"veriledger/pkg/testutil/containers"
)

type PostgresLedgerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	scope    models.Scope
}

func TestPostgresLedgerSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresLedgerSuite))
}

func (s *PostgresLedgerSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresLedgerSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx, "correction_decisions", "correction_requests", "ledger_suspect_scopes", "ledger_entries")
	s.Require().NoError(err)
	s.scope = models.Scope{CompanyID: id.CompanyID(uuid.New()), ChainType: id.ChainFichajes}
}

func linked(scope models.Scope, prev *models.Entry) *models.Entry {
	seq := int64(1)
	prevHash := models.GenesisHash
	if prev != nil {
		seq = prev.Seq + 1
		prevHash = prev.Hash
	}
	entryID := uuid.New()
	return &models.Entry{
		ID:        id.EntryID(entryID),
		Scope:     scope,
		Seq:       seq,
		Kind:      models.KindRecord,
		Payload:   []byte(fmt.Sprintf(`{"n":%d}`, seq)),
		PrevHash:  prevHash,
		Hash:      strings.Repeat("0", 32) + hex.EncodeToString(entryID[:]),
		Code:      strings.ToUpper(hex.EncodeToString(entryID[:8])),
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// declaring returns the payload of a correction or void that names target.
func declaring(kind models.EntryKind, target *models.Entry) []byte {
	field := "supersedes"
	if kind == models.KindVoid {
		field = "voids"
	}
	return []byte(fmt.Sprintf(`{"type":%q,"v":1,%q:{"seq":%d,"id":%q,"hash":%q}}`,
		kind, field, target.Seq, target.ID.String(), target.Hash))
}

func (s *PostgresLedgerSuite) TestRoundTrip() {
	ctx := context.Background()
	first := linked(s.scope, nil)
	s.Require().NoError(s.store.Append(ctx, first))

	got, err := s.store.ByCode(ctx, first.Code)
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)
	s.Equal(first.Payload, got.Payload)
	s.Equal(first.PrevHash, got.PrevHash)
	s.True(first.CreatedAt.Equal(got.CreatedAt))

	tip, err := s.store.Tip(ctx, s.scope)
	s.Require().NoError(err)
	s.Equal(int64(1), tip.Seq)

	_, err = s.store.ByID(ctx, id.EntryID(uuid.New()))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresLedgerSuite) TestAppendEnforcesLinkage() {
	ctx := context.Background()
	first := linked(s.scope, nil)
	s.Require().NoError(s.store.Append(ctx, first))

	s.Run("second genesis is rejected", func() {
		s.ErrorIs(s.store.Append(ctx, linked(s.scope, nil)), store.ErrConcurrentAppend)
	})

	s.Run("gap is rejected", func() {
		e := linked(s.scope, first)
		e.Seq = 3
		s.ErrorIs(s.store.Append(ctx, e), store.ErrConcurrentAppend)
	})

	s.Run("wrong prev hash is rejected", func() {
		e := linked(s.scope, first)
		e.PrevHash = strings.Repeat("f", 64)
		s.ErrorIs(s.store.Append(ctx, e), store.ErrConcurrentAppend)
	})
}

// TestConcurrentAppendSameSeq verifies the unique (scope, seq) constraint lets
// exactly one writer win.
func (s *PostgresLedgerSuite) TestConcurrentAppendSameSeq() {
	ctx := context.Background()
	first := linked(s.scope, nil)
	s.Require().NoError(s.store.Append(ctx, first))

	const goroutines = 20
	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Append(ctx, linked(s.scope, first))
			if err == nil {
				wins.Add(1)
			} else if s.ErrorIs(err, store.ErrConcurrentAppend) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *PostgresLedgerSuite) TestEntriesAreImmutable() {
	ctx := context.Background()
	first := linked(s.scope, nil)
	s.Require().NoError(s.store.Append(ctx, first))

	_, err := s.postgres.DB.ExecContext(ctx, `UPDATE ledger_entries SET payload = 'x' WHERE id = $1`, uuid.UUID(first.ID))
	s.Require().Error(err)
	s.True(postgres.IsImmutableViolation(err))

	_, err = s.postgres.DB.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = $1`, uuid.UUID(first.ID))
	s.Require().Error(err)
	s.True(postgres.IsImmutableViolation(err))
}

func (s *PostgresLedgerSuite) TestStatusAndMarkers() {
	ctx := context.Background()
	first := linked(s.scope, nil)
	s.Require().NoError(s.store.Append(ctx, first))
	correction := linked(s.scope, first)
	correction.Kind = models.KindCorrection
	correction.Supersedes = 1
	correction.Payload = declaring(models.KindCorrection, first)
	s.Require().NoError(s.store.Append(ctx, correction))

	status, err := s.store.StatusOf(ctx, s.scope, 1)
	s.Require().NoError(err)
	s.Equal(models.StatusSuperseded, status)

	markers, err := s.store.Markers(ctx, s.scope, 0)
	s.Require().NoError(err)
	s.Require().Len(markers, 1)
	s.Equal(int64(1), markers[0].Supersedes)

	scopes, err := s.store.Scopes(ctx)
	s.Require().NoError(err)
	s.Contains(scopes, s.scope)
}

func (s *PostgresLedgerSuite) TestSuspectFlag() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.FlagSuspect(ctx, models.SuspectFlag{Scope: s.scope, Seq: 4, Reason: "hash_mismatch", FlaggedAt: now}))
	s.Require().NoError(s.store.FlagSuspect(ctx, models.SuspectFlag{Scope: s.scope, Seq: 7, Reason: "seq_gap", FlaggedAt: now}))

	flag, err := s.store.SuspectFlag(ctx, s.scope)
	s.Require().NoError(err)
	s.Require().NotNil(flag)
	s.Equal(int64(4), flag.Seq)
	s.Equal("hash_mismatch", flag.Reason)
}
