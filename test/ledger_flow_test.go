package test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "veriledger/internal/jwt_token"
	"veriledger/internal/ledger"
	"veriledger/internal/ledger/correction"
	"veriledger/internal/ledger/intake"
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/store"
	id "veriledger/pkg/domain"
	audit "veriledger/pkg/platform/audit"
	auditmemory "veriledger/pkg/platform/audit/store/memory"
	authmw "veriledger/pkg/platform/middleware/auth"
	"veriledger/pkg/platform/middleware/internaltoken"
	"veriledger/pkg/testutil"
)

const (
	signingKey    = "e2e-signing-key-0123456789abcdef0123"
	internalToken = "e2e-internal-token"
)

// tamperingStore serves entries whose stored payload was altered behind the
// ledger's back, the way a direct database edit would.
type tamperingStore struct {
	*store.InMemory
	mu       sync.Mutex
	tampered map[int64]bool
}

func (s *tamperingStore) tamper(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tampered[seq] = true
}

func (s *tamperingStore) alter(e *models.Entry) *models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e != nil && s.tampered[e.Seq] {
		e.Payload = append([]byte(nil), e.Payload...)
		e.Payload[len(e.Payload)/2] ^= 0x01
	}
	return e
}

func (s *tamperingStore) Range(ctx context.Context, scope models.Scope, from, to int64) ([]*models.Entry, error) {
	entries, err := s.InMemory.Range(ctx, scope, from, to)
	for _, e := range entries {
		s.alter(e)
	}
	return entries, err
}

func (s *tamperingStore) BySeq(ctx context.Context, scope models.Scope, seq int64) (*models.Entry, error) {
	e, err := s.InMemory.BySeq(ctx, scope, seq)
	return s.alter(e), err
}

func (s *tamperingStore) ByCode(ctx context.Context, code string) (*models.Entry, error) {
	e, err := s.InMemory.ByCode(ctx, code)
	return s.alter(e), err
}

func (s *tamperingStore) ByID(ctx context.Context, entryID id.EntryID) (*models.Entry, error) {
	e, err := s.InMemory.ByID(ctx, entryID)
	return s.alter(e), err
}

type ledgerEnv struct {
	router   http.Handler
	store    *tamperingStore
	events   *auditmemory.InMemoryStore
	module   *ledger.Module
	jwt      *jwttoken.JWTService
	company  id.CompanyID
	clerk    uuid.UUID
	approver uuid.UUID
	auditor  uuid.UUID
}

func newLedgerEnv(t *testing.T) *ledgerEnv {
	t.Helper()
	env := &ledgerEnv{
		store:    &tamperingStore{InMemory: store.NewInMemory(), tampered: map[int64]bool{}},
		events:   auditmemory.NewInMemoryStore(),
		jwt:      jwttoken.NewJWTService(signingKey, "veriledger", ""),
		company:  id.CompanyID(uuid.New()),
		clerk:    uuid.New(),
		approver: uuid.New(),
		auditor:  uuid.New(),
	}
	env.module = ledger.New(ledger.Stores{
		Ledger:      env.store,
		Corrections: correction.NewInMemoryStore(),
		Audit:       env.events,
	}, ledger.Options{
		PublicBaseURL: "https://verifica.example.es",
		OpsSampleRate: 1,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() { _ = env.module.Close(context.Background()) })

	router := chi.NewRouter()
	env.module.NewHandler(jwttoken.NewJWTServiceAdapter(env.jwt), internalToken).Register(router)
	env.router = router
	return env
}

func (e *ledgerEnv) token(t *testing.T, user uuid.UUID, role string) string {
	t.Helper()
	tok, err := e.jwt.GenerateAccessToken(user, []string{role}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *ledgerEnv) call(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return testutil.DoRequest(e.router, req)
}

func (e *ledgerEnv) seal(t *testing.T, chain id.ChainType, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, http.MethodPost,
		fmt.Sprintf("/internal/ledger/%s/%s/entries", e.company, chain),
		map[string]any{"issuer_id": "collaborator", "payload": payload})
	req.Header.Set(internaltoken.Header, internalToken)
	return testutil.DoRequest(e.router, req)
}

func (e *ledgerEnv) sealPunch(t *testing.T, employee string, at time.Time) *intake.Receipt {
	t.Helper()
	rr := e.seal(t, id.ChainFichajes, map[string]any{
		"employee_id": employee,
		"punch_type":  "entrada",
		"punched_at":  at.Format(time.RFC3339),
	})
	testutil.AssertStatus(t, rr, http.StatusCreated)
	return testutil.UnmarshalResponse[intake.Receipt](t, rr)
}

func (e *ledgerEnv) verifyChain(t *testing.T, chain id.ChainType) *models.VerificationResult {
	t.Helper()
	rr := e.call(t, http.MethodGet, fmt.Sprintf("/v1/ledger/%s/%s/verify", e.company, chain),
		e.token(t, e.auditor, authmw.RoleAuditor), nil)
	testutil.AssertStatusOK(t, rr)
	return testutil.UnmarshalResponse[models.VerificationResult](t, rr)
}

func (e *ledgerEnv) scope(chain id.ChainType) models.Scope {
	return models.Scope{CompanyID: e.company, ChainType: chain}
}

var monday = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func TestSealAndVerify(t *testing.T) {
	testutil.Given(t, "a company sealing three punches", func(t *testing.T) {
		env := newLedgerEnv(t)
		receipts := []*intake.Receipt{
			env.sealPunch(t, "E-1", monday),
			env.sealPunch(t, "E-2", monday.Add(time.Minute)),
			env.sealPunch(t, "E-3", monday.Add(2*time.Minute)),
		}

		testutil.Then(t, "sequence numbers are 1, 2 and 3", func(t *testing.T) {
			for i, r := range receipts {
				assert.Equal(t, int64(i+1), r.Seq)
			}
		})

		testutil.When(t, "the chain is verified", func(t *testing.T) {
			res := env.verifyChain(t, id.ChainFichajes)

			testutil.Then(t, "it is intact", func(t *testing.T) {
				assert.True(t, res.OK)
				assert.Equal(t, int64(3), res.Checked)
				assert.Equal(t, receipts[2].Hash, res.TipHash)
			})
		})

		testutil.When(t, "a third party looks up the printed code", func(t *testing.T) {
			rr := env.call(t, http.MethodGet, "/v1/verify/"+receipts[1].DisplayCode, "", nil)
			body := rr.Body.String()
			res := testutil.UnmarshalResponse[models.Resolution](t, rr)

			testutil.Then(t, "only the summary is shown", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				assert.True(t, res.Valid)
				assert.Equal(t, "fichaje", res.EntityType)
				assert.Equal(t, "entrada", res.Summary["punch_type"])
				assert.NotContains(t, body, "E-2")
			})
		})

		testutil.When(t, "a collaborator reads a receipt", func(t *testing.T) {
			rr := env.seal(t, id.ChainFichajes, map[string]any{
				"employee_id": "E-4", "punch_type": "salida", "punched_at": monday.Format(time.RFC3339),
			})

			testutil.Then(t, "it carries the QR payload", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusCreated)
				testutil.AssertJSONHasKey(t, rr, "qr")
			})
		})

		testutil.When(t, "the QR URL is scanned", func(t *testing.T) {
			rr := env.call(t, http.MethodGet, receipts[0].QR[len("https://verifica.example.es"):], "", nil)

			testutil.Then(t, "it resolves to the same entry", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				testutil.AssertJSONContains(t, rr, "valid", true)
			})
		})
	})
}

func TestTamperedChainIsFlagged(t *testing.T) {
	testutil.Given(t, "a chain whose second payload was edited in the database", func(t *testing.T) {
		env := newLedgerEnv(t)
		for i := range 3 {
			env.sealPunch(t, fmt.Sprintf("E-%d", i), monday.Add(time.Duration(i)*time.Minute))
		}
		env.store.tamper(2)

		testutil.When(t, "the chain is verified", func(t *testing.T) {
			res := env.verifyChain(t, id.ChainFichajes)

			testutil.Then(t, "the break is reported at entry 2", func(t *testing.T) {
				assert.False(t, res.OK)
				assert.Equal(t, int64(2), res.FirstBreakAt)
				assert.Equal(t, models.BreakHashMismatch, res.Reason)
			})
		})

		testutil.Then(t, "the break is recorded in the compliance log", func(t *testing.T) {
			events, err := env.events.List(context.Background(), audit.Filter{
				CompanyID: env.company,
				Actions:   []string{string(audit.EventChainBreakDetected)},
			})
			require.NoError(t, err)
			require.NotEmpty(t, events)
			assert.Equal(t, "seq 2", events[0].Subject)
		})

		testutil.When(t, "a collaborator tries to seal another punch", func(t *testing.T) {
			rr := env.seal(t, id.ChainFichajes, map[string]any{
				"employee_id": "E-9", "punch_type": "salida", "punched_at": monday.Format(time.RFC3339),
			})

			testutil.Then(t, "the suspect chain refuses it", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusLocked, "chain_suspect")
			})
		})

		testutil.When(t, "the tampered entry is looked up publicly", func(t *testing.T) {
			entry, err := env.store.InMemory.BySeq(context.Background(), env.scope(id.ChainFichajes), 2)
			require.NoError(t, err)
			rr := env.call(t, http.MethodGet, "/v1/verify/"+entry.Code, "", nil)

			testutil.Then(t, "it does not verify", func(t *testing.T) {
				testutil.AssertStatusOK(t, rr)
				assert.JSONEq(t, `{"valid":false}`, rr.Body.String())
			})
		})
	})
}

func TestCorrectionAppendsSupersedingEntry(t *testing.T) {
	testutil.Given(t, "three sealed punches", func(t *testing.T) {
		env := newLedgerEnv(t)
		first := env.sealPunch(t, "E-1", monday)
		env.sealPunch(t, "E-2", monday.Add(time.Minute))
		env.sealPunch(t, "E-3", monday.Add(2*time.Minute))

		var requestID string
		testutil.When(t, "a clerk requests a correction of entry 1", func(t *testing.T) {
			rr := env.call(t, http.MethodPost, "/v1/corrections", env.token(t, env.clerk, authmw.RoleClerk), map[string]any{
				"original_id": first.ID,
				"kind":        "amend",
				"reason":      "wrong punch time",
				"proposed_payload": map[string]any{
					"employee_id": "E-1",
					"punch_type":  "entrada",
					"punched_at":  monday.Add(-15 * time.Minute).Format(time.RFC3339),
				},
			})
			testutil.AssertStatus(t, rr, http.StatusCreated)
			req := testutil.UnmarshalResponse[models.CorrectionRequest](t, rr)
			requestID = req.ID.String()

			testutil.Then(t, "nothing is sealed yet", func(t *testing.T) {
				tip, err := env.store.Tip(context.Background(), env.scope(id.ChainFichajes))
				require.NoError(t, err)
				assert.Equal(t, int64(3), tip.Seq)
			})
		})

		testutil.When(t, "the clerk tries to approve their own request", func(t *testing.T) {
			rr := env.call(t, http.MethodPut, "/v1/corrections/"+requestID+"/approve",
				env.token(t, env.clerk, authmw.RoleApprover), nil)

			testutil.Then(t, "the four-eyes rule rejects it", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusForbidden)
			})
		})

		testutil.When(t, "an approver approves it", func(t *testing.T) {
			rr := env.call(t, http.MethodPut, "/v1/corrections/"+requestID+"/approve",
				env.token(t, env.approver, authmw.RoleApprover), nil)
			testutil.AssertStatusOK(t, rr)
			sealed := testutil.UnmarshalResponse[map[string]any](t, rr)

			testutil.Then(t, "entry 4 supersedes entry 1", func(t *testing.T) {
				assert.EqualValues(t, 4, (*sealed)["seq"])
				assert.EqualValues(t, 1, (*sealed)["supersedes"])
				assert.Equal(t, "correction", (*sealed)["kind"])
			})

			testutil.Then(t, "entry 1 is unchanged", func(t *testing.T) {
				original, err := env.store.BySeq(context.Background(), env.scope(id.ChainFichajes), 1)
				require.NoError(t, err)
				assert.Equal(t, first.Hash, original.Hash)
			})

			testutil.Then(t, "the chain still verifies", func(t *testing.T) {
				res := env.verifyChain(t, id.ChainFichajes)
				assert.True(t, res.OK)
				assert.Equal(t, int64(4), res.Checked)
			})

			testutil.Then(t, "the original code now reports it superseded", func(t *testing.T) {
				rr := env.call(t, http.MethodGet, "/v1/verify/"+first.Code, "", nil)
				res := testutil.UnmarshalResponse[models.Resolution](t, rr)
				assert.True(t, res.Valid)
				assert.Equal(t, models.StatusSuperseded, res.Status)
			})
		})

		testutil.When(t, "the request is approved a second time", func(t *testing.T) {
			rr := env.call(t, http.MethodPut, "/v1/corrections/"+requestID+"/approve",
				env.token(t, env.auditor, authmw.RoleApprover), nil)

			testutil.Then(t, "it is refused", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusConflict)
			})
		})
	})
}

func TestConcurrentSealsGetDistinctSequences(t *testing.T) {
	testutil.Given(t, "collaborators sealing into one scope at the same time", func(t *testing.T) {
		env := newLedgerEnv(t)
		const writers = 8

		seqs := make([]int64, writers)
		var wg sync.WaitGroup
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rr := env.seal(t, id.ChainFichajes, map[string]any{
					"employee_id": fmt.Sprintf("E-%d", i),
					"punch_type":  "entrada",
					"punched_at":  monday.Format(time.RFC3339),
				})
				if rr.Code == http.StatusCreated {
					seqs[i] = testutil.UnmarshalResponse[intake.Receipt](t, rr).Seq
				}
			}()
		}
		wg.Wait()

		testutil.Then(t, "every seal succeeds with the next free number", func(t *testing.T) {
			sort.Slice(seqs, func(a, b int) bool { return seqs[a] < seqs[b] })
			for i, seq := range seqs {
				assert.Equal(t, int64(i+1), seq)
			}
			assert.True(t, env.verifyChain(t, id.ChainFichajes).OK)
		})
	})
}

type exportedRegistro struct {
	NumeroSecuencia int64  `xml:"NumeroSecuencia"`
	HuellaAnterior  string `xml:"HuellaAnterior"`
	Huella          string `xml:"Huella"`
	Contenido       string `xml:"Contenido"`
}

type exportedDocument struct {
	XMLName   xml.Name           `xml:"RegistroAuditoria"`
	Registros []exportedRegistro `xml:"Registros>Registro"`
}

func TestXMLExportRecomputesOutsideTheSystem(t *testing.T) {
	testutil.Given(t, "an invoice chain", func(t *testing.T) {
		env := newLedgerEnv(t)
		for i := 1; i <= 3; i++ {
			rr := env.seal(t, id.ChainFacturas, map[string]any{
				"series":       "A",
				"number":       fmt.Sprint(i),
				"issue_date":   "2025-03-01",
				"issuer_nif":   "B12345678",
				"invoice_type": "F1",
				"base_amount":  "100.00",
				"tax_amount":   "21.00",
				"total":        "121.00",
			})
			testutil.AssertStatus(t, rr, http.StatusCreated)
		}

		testutil.When(t, "an auditor exports it as XML", func(t *testing.T) {
			rr := env.call(t, http.MethodGet,
				fmt.Sprintf("/v1/audit/export?company_id=%s&chain_type=facturas&format=xml", env.company),
				env.token(t, env.auditor, authmw.RoleAuditor), nil)
			testutil.AssertStatusOK(t, rr)

			var doc exportedDocument
			require.NoError(t, xml.Unmarshal(rr.Body.Bytes(), &doc))
			require.Len(t, doc.Registros, 3)

			testutil.Then(t, "every hash recomputes from the exported bytes", func(t *testing.T) {
				prev := models.GenesisHash
				for _, r := range doc.Registros {
					payload, err := base64.StdEncoding.DecodeString(r.Contenido)
					require.NoError(t, err)
					prevRaw, err := hex.DecodeString(prev)
					require.NoError(t, err)
					var seq [8]byte
					binary.BigEndian.PutUint64(seq[:], uint64(r.NumeroSecuencia))

					h := sha256.New()
					h.Write(payload)
					h.Write(prevRaw)
					h.Write(seq[:])
					assert.Equal(t, prev, r.HuellaAnterior)
					assert.Equal(t, hex.EncodeToString(h.Sum(nil)), r.Huella)
					prev = r.Huella
				}
			})

			testutil.Then(t, "the export itself was audited", func(t *testing.T) {
				events, err := env.events.List(context.Background(), audit.Filter{
					Actions: []string{string(audit.EventAuditExported)},
				})
				require.NoError(t, err)
				require.Len(t, events, 1)
				assert.Equal(t, env.auditor.String(), events[0].ActorID)
			})
		})
	})
}

func TestVoidWithoutRectificationIsRefused(t *testing.T) {
	testutil.Given(t, "a sealed invoice", func(t *testing.T) {
		env := newLedgerEnv(t)
		rr := env.seal(t, id.ChainFacturas, map[string]any{
			"series": "A", "number": "1", "issue_date": "2025-03-01", "issuer_nif": "B12345678",
			"invoice_type": "F1", "base_amount": "100.00", "tax_amount": "21.00", "total": "121.00",
		})
		testutil.AssertStatus(t, rr, http.StatusCreated)
		invoice := testutil.UnmarshalResponse[intake.Receipt](t, rr)

		testutil.When(t, "a clerk requests a void without a rectifying invoice", func(t *testing.T) {
			rr := env.call(t, http.MethodPost, "/v1/corrections", env.token(t, env.clerk, authmw.RoleClerk), map[string]any{
				"original_id": invoice.ID,
				"kind":        "void",
				"reason":      "issued twice",
			})

			testutil.Then(t, "the void is incomplete", func(t *testing.T) {
				testutil.AssertStatusAndError(t, rr, http.StatusUnprocessableEntity, "incomplete_void")
			})

			testutil.Then(t, "the chain is unchanged", func(t *testing.T) {
				tip, err := env.store.Tip(context.Background(), env.scope(id.ChainFacturas))
				require.NoError(t, err)
				assert.Equal(t, int64(1), tip.Seq)
				assert.Equal(t, invoice.Hash, tip.Hash)
			})
		})
	})
}
