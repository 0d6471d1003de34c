package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/seal"
	"veriledger/internal/ledger/store"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/platform/audit/publishers/compliance"
	auditmemory "veriledger/pkg/platform/audit/store/memory"
	"veriledger/pkg/requestcontext"
)

type ExporterSuite struct {
	suite.Suite
	ctx      context.Context
	ledger   *store.InMemory
	sealer   *seal.Sealer
	auditLog *auditmemory.InMemoryStore
	exporter *Exporter
	scope    models.Scope
	entries  []*models.Entry
	now      time.Time
}

func TestExporterSuite(t *testing.T) {
	suite.Run(t, new(ExporterSuite))
}

func (s *ExporterSuite) SetupTest() {
	s.now = time.Date(2025, 3, 31, 18, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ledger = store.NewInMemory()
	s.sealer = seal.New(s.ledger)
	s.auditLog = auditmemory.NewInMemoryStore()
	s.exporter = New(s.ledger, s.auditLog,
		WithAuditPublisher(compliance.New(s.auditLog)),
		WithBatchSize(2),
	)
	s.scope = models.Scope{CompanyID: id.CompanyID(uuid.New()), ChainType: id.ChainFichajes}
	s.entries = s.sealChain()
}

// sealChain seals four punches and a correction of the second one, so the
// export spans several batches and includes a superseded entry.
func (s *ExporterSuite) sealChain() []*models.Entry {
	at := time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)
	var out []*models.Entry
	for i, pt := range []models.PunchType{models.PunchIn, models.PunchBreakStart, models.PunchBreakEnd, models.PunchOut} {
		payload, err := models.RecordPayload(&models.Fichaje{
			EmployeeID: "emp-7",
			PunchType:  pt,
			PunchedAt:  at.Add(time.Duration(i) * time.Hour),
			Source:     "terminal <A&B>",
		})
		s.Require().NoError(err)
		e, err := s.sealer.Seal(s.ctx, s.scope, models.KindRecord, payload, models.SealMeta{IssuerID: "clock-svc"})
		s.Require().NoError(err)
		out = append(out, e)
	}
	payload, err := models.CorrectionPayload(out[1], &models.Fichaje{
		EmployeeID: "emp-7",
		PunchType:  models.PunchBreakStart,
		PunchedAt:  at.Add(90 * time.Minute),
	}, models.CorrectionMeta{
		RequestID:   id.CorrectionID(uuid.New()),
		Reason:      "late break",
		RequestedBy: id.UserID(uuid.New()),
		Approver:    id.UserID(uuid.New()),
	})
	s.Require().NoError(err)
	e, err := s.sealer.Seal(s.ctx, s.scope, models.KindCorrection, payload, models.SealMeta{Supersedes: 2})
	s.Require().NoError(err)
	return append(out, e)
}

func (s *ExporterSuite) export(req Request) []byte {
	if req.ActorID == "" {
		req.ActorID = "auditor-1"
	}
	if req.Scope == (models.Scope{}) {
		req.Scope = s.scope
	}
	var buf bytes.Buffer
	s.Require().NoError(s.exporter.Export(s.ctx, &buf, req))
	return buf.Bytes()
}

// TestXMLRecomputesOutsideTheSystem parses the XML with nothing but the
// standard library and recomputes every hash from the exported bytes.
func (s *ExporterSuite) TestXMLRecomputesOutsideTheSystem() {
	out := s.export(Request{Format: FormatXML})

	var doc struct {
		Cabecera struct {
			Algoritmo     string
			HuellaGenesis string
		}
		Registros []struct {
			NumeroSecuencia uint64
			HuellaAnterior  string
			Huella          string
			Estado          string
			Contenido       string
		} `xml:"Registros>Registro"`
	}
	s.Require().NoError(xml.Unmarshal(out, &doc))
	s.Equal("SHA-256", doc.Cabecera.Algoritmo)
	s.Require().Len(doc.Registros, len(s.entries))

	prev := doc.Cabecera.HuellaGenesis
	for i, r := range doc.Registros {
		payload, err := base64.StdEncoding.DecodeString(r.Contenido)
		s.Require().NoError(err)
		prevRaw, err := hex.DecodeString(r.HuellaAnterior)
		s.Require().NoError(err)
		var seq [8]byte
		binary.BigEndian.PutUint64(seq[:], r.NumeroSecuencia)
		sum := sha256.Sum256(append(append(payload, prevRaw...), seq[:]...))

		s.Equal(hex.EncodeToString(sum[:]), r.Huella, "registro %d", i+1)
		s.Equal(prev, r.HuellaAnterior, "registro %d", i+1)
		s.Equal(s.entries[i].Payload, payload)
		prev = r.Huella
	}
	s.Equal("superseded", doc.Registros[1].Estado)
	s.Equal("active", doc.Registros[0].Estado)
}

func (s *ExporterSuite) TestRoundTripThroughReader() {
	for _, format := range []Format{FormatJSON, FormatXML} {
		s.Run(string(format), func() {
			doc, err := ReadLedger(bytes.NewReader(s.export(Request{Format: format})))
			s.Require().NoError(err)
			s.Equal(s.scope, doc.Scope)
			s.Require().Len(doc.Entries, len(s.entries))
			for i, e := range doc.Entries {
				want := s.entries[i]
				s.Equal(want.Seq, e.Seq)
				s.Equal(want.Payload, e.Payload)
				s.Equal(want.Hash, e.Hash)
				s.Equal(want.Code, e.Code)
				s.Equal(want.Supersedes, e.Supersedes)
				s.True(want.CreatedAt.Equal(e.CreatedAt))
			}
		})
	}
}

func (s *ExporterSuite) TestJSONCarriesExactPayload() {
	var doc struct {
		Header  Header  `json:"header"`
		Entries []Entry `json:"entries"`
	}
	s.Require().NoError(json.Unmarshal(s.export(Request{}), &doc))
	s.Equal(seal.Formula, doc.Header.Formula)
	s.Require().Len(doc.Entries, len(s.entries))
	s.Equal(string(s.entries[0].Payload), doc.Entries[0].Payload)
	s.Contains(doc.Entries[0].Payload, "terminal <A&B>")
}

func (s *ExporterSuite) TestSeqRange() {
	doc, err := ReadLedger(bytes.NewReader(s.export(Request{FromSeq: 2, ToSeq: 3})))
	s.Require().NoError(err)
	s.Require().Len(doc.Entries, 2)
	s.Equal(int64(2), doc.Entries[0].Seq)
	s.Equal(s.entries[0].Hash, doc.Entries[0].PrevHash)
}

// relabeledLedger rewrites the kind and target columns of stored rows, which
// the entry hash does not cover.
type relabeledLedger struct {
	*store.InMemory
	mutate map[int64]func(e *models.Entry)
}

func (l *relabeledLedger) Range(ctx context.Context, scope models.Scope, from, to int64) ([]*models.Entry, error) {
	entries, err := l.InMemory.Range(ctx, scope, from, to)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if fn := l.mutate[e.Seq]; fn != nil {
			fn(e)
		}
	}
	return entries, nil
}

func (l *relabeledLedger) Markers(ctx context.Context, scope models.Scope, after int64) ([]*models.Entry, error) {
	entries, err := l.Range(ctx, scope, after+1, 0)
	if err != nil {
		return nil, err
	}
	var out []*models.Entry
	for _, e := range entries {
		if e.Kind != models.KindRecord {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *ExporterSuite) TestStatusComesFromSealedPayloads() {
	ledger := &relabeledLedger{InMemory: s.ledger, mutate: map[int64]func(*models.Entry){
		3: func(e *models.Entry) { e.Kind, e.Voids = models.KindVoid, 1 },
		5: func(e *models.Entry) { e.Supersedes = 4 },
	}}
	s.exporter = New(ledger, s.auditLog, WithAuditPublisher(compliance.New(s.auditLog)))

	var doc struct {
		Entries []Entry `json:"entries"`
	}
	s.Require().NoError(json.Unmarshal(s.export(Request{}), &doc))
	s.Require().Len(doc.Entries, len(s.entries))
	s.Equal("active", doc.Entries[0].Status)
	s.Equal("superseded", doc.Entries[1].Status)
	s.Equal("active", doc.Entries[3].Status)
}

func (s *ExporterSuite) TestExportIsAudited() {
	s.export(Request{Format: FormatXML})

	events, err := s.auditLog.List(s.ctx, audit.Filter{Actions: []string{string(audit.EventAuditExported)}})
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal("auditor-1", events[0].ActorID)
	s.Equal("auditoria_fiscal_20250331.xml", events[0].Subject)
	s.Equal("ledger/xml", events[0].Decision)
	s.Equal(s.scope.CompanyID, events[0].CompanyID)
}

func (s *ExporterSuite) TestNothingIsWrittenWhenAuditFails() {
	s.exporter.auditor = compliance.New(failingStore{})

	var buf bytes.Buffer
	err := s.exporter.Export(s.ctx, &buf, Request{Scope: s.scope, ActorID: "auditor-1"})
	s.Require().Error(err)
	s.Zero(buf.Len())
}

func (s *ExporterSuite) TestEventsExportFilters() {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, action := range []audit.AuditEvent{audit.EventLogin, audit.EventConfigChange, audit.EventBackupComplete, audit.EventLogin} {
		s.Require().NoError(s.auditLog.Append(s.ctx, audit.Event{
			ID:        uuid.New(),
			Category:  action.Category(),
			Timestamp: base.Add(time.Duration(i) * 24 * time.Hour),
			Action:    string(action),
			CompanyID: s.scope.CompanyID,
			ActorID:   "user-1",
		}))
	}
	s.Require().NoError(s.auditLog.Append(s.ctx, audit.Event{
		ID: uuid.New(), Timestamp: base, Action: string(audit.EventLogin), CompanyID: id.CompanyID(uuid.New()),
	}))

	out := s.export(Request{
		Source:     SourceEvents,
		From:       base,
		To:         base.Add(72 * time.Hour),
		EventTypes: []string{string(audit.EventLogin), string(audit.EventBackupComplete)},
	})
	var doc struct {
		Events []Event `json:"events"`
	}
	s.Require().NoError(json.Unmarshal(out, &doc))
	s.Require().Len(doc.Events, 2)
	s.Equal("login", doc.Events[0].Action)
	s.Equal("backup_completed", doc.Events[1].Action)

	s.Run("xml", func() {
		out := s.export(Request{Source: SourceEvents, Format: FormatXML, EventTypes: []string{"config_change"}})
		s.Contains(string(out), "<RegistroEventos>")
		s.Contains(string(out), "<Accion>config_change</Accion>")
		s.NotContains(string(out), "<Accion>login</Accion>")
	})
}

func (s *ExporterSuite) TestRejectsInvalidRequests() {
	tests := map[string]Request{
		"unknown format":  {Scope: s.scope, Format: "csv", ActorID: "a"},
		"unknown source":  {Scope: s.scope, Source: "disk", ActorID: "a"},
		"inverted range":  {Scope: s.scope, FromSeq: 5, ToSeq: 2, ActorID: "a"},
		"missing actor":   {Scope: s.scope},
		"missing company": {Source: SourceEvents, ActorID: "a"},
	}
	for name, req := range tests {
		s.Run(name, func() {
			err := s.exporter.Export(s.ctx, &bytes.Buffer{}, req)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeInvalidInput), err.Error())
		})
	}
}

func TestFilename(t *testing.T) {
	at := time.Date(2025, 1, 2, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "auditoria_fiscal_20250102.json", Filename(FormatJSON, at))
	assert.Equal(t, "auditoria_fiscal_20250102.xml", Filename(FormatXML, at))
	assert.True(t, strings.HasSuffix(ContentType(FormatXML), "xml"))
}

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("audit store unavailable")
}

func (failingStore) List(context.Context, audit.Filter) ([]audit.Event, error) {
	return nil, nil
}
