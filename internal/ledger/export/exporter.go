// Package export renders a chain or the audit event log for external
// auditors, in JSON or in AEAT-flavoured XML with Spanish element names.
// Ledger exports carry every hash and the exact sealed bytes so the chain can
// be recomputed offline.
package export

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"veriledger/internal/ledger/metrics"
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/seal"
	dErrors "veriledger/pkg/domain-errors"
	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/requestcontext"
)

type Source string

const (
	SourceLedger Source = "ledger"
	SourceEvents Source = "events"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatXML  Format = "xml"
)

const (
	filenamePrefix   = "auditoria_fiscal_"
	defaultBatchSize = 500
)

// Ledger is the read side the exporter streams from.
type Ledger interface {
	Range(ctx context.Context, scope models.Scope, from, to int64) ([]*models.Entry, error)
	Markers(ctx context.Context, scope models.Scope, after int64) ([]*models.Entry, error)
}

// EventSource lists stored audit events.
type EventSource interface {
	List(ctx context.Context, filter audit.Filter) ([]audit.Event, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

// Request selects what to export. Zero time and seq bounds are open.
type Request struct {
	Scope      models.Scope
	From       time.Time
	To         time.Time
	FromSeq    int64
	ToSeq      int64
	EventTypes []string
	Source     Source
	Format     Format
	ActorID    string
}

func (r *Request) normalize() error {
	if r.Source == "" {
		r.Source = SourceLedger
	}
	if r.Format == "" {
		r.Format = FormatJSON
	}
	switch r.Source {
	case SourceLedger:
		if err := r.Scope.Validate(); err != nil {
			return err
		}
	case SourceEvents:
		if r.Scope.CompanyID.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "company_id is required")
		}
	default:
		return dErrors.New(dErrors.CodeValidation, "source must be ledger or events")
	}
	if r.Format != FormatJSON && r.Format != FormatXML {
		return dErrors.New(dErrors.CodeValidation, "format must be json or xml")
	}
	if r.FromSeq < 0 || r.ToSeq < 0 || (r.ToSeq > 0 && r.ToSeq < r.FromSeq) {
		return dErrors.New(dErrors.CodeValidation, "invalid seq range")
	}
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return dErrors.New(dErrors.CodeValidation, "to must not be before from")
	}
	if strings.TrimSpace(r.ActorID) == "" {
		return dErrors.New(dErrors.CodeValidation, "actor is required")
	}
	return nil
}

// Filename follows the auditoria_fiscal_<YYYYMMDD>.<ext> convention.
func Filename(format Format, at time.Time) string {
	return filenamePrefix + at.UTC().Format("20060102") + "." + string(format)
}

// ContentType returns the media type for a format.
func ContentType(format Format) string {
	if format == FormatXML {
		return "application/xml"
	}
	return "application/json"
}

type Exporter struct {
	ledger    Ledger
	events    EventSource
	auditor   AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	batchSize int64
}

type Option func(*Exporter)

func WithAuditPublisher(p AuditPublisher) Option {
	return func(e *Exporter) { e.auditor = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithBatchSize(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.batchSize = int64(n)
		}
	}
}

func New(ledger Ledger, events EventSource, opts ...Option) *Exporter {
	e := &Exporter{
		ledger:    ledger,
		events:    events,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the requested document to w. The audit_exported event is
// recorded before the first byte is written; if it cannot be recorded nothing
// is exported.
func (e *Exporter) Export(ctx context.Context, w io.Writer, req Request) error {
	if err := req.normalize(); err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	if e.auditor != nil {
		err := e.auditor.Emit(ctx, audit.ComplianceEvent{
			Timestamp: now,
			Action:    string(audit.EventAuditExported),
			CompanyID: req.Scope.CompanyID,
			ChainType: req.Scope.ChainType,
			Subject:   Filename(req.Format, now),
			ActorID:   req.ActorID,
			Decision:  string(req.Source) + "/" + string(req.Format),
			Reason:    describe(req),
			RequestID: requestcontext.RequestID(ctx),
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record export")
		}
	}

	var err error
	switch req.Source {
	case SourceLedger:
		err = e.exportLedger(ctx, w, req, now)
	case SourceEvents:
		err = e.exportEvents(ctx, w, req, now)
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "audit export failed",
			"source", req.Source,
			"format", req.Format,
			"error", err,
		)
		return err
	}
	e.metrics.IncrementExport(string(req.Source), string(req.Format))
	return nil
}

func describe(req Request) string {
	var parts []string
	if req.FromSeq > 0 || req.ToSeq > 0 {
		parts = append(parts, fmt.Sprintf("seq=%d..%d", req.FromSeq, req.ToSeq))
	}
	if !req.From.IsZero() {
		parts = append(parts, "from="+req.From.UTC().Format(time.RFC3339))
	}
	if !req.To.IsZero() {
		parts = append(parts, "to="+req.To.UTC().Format(time.RFC3339))
	}
	if len(req.EventTypes) > 0 {
		parts = append(parts, "types="+strings.Join(req.EventTypes, ","))
	}
	return strings.Join(parts, " ")
}

func (e *Exporter) exportLedger(ctx context.Context, w io.Writer, req Request, now time.Time) error {
	statuses, err := e.statuses(ctx, req.Scope)
	if err != nil {
		return err
	}
	header := Header{
		CompanyID:   req.Scope.CompanyID.String(),
		ChainType:   string(req.Scope.ChainType),
		Algorithm:   seal.Algorithm,
		Formula:     seal.Formula,
		Genesis:     models.GenesisHash,
		GeneratedAt: now.UTC().Format(time.RFC3339),
		FromSeq:     req.FromSeq,
		ToSeq:       req.ToSeq,
	}

	var out ledgerWriter
	if req.Format == FormatXML {
		out = newXMLLedgerWriter(w)
	} else {
		out = newJSONLedgerWriter(w)
	}
	if err := out.begin(header); err != nil {
		return err
	}

	err = e.walk(ctx, req, func(entry *models.Entry) error {
		return out.entry(entry, statuses.of(entry))
	})
	if err != nil {
		return err
	}
	return out.end()
}

// declaredMarks maps a target seq to the corrections and voids whose sealed
// payload names it.
type declaredMarks map[int64][]declaredMark

type declaredMark struct {
	kind models.EntryKind
	hash string
}

// of returns the status of entry, counting only marks that embed its hash.
func (d declaredMarks) of(entry *models.Entry) models.Status {
	status := models.StatusActive
	for _, m := range d[entry.Seq] {
		if m.hash != entry.Hash {
			continue
		}
		if m.kind == models.KindVoid {
			return models.StatusVoided
		}
		status = models.StatusSuperseded
	}
	return status
}

// statuses reads every marker of the scope once and keys it by the target its
// sealed payload names. The kind and target columns are only compared, never
// trusted: a marker that disagrees with its payload is logged.
func (e *Exporter) statuses(ctx context.Context, scope models.Scope) (declaredMarks, error) {
	markers, err := e.ledger.Markers(ctx, scope, 0)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read markers")
	}
	out := make(declaredMarks, len(markers))
	for _, m := range markers {
		if _, ok := models.SealedTarget(m); !ok {
			e.logger.WarnContext(ctx, "marker does not match its sealed payload",
				"scope", scope.Key(),
				"seq", m.Seq,
			)
		}
		env, err := models.ParseEnvelope(m.Payload)
		if err != nil {
			continue
		}
		switch {
		case env.Type == models.EnvelopeVoid && env.Voids != nil:
			out[env.Voids.Seq] = append(out[env.Voids.Seq], declaredMark{kind: models.KindVoid, hash: env.Voids.Hash})
		case env.Type == models.EnvelopeCorrection && env.Supersedes != nil:
			out[env.Supersedes.Seq] = append(out[env.Supersedes.Seq], declaredMark{kind: models.KindCorrection, hash: env.Supersedes.Hash})
		}
	}
	return out, nil
}

// walk reads the chain in batches so large chains stream with bounded memory.
func (e *Exporter) walk(ctx context.Context, req Request, fn func(*models.Entry) error) error {
	cursor := max(req.FromSeq, 1)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		upper := cursor + e.batchSize - 1
		if req.ToSeq > 0 && upper > req.ToSeq {
			upper = req.ToSeq
		}
		if upper < cursor {
			return nil
		}
		batch, err := e.ledger.Range(ctx, req.Scope, cursor, upper)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read chain")
		}
		for _, entry := range batch {
			if !req.From.IsZero() && entry.CreatedAt.Before(req.From) {
				continue
			}
			if !req.To.IsZero() && !entry.CreatedAt.Before(req.To) {
				continue
			}
			if err := fn(entry); err != nil {
				return err
			}
		}
		if int64(len(batch)) < upper-cursor+1 {
			return nil
		}
		cursor = upper + 1
	}
}

func (e *Exporter) exportEvents(ctx context.Context, w io.Writer, req Request, now time.Time) error {
	events, err := e.events.List(ctx, audit.Filter{
		CompanyID: req.Scope.CompanyID,
		From:      req.From,
		To:        req.To,
		Actions:   req.EventTypes,
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list audit events")
	}
	header := EventsHeader{
		CompanyID:   req.Scope.CompanyID.String(),
		EventTypes:  req.EventTypes,
		GeneratedAt: now.UTC().Format(time.RFC3339),
	}
	if !req.From.IsZero() {
		header.From = req.From.UTC().Format(time.RFC3339)
	}
	if !req.To.IsZero() {
		header.To = req.To.UTC().Format(time.RFC3339)
	}
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		if req.Scope.ChainType != "" && ev.ChainType != "" && ev.ChainType != req.Scope.ChainType {
			continue
		}
		out = append(out, toEvent(ev))
	}

	if req.Format == FormatXML {
		doc := struct {
			XMLName xml.Name     `xml:"RegistroEventos"`
			Header  EventsHeader `xml:"Cabecera"`
			Events  []Event      `xml:"Eventos>Evento"`
		}{Header: header, Events: out}
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return err
		}
		enc := xml.NewEncoder(w)
		enc.Indent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode events: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Header EventsHeader `json:"header"`
		Events []Event      `json:"events"`
	}{Header: header, Events: out})
}
