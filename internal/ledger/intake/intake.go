// Package intake accepts records and audit events from collaborator
// services: typed fichajes and facturas to seal, and the operational events
// (logins, configuration changes, backups) that belong in the audit log.
package intake

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"veriledger/internal/ledger/canonical"
	"veriledger/internal/ledger/models"
	"veriledger/internal/ledger/seal"
	id "veriledger/pkg/domain"
	dErrors "veriledger/pkg/domain-errors"
	audit "veriledger/pkg/platform/audit"
	"veriledger/pkg/requestcontext"
)

const maxIssuerLen = 128

type Sealer interface {
	SealWithRetry(ctx context.Context, scope models.Scope, kind models.EntryKind, payload canonical.Object, meta models.SealMeta) (*models.Entry, error)
}

type ComplianceAuditor interface {
	Emit(ctx context.Context, event audit.ComplianceEvent) error
}

type SecurityAuditor interface {
	Emit(ctx context.Context, event audit.SecurityEvent)
}

type OpsTracker interface {
	Track(event audit.OpsEvent)
}

// Receipt is returned to the collaborator that asked for a seal; Code and QR
// are what gets printed on the document.
type Receipt struct {
	ID          string     `json:"id"`
	Seq         int64      `json:"seq"`
	Hash        string     `json:"hash"`
	Code        string     `json:"code"`
	DisplayCode string     `json:"display_code"`
	QR          string     `json:"qr"`
}

// Event is a collaborator-reported audit event.
type Event struct {
	Action    string       `json:"action"`
	CompanyID string `json:"company_id"`
	ActorID   string `json:"actor_id"`
	Subject   string `json:"subject,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	IP        string `json:"ip,omitempty"`
}

type Service struct {
	sealer     Sealer
	baseURL    string
	compliance ComplianceAuditor
	security   SecurityAuditor
	ops        OpsTracker
	logger     *slog.Logger
}

type Option func(*Service)

func WithComplianceAuditor(a ComplianceAuditor) Option {
	return func(s *Service) { s.compliance = a }
}

func WithSecurityAuditor(a SecurityAuditor) Option {
	return func(s *Service) { s.security = a }
}

func WithOpsTracker(t OpsTracker) Option {
	return func(s *Service) { s.ops = t }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds the intake service. baseURL prefixes the QR verification URL.
func New(sealer Sealer, baseURL string, opts ...Option) *Service {
	s := &Service{sealer: sealer, baseURL: baseURL, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record validates a typed business payload for the scope's chain and seals
// it as a new record entry.
func (s *Service) Record(ctx context.Context, scope models.Scope, raw json.RawMessage, issuerID string) (*Receipt, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	issuerID = strings.TrimSpace(issuerID)
	if len(issuerID) > maxIssuerLen {
		return nil, dErrors.New(dErrors.CodeValidation, "issuer_id too long")
	}
	business, err := models.DecodeBusiness(scope.ChainType, raw)
	if err != nil {
		return nil, err
	}
	payload, err := models.RecordPayload(business)
	if err != nil {
		return nil, err
	}
	entry, err := s.sealer.SealWithRetry(ctx, scope, models.KindRecord, payload, models.SealMeta{IssuerID: issuerID})
	if err != nil {
		return nil, err
	}
	return &Receipt{
		ID:          entry.ID.String(),
		Seq:         entry.Seq,
		Hash:        entry.Hash,
		Code:        entry.Code,
		DisplayCode: seal.FormatCode(entry.Code),
		QR:          seal.QRPayload(s.baseURL, entry),
	}, nil
}

// ReportEvent stores a collaborator event through the publisher matching its
// category. Compliance events are written before returning; a failure is
// reported to the caller.
func (s *Service) ReportEvent(ctx context.Context, in Event) error {
	action := audit.AuditEvent(strings.TrimSpace(in.Action))
	if !audit.CollaboratorEvents[action] {
		return dErrors.Newf(dErrors.CodeValidation, "unsupported event %q", in.Action)
	}
	companyID, err := id.ParseCompanyID(in.CompanyID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return dErrors.New(dErrors.CodeValidation, "actor_id is required")
	}
	now := requestcontext.Now(ctx)
	ip := in.IP
	if ip == "" {
		ip = requestcontext.ClientIP(ctx)
	}

	switch action.Category() {
	case audit.CategoryCompliance:
		if s.compliance == nil {
			return dErrors.New(dErrors.CodeInternal, "compliance audit unavailable")
		}
		err = s.compliance.Emit(ctx, audit.ComplianceEvent{
			Timestamp: now,
			Action:    string(action),
			CompanyID: companyID,
			Subject:   in.Subject,
			ActorID:   in.ActorID,
			Decision:  in.Decision,
			Reason:    in.Reason,
			RequestID: requestcontext.RequestID(ctx),
		})
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record event")
		}
	case audit.CategorySecurity:
		if s.security != nil {
			s.security.Emit(ctx, audit.SecurityEvent{
				Timestamp: now,
				Action:    string(action),
				CompanyID: companyID,
				Subject:   in.Subject,
				ActorID:   in.ActorID,
				Reason:    in.Reason,
				IP:        ip,
				RequestID: requestcontext.RequestID(ctx),
				Severity:  audit.SeverityWarning,
			})
		}
	default:
		if s.ops != nil {
			s.ops.Track(audit.OpsEvent{
				Timestamp: now,
				Action:    string(action),
				CompanyID: companyID,
				Subject:   in.Subject,
				Decision:  in.Decision,
				IP:        ip,
				UserAgent: requestcontext.UserAgent(ctx),
				RequestID: requestcontext.RequestID(ctx),
			})
		}
	}
	s.logger.DebugContext(ctx, "collaborator event recorded", "action", action, "company_id", companyID.String())
	return nil
}
