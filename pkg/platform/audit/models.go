package audit

import (
	"time"

	"github.com/google/uuid"

	id "veriledger/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or regulatory significance.
	// They are written fail-closed and retained with the ledger.
	// Examples: correction decisions, exports, configuration changes.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to security monitoring and forensics.
	// Examples: chain breaks, failed logins, rejected internal tokens.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity that can be sampled.
	// Examples: public verification lookups, on-demand chain verifications.
	CategoryOperations EventCategory = "operations"
)

// Event is the stored form of every audit event. Keep it transport-agnostic
// so stores and sinks can fan out.
type Event struct {
	ID        uuid.UUID
	Category  EventCategory
	Timestamp time.Time
	Action    string
	CompanyID id.CompanyID
	ChainType id.ChainType
	// Subject is the entity acted on: an entry id, a request id, a file name.
	Subject   string
	ActorID   string
	Decision  string
	Reason    string
	IP        string
	UserAgent string
	RequestID string
	Severity  Severity
}

type AuditEvent string

const (
	// Correction workflow
	EventCorrectionRequested AuditEvent = "correction_requested"
	EventCorrectionApproved  AuditEvent = "correction_approved"
	EventCorrectionRejected  AuditEvent = "correction_rejected"

	// Integrity
	EventChainBreakDetected AuditEvent = "chain_break_detected"
	EventChainVerified      AuditEvent = "chain_verified"

	// Third-party access
	EventVerificationLookup AuditEvent = "verification_lookup"
	EventAuditExported      AuditEvent = "audit_exported"

	// Reported by collaborators through the internal API
	EventLogin          AuditEvent = "login"
	EventLoginFailed    AuditEvent = "login_failed"
	EventConfigChange   AuditEvent = "config_change"
	EventBackupComplete AuditEvent = "backup_completed"
	EventBackupFailed   AuditEvent = "backup_failed"

	EventInternalAuthFailed AuditEvent = "internal_auth_failed"
	EventRateLimitExceeded  AuditEvent = "rate_limit_exceeded"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventCorrectionRequested: CategoryCompliance,
	EventCorrectionApproved:  CategoryCompliance,
	EventCorrectionRejected:  CategoryCompliance,
	EventAuditExported:       CategoryCompliance,
	EventConfigChange:        CategoryCompliance,
	EventBackupComplete:      CategoryCompliance,

	EventChainBreakDetected: CategorySecurity,
	EventLoginFailed:        CategorySecurity,
	EventBackupFailed:       CategorySecurity,
	EventInternalAuthFailed: CategorySecurity,
	EventRateLimitExceeded:  CategorySecurity,

	EventLogin:              CategoryOperations,
	EventVerificationLookup: CategoryOperations,
	EventChainVerified:      CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// IsKnown reports whether e is part of the event catalog.
func (e AuditEvent) IsKnown() bool {
	_, ok := eventCategories[e]
	return ok
}

// CollaboratorEvents are the actions other services may report directly.
var CollaboratorEvents = map[AuditEvent]bool{
	EventLogin:          true,
	EventLoginFailed:    true,
	EventConfigChange:   true,
	EventBackupComplete: true,
	EventBackupFailed:   true,
}

// Filter selects events for export. Zero fields do not filter.
type Filter struct {
	CompanyID id.CompanyID
	From      time.Time
	To        time.Time
	Actions   []string
}

// Matches applies the filter to a single event; To is exclusive.
func (f Filter) Matches(e Event) bool {
	if !f.CompanyID.IsNil() && e.CompanyID != f.CompanyID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	if len(f.Actions) > 0 {
		for _, a := range f.Actions {
			if a == e.Action {
				return true
			}
		}
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// Right-sized event types for the tri-publisher architecture
// -----------------------------------------------------------------------------

// ComplianceEvent captures regulatory-significant actions requiring guaranteed
// persistence. Use with the compliance publisher for fail-closed semantics.
type ComplianceEvent struct {
	Timestamp time.Time    // set automatically if zero
	Action    string       // e.g. "correction_approved"
	CompanyID id.CompanyID // the company whose ledger is affected
	ChainType id.ChainType
	Subject   string // entry or request id
	ActorID   string // who performed the action (required)
	Decision  string
	Reason    string
	RequestID string
}

// Category returns CategoryCompliance (always).
func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:  CategoryCompliance,
		Timestamp: e.Timestamp,
		Action:    e.Action,
		CompanyID: e.CompanyID,
		ChainType: e.ChainType,
		Subject:   e.Subject,
		ActorID:   e.ActorID,
		Decision:  e.Decision,
		Reason:    e.Reason,
		RequestID: e.RequestID,
	}
}

// SecurityEvent captures security-relevant actions for SIEM and alerting.
// Events are processed asynchronously with buffering.
type SecurityEvent struct {
	Timestamp time.Time
	Action    string
	CompanyID id.CompanyID
	ChainType id.ChainType
	Subject   string
	Reason    string
	IP        string
	RequestID string
	ActorID   string
	Severity  Severity // "info", "warning", "critical" for SIEM routing
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Category returns CategorySecurity (always).
func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

func (e SecurityEvent) ToEvent() Event {
	return Event{
		Category:  CategorySecurity,
		Timestamp: e.Timestamp,
		Action:    e.Action,
		CompanyID: e.CompanyID,
		ChainType: e.ChainType,
		Subject:   e.Subject,
		Reason:    e.Reason,
		IP:        e.IP,
		RequestID: e.RequestID,
		ActorID:   e.ActorID,
		Severity:  e.Severity,
	}
}

// OpsEvent captures operational events with minimal overhead.
// Events are fire-and-forget with optional sampling.
type OpsEvent struct {
	Timestamp time.Time
	Action    string
	CompanyID id.CompanyID
	ChainType id.ChainType
	Subject   string
	Decision  string
	IP        string
	UserAgent string
	RequestID string
}

// Category returns CategoryOperations (always).
func (e OpsEvent) Category() EventCategory { return CategoryOperations }

func (e OpsEvent) ToEvent() Event {
	return Event{
		Category:  CategoryOperations,
		Timestamp: e.Timestamp,
		Action:    e.Action,
		CompanyID: e.CompanyID,
		ChainType: e.ChainType,
		Subject:   e.Subject,
		Decision:  e.Decision,
		IP:        e.IP,
		UserAgent: e.UserAgent,
		RequestID: e.RequestID,
	}
}
