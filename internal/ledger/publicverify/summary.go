package publicverify

import (
	"time"

	"github.com/mssola/useragent"

	"veriledger/internal/ledger/models"
	id "veriledger/pkg/domain"
)

// summary builds the whitelisted fields a third party may see. Everything
// else in the payload (employee ids, geotags, amounts other than the total)
// stays private.
func summary(e *models.Entry, env *models.Envelope, status models.Status) map[string]string {
	out := map[string]string{
		"status":    string(status),
		"sealed_at": e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if env == nil || env.Data == nil {
		// Voids sealed against an existing rectifying entry carry no data.
		return out
	}
	switch e.Scope.ChainType {
	case id.ChainFacturas:
		number := env.DataString("number")
		if series := env.DataString("series"); series != "" {
			number = series + "-" + number
		}
		setNonEmpty(out, "invoice_number", number)
		setNonEmpty(out, "issuer_nif", env.DataString("issuer_nif"))
		setNonEmpty(out, "issue_date", env.DataString("issue_date"))
		setNonEmpty(out, "total", env.DataString("total"))
	case id.ChainFichajes:
		setNonEmpty(out, "punch_type", env.DataString("punch_type"))
		setNonEmpty(out, "punched_at", env.DataString("punched_at"))
	}
	return out
}

func setNonEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

// classifyAgent reduces a User-Agent header to a coarse client class for
// lookup audit events, e.g. "bot:Googlebot" or "mobile:Safari".
func classifyAgent(raw string) string {
	if raw == "" {
		return "unknown"
	}
	ua := useragent.New(raw)
	name, _ := ua.Browser()
	if name == "" {
		name = "other"
	}
	switch {
	case ua.Bot():
		return "bot:" + name
	case ua.Mobile():
		return "mobile:" + name
	default:
		return "desktop:" + name
	}
}
