package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"veriledger/internal/ledger/canonical"
	id "veriledger/pkg/domain"
)

// InvoiceType follows the AEAT invoice classification.
type InvoiceType string

const (
	InvoiceComplete   InvoiceType = "F1"
	InvoiceSimplified InvoiceType = "F2"
	InvoiceRectR1     InvoiceType = "R1"
	InvoiceRectR2     InvoiceType = "R2"
	InvoiceRectR3     InvoiceType = "R3"
	InvoiceRectR4     InvoiceType = "R4"
	InvoiceRectR5     InvoiceType = "R5"
)

func (t InvoiceType) IsValid() bool {
	switch t {
	case InvoiceComplete, InvoiceSimplified,
		InvoiceRectR1, InvoiceRectR2, InvoiceRectR3, InvoiceRectR4, InvoiceRectR5:
		return true
	}
	return false
}

const (
	defaultCurrency  = "EUR"
	maxInvoiceNumber = 60
	dateLayout       = "2006-01-02"
)

var (
	nifPattern      = regexp.MustCompile(`^[0-9A-Z][0-9]{7}[0-9A-Z]$`)
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
)

// NormalizeNIF upper-cases and strips separators from a tax id.
func NormalizeNIF(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", " ", "", ".", "").Replace(s)
}

// Factura is an issued invoice.
type Factura struct {
	Series       string          `json:"series,omitempty"`
	Number       string          `json:"number"`
	IssueDate    string          `json:"issue_date"`
	IssuerNIF    string          `json:"issuer_nif"`
	RecipientNIF string          `json:"recipient_nif,omitempty"`
	InvoiceType  InvoiceType     `json:"invoice_type"`
	BaseAmount   decimal.Decimal `json:"base_amount"`
	TaxAmount    decimal.Decimal `json:"tax_amount"`
	Total        decimal.Decimal `json:"total"`
	Currency     string          `json:"currency,omitempty"`
}

func (f *Factura) ChainType() id.ChainType { return id.ChainFacturas }

// InvoiceNumber is the number shown to third parties, series included.
func (f *Factura) InvoiceNumber() string {
	number := strings.TrimSpace(f.Number)
	if series := strings.TrimSpace(f.Series); series != "" {
		return series + "-" + number
	}
	return number
}

func (f *Factura) Validate() error {
	number := strings.TrimSpace(f.Number)
	if number == "" {
		return validationError("number", "is required")
	}
	if len(f.InvoiceNumber()) > maxInvoiceNumber {
		return validationError("number", "too long")
	}
	if _, err := time.Parse(dateLayout, f.IssueDate); err != nil {
		return validationError("issue_date", "must be YYYY-MM-DD")
	}
	if !nifPattern.MatchString(NormalizeNIF(f.IssuerNIF)) {
		return validationError("issuer_nif", "invalid NIF")
	}
	if f.RecipientNIF != "" && !nifPattern.MatchString(NormalizeNIF(f.RecipientNIF)) {
		return validationError("recipient_nif", "invalid NIF")
	}
	if !f.InvoiceType.IsValid() {
		return validationError("invoice_type", "must be F1, F2 or R1-R5")
	}
	for _, a := range []struct {
		path  string
		value decimal.Decimal
	}{
		{"base_amount", f.BaseAmount},
		{"tax_amount", f.TaxAmount},
		{"total", f.Total},
	} {
		if a.value.IsNegative() {
			return validationError(a.path, "must not be negative")
		}
		if !a.value.Equal(a.value.Truncate(2)) {
			return validationError(a.path, "more than 2 decimal places")
		}
	}
	if !f.BaseAmount.Add(f.TaxAmount).Equal(f.Total) {
		return validationError("total", "must equal base_amount + tax_amount")
	}
	if f.Currency != "" && !currencyPattern.MatchString(f.Currency) {
		return validationError("currency", "must be an ISO 4217 code")
	}
	return nil
}

func (f *Factura) Canonical() (canonical.Object, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	currency := f.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	obj := canonical.Object{
		"number":       canonical.String(strings.TrimSpace(f.Number)),
		"issue_date":   canonical.Date(f.IssueDate),
		"issuer_nif":   canonical.String(NormalizeNIF(f.IssuerNIF)),
		"invoice_type": canonical.String(f.InvoiceType),
		"base_amount":  canonical.Amount(f.BaseAmount),
		"tax_amount":   canonical.Amount(f.TaxAmount),
		"total":        canonical.Amount(f.Total),
		"currency":     canonical.String(currency),
	}
	if f.Series != "" {
		obj["series"] = canonical.String(strings.TrimSpace(f.Series))
	}
	if f.RecipientNIF != "" {
		obj["recipient_nif"] = canonical.String(NormalizeNIF(f.RecipientNIF))
	}
	return obj, nil
}
