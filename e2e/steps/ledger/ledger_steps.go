package ledger

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	Anonymous(path string) error
	Internal(path string, body any) error
	CompanyID() string
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Remember(name string) error
	Recall(name, field string) (string, error)
}

// RegisterSteps registers sealing, verification and export steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ledgerSteps{tc: tc}

	ctx.Step(`^a collaborator seals a punch for employee "([^"]*)"$`, steps.sealPunch)
	ctx.Step(`^a collaborator seals a punch for employee "([^"]*)" remembered as "([^"]*)"$`, steps.sealPunchAs)
	ctx.Step(`^a collaborator seals (\d+) punches$`, steps.sealPunches)
	ctx.Step(`^a collaborator seals invoice "([^"]*)" remembered as "([^"]*)"$`, steps.sealInvoiceAs)
	ctx.Step(`^a collaborator seals a punch with an empty employee$`, steps.sealInvalidPunch)

	ctx.Step(`^I verify the (fichajes|facturas) chain$`, steps.verifyChain)
	ctx.Step(`^anyone looks up the code of "([^"]*)"$`, steps.lookupRemembered)
	ctx.Step(`^anyone looks up code "([^"]*)"$`, steps.lookupCode)
	ctx.Step(`^anyone opens the QR link of "([^"]*)"$`, steps.openQR)
	ctx.Step(`^I export the (fichajes|facturas) chain as (json|xml)$`, steps.export)
}

type ledgerSteps struct {
	tc TestContext
}

var punchTime = time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC)

func (s *ledgerSteps) entriesPath(chain string) string {
	return fmt.Sprintf("/internal/ledger/%s/%s/entries", s.tc.CompanyID(), chain)
}

func (s *ledgerSteps) sealPunch(ctx context.Context, employee string) error {
	return s.tc.Internal(s.entriesPath("fichajes"), map[string]any{
		"issuer_id": "e2e-timeclock",
		"payload": map[string]any{
			"employee_id": employee,
			"punch_type":  "entrada",
			"punched_at":  punchTime.Format(time.RFC3339),
		},
	})
}

func (s *ledgerSteps) sealPunchAs(ctx context.Context, employee, name string) error {
	if err := s.sealPunch(ctx, employee); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 201 {
		return fmt.Errorf("seal returned %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	return s.tc.Remember(name)
}

func (s *ledgerSteps) sealPunches(ctx context.Context, n int) error {
	for i := range n {
		if err := s.sealPunch(ctx, fmt.Sprintf("E-%03d", i+1)); err != nil {
			return err
		}
		if s.tc.GetLastResponseStatus() != 201 {
			return fmt.Errorf("seal %d returned %d: %s", i+1, s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
		}
	}
	return nil
}

func (s *ledgerSteps) sealInvoiceAs(ctx context.Context, number, name string) error {
	err := s.tc.Internal(s.entriesPath("facturas"), map[string]any{
		"issuer_id": "e2e-billing",
		"payload": map[string]any{
			"series":       "A",
			"number":       number,
			"issue_date":   "2025-03-01",
			"issuer_nif":   "B12345678",
			"invoice_type": "F1",
			"base_amount":  "100.00",
			"tax_amount":   "21.00",
			"total":        "121.00",
		},
	})
	if err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 201 {
		return fmt.Errorf("seal returned %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	return s.tc.Remember(name)
}

func (s *ledgerSteps) sealInvalidPunch(ctx context.Context) error {
	return s.tc.Internal(s.entriesPath("fichajes"), map[string]any{
		"payload": map[string]any{
			"employee_id": "",
			"punch_type":  "entrada",
			"punched_at":  punchTime.Format(time.RFC3339),
		},
	})
}

func (s *ledgerSteps) verifyChain(ctx context.Context, chain string) error {
	return s.tc.GET(fmt.Sprintf("/v1/ledger/%s/%s/verify", s.tc.CompanyID(), chain))
}

func (s *ledgerSteps) lookupRemembered(ctx context.Context, name string) error {
	code, err := s.tc.Recall(name, "display_code")
	if err != nil {
		return err
	}
	return s.lookupCode(ctx, code)
}

func (s *ledgerSteps) lookupCode(ctx context.Context, code string) error {
	return s.tc.Anonymous("/v1/verify/" + url.PathEscape(code))
}

func (s *ledgerSteps) openQR(ctx context.Context, name string) error {
	raw, err := s.tc.Recall(name, "qr")
	if err != nil {
		return err
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("receipt QR is not a URL: %w", err)
	}
	return s.tc.Anonymous(u.RequestURI())
}

func (s *ledgerSteps) export(ctx context.Context, chain, format string) error {
	q := url.Values{}
	q.Set("company_id", s.tc.CompanyID())
	q.Set("chain_type", chain)
	q.Set("format", format)
	return s.tc.GET("/v1/audit/export?" + q.Encode())
}
