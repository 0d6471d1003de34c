package corrections

import (
	"context"
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	POST(path string, body any) error
	PUT(path string, body any) error
	CompanyID() string
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	Recall(name, field string) (string, error)
	SetCorrectionID(id string)
	CorrectionID() string
}

// RegisterSteps registers correction workflow steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &correctionSteps{tc: tc}

	ctx.Step(`^I request an amend of "([^"]*)" for employee "([^"]*)" because "([^"]*)"$`, steps.requestAmend)
	ctx.Step(`^I request a void of "([^"]*)" because "([^"]*)"$`, steps.requestVoid)
	ctx.Step(`^I request a void of "([^"]*)" rectified by "([^"]*)" because "([^"]*)"$`, steps.requestRectifiedVoid)
	ctx.Step(`^I approve the correction$`, steps.approve)
	ctx.Step(`^I reject the correction because "([^"]*)"$`, steps.reject)
	ctx.Step(`^I list pending corrections for (fichajes|facturas)$`, steps.listPending)
	ctx.Step(`^there should be (\d+) pending corrections?$`, steps.pendingCount)
}

type correctionSteps struct {
	tc TestContext
}

func (s *correctionSteps) submit(body map[string]any) error {
	if err := s.tc.POST("/v1/corrections", body); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() == 201 {
		requestID, err := s.tc.GetResponseField("id")
		if err != nil {
			return err
		}
		s.tc.SetCorrectionID(fmt.Sprint(requestID))
	}
	return nil
}

func (s *correctionSteps) requestAmend(ctx context.Context, name, employee, reason string) error {
	originalID, err := s.tc.Recall(name, "id")
	if err != nil {
		return err
	}
	return s.submit(map[string]any{
		"original_id": originalID,
		"kind":        "amend",
		"reason":      reason,
		"proposed_payload": map[string]any{
			"employee_id": employee,
			"punch_type":  "entrada",
			"punched_at":  time.Date(2025, 3, 3, 7, 45, 0, 0, time.UTC).Format(time.RFC3339),
		},
	})
}

func (s *correctionSteps) requestVoid(ctx context.Context, name, reason string) error {
	originalID, err := s.tc.Recall(name, "id")
	if err != nil {
		return err
	}
	return s.submit(map[string]any{
		"original_id": originalID,
		"kind":        "void",
		"reason":      reason,
	})
}

func (s *correctionSteps) requestRectifiedVoid(ctx context.Context, name, rectifying, reason string) error {
	originalID, err := s.tc.Recall(name, "id")
	if err != nil {
		return err
	}
	rectifyingID, err := s.tc.Recall(rectifying, "id")
	if err != nil {
		return err
	}
	return s.submit(map[string]any{
		"original_id":         originalID,
		"kind":                "void",
		"reason":              reason,
		"rectifying_entry_id": rectifyingID,
	})
}

func (s *correctionSteps) approve(ctx context.Context) error {
	if s.tc.CorrectionID() == "" {
		return fmt.Errorf("no correction request to approve")
	}
	return s.tc.PUT("/v1/corrections/"+s.tc.CorrectionID()+"/approve", nil)
}

func (s *correctionSteps) reject(ctx context.Context, reason string) error {
	if s.tc.CorrectionID() == "" {
		return fmt.Errorf("no correction request to reject")
	}
	return s.tc.PUT("/v1/corrections/"+s.tc.CorrectionID()+"/reject", map[string]any{"reason": reason})
}

func (s *correctionSteps) listPending(ctx context.Context, chain string) error {
	return s.tc.GET(fmt.Sprintf("/v1/corrections?company_id=%s&chain_type=%s", s.tc.CompanyID(), chain))
}

func (s *correctionSteps) pendingCount(ctx context.Context, expected int) error {
	v, err := s.tc.GetResponseField("requests")
	if err != nil {
		return err
	}
	list, ok := v.([]any)
	if !ok {
		return fmt.Errorf("requests is not a list: %s", s.tc.GetLastResponseBody())
	}
	if len(list) != expected {
		return fmt.Errorf("expected %d pending corrections, got %d", expected, len(list))
	}
	return nil
}
