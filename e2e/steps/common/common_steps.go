package common

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Anonymous(path string) error
	SignIn(name, role string) error
	GetResponseField(field string) (any, error)
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
	GetLastResponseHeader(key string) string
	Remember(name string) error
}

// RegisterSteps registers background, sign-in and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^the ledger is running$`, steps.ledgerIsRunning)
	ctx.Step(`^I am signed in as (clerk|approver|auditor) "([^"]*)"$`, steps.signIn)

	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response error should be "([^"]*)"$`, steps.errorShouldBe)
	ctx.Step(`^the response field "([^"]*)" should be "([^"]*)"$`, steps.fieldShouldBeString)
	ctx.Step(`^the response field "([^"]*)" should equal (-?\d+)$`, steps.fieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should be (true|false)$`, steps.fieldShouldBeBool)
	ctx.Step(`^the response header "([^"]*)" should contain "([^"]*)"$`, steps.headerShouldContain)
	ctx.Step(`^the response should not mention "([^"]*)"$`, steps.responseShouldNotMention)
	ctx.Step(`^I remember the response as "([^"]*)"$`, steps.remember)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) ledgerIsRunning(ctx context.Context) error {
	if err := s.tc.Anonymous("/healthz"); err != nil {
		return err
	}
	if s.tc.GetLastResponseStatus() != 200 {
		return fmt.Errorf("health check returned %d: %s", s.tc.GetLastResponseStatus(), s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) signIn(ctx context.Context, role, name string) error {
	return s.tc.SignIn(name, role)
}

func (s *commonSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) errorShouldBe(ctx context.Context, code string) error {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &body); err != nil {
		return fmt.Errorf("response is not an error document: %w", err)
	}
	if body.Error != code {
		return fmt.Errorf("expected error %q, got %q", code, body.Error)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeString(ctx context.Context, field, expected string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(v) != expected {
		return fmt.Errorf("expected %s to be %q, got %v", field, expected, v)
	}
	return nil
}

func (s *commonSteps) fieldShouldEqual(ctx context.Context, field string, expected int) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	n, ok := v.(float64)
	if !ok || int(n) != expected {
		return fmt.Errorf("expected %s to equal %d, got %v", field, expected, v)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeBool(ctx context.Context, field, expected string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	want, _ := strconv.ParseBool(expected)
	if b, ok := v.(bool); !ok || b != want {
		return fmt.Errorf("expected %s to be %s, got %v", field, expected, v)
	}
	return nil
}

func (s *commonSteps) headerShouldContain(ctx context.Context, header, fragment string) error {
	got := s.tc.GetLastResponseHeader(header)
	if !containsFold(got, fragment) {
		return fmt.Errorf("expected header %s to contain %q, got %q", header, fragment, got)
	}
	return nil
}

func (s *commonSteps) responseShouldNotMention(ctx context.Context, text string) error {
	if containsFold(string(s.tc.GetLastResponseBody()), text) {
		return fmt.Errorf("response mentions %q: %s", text, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) remember(ctx context.Context, name string) error {
	return s.tc.Remember(name)
}
