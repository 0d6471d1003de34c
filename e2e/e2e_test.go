package e2e

import (
	"context"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs the Gherkin suite against a server started with the same
// signing key and internal token.
func TestFeatures(t *testing.T) {
	cfg := ConfigFromEnv()
	if cfg.BaseURL == "" || cfg.SigningKey == "" || cfg.InternalToken == "" {
		t.Skip("E2E_BASE_URL, E2E_SIGNING_KEY and E2E_INTERNAL_TOKEN must be set")
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			tc := NewTestContext(cfg)
			ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				tc.NewCompany()
				return ctx, nil
			})
			RegisterSteps(ctx, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
