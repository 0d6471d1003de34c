package e2e

import (
	"github.com/cucumber/godog"

	"veriledger/e2e/steps/common"
	"veriledger/e2e/steps/corrections"
	"veriledger/e2e/steps/ledger"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Background, sign-in and generic assertions
	common.RegisterSteps(ctx, tc)

	// Sealing, verification and export
	ledger.RegisterSteps(ctx, tc)

	// Correction workflow
	corrections.RegisterSteps(ctx, tc)
}
