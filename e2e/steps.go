package e2e

import (
	"github.com/cucumber/godog"

	"ipx/e2e/steps/common"
	"ipx/e2e/steps/registration"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Generic requests and response assertions
	common.RegisterSteps(ctx, tc)

	// Registration workflow steps
	registration.RegisterSteps(ctx, tc)
}
