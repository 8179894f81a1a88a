package e2e

import (
	"github.com/cucumber/godog"

	"worktrail/e2e/steps/pipeline"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register audit-pipeline steps (simulate mutations, await records, assertions)
	pipeline.RegisterSteps(ctx, tc)
}
