package e2e

import (
	"os"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs the gherkin suite against a deployed stack. It needs the
// query API, the consumer, and the backing services up, so it skips unless
// WORKTRAIL_E2E_SERVER_URL is set.
func TestFeatures(t *testing.T) {
	if os.Getenv("WORKTRAIL_E2E_SERVER_URL") == "" {
		t.Skip("WORKTRAIL_E2E_SERVER_URL not set, skipping end-to-end suite")
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			RegisterSteps(ctx, NewTestContext())
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("end-to-end suite failed")
	}
}
