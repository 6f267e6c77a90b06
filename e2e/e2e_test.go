package e2e

import (
	"context"
	"os"
	"testing"

	"github.com/cucumber/godog"
)

// TestFeatures runs features/ against IPX_E2E_BASE_URL. The server must run
// with the sandbox verifier and share IPX_AUTH_SIGNING_KEY.
func TestFeatures(t *testing.T) {
	baseURL := os.Getenv("IPX_E2E_BASE_URL")
	if baseURL == "" {
		t.Skip("IPX_E2E_BASE_URL not set")
	}
	tc := NewTestContext(baseURL,
		envOr("IPX_AUTH_SIGNING_KEY", "dev-secret-key-change-in-production"),
		envOr("IPX_AUTH_ISSUER", "ipx-identity"),
		envOr("IPX_AUTH_AUDIENCE", "ipx"),
	)

	suite := godog.TestSuite{
		Name: "ipx",
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
				tc.Reset()
				return ctx, nil
			})
			RegisterSteps(ctx, tc)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			Strict:   true,
			TestingT: t,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("e2e scenarios failed")
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
