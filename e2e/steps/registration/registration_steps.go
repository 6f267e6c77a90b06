package registration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	POST(path string, body any) error
	PATCH(path string, body any) error
	DELETE(path string) error
	LastStatus() int
	GetResponseField(field string) (any, error)
	RegistrationID() string
	SetRegistrationID(id string)
}

// RegisterSteps registers registration workflow step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &registrationSteps{tc: tc}

	ctx.Step(`^I start a registration$`, steps.start)
	ctx.Step(`^I open the registration$`, steps.open)
	ctx.Step(`^I discard the registration$`, steps.discard)
	ctx.Step(`^I select asset type "([^"]*)" with reference "([^"]*)"$`, steps.selectAsset)
	ctx.Step(`^I update the form with:$`, steps.updateForm)
	ctx.Step(`^I accept the terms$`, steps.acceptTerms)
	ctx.Step(`^I request ownership verification$`, steps.requestVerification)
	ctx.Step(`^verification finishes with state "([^"]*)"$`, steps.verificationFinishes)
	ctx.Step(`^I submit the registration$`, steps.submit)
	ctx.Step(`^submission is blocked with reason "([^"]*)"$`, steps.blockedWithReason)
	ctx.Step(`^the registration can be submitted$`, steps.canSubmit)
}

type registrationSteps struct {
	tc TestContext
}

func (s *registrationSteps) path(suffix string) string {
	return "/registrations/" + s.tc.RegistrationID() + suffix
}

func (s *registrationSteps) start(context.Context) error {
	if err := s.tc.POST("/registrations", nil); err != nil {
		return err
	}
	if s.tc.LastStatus() != 201 {
		return fmt.Errorf("start registration: status %d", s.tc.LastStatus())
	}
	id, err := s.tc.GetResponseField("id")
	if err != nil {
		return err
	}
	s.tc.SetRegistrationID(fmt.Sprint(id))
	return nil
}

func (s *registrationSteps) open(context.Context) error {
	return s.tc.GET(s.path(""))
}

func (s *registrationSteps) discard(context.Context) error {
	return s.tc.DELETE(s.path(""))
}

func (s *registrationSteps) selectAsset(_ context.Context, assetType, reference string) error {
	return s.tc.PATCH(s.path(""), map[string]any{
		"asset_type":      assetType,
		"asset_reference": reference,
	})
}

// updateForm sends a PATCH built from a two-column table. Integer and
// boolean cells are sent typed.
func (s *registrationSteps) updateForm(_ context.Context, table *godog.Table) error {
	patch := make(map[string]any, len(table.Rows))
	for _, row := range table.Rows {
		if len(row.Cells) != 2 {
			return errors.New("form table rows need a field and a value")
		}
		field, raw := row.Cells[0].Value, row.Cells[1].Value
		switch {
		case raw == "true" || raw == "false":
			patch[field] = raw == "true"
		default:
			if n, err := strconv.Atoi(raw); err == nil {
				patch[field] = n
			} else {
				patch[field] = raw
			}
		}
	}
	return s.tc.PATCH(s.path(""), patch)
}

func (s *registrationSteps) acceptTerms(context.Context) error {
	return s.tc.PATCH(s.path(""), map[string]any{"terms_accepted": true})
}

func (s *registrationSteps) requestVerification(context.Context) error {
	return s.tc.POST(s.path("/verification"), nil)
}

// verificationFinishes polls until the attempt leaves in_progress.
func (s *registrationSteps) verificationFinishes(_ context.Context, want string) error {
	deadline := time.Now().Add(15 * time.Second)
	for {
		if err := s.tc.GET(s.path("")); err != nil {
			return err
		}
		state, err := s.tc.GetResponseField("verification.state")
		if err != nil {
			return err
		}
		if state != "in_progress" {
			if state != want {
				return fmt.Errorf("expected verification state %q, got %v", want, state)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return errors.New("verification still in progress after 15s")
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (s *registrationSteps) submit(context.Context) error {
	return s.tc.POST(s.path("/submit"), nil)
}

func (s *registrationSteps) blockedWithReason(_ context.Context, reason string) error {
	if err := s.tc.GET(s.path("")); err != nil {
		return err
	}
	can, err := s.tc.GetResponseField("can_submit")
	if err != nil {
		return err
	}
	if can != false {
		return errors.New("expected submission to be blocked")
	}
	got, err := s.tc.GetResponseField("block_reason")
	if err != nil {
		return err
	}
	if got != reason {
		return fmt.Errorf("expected block reason %q, got %v", reason, got)
	}
	return nil
}

func (s *registrationSteps) canSubmit(context.Context) error {
	if err := s.tc.GET(s.path("")); err != nil {
		return err
	}
	can, err := s.tc.GetResponseField("can_submit")
	if err != nil {
		return err
	}
	if can != true {
		return fmt.Errorf("expected registration to be submittable, got can_submit=%v", can)
	}
	return nil
}
