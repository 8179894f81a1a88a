package pipeline

import (
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	CheckHealth() error
	Simulate(op string) error
	LastEventID() string
	LastEntityID() string
	FetchRecord(eventID string) (status int, record map[string]any, err error)
	ListRecords(entityType, entityID string) ([]map[string]any, error)
}

// RegisterSteps registers audit-pipeline step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &pipelineSteps{tc: tc}

	ctx.Step(`^the audit service is reachable$`, steps.serviceIsReachable)
	ctx.Step(`^I simulate an? "([^"]*)" mutation$`, steps.simulateMutation)
	ctx.Step(`^an audit record for the event exists within (\d+) seconds$`, steps.awaitRecord)
	ctx.Step(`^the record has entity type "([^"]*)"$`, steps.recordHasEntityType)
	ctx.Step(`^the record has a before state$`, steps.recordHasBeforeState)
	ctx.Step(`^the record has an after state$`, steps.recordHasAfterState)
	ctx.Step(`^the record has no before state$`, steps.recordHasNoBeforeState)
	ctx.Step(`^listing records for that entity includes the event$`, steps.listingIncludesEvent)
}

type pipelineSteps struct {
	tc     TestContext
	record map[string]any
}

func (s *pipelineSteps) serviceIsReachable() error {
	return s.tc.CheckHealth()
}

func (s *pipelineSteps) simulateMutation(op string) error {
	s.record = nil
	return s.tc.Simulate(op)
}

func (s *pipelineSteps) awaitRecord(seconds int) error {
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)
	eventID := s.tc.LastEventID()

	for {
		status, record, err := s.tc.FetchRecord(eventID)
		if err != nil {
			return err
		}
		if status == 200 {
			s.record = record
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no audit record for event %s after %ds (last status %d)", eventID, seconds, status)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (s *pipelineSteps) recordHasEntityType(want string) error {
	if s.record == nil {
		return fmt.Errorf("no record fetched yet")
	}
	got, _ := s.record["entityType"].(string)
	if got != want {
		return fmt.Errorf("entity type is %q, want %q", got, want)
	}
	return nil
}

func (s *pipelineSteps) recordHasBeforeState() error {
	return s.requireState("before", true)
}

func (s *pipelineSteps) recordHasAfterState() error {
	return s.requireState("after", true)
}

func (s *pipelineSteps) recordHasNoBeforeState() error {
	return s.requireState("before", false)
}

func (s *pipelineSteps) requireState(field string, want bool) error {
	if s.record == nil {
		return fmt.Errorf("no record fetched yet")
	}
	present := s.record[field] != nil
	if present != want {
		return fmt.Errorf("%s state present=%v, want %v", field, present, want)
	}
	return nil
}

func (s *pipelineSteps) listingIncludesEvent() error {
	records, err := s.tc.ListRecords("Employee", s.tc.LastEntityID())
	if err != nil {
		return err
	}
	for _, record := range records {
		if record["eventId"] == s.tc.LastEventID() {
			return nil
		}
	}
	return fmt.Errorf("event %s not in listing of %d records", s.tc.LastEventID(), len(records))
}
