// Package e2e drives a deployed audit pipeline through its public surfaces:
// the simulate binary on the caller side and the query API on the read side.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"
)

// TestContext holds the state one scenario accumulates: the last simulated
// mutation and the HTTP client for the query API.
type TestContext struct {
	baseURL     string
	simulateBin string
	client      *http.Client

	lastEventID  string
	lastEntityID string
}

// NewTestContext builds a context from the environment:
// WORKTRAIL_E2E_SERVER_URL points at the query API, and
// WORKTRAIL_E2E_SIMULATE_BIN at the simulate binary (default: "simulate" on
// PATH). The simulate binary reads its own WORKTRAIL_* configuration from the
// same environment.
func NewTestContext() *TestContext {
	bin := os.Getenv("WORKTRAIL_E2E_SIMULATE_BIN")
	if bin == "" {
		bin = "simulate"
	}
	return &TestContext{
		baseURL:     strings.TrimRight(os.Getenv("WORKTRAIL_E2E_SERVER_URL"), "/"),
		simulateBin: bin,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// CheckHealth verifies the query API answers its health endpoint.
func (tc *TestContext) CheckHealth() error {
	resp, err := tc.client.Get(tc.baseURL + "/healthz")
	if err != nil {
		return fmt.Errorf("healthz: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz returned %d", resp.StatusCode)
	}
	return nil
}

// Simulate runs one mutation through the caller contract and remembers the
// resulting event id and entity id.
func (tc *TestContext) Simulate(op string) error {
	entityID := fmt.Sprintf("e2e-%d", time.Now().UnixNano())

	cmd := exec.Command(tc.simulateBin, "-op", op, "-entity-id", entityID)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("simulate -op %s: %w (%s)", op, err, strings.TrimSpace(stderr.String()))
	}

	eventID := strings.TrimSpace(stdout.String())
	if eventID == "" {
		return fmt.Errorf("simulate printed no event id")
	}
	tc.lastEventID = eventID
	tc.lastEntityID = entityID
	return nil
}

// LastEventID returns the event id of the most recent simulated mutation.
func (tc *TestContext) LastEventID() string { return tc.lastEventID }

// LastEntityID returns the entity id of the most recent simulated mutation.
func (tc *TestContext) LastEntityID() string { return tc.lastEntityID }

// FetchRecord retrieves one audit record by event id. A non-200 status is
// returned without error so callers can poll.
func (tc *TestContext) FetchRecord(eventID string) (int, map[string]any, error) {
	resp, err := tc.client.Get(tc.baseURL + "/audit/records/" + url.PathEscape(eventID))
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil, nil
	}

	var record map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("decode record: %w", err)
	}
	return resp.StatusCode, record, nil
}

// ListRecords queries the trail for one entity.
func (tc *TestContext) ListRecords(entityType, entityID string) ([]map[string]any, error) {
	query := url.Values{}
	query.Set("entityType", entityType)
	query.Set("entityId", entityID)

	resp, err := tc.client.Get(tc.baseURL + "/audit/records?" + query.Encode())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list records returned %d", resp.StatusCode)
	}

	var body struct {
		Records []map[string]any `json:"records"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode record list: %w", err)
	}
	return body.Records, nil
}
