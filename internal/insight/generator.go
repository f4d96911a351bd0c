package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BarkinBalci/livespot-engine/internal/domain"
)

// maxResponseBytes bounds the generated text read from the collaborator
const maxResponseBytes = 1 << 20

// Generator turns a session's event log into free-form analysis text
type Generator interface {
	Generate(ctx context.Context, sessionID string, events []domain.Event) (string, error)
}

type generateRequest struct {
	SessionID string         `json:"session_id"`
	Events    []domain.Event `json:"events"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// HTTPGenerator posts the event log to an external insight endpoint
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGenerator creates a generator calling endpoint with the given timeout
func NewHTTPGenerator(endpoint string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

// Generate sends the events and returns the text field of the JSON reply
func (g *HTTPGenerator) Generate(ctx context.Context, sessionID string, events []domain.Event) (string, error) {
	body, err := json.Marshal(generateRequest{SessionID: sessionID, Events: events})
	if err != nil {
		return "", fmt.Errorf("failed to marshal insight request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build insight request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call insight generator: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read insight response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("insight generator returned %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("failed to decode insight response: %w", err)
	}
	return out.Text, nil
}
