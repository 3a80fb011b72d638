// Package generation wraps the Ollama API as the solution text generator.
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/ollama/ollama/api"
)

const DefaultURL = "http://localhost:11434"

type Client struct {
	client *api.Client
	host   string
}

// NewClient builds a client for the Ollama server at hostURL, falling back to
// the local default when the URL does not parse.
func NewClient(hostURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(DefaultURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{client: api.NewClient(parsed, httpClient), host: parsed.String()}
}

// Generate runs a single non-streaming completion and returns the full response text.
func (c *Client) Generate(ctx context.Context, model, prompt string, keepAlive time.Duration) (string, error) {
	stream := false
	req := &api.GenerateRequest{
		Model:     model,
		Prompt:    prompt,
		Stream:    &stream,
		KeepAlive: &api.Duration{Duration: keepAlive},
	}

	var out strings.Builder
	err := c.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", classifyError(c.host, err)
	}
	return out.String(), nil
}

func classifyError(host string, err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Errorf("%w: ollama at %s returned %d: %s",
			models.ErrTransientCollaborator, host, statusErr.StatusCode, statusErr.ErrorMessage)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: ollama request aborted: %w", models.ErrTransientCollaborator, err)
	}
	return fmt.Errorf("%w: ollama at %s: %v", models.ErrTransientCollaborator, host, err)
}
