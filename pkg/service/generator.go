package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mlbrnm/incidentgpt/pkg/models"
	"github.com/pkg/errors"
)

const (
	DefaultModel             = "llama3.1:8b-instruct-q4_K_M"
	DefaultKeepAlive         = 120 * time.Minute
	DefaultGenerationTimeout = 5 * time.Minute
	DefaultTeam              = "Middleware Services Team (MWS)"
)

// GenerationClient is the text-generation collaborator.
type GenerationClient interface {
	Generate(ctx context.Context, model, prompt string, keepAlive time.Duration) (string, error)
}

// PromptInput carries the item fields and retrieved context that go into a prompt.
type PromptInput struct {
	Key         string
	ContextTag  string
	Description string
	WorkNotes   string
	Context     string
}

type GeneratorOptions struct {
	Model     string
	KeepAlive time.Duration
	Timeout   time.Duration
	Team      string
}

type SolutionGenerator struct {
	client GenerationClient
	logger Logger
	opts   GeneratorOptions
}

func NewSolutionGenerator(client GenerationClient, logger Logger, opts GeneratorOptions) *SolutionGenerator {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultGenerationTimeout
	}
	if opts.Team == "" {
		opts.Team = DefaultTeam
	}
	return &SolutionGenerator{client: client, logger: logger, opts: opts}
}

// BuildPrompt renders the generation prompt for one item.
func BuildPrompt(team string, in PromptInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI working for a healthcare IT team called the %s.\n", team)
	b.WriteString("The following are solved/closed tickets that contain possible solutions to this problem.\n\n")
	fmt.Fprintf(&b, "Context from similar incidents:\n%s\n\n", in.Context)
	fmt.Fprintf(&b, "Current Incident:\nCI: %s\nProblem: %s\n\n", in.ContextTag, in.Description)
	fmt.Fprintf(&b, "Work Notes History:\n%s\n\n", in.WorkNotes)
	b.WriteString("Based on ALL available information above, determine a concise potential solution.\n")
	b.WriteString("If the context is not relevant, answer that you do not know.\n")
	b.WriteString("Output only a few sentences or less, with no preamble.")
	return b.String()
}

// FailureText is the solution text stored when generation fails.
func FailureText(err error) string {
	return "Failed to generate solution: " + err.Error()
}

// Generate returns the candidate solution for in. Failures come back as FailureText
// so they are stored and shown like any other solution.
func (g *SolutionGenerator) Generate(ctx context.Context, in PromptInput) string {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	text, err := g.client.Generate(ctx, g.opts.Model, BuildPrompt(g.opts.Team, in), g.opts.KeepAlive)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.WithMessage(models.ErrMalformedResponse, "empty response")
	}
	if err != nil {
		g.logger.Errorf("Solution generation for %s failed: %v", in.Key, err)
		return FailureText(err)
	}
	g.logger.Infof("Generated solution for %s in %s", in.Key, time.Since(start).Round(time.Millisecond))
	return text
}
