// Package scorer asks an LLM oracle to evaluate a lead against the target
// profile and turns its answer into a ScoreResult. Transport failures are
// returned as errors so the caller can retry; a response that parses badly
// degrades to defaults instead of failing the row.
package scorer

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

// Oracle scores a single lead using its row data and research context.
type Oracle interface {
	Score(ctx context.Context, lead model.LeadRecord, research, targetProfile string) (model.ScoreResult, error)
}

// Config tunes the Anthropic-backed oracle.
type Config struct {
	Model                  string
	MaxTokens              int64
	Temperature            float64
	QualificationThreshold int
	DefaultScore           int
}

const systemPrompt = `You are a sales lead qualification analyst. You evaluate
one lead at a time against a target customer profile and respond in exactly
this format, with each label on its own line:

SUMMARY: <2-3 sentence assessment of the company and its fit>
SCORE: <integer 0-100, how well the lead matches the target profile>
POSSIBLE CLIENT: <yes or no>
MESSAGE: <a short personalized outreach email body for this lead>

Do not add any other sections or commentary.`

const userPromptTmpl = `Target customer profile:
%s

Lead data from the source sheet:
%s

Research context:
%s

Evaluate this lead now.`

// AnthropicOracle implements Oracle over the Anthropic messages API.
type AnthropicOracle struct {
	api anthropic.Client
	cfg Config
}

// New creates the oracle. Zero config fields fall back to working defaults.
func New(api anthropic.Client, cfg Config) *AnthropicOracle {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.QualificationThreshold <= 0 {
		cfg.QualificationThreshold = 70
	}
	if cfg.DefaultScore <= 0 {
		cfg.DefaultScore = 50
	}
	return &AnthropicOracle{api: api, cfg: cfg}
}

// Score sends the lead to the model and parses its labeled response.
func (o *AnthropicOracle) Score(ctx context.Context, lead model.LeadRecord, research, targetProfile string) (model.ScoreResult, error) {
	prompt := fmt.Sprintf(userPromptTmpl,
		strings.TrimSpace(targetProfile),
		lead.PromptText(),
		strings.TrimSpace(research),
	)

	temp := o.cfg.Temperature
	resp, err := o.api.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       o.cfg.Model,
		MaxTokens:   o.cfg.MaxTokens,
		System:      systemPrompt,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return model.ScoreResult{}, eris.Wrapf(err, "scorer: score row %d", lead.RowIndex)
	}
	resp.Usage.LogUsage(o.cfg.Model, "score")

	return Parse(resp.Text, o.cfg.QualificationThreshold, o.cfg.DefaultScore), nil
}
