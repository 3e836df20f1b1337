// Package planner turns conversation context into the next tool decision by
// prompting an LLM and validating its structured answer. It is exposed to the
// goal workflows as the plan_next_step activity.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"goa.design/clue/log"

	"github.com/treatyline/subpack/internal/agent"
	"github.com/treatyline/subpack/internal/model"
)

// decisionSchema constrains the planner's JSON answer. Anything outside this
// shape is treated as prose and downgraded to a question decision.
const decisionSchema = `{
	"type": "object",
	"required": ["next"],
	"properties": {
		"next": {"enum": ["confirm", "done", "question"]},
		"tool": {"type": ["string", "null"]},
		"args": {"type": ["object", "null"]},
		"response": {}
	}
}`

// Options configures the planner.
type Options struct {
	// Client performs the model calls.
	Client model.Client

	// Model overrides the client's default model identifier when set.
	Model string

	// Temperature for planning calls. Planning wants near-deterministic
	// output, so keep this low.
	Temperature float64

	// MaxTokens caps the decision completion. Zero uses the provider default.
	MaxTokens int
}

// Planner decides the next step of an agent conversation.
type Planner struct {
	client model.Client
	model  string
	temp   float64
	maxTok int
	schema *jsonschema.Schema
}

// New builds a Planner from the provided options.
func New(opts Options) (*Planner, error) {
	if opts.Client == nil {
		return nil, errors.New("model client is required")
	}
	schema, err := compileDecisionSchema()
	if err != nil {
		return nil, err
	}
	return &Planner{
		client: opts.Client,
		model:  opts.Model,
		temp:   opts.Temperature,
		maxTok: opts.MaxTokens,
		schema: schema,
	}, nil
}

func compileDecisionSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(decisionSchema))
	if err != nil {
		return nil, fmt.Errorf("parse decision schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("decision.json", doc); err != nil {
		return nil, fmt.Errorf("register decision schema: %w", err)
	}
	schema, err := c.Compile("decision.json")
	if err != nil {
		return nil, fmt.Errorf("compile decision schema: %w", err)
	}
	return schema, nil
}

// DecideNextStep is the plan_next_step activity. It prompts the model with
// the conversation context and parses the structured decision. Model errors
// are returned so Temporal retries the activity; malformed answers never are.
// An answer that fails to parse or validate becomes a question decision
// carrying the raw text, so the conversation degrades to prose instead of
// crashing the workflow.
func (p *Planner) DecideNextStep(ctx context.Context, in agent.PlannerInput) (agent.ToolDecision, error) {
	resp, err := p.client.Complete(ctx, model.Request{
		Model: p.model,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: in.ContextInstructions},
			{Role: model.RoleUser, Content: in.Prompt},
		},
		Temperature: p.temp,
		MaxTokens:   p.maxTok,
	})
	if err != nil {
		return agent.ToolDecision{}, fmt.Errorf("planner completion: %w", err)
	}

	decision, err := p.parseDecision(resp.Content)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "planner returned unparseable decision, downgrading to question"},
			log.KV{K: "error", V: err.Error()})
		return fallbackDecision(resp.Content), nil
	}
	return decision, nil
}

// parseDecision extracts and validates the JSON decision from raw model
// output, tolerating markdown fences and surrounding prose.
func (p *Planner) parseDecision(raw string) (agent.ToolDecision, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return agent.ToolDecision{}, errors.New("no JSON object found in model output")
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(payload))
	if err != nil {
		return agent.ToolDecision{}, fmt.Errorf("decode decision: %w", err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return agent.ToolDecision{}, fmt.Errorf("validate decision: %w", err)
	}

	var decision agent.ToolDecision
	if err := json.Unmarshal([]byte(payload), &decision); err != nil {
		return agent.ToolDecision{}, fmt.Errorf("unmarshal decision: %w", err)
	}
	if decision.Args == nil {
		decision.Args = map[string]any{}
	}
	return decision, nil
}

// extractJSON returns the outermost JSON object in raw, stripping markdown
// code fences first. Empty string means no object was found.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func fallbackDecision(raw string) agent.ToolDecision {
	return agent.ToolDecision{
		Next:     agent.NextQuestion,
		Response: strings.TrimSpace(raw),
		Args:     map[string]any{},
	}
}
