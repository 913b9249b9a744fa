// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pdiddy/trialmatch/pkg/types"
)

const systemPrompt = "You extract structured clinical facts from patient descriptions for clinical trial matching. Respond with strict JSON only. Use empty strings or empty arrays for anything not stated. Never guess."

const promptTemplate = `Extract this patient's profile as JSON with these keys:
diagnosis (string), age (integer), sex ("female", "male" or ""), medications (array of drug names),
comorbidities (array), biomarkers (array), prior_treatments (array), location (string), insurance (string),
recent_hospitalization (boolean), smoking_history (string), performance_status (string),
lab_values (object with optional numeric hba1c, egfr, creatinine, glucose, cholesterol and blood_pressure {systolic, diastolic}).

Patient description:
%s`

// Messager is the subset of the Anthropic client used for completion.
type Messager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicCompleter asks a Claude model to extract the profile as JSON.
type AnthropicCompleter struct {
	messages Messager
	model    string
	timeout  time.Duration
}

// NewAnthropicCompleter builds a completer from configuration.
func NewAnthropicCompleter(cfg types.AIConfig) (*AnthropicCompleter, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("anthropic api key not configured")
	}
	c := anthropic.NewClient(option.WithAPIKey(key))
	return NewAnthropicCompleterWith(&c.Messages, cfg.Model, cfg.Timeout), nil
}

// NewAnthropicCompleterWith wraps an existing messages client.
func NewAnthropicCompleterWith(m Messager, model string, timeout time.Duration) *AnthropicCompleter {
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AnthropicCompleter{messages: m, model: model, timeout: timeout}
}

// Complete implements Completer.
func (a *AnthropicCompleter) Complete(ctx context.Context, text string) (types.PatientProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   2048,
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(fmt.Sprintf(promptTemplate, text)))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return types.PatientProfile{}, fmt.Errorf("anthropic request: %w", err)
	}

	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	raw := stripCodeFences(strings.TrimSpace(sb.String()))
	if raw == "" {
		return types.PatientProfile{}, errors.New("anthropic returned an empty response")
	}

	var p types.PatientProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return types.PatientProfile{}, fmt.Errorf("parsing anthropic profile json: %w", err)
	}
	return p, nil
}

func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}
