package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"majordomo/internal/email"
)

const (
	triageMaxTokens     = 256
	triageFailureReason = "triage failure"
)

// Classifier decides whether a message gets a reply. Messages of automated
// origin are skipped without consulting the model; everything else costs one
// inference call. Any inference failure yields a skip.
type Classifier struct {
	completer Completer
	persona   Persona
	prompt    *template.Template
}

func NewClassifier(completer Completer, persona Persona) (*Classifier, error) {
	tmpl, err := parsePrompt("triage", persona.TriagePrompt, defaultTriagePrompt)
	if err != nil {
		return nil, err
	}
	return &Classifier{completer: completer, persona: persona, prompt: tmpl}, nil
}

func (c *Classifier) Classify(ctx context.Context, msg MessageDescriptor) TriageDecision {
	decision := TriageDecision{MessageUID: msg.UID, Action: ActionSkip}

	if reason, automated := email.AutomatedReason(msg.Header, msg.From, c.persona.Address); automated {
		decision.Reason = reason
		return decision
	}

	fail := func(err error) TriageDecision {
		decision.Reason = triageFailureReason
		decision.Err = &InferenceError{Stage: "triage", Err: err}
		return decision
	}

	user, err := renderPrompt(c.prompt, c.persona, msg)
	if err != nil {
		return fail(err)
	}

	model := c.persona.TriageModel
	if model == "" {
		model = c.persona.Model
	}
	text, err := c.completer.Complete(ctx, Prompt{
		Model:     model,
		System:    c.persona.Text,
		User:      user,
		MaxTokens: triageMaxTokens,
	})
	if err != nil {
		return fail(err)
	}

	action, reason, err := parseVerdict(text)
	if err != nil {
		return fail(err)
	}
	decision.Action = action
	decision.Reason = reason
	return decision
}

type verdict struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

// parseVerdict accepts the first JSON object in the model output, tolerating
// surrounding prose or code fences.
func parseVerdict(text string) (Action, string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", "", fmt.Errorf("%w: no JSON object in %q", ErrMalformedResponse, email.Truncate(text, 120))
	}

	var v verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	reason := strings.TrimSpace(v.Reason)
	switch Action(strings.ToLower(strings.TrimSpace(v.Action))) {
	case ActionReply:
		if reason == "" {
			reason = "model chose to reply"
		}
		return ActionReply, reason, nil
	case ActionSkip:
		if reason == "" {
			reason = "model chose to skip"
		}
		return ActionSkip, reason, nil
	default:
		return "", "", fmt.Errorf("%w: unknown action %q", ErrMalformedResponse, v.Action)
	}
}
