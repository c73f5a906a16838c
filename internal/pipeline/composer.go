package pipeline

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"majordomo/internal/email"
)

// Composer drafts the reply body with the model. Addressing and threading
// come from the source message only.
type Composer struct {
	completer Completer
	persona   Persona
	prompt    *template.Template
}

func NewComposer(completer Completer, persona Persona) (*Composer, error) {
	tmpl, err := parsePrompt("reply", persona.ReplyPrompt, defaultReplyPrompt)
	if err != nil {
		return nil, err
	}
	return &Composer{completer: completer, persona: persona, prompt: tmpl}, nil
}

func (c *Composer) Compose(ctx context.Context, msg MessageDescriptor) (DraftReply, error) {
	user, err := renderPrompt(c.prompt, c.persona, msg)
	if err != nil {
		return DraftReply{}, &InferenceError{Stage: "compose", Err: err}
	}

	text, err := c.completer.Complete(ctx, Prompt{
		Model:     c.persona.Model,
		System:    c.persona.Text,
		User:      user,
		MaxTokens: c.persona.MaxTokens,
	})
	if err != nil {
		return DraftReply{}, &InferenceError{Stage: "compose", Err: err}
	}

	body := cleanReplyBody(text)
	if body == "" {
		return DraftReply{}, &InferenceError{Stage: "compose", Err: fmt.Errorf("%w: empty reply body", ErrMalformedResponse)}
	}

	return DraftReply{
		MessageUID: msg.UID,
		ThreadID:   msg.ThreadID(),
		Recipient:  msg.From,
		Subject:    email.ReplySubject(msg.Subject),
		Body:       body,
		InReplyTo:  msg.MessageID,
		References: email.ReplyReferences(msg.References, msg.MessageID),
	}, nil
}

// cleanReplyBody trims the model output and drops a leading "Subject:" line
// the model was told not to write.
func cleanReplyBody(text string) string {
	body := strings.TrimSpace(text)
	if first, rest, ok := strings.Cut(body, "\n"); ok && strings.HasPrefix(strings.ToLower(strings.TrimSpace(first)), "subject:") {
		body = strings.TrimSpace(rest)
	} else if !ok && strings.HasPrefix(strings.ToLower(body), "subject:") {
		body = ""
	}
	return body
}
