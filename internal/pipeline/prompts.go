package pipeline

import (
	"fmt"
	"strings"
	"text/template"

	"majordomo/internal/email"
)

// Persona is the opaque agent configuration handed to the triage and reply
// steps. The pipeline passes it through without interpreting it.
type Persona struct {
	AgentName   string
	Text        string
	Address     string
	Model       string
	TriageModel string
	MaxTokens   int

	// TriagePrompt and ReplyPrompt override the built-in text/template prompts.
	TriagePrompt string
	ReplyPrompt  string
}

const maxPromptBodyChars = 8000

const defaultTriagePrompt = `You screen incoming email for {{.AgentName}}. Decide whether the message below deserves a reply.

Answer "skip" for spam, bulk or promotional mail, newsletters, automated notifications, receipts, and any message that is itself an automatic reply.
Answer "skip" for promotional content when there is no prior conversation with the sender.
Answer "reply" for anything else a person wrote and would expect an answer to.

Respond with one JSON object and nothing else:
{"action": "reply" or "skip", "reason": "<one short sentence>"}

{{if .ThreadHistory}}Previous thread context:
{{.ThreadHistory}}
{{else}}There is no prior conversation with this sender.
{{end}}
FROM: {{.From}}
SUBJECT: {{.Subject}}
BODY:
{{.Body}}
`

const defaultReplyPrompt = `{{if .ThreadHistory}}Previous thread context:
{{.ThreadHistory}}

{{end}}You received this email:
FROM: {{.From}}
SUBJECT: {{.Subject}}
BODY:
{{.Body}}

Write a helpful, professional reply. Be concise. Do not use filler phrases like "I hope this email finds you well." Sign off as: {{.AgentName}}

Write only the email body, no subject line.
`

type promptData struct {
	AgentName     string
	From          string
	Subject       string
	Body          string
	ThreadHistory string
}

func parsePrompt(name, override, fallback string) (*template.Template, error) {
	text := fallback
	if strings.TrimSpace(override) != "" {
		text = override
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s prompt: %w", name, err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, persona Persona, msg MessageDescriptor) (string, error) {
	from := msg.From
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.From)
	}
	var sb strings.Builder
	err := tmpl.Execute(&sb, promptData{
		AgentName:     persona.AgentName,
		From:          from,
		Subject:       msg.Subject,
		Body:          email.Truncate(msg.Body, maxPromptBodyChars),
		ThreadHistory: msg.ThreadHistory,
	})
	if err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}
