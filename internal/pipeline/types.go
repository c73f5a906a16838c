package pipeline

import (
	"net/textproto"
	"time"

	"majordomo/internal/email"
)

// MessageDescriptor is a snapshot of one unseen message taken by the poller.
// It is never mutated and is discarded at the end of the cycle; the mailbox's
// seen flags are the only durable state. Identifiers carry no angle brackets.
type MessageDescriptor struct {
	UID        uint32
	MessageID  string
	From       string
	FromName   string
	Subject    string
	Body       string
	InReplyTo  string
	References []string
	// Arrived is when the server received the message (IMAP INTERNALDATE).
	// Messages are processed in this order; Date is only what the sender claims.
	Arrived time.Time
	Date    time.Time
	Header  textproto.MIMEHeader

	// ThreadHistory is the rendered text of earlier messages in the same
	// conversation, oldest first. Empty when the message starts a thread.
	ThreadHistory string
}

// ThreadID identifies the conversation the message belongs to.
func (m MessageDescriptor) ThreadID() string {
	return email.ThreadRoot(m.References, m.InReplyTo, m.MessageID)
}

type Action string

const (
	ActionReply Action = "reply"
	ActionSkip  Action = "skip"
)

type TriageDecision struct {
	MessageUID uint32
	Action     Action
	Reason     string

	// Err is the inference failure that forced a skip, if any.
	Err error
}

// DraftReply is consumed exactly once by the dispatcher. Recipient and the
// threading fields are bound from the source message, never from model output.
type DraftReply struct {
	MessageUID uint32
	ThreadID   string
	Recipient  string
	Subject    string
	Body       string
	InReplyTo  string
	References []string
}

// ProcessingOutcome is the terminal record for one message in one cycle.
type ProcessingOutcome struct {
	MessageUID uint32
	MessageID  string
	Action     Action
	Sent       bool
	MarkedSeen bool
	Reason     string
	Err        error

	// DryRun outcomes were decided but neither sent nor marked.
	DryRun bool
}

type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
	StatusPreview Status = "preview"
)

func (o ProcessingOutcome) Status() Status {
	switch {
	case o.DryRun:
		return StatusPreview
	case o.Sent:
		return StatusSent
	case o.MarkedSeen:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// DuplicateRisk is true when a reply went out but the source message could
// not be flagged, so the next cycle may answer it again.
func (o ProcessingOutcome) DuplicateRisk() bool {
	return o.Sent && !o.MarkedSeen
}
