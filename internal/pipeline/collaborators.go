package pipeline

import "context"

// Mailbox is the source of truth for which messages still need handling.
type Mailbox interface {
	ListUnseen(ctx context.Context) ([]MessageDescriptor, error)
	MarkSeen(ctx context.Context, uid uint32) error
}

// SentArchiver is implemented by mailboxes that keep a copy of outbound replies.
type SentArchiver interface {
	ArchiveSent(ctx context.Context, raw []byte) error
}

type Prompt struct {
	Model     string
	System    string
	User      string
	MaxTokens int
}

// Completer runs one stateless inference call.
type Completer interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// Ack is returned by a transport once the reply has been accepted for delivery.
type Ack struct {
	MessageID string
	Raw       []byte
}

type Transport interface {
	Send(ctx context.Context, reply DraftReply) (Ack, error)
}
