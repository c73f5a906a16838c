package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var (
	errMissingDraft    = errors.New("reply decision without a draft")
	errMismatchedDraft = errors.New("draft belongs to a different message")
)

// Dispatcher commits a decision. A reply is sent before its message is
// marked seen, so a crash in between can only cause a duplicate, never a
// silent drop. A skip only marks the message seen.
type Dispatcher struct {
	mailbox   Mailbox
	transport Transport
	dryRun    bool
	logger    *slog.Logger
}

func NewDispatcher(mailbox Mailbox, transport Transport, dryRun bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{mailbox: mailbox, transport: transport, dryRun: dryRun, logger: logger}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg MessageDescriptor, decision TriageDecision, draft *DraftReply) ProcessingOutcome {
	out := ProcessingOutcome{
		MessageUID: msg.UID,
		MessageID:  msg.MessageID,
		Action:     decision.Action,
		Reason:     decision.Reason,
		Err:        decision.Err,
		DryRun:     d.dryRun,
	}

	if decision.Action == ActionReply {
		return d.reply(ctx, msg, draft, out)
	}

	if d.dryRun {
		return out
	}
	if err := d.mailbox.MarkSeen(ctx, msg.UID); err != nil {
		out.Err = errors.Join(out.Err, transportError("mark", err))
		return out
	}
	out.MarkedSeen = true
	return out
}

func (d *Dispatcher) reply(ctx context.Context, msg MessageDescriptor, draft *DraftReply, out ProcessingOutcome) ProcessingOutcome {
	switch {
	case draft == nil:
		out.Err = errMissingDraft
		return out
	case draft.MessageUID != msg.UID:
		out.Err = fmt.Errorf("%w: draft %d, message %d", errMismatchedDraft, draft.MessageUID, msg.UID)
		return out
	}

	if d.dryRun {
		d.logger.Info("dry run: reply not sent",
			"uid", msg.UID, "to", draft.Recipient, "subject", draft.Subject, "body", draft.Body)
		return out
	}

	ack, err := d.transport.Send(ctx, *draft)
	if err != nil {
		out.Err = transportError("send", err)
		return out
	}
	out.Sent = true

	if err := d.mailbox.MarkSeen(ctx, msg.UID); err != nil {
		out.Err = transportError("mark", err)
		return out
	}
	out.MarkedSeen = true

	if archiver, ok := d.mailbox.(SentArchiver); ok && len(ack.Raw) > 0 {
		if err := archiver.ArchiveSent(ctx, ack.Raw); err != nil {
			d.logger.Warn("could not copy reply to sent folder", "uid", msg.UID, "reply_id", ack.MessageID, "err", err)
		}
	}
	return out
}
