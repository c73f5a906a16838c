package smtp

import (
	"context"
	"fmt"
	"time"

	"majordomo/internal/config"
	"majordomo/internal/email"
	"majordomo/internal/pipeline"

	"github.com/google/uuid"
)

// Transport renders drafts into RFC 5322 replies and delivers them.
type Transport struct {
	cfg       config.Config
	agentName string

	send  func(ctx context.Context, cfg config.Config, from string, recipients []string, msg []byte) error
	now   func() time.Time
	newID func() string
}

func NewTransport(cfg config.Config, agentName string) *Transport {
	return &Transport{
		cfg:       cfg,
		agentName: agentName,
		send:      Send,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

func (t *Transport) Send(ctx context.Context, reply pipeline.DraftReply) (pipeline.Ack, error) {
	from := t.cfg.FromAddress()
	id := fmt.Sprintf("%s@%s", t.newID(), t.cfg.SMTP.Host)

	raw, err := email.BuildReply(email.ReplyInput{
		FromName:   t.agentName,
		From:       from,
		To:         reply.Recipient,
		Subject:    reply.Subject,
		Body:       reply.Body,
		MessageID:  id,
		InReplyTo:  reply.InReplyTo,
		References: reply.References,
		Date:       t.now(),
	})
	if err != nil {
		return pipeline.Ack{}, fmt.Errorf("build reply: %w", err)
	}

	if err := t.send(ctx, t.cfg, from, []string{reply.Recipient}, raw); err != nil {
		return pipeline.Ack{}, fmt.Errorf("smtp send to %s: %w", reply.Recipient, err)
	}
	return pipeline.Ack{MessageID: id, Raw: raw}, nil
}
