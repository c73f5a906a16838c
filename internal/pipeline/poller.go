package pipeline

import (
	"context"
	"sort"
)

// Poller asks the mailbox for unseen messages. It keeps no local record of
// what it has seen; a message reappears until it is marked seen.
type Poller struct {
	mailbox Mailbox
	limit   int
}

// NewPoller returns a poller that hands out at most limit messages per
// cycle, oldest first. A limit of zero means no limit.
func NewPoller(mailbox Mailbox, limit int) *Poller {
	return &Poller{mailbox: mailbox, limit: limit}
}

// Poll returns this cycle's messages ordered by arrival. A mailbox failure is
// returned as a TransportError and never reported as an empty mailbox.
func (p *Poller) Poll(ctx context.Context) ([]MessageDescriptor, error) {
	found, err := p.mailbox.ListUnseen(ctx)
	if err != nil {
		return nil, transportError("list", err)
	}

	msgs := make([]MessageDescriptor, len(found))
	copy(msgs, found)
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].Arrived.Equal(msgs[j].Arrived) {
			return msgs[i].Arrived.Before(msgs[j].Arrived)
		}
		return msgs[i].UID < msgs[j].UID
	})

	if p.limit > 0 && len(msgs) > p.limit {
		msgs = msgs[:p.limit]
	}
	return msgs, nil
}
