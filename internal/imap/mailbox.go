package imap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"majordomo/internal/config"
	"majordomo/internal/email"
	"majordomo/internal/pipeline"

	"github.com/emersion/go-imap"
)

// Mailbox is the agent's view of one IMAP folder. It never flags a message
// while reading it; messages only become seen through MarkSeen.
type Mailbox struct {
	svc     *Service
	cfg     config.Config
	name    string
	sent    string
	history HistoryOptions
	logger  *slog.Logger
}

// NewMailbox binds svc to the configured inbox. sent is the folder replies
// are filed in and searched for thread history; it may be empty.
func NewMailbox(svc *Service, cfg config.Config, sent string, logger *slog.Logger) *Mailbox {
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.IMAP.Mailbox
	if name == "" {
		name = "INBOX"
	}
	return &Mailbox{
		svc:  svc,
		cfg:  cfg,
		name: name,
		sent: sent,
		history: HistoryOptions{
			MaxMessages:  cfg.Thread.MaxMessages,
			MaxBodyChars: cfg.Thread.MaxBodyChars,
		},
		logger: logger,
	}
}

func (m *Mailbox) ListUnseen(ctx context.Context) ([]pipeline.MessageDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []pipeline.MessageDescriptor
	err := m.svc.withClient(m.cfg, func(c Client) error {
		if _, err := c.Select(m.name, true); err != nil {
			return fmt.Errorf("select %s: %w", m.name, err)
		}
		uids, err := c.UidSearch(unseenCriteria())
		if err != nil {
			return fmt.Errorf("search unseen: %w", err)
		}
		if len(uids) == 0 {
			return nil
		}

		raws, err := fetchRaw(c, uids)
		if err != nil {
			return err
		}

		walker := newHistoryWalker(c, m.folders(), m.history, m.logger)
		walker.selected = m.name
		for _, f := range raws {
			parsed, err := email.Parse(f.raw)
			if err != nil {
				m.logger.Error("could not parse message; it stays unseen and is retried every cycle until removed by hand",
					"mailbox", m.name, "uid", f.uid, "err", err)
				continue
			}
			desc := descriptor(f, parsed)
			history, err := walker.History(parsed)
			if err != nil {
				m.logger.Warn("could not rebuild thread history", "uid", f.uid, "err", err)
			}
			desc.ThreadHistory = history
			out = append(out, desc)
		}
		return nil
	})
	return out, err
}

func (m *Mailbox) MarkSeen(_ context.Context, uid uint32) error {
	return m.svc.AddFlag(m.cfg, m.name, uid, imap.SeenFlag)
}

// ArchiveSent files a copy of a delivered reply, already flagged seen.
func (m *Mailbox) ArchiveSent(_ context.Context, raw []byte) error {
	if m.sent == "" {
		return nil
	}
	return m.svc.Append(m.cfg, m.sent, []string{imap.SeenFlag}, raw)
}

func (m *Mailbox) folders() []string {
	if m.sent == "" || m.sent == m.name {
		return []string{m.name}
	}
	return []string{m.name, m.sent}
}

func fetchRaw(c Client, uids []uint32) ([]fetched, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}
	ch := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, ch)
	}()

	var out []fetched
	for msg := range ch {
		if msg == nil {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			// drain so the fetch goroutine can finish
			for range ch {
			}
			<-done
			return nil, fmt.Errorf("read message %d: %w", msg.Uid, err)
		}
		out = append(out, fetched{uid: msg.Uid, internalDate: msg.InternalDate, raw: data})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch unseen: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out, nil
}

func descriptor(f fetched, p *email.Parsed) pipeline.MessageDescriptor {
	return pipeline.MessageDescriptor{
		UID:        f.uid,
		MessageID:  p.MessageID,
		From:       p.From,
		FromName:   p.FromName,
		Subject:    p.Subject,
		Body:       p.Body,
		InReplyTo:  p.InReplyTo,
		References: p.References,
		Arrived:    f.internalDate,
		Date:       p.Date,
		Header:     p.Header,
	}
}
