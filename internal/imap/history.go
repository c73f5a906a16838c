package imap

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"majordomo/internal/email"

	"github.com/emersion/go-imap"
)

type HistoryOptions struct {
	MaxMessages  int
	MaxBodyChars int
}

type historyEntry struct {
	from string
	date string
	when int64 // unix seconds, zero when undated
	body string
}

// historyWalker rebuilds the earlier part of a conversation by following
// References and In-Reply-To breadth first across the searched folders.
type historyWalker struct {
	client   Client
	folders  []string
	opts     HistoryOptions
	logger   *slog.Logger
	selected string
}

func newHistoryWalker(c Client, folders []string, opts HistoryOptions, logger *slog.Logger) *historyWalker {
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}
	if opts.MaxBodyChars <= 0 {
		opts.MaxBodyChars = 800
	}
	return &historyWalker{client: c, folders: folders, opts: opts, logger: logger}
}

// History renders the ancestors of msg oldest first, undated ones last.
// A missing ancestor is not an error; a failing session is.
func (w *historyWalker) History(msg *email.Parsed) (string, error) {
	queue := append([]string{}, msg.References...)
	if msg.InReplyTo != "" {
		queue = append(queue, msg.InReplyTo)
	}
	if len(queue) == 0 {
		return "", nil
	}

	queued := map[string]bool{}
	pending := queue[:0]
	for _, id := range queue {
		if id == "" || queued[id] || id == msg.MessageID {
			continue
		}
		queued[id] = true
		pending = append(pending, id)
	}

	var entries []historyEntry
	for len(pending) > 0 && len(entries) < w.opts.MaxMessages {
		id := pending[0]
		pending = pending[1:]

		prev, err := w.find(id)
		if err != nil {
			return "", err
		}
		if prev == nil {
			w.logger.Debug("thread ancestor not found", "message_id", id)
			continue
		}
		entries = append(entries, w.entry(prev))

		next := append([]string{}, prev.References...)
		if prev.InReplyTo != "" {
			next = append(next, prev.InReplyTo)
		}
		for _, ref := range next {
			if ref == "" || queued[ref] || ref == msg.MessageID {
				continue
			}
			queued[ref] = true
			pending = append(pending, ref)
		}
	}

	return renderHistory(entries), nil
}

func (w *historyWalker) entry(p *email.Parsed) historyEntry {
	from := p.From
	if p.FromName != "" {
		from = fmt.Sprintf("%s <%s>", p.FromName, p.From)
	}
	e := historyEntry{
		from: from,
		date: p.Header.Get("Date"),
		body: email.Truncate(strings.TrimSpace(p.Body), w.opts.MaxBodyChars),
	}
	if !p.Date.IsZero() {
		e.when = p.Date.Unix()
	}
	return e
}

// find looks id up in each folder and returns the latest match.
func (w *historyWalker) find(id string) (*email.Parsed, error) {
	for _, folder := range w.folders {
		if w.selected != folder {
			if _, err := w.client.Select(folder, true); err != nil {
				w.logger.Debug("could not open folder for thread history", "folder", folder, "err", err)
				continue
			}
			w.selected = folder
		}

		criteria := imap.NewSearchCriteria()
		criteria.Header.Add("Message-Id", id)
		uids, err := w.client.UidSearch(criteria)
		if err != nil {
			return nil, fmt.Errorf("search %s for %s: %w", folder, id, err)
		}
		if len(uids) == 0 {
			continue
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

		raws, err := fetchRaw(w.client, uids[len(uids)-1:])
		if err != nil {
			return nil, err
		}
		if len(raws) == 0 {
			continue
		}
		parsed, err := email.Parse(raws[0].raw)
		if err != nil {
			w.logger.Debug("could not parse thread ancestor", "message_id", id, "err", err)
			continue
		}
		return parsed, nil
	}
	return nil, nil
}

func renderHistory(entries []historyEntry) string {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if (a.when == 0) != (b.when == 0) {
			return a.when != 0
		}
		return a.when < b.when
	})
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("--- From: %s | Date: %s\n%s", e.from, e.date, e.body))
	}
	return strings.Join(parts, "\n\n")
}
