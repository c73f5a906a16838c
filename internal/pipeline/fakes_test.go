package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/textproto"
	"strings"
	"sync"
	"time"
)

// recorder keeps the global order of collaborator calls.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(prefix string) int {
	n := 0
	for _, e := range r.list() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

type fakeMailbox struct {
	rec      *recorder
	messages []MessageDescriptor
	seen     map[uint32]bool
	listErr  error
	markErr  map[uint32]error
	archived [][]byte
}

func newFakeMailbox(rec *recorder, msgs ...MessageDescriptor) *fakeMailbox {
	return &fakeMailbox{rec: rec, messages: msgs, seen: map[uint32]bool{}, markErr: map[uint32]error{}}
}

func (m *fakeMailbox) ListUnseen(_ context.Context) ([]MessageDescriptor, error) {
	m.rec.add("list")
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []MessageDescriptor
	for _, msg := range m.messages {
		if !m.seen[msg.UID] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *fakeMailbox) MarkSeen(_ context.Context, uid uint32) error {
	m.rec.add("mark:%d", uid)
	if err := m.markErr[uid]; err != nil {
		return err
	}
	m.seen[uid] = true
	return nil
}

func (m *fakeMailbox) ArchiveSent(_ context.Context, raw []byte) error {
	m.rec.add("archive")
	m.archived = append(m.archived, raw)
	return nil
}

type fakeTransport struct {
	rec  *recorder
	sent []DraftReply
	err  error
}

func (t *fakeTransport) Send(_ context.Context, reply DraftReply) (Ack, error) {
	t.rec.add("send:%d", reply.MessageUID)
	if t.err != nil {
		return Ack{}, t.err
	}
	t.sent = append(t.sent, reply)
	return Ack{MessageID: fmt.Sprintf("reply-%d@test", reply.MessageUID), Raw: []byte(reply.Body)}, nil
}

// fakeCompleter answers triage prompts and reply prompts separately.
type fakeCompleter struct {
	rec    *recorder
	triage func(p Prompt) (string, error)
	reply  func(p Prompt) (string, error)
}

func isTriagePrompt(p Prompt) bool {
	return strings.Contains(p.User, `{"action"`)
}

func (c *fakeCompleter) Complete(_ context.Context, p Prompt) (string, error) {
	if isTriagePrompt(p) {
		c.rec.add("triage")
		if c.triage == nil {
			return `{"action":"reply","reason":"needs an answer"}`, nil
		}
		return c.triage(p)
	}
	c.rec.add("compose")
	if c.reply == nil {
		return "Thanks for your note.\n\nMajordomo", nil
	}
	return c.reply(p)
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func message(uid uint32, from, subject string, headers ...string) MessageDescriptor {
	h := make(textproto.MIMEHeader)
	for i := 0; i+1 < len(headers); i += 2 {
		h.Set(headers[i], headers[i+1])
	}
	return MessageDescriptor{
		UID:       uid,
		MessageID: fmt.Sprintf("msg-%d@example.com", uid),
		From:      from,
		Subject:   subject,
		Body:      "Hello, could you help me with " + subject + "?",
		Arrived:   baseTime.Add(time.Duration(uid) * time.Minute),
		Date:      baseTime.Add(time.Duration(uid) * time.Minute),
		Header:    h,
	}
}

var testPersona = Persona{
	AgentName: "Majordomo",
	Text:      "You are Majordomo, a courteous assistant.",
	Address:   "agent@example.com",
	Model:     "test-model",
	MaxTokens: 512,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	rec       *recorder
	mailbox   *fakeMailbox
	transport *fakeTransport
	completer *fakeCompleter
	agent     *Agent
}

func newHarness(opts Options, msgs ...MessageDescriptor) *harness {
	rec := &recorder{}
	h := &harness{
		rec:       rec,
		mailbox:   newFakeMailbox(rec, msgs...),
		transport: &fakeTransport{rec: rec},
		completer: &fakeCompleter{rec: rec},
	}
	if opts.Interval == 0 {
		opts.Interval = time.Minute
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 16 * time.Minute
	}
	opts.Logger = discardLogger()

	agent, err := New(h.mailbox, h.completer, h.transport, testPersona, opts)
	if err != nil {
		panic(err)
	}
	n := 0
	agent.cycleID = func() string {
		n++
		return fmt.Sprintf("cycle-%d", n)
	}
	h.agent = agent
	return h
}
