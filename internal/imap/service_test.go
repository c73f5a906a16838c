package imap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"majordomo/internal/config"
	"majordomo/internal/email"
	"majordomo/internal/pipeline"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

type mockMessage struct {
	uid   uint32
	raw   []byte
	flags []string
}

type mockStore struct {
	folder string
	uid    uint32
	item   imap.StoreItem
	flags  []interface{}
}

type mockAppend struct {
	folder string
	flags  []string
	raw    []byte
}

var _ Client = (*imapclient.Client)(nil)

type mockClient struct {
	folders   map[string][]*mockMessage
	infos     []*imap.MailboxInfo
	current   string
	readOnly  bool
	loggedOut bool
	stores    []mockStore
	appends   []mockAppend
	searchErr error
	// headerSearchErr fails only Message-Id lookups.
	headerSearchErr error
}

func newMockClient() *mockClient {
	return &mockClient{folders: map[string][]*mockMessage{}}
}

func (m *mockClient) add(folder string, uid uint32, raw []byte, flags ...string) {
	m.folders[folder] = append(m.folders[folder], &mockMessage{uid: uid, raw: raw, flags: flags})
}

func (m *mockClient) Login(username, password string) error { return nil }
func (m *mockClient) Logout() error {
	m.loggedOut = true
	return nil
}
func (m *mockClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	if _, ok := m.folders[name]; !ok {
		return nil, fmt.Errorf("no such mailbox %s", name)
	}
	m.current = name
	m.readOnly = readOnly
	return &imap.MailboxStatus{Name: name}, nil
}
func (m *mockClient) Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error) {
	return &imap.MailboxStatus{Name: name, Messages: uint32(len(m.folders[name]))}, nil
}
func (m *mockClient) List(ref, name string, ch chan *imap.MailboxInfo) error {
	for _, info := range m.infos {
		ch <- info
	}
	close(ch)
	return nil
}
func (m *mockClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var uids []uint32
	for _, msg := range m.folders[m.current] {
		if len(criteria.WithoutFlags) > 0 && hasFlag(msg.flags, imap.SeenFlag) {
			continue
		}
		if id := criteria.Header.Get("Message-Id"); id != "" {
			if m.headerSearchErr != nil {
				return nil, m.headerSearchErr
			}
			parsed, err := email.Parse(msg.raw)
			if err != nil || parsed.MessageID != id {
				continue
			}
		}
		uids = append(uids, msg.uid)
	}
	return uids, nil
}
func (m *mockClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	for i, msg := range m.folders[m.current] {
		if !seqset.Contains(msg.uid) {
			continue
		}
		out := imap.NewMessage(uint32(i+1), items)
		out.Uid = msg.uid
		out.Envelope = &imap.Envelope{
			Subject: fmt.Sprintf("message %d", msg.uid),
			From:    []*imap.Address{{PersonalName: "Client", MailboxName: "client", HostName: "example.com"}},
		}
		out.InternalDate = time.Date(2026, 1, 1, 0, 0, int(msg.uid), 0, time.UTC)
		out.Body[&imap.BodySectionName{}] = bytes.NewReader(msg.raw)
		ch <- out
	}
	return nil
}
func (m *mockClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error {
	if ch != nil {
		defer close(ch)
	}
	flags, _ := value.([]interface{})
	for _, msg := range m.folders[m.current] {
		if seqset.Contains(msg.uid) {
			m.stores = append(m.stores, mockStore{folder: m.current, uid: msg.uid, item: item, flags: flags})
		}
	}
	return nil
}
func (m *mockClient) Append(mailbox string, flags []string, date time.Time, msg imap.Literal) error {
	data, err := io.ReadAll(msg)
	if err != nil {
		return err
	}
	m.appends = append(m.appends, mockAppend{folder: mailbox, flags: flags, raw: data})
	return nil
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func rawMessage(id, from, subject, date, inReplyTo, refs, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	b.WriteString("To: agent@example.com\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if date != "" {
		fmt.Fprintf(&b, "Date: %s\r\n", date)
	}
	fmt.Fprintf(&b, "Message-Id: <%s>\r\n", id)
	if inReplyTo != "" {
		fmt.Fprintf(&b, "In-Reply-To: <%s>\r\n", inReplyTo)
	}
	if refs != "" {
		fmt.Fprintf(&b, "References: %s\r\n", refs)
	}
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.IMAP.Host = "imap.example.com"
	return cfg
}

func testService(mock *mockClient) *Service {
	return &Service{Connector: func(cfg config.Config) (Client, error) {
		return mock, nil
	}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestListUnseenBuildsThreadHistory(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 1, rawMessage("root@example.com", "Client <client@example.com>", "Quote", "Mon, 02 Mar 2026 09:00:00 +0000", "", "", "Can you quote 40 units?"), imap.SeenFlag)
	mock.add("INBOX", 3, rawMessage("followup@example.com", "Client <client@example.com>", "Re: Quote", "Mon, 02 Mar 2026 11:00:00 +0000", "answer@example.com", "<root@example.com> <answer@example.com>", "Great, and shipping?"))
	mock.add("INBOX", 4, rawMessage("news@example.com", "news@example.com", "Deals", "", "", "", "Buy now"))
	mock.add("Sent", 9, rawMessage("answer@example.com", "Agent <agent@example.com>", "Re: Quote", "Mon, 02 Mar 2026 10:00:00 +0000", "root@example.com", "<root@example.com>", "40 units cost 400 EUR."), imap.SeenFlag)

	mb := NewMailbox(testService(mock), testConfig(), "Sent", quietLogger())
	msgs, err := mb.ListUnseen(context.Background())
	if err != nil {
		t.Fatalf("list unseen: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 unseen messages, got %d", len(msgs))
	}

	got := msgs[0]
	if got.UID != 3 || got.From != "client@example.com" || got.FromName != "Client" {
		t.Fatalf("unexpected descriptor %+v", got)
	}
	if got.MessageID != "followup@example.com" || got.InReplyTo != "answer@example.com" {
		t.Fatalf("unexpected ids %q %q", got.MessageID, got.InReplyTo)
	}
	if got.ThreadID() != "root@example.com" {
		t.Fatalf("unexpected thread %q", got.ThreadID())
	}

	want := "--- From: Client <client@example.com> | Date: Mon, 02 Mar 2026 09:00:00 +0000\nCan you quote 40 units?\n\n" +
		"--- From: Agent <agent@example.com> | Date: Mon, 02 Mar 2026 10:00:00 +0000\n40 units cost 400 EUR."
	if got.ThreadHistory != want {
		t.Fatalf("thread history:\n%s\nwant:\n%s", got.ThreadHistory, want)
	}

	if msgs[1].ThreadHistory != "" {
		t.Fatalf("message without references should have no history")
	}
	if !msgs[1].Date.IsZero() || msgs[1].Arrived.IsZero() {
		t.Fatalf("undated message keeps a zero Date and its arrival time: %+v", msgs[1])
	}
	if len(mock.stores) != 0 {
		t.Fatalf("listing must not flag messages: %+v", mock.stores)
	}
	if !mock.loggedOut {
		t.Fatalf("expected logout")
	}
}

func TestListUnseenOrdersByArrivalNotSenderDate(t *testing.T) {
	mock := newMockClient()
	// UID 1 arrives first but claims a later Date than UID 2.
	mock.add("INBOX", 1, rawMessage("first@example.com", "a@example.com", "First", "Mon, 02 Mar 2026 09:00:00 +0000", "", "", "one"))
	mock.add("INBOX", 2, rawMessage("second@example.com", "b@example.com", "Second", "Thu, 01 Jan 2026 09:00:00 +0000", "", "", "two"))

	mb := NewMailbox(testService(mock), testConfig(), "", quietLogger())
	msgs, err := pipeline.NewPoller(mb, 0).Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 2 || msgs[0].UID != 1 || msgs[1].UID != 2 {
		t.Fatalf("expected arrival order [1 2], got %+v", msgs)
	}
	if !msgs[0].Arrived.Before(msgs[1].Arrived) {
		t.Fatalf("arrival times not taken from the server: %v %v", msgs[0].Arrived, msgs[1].Arrived)
	}
}

func TestListUnseenKeepsMessageWhenHistoryFails(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 4, rawMessage("reply@example.com", "Client <client@example.com>", "Re: Quote", "", "root@example.com", "<root@example.com>", "And shipping?"))
	mock.headerSearchErr = errors.New("connection reset")

	mb := NewMailbox(testService(mock), testConfig(), "Sent", quietLogger())
	msgs, err := mb.ListUnseen(context.Background())
	if err != nil {
		t.Fatalf("history failure must not fail the listing: %v", err)
	}
	if len(msgs) != 1 || msgs[0].UID != 4 {
		t.Fatalf("expected message 4, got %+v", msgs)
	}
	if msgs[0].ThreadHistory != "" {
		t.Fatalf("expected empty history, got %q", msgs[0].ThreadHistory)
	}
	if msgs[0].ThreadID() != "root@example.com" {
		t.Fatalf("threading must survive a history failure, got %q", msgs[0].ThreadID())
	}
}

func TestListUnseenReportsUnparseableMessage(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 5, []byte("this line is not a header\r\n\r\nbody\r\n"))
	mock.add("INBOX", 6, rawMessage("ok@example.com", "client@example.com", "Hello", "", "", "", "hi"))

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	mb := NewMailbox(testService(mock), testConfig(), "", logger)
	msgs, err := mb.ListUnseen(context.Background())
	if err != nil {
		t.Fatalf("list unseen: %v", err)
	}
	if len(msgs) != 1 || msgs[0].UID != 6 {
		t.Fatalf("expected only message 6, got %+v", msgs)
	}
	out := logs.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "uid=5") || !strings.Contains(out, "every cycle") {
		t.Fatalf("unparseable message not reported: %s", out)
	}
	if len(mock.stores) != 0 {
		t.Fatalf("unparseable message must stay unseen")
	}
}

func TestHistoryFollowsAncestorReferences(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 1, rawMessage("a@example.com", "a@example.com", "A", "Mon, 02 Mar 2026 09:00:00 +0000", "", "", "first"), imap.SeenFlag)
	mock.add("INBOX", 2, rawMessage("b@example.com", "b@example.com", "B", "Mon, 02 Mar 2026 10:00:00 +0000", "a@example.com", "<a@example.com>", "second"), imap.SeenFlag)
	mock.add("INBOX", 3, rawMessage("c@example.com", "c@example.com", "C", "", "b@example.com", "", "third"))

	msg, err := email.Parse(mock.folders["INBOX"][2].raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	walker := newHistoryWalker(mock, []string{"INBOX", "Missing"}, HistoryOptions{MaxMessages: 10, MaxBodyChars: 3}, quietLogger())
	history, err := walker.History(msg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(history, "From: a@example.com") || !strings.Contains(history, "From: b@example.com") {
		t.Fatalf("ancestor missing from history: %q", history)
	}
	if strings.Index(history, "a@example.com") > strings.Index(history, "b@example.com") {
		t.Fatalf("history not oldest first: %q", history)
	}
	if strings.Contains(history, "second") {
		t.Fatalf("bodies must be truncated: %q", history)
	}

	limited := newHistoryWalker(mock, []string{"INBOX"}, HistoryOptions{MaxMessages: 1, MaxBodyChars: 100}, quietLogger())
	history, err = limited.History(msg)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if strings.Count(history, "--- From:") != 1 {
		t.Fatalf("expected one entry, got %q", history)
	}
}

func TestHistorySearchFailureIsReported(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 1, nil)
	mock.searchErr = errors.New("connection closed")

	walker := newHistoryWalker(mock, []string{"INBOX"}, HistoryOptions{}, quietLogger())
	if _, err := walker.History(&email.Parsed{MessageID: "x@example.com", InReplyTo: "y@example.com"}); err == nil {
		t.Fatalf("expected search failure")
	}
}

func TestRenderHistoryPutsUndatedLast(t *testing.T) {
	out := renderHistory([]historyEntry{
		{from: "undated", body: "u"},
		{from: "late", when: 200, body: "l"},
		{from: "early", when: 100, body: "e"},
	})
	order := []string{"early", "late", "undated"}
	last := -1
	for _, name := range order {
		idx := strings.Index(out, "From: "+name)
		if idx < last {
			t.Fatalf("unexpected order in %q", out)
		}
		last = idx
	}
}

func TestMarkSeenAddsSeenFlag(t *testing.T) {
	mock := newMockClient()
	mock.add("INBOX", 7, nil)

	mb := NewMailbox(testService(mock), testConfig(), "", quietLogger())
	if err := mb.MarkSeen(context.Background(), 7); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	if mock.readOnly {
		t.Fatalf("mailbox must be opened read-write to store flags")
	}
	if len(mock.stores) != 1 {
		t.Fatalf("expected one store, got %d", len(mock.stores))
	}
	st := mock.stores[0]
	if st.uid != 7 || st.item != imap.FormatFlagsOp(imap.AddFlags, true) || st.flags[0] != imap.SeenFlag {
		t.Fatalf("unexpected store %+v", st)
	}
}

func TestArchiveSentAppendsSeenCopy(t *testing.T) {
	mock := newMockClient()
	mb := NewMailbox(testService(mock), testConfig(), "Sent Items", quietLogger())
	if err := mb.ArchiveSent(context.Background(), []byte("raw reply")); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(mock.appends) != 1 {
		t.Fatalf("expected one append, got %d", len(mock.appends))
	}
	got := mock.appends[0]
	if got.folder != "Sent Items" || !hasFlag(got.flags, imap.SeenFlag) || string(got.raw) != "raw reply" {
		t.Fatalf("unexpected append %+v", got)
	}

	none := NewMailbox(testService(mock), testConfig(), "", quietLogger())
	if err := none.ArchiveSent(context.Background(), []byte("x")); err != nil {
		t.Fatalf("archive without sent folder: %v", err)
	}
	if len(mock.appends) != 1 {
		t.Fatalf("no append expected without a sent folder")
	}
}

func TestDetectSentMailbox(t *testing.T) {
	tests := []struct {
		name  string
		infos []*imap.MailboxInfo
		want  string
	}{
		{
			name: "special use",
			infos: []*imap.MailboxInfo{
				{Name: "INBOX"},
				{Name: "Sent"},
				{Name: "Gesendet", Attributes: []string{imap.SentAttr}},
			},
			want: "Gesendet",
		},
		{
			name:  "candidate name",
			infos: []*imap.MailboxInfo{{Name: "INBOX"}, {Name: "[Gmail]/Sent Mail"}},
			want:  "[Gmail]/Sent Mail",
		},
		{
			name:  "none",
			infos: []*imap.MailboxInfo{{Name: "INBOX"}, {Name: "Archive"}},
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMockClient()
			mock.infos = tt.infos
			got, err := testService(mock).DetectSentMailbox(testConfig())
			if err != nil {
				t.Fatalf("detect: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConnectFailureIsWrapped(t *testing.T) {
	refused := errors.New("connection refused")
	svc := &Service{Connector: func(cfg config.Config) (Client, error) {
		return nil, refused
	}}
	mb := NewMailbox(svc, testConfig(), "", quietLogger())
	if _, err := mb.ListUnseen(context.Background()); !errors.Is(err, refused) {
		t.Fatalf("expected wrapped connect error, got %v", err)
	}
}

func TestListPendingNewestFirst(t *testing.T) {
	mock := newMockClient()
	for uid := uint32(1); uid <= 3; uid++ {
		mock.add("INBOX", uid, nil)
	}
	mock.add("INBOX", 4, nil, imap.SeenFlag)

	msgs, err := testService(mock).ListPending(testConfig(), "INBOX", 2)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(msgs) != 2 || msgs[0].UID != 3 || msgs[1].UID != 2 {
		t.Fatalf("unexpected summaries %+v", msgs)
	}
	if msgs[0].From != "Client <client@example.com>" || msgs[0].Subject != "message 3" {
		t.Fatalf("unexpected summary %+v", msgs[0])
	}
	if !mock.readOnly {
		t.Fatalf("pending listing must not open the mailbox read-write")
	}
}
