package imap

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"majordomo/internal/config"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
)

const (
	dialTimeout    = 30 * time.Second
	commandTimeout = 2 * time.Minute
)

// sentCandidates are probed in order when the server does not flag a
// mailbox with the \Sent special-use attribute.
var sentCandidates = []string{
	"Sent",
	"Sent Items",
	"Sent Messages",
	"[Gmail]/Sent Mail",
	"INBOX.Sent",
	"SENT",
}

type Client interface {
	Login(username, password string) error
	Logout() error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	List(ref, name string, ch chan *imap.MailboxInfo) error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error
	Append(mailbox string, flags []string, date time.Time, msg imap.Literal) error
}

// Service opens one authenticated session per call.
type Service struct {
	Connector func(cfg config.Config) (Client, error)
}

func NewService() *Service {
	return &Service{Connector: Connect}
}

func Connect(cfg config.Config) (Client, error) {
	addr := net.JoinHostPort(cfg.IMAP.Host, fmt.Sprint(cfg.IMAP.Port))
	dialer := &net.Dialer{Timeout: dialTimeout}
	tlsConfig := &tls.Config{
		ServerName:         cfg.IMAP.Host,
		InsecureSkipVerify: cfg.IMAP.InsecureSkipVerify,
	}

	var c *imapclient.Client
	var err error
	if cfg.IMAP.TLS {
		c, err = imapclient.DialWithDialerTLS(dialer, addr, tlsConfig)
	} else {
		c, err = imapclient.DialWithDialer(dialer, addr)
		if err == nil && cfg.IMAP.StartTLS {
			if err := c.StartTLS(tlsConfig); err != nil {
				_ = c.Logout()
				return nil, err
			}
		}
	}
	if err != nil {
		return nil, err
	}
	c.Timeout = commandTimeout

	if err := c.Login(cfg.Auth.Username, cfg.Auth.Password); err != nil {
		_ = c.Logout()
		return nil, err
	}

	return c, nil
}

func (s *Service) withClient(cfg config.Config, fn func(Client) error) error {
	connector := s.Connector
	if connector == nil {
		connector = Connect
	}
	client, err := connector(cfg)
	if err != nil {
		return fmt.Errorf("imap connect %s: %w", cfg.IMAP.Host, err)
	}
	defer func() {
		_ = client.Logout()
	}()
	return fn(client)
}

func (s *Service) Status(cfg config.Config, mailbox string) (*imap.MailboxStatus, error) {
	var status *imap.MailboxStatus
	err := s.withClient(cfg, func(c Client) error {
		mb, err := c.Status(mailbox, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
		if err != nil {
			return err
		}
		status = mb
		return nil
	})
	return status, err
}

// DetectSentMailbox finds the folder sent mail is filed in. It prefers the
// \Sent special-use attribute and falls back to well-known names. An empty
// result with a nil error means the server has no sent folder.
func (s *Service) DetectSentMailbox(cfg config.Config) (string, error) {
	var found string
	err := s.withClient(cfg, func(c Client) error {
		infos, err := listMailboxes(c)
		if err != nil {
			return err
		}
		names := make(map[string]bool, len(infos))
		for _, info := range infos {
			names[info.Name] = true
			for _, attr := range info.Attributes {
				if strings.EqualFold(attr, imap.SentAttr) && found == "" {
					found = info.Name
				}
			}
		}
		if found != "" {
			return nil
		}
		for _, candidate := range sentCandidates {
			if names[candidate] {
				found = candidate
				return nil
			}
		}
		return nil
	})
	return found, err
}

func listMailboxes(c Client) ([]*imap.MailboxInfo, error) {
	infos := []*imap.MailboxInfo{}
	ch := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", ch)
	}()
	for mbox := range ch {
		infos = append(infos, mbox)
	}
	return infos, <-done
}

// ListPending returns envelope summaries of unseen messages, newest first.
func (s *Service) ListPending(cfg config.Config, mailbox string, limit int) ([]MessageSummary, error) {
	var messages []MessageSummary
	err := s.withClient(cfg, func(c Client) error {
		if _, err := c.Select(mailbox, true); err != nil {
			return err
		}

		uids, err := c.UidSearch(unseenCriteria())
		if err != nil {
			return err
		}
		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		if limit > 0 && len(uids) > limit {
			uids = uids[len(uids)-limit:]
		}
		if len(uids) == 0 {
			return nil
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uids...)

		items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchFlags, imap.FetchUid, imap.FetchRFC822Size}
		ch := make(chan *imap.Message, len(uids))
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(seqset, items, ch)
		}()
		for msg := range ch {
			if msg == nil || msg.Envelope == nil {
				continue
			}
			messages = append(messages, MessageSummary{
				UID:     msg.Uid,
				Subject: msg.Envelope.Subject,
				From:    formatIMAPAddresses(msg.Envelope.From),
				Date:    msg.Envelope.Date,
				Size:    msg.Size,
				Flags:   msg.Flags,
			})
		}
		return <-done
	})

	sort.Slice(messages, func(i, j int) bool { return messages[i].UID > messages[j].UID })

	return messages, err
}

func (s *Service) AddFlag(cfg config.Config, mailbox string, uid uint32, flag string) error {
	return s.withClient(cfg, func(c Client) error {
		if _, err := c.Select(mailbox, false); err != nil {
			return err
		}
		seqset := new(imap.SeqSet)
		seqset.AddNum(uid)
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		return c.UidStore(seqset, item, []interface{}{flag}, nil)
	})
}

func (s *Service) Append(cfg config.Config, mailbox string, flags []string, raw []byte) error {
	return s.withClient(cfg, func(c Client) error {
		return c.Append(mailbox, flags, time.Now(), bytes.NewReader(raw))
	})
}

func unseenCriteria() *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	return criteria
}

func formatIMAPAddresses(addrs []*imap.Address) string {
	if len(addrs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		if addr == nil {
			continue
		}
		full := addr.Address()
		if addr.PersonalName != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", addr.PersonalName, full))
		} else {
			parts = append(parts, full)
		}
	}
	return strings.Join(parts, ", ")
}
