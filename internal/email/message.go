package email

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
)

// ReplyInput describes an outbound reply. Identifiers carry no angle brackets.
type ReplyInput struct {
	FromName   string
	From       string
	To         string
	Subject    string
	Body       string
	MessageID  string
	InReplyTo  string
	References []string
	Date       time.Time
}

// BuildReply renders a plain-text RFC 5322 reply. Every reply is marked
// Auto-Submitted: auto-replied so that other agents do not answer it.
func BuildReply(in ReplyInput) ([]byte, error) {
	if in.From == "" {
		return nil, fmt.Errorf("from address is required")
	}
	if in.To == "" {
		return nil, fmt.Errorf("recipient is required")
	}

	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Name: in.FromName, Address: in.From}})
	h.SetAddressList("To", []*mail.Address{{Address: in.To}})
	h.SetSubject(in.Subject)
	date := in.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	if in.MessageID != "" {
		h.SetMessageID(in.MessageID)
	}
	if in.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{in.InReplyTo})
	}
	if len(in.References) > 0 {
		h.SetMsgIDList("References", in.References)
	}
	h.Set("Auto-Submitted", "auto-replied")
	h.Set("MIME-Version", "1.0")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write([]byte(in.Body)); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
