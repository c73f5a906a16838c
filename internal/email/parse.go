package email

import (
	"bytes"
	"html"
	"io"
	"net/textproto"
	"regexp"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Parsed is the subset of a fetched message the agent works with.
// Identifiers carry no angle brackets.
type Parsed struct {
	From       string
	FromName   string
	Subject    string
	MessageID  string
	InReplyTo  string
	References []string
	Date       time.Time
	Body       string
	Header     textproto.MIMEHeader
}

// Parse reads a raw RFC 5322 message. Body is the first text/plain part, or
// the first text/html part with markup stripped when no plain part exists.
func Parse(raw []byte) (*Parsed, error) {
	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && r == nil {
		return nil, err
	}
	defer r.Close()

	h := r.Header
	p := &Parsed{
		Subject: decodedText(h, "Subject"),
		Header:  make(textproto.MIMEHeader),
	}

	fields := h.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		p.Header.Add(fields.Key(), value)
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		p.From = strings.ToLower(from[0].Address)
		p.FromName = from[0].Name
	} else {
		p.From = NormalizeAddress(h.Get("From"))
	}
	if id, err := h.MessageID(); err == nil {
		p.MessageID = id
	}
	if ids := ParseMsgIDs(h.Get("In-Reply-To")); len(ids) > 0 {
		p.InReplyTo = ids[len(ids)-1]
	}
	p.References = ParseMsgIDs(h.Get("References"))
	if date, err := h.Date(); err == nil {
		p.Date = date
	}

	var htmlBody string
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := inline.ContentType()
		switch {
		case strings.HasPrefix(contentType, "text/plain") && p.Body == "":
			p.Body = readAll(part.Body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = readAll(part.Body)
		}
	}

	if p.Body == "" && htmlBody != "" {
		p.Body = StripHTMLTags(htmlBody)
	}

	return p, nil
}

func decodedText(h mail.Header, key string) string {
	value, err := h.Text(key)
	if err != nil {
		return strings.TrimSpace(h.Get(key))
	}
	return strings.TrimSpace(value)
}

func readAll(r io.Reader) string {
	data, _ := io.ReadAll(r)
	return string(data)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

var (
	scriptPattern     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	stylePattern      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

func StripHTMLTags(s string) string {
	s = scriptPattern.ReplaceAllString(s, "")
	s = stylePattern.ReplaceAllString(s, "")
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = whitespacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
