package email

import (
	"net/mail"
	"regexp"
	"strings"
)

// ReplySubject prefixes "Re: " unless the subject already carries it.
func ReplySubject(original string) string {
	trimmed := strings.TrimSpace(original)
	if trimmed == "" {
		return "Re: (no subject)"
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "re:") {
		return trimmed
	}
	return "Re: " + trimmed
}

var msgIDPattern = regexp.MustCompile(`<([^<>\s]+)>`)

// ParseMsgIDs extracts message identifiers from a References or In-Reply-To
// value, without angle brackets, deduplicated in order of appearance.
func ParseMsgIDs(value string) []string {
	matches := msgIDPattern.FindAllStringSubmatch(value, -1)
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m[1])
	}
	return dedupe(ids)
}

// ReplyReferences is the References list for a reply to a message with the
// given references and Message-ID: the existing chain plus the parent.
func ReplyReferences(references []string, messageID string) []string {
	refs := append([]string(nil), references...)
	messageID = strings.Trim(strings.TrimSpace(messageID), "<>")
	if messageID != "" {
		refs = append(refs, messageID)
	}
	return dedupe(refs)
}

// ThreadRoot is the identifier of the conversation a message belongs to: the
// first entry of its reference chain, or its own Message-ID when it starts one.
func ThreadRoot(references []string, inReplyTo, messageID string) string {
	if len(references) > 0 {
		return references[0]
	}
	if inReplyTo != "" {
		return inReplyTo
	}
	return messageID
}

// NormalizeAddress returns the lower-cased bare address of a header value
// such as `"Jane" <Jane@Example.com>`.
func NormalizeAddress(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(value); err == nil {
		return strings.ToLower(addr.Address)
	}
	if start := strings.LastIndex(value, "<"); start != -1 {
		if end := strings.LastIndex(value, ">"); end > start {
			return strings.ToLower(strings.TrimSpace(value[start+1 : end]))
		}
	}
	if strings.Contains(value, "@") {
		return strings.ToLower(value)
	}
	return ""
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
