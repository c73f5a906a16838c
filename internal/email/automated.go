package email

import (
	"net/textproto"
	"strings"
)

var autoReplyPrecedence = map[string]bool{
	"bulk":       true,
	"list":       true,
	"junk":       true,
	"auto_reply": true,
}

// Presence alone marks a message as machine generated.
var autoReplyHeaders = []string{
	"X-Auto-Response-Suppress",
	"X-Autoreply",
	"X-Autorespond",
}

var mailingListHeaders = []string{
	"List-Id",
	"List-Unsubscribe",
	"List-Post",
}

var automatedLocalParts = []string{
	"noreply",
	"no-reply",
	"no_reply",
	"donotreply",
	"do-not-reply",
	"do_not_reply",
	"mailer-daemon",
	"postmaster",
	"bounce",
	"bounces",
	"notifications",
}

// AutomatedReason reports whether a message must never be answered by an
// agent: it was generated by a machine, came from a list or bulk sender, is
// flagged as spam, or was sent from the agent's own address. The returned
// reason is suitable for logging.
func AutomatedReason(h textproto.MIMEHeader, from, self string) (string, bool) {
	if v := strings.ToLower(strings.TrimSpace(h.Get("Auto-Submitted"))); v != "" && v != "no" {
		return "auto-submitted: " + v, true
	}
	if v := strings.ToLower(strings.TrimSpace(h.Get("Precedence"))); autoReplyPrecedence[v] {
		return "precedence: " + v, true
	}
	for _, key := range autoReplyHeaders {
		if _, ok := h[textproto.CanonicalMIMEHeaderKey(key)]; ok {
			return "auto-reply header: " + key, true
		}
	}
	for _, key := range mailingListHeaders {
		if _, ok := h[textproto.CanonicalMIMEHeaderKey(key)]; ok {
			return "mailing list header: " + key, true
		}
	}
	if strings.EqualFold(strings.TrimSpace(h.Get("X-Spam-Flag")), "yes") {
		return "flagged as spam", true
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(h.Get("Content-Type"))), "multipart/report") {
		return "delivery report", true
	}

	addr := NormalizeAddress(from)
	if addr == "" {
		return "no sender address", true
	}
	if self != "" && addr == NormalizeAddress(self) {
		return "sent by this mailbox", true
	}
	if isAutomatedSender(addr) {
		return "automated sender: " + addr, true
	}
	return "", false
}

func isAutomatedSender(addr string) bool {
	local, _, ok := strings.Cut(addr, "@")
	if !ok {
		return false
	}
	local, _, _ = strings.Cut(local, "+")
	for _, candidate := range automatedLocalParts {
		if local == candidate || strings.HasPrefix(local, candidate) {
			return true
		}
	}
	return false
}
