package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"majordomo/internal/email"
	"majordomo/internal/imap"
)

const maxSubjectWidth = 60

// printMessages renders pending mail oldest first, the order the agent will
// work through it.
func printMessages(out io.Writer, messages []imap.MessageSummary) {
	now := time.Now()
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tWAITING\tFROM\tSUBJECT")
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", msg.UID, waiting(now, msg.Date), msg.From, email.Truncate(msg.Subject, maxSubjectWidth))
	}
	_ = tw.Flush()
}

func waiting(now, received time.Time) string {
	if received.IsZero() {
		return "-"
	}
	d := now.Sub(received)
	switch {
	case d < time.Minute:
		return "<1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
