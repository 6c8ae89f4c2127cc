package outreach

import (
	"context"
	"html"
	"strings"
)

// Message is the provider-neutral envelope for one outreach email.
type Message struct {
	EmailID  string
	From     string
	FromName string
	To       string
	ReplyTo  string
	Subject  string
	Text     string
	HTML     string
}

// Provider dispatches a message and returns the provider-assigned id used
// to correlate later tracking notifications. Errors should be classified
// with the resilience package so the sender can tell transient from
// permanent failures.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg *Message) (string, error)
}

// textToHTML renders a plain-text body as simple paragraphs.
func textToHTML(text string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;font-size:14px;line-height:1.5">`)
	for _, para := range strings.Split(strings.TrimSpace(text), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, l := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(l))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>")
	}
	b.WriteString("</body></html>")
	return b.String()
}
