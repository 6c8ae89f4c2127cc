package outreach

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// HeaderEmailID carries the outreach email id on every sent message.
const HeaderEmailID = "X-Outreach-Email-Id"

// MessageIDFor returns the RFC 5322 Message-ID used for an outreach email.
// Replies quote it in In-Reply-To, which lets tracking resolve the email.
func MessageIDFor(emailID, from string) string {
	domain := "outreach.local"
	if at := strings.LastIndexByte(from, '@'); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", emailID, domain)
}

// EmailIDFromMessageID extracts the outreach email id from a Message-ID
// produced by MessageIDFor. It returns "" for anything else.
func EmailIDFromMessageID(messageID string) string {
	s := strings.TrimSpace(messageID)
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	at := strings.IndexByte(s, '@')
	if at <= 0 {
		return ""
	}
	return s[:at]
}

// BuildMIME renders msg as a multipart/alternative RFC 5322 message with a
// text and an HTML part.
func BuildMIME(msg *Message, now time.Time) ([]byte, error) {
	if msg.To == "" || msg.From == "" {
		return nil, eris.New("mime: from and to are required")
	}
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return nil, eris.Wrapf(err, "mime: invalid recipient %q", msg.To)
	}

	htmlBody := msg.HTML
	if htmlBody == "" {
		htmlBody = textToHTML(msg.Text)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	from := mail.Address{Name: msg.FromName, Address: msg.From}
	headers := []string{
		"From: " + from.String(),
		"To: " + msg.To,
	}
	if msg.ReplyTo != "" {
		headers = append(headers, "Reply-To: "+msg.ReplyTo)
	}
	headers = append(headers,
		"Subject: "+mime.BEncoding.Encode("UTF-8", msg.Subject),
		"Date: "+now.UTC().Format(time.RFC1123Z),
		"Message-ID: "+MessageIDFor(msg.EmailID, msg.From),
		HeaderEmailID+": "+msg.EmailID,
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", mw.Boundary()),
	)

	var out bytes.Buffer
	out.WriteString(strings.Join(headers, "\r\n"))
	out.WriteString("\r\n\r\n")

	if err := writePart(mw, "text/plain; charset=UTF-8", msg.Text); err != nil {
		return nil, err
	}
	if err := writePart(mw, "text/html; charset=UTF-8", htmlBody); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "mime: close multipart")
	}

	out.Write(buf.Bytes())
	return out.Bytes(), nil
}

func writePart(mw *multipart.Writer, contentType, body string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType)
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	pw, err := mw.CreatePart(h)
	if err != nil {
		return eris.Wrap(err, "mime: create part")
	}
	qp := quotedprintable.NewWriter(pw)
	if _, err := qp.Write([]byte(body)); err != nil {
		return eris.Wrap(err, "mime: write part")
	}
	return eris.Wrap(qp.Close(), "mime: flush part")
}
