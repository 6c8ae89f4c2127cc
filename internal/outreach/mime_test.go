package outreach

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMIME(t *testing.T) {
	msg := &Message{
		EmailID:  "e-1",
		From:     "sam@agency.example",
		FromName: "Sam Sender",
		To:       "jane@acme.example",
		ReplyTo:  "replies@agency.example",
		Subject:  "Réponses plus rapides",
		Text:     "Hello Jane,\n\nLine two.",
	}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	raw, err := BuildMIME(msg, now)
	require.NoError(t, err)

	m, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, `"Sam Sender" <sam@agency.example>`, m.Header.Get("From"))
	assert.Equal(t, "jane@acme.example", m.Header.Get("To"))
	assert.Equal(t, "replies@agency.example", m.Header.Get("Reply-To"))
	assert.Equal(t, "e-1", m.Header.Get(HeaderEmailID))
	assert.Equal(t, "<e-1@agency.example>", m.Header.Get("Message-ID"))
	assert.True(t, strings.HasPrefix(m.Header.Get("Subject"), "=?UTF-8?b?"))

	subject, err := new(mime.WordDecoder).DecodeHeader(m.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Réponses plus rapides", subject)

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(m.Body, params["boundary"])
	var types []string
	var bodies []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, part.Header.Get("Content-Type"))
		b, err := io.ReadAll(part)
		require.NoError(t, err)
		bodies = append(bodies, string(b))
	}
	assert.Equal(t, []string{"text/plain; charset=UTF-8", "text/html; charset=UTF-8"}, types)
	assert.Contains(t, bodies[0], "Hello Jane,")
	assert.Contains(t, bodies[1], "<p>Hello Jane,</p><p>Line two.</p>")
}

func TestBuildMIME_Invalid(t *testing.T) {
	_, err := BuildMIME(&Message{From: "a@b.example"}, time.Now())
	require.Error(t, err)

	_, err = BuildMIME(&Message{From: "a@b.example", To: "not an address"}, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid recipient")
}

func TestMessageIDRoundTrip(t *testing.T) {
	id := MessageIDFor("7b1c", "sam@agency.example")
	assert.Equal(t, "<7b1c@agency.example>", id)
	assert.Equal(t, "7b1c", EmailIDFromMessageID(id))
	assert.Equal(t, "<7b1c@outreach.local>", MessageIDFor("7b1c", "nodomain"))
	assert.Empty(t, EmailIDFromMessageID("garbage"))
	assert.Empty(t, EmailIDFromMessageID("<@x>"))
}

func TestTextToHTML_Escapes(t *testing.T) {
	out := textToHTML("a < b\nline\n\n\nnext")
	assert.Contains(t, out, "<p>a &lt; b<br>line</p><p>next</p>")
}
