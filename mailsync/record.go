package mailsync

import (
	"bytes"
	"net/mail"
	"regexp"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jhillyerd/enmime"
	imap "github.com/ngksmail/go-imapsync"
	"github.com/ngksmail/go-imapsync/mimeparse"
	"github.com/ngksmail/go-imapsync/store"
)

var headerPatterns = map[string]*regexp.Regexp{}

func init() {
	for _, name := range []string{"From", "Subject", "Date", "Message-ID"} {
		headerPatterns[name] = regexp.MustCompile(`(?im)^` + regexp.QuoteMeta(name) + `\s*:\s*(.+)$`)
	}
}

// rawHeader finds the first occurrence of a header in the raw message.
func rawHeader(raw []byte, name string) string {
	re, ok := headerPatterns[name]
	if !ok {
		return ""
	}
	m := re.FindSubmatch(raw)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(string(m[1]))
}

func headerOr(parsed string, raw []byte, name string) string {
	if v := strings.TrimSpace(parsed); v != "" {
		return v
	}
	return rawHeader(raw, name)
}

// parseDate parses an RFC 5322 date, falling back to now, and formats it
// as UTC RFC 3339.
func parseDate(s string, now time.Time) string {
	t, err := mail.ParseDate(strings.TrimSpace(s))
	if err != nil {
		t = now
	}
	return t.UTC().Format(time.RFC3339)
}

type attachmentJSON struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Inline      bool   `json:"inline"`
	ContentID   string `json:"content_id"`
}

func attachmentsJSON(atts []mimeparse.Attachment) string {
	out := make([]attachmentJSON, 0, len(atts))
	for _, a := range atts {
		out = append(out, attachmentJSON{Name: a.Name, ContentType: a.ContentType, Inline: a.Inline, ContentID: a.CID()})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// htmlText derives a plain text body from an html-only message.
func htmlText(raw []byte) string {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(env.Text)
}

func buildRecord(raw *imap.RawMessage, parsed *mimeparse.Message, now time.Time) store.Message {
	text := parsed.Text
	if strings.TrimSpace(text) == "" && parsed.HTML != "" {
		text = htmlText(raw.Literal)
	}
	return store.Message{
		RemoteUID:       int64(raw.UID),
		MessageID:       headerOr(parsed.MessageID, raw.Literal, "Message-ID"),
		From:            headerOr(parsed.From, raw.Literal, "From"),
		Subject:         headerOr(parsed.Subject, raw.Literal, "Subject"),
		DateUTC:         parseDate(headerOr(parsed.Date, raw.Literal, "Date"), now),
		BodyText:        text,
		BodyHTML:        parsed.HTML,
		AttachmentsJSON: attachmentsJSON(parsed.Attachments),
		IsRead:          raw.Seen,
	}
}
