// Package mimeparse decodes raw RFC 822 messages into the fields stored by
// the sync engine: headers, the first text and html bodies, and
// attachments with inline cid: references rewritten to data URIs.
package mimeparse

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"
)

// ErrEmptyMessage is returned when a message yields no subject, sender,
// body or attachment.
var ErrEmptyMessage = errors.New("mime parse produced no content")

// Message is a decoded message.
type Message struct {
	Subject     string
	From        string
	Date        string
	MessageID   string
	Text        string
	HTML        string
	Attachments []Attachment

	// Parts counts the leaf parts visited.
	Parts int
}

// Attachment is any leaf part that is not the first text or html body.
type Attachment struct {
	Name        string
	ContentType string
	ContentID   string
	Inline      bool
	Data        []byte
}

// Base64 returns the standard base64 encoding of the data.
func (a Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// CID returns the Content-ID without angle brackets.
func (a Attachment) CID() string {
	cid := strings.TrimSpace(a.ContentID)
	if len(cid) > 2 && strings.HasPrefix(cid, "<") && strings.HasSuffix(cid, ">") {
		cid = cid[1 : len(cid)-1]
	}
	return cid
}

// String returns a formatted string representation of an Attachment
func (a Attachment) String() string {
	return fmt.Sprintf("%s (%s %s)", a.Name, a.ContentType, humanize.Bytes(uint64(len(a.Data))))
}

// String returns a formatted string representation of a Message
func (m Message) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Subject: %s\n", m.Subject)
	if m.From != "" {
		fmt.Fprintf(&b, "From: %s\n", m.From)
	}
	if m.Date != "" {
		fmt.Fprintf(&b, "Date: %s\n", m.Date)
	}
	if m.Text != "" {
		fmt.Fprintf(&b, "Text: %s(%s)\n", preview(m.Text), humanize.Bytes(uint64(len(m.Text))))
	}
	if m.HTML != "" {
		fmt.Fprintf(&b, "HTML: %s(%s)\n", preview(m.HTML), humanize.Bytes(uint64(len(m.HTML))))
	}
	if len(m.Attachments) != 0 {
		fmt.Fprintf(&b, "%d Attachment(s): %s\n", len(m.Attachments), m.Attachments)
	}
	return b.String()
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 20 {
		return string(r[:20]) + "..."
	}
	return s
}
