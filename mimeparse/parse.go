package mimeparse

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/textproto"
	"golang.org/x/net/html"
)

// maxDepth bounds multipart nesting.
const maxDepth = 32

const preStyle = "font-family:Segoe UI,Arial,sans-serif; white-space:pre-wrap"

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Parse decodes raw. Only a message with nothing populated is rejected.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyMessage
	}

	br := bufio.NewReader(bytes.NewReader(raw))
	h := readHeader(br)
	m := &Message{
		Subject:   headerText(h, "Subject"),
		From:      headerText(h, "From"),
		Date:      h.Get("Date"),
		MessageID: h.Get("Message-Id"),
	}
	m.walk(h, br, 0)

	if m.HTML == "" && m.Text != "" {
		m.HTML = "<pre style='" + preStyle + "'>" + strings.ReplaceAll(html.EscapeString(m.Text), "\n", "<br/>") + "</pre>"
	}
	m.inlineCIDs()

	if m.Subject == "" && m.From == "" && m.Text == "" && m.HTML == "" && len(m.Attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	return m, nil
}

// readHeader reads the top-level header block. A malformed line ends the
// header with the fields read so far and the rest of the block is skipped.
func readHeader(br *bufio.Reader) message.Header {
	h, err := textproto.ReadHeader(br)
	if err != nil {
		for {
			line, err := br.ReadString('\n')
			if err != nil || strings.TrimRight(line, "\r\n") == "" {
				break
			}
		}
	}
	return message.Header{Header: h}
}

func headerText(h message.Header, key string) string {
	v, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return v
}

// field is a structured header value with its parameters. Parameters of
// a value mime.ParseMediaType rejects are read with a loose key=value scan.
type field struct {
	value  string
	params map[string]string
	raw    string
}

func contentType(h message.Header) field {
	t, params, err := h.ContentType()
	f := field{value: t, params: params, raw: h.Get("Content-Type")}
	if err != nil {
		t, _, _ = strings.Cut(f.raw, ";")
		f.value = strings.ToLower(strings.TrimSpace(t))
	}
	if f.value == "" {
		f.value = "text/plain"
	}
	return f
}

func contentDisposition(h message.Header) field {
	d, params, err := h.ContentDisposition()
	f := field{value: strings.ToLower(d), params: params, raw: h.Get("Content-Disposition")}
	if err != nil {
		d, _, _ = strings.Cut(f.raw, ";")
		f.value = strings.ToLower(strings.TrimSpace(d))
	}
	return f
}

func (f field) param(key string) string {
	if f.params != nil {
		return strings.TrimSpace(f.params[key])
	}
	if f.raw == "" {
		return ""
	}
	re := regexp.MustCompile(`(?i)(?:^|;)\s*` + regexp.QuoteMeta(key) + `\s*=\s*"?([^;"]+)"?`)
	if m := re.FindStringSubmatch(f.raw); m != nil {
		return decodeWord(strings.TrimSpace(m[1]))
	}
	return ""
}

func decodeWord(v string) string {
	out, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return out
}

// walk classifies the part with header h and raw body. Multipart bodies
// are split with go-message and walked depth first; transfer encodings are
// decoded here so that malformed input still yields data.
func (m *Message) walk(h message.Header, body io.Reader, depth int) {
	ct := contentType(h)

	if strings.HasPrefix(ct.value, "multipart/") {
		boundary := ct.param("boundary")
		if depth >= maxDepth || boundary == "" {
			return
		}
		mr := textproto.NewMultipartReader(body, boundary)
		for {
			p, err := mr.NextPart()
			if err != nil {
				// io.EOF, or framing the reader cannot follow
				return
			}
			m.walk(message.Header{Header: p.Header}, p, depth+1)
		}
	}

	// a short read keeps what arrived before the missing close delimiter
	raw, _ := io.ReadAll(body)
	if h.Len() == 0 && len(bytes.TrimSpace(raw)) == 0 {
		return
	}

	m.Parts++
	data := decodeBody(string(raw), h.Get("Content-Transfer-Encoding"))

	switch {
	case strings.HasPrefix(ct.value, "text/html"):
		if m.HTML == "" {
			m.HTML = toUTF8(data, ct.param("charset"))
		}
		return
	case strings.HasPrefix(ct.value, "text/plain"):
		if m.Text == "" {
			m.Text = toUTF8(data, ct.param("charset"))
		}
		return
	}

	cd := contentDisposition(h)
	name := cd.param("filename")
	if name == "" {
		name = ct.param("name")
	}
	m.Attachments = append(m.Attachments, Attachment{
		Name:        name,
		ContentType: ct.value,
		ContentID:   strings.TrimSpace(h.Get("Content-Id")),
		Inline:      cd.value == "inline" || strings.HasPrefix(ct.value, "image/"),
		Data:        data,
	})
}

func decodeBody(body, encoding string) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return decodeBase64(body)
	case "quoted-printable":
		return decodeQuotedPrintable(body)
	default:
		return []byte(body)
	}
}

// decodeBase64 ignores whitespace and padding, and keeps whatever decoded
// before the first invalid byte.
func decodeBase64(s string) []byte {
	compact := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n', '=':
			return -1
		}
		return r
	}, s)
	out := make([]byte, base64.RawStdEncoding.DecodedLen(len(compact)))
	n, _ := base64.RawStdEncoding.Decode(out, []byte(compact))
	return out[:n]
}

// decodeQuotedPrintable decodes =XY escapes and soft line breaks. Invalid
// escapes are kept literally.
func decodeQuotedPrintable(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '=' {
			out = append(out, c)
			continue
		}
		switch {
		case strings.HasPrefix(s[i+1:], "\r\n"):
			i += 2
		case strings.HasPrefix(s[i+1:], "\n"):
			i++
		case i+2 < len(s):
			if v, err := strconv.ParseUint(s[i+1:i+3], 16, 8); err == nil {
				out = append(out, byte(v))
				i += 2
			} else {
				out = append(out, c)
			}
		default:
			out = append(out, c)
		}
	}
	return out
}

func toUTF8(data []byte, label string) string {
	switch strings.ToLower(label) {
	case "", "utf-8", "utf8", "us-ascii", "ascii":
		return string(data)
	}
	r, err := charset.Reader(label, bytes.NewReader(data))
	if err != nil {
		return string(data)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(data)
	}
	return string(out)
}

// inlineCIDs rewrites cid:id and cid:<id> references in the html body to
// data URIs for inline attachments, ignoring case.
func (m *Message) inlineCIDs() {
	if m.HTML == "" {
		return
	}
	for _, a := range m.Attachments {
		cid := a.CID()
		if !a.Inline || cid == "" || len(a.Data) == 0 {
			continue
		}
		uri := "data:" + a.ContentType + ";base64," + a.Base64()
		re := regexp.MustCompile(`(?i)cid:(?:<` + regexp.QuoteMeta(cid) + `>|` + regexp.QuoteMeta(cid) + `)`)
		m.HTML = re.ReplaceAllLiteralString(m.HTML, uri)
	}
}
