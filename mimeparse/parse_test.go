package mimeparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime/quotedprintable"
	"strings"
	"testing"
)

func TestParseSimple(t *testing.T) {
	m, err := Parse([]byte("Subject: Hi\r\nFrom: a@b\r\n\r\nHello"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Subject != "Hi" || m.From != "a@b" || m.Text != "Hello" {
		t.Errorf("got %+v", m)
	}
	want := "<pre style='font-family:Segoe UI,Arial,sans-serif; white-space:pre-wrap'>Hello</pre>"
	if m.HTML != want {
		t.Errorf("HTML = %q, want %q", m.HTML, want)
	}
	if m.Parts != 1 || len(m.Attachments) != 0 {
		t.Errorf("Parts = %d, attachments = %d", m.Parts, len(m.Attachments))
	}
}

func TestParseHeaders(t *testing.T) {
	raw := "Subject: =?UTF-8?B?SGVsbG8gV8O2cmxk?=\n" +
		"From: =?ISO-8859-1?Q?J=F6rg?= <j@example.com>\n" +
		"Date: Mon, 2 Jan 2006 15:04:05 -0700\n" +
		"Message-ID:\n <abc@example.com>\n" +
		"X-Long: one\n\ttwo\n" +
		"\n" +
		"a < b\n& c"
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Subject != "Hello Wörld" {
		t.Errorf("Subject = %q", m.Subject)
	}
	if m.From != "Jörg <j@example.com>" {
		t.Errorf("From = %q", m.From)
	}
	if m.MessageID != "<abc@example.com>" {
		t.Errorf("MessageID = %q", m.MessageID)
	}
	if m.Date != "Mon, 2 Jan 2006 15:04:05 -0700" {
		t.Errorf("Date = %q", m.Date)
	}
	if !strings.Contains(m.HTML, "a &lt; b<br/>&amp; c") {
		t.Errorf("HTML = %q", m.HTML)
	}
}

func TestParseMalformedHeader(t *testing.T) {
	raw := "Subject: kept\r\nnot a header\r\nFrom: dropped@example.com\r\n\r\nbody"
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Subject != "kept" || m.From != "" || m.Text != "body" {
		t.Errorf("got subject %q from %q text %q", m.Subject, m.From, m.Text)
	}
}

func TestParseAlternativeWithInlineImage(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	raw := strings.Join([]string{
		"Subject: Report",
		"From: a@example.com",
		`Content-Type: multipart/related; boundary="rel"`,
		"",
		"preamble",
		"--rel",
		`Content-Type: multipart/alternative; boundary="alt"`,
		"",
		"--alt",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Caf=C3=A9 soft=",
		"break",
		"--alt",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<p><img src="CID:Logo@Example"><img src="cid:<logo@example>"></p>`,
		"--alt--",
		"--rel",
		"Content-Type: image/png",
		"Content-Transfer-Encoding: base64",
		"Content-ID: <logo@example>",
		"",
		base64.StdEncoding.EncodeToString(png),
		"--rel",
		`Content-Type: application/pdf; name="fallback.pdf"`,
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBE",
		"Rg==",
		"--rel--",
		"epilogue",
	}, "\r\n")

	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Parts != 4 {
		t.Errorf("Parts = %d, want 4", m.Parts)
	}
	if m.Text != "Café softbreak" {
		t.Errorf("Text = %q", m.Text)
	}
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	if want := `<p><img src="` + uri + `"><img src="` + uri + `"></p>`; m.HTML != want {
		t.Errorf("HTML = %q, want %q", m.HTML, want)
	}
	if len(m.Attachments) != 2 {
		t.Fatalf("attachments = %v", m.Attachments)
	}
	img, pdf := m.Attachments[0], m.Attachments[1]
	if !img.Inline || img.CID() != "logo@example" || !bytes.Equal(img.Data, png) {
		t.Errorf("image = %+v", img)
	}
	if pdf.Inline || pdf.Name != "report.pdf" || pdf.ContentType != "application/pdf" || string(pdf.Data) != "%PDF" {
		t.Errorf("pdf = %+v", pdf)
	}
}

func TestParseNestedLeavesVisitedOnce(t *testing.T) {
	for _, n := range []int{1, 3, 8} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			// each level holds one attachment and the next level
			inner := "Content-Type: text/plain\r\n\r\nleaf"
			for i := 1; i < n; i++ {
				b := fmt.Sprintf("b%d", i)
				inner = fmt.Sprintf("Content-Type: multipart/mixed; boundary=%s\r\n\r\n--%s\r\nContent-Type: application/octet-stream\r\n\r\npart%d\r\n--%s\r\n%s\r\n--%s--\r\n",
					b, b, i, b, inner, b)
			}
			m, err := Parse([]byte("Subject: nested\r\n" + inner))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if m.Parts != n {
				t.Errorf("Parts = %d, want %d", m.Parts, n)
			}
			if len(m.Attachments) != n-1 || m.Text != "leaf" {
				t.Errorf("attachments = %d, text = %q", len(m.Attachments), m.Text)
			}
			seen := map[string]bool{}
			for _, a := range m.Attachments {
				if seen[string(a.Data)] {
					t.Errorf("part %q visited twice", a.Data)
				}
				seen[string(a.Data)] = true
			}
		})
	}
}

func TestParseMultipartFraming(t *testing.T) {
	const octet = "Content-Type: application/octet-stream"
	tests := []struct {
		name  string
		body  string
		text  string
		atts  []string
		parts int
	}{
		{"closed", "--x\r\n\r\na\r\n--x\r\n" + octet + "\r\n\r\nb\r\nc\r\n--x--\r\nignored", "a", []string{"b\r\nc"}, 2},
		{"lf only", "--x\n\na\n--x--\n", "a", nil, 1},
		{"unclosed", "pre\n--x\n\na\n--x\n" + octet + "\n\nb", "a", []string{"b"}, 2},
		{"blank part skipped", "--x\r\n\r\n--x\r\n\r\nb\r\n--x--", "b", nil, 1},
		{"trailing space on delimiter", "--x  \r\n\r\na\r\n--x-- \r\n", "a", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := "Subject: framing\r\nContent-Type: multipart/mixed; boundary=x\r\n\r\n" + tt.body
			m, err := Parse([]byte(raw))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if m.Text != tt.text || m.Parts != tt.parts {
				t.Errorf("text = %q parts = %d, want %q and %d", m.Text, m.Parts, tt.text, tt.parts)
			}
			var atts []string
			for _, a := range m.Attachments {
				atts = append(atts, string(a.Data))
			}
			if fmt.Sprintf("%q", atts) != fmt.Sprintf("%q", tt.atts) {
				t.Errorf("attachments = %q, want %q", atts, tt.atts)
			}
		})
	}
}

func TestParseMalformedParams(t *testing.T) {
	raw := strings.Join([]string{
		"Subject: params",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		`Content-Type: application/pdf; name="=?UTF-8?B?UsOpc3Vtw6kucGRm?="; broken`,
		"",
		"%PDF",
		"--outer--",
	}, "\r\n")
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(m.Attachments) != 1 {
		t.Fatalf("attachments = %+v", m.Attachments)
	}
	if a := m.Attachments[0]; a.Name != "Résumé.pdf" || a.ContentType != "application/pdf" || string(a.Data) != "%PDF" {
		t.Errorf("attachment = %+v", a)
	}
}

func TestTransferEncodingRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("plain ascii"),
		[]byte("tabs\tand = signs and ünïcödé\r\nsecond line with a very long tail that forces the encoder to insert soft line breaks somewhere"),
		{0x00, 0xff, 0x10, '=', '\r', '\n', 0x80},
	}
	for i, p := range payloads {
		var qp bytes.Buffer
		w := quotedprintable.NewWriter(&qp)
		w.Binary = true
		if _, err := w.Write(p); err != nil {
			t.Fatal(err)
		}
		w.Close()
		if got := decodeQuotedPrintable(qp.String()); !bytes.Equal(got, p) {
			t.Errorf("payload %d: quoted-printable round trip = %q", i, got)
		}

		enc := base64.StdEncoding.EncodeToString(p)
		var wrapped strings.Builder
		for len(enc) > 16 {
			wrapped.WriteString(enc[:16] + "\r\n")
			enc = enc[16:]
		}
		wrapped.WriteString(enc)
		if got := decodeBase64(wrapped.String()); !bytes.Equal(got, p) {
			t.Errorf("payload %d: base64 round trip = %q", i, got)
		}
	}
}

func TestLenientDecoding(t *testing.T) {
	if got := string(decodeQuotedPrintable("a=ZZb=\nc=4")); got != "a=ZZbc=4" {
		t.Errorf("quoted-printable = %q", got)
	}
	for _, in := range []string{"aGVs bG8=\n", "aGVs\tbG8", "aGVsbG8=="} {
		if got := string(decodeBase64(in)); got != "hello" {
			t.Errorf("base64(%q) = %q", in, got)
		}
	}
}

func TestCharsetConversion(t *testing.T) {
	raw := "Subject: latin\r\nContent-Type: text/plain; charset=ISO-8859-1\r\n\r\nna\xefve"
	m, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Text != "naïve" {
		t.Errorf("Text = %q", m.Text)
	}
	if got := toUTF8([]byte("x"), "no-such-charset"); got != "x" {
		t.Errorf("unknown charset = %q", got)
	}
}

func TestParseRejects(t *testing.T) {
	for _, raw := range []string{"", "\r\n\r\n", "X-Other: 1\r\nContent-Type: multipart/mixed\r\n\r\nno boundary"} {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("Parse(%q) error = %v, want %v", raw, err, ErrEmptyMessage)
		}
	}
}

func TestString(t *testing.T) {
	m := Message{
		Subject:     "Quarterly numbers",
		From:        "a@example.com",
		Text:        "This is a long body that gets cut",
		Attachments: []Attachment{{Name: "r.pdf", ContentType: "application/pdf", Data: make([]byte, 2048)}},
	}
	s := m.String()
	for _, want := range []string{"Subject: Quarterly numbers\n", "Text: This is a long body ...(33 B)\n", "r.pdf (application/pdf 2.0 kB)"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}
