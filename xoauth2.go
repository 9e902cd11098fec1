package imap

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/sqs/go-xoauth2"
)

const (
	bearerMarker = "auth=Bearer "
	saslSentinel = "\x01\x01"
	maxReplyLen  = 200
)

// Shape rejection reasons.
const (
	ShapeMissingBearer     = "missing-auth-bearer"
	ShapeInvalidBearerCnt  = "invalid-bearer-count"
	ShapeMissingPrefix     = "missing-prefix"
	ShapeMissingTerminator = "missing-terminator"
)

var (
	controlChars = regexp.MustCompile(`[\r\n\t]`)
	bearerToken  = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-._~+/=]+`)
	spaces       = regexp.MustCompile(`\s+`)
)

// XOAuth2Payload is a SASL XOAUTH2 initial response and its shape analysis.
type XOAuth2Payload struct {
	Raw     []byte
	Encoded string

	BearerCount     int
	FirstBearerPos  int
	SecondBearerPos int
	ShapeReason     string
}

// ShapeOK reports whether the payload has exactly one bearer marker, the
// user= prefix and the two byte terminator.
func (p *XOAuth2Payload) ShapeOK() bool { return p.ShapeReason == "" }

// NewXOAuth2Payload builds user=<user>\x01auth=Bearer <token>\x01\x01.
// Leading "Bearer " prefixes on the token are dropped.
func NewXOAuth2Payload(user, accessToken string) *XOAuth2Payload {
	token := strings.TrimSpace(accessToken)
	for len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	// xoauth2.XOAuth2String reads its buffer before the encoder is
	// flushed and loses the last partial base64 block.
	raw := []byte(xoauth2.OAuth2String(user, token))

	p := &XOAuth2Payload{Raw: raw, Encoded: base64.StdEncoding.EncodeToString(raw)}
	p.BearerCount, p.FirstBearerPos, p.SecondBearerPos = AnalyzeBearer(raw)
	p.ShapeReason = ValidateXOAuth2Shape(raw)
	return p
}

// AnalyzeBearer counts "auth=Bearer " markers in raw and returns the byte
// offsets of the first two, -1 when absent.
func AnalyzeBearer(raw []byte) (count, first, second int) {
	first, second = -1, -1
	marker := []byte(bearerMarker)
	off := 0
	for {
		i := bytes.Index(raw[off:], marker)
		if i < 0 {
			return count, first, second
		}
		pos := off + i
		switch count {
		case 0:
			first = pos
		case 1:
			second = pos
		}
		count++
		off = pos + len(marker)
	}
}

// ValidateXOAuth2Shape returns "" for a well formed payload or the reason
// it is rejected.
func ValidateXOAuth2Shape(raw []byte) string {
	count, _, _ := AnalyzeBearer(raw)
	switch {
	case count == 0:
		return ShapeMissingBearer
	case count != 1:
		return ShapeInvalidBearerCnt
	case !bytes.HasPrefix(raw, []byte("user=")):
		return ShapeMissingPrefix
	case !bytes.HasSuffix(raw, []byte(saslSentinel)):
		return ShapeMissingTerminator
	}
	return ""
}

// SanitizeReply redacts bearer tokens, collapses whitespace and caps the
// length of a server line for diagnostics.
func SanitizeReply(s string) string {
	s = controlChars.ReplaceAllString(s, " ")
	s = bearerToken.ReplaceAllString(s, "Bearer "+Redacted)
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
	if len(s) > maxReplyLen {
		s = s[:maxReplyLen]
	}
	return s
}

// decodeChallenge decodes a base64 continuation payload such as the JSON
// error document Gmail sends before failing an XOAUTH2 exchange.
func decodeChallenge(text string) string {
	if text == "" {
		return ""
	}
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return ""
	}
	for _, r := range string(b) {
		if !unicode.IsPrint(r) && !unicode.IsSpace(r) {
			return ""
		}
	}
	return SanitizeReply(string(b))
}

// AuthDiagnostic records an XOAUTH2 handshake for failure analysis.
type AuthDiagnostic struct {
	Phase           string
	Tag             string
	LastTagged      string
	LastUntagged    string
	LastReply       string
	SawContinuation bool
	SawCapability   bool
	ServerChallenge string
	ProbeAccepted   bool

	ShapeReason     string
	BearerCount     int
	FirstBearerPos  int
	SecondBearerPos int
	RawLen          int
}

func newAuthDiagnostic(p *XOAuth2Payload) *AuthDiagnostic {
	return &AuthDiagnostic{
		Phase:           "build-payload",
		ShapeReason:     p.ShapeReason,
		BearerCount:     p.BearerCount,
		FirstBearerPos:  p.FirstBearerPos,
		SecondBearerPos: p.SecondBearerPos,
		RawLen:          len(p.Raw),
	}
}

func (a *AuthDiagnostic) observe(r Response) {
	switch r.Kind {
	case Tagged:
		a.LastTagged = SanitizeReply(r.Line)
	case Untagged:
		a.LastUntagged = SanitizeReply(r.Line)
		if r.Status == "CAPABILITY" {
			a.SawCapability = true
		}
	case Continuation:
		a.SawContinuation = true
		if c := decodeChallenge(r.Text); c != "" {
			a.ServerChallenge = c
		}
	}
	a.LastReply = SanitizeReply(r.Line)
}

// String renders the diagnostic as a single pipe separated record.
func (a *AuthDiagnostic) String() string {
	reason := a.ShapeReason
	if reason == "" {
		reason = "ok"
	}
	fields := []string{
		"XOAUTH2",
		"imap_last_reply=" + a.LastReply,
		fmt.Sprintf("xoauth2_shape_ok=%t", a.ShapeReason == ""),
		"xoauth2_shape_reason=" + reason,
		fmt.Sprintf("auth_bearer_count=%d", a.BearerCount),
		fmt.Sprintf("first_auth_bearer_pos=%d", a.FirstBearerPos),
		fmt.Sprintf("second_auth_bearer_pos=%d", a.SecondBearerPos),
		fmt.Sprintf("raw_len=%d", a.RawLen),
		"imap_phase=" + a.Phase,
		"imap_tag=" + a.Tag,
		"imap_last_tagged=" + a.LastTagged,
		"imap_last_untagged=" + a.LastUntagged,
		fmt.Sprintf("saw_plus_continuation=%t", a.SawContinuation),
	}
	if a.ServerChallenge != "" {
		fields = append(fields, "server_challenge="+a.ServerChallenge)
	}
	if a.ProbeAccepted {
		fields = append(fields, "noop_probe_accepted=true")
	}
	return strings.Join(fields, "|")
}
