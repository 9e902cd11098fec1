package imap

import "strings"

// ResponseKind classifies a server line.
type ResponseKind int

const (
	Unknown ResponseKind = iota
	Untagged
	Tagged
	Continuation
)

func (k ResponseKind) String() string {
	switch k {
	case Untagged:
		return "untagged"
	case Tagged:
		return "tagged"
	case Continuation:
		return "continuation"
	}
	return "unknown"
}

// Response is a classified server line. For tagged lines Status is OK, NO
// or BAD; for untagged lines it is the first word (CAPABILITY, LIST, OK, or
// a message number).
type Response struct {
	Kind   ResponseKind
	Tag    string
	Status string
	Text   string
	Line   string
}

// OK reports whether r is a tagged OK completion.
func (r Response) OK() bool { return r.Kind == Tagged && r.Status == "OK" }

// Classify parses a trimmed line in the context of the command tag.
func Classify(line, tag string) Response {
	r := Response{Line: line}
	switch {
	case line == "+" || strings.HasPrefix(line, "+ "):
		r.Kind = Continuation
		r.Text = strings.TrimSpace(strings.TrimPrefix(line, "+"))
	case strings.HasPrefix(line, "* "):
		r.Kind = Untagged
		r.Status, r.Text = splitWord(line[2:])
	case tag != "" && hasTagPrefix(line, tag):
		r.Kind = Tagged
		r.Tag = line[:len(tag)]
		r.Status, r.Text = splitWord(line[len(tag)+1:])
	}
	return r
}

func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	word, rest, _ := strings.Cut(s, " ")
	return strings.ToUpper(word), strings.TrimSpace(rest)
}
