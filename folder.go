package imap

import (
	"regexp"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// SpecialUse is a mailbox role.
type SpecialUse int

const (
	SpecialUseNone SpecialUse = iota
	SpecialUseInbox
	SpecialUseSent
	SpecialUseDrafts
	SpecialUseArchive
	SpecialUseTrash
	SpecialUseJunk
)

var specialUseAttrs = []struct {
	attr string
	use  SpecialUse
}{
	{`\Inbox`, SpecialUseInbox},
	{`\Sent`, SpecialUseSent},
	{`\Drafts`, SpecialUseDrafts},
	{`\Archive`, SpecialUseArchive},
	{`\Trash`, SpecialUseTrash},
	{`\Junk`, SpecialUseJunk},
	// XLIST spelling
	{`\Spam`, SpecialUseJunk},
}

func (s SpecialUse) String() string {
	for _, a := range specialUseAttrs {
		if a.use == s {
			return a.attr
		}
	}
	return ""
}

// ParseSpecialUse maps a stored attribute such as `\Sent` back to a role.
func ParseSpecialUse(s string) SpecialUse {
	for _, a := range specialUseAttrs {
		if strings.EqualFold(a.attr, s) {
			return a.use
		}
	}
	return SpecialUseNone
}

// specialUseFromAttrs picks the first role present in attrs, in the fixed
// order Inbox, Sent, Drafts, Archive, Trash, Junk.
func specialUseFromAttrs(attrs []string) SpecialUse {
	for _, a := range specialUseAttrs {
		for _, attr := range attrs {
			if strings.EqualFold(attr, a.attr) {
				return a.use
			}
		}
	}
	return SpecialUseNone
}

// Folder is a mailbox returned by LIST.
type Folder struct {
	RemoteName  string
	DisplayName string
	Delimiter   string
	Attributes  []string
	SpecialUse  SpecialUse
}

// AttributesJSON renders the attributes as {"attrs":[...]}.
func (f Folder) AttributesJSON() string {
	attrs := f.Attributes
	if attrs == nil {
		attrs = []string{}
	}
	b, err := json.Marshal(struct {
		Attrs []string `json:"attrs"`
	}{attrs})
	if err != nil {
		return `{"attrs":[]}`
	}
	return string(b)
}

var (
	listLineRE = regexp.MustCompile(`(?i)^\*\s+(?:LIST|XLIST)\s+\(([^)]*)\)\s+(NIL|"(?:[^"\\]|\\.)*")\s+(.+)$`)
	nameLitRE  = regexp.MustCompile(`^\{(\d+)\}$`)
)

// ParseListLines parses LIST or XLIST untagged lines. A mailbox name sent
// as a {N} literal is taken from the following line.
func ParseListLines(lines []string) []Folder {
	var folders []Folder
	for i := 0; i < len(lines); i++ {
		m := listLineRE.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		f := Folder{Attributes: strings.Fields(m[1])}
		if !strings.EqualFold(m[2], "NIL") {
			f.Delimiter = RemoveSlashes.Replace(m[2][1 : len(m[2])-1])
		}
		if lm := nameLitRE.FindStringSubmatch(m[3]); lm != nil {
			if i+1 >= len(lines) {
				break
			}
			i++
			name := lines[i]
			if n, err := strconv.Atoi(lm[1]); err == nil && n < len(name) {
				name = name[:n]
			}
			f.RemoteName = name
		} else {
			f.RemoteName = mailboxName([]byte(m[3]))
		}
		if f.RemoteName == "" {
			continue
		}
		f.SpecialUse = specialUseFromAttrs(f.Attributes)
		if f.SpecialUse == SpecialUseNone && strings.EqualFold(f.RemoteName, "INBOX") {
			f.SpecialUse = SpecialUseInbox
		}
		f.DisplayName = displayName(f.RemoteName, f.Delimiter)
		folders = append(folders, f)
	}
	return folders
}

// mailboxName scans back from the end of line for the quoted or atom
// mailbox name, honouring escaped quotes.
func mailboxName(line []byte) string {
	if len(line) == 0 {
		return ""
	}
	i := len(line) - 1
	quoted := line[i] == '"'
	delim := byte(' ')
	if quoted {
		delim = '"'
		i--
	}
	end := i
	for i >= 0 {
		if line[i] == delim {
			if !quoted || i == 0 || line[i-1] != '\\' {
				break
			}
		}
		i--
	}
	return RemoveSlashes.Replace(string(line[i+1 : end+1]))
}

func displayName(remote, delim string) string {
	if delim == "" {
		return remote
	}
	parts := strings.Split(remote, delim)
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			return parts[i]
		}
	}
	return remote
}

// List runs LIST "" "*".
func (d *Dialer) List() ([]Folder, error) {
	return d.list(`LIST "" "*"`)
}

// ListSpecialUse runs LIST (SPECIAL-USE) "" "*".
func (d *Dialer) ListSpecialUse() ([]Folder, error) {
	return d.list(`LIST (SPECIAL-USE) "" "*"`)
}

// XList runs the legacy XLIST "" "*".
func (d *Dialer) XList() ([]Folder, error) {
	return d.list(`XLIST "" "*"`)
}

func (d *Dialer) list(command string) ([]Folder, error) {
	res, err := d.Exec(command, "")
	if err != nil {
		return nil, err
	}
	return ParseListLines(res.Lines), nil
}

// Namespace returns the personal namespace delimiter, "" when none.
func (d *Dialer) Namespace() (string, error) {
	res, err := d.Exec("NAMESPACE", "")
	if err != nil {
		return "", err
	}
	for _, line := range res.Untagged("NAMESPACE") {
		if delim := parseNamespace(Classify(line, res.Tag).Text); delim != "" {
			return delim, nil
		}
	}
	return "", nil
}

// mergeSpecialUse overrides roles in folders with those from a dedicated
// special-use listing, matching remote names case-insensitively.
func mergeSpecialUse(folders, annotated []Folder) {
	roles := make(map[string]SpecialUse, len(annotated))
	for _, f := range annotated {
		if f.SpecialUse != SpecialUseNone {
			roles[strings.ToLower(f.RemoteName)] = f.SpecialUse
		}
	}
	for i := range folders {
		if use, ok := roles[strings.ToLower(folders[i].RemoteName)]; ok {
			folders[i].SpecialUse = use
		}
	}
}
