package imap

import (
	"bytes"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var (
	existsRE      = regexp.MustCompile(`^\* (\d+) EXISTS`)
	bodyLiteralRE = regexp.MustCompile(`\{(\d+)\}\s*$`)
)

// Select opens folder read-write and records its message count.
func (d *Dialer) Select(folder string) error {
	res, err := d.Exec("SELECT "+quote(folder), "")
	if err != nil {
		return err
	}
	d.Folder = folder
	d.logger = connectionLogger(d.opts.Logger, d.ConnNum, folder)
	d.Exists = 0
	for _, line := range res.Lines {
		if m := existsRE.FindStringSubmatch(line); m != nil {
			d.Exists, _ = strconv.Atoi(m[1])
		}
	}
	return nil
}

// UIDSearchAll returns every UID in the selected folder.
func (d *Dialer) UIDSearchAll() ([]int, error) {
	res, err := d.Exec("UID SEARCH ALL", "")
	if err != nil {
		return nil, err
	}
	return ParseUIDSearch(res.Lines), nil
}

// ParseUIDSearch collects positive UIDs from any number of SEARCH lines.
func ParseUIDSearch(lines []string) []int {
	var uids []int
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "*" || !strings.EqualFold(fields[1], "SEARCH") {
			continue
		}
		for _, f := range fields[2:] {
			if u, err := strconv.Atoi(f); err == nil && u > 0 {
				uids = append(uids, u)
			}
		}
	}
	return uids
}

// WindowUIDs deduplicates and sorts uids ascending, keeping the highest
// limit of them. A limit of zero or less keeps all.
func WindowUIDs(uids []int, limit int) []int {
	out := slices.Clone(uids)
	slices.Sort(out)
	out = slices.Compact(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// RawMessage is a fetched message body, byte exact.
type RawMessage struct {
	UID     int
	Literal []byte
	Flags   []string
	Seen    bool
}

// FetchMessage runs UID FETCH uid (FLAGS BODY.PEEK[]). A reply without a
// complete literal returns ErrNoLiteral or ErrShortLiteral; callers treat
// those and *ProtocolError as per-message failures.
func (d *Dialer) FetchMessage(uid int) (*RawMessage, error) {
	res, err := d.ExecRaw(fmt.Sprintf("UID FETCH %d (FLAGS BODY.PEEK[])", uid))
	if err != nil {
		return nil, err
	}
	head, literal, tail, err := splitLiteral(res.Chunks)
	if err != nil {
		return nil, fmt.Errorf("uid %d: %w", uid, err)
	}
	msg := &RawMessage{UID: uid, Literal: literal}
	msg.Flags = append(parseFlags(string(head)), parseFlags(string(tail))...)
	for _, f := range msg.Flags {
		if strings.EqualFold(f, `\Seen`) {
			msg.Seen = true
		}
	}
	return msg, nil
}

// ExtractLiteral returns the BODY[] literal from raw FETCH chunks, which
// must not include the tagged completion. The payload must be at least as
// long as the declared {N}.
func ExtractLiteral(chunks [][]byte) ([]byte, error) {
	_, literal, _, err := splitLiteral(chunks)
	return literal, err
}

func splitLiteral(chunks [][]byte) (head, literal, tail []byte, err error) {
	for i, chunk := range chunks {
		line := dropNl(chunk)
		if !bytes.Contains(bytes.ToUpper(line), []byte("BODY[")) {
			continue
		}
		m := bodyLiteralRE.FindSubmatch(line)
		if m == nil {
			continue
		}
		n, convErr := strconv.Atoi(string(m[1]))
		if convErr != nil {
			return nil, nil, nil, ErrNoLiteral
		}
		var buf []byte
		for _, c := range chunks[i+1:] {
			buf = append(buf, c...)
		}
		if len(buf) < n {
			return nil, nil, nil, fmt.Errorf("%w: declared %d, got %d", ErrShortLiteral, n, len(buf))
		}
		return line, buf[:n], buf[n:], nil
	}
	return nil, nil, nil, ErrNoLiteral
}
