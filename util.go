package imap

import "strings"

// dropNl removes trailing newline characters from a byte slice
func dropNl(b []byte) []byte {
	if len(b) >= 1 && b[len(b)-1] == '\n' {
		if len(b) >= 2 && b[len(b)-2] == '\r' {
			return b[:len(b)-2]
		} else {
			return b[:len(b)-1]
		}
	}
	return b
}

// quote renders s as an IMAP quoted string.
func quote(s string) string {
	return `"` + AddSlashes.Replace(s) + `"`
}

// commandName returns the verb of a command line, keeping the UID prefix.
func commandName(command string) string {
	fields := strings.Fields(command)
	switch {
	case len(fields) == 0:
		return ""
	case strings.EqualFold(fields[0], "UID") && len(fields) > 1:
		return strings.ToUpper(fields[0] + " " + fields[1])
	default:
		return strings.ToUpper(fields[0])
	}
}

// hasTagPrefix reports whether line is the tagged completion for tag.
func hasTagPrefix(line, tag string) bool {
	return len(line) > len(tag) && line[len(tag)] == ' ' && strings.EqualFold(line[:len(tag)], tag)
}
