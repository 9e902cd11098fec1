package imap

import (
	"testing"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"INBOX", `"INBOX"`},
		{`say "hi"`, `"say \"hi\""`},
		{`back\slash`, `"back\\slash"`},
		{"тест", `"тест"`},
		{"", `""`},
	}

	for _, test := range tests {
		got := quote(test.input)
		if got != test.expected {
			t.Errorf("quote(%q) = %q, want %q", test.input, got, test.expected)
		}
		if back := RemoveSlashes.Replace(got[1 : len(got)-1]); back != test.input {
			t.Errorf("RemoveSlashes(%q) = %q, want %q", got, back, test.input)
		}
	}
}

func TestCommandName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{`LIST "" "*"`, "LIST"},
		{"uid fetch 7 (FLAGS BODY.PEEK[])", "UID FETCH"},
		{"UID", "UID"},
		{"", ""},
	}

	for _, test := range tests {
		if got := commandName(test.input); got != test.expected {
			t.Errorf("commandName(%q) = %q, want %q", test.input, got, test.expected)
		}
	}
}

func TestHasTagPrefix(t *testing.T) {
	if !hasTagPrefix("a0001 OK done", "A0001") {
		t.Error("expected case-insensitive tag match")
	}
	if hasTagPrefix("A00012 OK done", "A0001") {
		t.Error("longer tag must not match")
	}
	if hasTagPrefix("A0001", "A0001") {
		t.Error("bare tag without status must not match")
	}
}
