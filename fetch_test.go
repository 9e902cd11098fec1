package imap

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/ngksmail/go-imapsync/internal/imaptest"
)

func TestParseUIDSearch(t *testing.T) {
	lines := []string{
		"* SEARCH 1 2 3",
		"* OK still searching",
		"* search 7 0 -4 x 9",
		"* SEARCH",
	}
	if got, want := ParseUIDSearch(lines), []int{1, 2, 3, 7, 9}; !reflect.DeepEqual(got, want) {
		t.Errorf("ParseUIDSearch = %v, want %v", got, want)
	}
	if got := ParseUIDSearch(nil); len(got) != 0 {
		t.Errorf("ParseUIDSearch(nil) = %v", got)
	}
}

func TestWindowUIDs(t *testing.T) {
	var uids []int
	for i := 120; i >= 1; i-- {
		uids = append(uids, i)
	}
	uids = append(uids, 5, 120)

	got := WindowUIDs(uids, 50)
	if len(got) != 50 {
		t.Fatalf("got %d uids", len(got))
	}
	for i, u := range got {
		if u != 71+i {
			t.Fatalf("got[%d] = %d, want %d", i, u, 71+i)
		}
	}
	if uids[0] != 120 {
		t.Error("input slice was modified")
	}

	if got := WindowUIDs([]int{3, 1, 2, 2}, 0); !reflect.DeepEqual(got, []int{1, 2, 3}) {
		t.Errorf("no limit = %v", got)
	}
	if got := WindowUIDs([]int{3, 1}, 10); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Errorf("limit above count = %v", got)
	}
}

func TestExtractLiteral(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    string
		wantErr error
	}{
		{
			name:   "exact",
			chunks: []string{"* 1 FETCH (UID 4 BODY[] {7}\r\n", "Hi\r\n\r\nx)\r\n"},
			want:   "Hi\r\n\r\nx",
		},
		{
			name:   "split over lines",
			chunks: []string{"* 1 FETCH (FLAGS () BODY[] {12}\r\n", "Subject: a\r\n", ")\r\n"},
			want:   "Subject: a\r\n",
		},
		{
			name:    "short",
			chunks:  []string{"* 1 FETCH (BODY[] {120}\r\n", strings.Repeat("x", 78) + "\r\n", ")\r\n"},
			wantErr: ErrShortLiteral,
		},
		{
			name:    "no body",
			chunks:  []string{"* 1 FETCH (UID 4 FLAGS (\\Seen))\r\n"},
			wantErr: ErrNoLiteral,
		},
		{
			name:    "empty",
			wantErr: ErrNoLiteral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var chunks [][]byte
			for _, c := range tt.chunks {
				chunks = append(chunks, []byte(c))
			}
			got, err := ExtractLiteral(chunks)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("literal = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchMessage(t *testing.T) {
	good := []byte("From: a@example.com\r\nSubject: Hi\r\n\r\nBody\r\n")
	srv := imaptest.NewServer(t, imaptest.Config{
		Users: map[string]string{"user": "pw"},
		Mailboxes: map[string][]imaptest.Message{
			"INBOX": {
				{UID: 3, Flags: []string{`\Seen`, `\Flagged`}, Body: good},
				{UID: 7, Body: []byte(strings.Repeat("y", 78) + "\r\n"), DeclaredSize: 120},
				{UID: 9, Body: good},
				{UID: 11, FetchNo: true},
			},
		},
		SearchLineSize: 2,
	})
	d := connectTest(t, srv, testOptions(t, srv))
	if err := d.Login("user", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := d.Select("INBOX"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	if d.Exists != 4 || d.Folder != "INBOX" {
		t.Errorf("Exists = %d, Folder = %q", d.Exists, d.Folder)
	}

	uids, err := d.UIDSearchAll()
	if err != nil {
		t.Fatalf("UIDSearchAll: %v", err)
	}
	if !reflect.DeepEqual(uids, []int{3, 7, 9, 11}) {
		t.Fatalf("uids = %v", uids)
	}

	msg, err := d.FetchMessage(3)
	if err != nil {
		t.Fatalf("FetchMessage(3): %v", err)
	}
	if string(msg.Literal) != string(good) {
		t.Errorf("literal = %q", msg.Literal)
	}
	if !msg.Seen || !reflect.DeepEqual(msg.Flags, []string{`\Seen`, `\Flagged`}) {
		t.Errorf("flags = %v, seen = %v", msg.Flags, msg.Seen)
	}

	if _, err := d.FetchMessage(7); !errors.Is(err, ErrShortLiteral) {
		t.Fatalf("FetchMessage(7) error = %v, want %v", err, ErrShortLiteral)
	} else if !strings.HasPrefix(err.Error(), "uid 7: ") {
		t.Errorf("error = %q", err)
	}

	msg, err = d.FetchMessage(9)
	if err != nil {
		t.Fatalf("session unusable after short literal: %v", err)
	}
	if msg.Seen {
		t.Error("uid 9 should be unread")
	}

	var pe *ProtocolError
	if _, err := d.FetchMessage(11); !errors.As(err, &pe) || pe.Command != "UID FETCH" {
		t.Errorf("FetchMessage(11) error = %v", err)
	}
	if _, err := d.FetchMessage(99); !errors.Is(err, ErrNoLiteral) {
		t.Errorf("FetchMessage(99) error = %v", err)
	}

	if got := fmt.Sprint(srv.Fetched()); got != "[3 7 9 11 99]" {
		t.Errorf("fetched = %s", got)
	}
	if d.conn.Broken() {
		t.Error("connection marked broken")
	}
}

func TestSelectUnknown(t *testing.T) {
	srv := imaptest.NewServer(t, imaptest.Config{Users: map[string]string{"user": "pw"}})
	d := connectTest(t, srv, testOptions(t, srv))
	if err := d.Login("user", "pw"); err != nil {
		t.Fatal(err)
	}
	var pe *ProtocolError
	if err := d.Select("Nope"); !errors.As(err, &pe) || pe.Status != "NO" {
		t.Errorf("Select error = %v", err)
	}
}
