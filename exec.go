package imap

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/xid"
)

var (
	nextConnNum      = 0
	nextConnNumMutex = sync.Mutex{}
)

// Dialer is an IMAP session: the protocol engine on top of a Conn.
type Dialer struct {
	conn         *Conn
	Host         string
	Port         int
	TLS          bool
	Folder       string
	Exists       int
	Capabilities []string
	ConnNum      int

	// LastDiagnostic holds the most recent XOAUTH2 handshake record.
	LastDiagnostic *AuthDiagnostic

	state   AuthState
	stateMu sync.Mutex
	opts    Options
	logger  Logger
}

// Result is the outcome of a tagged command.
type Result struct {
	Tag        string
	Lines      []string
	Completion Response
}

// Untagged returns the untagged lines whose first word is name.
func (r *Result) Untagged(name string) []string {
	var out []string
	for _, line := range r.Lines {
		if resp := Classify(line, r.Tag); resp.Kind == Untagged && resp.Status == strings.ToUpper(name) {
			out = append(out, line)
		}
	}
	return out
}

// RawResult is a tagged command outcome with byte-exact response chunks.
// Chunks excludes the tagged completion.
type RawResult struct {
	Tag        string
	Chunks     [][]byte
	Completion Response
}

// Connect dials the server and reads its greeting.
func Connect(ctx context.Context, host string, port int, useTLS bool, opts Options) (*Dialer, error) {
	opts = opts.withDefaults()

	nextConnNumMutex.Lock()
	connNum := nextConnNum
	nextConnNum++
	nextConnNumMutex.Unlock()

	logger := connectionLogger(opts.Logger, connNum, "")
	opts.Logger = logger

	c, err := Dial(ctx, host, port, useTLS, opts)
	if err != nil {
		logger.Error("failed to establish connection", "host", host, "port", port, "error", err)
		return nil, err
	}
	d := &Dialer{
		conn:    c,
		Host:    host,
		Port:    port,
		TLS:     useTLS,
		ConnNum: connNum,
		opts:    opts,
		logger:  logger,
	}
	greeting, err := c.ReadGreeting()
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	logger.Debug("connected", "greeting", greeting)
	return d, nil
}

// TranscriptPath returns the session transcript file, if any.
func (d *Dialer) TranscriptPath() string { return d.conn.Transcript().Path() }

// Conn exposes the line transport.
func (d *Dialer) Conn() *Conn { return d.conn }

// nextTag returns a fresh command tag: 20 upper-case base32hex characters.
func (d *Dialer) nextTag() string {
	return strings.ToUpper(xid.New().String())
}

func (d *Dialer) send(tag, command, redacted string) error {
	line := tag + " " + command
	logged := ""
	if redacted != "" {
		logged = tag + " " + redacted
	}
	if logged != "" {
		d.logger.Debug("sending command", "command", logged)
	} else {
		d.logger.Debug("sending command", "command", line)
	}
	return d.conn.SendLine(line, logged)
}

// Exec sends a tagged command and reads its reply. redacted, when set, is
// the command as it should appear in transcripts and logs. A NO or BAD
// completion is returned as a *ProtocolError alongside the lines read.
func (d *Dialer) Exec(command, redacted string) (*Result, error) {
	tag := d.nextTag()
	if err := d.send(tag, command, redacted); err != nil {
		return nil, err
	}
	lines, err := d.conn.ReadUntilTag(tag)
	res := &Result{Tag: tag, Lines: lines}
	if err != nil {
		return res, err
	}
	res.Completion = Classify(lines[len(lines)-1], tag)
	res.Lines = lines[:len(lines)-1]
	d.logger.Debug("server response", "command", commandName(command), "lines", len(res.Lines), "status", res.Completion.Status)
	if !res.Completion.OK() {
		return res, &ProtocolError{Command: commandName(command), Tag: tag, Status: res.Completion.Status, Text: res.Completion.Text}
	}
	return res, nil
}

// ExecRaw is Exec keeping the response as exact bytes.
func (d *Dialer) ExecRaw(command string) (*RawResult, error) {
	tag := d.nextTag()
	if err := d.send(tag, command, ""); err != nil {
		return nil, err
	}
	chunks, err := d.conn.ReadUntilTagRaw(tag)
	res := &RawResult{Tag: tag, Chunks: chunks}
	if err != nil {
		return res, err
	}
	last := strings.TrimSpace(string(chunks[len(chunks)-1]))
	res.Chunks = chunks[:len(chunks)-1]
	res.Completion = Classify(last, tag)
	if !res.Completion.OK() {
		return res, &ProtocolError{Command: commandName(command), Tag: tag, Status: res.Completion.Status, Text: res.Completion.Text}
	}
	return res, nil
}

// Noop sends NOOP.
func (d *Dialer) Noop() error {
	_, err := d.Exec("NOOP", "")
	return err
}

// Logout sends LOGOUT. Broken connections are skipped.
func (d *Dialer) Logout() error {
	if d.conn.Broken() {
		return nil
	}
	_, err := d.Exec("LOGOUT", "")
	return err
}

// Close closes the IMAP connection
func (d *Dialer) Close() error {
	d.logger.Debug("closing connection")
	return d.conn.Close()
}
