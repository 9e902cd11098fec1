package imap

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	retry "github.com/StirlingMarketingGroup/go-retry"
)

var literalMarker = regexp.MustCompile(`\{(\d+)\}$`)

// Conn is a CRLF line transport over TCP or TLS. Every line sent or
// received is appended to the transcript, with secrets replaced by the
// caller-supplied redacted form.
type Conn struct {
	nc         net.Conn
	r          *bufio.Reader
	addr       string
	encrypted  bool
	broken     bool
	closed     bool
	ctx        context.Context
	stop       func() bool
	opts       Options
	logger     Logger
	transcript *Transcript
}

// Dial connects to host:port, upgrading to TLS when useTLS is set. The
// connect and handshake share opts.ConnectTimeout. Cancelling ctx aborts
// the dial and any later blocking read or write on the returned Conn.
func Dial(ctx context.Context, host string, port int, useTLS bool, opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var transcript *Transcript
	if opts.TranscriptPath != "" {
		t, err := OpenTranscript(opts.TranscriptPath)
		if err != nil {
			opts.Logger.Warn("transcript disabled", "path", opts.TranscriptPath, "error", err)
		} else {
			transcript = t
		}
	}

	var nc net.Conn
	var encrypted bool
	var lastErr error
	// Retry only the connection establishment
	err := retry.Retry(func() error {
		opts.Logger.Debug("establishing connection", "addr", addr, "tls", useTLS)
		c, err := dialOnce(ctx, host, addr, useTLS, opts)
		if err != nil {
			opts.Logger.Debug("failed to connect", "addr", addr, "error", err)
			lastErr = err
			return err
		}
		nc, encrypted = c, useTLS
		return nil
	}, opts.DialRetries, func(err error) error {
		opts.Logger.Warn("failed to connect, retrying shortly", "addr", addr, "error", err)
		return nil
	}, func() error {
		opts.Logger.Debug("retrying connection now", "addr", addr)
		return nil
	})
	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		transcript.Write(DirError, err.Error())
		_ = transcript.Close()
		return nil, err
	}

	c := &Conn{
		nc:         nc,
		r:          bufio.NewReader(nc),
		addr:       addr,
		encrypted:  encrypted,
		ctx:        ctx,
		opts:       opts,
		logger:     opts.Logger,
		transcript: transcript,
	}
	c.stop = context.AfterFunc(ctx, func() {
		_ = nc.SetDeadline(time.Unix(1, 0))
	})
	transcript.Write(DirInfo, fmt.Sprintf("CONNECTED %s tls=%t", addr, encrypted))
	return c, nil
}

func dialOnce(ctx context.Context, host, addr string, useTLS bool, opts Options) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	d := &net.Dialer{Timeout: opts.ConnectTimeout}
	raw, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, newTransportError(ctx, KindConnect, "connect failed "+addr, err, false)
	}
	if !useTLS {
		return raw, nil
	}

	var cfg *tls.Config
	if opts.TLSConfig != nil {
		cfg = opts.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	tc := tls.Client(raw, cfg)
	if err := tc.HandshakeContext(dctx); err != nil {
		_ = raw.Close()
		return nil, newTransportError(ctx, KindTLS, "tls handshake failed "+addr, err, false)
	}
	return tc, nil
}

// Encrypted reports whether the session runs over TLS.
func (c *Conn) Encrypted() bool { return c.encrypted }

// Broken reports whether a non-timeout transport error has been seen.
func (c *Conn) Broken() bool { return c.broken || c.closed }

// Transcript returns the session transcript, possibly nil.
func (c *Conn) Transcript() *Transcript { return c.transcript }

// fail records a transport error in the transcript. Timeouts leave the
// connection usable; anything else marks it broken.
func (c *Conn) fail(kind ErrorKind, what string, err error) error {
	te := newTransportError(c.ctx, kind, what, err, c.encrypted)
	if te.Kind != KindTimeout {
		c.broken = true
	}
	c.transcript.Write(DirError, te.Error())
	return te
}

func (c *Conn) setReadDeadline(timeout time.Duration) error {
	if c.closed {
		return ErrClosed
	}
	_ = c.nc.SetReadDeadline(time.Now().Add(timeout))
	if err := c.ctx.Err(); err != nil {
		return c.fail(KindCanceled, "read canceled", err)
	}
	return nil
}

// readChunk reads one raw line including its terminator.
func (c *Conn) readChunk(timeout time.Duration) ([]byte, error) {
	if err := c.setReadDeadline(timeout); err != nil {
		return nil, err
	}
	b, err := c.r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF {
			return nil, c.fail(KindIO, "connection closed by server", err)
		}
		return nil, c.fail(KindIO, "read failed", err)
	}
	return b, nil
}

// ReadGreeting reads the server greeting under the connect ceiling.
func (c *Conn) ReadGreeting() (string, error) {
	line, err := c.ReadLine(c.opts.ConnectTimeout)
	if err != nil {
		return "", err
	}
	if r := Classify(line, ""); r.Kind != Untagged || (r.Status != "OK" && r.Status != "PREAUTH") {
		return line, &ProtocolError{Command: "GREETING", Status: r.Status, Text: r.Text}
	}
	return line, nil
}

// ReadLine reads one line and trims surrounding whitespace. A timeout of
// zero uses Options.LineTimeout.
func (c *Conn) ReadLine(timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = c.opts.LineTimeout
	}
	b, err := c.readChunk(timeout)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(string(b))
	if line != "" {
		c.transcript.Write(DirServer, line)
	}
	return line, nil
}

// SendLine writes line followed by CRLF. The transcript records redacted
// when it is non-empty.
func (c *Conn) SendLine(line, redacted string) error {
	if c.closed {
		return ErrClosed
	}
	logged := line
	if redacted != "" {
		logged = redacted
	}
	c.transcript.Write(DirClient, logged)

	_ = c.nc.SetWriteDeadline(time.Now().Add(c.opts.LineTimeout))
	if err := c.ctx.Err(); err != nil {
		return c.fail(KindCanceled, "write canceled", err)
	}
	if _, err := io.WriteString(c.nc, line+"\r\n"); err != nil {
		// a timed out TLS write leaves the session unusable
		c.broken = true
		return c.fail(KindIO, "write failed", err)
	}
	return nil
}

// ReadUntilTag collects non-empty lines up to and including the tagged
// completion. On failure the lines read so far are returned with the error.
func (c *Conn) ReadUntilTag(tag string) ([]string, error) {
	var lines []string
	for {
		line, err := c.ReadLine(c.opts.ResponseTimeout)
		if err != nil {
			return lines, err
		}
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if hasTagPrefix(line, tag) {
			return lines, nil
		}
	}
}

// ReadUntilTagRaw is ReadUntilTag preserving exact bytes and line endings.
// The tagged completion is detected on every line, literal payloads
// included, so a literal shorter than declared never swallows the
// completion. Literal payloads are summarised in the transcript.
func (c *Conn) ReadUntilTagRaw(tag string) ([][]byte, error) {
	var chunks [][]byte
	pending, literal := 0, 0
	flush := func() {
		if literal > 0 {
			c.transcript.Write(DirServer, fmt.Sprintf("[literal %d bytes]", literal))
			literal = 0
		}
	}
	defer flush()

	for {
		b, err := c.readChunk(c.opts.ResponseTimeout)
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, b)
		text := strings.TrimSpace(string(b))

		if hasTagPrefix(text, tag) {
			flush()
			c.transcript.Write(DirServer, text)
			return chunks, nil
		}
		if pending > 0 {
			pending -= len(b)
			literal += len(b)
			if pending <= 0 {
				flush()
			}
			continue
		}
		if text != "" {
			c.transcript.Write(DirServer, text)
		}
		if m := literalMarker.FindStringSubmatch(string(dropNl(b))); m != nil {
			pending, _ = strconv.Atoi(m[1])
		}
	}
}

// Close disconnects. It is safe to call more than once.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if c.stop != nil {
		c.stop()
	}
	err := c.nc.Close()
	_ = c.transcript.Close()
	if err != nil {
		return fmt.Errorf("imap close: %w", err)
	}
	return nil
}
