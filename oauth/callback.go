package oauth

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ngksmail/go-imapsync/internal/paths"
)

// ErrListen wraps a failure to bind the loopback listener.
var ErrListen = errors.New("oauth-listen-failed")

const (
	handshakeTimeout = 10 * time.Second
	requestTimeout   = 3 * time.Second
)

const (
	pageOK          = "<html><body><h3>OAuth OK</h3><p>You can close this tab and return to mailcore.</p></body></html>"
	pageFailed      = "<html><body><h3>OAuth failed</h3><p>You can close this tab.</p></body></html>"
	pageMissingCode = "<html><body><h3>OAuth missing code</h3><p>You can close this tab.</p></body></html>"
)

// Callback is what the browser redirect carried.
type Callback struct {
	FirstLine string
	Code      string
	State     string
	Error     string
}

type tlsPair struct {
	cert tls.Certificate
}

// loadTLS reads the loopback certificate pair, defaulting to the
// artifacts certs directory.
func loadTLS(cfg Config) (*tlsPair, error) {
	defCert, defKey := paths.New("").CertPair()
	certPath, keyPath := strings.TrimSpace(cfg.CertPath), strings.TrimSpace(cfg.KeyPath)
	if certPath == "" {
		certPath = defCert
	}
	if keyPath == "" {
		keyPath = defKey
	}
	for _, p := range []string{certPath, keyPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, &MissingTLSCertError{CertPath: certPath, KeyPath: keyPath, Err: err}
		}
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, &MissingTLSCertError{CertPath: certPath, KeyPath: keyPath, Err: err}
	}
	return &tlsPair{cert: cert}, nil
}

type listener struct {
	ln net.Listener
}

// listen binds 127.0.0.1:port; port 0 picks a free one.
func listen(port int) (*listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(max(port, 0))))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrListen, err)
	}
	return &listener{ln: ln}, nil
}

func (l *listener) Port() int { return l.ln.Addr().(*net.TCPAddr).Port }

func (l *listener) Close() error { return l.ln.Close() }

// Wait accepts exactly one connection, upgrades it to TLS when pair is
// set, reads the request line and answers with a canned page. The
// returned Callback is non-nil whenever a request line was read.
func (l *listener) Wait(ctx context.Context, timeout time.Duration, pair *tlsPair, state string) (*Callback, error) {
	type accepted struct {
		conn net.Conn
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		c, err := l.ln.Accept()
		ch <- accepted{c, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var conn net.Conn
	select {
	case a := <-ch:
		if a.err != nil {
			return nil, &CallbackError{Reason: "oauth-no-socket", Err: a.err}
		}
		conn = a.conn
	case <-timer.C:
		_ = l.ln.Close()
		return nil, ErrCallbackTimeout
	case <-ctx.Done():
		_ = l.ln.Close()
		return nil, &CallbackError{Reason: "oauth-canceled", Err: ctx.Err()}
	}
	defer conn.Close()

	if pair != nil {
		tc := tls.Server(conn, &tls.Config{Certificates: []tls.Certificate{pair.cert}})
		hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		err := tc.HandshakeContext(hctx)
		cancel()
		if err != nil {
			return nil, &CallbackError{Reason: "oauth-https-handshake-failed", Err: err}
		}
		conn = tc
	}

	_ = conn.SetDeadline(time.Now().Add(requestTimeout))
	r := bufio.NewReader(conn)
	first, err := r.ReadString('\n')
	first = strings.TrimSpace(first)
	if first == "" {
		return nil, &CallbackError{Reason: "oauth-bad-http", Err: err}
	}
	// drain the headers so closing does not reset the connection
	for {
		line, err := r.ReadString('\n')
		if err != nil || strings.TrimSpace(line) == "" {
			break
		}
	}

	cb := &Callback{FirstLine: first}
	fields := strings.Fields(first)
	if len(fields) < 2 {
		return cb, &CallbackError{Reason: "oauth-bad-http-line"}
	}
	u, err := url.Parse("http://localhost" + fields[1])
	if err != nil {
		return cb, &CallbackError{Reason: "oauth-bad-http-line", Err: err}
	}
	q := u.Query()
	cb.Code, cb.State, cb.Error = q.Get("code"), q.Get("state"), q.Get("error")

	page := pageOK
	var cbErr error
	switch {
	case cb.Error != "":
		page, cbErr = pageFailed, &CallbackError{Reason: "oauth-error=" + cb.Error}
	case cb.Code == "":
		page, cbErr = pageMissingCode, &CallbackError{Reason: "oauth-missing-code"}
	case cb.State != state:
		page, cbErr = pageFailed, &CallbackError{Reason: "oauth-state-mismatch"}
		cb.Code = ""
	}

	fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(page), page)
	return cb, cbErr
}
