// Package imaptest runs a scriptable in-process IMAP server for tests.
package imaptest

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// XOAuth2Mode scripts the AUTHENTICATE XOAUTH2 exchange.
type XOAuth2Mode int

const (
	// XOAuth2Accept sends "+" and checks the payload against Config.Tokens.
	XOAuth2Accept XOAuth2Mode = iota
	// XOAuth2RejectImmediately answers the command with a tagged NO.
	XOAuth2RejectImmediately
	// XOAuth2SecondChallenge answers a bad token with a base64 JSON
	// challenge, waits for the client's empty line, then fails.
	XOAuth2SecondChallenge
	// XOAuth2CapabilityThenSilence accepts the payload with an untagged
	// CAPABILITY and never sends the tagged completion.
	XOAuth2CapabilityThenSilence
)

// GmailChallenge is the JSON document sent by XOAuth2SecondChallenge.
const GmailChallenge = `{"status":"400","schemes":"Bearer","scope":"https://mail.google.com/"}`

// Message is a stored message.
type Message struct {
	UID   int
	Flags []string
	Body  []byte
	// DeclaredSize overrides len(Body) in the {N} literal marker.
	DeclaredSize int
	// FetchNo makes UID FETCH of this message fail with a tagged NO.
	FetchNo bool
	// Hangup closes the connection halfway through the FETCH reply.
	Hangup bool
}

// Config scripts the server. It is fixed once the server starts.
type Config struct {
	Plain        bool
	Greeting     string
	Capabilities []string

	Users   map[string]string // LOGIN user -> password
	Tokens  map[string]string // XOAUTH2 user -> access token
	XOAuth2 XOAuth2Mode

	Namespace       string   // NAMESPACE payload, e.g. `(("" "/")) NIL NIL`
	ListLines       []string // LIST payloads, e.g. `(\HasNoChildren) "/" "INBOX"`
	SpecialUseLines []string // LIST (SPECIAL-USE) and XLIST payloads
	FailList        bool
	XList           bool

	Mailboxes map[string][]Message
	// SearchLineSize splits UID SEARCH results across several lines.
	SearchLineSize int
}

// Server is a running mock IMAP server.
type Server struct {
	cfg      Config
	listener net.Listener
	pool     *x509.CertPool

	mu       sync.Mutex
	commands []string
	payloads []string
	fetched  []int
	auths    int32
}

// NewServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB, cfg Config) *Server {
	t.Helper()
	s := &Server{cfg: cfg}
	var err error
	if cfg.Plain {
		s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	} else {
		var certPEM, keyPEM []byte
		certPEM, keyPEM, err = GenerateCertificate()
		if err != nil {
			t.Fatalf("failed to generate certificate: %v", err)
		}
		cert, kerr := tls.X509KeyPair(certPEM, keyPEM)
		if kerr != nil {
			t.Fatalf("failed to load certificate: %v", kerr)
		}
		s.pool = x509.NewCertPool()
		s.pool.AppendCertsFromPEM(certPEM)
		s.listener, err = tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	}
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

// Close stops accepting connections.
func (s *Server) Close() { _ = s.listener.Close() }

// Host returns the listening host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

// ClientTLSConfig trusts the server certificate.
func (s *Server) ClientTLSConfig() *tls.Config {
	return &tls.Config{RootCAs: s.pool}
}

// Commands returns every command received, without tags.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Payloads returns the decoded XOAUTH2 payloads received.
func (s *Server) Payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

// Fetched returns the UIDs fetched, in request order.
func (s *Server) Fetched() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.fetched...)
}

// AuthAttempts counts LOGIN and AUTHENTICATE commands.
func (s *Server) AuthAttempts() int { return int(atomic.LoadInt32(&s.auths)) }

func (s *Server) record(cmd string) {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	greeting := s.cfg.Greeting
	if greeting == "" {
		greeting = "* OK IMAP4rev1 Mock Server Ready"
	}
	writer.WriteString(greeting + "\r\n")
	writer.Flush()

	var selected []Message
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		tag, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		command, args, _ := strings.Cut(rest, " ")
		command = strings.ToUpper(command)
		if command == "UID" {
			sub, more, _ := strings.Cut(args, " ")
			command, args = "UID "+strings.ToUpper(sub), more
		}
		s.record(strings.TrimSpace(command + " " + args))

		switch command {
		case "CAPABILITY":
			writer.WriteString("* CAPABILITY " + strings.Join(append([]string{"IMAP4rev1"}, s.cfg.Capabilities...), " ") + "\r\n")
			fmt.Fprintf(writer, "%s OK CAPABILITY completed\r\n", tag)

		case "LOGIN":
			atomic.AddInt32(&s.auths, 1)
			parts := ParseArgs(args)
			if len(parts) == 2 && s.cfg.Users != nil && s.cfg.Users[parts[0]] == parts[1] {
				fmt.Fprintf(writer, "%s OK LOGIN completed\r\n", tag)
			} else {
				fmt.Fprintf(writer, "%s NO [AUTHENTICATIONFAILED] Authentication failed\r\n", tag)
			}

		case "AUTHENTICATE":
			atomic.AddInt32(&s.auths, 1)
			if !s.authenticate(tag, args, reader, writer) {
				return
			}

		case "NAMESPACE":
			if s.cfg.Namespace != "" {
				writer.WriteString("* NAMESPACE " + s.cfg.Namespace + "\r\n")
			}
			fmt.Fprintf(writer, "%s OK NAMESPACE completed\r\n", tag)

		case "LIST":
			if s.cfg.FailList {
				fmt.Fprintf(writer, "%s NO LIST failed\r\n", tag)
				break
			}
			lines := s.cfg.ListLines
			if strings.HasPrefix(strings.ToUpper(args), "(SPECIAL-USE)") {
				lines = s.cfg.SpecialUseLines
			}
			for _, l := range lines {
				writer.WriteString("* LIST " + l + "\r\n")
			}
			fmt.Fprintf(writer, "%s OK LIST completed\r\n", tag)

		case "XLIST":
			if !s.cfg.XList {
				fmt.Fprintf(writer, "%s BAD unknown command\r\n", tag)
				break
			}
			for _, l := range s.cfg.SpecialUseLines {
				writer.WriteString("* XLIST " + l + "\r\n")
			}
			fmt.Fprintf(writer, "%s OK XLIST completed\r\n", tag)

		case "SELECT":
			parts := ParseArgs(args)
			msgs, ok := []Message(nil), false
			if len(parts) == 1 {
				msgs, ok = s.cfg.Mailboxes[parts[0]]
			}
			if !ok {
				fmt.Fprintf(writer, "%s NO [NONEXISTENT] Unknown mailbox\r\n", tag)
				break
			}
			selected = msgs
			writer.WriteString("* FLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)\r\n")
			fmt.Fprintf(writer, "* %d EXISTS\r\n", len(msgs))
			writer.WriteString("* OK [UIDVALIDITY 1] UIDs valid\r\n")
			fmt.Fprintf(writer, "%s OK [READ-WRITE] SELECT completed\r\n", tag)

		case "UID SEARCH":
			s.search(writer, selected)
			fmt.Fprintf(writer, "%s OK SEARCH completed\r\n", tag)

		case "UID FETCH":
			if !s.fetch(tag, args, writer, selected) {
				writer.Flush()
				return
			}

		case "NOOP":
			fmt.Fprintf(writer, "%s OK NOOP completed\r\n", tag)

		case "LOGOUT":
			writer.WriteString("* BYE IMAP4rev1 Server logging out\r\n")
			fmt.Fprintf(writer, "%s OK LOGOUT completed\r\n", tag)
			writer.Flush()
			return

		default:
			fmt.Fprintf(writer, "%s BAD unknown command\r\n", tag)
		}

		writer.Flush()
	}
}

// authenticate runs the scripted XOAUTH2 exchange. It returns false when
// the connection should be dropped.
func (s *Server) authenticate(tag, args string, reader *bufio.Reader, writer *bufio.Writer) bool {
	if !strings.EqualFold(strings.TrimSpace(args), "XOAUTH2") {
		fmt.Fprintf(writer, "%s NO unsupported mechanism\r\n", tag)
		return true
	}
	if s.cfg.XOAuth2 == XOAuth2RejectImmediately {
		fmt.Fprintf(writer, "%s NO [AUTHENTICATIONFAILED] Invalid credentials\r\n", tag)
		return true
	}
	writer.WriteString("+ \r\n")
	writer.Flush()

	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line))
	if err != nil {
		fmt.Fprintf(writer, "%s BAD invalid base64\r\n", tag)
		return true
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, string(raw))
	s.mu.Unlock()

	user, token := splitPayload(string(raw))
	valid := token != "" && s.cfg.Tokens != nil && s.cfg.Tokens[user] == token

	switch {
	case valid && s.cfg.XOAuth2 == XOAuth2CapabilityThenSilence:
		writer.WriteString("* CAPABILITY IMAP4rev1 AUTH=XOAUTH2\r\n")
	case valid:
		fmt.Fprintf(writer, "%s OK AUTHENTICATE completed\r\n", tag)
	case s.cfg.XOAuth2 == XOAuth2SecondChallenge:
		writer.WriteString("+ " + base64.StdEncoding.EncodeToString([]byte(GmailChallenge)) + "\r\n")
		writer.Flush()
		if _, err := reader.ReadString('\n'); err != nil {
			return false
		}
		s.record("<empty response>")
		fmt.Fprintf(writer, "%s NO [AUTHENTICATIONFAILED] Invalid credentials (Failure)\r\n", tag)
	default:
		fmt.Fprintf(writer, "%s NO [AUTHENTICATIONFAILED] Invalid credentials\r\n", tag)
	}
	return true
}

func splitPayload(raw string) (user, token string) {
	for _, field := range strings.Split(raw, "\x01") {
		switch {
		case strings.HasPrefix(field, "user="):
			user = strings.TrimPrefix(field, "user=")
		case strings.HasPrefix(field, "auth=Bearer "):
			token = strings.TrimPrefix(field, "auth=Bearer ")
		}
	}
	return user, token
}

func (s *Server) search(writer *bufio.Writer, msgs []Message) {
	size := s.cfg.SearchLineSize
	if size <= 0 {
		size = len(msgs) + 1
	}
	if len(msgs) == 0 {
		writer.WriteString("* SEARCH\r\n")
		return
	}
	for start := 0; start < len(msgs); start += size {
		end := min(start+size, len(msgs))
		uids := make([]string, 0, end-start)
		for _, m := range msgs[start:end] {
			uids = append(uids, strconv.Itoa(m.UID))
		}
		writer.WriteString("* SEARCH " + strings.Join(uids, " ") + "\r\n")
	}
}

// fetch answers UID FETCH. It returns false when the connection should
// be dropped.
func (s *Server) fetch(tag, args string, writer *bufio.Writer, msgs []Message) bool {
	uidStr, _, _ := strings.Cut(args, " ")
	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		fmt.Fprintf(writer, "%s BAD invalid uid\r\n", tag)
		return true
	}
	s.mu.Lock()
	s.fetched = append(s.fetched, uid)
	s.mu.Unlock()

	for i, m := range msgs {
		if m.UID != uid {
			continue
		}
		if m.FetchNo {
			fmt.Fprintf(writer, "%s NO fetch failed\r\n", tag)
			return true
		}
		size := len(m.Body)
		if m.DeclaredSize > 0 {
			size = m.DeclaredSize
		}
		fmt.Fprintf(writer, "* %d FETCH (UID %d FLAGS (%s) BODY[] {%d}\r\n", i+1, m.UID, strings.Join(m.Flags, " "), size)
		if m.Hangup {
			writer.Write(m.Body[:len(m.Body)/2])
			return false
		}
		writer.Write(m.Body)
		writer.WriteString(")\r\n")
		break
	}
	fmt.Fprintf(writer, "%s OK FETCH completed\r\n", tag)
	return true
}

// ParseArgs splits IMAP arguments into quoted strings and atoms,
// unescaping backslash and quote.
func ParseArgs(s string) []string {
	var out []string
	i := 0
	for i < len(s) {
		switch {
		case s[i] == ' ':
			i++
		case s[i] == '"':
			var b strings.Builder
			i++
			for i < len(s) && s[i] != '"' {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				b.WriteByte(s[i])
				i++
			}
			i++
			out = append(out, b.String())
		default:
			j := strings.IndexByte(s[i:], ' ')
			if j < 0 {
				j = len(s) - i
			}
			out = append(out, s[i:i+j])
			i += j
		}
	}
	return out
}

// GenerateCertificate returns a self-signed PEM certificate and key valid
// for localhost and 127.0.0.1.
func GenerateCertificate() (certPEM, keyPEM []byte, err error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Co"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	return certPEM, keyPEM, nil
}

// WriteCertificate writes a fresh pair into dir and returns the file paths
// and a pool trusting the certificate.
func WriteCertificate(t testing.TB, dir string) (certPath, keyPath string, pool *x509.CertPool) {
	t.Helper()
	certPEM, keyPEM, err := GenerateCertificate()
	if err != nil {
		t.Fatalf("failed to generate certificate: %v", err)
	}
	certPath = filepath.Join(dir, "localhost.crt.pem")
	keyPath = filepath.Join(dir, "localhost.key.pem")
	if err := os.WriteFile(certPath, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	pool = x509.NewCertPool()
	pool.AppendCertsFromPEM(certPEM)
	return certPath, keyPath, pool
}
