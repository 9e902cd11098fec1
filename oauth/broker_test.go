package oauth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ngksmail/go-imapsync/internal/imaptest"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker(slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.Now = func() time.Time { return fixedNow }
	b.OpenBrowser = func(string) error {
		t.Error("browser must not be opened")
		return nil
	}
	return b
}

// tokenServer records every form it receives and answers with reply.
type tokenServer struct {
	*httptest.Server
	mu    sync.Mutex
	forms []url.Values
	hits  atomic.Int32
}

func newTokenServer(t *testing.T, status int, reply string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.hits.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("Content-Type = %q", ct)
		}
		ts.mu.Lock()
		ts.forms = append(ts.forms, r.PostForm)
		ts.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) lastForm() url.Values {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.forms) == 0 {
		return nil
	}
	return ts.forms[len(ts.forms)-1]
}

func httpConfig(t *testing.T, tokenURL string) Config {
	return Config{
		Provider:       "gmail",
		Email:          "user@example.com",
		ClientID:       "client-1",
		ClientSecret:   "shh",
		Endpoint:       oauth2.Endpoint{AuthURL: "https://auth.example.com/authorize", TokenURL: tokenURL},
		Scopes:         []string{"https://mail.google.com/"},
		RedirectScheme: "http",
		RedirectHost:   "127.0.0.1",
		Timeout:        5 * time.Second,
		ProofDir:       filepath.Join(t.TempDir(), "_proof"),
	}
}

// redirectingBrowser follows the authorization URL to the loopback
// listener, appending query built from the auth URL's state.
type redirectingBrowser struct {
	t      *testing.T
	client *http.Client
	query  func(state string) string

	authURL chan *url.URL
	page    chan string
}

func newRedirectingBrowser(t *testing.T, client *http.Client, query func(state string) string) *redirectingBrowser {
	if client == nil {
		client = http.DefaultClient
	}
	return &redirectingBrowser{t: t, client: client, query: query, authURL: make(chan *url.URL, 1), page: make(chan string, 1)}
}

func (rb *redirectingBrowser) open(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	rb.authURL <- u
	q := u.Query()
	target := q.Get("redirect_uri") + "?" + rb.query(q.Get("state"))
	go func() {
		resp, err := rb.client.Get(target)
		if err != nil {
			rb.t.Errorf("callback request: %v", err)
			rb.page <- ""
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		rb.page <- string(b)
	}()
	return nil
}

func codeQuery(code string) func(string) string {
	return func(state string) string {
		return url.Values{"code": {code}, "state": {state}}.Encode()
	}
}

func readProof(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading proof: %v", err)
	}
	return string(b)
}

func TestValidateLoopback(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"http ok", Config{RedirectScheme: "http", RedirectHost: "127.0.0.1"}, ""},
		{"https ok", Config{ListenHTTPS: true, RedirectScheme: "HTTPS", RedirectHost: "localhost", ListenPort: 8443}, ""},
		{"https scheme without https listener", Config{RedirectScheme: "https", RedirectHost: "localhost", ListenPort: 8443}, "invalid-http-config redirectScheme must be http"},
		{"https listener with http scheme", Config{ListenHTTPS: true, RedirectScheme: "http", RedirectHost: "localhost", ListenPort: 1}, "invalid-https-config redirectScheme must be https"},
		{"https listener on ip", Config{ListenHTTPS: true, RedirectScheme: "https", RedirectHost: "127.0.0.1", ListenPort: 1}, "invalid-https-config redirectHost must be localhost"},
		{"https listener without port", Config{ListenHTTPS: true, RedirectScheme: "https", RedirectHost: "localhost"}, "invalid-https-config listenPort must be fixed and > 0"},
		{"empty host", Config{RedirectScheme: "http"}, "invalid-redirect-host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.ValidateLoopback()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) || ce.Reason != tt.want {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestConnectFailsValidationBeforeIO(t *testing.T) {
	ts := newTokenServer(t, 200, `{}`)
	b := testBroker(t)

	cfg := httpConfig(t, ts.URL)
	cfg.RedirectScheme = "https"
	cfg.ListenPort = 1 // would need privileges to bind
	_, proofPath, err := b.ConnectAndFetchTokens(context.Background(), cfg)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if ts.hits.Load() != 0 {
		t.Error("token endpoint contacted")
	}
	if !strings.Contains(readProof(t, proofPath), "ERROR=invalid-http-config redirectScheme must be http\n") {
		t.Errorf("proof missing error line")
	}

	cfg = httpConfig(t, ts.URL)
	cfg.SendClientSecret, cfg.ClientSecret = true, " "
	if _, _, err := b.ConnectAndFetchTokens(context.Background(), cfg); err == nil || err.Error() != "missing-client-secret" {
		t.Errorf("error = %v, want missing-client-secret", err)
	}
	cfg.ClientID = ""
	if _, _, err := b.ConnectAndFetchTokens(context.Background(), cfg); err == nil || err.Error() != "missing-client-id" {
		t.Errorf("error = %v, want missing-client-id", err)
	}
}

func TestConnectAndFetchTokens(t *testing.T) {
	ts := newTokenServer(t, 200, `{"access_token":"AT-123","refresh_token":"RT-456","expires_in":3600,"token_type":"Bearer"}`)
	b := testBroker(t)
	rb := newRedirectingBrowser(t, nil, codeQuery("CODE-789"))
	b.OpenBrowser = rb.open

	cfg := httpConfig(t, ts.URL)
	cfg.IncludeScope = true
	res, proofPath, err := b.ConnectAndFetchTokens(context.Background(), cfg)
	if err != nil {
		t.Fatalf("ConnectAndFetchTokens: %v", err)
	}
	if res.AccessToken != "AT-123" || res.RefreshToken != "RT-456" {
		t.Errorf("result = %+v", res)
	}
	if !res.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", res.ExpiresAt)
	}
	if page := <-rb.page; !strings.Contains(page, "OAuth OK") {
		t.Errorf("callback page = %q", page)
	}

	auth := <-rb.authURL
	aq := auth.Query()
	for k, want := range map[string]string{
		"client_id":             "client-1",
		"response_type":         "code",
		"scope":                 "https://mail.google.com/",
		"access_type":           "offline",
		"prompt":                "consent",
		"code_challenge_method": "S256",
	} {
		if got := aq.Get(k); got != want {
			t.Errorf("auth url %s = %q, want %q", k, got, want)
		}
	}
	if !strings.HasPrefix(aq.Get("redirect_uri"), "http://127.0.0.1:") || !strings.HasSuffix(aq.Get("redirect_uri"), "/callback") {
		t.Errorf("redirect_uri = %q", aq.Get("redirect_uri"))
	}

	form := ts.lastForm()
	if form.Get("grant_type") != "authorization_code" || form.Get("code") != "CODE-789" || form.Get("client_id") != "client-1" {
		t.Errorf("form = %v", form)
	}
	if form.Get("redirect_uri") != aq.Get("redirect_uri") {
		t.Errorf("redirect_uri mismatch: %q vs %q", form.Get("redirect_uri"), aq.Get("redirect_uri"))
	}
	if got := oauth2.S256ChallengeFromVerifier(form.Get("code_verifier")); got != aq.Get("code_challenge") {
		t.Errorf("verifier does not match challenge")
	}
	if len(form.Get("code_verifier")) != 64 {
		t.Errorf("verifier length = %d", len(form.Get("code_verifier")))
	}
	if form.Has("client_secret") {
		t.Error("client_secret sent without policy")
	}
	if form.Get("scope") != "https://mail.google.com/" {
		t.Errorf("scope = %q", form.Get("scope"))
	}

	proof := readProof(t, proofPath)
	for _, want := range []string{"=== 30 OAUTH CONNECT ===\n", "PROVIDER=gmail\n", "EMAIL=user@example.com\n", "AUTH_URL_OPENED=yes\n", "OAUTH_HTTP_FIRSTLINE=GET /callback?", "OAUTH_CODE=RECEIVED\n", "TOKEN_OK=yes\n", "EXPIRES_AT_UTC=1709298000\n"} {
		if !strings.Contains(proof, want) {
			t.Errorf("proof missing %q:\n%s", want, proof)
		}
	}
	for _, secret := range []string{"AT-123", "RT-456", "shh"} {
		if strings.Contains(proof, secret) {
			t.Errorf("proof leaks %q", secret)
		}
	}
	if !strings.HasPrefix(filepath.Base(proofPath), "30_oauth_connect_gmail_20240301_120000_000") {
		t.Errorf("proof path = %q", proofPath)
	}
}

func TestConnectSendsSecretByPolicy(t *testing.T) {
	ts := newTokenServer(t, 200, `{"access_token":"a","refresh_token":"r","expires_in":"60"}`)
	b := testBroker(t)
	b.OpenBrowser = newRedirectingBrowser(t, nil, codeQuery("c")).open

	cfg := httpConfig(t, ts.URL)
	cfg.SendClientSecret = true
	res, _, err := b.ConnectAndFetchTokens(context.Background(), cfg)
	if err != nil {
		t.Fatalf("ConnectAndFetchTokens: %v", err)
	}
	if form := ts.lastForm(); form.Get("client_secret") != "shh" || form.Has("scope") {
		t.Errorf("form = %v", form)
	}
	if !res.ExpiresAt.Equal(fixedNow.Add(time.Minute)) {
		t.Errorf("string expires_in not honoured: %v", res.ExpiresAt)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestConnectHTTPS(t *testing.T) {
	certPath, keyPath, pool := imaptest.WriteCertificate(t, t.TempDir())
	ts := newTokenServer(t, 200, `{"access_token":"a","refresh_token":"r","expires_in":10}`)
	b := testBroker(t)
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}
	rb := newRedirectingBrowser(t, client, codeQuery("c"))
	b.OpenBrowser = rb.open

	cfg := httpConfig(t, ts.URL)
	cfg.ListenHTTPS = true
	cfg.RedirectScheme = "https"
	cfg.RedirectHost = "localhost"
	cfg.ListenPort = freePort(t)
	cfg.CertPath, cfg.KeyPath = certPath, keyPath

	if _, _, err := b.ConnectAndFetchTokens(context.Background(), cfg); err != nil {
		t.Fatalf("ConnectAndFetchTokens: %v", err)
	}
	if page := <-rb.page; !strings.Contains(page, "OAuth OK") {
		t.Errorf("callback page = %q", page)
	}
	if got := (<-rb.authURL).Query().Get("redirect_uri"); !strings.HasPrefix(got, "https://localhost:") {
		t.Errorf("redirect_uri = %q", got)
	}
}

func TestMissingTLSMaterial(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		ClientID:       "c",
		Endpoint:       oauth2.Endpoint{AuthURL: "https://a", TokenURL: "https://t"},
		ListenHTTPS:    true,
		RedirectScheme: "https",
		RedirectHost:   "localhost",
		ListenPort:     freePort(t),
		CertPath:       filepath.Join(dir, "missing.crt.pem"),
		KeyPath:        filepath.Join(dir, "missing.key.pem"),
	}
	b := testBroker(t)
	_, _, err := b.ConnectAndFetchTokens(context.Background(), cfg)
	var me *MissingTLSCertError
	if !errors.As(err, &me) {
		t.Fatalf("error = %v, want *MissingTLSCertError", err)
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "missing_tls_cert\nCERT_PATH="+cfg.CertPath+"\nKEY_PATH="+cfg.KeyPath+"\n") || !strings.Contains(msg, "openssl req -x509") {
		t.Errorf("message = %q", msg)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("cause should be preserved")
	}

	if _, err := b.SelfTest(cfg); !errors.As(err, &me) {
		t.Errorf("SelfTest error = %v", err)
	}
}

func TestCallbackFailures(t *testing.T) {
	tests := []struct {
		name  string
		query func(state string) string
		want  string
		page  string
	}{
		{"provider error", func(string) string { return "error=access_denied" }, "oauth-error=access_denied", "OAuth failed"},
		{"missing code", func(state string) string { return "state=" + state }, "oauth-missing-code", "OAuth missing code"},
		{"state mismatch", func(string) string { return "code=c&state=forged" }, "oauth-state-mismatch", "OAuth failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, 200, `{}`)
			b := testBroker(t)
			rb := newRedirectingBrowser(t, nil, tt.query)
			b.OpenBrowser = rb.open

			_, proofPath, err := b.ConnectAndFetchTokens(context.Background(), httpConfig(t, ts.URL))
			var ce *CallbackError
			if !errors.As(err, &ce) || ce.Reason != tt.want {
				t.Fatalf("error = %v, want %q", err, tt.want)
			}
			if page := <-rb.page; !strings.Contains(page, tt.page) {
				t.Errorf("page = %q", page)
			}
			if ts.hits.Load() != 0 {
				t.Error("token endpoint contacted")
			}
			proof := readProof(t, proofPath)
			if !strings.Contains(proof, "OAUTH_CODE=EMPTY\n") || !strings.Contains(proof, "ERROR="+tt.want+"\n") {
				t.Errorf("proof:\n%s", proof)
			}
		})
	}
}

func TestCallbackTimeout(t *testing.T) {
	b := testBroker(t)
	b.OpenBrowser = func(string) error { return errors.New("no display") }
	cfg := httpConfig(t, "http://127.0.0.1:1/token")
	cfg.Timeout = 50 * time.Millisecond

	_, proofPath, err := b.ConnectAndFetchTokens(context.Background(), cfg)
	if !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("error = %v, want %v", err, ErrCallbackTimeout)
	}
	if proof := readProof(t, proofPath); !strings.Contains(proof, "OAUTH_WAIT=timeout\nERROR=oauth-timeout\n") {
		t.Errorf("proof:\n%s", proof)
	}
}

func TestTokenExchangeFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "http error",
			status: 400,
			reply:  `{"error":"invalid_grant","error_description":"Bad code"}`,
			check: func(t *testing.T, err error) {
				if err == nil || err.Error() != "token-http-failed http=400 error=invalid_grant desc=Bad code" {
					t.Errorf("error = %v", err)
				}
			},
		},
		{
			name:   "not json",
			status: 502,
			reply:  "<html>bad gateway</html>",
			check: func(t *testing.T, err error) {
				var te *TokenError
				if !errors.As(err, &te) || te.ParseErr == nil || te.HTTPStatus != 502 {
					t.Fatalf("error = %v", err)
				}
				if !strings.HasPrefix(err.Error(), "token-json-parse-failed http=502 err=") || !strings.HasSuffix(err.Error(), "raw=<html>bad gateway</html>") {
					t.Errorf("error = %q", err)
				}
			},
		},
		{
			name:   "json array",
			status: 200,
			reply:  `[]`,
			check: func(t *testing.T, err error) {
				if err == nil || !strings.HasPrefix(err.Error(), "token-json-parse-failed http=200") {
					t.Errorf("error = %v", err)
				}
			},
		},
		{
			name:   "missing refresh token",
			status: 200,
			reply:  `{"access_token":"a","expires_in":10}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingRefreshToken) {
					t.Errorf("error = %v", err)
				}
			},
		},
		{
			name:   "missing access token",
			status: 200,
			reply:  `{"refresh_token":"r"}`,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMissingAccessToken) {
					t.Errorf("error = %v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, tt.status, tt.reply)
			b := testBroker(t)
			b.OpenBrowser = newRedirectingBrowser(t, nil, codeQuery("c")).open
			res, _, err := b.ConnectAndFetchTokens(context.Background(), httpConfig(t, ts.URL))
			if res != nil {
				t.Errorf("partial result returned: %+v", res)
			}
			tt.check(t, err)
		})
	}
}

func TestRefreshAccessToken(t *testing.T) {
	ts := newTokenServer(t, 200, `{"access_token":"fresh","expires_in":1800}`)
	b := testBroker(t)
	cfg := httpConfig(t, ts.URL)

	res, err := b.RefreshAccessToken(context.Background(), cfg, "RT")
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if res.AccessToken != "fresh" || res.RefreshToken != "RT" || !res.ExpiresAt.Equal(fixedNow.Add(30*time.Minute)) {
		t.Errorf("result = %+v", res)
	}
	form := ts.lastForm()
	if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "RT" || form.Get("client_secret") != "shh" {
		t.Errorf("form = %v", form)
	}
	if tok := res.Token(); tok.AccessToken != "fresh" || tok.Expiry != res.ExpiresAt || tok.TokenType != "Bearer" {
		t.Errorf("Token() = %+v", tok)
	}

	if _, err := b.RefreshAccessToken(context.Background(), cfg, ""); !errors.Is(err, ErrMissingRefreshToken) {
		t.Errorf("empty refresh token error = %v", err)
	}
	cfg.ClientID = ""
	if _, err := b.RefreshAccessToken(context.Background(), cfg, "RT"); err == nil || err.Error() != "missing-client-id" {
		t.Errorf("missing client id error = %v", err)
	}
}

func TestRefreshFormEncodedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		io.WriteString(w, "access_token=fresh&token_type=bearer&expires_in=600")
	}))
	t.Cleanup(srv.Close)

	b := testBroker(t)
	res, err := b.RefreshAccessToken(context.Background(), httpConfig(t, srv.URL), "RT")
	if err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if res.AccessToken != "fresh" || res.RefreshToken != "RT" {
		t.Errorf("result = %+v", res)
	}
	if d := res.ExpiresAt.Sub(fixedNow); d < 598*time.Second || d > 600*time.Second {
		t.Errorf("ExpiresAt = %v, want about ten minutes after %v", res.ExpiresAt, fixedNow)
	}
}

func TestRefreshErrorInSuccessReply(t *testing.T) {
	ts := newTokenServer(t, 200, `{"error":"invalid_grant","error_description":"revoked"}`)
	b := testBroker(t)

	_, err := b.RefreshAccessToken(context.Background(), httpConfig(t, ts.URL), "RT")
	var te *TokenError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want *TokenError", err)
	}
	if te.HTTPStatus != 200 || te.Code != "invalid_grant" || te.Description != "revoked" {
		t.Errorf("TokenError = %+v", te)
	}
}

func TestRefreshUsesBrokerClient(t *testing.T) {
	ts := newTokenServer(t, 200, `{"access_token":"fresh","expires_in":60}`)
	var calls atomic.Int32
	b := testBroker(t)
	b.HTTPClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return http.DefaultTransport.RoundTrip(r)
	})}

	if _, err := b.RefreshAccessToken(context.Background(), httpConfig(t, ts.URL), "RT"); err != nil {
		t.Fatalf("RefreshAccessToken: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("broker client used %d times, want 1", calls.Load())
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestTokenEndpointBreaker(t *testing.T) {
	ts := newTokenServer(t, 500, `{"error":"server_error"}`)
	b := testBroker(t)
	cfg := httpConfig(t, ts.URL)

	for i := 0; i < 5; i++ {
		if _, err := b.RefreshAccessToken(context.Background(), cfg, "RT"); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := b.RefreshAccessToken(context.Background(), cfg, "RT")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error = %v, want open circuit", err)
	}
	if got := ts.hits.Load(); got != 5 {
		t.Errorf("token endpoint hit %d times", got)
	}

	// client errors leave the circuit closed
	bad := newTokenServer(t, 400, `{"error":"invalid_grant"}`)
	cfg.Endpoint.TokenURL = bad.URL
	for i := 0; i < 7; i++ {
		if _, err := b.RefreshAccessToken(context.Background(), cfg, "RT"); errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("circuit opened on client error at attempt %d", i)
		}
	}
}

func TestSelfTest(t *testing.T) {
	b := testBroker(t)
	uri, err := b.SelfTest(Config{RedirectScheme: "http", RedirectHost: "127.0.0.1"})
	if err != nil {
		t.Fatalf("SelfTest: %v", err)
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "http" || u.Hostname() != "127.0.0.1" || u.Port() == "0" || u.Path != "/callback" {
		t.Errorf("redirect uri = %q", uri)
	}

	certPath, keyPath, _ := imaptest.WriteCertificate(t, t.TempDir())
	port := freePort(t)
	uri, err = b.SelfTest(Config{ListenHTTPS: true, RedirectScheme: "https", RedirectHost: "localhost", ListenPort: port, CertPath: certPath, KeyPath: keyPath})
	if err != nil {
		t.Fatalf("SelfTest https: %v", err)
	}
	if want := fmt.Sprintf("https://localhost:%d/callback", port); uri != want {
		t.Errorf("https redirect uri = %q, want %q", uri, want)
	}
}
