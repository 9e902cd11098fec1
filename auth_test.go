package imap

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ngksmail/go-imapsync/internal/imaptest"
)

func TestLogin(t *testing.T) {
	srv := imaptest.NewServer(t, imaptest.Config{
		Users: map[string]string{"user@example.com": `pa"ss\word`},
	})

	t.Run("valid credentials", func(t *testing.T) {
		opts := testOptions(t, srv)
		d := connectTest(t, srv, opts)
		if err := d.Login("user@example.com", `pa"ss\word`); err != nil {
			t.Fatalf("Login: %v", err)
		}
		if d.State() != StateAuthenticated {
			t.Errorf("state = %s, want authenticated", d.State())
		}
		_ = d.Close()

		transcript, err := os.ReadFile(opts.TranscriptPath)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(transcript), "ss\\\\word") {
			t.Errorf("password leaked into transcript:\n%s", transcript)
		}
		if !strings.Contains(string(transcript), `LOGIN "user@example.com" "<REDACTED>"`) {
			t.Errorf("transcript missing redacted LOGIN:\n%s", transcript)
		}
	})

	t.Run("invalid credentials", func(t *testing.T) {
		d := connectTest(t, srv, testOptions(t, srv))
		err := d.Login("user@example.com", "wrong")
		var ae *AuthError
		if !errors.As(err, &ae) || ae.Reason != ReasonLoginFailed {
			t.Fatalf("Login error = %v, want %s", err, ReasonLoginFailed)
		}
		var pe *ProtocolError
		if !errors.As(err, &pe) || pe.Status != "NO" {
			t.Errorf("expected wrapped NO completion, got %v", err)
		}
		if d.State() != StateFailed {
			t.Errorf("state = %s, want failed", d.State())
		}
	})
}

func TestAuthenticateXOAUTH2(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		srv := imaptest.NewServer(t, imaptest.Config{
			Tokens: map[string]string{"a@b": "TOKEN"},
		})
		opts := testOptions(t, srv)
		d := connectTest(t, srv, opts)
		if err := d.AuthenticateXOAUTH2("a@b", "Bearer TOKEN"); err != nil {
			t.Fatalf("AuthenticateXOAUTH2: %v", err)
		}
		if d.State() != StateAuthenticated {
			t.Errorf("state = %s, want authenticated", d.State())
		}
		payloads := srv.Payloads()
		if len(payloads) != 1 || payloads[0] != "user=a@b\x01auth=Bearer TOKEN\x01\x01" {
			t.Errorf("payloads = %q", payloads)
		}
		_ = d.Close()
		transcript, _ := os.ReadFile(opts.TranscriptPath)
		if strings.Contains(string(transcript), "TOKEN") {
			t.Errorf("token leaked into transcript:\n%s", transcript)
		}
	})

	t.Run("rejected without continuation", func(t *testing.T) {
		srv := imaptest.NewServer(t, imaptest.Config{XOAuth2: imaptest.XOAuth2RejectImmediately})
		d := connectTest(t, srv, testOptions(t, srv))
		err := d.AuthenticateXOAUTH2("a@b", "TOKEN")
		var ae *AuthError
		if !errors.As(err, &ae) || ae.Reason != ReasonXOAuth2Rejected {
			t.Fatalf("error = %v, want %s", err, ReasonXOAuth2Rejected)
		}
		if ae.Diagnostic.SawContinuation {
			t.Error("diagnostic should not report a continuation")
		}
		if !strings.Contains(ae.Diagnostic.LastTagged, "NO [AUTHENTICATIONFAILED]") {
			t.Errorf("last tagged = %q", ae.Diagnostic.LastTagged)
		}
		if len(srv.Payloads()) != 0 {
			t.Error("payload must not be sent after a rejection")
		}
	})

	t.Run("second challenge answered once", func(t *testing.T) {
		srv := imaptest.NewServer(t, imaptest.Config{
			XOAuth2: imaptest.XOAuth2SecondChallenge,
			Tokens:  map[string]string{"a@b": "GOOD"},
		})
		d := connectTest(t, srv, testOptions(t, srv))
		err := d.AuthenticateXOAUTH2("a@b", "BAD")
		var ae *AuthError
		if !errors.As(err, &ae) || ae.Reason != ReasonXOAuth2Failed {
			t.Fatalf("error = %v, want %s", err, ReasonXOAuth2Failed)
		}
		diag := ae.Diagnostic
		if !diag.SawContinuation {
			t.Error("expected continuation to be recorded")
		}
		if !strings.Contains(diag.ServerChallenge, `"status":"400"`) {
			t.Errorf("server challenge = %q", diag.ServerChallenge)
		}
		if diag.Phase != "await-completion" {
			t.Errorf("phase = %q", diag.Phase)
		}
		empties := 0
		for _, c := range srv.Commands() {
			if c == "<empty response>" {
				empties++
			}
		}
		if empties != 1 {
			t.Errorf("empty responses = %d, want 1", empties)
		}
		s := diag.String()
		for _, want := range []string{"auth_bearer_count=1", "first_auth_bearer_pos=9", "saw_plus_continuation=true", "xoauth2_shape_ok=true"} {
			if !strings.Contains(s, want) {
				t.Errorf("diagnostic %q missing %q", s, want)
			}
		}
	})

	t.Run("invalid shape is never sent", func(t *testing.T) {
		srv := imaptest.NewServer(t, imaptest.Config{})
		d := connectTest(t, srv, testOptions(t, srv))
		err := d.AuthenticateXOAUTH2("a@b", "x auth=Bearer y")
		var ae *AuthError
		if !errors.As(err, &ae) || ae.Reason != ReasonInvalidShape {
			t.Fatalf("error = %v, want %s", err, ReasonInvalidShape)
		}
		if ae.Diagnostic.ShapeReason != ShapeInvalidBearerCnt || ae.Diagnostic.BearerCount != 2 {
			t.Errorf("diagnostic = %+v", ae.Diagnostic)
		}
		if srv.AuthAttempts() != 0 {
			t.Errorf("server saw %d auth attempts, want 0", srv.AuthAttempts())
		}
	})
}

func TestAuthenticateXOAUTH2NoopProbe(t *testing.T) {
	newServer := func(t *testing.T) *imaptest.Server {
		return imaptest.NewServer(t, imaptest.Config{
			XOAuth2: imaptest.XOAuth2CapabilityThenSilence,
			Tokens:  map[string]string{"a@b": "TOKEN"},
		})
	}

	t.Run("disabled", func(t *testing.T) {
		srv := newServer(t)
		opts := testOptions(t, srv)
		opts.ResponseTimeout = 200 * time.Millisecond
		d := connectTest(t, srv, opts)
		err := d.AuthenticateXOAUTH2("a@b", "TOKEN")
		if err == nil {
			t.Fatal("expected failure without the NOOP probe")
		}
		if !isTimeout(err) {
			t.Errorf("expected a timeout cause, got %v", err)
		}
	})

	t.Run("enabled", func(t *testing.T) {
		srv := newServer(t)
		opts := testOptions(t, srv)
		opts.ResponseTimeout = 200 * time.Millisecond
		opts.NoopProbe = true
		d := connectTest(t, srv, opts)
		if err := d.AuthenticateXOAUTH2("a@b", "TOKEN"); err != nil {
			t.Fatalf("AuthenticateXOAUTH2: %v", err)
		}
		if d.LastDiagnostic == nil || !d.LastDiagnostic.ProbeAccepted {
			t.Errorf("diagnostic should record the probe: %+v", d.LastDiagnostic)
		}
		cmds := srv.Commands()
		if cmds[len(cmds)-1] != "NOOP" {
			t.Errorf("last command = %q, want NOOP", cmds[len(cmds)-1])
		}
	})
}

func TestCapability(t *testing.T) {
	srv := imaptest.NewServer(t, imaptest.Config{Capabilities: []string{"NAMESPACE", "SPECIAL-USE", "AUTH=XOAUTH2"}})
	d := connectTest(t, srv, testOptions(t, srv))
	if _, err := d.Capability(); err != nil {
		t.Fatal(err)
	}
	if d.State() != StateCapabilityQueried {
		t.Errorf("state = %s", d.State())
	}
	for _, c := range []string{"namespace", "SPECIAL-USE", "auth=xoauth2"} {
		if !d.HasCapability(c) {
			t.Errorf("missing capability %s in %v", c, d.Capabilities)
		}
	}
	if d.HasCapability("IDLE") {
		t.Error("unexpected IDLE capability")
	}
}
