package imap

import (
	"errors"
	"strings"
)

// AuthState tracks the authentication handshake.
type AuthState int

const (
	StateIdle AuthState = iota
	StateCapabilityQueried
	StateAuthenticating
	StateSentPasswordLogin
	StateSentBearerCommand
	StateAwaitingBearerContinuation
	StateSentBearerPayload
	StateAwaitingCompletion
	StateAuthenticated
	StateFailed
)

var authStateNames = [...]string{
	"idle",
	"capability-queried",
	"authenticating",
	"sent-password-login",
	"sent-bearer-command",
	"awaiting-bearer-continuation",
	"sent-bearer-payload",
	"awaiting-completion",
	"authenticated",
	"failed",
}

func (s AuthState) String() string {
	if int(s) < len(authStateNames) {
		return authStateNames[s]
	}
	return "unknown"
}

// Credentials selects LOGIN or XOAUTH2.
type Credentials struct {
	UseBearer   bool
	Username    string
	Password    string
	AccessToken string
}

// State returns the current authentication state.
func (d *Dialer) State() AuthState {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.state
}

func (d *Dialer) setState(s AuthState) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	d.state = s
}

// Capability queries and stores the server capabilities.
func (d *Dialer) Capability() ([]string, error) {
	res, err := d.Exec("CAPABILITY", "")
	if err != nil {
		return nil, err
	}
	var caps []string
	for _, line := range res.Untagged("CAPABILITY") {
		caps = append(caps, strings.Fields(Classify(line, res.Tag).Text)...)
	}
	d.Capabilities = caps
	if d.State() == StateIdle {
		d.setState(StateCapabilityQueried)
	}
	return caps, nil
}

// HasCapability reports whether the server advertised name.
func (d *Dialer) HasCapability(name string) bool {
	for _, c := range d.Capabilities {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Authenticate runs LOGIN or XOAUTH2 depending on creds.
func (d *Dialer) Authenticate(creds Credentials) error {
	if creds.UseBearer {
		return d.AuthenticateXOAUTH2(creds.Username, creds.AccessToken)
	}
	return d.Login(creds.Username, creds.Password)
}

// Login performs LOGIN authentication using username and password
func (d *Dialer) Login(username string, password string) error {
	d.setState(StateAuthenticating)
	d.setState(StateSentPasswordLogin)
	cmd := `LOGIN ` + quote(username) + ` ` + quote(password)
	redacted := `LOGIN ` + quote(username) + ` "` + Redacted + `"`
	if _, err := d.Exec(cmd, redacted); err != nil {
		d.setState(StateFailed)
		d.logger.Warn("login failed", "user", username, "error", err)
		return &AuthError{Mechanism: "LOGIN", Reason: ReasonLoginFailed, Err: err}
	}
	d.setState(StateAuthenticated)
	return nil
}

// AuthenticateXOAUTH2 runs AUTHENTICATE XOAUTH2 as a two step exchange: the
// command, a "+" continuation, then the base64 payload. A payload with the
// wrong shape is refused before anything is sent. A second continuation is
// answered once with an empty line. Every failure carries a diagnostic.
func (d *Dialer) AuthenticateXOAUTH2(user, accessToken string) error {
	payload := NewXOAuth2Payload(user, accessToken)
	diag := newAuthDiagnostic(payload)
	d.LastDiagnostic = diag
	d.setState(StateAuthenticating)

	fail := func(reason string, err error) error {
		d.setState(StateFailed)
		d.logger.Warn("xoauth2 failed", "reason", reason, "diagnostic", diag.String())
		return &AuthError{Mechanism: "XOAUTH2", Reason: reason, Diagnostic: diag, Err: err}
	}

	if !payload.ShapeOK() {
		return fail(ReasonInvalidShape, nil)
	}

	tag := d.nextTag()
	diag.Tag = tag
	diag.Phase = "send-command"
	if err := d.send(tag, "AUTHENTICATE XOAUTH2", ""); err != nil {
		return fail(ReasonXOAuth2Failed, err)
	}
	d.setState(StateSentBearerCommand)

	d.setState(StateAwaitingBearerContinuation)
	diag.Phase = "await-continuation"
	first, err := d.conn.ReadLine(d.opts.ResponseTimeout)
	if err != nil {
		return fail(ReasonMissingContinuation, err)
	}
	r := Classify(first, tag)
	diag.observe(r)
	if r.Kind != Continuation {
		if r.Kind != Tagged {
			lines, _ := d.conn.ReadUntilTag(tag)
			for _, line := range lines {
				diag.observe(Classify(line, tag))
			}
		}
		return fail(ReasonXOAuth2Rejected, nil)
	}

	diag.Phase = "send-payload"
	if err := d.conn.SendLine(payload.Encoded, Redacted); err != nil {
		return fail(ReasonXOAuth2Failed, err)
	}
	d.setState(StateSentBearerPayload)

	d.setState(StateAwaitingCompletion)
	diag.Phase = "await-completion"
	sentEmpty := false
	for i := 0; i < MaxAuthReads; i++ {
		line, err := d.conn.ReadLine(d.opts.ResponseTimeout)
		if err != nil {
			if isTimeout(err) && d.opts.NoopProbe && diag.SawCapability {
				return d.noopProbe(diag, fail, err)
			}
			return fail(ReasonXOAuth2Failed, err)
		}
		if line == "" {
			continue
		}
		r := Classify(line, tag)
		diag.observe(r)
		switch r.Kind {
		case Continuation:
			if !sentEmpty {
				sentEmpty = true
				diag.Phase = "answer-second-challenge"
				if err := d.conn.SendLine("", ""); err != nil {
					return fail(ReasonXOAuth2Failed, err)
				}
				diag.Phase = "await-completion"
			}
		case Tagged:
			if r.OK() {
				diag.Phase = "authenticated"
				d.setState(StateAuthenticated)
				return nil
			}
			return fail(ReasonXOAuth2Failed, nil)
		}
	}
	diag.Phase = "read-limit"
	return fail(ReasonXOAuth2Failed, errors.New("no tagged completion"))
}

// noopProbe accepts the session when the completion line never came but
// the server already pushed CAPABILITY and now answers NOOP. The original
// AUTHENTICATE outcome is unknown, so acceptance is logged loudly.
func (d *Dialer) noopProbe(diag *AuthDiagnostic, fail func(string, error) error, cause error) error {
	diag.Phase = "noop-probe"
	if err := d.Noop(); err != nil {
		return fail(ReasonXOAuth2Failed, errors.Join(cause, err))
	}
	diag.ProbeAccepted = true
	diag.Phase = "authenticated"
	d.setState(StateAuthenticated)
	d.logger.Warn("xoauth2 completion missing, session accepted after NOOP", "diagnostic", diag.String())
	return nil
}
