package oauth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
)

const maxTokenBody = 1 << 20

// breaker returns the circuit breaker guarding tokenURL. Client errors
// (4xx) do not count against the endpoint.
func (b *Broker) breaker(tokenURL string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.breakers == nil {
		b.breakers = make(map[string]*gobreaker.CircuitBreaker)
	}
	if cb, ok := b.breakers[tokenURL]; ok {
		return cb
	}
	name := tokenURL
	if u, err := url.Parse(tokenURL); err == nil {
		name = u.Host
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "oauth-token " + name,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var te *TokenError
			if errors.As(err, &te) {
				return te.ParseErr == nil && te.HTTPStatus >= 400 && te.HTTPStatus < 500
			}
			return err == nil || errors.Is(err, ErrMissingAccessToken)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.Logger.Warn("token endpoint circuit changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	b.breakers[tokenURL] = cb
	return cb
}

// tokenConfig is the oauth2 configuration used against the token
// endpoint. Credentials always travel in the form body.
func tokenConfig(cfg Config, redirectURI string, sendSecret bool) *oauth2.Config {
	oc := cfg.oauth2Config(redirectURI)
	oc.Endpoint.AuthStyle = oauth2.AuthStyleInParams
	if !sendSecret {
		oc.ClientSecret = ""
	}
	return oc
}

// retrieve runs fetch under the endpoint's circuit breaker with an HTTP
// client that keeps the last token response for error reporting.
func (b *Broker) retrieve(ctx context.Context, tokenURL string, fetch func(context.Context) (*oauth2.Token, error)) (*oauth2.Token, error) {
	out, err := b.breaker(tokenURL).Execute(func() (any, error) {
		client := &http.Client{}
		if b.HTTPClient != nil {
			c := *b.HTTPClient
			client = &c
		}
		rec := &recordingTransport{base: client.Transport}
		client.Transport = rec
		tok, err := fetch(context.WithValue(ctx, oauth2.HTTPClient, client))
		if err != nil {
			return nil, tokenFailure(err, rec.response())
		}
		return tok, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*oauth2.Token), nil
}

type tokenReply struct {
	status int
	body   []byte
}

// recordingTransport keeps a copy of the last response body it passed on.
type recordingTransport struct {
	base http.RoundTripper

	mu   sync.Mutex
	last *tokenReply
}

func (t *recordingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("token response: %w", err)
	}
	t.mu.Lock()
	t.last = &tokenReply{status: resp.StatusCode, body: body}
	t.mu.Unlock()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

func (t *recordingTransport) response() *tokenReply {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// tokenFailure maps an oauth2 retrieval error onto TokenError, using the
// recorded reply when the library did not keep one.
func tokenFailure(err error, reply *tokenReply) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		reply = &tokenReply{status: re.Response.StatusCode, body: re.Body}
	}
	if reply == nil {
		return fmt.Errorf("token request: %w", err)
	}

	var doc struct {
		AccessToken string `json:"access_token"`
	}
	parseErr := json.Unmarshal(reply.body, &doc)
	if parseErr == nil && !bytes.HasPrefix(bytes.TrimSpace(reply.body), []byte("{")) {
		parseErr = errors.New("not a json object")
	}
	switch {
	case parseErr != nil:
		return &TokenError{HTTPStatus: reply.status, ParseErr: parseErr, Raw: string(reply.body[:min(len(reply.body), 300)])}
	case re != nil:
		return &TokenError{HTTPStatus: reply.status, Code: re.ErrorCode, Description: re.ErrorDescription}
	case doc.AccessToken == "":
		return ErrMissingAccessToken
	}
	return fmt.Errorf("token request: %w", err)
}
