package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	imap "github.com/ngksmail/go-imapsync"
	"github.com/ngksmail/go-imapsync/internal/audit"
	"github.com/ngksmail/go-imapsync/internal/credential"
	"github.com/ngksmail/go-imapsync/mailsync"
	"github.com/ngksmail/go-imapsync/provider"
	"github.com/ngksmail/go-imapsync/store"
)

type folderOut struct {
	Name       string   `yaml:"name"`
	Display    string   `yaml:"display"`
	Delimiter  string   `yaml:"delimiter"`
	SpecialUse string   `yaml:"special_use,omitempty"`
	Attributes []string `yaml:"attributes,flow,omitempty"`
}

type resolveOut struct {
	Email      string      `yaml:"email"`
	Provider   string      `yaml:"provider"`
	AccountID  int64       `yaml:"account_id,omitempty"`
	Transcript string      `yaml:"transcript"`
	Folders    []folderOut `yaml:"folders"`
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// resolve validates req and enumerates its folders, auditing the outcome.
func (a *app) resolve(ctx context.Context, req imap.ConnectRequest, providerID string) ([]imap.Folder, string, error) {
	opts := a.imapOptions()
	opts.Logger = imap.SlogLogger(a.logger)
	folders, transcript, err := imap.ResolveAccount(ctx, req, opts)
	payload := map[string]any{"provider": providerID, "email": req.Email, "host": req.Host, "transcript": transcript}
	if err != nil {
		payload["error"] = err.Error()
		a.audit.Event(audit.ResolveFail, payload)
		return nil, transcript, err
	}
	payload["folders"] = len(folders)
	a.audit.Event(audit.ResolveOK, payload)
	return folders, transcript, nil
}

func (a *app) resolveAndMirror(ctx context.Context, req imap.ConnectRequest, providerID, ref string) error {
	folders, transcript, err := a.resolve(ctx, req, providerID)
	if err != nil {
		return fmt.Errorf("resolving %s: %w (transcript %s)", req.Email, err, transcript)
	}
	db, err := a.store()
	if err != nil {
		return err
	}
	id, err := mailsync.Mirror(ctx, db, req, providerID, ref, folders)
	if err != nil {
		return err
	}
	return a.printYAML(resolveReport(req.Email, providerID, id, transcript, folders))
}

func resolveReport(email, providerID string, accountID int64, transcript string, folders []imap.Folder) resolveOut {
	out := resolveOut{Email: email, Provider: providerID, AccountID: accountID, Transcript: transcript}
	for _, f := range folders {
		out.Folders = append(out.Folders, folderOut{
			Name:       f.RemoteName,
			Display:    f.DisplayName,
			Delimiter:  f.Delimiter,
			SpecialUse: f.SpecialUse.String(),
			Attributes: f.Attributes,
		})
	}
	return out
}

// endpoint fills host and port from the provider profile when unset.
func endpoint(p provider.Profile, host string, port int) (string, int, error) {
	if host == "" {
		host = p.IMAPHost
	}
	if port == 0 {
		port = p.IMAPPort
	}
	if host == "" || port <= 0 {
		return "", 0, fmt.Errorf("provider %s has no IMAP host; pass --host", p.ID)
	}
	return host, port, nil
}

func (a *app) resolveCmd() *cobra.Command {
	var (
		host, username, token, providerName string
		port                                int
		plain, save                         bool
	)
	cmd := &cobra.Command{
		Use:   "resolve <email>",
		Short: "Validate an account and list its folders",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			email := strings.TrimSpace(args[0])

			id := provider.IMAP
			if providerName != "" {
				parsed, _, err := providerArg(providerName)
				if err != nil {
					return err
				}
				id = parsed
			} else if found, ok := provider.Discover(email); ok {
				id = found
			}
			p, _ := provider.Lookup(id)
			host, port, err := endpoint(p, host, port)
			if err != nil {
				return err
			}

			req := imap.ConnectRequest{Email: email, Host: host, Port: port, TLS: !plain}
			req.Credentials.Username = username
			if token != "" {
				req.Credentials.UseBearer = true
				req.Credentials.AccessToken = token
			} else {
				pw, err := readPassword(fmt.Sprintf("Password for %s: ", email))
				if err != nil {
					return err
				}
				req.Credentials.Password = pw
			}

			if !save {
				folders, transcript, err := a.resolve(ctx, req, string(id))
				if err != nil {
					return fmt.Errorf("resolving %s: %w (transcript %s)", email, err, transcript)
				}
				return a.printYAML(resolveReport(email, string(id), 0, transcript, folders))
			}

			db, err := a.store()
			if err != nil {
				return err
			}
			var ref string
			if req.Credentials.UseBearer {
				ref = credential.OAuthRef(string(id), email)
				err = db.PutOAuthToken(ctx, store.OAuthToken{Provider: string(id), Email: email, AccessToken: token})
			} else {
				user := username
				if user == "" {
					user = email
				}
				ref = credential.BasicRef(string(id), email)
				err = db.PutBasicCredentials(ctx, store.BasicCredential{Provider: string(id), Email: email, Username: user, Secret: req.Credentials.Password})
			}
			if err != nil {
				return err
			}
			return a.resolveAndMirror(ctx, req, string(id), ref)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "IMAP host (default from the provider)")
	cmd.Flags().IntVar(&port, "port", 0, "IMAP port (default from the provider)")
	cmd.Flags().BoolVar(&plain, "plain", false, "connect without TLS")
	cmd.Flags().StringVar(&username, "username", "", "login name (default the email)")
	cmd.Flags().StringVar(&token, "token", "", "XOAUTH2 access token instead of a password")
	cmd.Flags().StringVar(&providerName, "provider", "", "provider id (default discovered from the email)")
	cmd.Flags().BoolVar(&save, "save", false, "store the credentials and mirror the account")
	return cmd
}

func (a *app) connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <provider> <email>",
		Short: "Authorise an OAuth account in the browser, then resolve and mirror it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, p, err := providerArg(args[0])
			if err != nil {
				return err
			}
			if p.AuthType != provider.OAuthPKCE {
				return fmt.Errorf("provider %s uses passwords; use login", id)
			}
			email := strings.TrimSpace(args[1])
			db, err := a.store()
			if err != nil {
				return err
			}
			client, err := a.clientsWithStore(ctx, db, id)
			if err != nil {
				return err
			}
			cfg, err := provider.OAuthConfig(id, email, client, a.loopback())
			if err != nil {
				return err
			}

			res, proof, err := a.broker.ConnectAndFetchTokens(ctx, cfg)
			payload := map[string]any{"provider": string(id), "email": email, "proof": proof}
			if err != nil {
				payload["error"] = err.Error()
				a.audit.Event(audit.OAuthFail, payload)
				return fmt.Errorf("oauth %s: %w (proof %s)", id, err, proof)
			}
			a.audit.Event(audit.OAuthOK, payload)

			err = db.PutOAuthToken(ctx, store.OAuthToken{
				Provider:     string(id),
				Email:        email,
				RefreshToken: res.RefreshToken,
				AccessToken:  res.AccessToken,
				ExpiresAtUTC: res.ExpiresAt.Unix(),
				ClientID:     client.ClientID,
				ClientSecret: client.ClientSecret,
			})
			if err != nil {
				return err
			}
			req := imap.ConnectRequest{
				Email:       email,
				Host:        p.IMAPHost,
				Port:        p.IMAPPort,
				TLS:         true,
				Credentials: imap.Credentials{UseBearer: true, Username: email, AccessToken: res.AccessToken},
			}
			return a.resolveAndMirror(ctx, req, string(id), credential.OAuthRef(string(id), email))
		},
	}
}

func (a *app) loginCmd() *cobra.Command {
	var (
		host, username string
		port           int
		plain, useRing bool
	)
	cmd := &cobra.Command{
		Use:   "login <provider> <email>",
		Short: "Store a password account, then resolve and mirror it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, p, err := providerArg(args[0])
			if err != nil {
				return err
			}
			if p.AuthType != provider.Basic {
				return fmt.Errorf("provider %s uses oauth; use connect", id)
			}
			email := strings.TrimSpace(args[1])
			host, port, err := endpoint(p, host, port)
			if err != nil {
				return err
			}
			user := username
			if user == "" {
				user = email
			}
			pw, err := readPassword(fmt.Sprintf("%s password for %s: ", p.DisplayName, email))
			if err != nil {
				return err
			}

			db, err := a.store()
			if err != nil {
				return err
			}
			ref := credential.BasicRef(string(id), email)
			if useRing {
				ring := a.keyring()
				if ring == nil {
					return fmt.Errorf("no keyring backend available")
				}
				if err := ring.SetLogin(email, user, pw); err != nil {
					return err
				}
				ref = "keyring:" + email
			} else if err := db.PutBasicCredentials(ctx, store.BasicCredential{Provider: string(id), Email: email, Username: user, Secret: pw}); err != nil {
				return err
			}

			req := imap.ConnectRequest{
				Email:       email,
				Host:        host,
				Port:        port,
				TLS:         !plain,
				Credentials: imap.Credentials{Username: user, Password: pw},
			}
			return a.resolveAndMirror(ctx, req, string(id), ref)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "IMAP host (default from the provider)")
	cmd.Flags().IntVar(&port, "port", 0, "IMAP port (default from the provider)")
	cmd.Flags().BoolVar(&plain, "plain", false, "connect without TLS")
	cmd.Flags().StringVar(&username, "username", "", "login name (default the email)")
	cmd.Flags().BoolVar(&useRing, "keyring", false, "keep the password in the OS keyring instead of the database")
	return cmd
}
