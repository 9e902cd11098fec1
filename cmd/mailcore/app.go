package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	imap "github.com/ngksmail/go-imapsync"
	"github.com/ngksmail/go-imapsync/internal/audit"
	"github.com/ngksmail/go-imapsync/internal/config"
	"github.com/ngksmail/go-imapsync/internal/credential"
	"github.com/ngksmail/go-imapsync/internal/paths"
	"github.com/ngksmail/go-imapsync/mailsync"
	"github.com/ngksmail/go-imapsync/oauth"
	"github.com/ngksmail/go-imapsync/provider"
	"github.com/ngksmail/go-imapsync/store"
)

// app holds the state shared by every command.
type app struct {
	configPath string
	envFile    string
	logLevel   string
	artifacts  string

	out    io.Writer
	cfg    *config.Config
	layout paths.Layout
	logger *slog.Logger
	audit  *audit.Log
	db     *store.DB
	broker *oauth.Broker
	ring   *credential.Ring
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mailcore",
		Short:         "Validate, mirror and synchronise IMAP mail accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "settings file (default <artifacts>/config/settings.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "trace, debug, info, warn or error")
	root.PersistentFlags().StringVar(&a.artifacts, "artifacts", "", "artifacts directory (default "+paths.DefaultRoot+")")

	root.AddCommand(
		a.resolveCmd(),
		a.connectCmd(),
		a.loginCmd(),
		a.syncCmd(),
		a.accountsCmd(),
		a.foldersCmd(),
		a.messagesCmd(),
		a.markReadCmd(),
		a.deleteCmd(),
		a.parseCmd(),
		a.oauthSelfTestCmd(),
		a.configCmd(),
	)
	return root
}

func (a *app) setup() error {
	path := a.configPath
	if path == "" {
		root := a.artifacts
		if root == "" {
			root = paths.DefaultRoot
		}
		path = paths.New(root).ConfigFile()
	}
	cfg, err := config.Load(path, a.envFile)
	if err != nil {
		return err
	}
	if a.artifacts != "" {
		cfg.ArtifactsDir = a.artifacts
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.layout = cfg.Layout()
	a.logger = config.NewLogger(os.Stderr, level)

	if err := a.layout.EnsureDirs(); err != nil {
		return err
	}
	a.audit = audit.New(a.layout.Audit(), a.logger)
	a.audit.Start(a.layout.DB(""))
	a.broker = oauth.NewBroker(a.logger)
	return nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
	a.audit.Exit()
}

// store opens the database on first use.
func (a *app) store() (*store.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := store.Open(a.layout.DB(""))
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// keyring opens the OS keyring on first use. It is optional: a host
// without a usable backend only loses keyring: references.
func (a *app) keyring() *credential.Ring {
	if a.ring != nil {
		return a.ring
	}
	ring, err := credential.Open(filepath.Join(a.layout.Root, "keyring"))
	if err != nil {
		a.logger.Debug("keyring unavailable", "error", err)
		return nil
	}
	a.ring = ring
	return ring
}

func (a *app) imapOptions() imap.Options {
	c := a.cfg.IMAP
	opts := imap.Options{
		ConnectTimeout:  c.ConnectTimeout,
		LineTimeout:     c.LineTimeout,
		ResponseTimeout: c.ResponseTimeout,
		DialRetries:     c.DialRetries,
		NoopProbe:       c.NoopProbe,
		TranscriptDir:   a.layout.IMAPLogs(),
	}
	if c.TLSSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return opts
}

func (a *app) loopback() provider.Loopback {
	o := a.cfg.OAuth
	lb := provider.Loopback{
		ListenPort:     o.ListenPort,
		ListenHTTPS:    o.ListenHTTPS,
		RedirectScheme: o.RedirectScheme,
		RedirectHost:   o.RedirectHost,
		CertPath:       o.CertPath,
		KeyPath:        o.KeyPath,
		Timeout:        o.Timeout,
		ProofDir:       a.layout.Proof(),
	}
	if lb.ListenHTTPS && lb.CertPath == "" && lb.KeyPath == "" {
		lb.CertPath, lb.KeyPath = a.layout.CertPair()
	}
	return lb
}

// clients returns the OAuth client of a provider from the environment,
// then the settings file.
func (a *app) clients(id provider.ID) provider.ClientCredentials {
	p, _ := provider.Lookup(id)
	pc := a.cfg.Provider(string(id))
	return p.EnvClient().Merge(provider.ClientCredentials{ClientID: pc.ClientID, ClientSecret: pc.ClientSecret})
}

// clientsWithStore adds the provider_clients table as a last source.
func (a *app) clientsWithStore(ctx context.Context, db *store.DB, id provider.ID) (provider.ClientCredentials, error) {
	c := a.clients(id)
	if c.ClientID != "" {
		return c, nil
	}
	cid, secret, err := db.ProviderClientCredentials(ctx, string(id))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return c, err
	}
	return c.Merge(provider.ClientCredentials{ClientID: cid, ClientSecret: secret}), nil
}

func (a *app) engine(db *store.DB) *mailsync.Engine {
	return &mailsync.Engine{
		DB:      db,
		Broker:  a.broker,
		Ring:    a.keyring(),
		Clients: a.clients,
		Audit:   a.audit,
		Logger:  a.logger,
		Options: a.imapOptions(),
	}
}

func (a *app) mailbox(db *store.DB) *mailsync.Mailbox {
	return &mailsync.Mailbox{DB: db, Engine: a.engine(db), Limit: a.cfg.Sync.Limit, Logger: a.logger}
}

func (a *app) printYAML(v any) error {
	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}

func providerArg(s string) (provider.ID, provider.Profile, error) {
	id, err := provider.Parse(s)
	if err != nil {
		var known []string
		for _, k := range provider.All() {
			known = append(known, string(k))
		}
		return "", provider.Profile{}, fmt.Errorf("%w (known: %s)", err, strings.Join(known, ", "))
	}
	p, _ := provider.Lookup(id)
	return id, p, nil
}
