package main

import (
	"fmt"
	"os"

	humanize "github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ngksmail/go-imapsync/mimeparse"
	"github.com/ngksmail/go-imapsync/provider"
)

type attachmentOut struct {
	Name        string `yaml:"name"`
	ContentType string `yaml:"content_type"`
	Inline      bool   `yaml:"inline"`
	ContentID   string `yaml:"content_id,omitempty"`
	Size        string `yaml:"size"`
}

type parsedOut struct {
	Subject     string          `yaml:"subject"`
	From        string          `yaml:"from"`
	Date        string          `yaml:"date"`
	MessageID   string          `yaml:"message_id"`
	Parts       int             `yaml:"parts"`
	Text        string          `yaml:"text"`
	HTMLSize    string          `yaml:"html_size"`
	Attachments []attachmentOut `yaml:"attachments,omitempty"`
}

func (a *app) parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>",
		Short: "Decode a raw RFC 822 message and print its fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			m, err := mimeparse.Parse(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			out := parsedOut{
				Subject:   m.Subject,
				From:      m.From,
				Date:      m.Date,
				MessageID: m.MessageID,
				Parts:     m.Parts,
				Text:      m.Text,
				HTMLSize:  humanize.Bytes(uint64(len(m.HTML))),
			}
			for _, att := range m.Attachments {
				out.Attachments = append(out.Attachments, attachmentOut{
					Name:        att.Name,
					ContentType: att.ContentType,
					Inline:      att.Inline,
					ContentID:   att.CID(),
					Size:        humanize.Bytes(uint64(len(att.Data))),
				})
			}
			return a.printYAML(out)
		},
	}
}

func (a *app) oauthSelfTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "oauth-selftest <provider>",
		Short: "Check the loopback redirect settings without contacting the provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, _, err := providerArg(args[0])
			if err != nil {
				return err
			}
			cfg, err := provider.OAuthConfig(id, "", a.clients(id), a.loopback())
			if err != nil {
				return err
			}
			uri, err := a.broker.SelfTest(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "redirect_uri:", uri)
			return nil
		},
	}
}

func (a *app) configCmd() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if save {
				path := a.configPath
				if path == "" {
					path = a.layout.ConfigFile()
				}
				if err := a.cfg.Save(path); err != nil {
					return err
				}
				fmt.Fprintln(os.Stderr, "saved", path)
			}
			b, err := a.cfg.Dump()
			if err != nil {
				return err
			}
			_, err = a.out.Write(b)
			return err
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write the effective configuration to the settings file")
	return cmd
}
