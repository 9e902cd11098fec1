package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ngksmail/go-imapsync/mailsync"
	"github.com/ngksmail/go-imapsync/store"
)

func (a *app) syncCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sync <account-id> <folder-id>",
		Short: "Fetch the newest messages of a folder into the local store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			aid, err := mailsync.ParseID(args[0])
			if err != nil {
				return err
			}
			fid, err := mailsync.ParseID(args[1])
			if err != nil {
				return err
			}
			db, err := a.store()
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = a.cfg.Sync.Limit
			}
			rep, err := a.engine(db).SyncFolder(cmd.Context(), aid, fid, limit)
			if err != nil {
				if rep != nil && rep.TranscriptPath != "" {
					return fmt.Errorf("%w (transcript %s)", err, rep.TranscriptPath)
				}
				return err
			}
			fmt.Fprintln(a.out, rep)
			fmt.Fprintln(a.out, "transcript:", rep.TranscriptPath)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "number of newest messages to fetch (default sync.limit)")
	return cmd
}

type accountOut struct {
	ID         int64  `yaml:"id"`
	Email      string `yaml:"email"`
	Provider   string `yaml:"provider"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	TLS        string `yaml:"tls"`
	AuthMethod string `yaml:"auth_method"`
	Status     string `yaml:"status"`
}

func (a *app) accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List mirrored accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.store()
			if err != nil {
				return err
			}
			accounts, err := a.mailbox(db).ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			out := make([]accountOut, 0, len(accounts))
			for _, acc := range accounts {
				out = append(out, accountOut{
					ID: acc.ID, Email: acc.Email, Provider: acc.Provider, Host: acc.IMAPHost, Port: acc.IMAPPort,
					TLS: acc.TLSMode, AuthMethod: acc.AuthMethod, Status: acc.Status,
				})
			}
			return a.printYAML(out)
		},
	}
}

type storedFolderOut struct {
	ID         int64  `yaml:"id"`
	Name       string `yaml:"name"`
	Display    string `yaml:"display"`
	SpecialUse string `yaml:"special_use,omitempty"`
	SyncedAt   string `yaml:"synced_at,omitempty"`
}

func (a *app) foldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders <account-id>",
		Short: "List the mirrored folders of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aid, err := mailsync.ParseID(args[0])
			if err != nil {
				return err
			}
			db, err := a.store()
			if err != nil {
				return err
			}
			folders, err := a.mailbox(db).ListFolders(cmd.Context(), aid)
			if err != nil {
				return err
			}
			out := make([]storedFolderOut, 0, len(folders))
			for _, f := range folders {
				out = append(out, storedFolderOut{ID: f.ID, Name: f.RemoteName, Display: f.DisplayName, SpecialUse: f.SpecialUse, SyncedAt: f.SyncState})
			}
			return a.printYAML(out)
		},
	}
}

type messageOut struct {
	ID          int64    `yaml:"id"`
	UID         int64    `yaml:"uid"`
	Date        string   `yaml:"date"`
	From        string   `yaml:"from"`
	Subject     string   `yaml:"subject"`
	Read        bool     `yaml:"read"`
	Attachments []string `yaml:"attachments,flow,omitempty"`
	Body        string   `yaml:"body,omitempty"`
}

func toMessageOut(m store.Message, withBody bool) messageOut {
	out := messageOut{ID: m.ID, UID: m.RemoteUID, Date: m.DateUTC, From: m.From, Subject: m.Subject, Read: m.IsRead}
	var atts []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(m.AttachmentsJSON), &atts); err == nil {
		for _, att := range atts {
			out.Attachments = append(out.Attachments, att.Name)
		}
	}
	if withBody {
		out.Body = m.BodyText
	}
	return out
}

func (a *app) messagesCmd() *cobra.Command {
	var refresh, body bool
	cmd := &cobra.Command{
		Use:   "messages <account-id> <folder-id>",
		Short: "List the stored messages of a folder, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			aid, err := mailsync.ParseID(args[0])
			if err != nil {
				return err
			}
			fid, err := mailsync.ParseID(args[1])
			if err != nil {
				return err
			}
			db, err := a.store()
			if err != nil {
				return err
			}
			msgs, err := a.mailbox(db).ListMessages(cmd.Context(), aid, fid, refresh)
			if err != nil {
				return err
			}
			out := make([]messageOut, 0, len(msgs))
			for _, m := range msgs {
				out = append(out, toMessageOut(m, body))
			}
			return a.printYAML(out)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "sync the folder first")
	cmd.Flags().BoolVar(&body, "body", false, "include the text body")
	return cmd
}

func (a *app) markReadCmd() *cobra.Command {
	var unread bool
	cmd := &cobra.Command{
		Use:   "mark-read <message-id>",
		Short: "Set the local read flag of a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := mailsync.ParseID(args[0])
			if err != nil {
				return err
			}
			db, err := a.store()
			if err != nil {
				return err
			}
			return a.mailbox(db).MarkRead(cmd.Context(), id, !unread)
		},
	}
	cmd.Flags().BoolVar(&unread, "unread", false, "mark as unread instead")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Remove a message from the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := mailsync.ParseID(args[0])
			if err != nil {
				return err
			}
			db, err := a.store()
			if err != nil {
				return err
			}
			return a.mailbox(db).DeleteMessage(cmd.Context(), id)
		},
	}
}
