// Package main implements leadctl, the operator CLI for a running leadflow
// server and its lead archive.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/leadflow/internal/conversation"
	httpserver "github.com/fyrsmithlabs/leadflow/internal/http"
	"github.com/fyrsmithlabs/leadflow/internal/notify"
	"github.com/fyrsmithlabs/leadflow/internal/session"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// options holds the persistent flags shared by every command.
type options struct {
	serverURL string
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "leadctl",
		Short: "Operate a leadflow server",
		Long: `leadctl inspects and operates a running leadflow server.

It checks health, reads session and notification status, resets
sessions, and reads completed leads from the archive database.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.serverURL, "server", "http://localhost:8000", "leadflow server URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "HTTP request timeout")

	root.AddCommand(
		newHealthCmd(opts),
		newStatusCmd(opts),
		newResetCmd(opts),
		newNotificationCmd(opts),
		newLeadsCmd(),
	)
	return root
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Long: `Check the health of the leadflow server and its dependencies.

Examples:
  leadctl health
  leadctl health --server http://leadflow.internal:8000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var h httpserver.HealthResponse
			// An unavailable server still answers with a report.
			err := newClient(opts).get(commandContext(cmd), "/health", &h, http.StatusServiceUnavailable)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderHealth(h))
			if h.Status == "unavailable" {
				return errors.New("server is unavailable")
			}
			return nil
		},
	}
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session_id>",
		Short: "Show a conversation session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.ValidateID(args[0]); err != nil {
				return err
			}
			var snap conversation.Snapshot
			if err := newClient(opts).get(commandContext(cmd), "/api/v1/conversation/status/"+args[0], &snap); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderSnapshot(snap))
			return nil
		},
	}
}

func newResetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <session_id>",
		Short: "Discard a conversation session",
		Long: `Discard a session so the next message starts a fresh conversation.
The session's rate-limit window is cleared too.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.ValidateID(args[0]); err != nil {
				return err
			}
			var out httpserver.ResetResponse
			if err := newClient(opts).post(commandContext(cmd), "/api/v1/conversation/reset/"+args[0], &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", labelStyle.Render("reset:"), out.SessionID)
			return nil
		},
	}
}

func newNotificationCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:     "notification <correlation_id>",
		Aliases: []string{"notif"},
		Short:   "Show the delivery status of a completion notification",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d notify.Delivery
			if err := newClient(opts).get(commandContext(cmd), "/api/v1/notifications/"+args[0], &d); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderDelivery(d))
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
