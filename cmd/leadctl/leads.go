package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/leadflow/internal/config"
	"github.com/fyrsmithlabs/leadflow/internal/leads"
)

// archiveOptions selects the archive database. Unset flags fall back to the
// server's configuration file.
type archiveOptions struct {
	configPath string
	driver     string
	dsn        string
	timezone   string
	limit      int
}

func newLeadsCmd() *cobra.Command {
	opts := &archiveOptions{}
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Read the lead archive",
		Long: `Read completed leads and failed notifications straight from the
archive database.

Examples:
  leadctl leads list --area "Direito de Família"
  leadctl leads list --since 24h
  leadctl leads failures --driver postgres --dsn postgres://leadflow@db/leadflow`,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "leadflow config file (default ~/.config/leadflow/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.driver, "driver", "", "archive driver: sqlite or postgres")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "archive data source name")
	cmd.PersistentFlags().StringVar(&opts.timezone, "tz", "", "display time zone (default engine.timezone)")
	cmd.PersistentFlags().IntVar(&opts.limit, "limit", 50, "maximum rows")

	cmd.AddCommand(newLeadsListCmd(opts), newLeadsFailuresCmd(opts))
	return cmd
}

func newLeadsListCmd(opts *archiveOptions) *cobra.Command {
	var area string
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List completed leads, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			repo, loc, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			f := leads.Filter{LegalArea: area, Limit: opts.limit}
			if since > 0 {
				t := time.Now().Add(-since)
				f.Since = &t
			}
			list, err := repo.List(ctx, f)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderLeads(list, loc))
			return nil
		},
	}
	cmd.Flags().StringVar(&area, "area", "", "only leads in this legal area")
	cmd.Flags().DurationVar(&since, "since", 0, "only leads completed within this duration")
	return cmd
}

func newLeadsFailuresCmd(opts *archiveOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "failures",
		Short: "List notifications that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := commandContext(cmd)
			repo, loc, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			list, err := repo.Failures(ctx, opts.limit)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderFailures(list, loc))
			return nil
		},
	}
}

// open resolves driver, DSN and display zone, then opens the archive.
func (o *archiveOptions) open(ctx context.Context) (*leads.Repository, *time.Location, error) {
	driver, dsn, tz := o.driver, o.dsn, o.timezone
	if driver == "" || dsn == "" || tz == "" {
		cfg, err := config.LoadWithFile(o.configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
		if driver == "" {
			driver = cfg.Archive.Driver
		}
		if dsn == "" {
			dsn = cfg.Archive.DSN.Value()
		}
		if tz == "" {
			tz = cfg.Engine.Timezone
		}
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid time zone %q: %w", tz, err)
	}
	repo, err := leads.Open(ctx, driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return repo, loc, nil
}
