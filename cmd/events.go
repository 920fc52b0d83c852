package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/formsentry/formsentry/api/schemas"
	"github.com/formsentry/formsentry/internal/observability"
	"github.com/formsentry/formsentry/internal/store"
)

var (
	eventsLimit   int
	eventsVerdict string
	eventsDomain  string
	eventsPurge   bool
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query or prune persisted detection events",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := observability.GetLogger()
		ctx := cmd.Context()

		if appCfg.Storage.PostgresURL == "" {
			return fmt.Errorf("no event store configured; set storage.postgres_url or FORMSENTRY_POSTGRES_URL")
		}
		st, closePool, err := openStore(ctx, logger)
		if err != nil {
			return err
		}
		defer closePool()

		if eventsPurge {
			deleted, err := st.PruneExpired(ctx, appCfg.Settings.DataRetentionHours)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events\n", deleted)
			return nil
		}

		var events []schemas.DetectionEvent
		if eventsVerdict != "" || eventsDomain != "" {
			filter := schemas.EventFilter{Domain: eventsDomain, Limit: eventsLimit}
			if eventsVerdict != "" {
				verdict := schemas.ParseVerdict(eventsVerdict)
				filter.Verdict = &verdict
			}
			events, err = st.FindByFilter(ctx, filter)
		} else {
			events, err = st.FindRecent(ctx, eventsLimit)
		}
		if err != nil {
			return err
		}

		for _, e := range events {
			encoded, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "maximum events to list")
	eventsCmd.Flags().StringVar(&eventsVerdict, "verdict", "", "filter by verdict (SAFE, UNKNOWN, SUSPICIOUS, DANGEROUS)")
	eventsCmd.Flags().StringVar(&eventsDomain, "domain", "", "filter by target domain")
	eventsCmd.Flags().BoolVar(&eventsPurge, "purge", false, "delete events older than the configured retention")
	rootCmd.AddCommand(eventsCmd)
}

func openStore(ctx context.Context, logger *zap.Logger) (*store.Store, func(), error) {
	pool, err := pgxpool.New(ctx, appCfg.Storage.PostgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}
