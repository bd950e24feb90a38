package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/internal/observability"
	"github.com/akhilmat/ordermate/internal/store"
)

func newRemindersCommand() *cobra.Command {
	var mark bool

	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "List orders whose return window is about to close.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReminders(cmd.Context(), cmd.OutOrStdout(), mark)
		},
	}

	cmd.Flags().BoolVar(&mark, "mark", false, "record listed orders as reminded so they are not reported again")
	return cmd
}

func newOrdersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List every stored order.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			orders, err := st.ListOrders(cmd.Context())
			if err != nil {
				return err
			}
			printOrders(cmd.OutOrStdout(), orders)
			return nil
		},
	}
}

func runReminders(ctx context.Context, out io.Writer, mark bool) error {
	logger := observability.GetLogger()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	cutoff := time.Now().Add(cfg.Flow.ReminderLead)
	due, err := st.DueBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		fmt.Fprintln(out, "No return deadlines inside the reminder window.")
		return nil
	}

	fmt.Fprintf(out, "%d order(s) need attention before %s:\n", len(due), cutoff.Format("2006-01-02 15:04"))
	for _, o := range due {
		left := time.Until(o.ReturnDeadline).Round(time.Hour)
		fmt.Fprintf(out, "  URGENT %-14s %-40s return by %s (%s left)\n",
			o.OrderID, o.ProductName, o.ReturnDeadline.Format("2006-01-02"), left)

		if mark {
			if err := st.MarkReminded(ctx, o.OrderID); err != nil {
				logger.Warn("Could not mark order as reminded",
					zap.String("orderID", o.OrderID), zap.Error(err))
			}
		}
	}
	return nil
}

func openStore(ctx context.Context) (*store.Store, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("no database configured; set database.url or ORDERMATE_DATABASE_URL")
	}
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	st, err := store.New(ctx, pool, observability.GetLogger())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("preparing order store: %w", err)
	}
	return st, nil
}
