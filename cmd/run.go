package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
	"github.com/akhilmat/ordermate/internal/browser"
	"github.com/akhilmat/ordermate/internal/browser/humanoid"
	"github.com/akhilmat/ordermate/internal/browser/interact"
	"github.com/akhilmat/ordermate/internal/browser/snapshot"
	"github.com/akhilmat/ordermate/internal/flow"
	"github.com/akhilmat/ordermate/internal/llmclient"
	"github.com/akhilmat/ordermate/internal/observability"
	"github.com/akhilmat/ordermate/internal/resolve"
	"github.com/akhilmat/ordermate/internal/store"
)

func newRunCommand() *cobra.Command {
	var (
		phone      string
		command    string
		skipScrape bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Log in with phone/OTP, scrape the order history and optionally dispatch a return.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd.Context(), cmd.OutOrStdout(), phone, command, skipScrape)
		},
	}

	cmd.Flags().StringVar(&phone, "phone", "", "phone number registered with the account")
	cmd.Flags().StringVar(&command, "command", "", `optional follow-up action, e.g. "return my blue shirt"`)
	cmd.Flags().BoolVar(&skipScrape, "no-scrape", false, "skip order history scraping")
	_ = cmd.MarkFlagRequired("phone")
	return cmd
}

func runSession(ctx context.Context, out io.Writer, phone, command string, skipScrape bool) error {
	logger := observability.GetLogger()

	manager, err := browser.NewManager(ctx, cfg.Browser, logger)
	if err != nil {
		return fmt.Errorf("starting browser: %w", err)
	}
	defer manager.Close()

	deps, cleanup, err := buildFlowDeps(ctx, manager, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	controller := flow.New(cfg.Flow, cfg.Site, deps, logger)
	go feedOTP(ctx, controller, out)

	result, err := controller.RunLoginFlow(ctx, phone)
	if err != nil {
		return err
	}
	if !result.Authenticated {
		return fmt.Errorf("login did not complete: %s", result.Reason)
	}
	fmt.Fprintf(out, "Logged in (%s).\n", result.Step)

	if !skipScrape {
		orders, err := controller.ScrapeOrders(ctx)
		if err != nil {
			return err
		}
		printOrders(out, orders)
	}

	if command != "" {
		req, err := flow.ParseCommand(command)
		if err != nil {
			return err
		}
		outcome, err := controller.ExecuteReturnLike(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s dispatched (%s): %s\n", req.Action, outcome.Strategy, outcome.Evidence)
	}

	controller.Finish()
	return nil
}

// buildFlowDeps assembles the resolver chain, interaction executor and
// optional order store around a live browser manager.
func buildFlowDeps(ctx context.Context, manager *browser.Manager, logger *zap.Logger) (flow.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	resolvers := []schemas.Resolver{resolve.NewFixedLibrary(logger)}
	if cfg.Oracle.Enabled {
		client, err := llmclient.NewClient(cfg.Oracle, logger)
		if err != nil {
			logger.Warn("Oracle unavailable, continuing without it", zap.Error(err))
		} else {
			closers = append(closers, func() { _ = client.Close() })
			resolvers = append(resolvers, resolve.NewOracle(client, cfg.Oracle, logger))
		}
	}
	resolvers = append(resolvers, resolve.NewHeuristic(logger))

	human := humanoid.New(cfg.Browser.Humanoid, humanoid.NewCDPExecutor(manager.RunActions, logger), logger)

	deps := flow.Deps{
		Browser:   manager,
		Snapshots: snapshot.New(manager, logger),
		Resolver:  resolve.NewChain(logger, resolvers...),
		Actor:     interact.NewExecutor(manager, human, interact.Options{}, logger),
		Idler:     human,
	}

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			cleanup()
			return flow.Deps{}, nil, fmt.Errorf("connecting to database: %w", err)
		}
		st, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			cleanup()
			return flow.Deps{}, nil, fmt.Errorf("preparing order store: %w", err)
		}
		closers = append(closers, st.Close)
		deps.Store = st
	}

	return deps, cleanup, nil
}

// feedOTP waits for the flow to suspend, prompts the operator and forwards
// the code they type.
func feedOTP(ctx context.Context, controller *flow.Controller, out io.Writer) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if controller.State() != flow.StateAwaitingOTP {
			continue
		}

		fmt.Fprint(out, "Enter the OTP you received: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		if err := controller.SubmitOTP(strings.TrimSpace(line)); err != nil && !errors.Is(err, flow.ErrAwaitingInput) {
			fmt.Fprintf(out, "Could not submit OTP: %v\n", err)
		}
		return
	}
}

func printOrders(out io.Writer, orders []schemas.Order) {
	fmt.Fprintf(out, "Scraped %d orders:\n", len(orders))
	for _, o := range orders {
		line := fmt.Sprintf("  %-14s %-40s ₹%.2f  %s", o.OrderID, o.ProductName, o.Price, o.Status)
		if !o.ReturnDeadline.IsZero() {
			line += fmt.Sprintf("  (return by %s)", o.ReturnDeadline.Format("2006-01-02"))
		}
		fmt.Fprintln(out, line)
	}
}
