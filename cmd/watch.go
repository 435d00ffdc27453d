package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mselser95/parimutuel/pkg/config"
	"github.com/mselser95/parimutuel/pkg/events"
	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var watchCmd = &cobra.Command{
	Use:   "watch [market-id]",
	Short: "Stream market lifecycle events",
	Long: `Connects to the server's event stream and prints every committed state
change as it happens. Pass a market ID to only see that market. The stream
reconnects with exponential backoff if the server goes away.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	marketCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("log-level", "warn", "Log level for connection diagnostics")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := flagOrEnv(cmd, "server", "PARIMUTUEL_SERVER", defaultServer)
	url, err := wsURL(server)
	if err != nil {
		return err
	}

	level, _ := cmd.Flags().GetString("log-level")
	logger, err := config.NewCLILogger(level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	var marketID string
	if len(args) == 1 {
		marketID = args[0]
	}

	sub := events.NewSubscriber(events.SubscriberConfig{
		URL:      url,
		MarketID: marketID,
		Logger:   logger,
	})

	jsonOut := wantJSON(cmd)
	out := cmd.OutOrStdout()
	err = sub.Run(ctx, func(ev types.Event) {
		if jsonOut {
			_ = printJSON(cmd, ev)
			return
		}
		fmt.Fprintln(out, formatEvent(ev))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func formatEvent(ev types.Event) string {
	line := fmt.Sprintf("%s  %-16s  %s", ev.At.Format(time.RFC3339), ev.Type, ev.MarketID)
	if ev.User != "" {
		line += "  user=" + ev.User.String()
	}
	if ev.Position != "" {
		line += "  position=" + string(ev.Position)
	}
	if ev.Outcome != "" {
		line += "  outcome=" + string(ev.Outcome)
	}
	if ev.Amount != 0 {
		line += "  amount=" + strconv.FormatUint(ev.Amount, 10)
	}
	return line
}
