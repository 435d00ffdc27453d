package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mselser95/parimutuel/internal/storage"
	"github.com/mselser95/parimutuel/pkg/httpserver"
	"github.com/mselser95/parimutuel/pkg/types"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Create, stake on, resolve and settle markets",
}

//nolint:gochecknoglobals // Cobra boilerplate
var marketCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a market owned by the signing identity",
	Long: `Creates a YES/NO market. --expires accepts either a duration from now
(e.g. 72h) or an RFC3339 timestamp.`,
	Args: cobra.NoArgs,
	RunE: runMarketCreate,
}

//nolint:gochecknoglobals // Cobra boilerplate
var marketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List markets",
	Args:  cobra.NoArgs,
	RunE:  runMarketList,
}

//nolint:gochecknoglobals // Cobra boilerplate
var marketShowCmd = &cobra.Command{
	Use:   "show <market-id>",
	Short: "Show a market and its participations",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarketShow,
}

//nolint:gochecknoglobals // Cobra boilerplate
var marketStakeCmd = &cobra.Command{
	Use:   "stake <market-id>",
	Short: "Stake on YES or NO",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarketStake,
}

//nolint:gochecknoglobals // Cobra boilerplate
var marketResolveCmd = &cobra.Command{
	Use:   "resolve <market-id>",
	Short: "Declare the outcome of a market you created",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarketResolve,
}

//nolint:gochecknoglobals // Cobra boilerplate
var marketSettleCmd = &cobra.Command{
	Use:   "settle <market-id>",
	Short: "Claim your payout from a resolved or expired market",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarketSettle,
}

//nolint:gochecknoglobals // Cobra boilerplate
var marketQuoteCmd = &cobra.Command{
	Use:   "quote <market-id>",
	Short: "Preview what a participation would settle for",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarketQuote,
}

//nolint:gochecknoglobals // Cobra boilerplate
var marketReclaimCmd = &cobra.Command{
	Use:   "reclaim <market-id>",
	Short: "Remove a fully settled market you created",
	Args:  cobra.ExactArgs(1),
	RunE:  runMarketReclaim,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(marketCmd)
	marketCmd.AddCommand(marketCreateCmd, marketListCmd, marketShowCmd, marketStakeCmd,
		marketResolveCmd, marketSettleCmd, marketQuoteCmd, marketReclaimCmd)

	marketCreateCmd.Flags().StringP("title", "t", "", "Market title")
	marketCreateCmd.Flags().StringP("description", "d", "", "Market description")
	marketCreateCmd.Flags().StringP("expires", "e", "24h", "Expiry as a duration from now or an RFC3339 time")
	marketCreateCmd.Flags().Uint64("min", 1, "Minimum stake")
	marketCreateCmd.Flags().Uint64("max", 1_000_000, "Maximum stake")
	_ = marketCreateCmd.MarkFlagRequired("title")

	marketListCmd.Flags().StringP("status", "s", "", "Filter by status (ACTIVE, RESOLVED)")
	marketListCmd.Flags().String("creator", "", "Filter by creator identity")
	marketListCmd.Flags().String("participant", "", "Only markets this identity has staked on")
	marketListCmd.Flags().IntP("limit", "l", 20, "Maximum number of markets to fetch")
	marketListCmd.Flags().Int("offset", 0, "Number of markets to skip")

	marketStakeCmd.Flags().Uint64P("amount", "a", 0, "Stake amount")
	marketStakeCmd.Flags().StringP("position", "p", "", "YES or NO")
	_ = marketStakeCmd.MarkFlagRequired("amount")
	_ = marketStakeCmd.MarkFlagRequired("position")

	marketResolveCmd.Flags().StringP("outcome", "o", "", "YES or NO")
	_ = marketResolveCmd.MarkFlagRequired("outcome")

	marketQuoteCmd.Flags().StringP("user", "u", "", "Participant identity (default: your own)")
}

// parseExpiry accepts a positive duration relative to now or an absolute RFC3339 time.
func parseExpiry(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("expiry duration must be positive, got %s", d)
		}
		return now.Add(d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiry %q: expected duration or RFC3339 time", s)
	}
	return t, nil
}

func runMarketCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	title, _ := cmd.Flags().GetString("title")
	description, _ := cmd.Flags().GetString("description")
	expiresRaw, _ := cmd.Flags().GetString("expires")
	minBet, _ := cmd.Flags().GetUint64("min")
	maxBet, _ := cmd.Flags().GetUint64("max")

	expiresAt, err := parseExpiry(expiresRaw, time.Now())
	if err != nil {
		return err
	}

	m, err := c.CreateMarket(ctx, httpserver.CreateMarketRequest{
		Title:       title,
		Description: description,
		ExpiresAt:   expiresAt,
		MinBet:      minBet,
		MaxBet:      maxBet,
	})
	if err != nil {
		return fmt.Errorf("create market: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, m)
	}
	printMarket(cmd, m)
	return nil
}

func runMarketList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	status, _ := cmd.Flags().GetString("status")
	creator, _ := cmd.Flags().GetString("creator")
	participant, _ := cmd.Flags().GetString("participant")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	resp, err := c.ListMarkets(ctx, storage.ListFilter{
		Status:      types.MarketStatus(strings.ToUpper(status)),
		Creator:     types.NormalizeIdentity(creator),
		Participant: types.NormalizeIdentity(participant),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		return fmt.Errorf("list markets: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, resp)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Showing %d of %d markets\n\n", len(resp.Markets), resp.Total)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tOUTCOME\tYES\tNO\tTOTAL\tEXPIRES\tTITLE")
	fmt.Fprintln(w, "--\t------\t-------\t---\t--\t-----\t-------\t-----")
	for _, m := range resp.Markets {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			m.ID, m.Status, outcomeString(m), m.YesPool, m.NoPool, m.TotalPool,
			m.ExpiresAt.Format(time.RFC3339), truncate(m.Title, 48))
	}
	return w.Flush()
}

func runMarketShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	m, err := c.GetMarket(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get market: %w", err)
	}
	parts, err := c.Participations(ctx, args[0])
	if err != nil {
		return fmt.Errorf("list participations: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, httpserver.ParticipationsResponse{MarketID: m.ID, Participations: parts})
	}

	printMarket(cmd, m)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nParticipations (%d)\n", len(parts))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tPOSITION\tAMOUNT\tCLAIMED")
	for _, p := range parts {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", p.User, p.Position, p.Amount, p.Claimed)
	}
	return w.Flush()
}

func runMarketStake(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	amount, _ := cmd.Flags().GetUint64("amount")
	posRaw, _ := cmd.Flags().GetString("position")
	pos, err := types.ParsePosition(posRaw)
	if err != nil {
		return err
	}

	p, err := c.Stake(ctx, args[0], amount, pos)
	if err != nil {
		return fmt.Errorf("stake: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, p)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Staked %d on %s in market %s as %s\n", p.Amount, p.Position, p.MarketID, p.User)
	return nil
}

func runMarketResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	outcomeRaw, _ := cmd.Flags().GetString("outcome")
	outcome, err := types.ParsePosition(outcomeRaw)
	if err != nil {
		return err
	}

	m, err := c.Resolve(ctx, args[0], outcome)
	if err != nil {
		return fmt.Errorf("resolve: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, m)
	}
	printMarket(cmd, m)
	return nil
}

func runMarketSettle(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	res, err := c.Settle(ctx, args[0])
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, res)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Settled market %s for %s\n", res.MarketID, res.User)
	fmt.Fprintf(out, "  Payout:    %d\n", res.Amount)
	if res.Kind != "" {
		fmt.Fprintf(out, "  Kind:      %s\n", res.Kind)
	}
	fmt.Fprintf(out, "  Operation: %s\n", res.OperationID)
	if res.Replayed {
		fmt.Fprintln(out, "  (already settled, nothing transferred)")
	}
	return nil
}

func runMarketQuote(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	userRaw, _ := cmd.Flags().GetString("user")
	user := types.NormalizeIdentity(userRaw)
	if user == "" {
		user = c.Identity()
	}
	if user == "" {
		return fmt.Errorf("no user given and no --key or --identity configured")
	}

	q, err := c.Quote(ctx, args[0], user)
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, q)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s would receive %d from market %s (%s)\n", q.User, q.Amount, q.MarketID, q.Kind)
	return nil
}

func runMarketReclaim(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	res, err := c.Reclaim(ctx, args[0])
	if err != nil {
		return fmt.Errorf("reclaim: %w", err)
	}

	if wantJSON(cmd) {
		return printJSON(cmd, res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reclaimed market %s (dust swept: %d, archived: %t)\n",
		res.MarketID, res.Swept, res.Archived)
	return nil
}

func printMarket(cmd *cobra.Command, m *types.Market) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", m.ID)
	fmt.Fprintf(w, "Title:\t%s\n", m.Title)
	if m.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", m.Description)
	}
	fmt.Fprintf(w, "Creator:\t%s\n", m.Creator)
	fmt.Fprintf(w, "Status:\t%s\n", m.Status)
	fmt.Fprintf(w, "Outcome:\t%s\n", outcomeString(m))
	fmt.Fprintf(w, "Pools:\tYES %d / NO %d / total %d\n", m.YesPool, m.NoPool, m.TotalPool)
	fmt.Fprintf(w, "Bounds:\t%d - %d\n", m.MinBet, m.MaxBet)
	fmt.Fprintf(w, "Expires:\t%s\n", m.ExpiresAt.Format(time.RFC3339))
	_ = w.Flush()
}

func outcomeString(m *types.Market) string {
	if m.Outcome == nil {
		return "-"
	}
	return string(*m.Outcome)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

