package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/api"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/config"
	"github.com/ChandanaAtBessemer/Market-Analyst-Tool/internal/storage"
)

var jsonOutput bool

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print raw JSON responses")
}

func queryPath(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// --- report ---

var reportCmd = &cobra.Command{
	Use:   "report <kind> <subject>",
	Short: "Run one cached market query",
	Long: `Run one cached market query. Kinds:

  global      historical and projected revenue and CAGR
  vertical    end-use sub-markets
  horizontal  cross-vertical players
  metrics     size, CAGR and forecast years of a sub-market
  companies   leading companies of a sub-market

Examples:
  analyst report global "EV Batteries"
  analyst report companies "Plastics in Automotive" --refresh`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := storage.QueryKind(args[0])
		if !kind.Valid() {
			return fmt.Errorf("unknown kind %q (want one of %s)", args[0], kindList())
		}
		refresh, _ := cmd.Flags().GetBool("refresh")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := fetchReport(cmd, client, kind, strings.Join(args[1:], " "), refresh)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printSection(cmd.OutOrStdout(), fmt.Sprintf("%s: %s %s", res.Kind, res.Subject, cachedLabel(res.Cached)), res.Payload)
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("refresh", false, "ignore any cached result")
}

func kindList() string {
	names := make([]string, len(storage.QueryKinds))
	for i, k := range storage.QueryKinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

func fetchReport(cmd *cobra.Command, client *apiClient, kind storage.QueryKind, subject string, refresh bool) (api.MarketResult, error) {
	params := url.Values{"subject": {subject}}
	if refresh {
		params.Set("refresh", "true")
	}
	resp, err := client.get(cmd.Context(), queryPath("/v1/markets/"+string(kind), params))
	if err != nil {
		return api.MarketResult{}, err
	}
	var res api.MarketResult
	err = decodeJSON(resp, &res)
	return res, err
}

// --- analyze ---

var analyzeCmd = &cobra.Command{
	Use:   "analyze <market>",
	Short: "Global overview plus vertical and horizontal sub-markets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		params := url.Values{"subject": {strings.Join(args, " ")}}
		if refresh {
			params.Set("refresh", "true")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Analyzing %s", params.Get("subject"))
		resp, err := client.get(cmd.Context(), queryPath("/v1/markets/analysis", params))
		if err != nil {
			return err
		}
		var a api.AnalysisResponse
		if err := decodeJSON(resp, &a); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), a)
		}

		out := cmd.OutOrStdout()
		printSection(out, "Market overview "+cachedLabel(a.Global.Cached), a.Global.Payload)
		printSection(out, "Vertical sub-markets "+cachedLabel(a.Vertical.Cached), a.Vertical.Payload)
		printSection(out, "Horizontal sub-markets "+cachedLabel(a.Horizontal.Cached), a.Horizontal.Payload)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Bool("refresh", false, "ignore any cached results")
}

// --- drill ---

var drillCmd = &cobra.Command{
	Use:   "drill <market>",
	Short: "List sub-markets, or drill into one with --pick",
	Long: `List the sub-markets of a market. With --pick n, show metrics and
leading companies of the n-th sub-market.

Examples:
  analyst drill Plastics
  analyst drill Plastics --kind horizontal --pick 2`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		market := strings.Join(args, " ")
		kind, _ := cmd.Flags().GetString("kind")
		pick, _ := cmd.Flags().GetInt("pick")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), queryPath("/v1/markets/submarkets", url.Values{
			"subject": {market},
			"kind":    {kind},
		}))
		if err != nil {
			return err
		}
		var subs api.SubMarketsResponse
		if err := decodeJSON(resp, &subs); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if pick <= 0 {
			if jsonOutput {
				return printJSON(out, subs)
			}
			if len(subs.SubMarkets) == 0 {
				printWarning("No %s sub-markets found for %s", subs.Kind, subs.Subject)
				return nil
			}
			for i, name := range subs.SubMarkets {
				fmt.Fprintf(out, "%3d  %s\n", i+1, name)
			}
			return nil
		}
		if pick > len(subs.SubMarkets) {
			return fmt.Errorf("--pick %d out of range: %s has %d %s sub-markets", pick, subs.Subject, len(subs.SubMarkets), subs.Kind)
		}

		name := subs.SubMarkets[pick-1]
		metrics, err := fetchReport(cmd, client, storage.KindMetrics, name, false)
		if err != nil {
			return err
		}
		companies, err := fetchReport(cmd, client, storage.KindCompanies, name, false)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, []api.MarketResult{metrics, companies})
		}
		printSection(out, "Metrics for: "+name+" "+cachedLabel(metrics.Cached), metrics.Payload)
		printSection(out, "Top companies: "+name+" "+cachedLabel(companies.Cached), companies.Payload)
		return nil
	},
}

func init() {
	drillCmd.Flags().String("kind", string(storage.KindVertical), "sub-market table to use (vertical or horizontal)")
	drillCmd.Flags().Int("pick", 0, "1-based index of the sub-market to drill into")
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export <market>",
	Short: "Download the full analysis of a market as an Excel workbook",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		market := strings.Join(args, " ")
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = strings.ReplaceAll(market, " ", "_") + "_analysis.xlsx"
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), queryPath("/v1/markets/export", url.Values{"subject": {market}}))
		if err != nil {
			return err
		}

		f, err := os.Create(out)
		if err != nil {
			resp.Body.Close()
			return fmt.Errorf("creating %s: %w", out, err)
		}
		n, err := download(resp, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(out)
			return err
		}
		printSuccess("Wrote %s (%d bytes)", out, n)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output file (default <Market>_analysis.xlsx)")
}

// --- mergers ---

var mergersCmd = &cobra.Command{
	Use:   "mergers [market]",
	Short: "Search M&A activity in a market, or list recent searches",
	Long: `Search M&A activity in a market. Results are never cached.

Examples:
  analyst mergers Plastics --timeframe "last 5 years"
  analyst mergers Plastics --timeframe 2018-2020
  analyst mergers --recent`,
	RunE: func(cmd *cobra.Command, args []string) error {
		recent, _ := cmd.Flags().GetBool("recent")
		timeframe, _ := cmd.Flags().GetString("timeframe")
		if !recent && len(args) == 0 {
			return fmt.Errorf("market is required unless --recent is set")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if recent {
			limit, _ := cmd.Flags().GetInt("limit")
			resp, err := client.get(cmd.Context(), queryPath("/v1/mergers", url.Values{"limit": {strconv.Itoa(limit)}}))
			if err != nil {
				return err
			}
			var searches []api.MergersResponse
			if err := decodeJSON(resp, &searches); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(out, searches)
			}
			if len(searches) == 0 {
				fmt.Fprintln(out, "No M&A searches yet.")
				return nil
			}
			for _, s := range searches {
				fmt.Fprintf(out, "%4d  %s  %-30s %-16s %d deals\n",
					s.ID, s.CreatedAt.Local().Format("2006-01-02 15:04"), truncate(s.Subject, 30), s.Timeframe, s.DealCount)
			}
			return nil
		}

		req := api.MergersRequest{Subject: strings.Join(args, " "), Timeframe: timeframe}
		printStep("Searching M&A activity for %s (%s)", req.Subject, req.Timeframe)
		resp, err := client.post(cmd.Context(), "/v1/mergers", req)
		if err != nil {
			return err
		}
		if w := resp.Header.Get("Warning"); w != "" {
			printWarning("%s", w)
		}
		var res api.MergersResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(out, res)
		}
		printSection(out, fmt.Sprintf("M&A activity: %s, %s (%d deals)", res.Subject, res.Timeframe, res.DealCount), res.Payload)
		return nil
	},
}

func init() {
	mergersCmd.Flags().String("timeframe", "last 3 years", "period to search, e.g. \"last 5 years\" or 2018-2020")
	mergersCmd.Flags().Bool("recent", false, "list recent searches instead")
	mergersCmd.Flags().Int("limit", 10, "number of recent searches to list")
}

// --- insights ---

var insightsCmd = &cobra.Command{
	Use:   "insights <prompt>",
	Short: "Answer a free-form research prompt from live web results",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/insights", api.InsightsRequest{Prompt: strings.Join(args, " ")})
		if err != nil {
			return err
		}
		var res api.InsightsResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		printSection(cmd.OutOrStdout(), "Web insights", res.Insights)
		return nil
	},
}

// --- history / popular ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent market queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), queryPath("/v1/history", url.Values{"limit": {strconv.Itoa(limit)}}))
		if err != nil {
			return err
		}
		var entries []api.HistoryEntry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, entries)
		}
		if len(entries) == 0 {
			fmt.Fprintln(out, "No market queries yet.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s  %-10s %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Kind, e.Subject)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of entries to show")
}

var popularCmd = &cobra.Command{
	Use:   "popular",
	Short: "Most requested subjects",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")
		eventType, _ := cmd.Flags().GetString("event-type")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), queryPath("/v1/popular", url.Values{
			"days":       {strconv.Itoa(days)},
			"limit":      {strconv.Itoa(limit)},
			"event_type": {eventType},
		}))
		if err != nil {
			return err
		}
		var subjects []api.PopularSubject
		if err := decodeJSON(resp, &subjects); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, subjects)
		}
		if len(subjects) == 0 {
			fmt.Fprintf(out, "Nothing requested in the last %d days.\n", days)
			return nil
		}
		for _, s := range subjects {
			fmt.Fprintf(out, "%5d  %-40s last %s\n", s.Count, truncate(s.Subject, 40), s.LastSeen.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	popularCmd.Flags().Int("days", 7, "look-back window in days")
	popularCmd.Flags().Int("limit", 10, "number of subjects to show")
	popularCmd.Flags().String("event-type", "market_analysis", "usage event type to rank")
}

// --- cache / stats ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache",
}

var cacheSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired cache entries now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/cache/sweep", nil)
		if err != nil {
			return err
		}
		var res api.SweepResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Removed %d expired entries", res.Removed)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheSweepCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Row counts and database size",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/stats")
		if err != nil {
			return err
		}
		var stats api.StatsResponse
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		names := make([]string, 0, len(stats.Tables))
		for name := range stats.Tables {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			printStatus(name, "%d", stats.Tables[name])
		}
		printStatus("Size", "%.2f MB", float64(stats.SizeBytes)/(1024*1024))
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorDim, k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value (an empty value resets it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <value>",
	Short: "Store the model API key in the secrets file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(config.NewSecretStore(), args[0]); err != nil {
			return err
		}
		printSuccess("Stored API key in %s", config.SecretsFilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
