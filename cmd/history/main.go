package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mt5-gateway/internal/history"
	"mt5-gateway/internal/logger"
	"mt5-gateway/pkg/gwclient"
)

var defaultSymbols = []string{"Usa500", "EURUSD", "USDJPY", "EURNZD", "GOLD"}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "history",
		Short:        "Download bar history through the terminal gateway",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("gateway", envOr("GATEWAY_URL", gwclient.DefaultBaseURL), "Gateway base URL")
	root.PersistentFlags().Duration("timeout", 60*time.Second, "Per-request timeout")
	root.PersistentFlags().String("log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	root.AddCommand(newDownloadCmd())
	return root
}

func newDownloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download every symbol and timeframe into JSON files",
		Long: `Connects through the gateway, walks the requested window in per-timeframe
chunks and writes <out>/<SYMBOL>/<SYMBOL>_<TF>_<days>d.json for each pair.
Example: history download --symbols EURUSD,GOLD --timeframes H1,D1 --days 365`,
		RunE: runDownload,
	}
	cmd.Flags().StringSlice("symbols", defaultSymbols, "Symbols to download")
	cmd.Flags().StringSlice("timeframes", history.DefaultTimeframes, "Timeframes to download")
	cmd.Flags().Int("days", 730, "Days of history to fetch")
	cmd.Flags().String("out", "data", "Output directory")
	cmd.Flags().Int("retries", 3, "Attempts per chunk")
	cmd.Flags().Duration("pause", time.Second, "Pause between timeframes")
	return cmd
}

func runDownload(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	baseURL, _ := flags.GetString("gateway")
	timeout, _ := flags.GetDuration("timeout")
	level, _ := flags.GetString("log-level")
	symbols, _ := flags.GetStringSlice("symbols")
	timeframes, _ := flags.GetStringSlice("timeframes")
	days, _ := flags.GetInt("days")
	out, _ := flags.GetString("out")
	retries, _ := flags.GetInt("retries")
	pause, _ := flags.GetDuration("pause")

	for i, tf := range timeframes {
		timeframes[i] = strings.ToUpper(strings.TrimSpace(tf))
		if _, ok := history.ChunkDays[timeframes[i]]; !ok {
			return fmt.Errorf("unknown timeframe %q", tf)
		}
	}

	log := logger.Init("history", logger.ParseLevel(level))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := gwclient.New(baseURL, timeout)
	account, err := client.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	log.Info("[history] connected", "server", account["server"], "login", account["login"])

	d := history.New(client, history.Options{
		OutDir:  out,
		Days:    days,
		Retries: retries,
		Pause:   pause,
		Logger:  log,
	})
	results, err := d.Run(ctx, symbols, timeframes)
	total := 0
	for _, r := range results {
		total += r.Bars
	}
	log.Info("[history] done", "files", len(results), "bars", total)
	return err
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
