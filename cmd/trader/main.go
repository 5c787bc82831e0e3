package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stock-signal-bot-go/internal/alpaca"
	"stock-signal-bot-go/internal/broker"
	"stock-signal-bot-go/internal/config"
	"stock-signal-bot-go/internal/fundamentals"
	"stock-signal-bot-go/internal/ledger"
	"stock-signal-bot-go/internal/logger"
	"stock-signal-bot-go/internal/notify"
	"stock-signal-bot-go/internal/trader"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Multi-factor stock signal and risk-managed trading bot",
		Long: `trader polls market data for the configured symbols, scores them on
fundamentals, trend, volume and market direction, and places bracket orders
sized by risk, within daily trade limits.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs", "Directory containing config.yml")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(reconcileCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// bootstrap loads the configuration and builds the logger.
func bootstrap(validate bool) (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return cfg, nil, fmt.Errorf("could not load config: %w", err)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return cfg, nil, err
		}
	}
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return cfg, nil, fmt.Errorf("could not initialize logger: %w", err)
	}
	return cfg, log, nil
}

// newEngine wires the engine's ports: Alpaca market data and news, the paper
// broker in dry-run mode or Alpaca otherwise, and the configured ledger store.
func newEngine(cfg *config.Config, log *zap.Logger, store ledger.Store, broadcaster trader.Broadcaster) (*trader.Engine, error) {
	restClient := alpaca.NewRestClient(&cfg.Alpaca, log)

	var executor trader.Executor = restClient
	if cfg.Trading.DryRun {
		log.Warn("Dry run enabled. Orders are filled by the paper broker.", zap.Float64("cash", cfg.Trading.PaperCash))
		executor = broker.NewPaper(cfg.Trading.PaperCash, log)
	}

	deps := trader.Dependencies{
		Bars:         restClient,
		Fundamentals: fundamentals.NewStatic(cfg.Fundamentals),
		Sentiment:    alpaca.NewNewsSentiment(restClient, 0),
		Executor:     executor,
		Store:        store,
		Notifier:     notify.New(cfg.Telegram.BotToken, cfg.Telegram.ChatID),
	}
	if broadcaster != nil {
		deps.Broadcaster = broadcaster
	}
	return trader.NewEngine(log, cfg, deps)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(true)
			if err != nil {
				return err
			}
			defer log.Sync()
			log.Info("Configuration loaded")

			// Setup context for graceful shutdown
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				sigchan := make(chan os.Signal, 1)
				signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
				<-sigchan
				log.Info("Shutdown signal received, gracefully shutting down...")
				cancel()
			}()

			store, closeStore, err := ledger.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer closeStore()
			log.Info("Ledger store ready", zap.String("driver", cfg.Database.Driver))

			hub := trader.NewHub(log)
			go hub.Run(ctx)

			engine, err := newEngine(&cfg, log, store, hub)
			if err != nil {
				return err
			}

			api := trader.NewAPIServer(engine, hub, cfg.Server.ApiPort, log)
			api.Start()

			engine.Run(ctx)

			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			if err := api.Stop(shutdownCtx); err != nil {
				log.Error("Failed to stop API server", zap.Error(err))
			}
			log.Info("Bot has been shut down.")
			return nil
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <symbol>",
		Short: "Print the current decision for a symbol without trading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(true)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			store, closeStore, err := ledger.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer closeStore()

			cfg.Trading.DryRun = true
			engine, err := newEngine(&cfg, log, store, nil)
			if err != nil {
				return err
			}

			symbol := strings.ToUpper(args[0])
			decision, snap, err := engine.Analyze(ctx, symbol)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s @ %.2f\n", symbol, snap.Price)
			fmt.Fprintf(out, "  technical: %s\n", decision.Technical)
			fmt.Fprintf(out, "  decision:  %s\n", decision.Signal)
			if c := decision.Criteria; c != nil {
				fmt.Fprintf(out, "  criteria:  fundamental=%t technical=%t volume=%t market=%t (score %d/4)\n",
					c.Fundamental, c.Technical, c.Volume, c.Market, c.Score())
				if c.Evidence.GoldenCross {
					fmt.Fprintln(out, "  golden cross: 50-day MA crossed above 200-day MA")
				}
			}
			fmt.Fprintf(out, "  rsi=%.1f atr=%.2f volume_ratio=%.2f relative_strength=%.1f\n",
				snap.RSI, snap.ATR, snap.VolumeRatio, snap.RelativeStrength)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var symbol string
	var since time.Duration
	var simulated bool

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Match recorded buys and sells FIFO and print realized PnL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap(false)
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx := cmd.Context()
			store, closeStore, err := ledger.Open(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer closeStore()

			records, err := store.ReadTrades(ctx, ledger.Filter{Symbol: strings.ToUpper(symbol)})
			if err != nil {
				return err
			}
			// paper and live fills are reconciled separately; dry_run picks the default
			if !cmd.Flags().Changed("simulation") {
				simulated = cfg.Trading.DryRun
			}
			report := ledger.Reconcile(ledger.BySimulation(records, simulated))

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Summary ledger.Summary `json:"summary"`
				Report  ledger.Report  `json:"report"`
			}{report.Summarize(from), report})
		},
	}
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "Only reconcile this symbol")
	cmd.Flags().BoolVar(&simulated, "simulation", false, "Reconcile paper trades instead of live ones (defaults to trading.dry_run)")
	cmd.Flags().DurationVar(&since, "since", 0, "Summarize pairs closed within this window, e.g. 24h")
	return cmd
}
