package main

import (
	"context"
	"flag"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Okay-Bet/market-agent-server/config"
	"github.com/Okay-Bet/market-agent-server/internal/adapters/bridge"
	"github.com/Okay-Bet/market-agent-server/internal/adapters/notify"
	"github.com/Okay-Bet/market-agent-server/internal/adapters/onchain"
	"github.com/Okay-Bet/market-agent-server/internal/adapters/polymarket"
	"github.com/Okay-Bet/market-agent-server/internal/adapters/signing"
	"github.com/Okay-Bet/market-agent-server/internal/adapters/storage"
	"github.com/Okay-Bet/market-agent-server/internal/application/executor"
	"github.com/Okay-Bet/market-agent-server/internal/domain"
	"github.com/Okay-Bet/market-agent-server/internal/ports"
	"github.com/Okay-Bet/market-agent-server/internal/application/redemption"
	"github.com/Okay-Bet/market-agent-server/internal/application/resolution"
	"github.com/Okay-Bet/market-agent-server/internal/application/settlement"
	"github.com/Okay-Bet/market-agent-server/internal/retry"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one resolution+redemption sweep and exit")
	report := flag.Bool("report", false, "print the position and order ledger and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	format := flag.String("format", "", "report format: table|json")

	tradeUser := flag.String("trade-user", "", "execute one delegated trade for this user address")
	tradeToken := flag.String("trade-token", "", "exchange token id for -trade-user")
	tradeSide := flag.String("trade-side", "BUY", "BUY or SELL")
	tradePrice := flag.Float64("trade-price", 0, "limit price in (0, 1)")
	tradeNotional := flag.Float64("trade-notional", 0, "order notional in USDC")
	tradeSig := flag.String("trade-sig", "", "user's EIP-712 signature over the intent")

	settleRecipient := flag.String("settle-recipient", "", "deliver proceeds to this Optimism address and exit")
	settleAmount := flag.Float64("settle-amount", 0, "USDC.e amount to swap and bridge for -settle-recipient")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	setupLogger(cfg.Log)

	slog.Info("settlementd starting",
		"config", *configPath,
		"chain_id", cfg.Chain.ChainID,
		"resolution_interval", cfg.ResolutionInterval(),
		"once", *once,
	)

	ledger, err := storage.NewSQLiteLedger(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open ledger", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer ledger.Close()

	console := notify.NewConsole(*format)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *report {
		printReport(ctx, ledger, console)
		return
	}

	chain, err := onchain.NewClient(
		cfg.Chain.RPCURL,
		cfg.Chain.PrivateKey,
		cfg.Chain.ChainID,
		cfg.Chain.ReceiptWait(),
		time.Duration(cfg.Chain.ReceiptPollMS)*time.Millisecond,
	)
	if err != nil {
		slog.Error("failed to connect to chain", "err", err)
		os.Exit(1)
	}

	auth, err := polymarket.NewAuthClient(cfg.Exchange.CLOBBase, cfg.Exchange.GammaBase, cfg.Chain.PrivateKey)
	if err != nil {
		slog.Error("failed to create exchange client", "err", err)
		os.Exit(1)
	}
	trading := polymarket.NewTradingClient(auth,
		time.Duration(cfg.Exchange.FillWaitS)*time.Second,
		time.Duration(cfg.Exchange.FillPollS)*time.Second,
	)

	across := bridge.NewClient(
		cfg.Bridge.APIBase,
		chain,
		chain.WalletAddress(),
		onchain.USDC,
		cfg.Bridge.DestinationChain,
		cfg.Bridge.FillDeadline(),
	)

	exec := executor.New(chain, trading, auth.Client, ledger, executor.Config{
		Sizing: domain.SizingConfig{
			LevelTolerancePct: cfg.Engine.LevelTolerancePct,
			MinOrderUSDC:      cfg.Engine.MinOrderUSDC,
			MinOrderTokens:    cfg.Engine.MinOrderTokens,
		},
		PriceDeviationPct: cfg.Engine.PriceDeviationPct,
		CollateralToken:   onchain.USDCe,
		ExchangeSpender:   auth.ExchangeSpender(false),
		AllowanceRecheck: retry.Fixed(cfg.Engine.BalanceRetries,
			time.Duration(cfg.Engine.BalanceRetryDelayS)*time.Second),
	})

	if *tradeUser != "" {
		runTrade(ctx, exec, ledger, cfg.Chain.ChainID, tradeArgs{
			user:     *tradeUser,
			token:    *tradeToken,
			side:     *tradeSide,
			price:    *tradePrice,
			notional: *tradeNotional,
			sig:      *tradeSig,
		})
		return
	}

	resolver := resolution.New(chain, auth.Client, ledger, cfg.ResolutionInterval())
	redeemer := redemption.New(chain, ledger, onchain.USDCe)
	settler := settlement.New(chain, chain, across, onchain.RouterAddress, settlement.Tokens{
		USDCe: onchain.USDCe,
		USDT:  onchain.USDT,
		USDC:  onchain.USDC,
	}, cfg.Bridge.SlippagePct)

	if *settleRecipient != "" {
		amount := usdcBaseUnits(*settleAmount)
		result, err := settler.DeliverProceeds(ctx, *settleRecipient, amount)
		if err != nil {
			slog.Error("settlement failed", "recipient", *settleRecipient, "err", err)
			os.Exit(1)
		}
		console.PrintSettlement(result)
		return
	}

	if *once {
		if err := resolver.Sweep(ctx); err != nil {
			slog.Error("resolution sweep failed", "err", err)
			os.Exit(1)
		}
		results, err := redeemer.Sweep(ctx)
		if err != nil {
			slog.Error("redemption sweep failed", "err", err)
			os.Exit(1)
		}
		console.PrintRedemptions(results)
		return
	}

	go func() {
		ticker := time.NewTicker(cfg.ResolutionInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if results, err := redeemer.Sweep(ctx); err != nil {
					slog.Error("redemption sweep failed", "err", err)
				} else if len(results) > 0 {
					console.PrintRedemptions(results)
				}
			}
		}
	}()

	if err := resolver.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("resolution engine exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("settlementd stopped cleanly")
}

func printReport(ctx context.Context, ledger *storage.SQLiteLedger, console *notify.Console) {
	markets, err := ledger.UnresolvedMarkets(ctx)
	if err != nil {
		slog.Error("failed to read markets", "err", err)
		os.Exit(1)
	}

	for _, m := range markets {
		positions, err := ledger.ActivePositions(ctx, m.ConditionID)
		if err != nil {
			slog.Error("failed to read positions", "condition", m.ConditionID, "err", err)
			continue
		}
		console.PrintPositions(positions)
	}
}

type tradeArgs struct {
	user     string
	token    string
	side     string
	price    float64
	notional float64
	sig      string
}

func runTrade(ctx context.Context, exec *executor.Executor, ledger ports.LedgerStore, chainID int64, args tradeArgs) {
	side, err := domain.ParseSide(args.side)
	if err != nil {
		slog.Error("invalid trade side", "side", args.side, "err", err)
		os.Exit(1)
	}
	nonce, err := ledger.UserNonce(ctx, args.user)
	if err != nil {
		slog.Error("failed to read user nonce", "user", args.user, "err", err)
		os.Exit(1)
	}

	intent := domain.TradeIntent{
		UserAddress: args.user,
		TokenID:     args.token,
		Price:       args.price,
		Notional:    args.notional,
		Side:        side,
		Nonce:       nonce,
	}
	if err := signing.NewVerifier(chainID).Verify(intent, args.sig); err != nil {
		slog.Error("trade signature rejected", "user", args.user, "err", err)
		os.Exit(1)
	}

	result, err := exec.Execute(ctx, intent)
	if err != nil {
		slog.Error("trade failed", "order_id", result.OrderID, "err", err)
		os.Exit(1)
	}
	slog.Info("trade executed",
		"order_id", result.OrderID,
		"exchange_order_id", result.ExchangeOrderID,
		"status", result.Status,
		"tokens_filled", result.TokensFilled,
		"avg_price", result.AvgPrice,
		"tx", result.TransactionHash,
	)

	if stats, err := ledger.UserStats(ctx, args.user); err == nil {
		slog.Info("user totals",
			"user", args.user,
			"volume_usdc", stats.TotalVolume.String(),
			"realized_pnl", stats.RealizedPnL.String(),
			"trades", stats.TradesCount,
		)
	}
}

// usdcBaseUnits converts a human USDC amount to 6-decimal base units.
func usdcBaseUnits(amount float64) *big.Int {
	units := new(big.Float).Mul(big.NewFloat(amount), big.NewFloat(1e6))
	out, _ := units.Int(nil)
	return out
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
