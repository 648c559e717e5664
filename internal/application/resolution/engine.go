package resolution

// The resolution engine periodically sweeps unresolved markets and asks a
// chain of sources whether each has settled. The chain runs most- to
// least-authoritative: the on-chain payout oracle, then the exchange
// metadata service, then whatever outcome prices the ledger cached at entry
// time. A market that no source can settle simply stays unresolved until
// the next sweep; that is the normal case, not a failure.

import (
	"context"
	"log/slog"
	"time"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
	"github.com/Okay-Bet/market-agent-server/internal/ports"
)

// Engine drives market resolution.
type Engine struct {
	chain    ports.ChainGateway
	markets  ports.MarketDataProvider
	ledger   ports.LedgerStore
	interval time.Duration
	now      func() time.Time
}

// New creates a resolution Engine sweeping at the given interval.
func New(chain ports.ChainGateway, markets ports.MarketDataProvider, ledger ports.LedgerStore, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Engine{
		chain:    chain,
		markets:  markets,
		ledger:   ledger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps on a ticker until the context is cancelled. The first sweep
// happens immediately.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	if err := e.Sweep(ctx); err != nil {
		slog.Error("resolution sweep failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := e.Sweep(ctx); err != nil {
				slog.Error("resolution sweep failed", "err", err)
			}
		}
	}
}

// Sweep checks every unresolved market once. Markets are isolated: one
// failing its checks never blocks the rest of the sweep.
func (e *Engine) Sweep(ctx context.Context) error {
	markets, err := e.ledger.UnresolvedMarkets(ctx)
	if err != nil {
		return err
	}

	resolved := 0
	for _, m := range markets {
		res := e.Resolve(ctx, m)
		if res.State != domain.Resolved {
			continue
		}

		if err := e.ledger.MarkResolved(ctx, m.ConditionID, res.WinningOutcome, e.now()); err != nil {
			slog.Error("mark resolved failed",
				"condition", m.ConditionID,
				"outcome", res.WinningOutcome,
				"err", err,
			)
			continue
		}
		resolved++
		slog.Info("market resolved",
			"condition", m.ConditionID,
			"outcome", res.WinningOutcome,
			"source", res.Source,
		)
	}

	if len(markets) > 0 {
		slog.Debug("resolution sweep complete", "checked", len(markets), "resolved", resolved)
	}
	return nil
}

// Resolve runs the fallback chain for one market. Sources that error or
// answer ambiguously hand over to the next source rather than aborting.
func (e *Engine) Resolve(ctx context.Context, m domain.Market) domain.Resolution {
	if res := e.fromOracle(ctx, m.ConditionID); res.State == domain.Resolved {
		return res
	}
	if res := e.fromMetadataService(ctx, m); res.State == domain.Resolved {
		return res
	}
	if res := domain.ResolutionFromPrices(m.Metadata.OutcomePrices, "stored"); res.State == domain.Resolved {
		return res
	}
	return domain.Resolution{State: domain.Unresolved}
}

// fromOracle reads the CTF payout vector. A zero denominator means the
// oracle has not reported; a split payout is indeterminate here and left to
// the other sources.
func (e *Engine) fromOracle(ctx context.Context, conditionID string) domain.Resolution {
	denom, err := e.chain.PayoutDenominator(ctx, conditionID)
	if err != nil {
		slog.Debug("oracle denominator read failed", "condition", conditionID, "err", err)
		return domain.Resolution{State: domain.Unresolved, Source: "oracle"}
	}
	if denom.Sign() == 0 {
		return domain.Resolution{State: domain.Unresolved, Source: "oracle"}
	}

	nums, err := e.chain.PayoutNumerators(ctx, conditionID)
	if err != nil || len(nums) != 2 {
		slog.Debug("oracle numerators read failed", "condition", conditionID, "err", err)
		return domain.Resolution{State: domain.Indeterminate, Source: "oracle"}
	}

	switch {
	case nums[0].Sign() > 0 && nums[1].Sign() == 0:
		return domain.Resolution{State: domain.Resolved, WinningOutcome: 0, Source: "oracle"}
	case nums[1].Sign() > 0 && nums[0].Sign() == 0:
		return domain.Resolution{State: domain.Resolved, WinningOutcome: 1, Source: "oracle"}
	default:
		// Split payouts exist for voided markets; this engine does not
		// settle those automatically.
		return domain.Resolution{State: domain.Indeterminate, Source: "oracle"}
	}
}

// fromMetadataService asks the exchange metadata source for the current
// outcome-price vector and refreshes the ledger's cached copy on the way.
func (e *Engine) fromMetadataService(ctx context.Context, m domain.Market) domain.Resolution {
	if m.TokenID == "" {
		return domain.Resolution{State: domain.Unresolved, Source: "gamma"}
	}

	tm, err := e.markets.MarketByToken(ctx, m.TokenID)
	if err != nil {
		slog.Debug("metadata lookup failed", "condition", m.ConditionID, "err", err)
		return domain.Resolution{State: domain.Unresolved, Source: "gamma"}
	}

	if err := e.ledger.UpdateMarketMetadata(ctx, m.ConditionID, domain.MarketMetadata{
		Question:      tm.Question,
		Outcomes:      tm.Outcomes,
		OutcomePrices: tm.OutcomePrices,
	}); err != nil {
		slog.Warn("metadata refresh failed", "condition", m.ConditionID, "err", err)
	}

	return domain.ResolutionFromPrices(tm.OutcomePrices, "gamma")
}
