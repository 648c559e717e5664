package redemption

// The redemption pipeline converts resolved markets into user payouts. For
// each resolved market it redeems the engine wallet's winning conditional
// tokens for collateral, pays every winning position its par value ($1 per
// token), and finally marks the market processed once no winning position
// remains active. Losing positions are never touched: they stay active and
// simply never redeem.
//
// Every ledger transition is optimistic, so a crash between the on-chain
// redeem and the mark leaves the position active and the next sweep picks
// it up again. Redeeming an already-empty balance is an on-chain no-op,
// which is what makes the whole sweep safe to replay.

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
	"github.com/Okay-Bet/market-agent-server/internal/ports"
)

// Pipeline drives redemptions for resolved markets.
type Pipeline struct {
	chain           ports.ChainGateway
	ledger          ports.LedgerStore
	collateralToken string
	now             func() time.Time
}

// New creates a redemption Pipeline paying out in the given collateral token.
func New(chain ports.ChainGateway, ledger ports.LedgerStore, collateralToken string) *Pipeline {
	return &Pipeline{
		chain:           chain,
		ledger:          ledger,
		collateralToken: collateralToken,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Sweep processes every resolved market once. Markets are isolated: one
// failing never blocks the rest.
func (p *Pipeline) Sweep(ctx context.Context) ([]domain.RedemptionResult, error) {
	markets, err := p.ledger.PendingRedemptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("redemption.Sweep: list pending: %w", err)
	}

	var results []domain.RedemptionResult
	for _, m := range markets {
		res, err := p.ProcessMarket(ctx, m)
		if err != nil {
			slog.Error("market redemption failed", "condition", m.ConditionID, "err", err)
			continue
		}
		results = append(results, res...)
	}
	return results, nil
}

// ProcessMarket redeems and pays out one resolved market.
func (p *Pipeline) ProcessMarket(ctx context.Context, m domain.Market) ([]domain.RedemptionResult, error) {
	if m.WinningOutcome == nil {
		return nil, fmt.Errorf("redemption.ProcessMarket: %s has no winning outcome", m.ConditionID)
	}
	winning := *m.WinningOutcome

	winners, err := p.ledger.WinningPositions(ctx, m.ConditionID, winning)
	if err != nil {
		return nil, fmt.Errorf("redemption.ProcessMarket: list winners: %w", err)
	}

	var results []domain.RedemptionResult
	if len(winners) > 0 {
		// One on-chain redeem converts the wallet's entire winning-outcome
		// balance to collateral; per-user transfers follow from it.
		redeemTx, err := p.chain.RedeemPositions(ctx, m.ConditionID, domain.RedeemIndexSet(winning))
		if err != nil {
			return nil, fmt.Errorf("redemption.ProcessMarket: redeem: %w", err)
		}

		for _, pos := range winners {
			res, err := p.payOut(ctx, pos, redeemTx.Hash)
			if err != nil {
				// The position stays active; the next sweep retries the
				// transfer without re-entering the redeem.
				slog.Error("payout failed",
					"condition", m.ConditionID,
					"user", pos.UserAddress,
					"position", pos.ID,
					"err", err,
				)
				continue
			}
			results = append(results, res)
		}
	}

	processed, err := p.ledger.MarkProcessed(ctx, m.ConditionID, p.now())
	if err != nil {
		return results, fmt.Errorf("redemption.ProcessMarket: mark processed: %w", err)
	}
	if processed {
		slog.Info("market processed", "condition", m.ConditionID, "payouts", len(results))
	}
	return results, nil
}

// payOut transfers a winning position's par value to its owner and marks
// the position redeemed with both transaction hashes in one transition.
func (p *Pipeline) payOut(ctx context.Context, pos domain.Position, redeemTxHash string) (domain.RedemptionResult, error) {
	par := pos.ParValueBaseUnits()
	amount, ok := new(big.Int).SetString(par.String(), 10)
	if !ok || amount.Sign() <= 0 {
		return domain.RedemptionResult{}, fmt.Errorf("invalid par value %s for position %s", par, pos.ID)
	}

	transferTx, err := p.chain.Transfer(ctx, p.collateralToken, pos.UserAddress, amount)
	if err != nil {
		return domain.RedemptionResult{}, fmt.Errorf("transfer payout: %w", err)
	}

	if err := p.ledger.MarkRedeemed(ctx, pos.ID, redeemTxHash, transferTx.Hash, par, p.now()); err != nil {
		// Collateral is already with the user; the mark must be replayed.
		return domain.RedemptionResult{}, domain.NewTradeError(domain.ErrLedgerInconsistent,
			"payout sent but position not marked redeemed").WithCause(err)
	}

	return domain.RedemptionResult{
		ConditionID:       pos.ConditionID,
		UserAddress:       pos.UserAddress,
		RedemptionTx:      redeemTxHash,
		TransferTx:        transferTx.Hash,
		AmountTransferred: amount,
	}, nil
}
