package polymarket

// gamma.go: Gamma metadata lookups. Gamma is the market catalog: it maps
// exchange token ids back to conditions, questions and outcome prices. The
// outcome-price vector doubles as a resolution fallback when the on-chain
// oracle has not reported.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

const gammaMarketsPath = "/markets"

// MarketByToken resolves an exchange token id to its market metadata.
// Implements ports.MarketDataProvider.
func (c *Client) MarketByToken(ctx context.Context, tokenID string) (domain.TokenMarket, error) {
	url := fmt.Sprintf("%s%s?clob_token_ids=%s", c.gammaBase, gammaMarketsPath, tokenID)

	var resp gammaMarketsResponse
	if err := c.get(ctx, c.gammaLimiter, url, &resp); err != nil {
		return domain.TokenMarket{}, fmt.Errorf("gamma.MarketByToken: %w", err)
	}
	if len(resp) == 0 {
		return domain.TokenMarket{}, fmt.Errorf("gamma.MarketByToken: no market for token %s", tokenID)
	}

	gm := resp[0]
	tm, err := mapGammaMarket(gm, tokenID)
	if err != nil {
		return domain.TokenMarket{}, fmt.Errorf("gamma.MarketByToken: %w", err)
	}

	slog.Debug("gamma market resolved",
		"token", tokenID,
		"condition", tm.ConditionID,
		"outcome_index", tm.OutcomeIndex,
	)
	return tm, nil
}

// mapGammaMarket decodes the string-encoded arrays Gamma embeds in its JSON
// and locates the token's outcome index.
func mapGammaMarket(gm gammaMarket, tokenID string) (domain.TokenMarket, error) {
	var outcomes []string
	if gm.Outcomes != "" {
		if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
			return domain.TokenMarket{}, fmt.Errorf("parse outcomes: %w", err)
		}
	}

	var priceStrs []string
	if gm.OutcomePrices != "" {
		if err := json.Unmarshal([]byte(gm.OutcomePrices), &priceStrs); err != nil {
			return domain.TokenMarket{}, fmt.Errorf("parse outcome prices: %w", err)
		}
	}
	prices := make([]float64, len(priceStrs))
	for i, p := range priceStrs {
		prices[i] = domain.ParsePrice(p)
	}

	var tokenIDs []string
	if gm.CLOBTokenIDs != "" {
		if err := json.Unmarshal([]byte(gm.CLOBTokenIDs), &tokenIDs); err != nil {
			return domain.TokenMarket{}, fmt.Errorf("parse token ids: %w", err)
		}
	}

	outcomeIndex := -1
	for i, id := range tokenIDs {
		if id == tokenID {
			outcomeIndex = i
			break
		}
	}
	if outcomeIndex < 0 {
		return domain.TokenMarket{}, fmt.Errorf("token %s not in market %s", tokenID, gm.ConditionID)
	}

	return domain.TokenMarket{
		ConditionID:   gm.ConditionID,
		TokenID:       tokenID,
		Question:      gm.Question,
		Outcomes:      outcomes,
		OutcomePrices: prices,
		OutcomeIndex:  outcomeIndex,
		NegRisk:       gm.NegRisk,
	}, nil
}
