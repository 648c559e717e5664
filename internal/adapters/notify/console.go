package notify

// Console reporting for the operator. Tables for humans, JSON for scripts.

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/Okay-Bet/market-agent-server/internal/domain"
)

// Console writes operator reports to a writer, normally stdout.
type Console struct {
	out    io.Writer
	asJSON bool
}

// NewConsole creates a reporter writing to stdout. format is "table" or "json".
func NewConsole(format string) *Console {
	return &Console{out: os.Stdout, asJSON: format == "json"}
}

// NewConsoleWriter creates a reporter for tests.
func NewConsoleWriter(w io.Writer, format string) *Console {
	return &Console{out: w, asJSON: format == "json"}
}

// PrintPositions renders the current custodial positions.
func (c *Console) PrintPositions(positions []domain.Position) {
	if c.asJSON {
		c.printJSON(positions)
		return
	}

	if len(positions) == 0 {
		fmt.Fprintf(c.out, "[%s] no positions\n", time.Now().Format("15:04:05"))
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("User", "Condition", "Outcome", "Amount", "AvgPrice", "CostBasis", "PnL", "Status")

	for _, p := range positions {
		table.Append(
			shorten(p.UserAddress, 12),
			shorten(p.ConditionID, 14),
			fmt.Sprintf("%d", p.Outcome),
			p.Amount.StringFixed(4),
			p.AverageEntryPrice.StringFixed(4),
			"$"+p.TotalCostBasis.StringFixed(2),
			"$"+p.RealizedPnL.StringFixed(4),
			string(p.Status),
		)
	}
	table.Render()
}

// PrintOrders renders the order ledger rows.
func (c *Console) PrintOrders(orders []domain.Order) {
	if c.asJSON {
		c.printJSON(orders)
		return
	}

	if len(orders) == 0 {
		fmt.Fprintf(c.out, "[%s] no orders\n", time.Now().Format("15:04:05"))
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Order", "User", "Side", "Price", "Amount", "Nonce", "Status", "Error")

	for _, o := range orders {
		table.Append(
			shorten(o.ID, 12),
			shorten(o.UserAddress, 12),
			string(o.Side),
			o.Price.StringFixed(4),
			"$"+o.Amount.StringFixed(2),
			fmt.Sprintf("%d", o.Nonce),
			string(o.Status),
			shorten(o.Error, 30),
		)
	}
	table.Render()
}

// PrintRedemptions summarizes a redemption sweep.
func (c *Console) PrintRedemptions(results []domain.RedemptionResult) {
	if c.asJSON {
		c.printJSON(results)
		return
	}

	if len(results) == 0 {
		fmt.Fprintf(c.out, "[%s] nothing to redeem\n", time.Now().Format("15:04:05"))
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Condition", "User", "Paid", "Redeem Tx", "Transfer Tx")

	for _, r := range results {
		table.Append(
			shorten(r.ConditionID, 14),
			shorten(r.UserAddress, 12),
			microToUSDC(r.AmountTransferred),
			shorten(r.RedemptionTx, 14),
			shorten(r.TransferTx, 14),
		)
	}
	table.Render()
}

// PrintSettlement summarizes a completed proceeds delivery.
func (c *Console) PrintSettlement(res domain.SettlementResult) {
	if c.asJSON {
		c.printJSON(res)
		return
	}

	fmt.Fprintf(c.out, "\n[%s] settlement complete\n", res.CompletedAt.Format("15:04:05"))
	fmt.Fprintf(c.out, "  swap:   %s in → %s quoted (%d hops)  tx %s\n",
		res.Swap.AmountIn, res.Swap.QuotedOut, len(res.Swap.Path), shorten(res.Swap.Tx.Hash, 14))
	fmt.Fprintf(c.out, "  bridge: %s in → %s out  fee %s  tx %s\n",
		res.InputAmount, res.OutputAmount, res.Quote.TotalRelayFee, shorten(res.BridgeTx.Hash, 14))
	fmt.Fprintf(c.out, "  destination: %s\n\n", res.Destination)
}

func (c *Console) printJSON(v any) {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(c.out, "encode report: %v\n", err)
	}
}

func shorten(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func microToUSDC(v *big.Int) string {
	if v == nil {
		return "$0"
	}
	s := v.String()
	if len(s) <= 6 {
		return "$0." + fmt.Sprintf("%06s", s)
	}
	return "$" + s[:len(s)-6] + "." + s[len(s)-6:len(s)-4]
}
