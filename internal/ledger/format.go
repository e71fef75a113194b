// ABOUTME: Display formatting for ledger amounts and transaction summaries
// ABOUTME: Converts satoshis to BTC with exact decimal arithmetic

package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// unitExponent is the power of ten between the display unit and smallest unit.
const unitExponent = -8

// FormatBTC renders a satoshi amount in BTC without trailing zeros,
// e.g. 250000000 -> "2.5" and 100000000 -> "1".
func FormatBTC(satoshis int64) string {
	return decimal.New(satoshis, unitExponent).String()
}

// FormatBalance renders the reply for a balance lookup.
func FormatBalance(satoshis int64) string {
	return fmt.Sprintf("Your balance is BTC %s.", FormatBTC(satoshis))
}

// FormatTransactions renders one line per transfer, received first then sent.
// An empty summary renders as an empty string.
func FormatTransactions(summary *TransactionSummary) string {
	if summary.Empty() {
		return ""
	}

	lines := make([]string, 0, len(summary.Received)+len(summary.Sent))
	for _, t := range summary.Received {
		lines = append(lines, fmt.Sprintf("Received BTC %s at Block %d", FormatBTC(t.Amount), t.BlockHeight))
	}
	for _, t := range summary.Sent {
		lines = append(lines, fmt.Sprintf("Sent BTC %s at Block %d", FormatBTC(t.Amount), t.BlockHeight))
	}
	return strings.Join(lines, "\n")
}
