/**
 * @description
 * Balance recomputation and monetary parsing for the payment ledger.
 *
 * RecomputeBalances is the single source of the aggregate invariant:
 *   totalPaid        == sum(amount) over completed ledger rows
 *   remainingBalance == max(0, totalAmount - totalPaid)
 *   isFullyPaid      <=> remainingBalance == 0
 * The webhook handler, the reconciliation sync, and the admin recalculation
 * tool all funnel through this function so the invariant cannot drift
 * between call sites.
 *
 * @dependencies
 * - github.com/shopspring/decimal: exact 2-decimal parsing of boundary amounts.
 */
package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("amount is not a valid monetary value")
	ErrAmountPrecision   = errors.New("amount has more than two decimal places")
	ErrAmountNotPositive = errors.New("amount must be greater than zero")
)

// BalanceSummary holds the derived fields of a registration aggregate.
type BalanceSummary struct {
	TotalPaid        int64
	RemainingBalance int64
	IsFullyPaid      bool
}

// RecomputeBalances derives the aggregate summary strictly from the completed
// rows of the ledger. Rows in any other status contribute nothing.
func RecomputeBalances(totalAmount int64, ledger []PaymentRecord) BalanceSummary {
	var paid int64
	for _, p := range ledger {
		if p.Status == PaymentStatusCompleted {
			paid += p.Amount
		}
	}

	remaining := totalAmount - paid
	if remaining < 0 {
		remaining = 0
	}

	return BalanceSummary{
		TotalPaid:        paid,
		RemainingBalance: remaining,
		IsFullyPaid:      remaining == 0,
	}
}

var centsFactor = decimal.NewFromInt(100)

// ParseAmountToCents converts a decimal amount string (e.g. "2999.99") into
// cents exactly. Values with more than two decimal places are rejected rather
// than rounded so a client bug cannot silently shave or inflate a balance.
func ParseAmountToCents(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}

	cents := d.Mul(centsFactor)
	if !cents.IsInteger() {
		return 0, ErrAmountPrecision
	}
	if cents.Sign() <= 0 {
		return 0, ErrAmountNotPositive
	}

	return cents.IntPart(), nil
}

// FormatCents renders a cent amount as a fixed two-decimal string for
// receipts, gateway metadata, and log lines.
func FormatCents(cents int64) string {
	return decimal.NewFromInt(cents).Div(centsFactor).StringFixed(2)
}
