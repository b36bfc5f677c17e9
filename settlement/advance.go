package settlement

import (
	"fmt"
	"math"
	"time"
)

// ErrAdvanceShortfall aborts a settlement whose proceeds cannot fully cover
// the outstanding advance. Partial repayment is not supported.
var ErrAdvanceShortfall = fmt.Errorf("invoice amount insufficient to repay advance")

// AdvanceResult reports what the repayment step did.
type AdvanceResult struct {
	Processed       bool    `json:"processed"`
	AdvanceID       uint    `json:"advance_id,omitempty"`
	RepaidAmount    float64 `json:"repaid_amount"`
	RemainingAmount float64 `json:"remaining_amount"`
}

// ProcessAdvanceRepayment deducts an outstanding advance from invoice
// proceeds before any other distribution. Runs inside the settlement
// transaction; a returned error rolls the whole settlement back.
func ProcessAdvanceRepayment(uow UnitOfWork, invoiceID uint, invoiceAmount float64) (AdvanceResult, error) {
	advance, err := uow.FindDisbursedAdvance(invoiceID)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("failed to load advance: %w", err)
	}
	if advance == nil {
		return AdvanceResult{Processed: false, RemainingAmount: invoiceAmount}, nil
	}

	totalRepayment := advance.TotalRepaymentUSDC
	repaidAmount := math.Min(invoiceAmount, totalRepayment)

	if repaidAmount < totalRepayment {
		return AdvanceResult{}, fmt.Errorf("%w: amount %.2f, owed %.2f", ErrAdvanceShortfall, invoiceAmount, totalRepayment)
	}

	now := time.Now()
	if err := uow.MarkAdvanceRepaid(advance.ID, now); err != nil {
		return AdvanceResult{}, fmt.Errorf("failed to mark advance repaid: %w", err)
	}
	if err := uow.ClearInvoiceLien(invoiceID); err != nil {
		return AdvanceResult{}, fmt.Errorf("failed to clear invoice lien: %w", err)
	}

	remaining := math.Max(0, roundCents(invoiceAmount-repaidAmount))

	return AdvanceResult{
		Processed:       true,
		AdvanceID:       advance.ID,
		RepaidAmount:    repaidAmount,
		RemainingAmount: remaining,
	}, nil
}

func roundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}
