package settlement

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/models"
)

// RateProvider quotes a conversion rate between two currencies.
type RateProvider interface {
	Rate(fromCurrency, toCurrency string) (float64, error)
}

// FixedRateProvider returns preconfigured rates, keyed "FROM:TO".
type FixedRateProvider map[string]float64

func (p FixedRateProvider) Rate(fromCurrency, toCurrency string) (float64, error) {
	if rate, ok := p[fromCurrency+":"+toCurrency]; ok {
		return rate, nil
	}
	return 0, fmt.Errorf("no rate configured for %s -> %s", fromCurrency, toCurrency)
}

// AutoSwapResult reports whether a swap was queued and its amounts.
type AutoSwapResult struct {
	Triggered       bool    `json:"triggered"`
	SwapAmount      float64 `json:"swap_amount"`
	ConvertedAmount float64 `json:"converted_amount"`
	TargetCurrency  string  `json:"target_currency,omitempty"`
	RemainingAmount float64 `json:"remaining_amount"`
	BankAccountID   uint    `json:"bank_account_id,omitempty"`
}

// ProcessAutoSwap converts a share of proceeds to the user's local currency
// and queues a bank payout when an active rule exists. Runs after settlement
// commit; the caller logs and swallows errors.
func ProcessAutoSwap(db *gorm.DB, rates RateProvider, userID uint, paymentAmount float64, currency string) (AutoSwapResult, error) {
	var rule models.AutoSwapRule
	err := db.Where("user_id = ? AND is_active = ?", userID, true).First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AutoSwapResult{Triggered: false, RemainingAmount: paymentAmount}, nil
	}
	if err != nil {
		return AutoSwapResult{}, fmt.Errorf("failed to load auto-swap rule: %w", err)
	}

	rate, err := rates.Rate(currency, rule.TargetCurrency)
	if err != nil {
		return AutoSwapResult{}, fmt.Errorf("failed to quote swap rate: %w", err)
	}

	swapAmount := roundCents(paymentAmount * rule.SwapPercentage / 100)
	convertedAmount := roundCents(swapAmount * rate)

	bankAccountID := rule.BankAccountID
	payout := models.Transaction{
		UserID:        userID,
		Type:          models.TransactionTypeWithdrawal,
		Status:        models.TransactionStatusQueued,
		Amount:        swapAmount,
		Currency:      currency,
		BankAccountID: &bankAccountID,
	}
	if err := db.Create(&payout).Error; err != nil {
		return AutoSwapResult{}, fmt.Errorf("failed to queue swap payout: %w", err)
	}

	return AutoSwapResult{
		Triggered:       true,
		SwapAmount:      swapAmount,
		ConvertedAmount: convertedAmount,
		TargetCurrency:  rule.TargetCurrency,
		RemainingAmount: roundCents(paymentAmount - swapAmount),
		BankAccountID:   rule.BankAccountID,
	}, nil
}
