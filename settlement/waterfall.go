package settlement

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lancepay/lancepay-api/models"
	"github.com/lancepay/lancepay-api/utils"
)

// Distribution is one collaborator's slice of the waterfall.
type Distribution struct {
	CollaboratorID uint    `json:"collaborator_id"`
	Email          string  `json:"email"`
	WalletAddress  string  `json:"wallet_address,omitempty"`
	Amount         float64 `json:"amount"`
	Status         string  `json:"status"` // completed, failed
	Error          string  `json:"error,omitempty"`
	TxHash         string  `json:"tx_hash,omitempty"`
}

// WaterfallResult is the outcome of splitting available proceeds.
type WaterfallResult struct {
	Processed     bool           `json:"processed"`
	LeadShare     float64        `json:"lead_share"`
	Distributions []Distribution `json:"distributions"`
}

// PlanDistributions computes each collaborator's amount without moving
// money. Shares were validated to sum to at most 100 when the collaborators
// were attached; the engine does not re-check here.
func PlanDistributions(uow UnitOfWork, invoiceID uint, availableAmount float64) (WaterfallResult, error) {
	collaborators, err := uow.FindCollaborators(invoiceID)
	if err != nil {
		return WaterfallResult{}, fmt.Errorf("failed to load collaborators: %w", err)
	}

	if len(collaborators) == 0 {
		return WaterfallResult{Processed: false, LeadShare: availableAmount}, nil
	}

	result := WaterfallResult{Processed: true}
	var distributed float64
	for _, collab := range collaborators {
		amount := utils.RoundAmount(availableAmount * collab.SharePercentage / 100)
		distributed += amount
		result.Distributions = append(result.Distributions, Distribution{
			CollaboratorID: collab.ID,
			Email:          collab.SubContractor.Email,
			WalletAddress:  collab.SubContractor.StellarAddress,
			Amount:         amount,
		})
	}
	result.LeadShare = utils.RoundAmount(availableAmount - distributed)
	return result, nil
}

// ProcessWaterfallPayments splits availableAmount among an invoice's
// collaborators and pays each share from the funding wallet. One
// collaborator's failure never blocks the rest or the lead share; failures
// are recorded on the collaborator row and reported in the result.
func ProcessWaterfallPayments(uow UnitOfWork, ledger utils.StellarClientInterface, invoiceID uint, availableAmount float64, fundingAddress, fundingSecret, memo string) (WaterfallResult, error) {
	plan, err := PlanDistributions(uow, invoiceID, availableAmount)
	if err != nil || !plan.Processed {
		return plan, err
	}

	now := time.Now()
	for i := range plan.Distributions {
		dist := &plan.Distributions[i]
		paySingleDistribution(uow, ledger, dist, fundingAddress, fundingSecret, memo, now)
	}
	return plan, nil
}

// ExecuteDistributions pays out a previously planned split. Used by the
// escrow flow, where the plan is computed inside the storage transaction and
// the transfers happen only after it commits.
func ExecuteDistributions(uow UnitOfWork, ledger utils.StellarClientInterface, plan *WaterfallResult, fundingAddress, fundingSecret, memo string) {
	now := time.Now()
	for i := range plan.Distributions {
		paySingleDistribution(uow, ledger, &plan.Distributions[i], fundingAddress, fundingSecret, memo, now)
	}
}

func paySingleDistribution(uow UnitOfWork, ledger utils.StellarClientInterface, dist *Distribution, fundingAddress, fundingSecret, memo string, now time.Time) {
	if dist.WalletAddress == "" {
		dist.Status = models.PayoutStatusFailed
		dist.Error = "collaborator has no wallet address"
		markPayout(uow, dist, now)
		return
	}

	txHash, err := ledger.SendPayment(fundingAddress, fundingSecret, dist.WalletAddress, utils.FormatAmount(dist.Amount), memo)
	if err != nil {
		dist.Status = models.PayoutStatusFailed
		dist.Error = err.Error()
		logrus.WithError(err).WithFields(logrus.Fields{
			"collaborator_id": dist.CollaboratorID,
			"amount":          dist.Amount,
		}).Error("collaborator payout failed")
		markPayout(uow, dist, now)
		return
	}

	dist.Status = models.PayoutStatusCompleted
	dist.TxHash = txHash
	markPayout(uow, dist, now)
}

// markPayout is best effort: a failure recording the status must not abort
// the rest of the batch.
func markPayout(uow UnitOfWork, dist *Distribution, now time.Time) {
	if err := uow.SetCollaboratorPayout(dist.CollaboratorID, dist.Status, dist.Error, now); err != nil {
		logrus.WithError(err).WithField("collaborator_id", dist.CollaboratorID).
			Error("failed to record collaborator payout status")
	}
}
