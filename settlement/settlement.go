package settlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/email"
	"github.com/lancepay/lancepay-api/models"
	"github.com/lancepay/lancepay-api/utils"
)

var (
	ErrInvoiceNotFound      = errors.New("invoice not found")
	ErrAlreadySettled       = errors.New("invoice already settled")
	ErrEscrowNotHeld        = errors.New("escrow is not in held state")
	ErrClientEmailMismatch  = errors.New("client email does not match invoice")
	ErrEscrowConflict       = errors.New("escrow state changed concurrently")
	ErrFundingNotConfigured = errors.New("funding wallet is not configured")
	// ErrPostCommitPayment marks a transfer failure that happened after the
	// settlement committed. The committed state stands; only the money
	// movement needs remediation.
	ErrPostCommitPayment = errors.New("payment failed after settlement commit")
)

// WebhookDispatcher is the outbound-event collaborator.
type WebhookDispatcher interface {
	Dispatch(userID uint, eventType string, data map[string]interface{})
}

// Service coordinates invoice settlement: the atomic status transition plus
// the cascade of dependent money movements.
type Service struct {
	db             *gorm.DB
	ledger         utils.StellarClientInterface
	dispatcher     WebhookDispatcher
	emails         email.Sender
	rates          RateProvider
	fundingAddress string
	fundingSecret  string
}

func NewService(db *gorm.DB, ledger utils.StellarClientInterface, dispatcher WebhookDispatcher, emails email.Sender, rates RateProvider, fundingAddress, fundingSecret string) *Service {
	return &Service{
		db:             db,
		ledger:         ledger,
		dispatcher:     dispatcher,
		emails:         emails,
		rates:          rates,
		fundingAddress: fundingAddress,
		fundingSecret:  fundingSecret,
	}
}

// Result reports what a settlement did. Settled is false when another
// settlement won the race; that is a no-op, not an error.
type Result struct {
	Settled   bool            `json:"settled"`
	Invoice   *models.Invoice `json:"invoice,omitempty"`
	Advance   AdvanceResult   `json:"advance"`
	Waterfall WaterfallResult `json:"waterfall"`
	AutoSwap  AutoSwapResult  `json:"auto_swap"`
	Savings   SavingsResult   `json:"savings"`
}

// SettleInvoice transitions a pending invoice to paid and applies the
// dependent cascade. Safe under concurrent or duplicate invocation: the
// conditional status update is the sole correctness mechanism, and the loser
// of a race observes a no-op result.
//
// transactionType distinguishes the inbound trigger ("incoming" for direct
// pay, "payment" for an on-ramp callback) on the ledger-mirror record.
func (s *Service) SettleInvoice(invoiceNumber, transactionType string, actorID *uint, meta map[string]string) (*Result, error) {
	var invoice models.Invoice
	err := s.db.Preload("User").Where("invoice_number = ?", invoiceNumber).First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	if invoice.Status != models.InvoiceStatusPending {
		return nil, ErrAlreadySettled
	}

	result := &Result{}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		uow := NewUnitOfWork(tx)
		now := time.Now()

		affected, err := uow.MarkInvoicePaid(invoice.ID, now)
		if err != nil {
			return fmt.Errorf("failed to mark invoice paid: %w", err)
		}
		if affected == 0 {
			// Another settlement already won the race.
			result.Settled = false
			return nil
		}
		result.Settled = true

		invoiceID := invoice.ID
		if err := uow.CreateTransaction(&models.Transaction{
			UserID:      invoice.UserID,
			Type:        transactionType,
			Status:      models.TransactionStatusCompleted,
			Amount:      invoice.Amount,
			Currency:    invoice.Currency,
			InvoiceID:   &invoiceID,
			CompletedAt: &now,
		}); err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}

		if err := uow.CreateAuditLog(auditEntry(invoice.ID, "invoice.paid", actorID, meta)); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}

		advance, err := ProcessAdvanceRepayment(uow, invoice.ID, invoice.Amount)
		if err != nil {
			return err
		}
		result.Advance = advance

		waterfall, err := ProcessWaterfallPayments(uow, s.ledger, invoice.ID, advance.RemainingAmount,
			s.fundingAddress, s.fundingSecret, "Revenue split: "+invoice.InvoiceNumber)
		if err != nil {
			return err
		}
		result.Waterfall = waterfall

		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Settled {
		return result, nil
	}

	paidAt := time.Now()
	invoice.Status = models.InvoiceStatusPaid
	invoice.PaidAt = &paidAt
	result.Invoice = &invoice

	s.runPostSettlement(&invoice, result)
	return result, nil
}

// EscrowReleaseResult is the outcome of an escrow release.
type EscrowReleaseResult struct {
	Result
	LeadTxHash string `json:"lead_tx_hash,omitempty"`
}

// ReleaseEscrow settles an invoice whose funds are held in escrow, on the
// client's explicit approval. The storage transition commits first behind
// the same conditional-update guard; the on-chain transfers run after
// commit, so a transfer failure is surfaced to the caller without reverting
// the committed state. Known risk, kept deliberately: money movement cannot
// be transactionally rolled back.
func (s *Service) ReleaseEscrow(invoiceID uint, clientEmail, notes string, meta map[string]string) (*EscrowReleaseResult, error) {
	var invoice models.Invoice
	err := s.db.Preload("User").Where("id = ?", invoiceID).First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}

	if !strings.EqualFold(invoice.ClientEmail, clientEmail) {
		return nil, ErrClientEmailMismatch
	}
	if !invoice.EscrowEnabled || invoice.EscrowStatus != models.EscrowStatusHeld {
		return nil, ErrEscrowNotHeld
	}
	if s.fundingSecret == "" {
		return nil, ErrFundingNotConfigured
	}

	result := &EscrowReleaseResult{}
	err = s.db.Transaction(func(tx *gorm.DB) error {
		uow := NewUnitOfWork(tx)
		now := time.Now()

		// Re-validates escrow state and client email at update time.
		affected, err := uow.ReleaseEscrow(invoice.ID, clientEmail, now)
		if err != nil {
			return fmt.Errorf("failed to release escrow: %w", err)
		}
		if affected == 0 {
			return ErrEscrowConflict
		}
		result.Settled = true

		eventNotes := notes
		if eventNotes == "" {
			eventNotes = "Client approved work and released escrow"
		}
		if err := uow.CreateEscrowEvent(&models.EscrowEvent{
			InvoiceID:  invoice.ID,
			EventType:  "released",
			ActorType:  "client",
			ActorEmail: clientEmail,
			Notes:      eventNotes,
		}); err != nil {
			return fmt.Errorf("failed to record escrow event: %w", err)
		}

		invID := invoice.ID
		if err := uow.CreateTransaction(&models.Transaction{
			UserID:      invoice.UserID,
			Type:        models.TransactionTypeIncoming,
			Status:      models.TransactionStatusCompleted,
			Amount:      invoice.Amount,
			Currency:    invoice.Currency,
			InvoiceID:   &invID,
			CompletedAt: &now,
		}); err != nil {
			return fmt.Errorf("failed to record transaction: %w", err)
		}

		if err := uow.CreateAuditLog(auditEntry(invoice.ID, "escrow.released", nil, meta)); err != nil {
			return fmt.Errorf("failed to write audit log: %w", err)
		}

		advance, err := ProcessAdvanceRepayment(uow, invoice.ID, invoice.Amount)
		if err != nil {
			return err
		}
		result.Advance = advance

		// Plan only: transfers happen after this transaction commits.
		plan, err := PlanDistributions(uow, invoice.ID, advance.RemainingAmount)
		if err != nil {
			return err
		}
		result.Waterfall = plan
		return nil
	})
	if err != nil {
		return nil, err
	}

	releasedAt := time.Now()
	invoice.Status = models.InvoiceStatusPaid
	invoice.PaidAt = &releasedAt
	invoice.EscrowStatus = models.EscrowStatusReleased
	invoice.EscrowReleasedAt = &releasedAt
	result.Invoice = &invoice

	var paymentErr error
	if invoice.User.StellarAddress == "" {
		paymentErr = fmt.Errorf("%w: freelancer wallet not found", ErrPostCommitPayment)
	} else {
		txHash, err := s.ledger.SendPayment(s.fundingAddress, s.fundingSecret, invoice.User.StellarAddress,
			utils.FormatAmount(result.Waterfall.LeadShare), "Escrow payout: "+invoice.InvoiceNumber)
		if err != nil {
			paymentErr = fmt.Errorf("%w: lead share: %v", ErrPostCommitPayment, err)
		} else {
			result.LeadTxHash = txHash
		}
	}

	if result.Waterfall.Processed {
		uow := NewUnitOfWork(s.db)
		ExecuteDistributions(uow, s.ledger, &result.Waterfall, s.fundingAddress, s.fundingSecret,
			"Revenue split: "+invoice.InvoiceNumber)
	}

	if invoice.User.Email != "" {
		if err := s.emails.SendEscrowReleased(email.EscrowReleasedNotice{
			To:            invoice.User.Email,
			InvoiceNumber: invoice.InvoiceNumber,
			ClientEmail:   clientEmail,
			Notes:         notes,
		}); err != nil {
			logrus.WithError(err).Error("failed to send escrow released email")
		}
	}

	s.runPostSettlement(&invoice, &result.Result)

	if paymentErr != nil {
		logrus.WithError(paymentErr).WithField("invoice", invoice.InvoiceNumber).
			Error("escrow release committed but payout failed")
		return result, paymentErr
	}
	return result, nil
}

// runPostSettlement applies the side effects that live outside the atomic
// boundary: referral credit, savings deduction, auto-swap, the paid webhook
// and the trust-score refresh, in that order. Each step is isolated; a
// failure is logged and never re-opens the settlement.
func (s *Service) runPostSettlement(invoice *models.Invoice, result *Result) {
	log := logrus.WithField("invoice", invoice.InvoiceNumber)

	if invoice.User.ReferredByID != nil {
		if _, err := CreateReferralEarning(s.db, *invoice.User.ReferredByID, invoice.UserID, invoice.ID, invoice.Amount); err != nil {
			log.WithError(err).Error("failed to credit referral earning")
		}
	}

	result.Savings = ProcessSavingsOnPayment(s.db, invoice.UserID, invoice.Amount)

	autoSwap, err := ProcessAutoSwap(s.db, s.rates, invoice.UserID, invoice.Amount, invoice.Currency)
	if err != nil {
		log.WithError(err).Error("auto-swap failed; settlement stands, re-run manually")
	} else {
		result.AutoSwap = autoSwap
	}

	if !autoSwap.Triggered && invoice.User.Email != "" {
		if err := s.emails.SendPaymentReceived(email.PaymentReceivedNotice{
			To:             invoice.User.Email,
			FreelancerName: invoice.User.Name,
			ClientName:     invoice.ClientName,
			InvoiceNumber:  invoice.InvoiceNumber,
			Amount:         invoice.Amount,
			Currency:       invoice.Currency,
		}); err != nil {
			log.WithError(err).Error("failed to send payment received email")
		}
	}

	s.dispatcher.Dispatch(invoice.UserID, models.EventInvoicePaid, map[string]interface{}{
		"invoiceId":     invoice.ID,
		"invoiceNumber": invoice.InvoiceNumber,
		"amount":        invoice.Amount,
		"currency":      invoice.Currency,
		"clientEmail":   invoice.ClientEmail,
		"clientName":    invoice.ClientName,
		"paidAt":        time.Now().UTC().Format(time.RFC3339),
	})

	if _, err := UpdateUserTrustScore(s.db, invoice.UserID); err != nil {
		// Never fail the payment over a score refresh.
		log.WithError(err).Error("failed to update trust score after payment")
	}
}

func auditEntry(invoiceID uint, eventType string, actorID *uint, meta map[string]string) *models.AuditLog {
	raw, err := json.Marshal(meta)
	if err != nil {
		raw = []byte("{}")
	}
	id := invoiceID
	return &models.AuditLog{
		InvoiceID: &id,
		EventType: eventType,
		ActorID:   actorID,
		Metadata:  string(raw),
	}
}
