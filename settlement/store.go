package settlement

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/models"
)

// UnitOfWork is the narrow set of storage operations the settlement steps
// need. Repayment and distribution run against this interface rather than a
// raw DB handle so the backing transaction mechanism stays swappable.
type UnitOfWork interface {
	// MarkInvoicePaid performs the conditional pending->paid transition and
	// returns the number of rows affected. Zero means another settlement won.
	MarkInvoicePaid(invoiceID uint, at time.Time) (int64, error)
	// ReleaseEscrow conditionally transitions held escrow to released and the
	// invoice to paid, re-validating the client email at update time.
	ReleaseEscrow(invoiceID uint, clientEmail string, at time.Time) (int64, error)

	FindDisbursedAdvance(invoiceID uint) (*models.PaymentAdvance, error)
	MarkAdvanceRepaid(advanceID uint, at time.Time) error
	ClearInvoiceLien(invoiceID uint) error

	FindCollaborators(invoiceID uint) ([]models.InvoiceCollaborator, error)
	SetCollaboratorPayout(collaboratorID uint, status, payoutError string, at time.Time) error

	CreateTransaction(t *models.Transaction) error
	CreateEscrowEvent(e *models.EscrowEvent) error
	CreateAuditLog(a *models.AuditLog) error
}

type gormUnitOfWork struct {
	tx *gorm.DB
}

// NewUnitOfWork wraps a gorm handle (typically a transaction) in the
// settlement storage interface.
func NewUnitOfWork(tx *gorm.DB) UnitOfWork {
	return &gormUnitOfWork{tx: tx}
}

func (u *gormUnitOfWork) MarkInvoicePaid(invoiceID uint, at time.Time) (int64, error) {
	res := u.tx.Model(&models.Invoice{}).
		Where("id = ? AND status = ?", invoiceID, models.InvoiceStatusPending).
		Updates(map[string]interface{}{"status": models.InvoiceStatusPaid, "paid_at": at})
	return res.RowsAffected, res.Error
}

func (u *gormUnitOfWork) ReleaseEscrow(invoiceID uint, clientEmail string, at time.Time) (int64, error) {
	res := u.tx.Model(&models.Invoice{}).
		Where("id = ? AND status = ? AND escrow_enabled = ? AND escrow_status = ? AND LOWER(client_email) = LOWER(?)",
			invoiceID, models.InvoiceStatusPending, true, models.EscrowStatusHeld, clientEmail).
		Updates(map[string]interface{}{
			"status":             models.InvoiceStatusPaid,
			"paid_at":            at,
			"escrow_status":      models.EscrowStatusReleased,
			"escrow_released_at": at,
		})
	return res.RowsAffected, res.Error
}

func (u *gormUnitOfWork) FindDisbursedAdvance(invoiceID uint) (*models.PaymentAdvance, error) {
	var advance models.PaymentAdvance
	err := u.tx.Where("invoice_id = ? AND status = ?", invoiceID, models.AdvanceStatusDisbursed).
		Order("created_at DESC").
		First(&advance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &advance, nil
}

func (u *gormUnitOfWork) MarkAdvanceRepaid(advanceID uint, at time.Time) error {
	return u.tx.Model(&models.PaymentAdvance{}).
		Where("id = ?", advanceID).
		Updates(map[string]interface{}{"status": models.AdvanceStatusRepaid, "repaid_at": at}).Error
}

func (u *gormUnitOfWork) ClearInvoiceLien(invoiceID uint) error {
	return u.tx.Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Update("lien_active", false).Error
}

func (u *gormUnitOfWork) FindCollaborators(invoiceID uint) ([]models.InvoiceCollaborator, error) {
	var collaborators []models.InvoiceCollaborator
	err := u.tx.Preload("SubContractor").
		Where("invoice_id = ?", invoiceID).
		Order("id ASC").
		Find(&collaborators).Error
	return collaborators, err
}

func (u *gormUnitOfWork) SetCollaboratorPayout(collaboratorID uint, status, payoutError string, at time.Time) error {
	updates := map[string]interface{}{
		"payout_status": status,
		"payout_error":  payoutError,
	}
	if status == models.PayoutStatusCompleted {
		updates["paid_out_at"] = at
	}
	return u.tx.Model(&models.InvoiceCollaborator{}).
		Where("id = ?", collaboratorID).
		Updates(updates).Error
}

func (u *gormUnitOfWork) CreateTransaction(t *models.Transaction) error {
	return u.tx.Create(t).Error
}

func (u *gormUnitOfWork) CreateEscrowEvent(e *models.EscrowEvent) error {
	return u.tx.Create(e).Error
}

func (u *gormUnitOfWork) CreateAuditLog(a *models.AuditLog) error {
	return u.tx.Create(a).Error
}
