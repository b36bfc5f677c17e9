package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/models"
	"github.com/lancepay/lancepay-api/utils"
)

func TestPlanDistributions(t *testing.T) {
	seedCollaborators := func(t *testing.T, db *gorm.DB, invoiceID uint, shares ...float64) {
		t.Helper()
		for i, share := range shares {
			sub := createTestUser(t, db, string(rune('a'+i))+"@example.com", "GSUB")
			assert.NoError(t, db.Create(&models.InvoiceCollaborator{
				InvoiceID: invoiceID, SubContractorID: sub.ID, SharePercentage: share,
				PayoutStatus: models.PayoutStatusPending,
			}).Error)
		}
	}

	t.Run("No Collaborators Means Full Lead Share", func(t *testing.T) {
		db := setupTestDB(t)
		user := createTestUser(t, db, "lead@example.com", "GLEAD")
		invoice := createTestInvoice(t, db, user.ID, 1000)

		plan, err := PlanDistributions(NewUnitOfWork(db), invoice.ID, 1000)
		assert.NoError(t, err)
		assert.False(t, plan.Processed)
		assert.Equal(t, 1000.0, plan.LeadShare)
		assert.Empty(t, plan.Distributions)
	})

	t.Run("Lead Share Absorbs Rounding Remainder", func(t *testing.T) {
		db := setupTestDB(t)
		user := createTestUser(t, db, "lead@example.com", "GLEAD")
		invoice := createTestInvoice(t, db, user.ID, 100)
		seedCollaborators(t, db, invoice.ID, 33.3333333, 33.3333333, 33.3333333)

		plan, err := PlanDistributions(NewUnitOfWork(db), invoice.ID, 100)
		assert.NoError(t, err)
		assert.True(t, plan.Processed)

		var distributed float64
		for _, dist := range plan.Distributions {
			assert.Equal(t, utils.RoundAmount(dist.Amount), dist.Amount)
			distributed += dist.Amount
		}
		// Every unit is accounted for: shares plus lead share equal the input.
		assert.Equal(t, 100.0, utils.RoundAmount(distributed+plan.LeadShare))
		assert.GreaterOrEqual(t, plan.LeadShare, 0.0)
	})

	t.Run("Hundred Percent Split Leaves Zero Lead Share", func(t *testing.T) {
		db := setupTestDB(t)
		user := createTestUser(t, db, "lead@example.com", "GLEAD")
		invoice := createTestInvoice(t, db, user.ID, 250)
		seedCollaborators(t, db, invoice.ID, 60, 40)

		plan, err := PlanDistributions(NewUnitOfWork(db), invoice.ID, 250)
		assert.NoError(t, err)
		assert.Equal(t, 150.0, plan.Distributions[0].Amount)
		assert.Equal(t, 100.0, plan.Distributions[1].Amount)
		assert.Equal(t, 0.0, plan.LeadShare)
	})
}

func TestProcessWaterfallPayments(t *testing.T) {
	t.Run("Missing Wallet Fails That Share Only", func(t *testing.T) {
		db := setupTestDB(t)
		ledger := &MockStellarClient{}

		user := createTestUser(t, db, "lead@example.com", "GLEAD")
		noWallet := createTestUser(t, db, "nowallet@example.com", "")
		withWallet := createTestUser(t, db, "wallet@example.com", "GSUB")
		invoice := createTestInvoice(t, db, user.ID, 1000)

		assert.NoError(t, db.Create(&models.InvoiceCollaborator{
			InvoiceID: invoice.ID, SubContractorID: noWallet.ID, SharePercentage: 10,
			PayoutStatus: models.PayoutStatusPending,
		}).Error)
		assert.NoError(t, db.Create(&models.InvoiceCollaborator{
			InvoiceID: invoice.ID, SubContractorID: withWallet.ID, SharePercentage: 10,
			PayoutStatus: models.PayoutStatusPending,
		}).Error)

		result, err := ProcessWaterfallPayments(NewUnitOfWork(db), ledger, invoice.ID, 1000,
			"GFUNDING", "SFUNDINGSECRET", "Revenue split: test")
		assert.NoError(t, err)

		assert.Equal(t, models.PayoutStatusFailed, result.Distributions[0].Status)
		assert.Contains(t, result.Distributions[0].Error, "no wallet")
		assert.Equal(t, models.PayoutStatusCompleted, result.Distributions[1].Status)
		assert.Len(t, ledger.Payments, 1)
		assert.Equal(t, "GSUB", ledger.Payments[0].To)
	})

	t.Run("Amounts Are Ledger Formatted", func(t *testing.T) {
		db := setupTestDB(t)
		ledger := &MockStellarClient{}

		user := createTestUser(t, db, "lead@example.com", "GLEAD")
		sub := createTestUser(t, db, "sub@example.com", "GSUB")
		invoice := createTestInvoice(t, db, user.ID, 333.33)
		assert.NoError(t, db.Create(&models.InvoiceCollaborator{
			InvoiceID: invoice.ID, SubContractorID: sub.ID, SharePercentage: 50,
			PayoutStatus: models.PayoutStatusPending,
		}).Error)

		_, err := ProcessWaterfallPayments(NewUnitOfWork(db), ledger, invoice.ID, 333.33,
			"GFUNDING", "SFUNDINGSECRET", "Revenue split: test")
		assert.NoError(t, err)
		assert.Len(t, ledger.Payments, 1)
		assert.Equal(t, "166.6650000", ledger.Payments[0].Amount)
	})
}
