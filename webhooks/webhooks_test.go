package webhooks

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/email"
	"github.com/lancepay/lancepay-api/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	assert.NoError(t, err)
	err = db.AutoMigrate(&models.User{}, &models.UserWebhook{}, &models.WebhookDelivery{})
	assert.NoError(t, err)
	return db
}

type queuedRetry struct {
	URL          string
	Payload      interface{}
	DelaySeconds int
}

type MockDelayQueue struct {
	mu      sync.Mutex
	Entries []queuedRetry
}

func (q *MockDelayQueue) Enqueue(url string, payload interface{}, delaySeconds int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Entries = append(q.Entries, queuedRetry{URL: url, Payload: payload, DelaySeconds: delaySeconds})
	return nil
}

func (q *MockDelayQueue) delays() []int {
	q.mu.Lock()
	defer q.mu.Unlock()
	delays := make([]int, 0, len(q.Entries))
	for _, e := range q.Entries {
		delays = append(delays, e.DelaySeconds)
	}
	return delays
}

// receiver is a controllable webhook endpoint.
type receiver struct {
	mu       sync.Mutex
	status   int
	requests []*http.Request
	bodies   [][]byte
	server   *httptest.Server
}

func newReceiver(status int) *receiver {
	r := &receiver{status: status}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, req)
		r.bodies = append(r.bodies, body)
		status := r.status
		r.mu.Unlock()
		w.WriteHeader(status)
	}))
	return r
}

func (r *receiver) setStatus(status int) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func createTestWebhook(t *testing.T, db *gorm.DB, userID uint, url, events string) models.UserWebhook {
	t.Helper()
	hook := models.UserWebhook{
		UserID:           userID,
		TargetURL:        url,
		SigningSecret:    "whsec_testsecret",
		SubscribedEvents: events,
		IsActive:         true,
		Status:           models.WebhookStatusActive,
	}
	assert.NoError(t, db.Create(&hook).Error)
	return hook
}

func TestSignature(t *testing.T) {
	payload := []byte(`{"event":"invoice.paid","data":{"invoiceId":1}}`)
	secret := "whsec_testsecret"

	sig := ComputeSignature(payload, secret)
	assert.True(t, VerifySignature(payload, sig, secret))

	t.Run("Tampered Payload Fails", func(t *testing.T) {
		tampered := []byte(`{"event":"invoice.paid","data":{"invoiceId":2}}`)
		assert.False(t, VerifySignature(tampered, sig, secret))
	})

	t.Run("Wrong Secret Fails", func(t *testing.T) {
		assert.False(t, VerifySignature(payload, sig, "whsec_other"))
	})

	t.Run("Non Hex Signature Fails", func(t *testing.T) {
		assert.False(t, VerifySignature(payload, "not-hex!", secret))
	})
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	assert.NoError(t, err)
	b, err := GenerateSecret()
	assert.NoError(t, err)

	assert.Contains(t, a, "whsec_")
	assert.NotEqual(t, a, b)
}

func TestDispatch(t *testing.T) {
	t.Run("Successful First Attempt Leaves No Record", func(t *testing.T) {
		db := setupTestDB(t)
		target := newReceiver(http.StatusOK)
		defer target.server.Close()

		hook := createTestWebhook(t, db, 1, target.server.URL, models.EventInvoicePaid)
		d := NewDispatcher(db, &MockDelayQueue{}, email.LogSender{}, "http://app/api/v1/webhooks/retry")

		d.Dispatch(1, models.EventInvoicePaid, map[string]interface{}{"invoiceId": float64(1)})
		d.Wait()

		assert.Equal(t, 1, target.count())

		var deliveries int64
		db.Model(&models.WebhookDelivery{}).Count(&deliveries)
		assert.Equal(t, int64(0), deliveries)

		var stored models.UserWebhook
		db.First(&stored, hook.ID)
		assert.Equal(t, 0, stored.ConsecutiveFailures)
		assert.NotNil(t, stored.LastTriggeredAt)
	})

	t.Run("Signs And Labels The Request", func(t *testing.T) {
		db := setupTestDB(t)
		target := newReceiver(http.StatusOK)
		defer target.server.Close()

		createTestWebhook(t, db, 1, target.server.URL, models.EventInvoicePaid)
		d := NewDispatcher(db, &MockDelayQueue{}, email.LogSender{}, "")

		d.Dispatch(1, models.EventInvoicePaid, map[string]interface{}{"invoiceId": float64(7)})
		d.Wait()

		assert.Equal(t, 1, target.count())
		req := target.requests[0]
		assert.Equal(t, models.EventInvoicePaid, req.Header.Get("X-Event"))
		assert.Equal(t, "LancePay-Webhooks/1.0", req.Header.Get("User-Agent"))
		assert.True(t, VerifySignature(target.bodies[0], req.Header.Get("X-Signature"), "whsec_testsecret"))
	})

	t.Run("Skips Unsubscribed And Disabled Hooks", func(t *testing.T) {
		db := setupTestDB(t)
		target := newReceiver(http.StatusOK)
		defer target.server.Close()

		createTestWebhook(t, db, 1, target.server.URL, models.EventInvoiceViewed)
		disabled := createTestWebhook(t, db, 1, target.server.URL, models.EventInvoicePaid)
		db.Model(&models.UserWebhook{}).Where("id = ?", disabled.ID).
			Updates(map[string]interface{}{"is_active": false, "status": models.WebhookStatusDisabled})

		d := NewDispatcher(db, &MockDelayQueue{}, email.LogSender{}, "")
		d.Dispatch(1, models.EventInvoicePaid, nil)
		d.Wait()

		assert.Equal(t, 0, target.count())
	})

	t.Run("Failed First Attempt Creates Delivery And Schedules Retry", func(t *testing.T) {
		db := setupTestDB(t)
		target := newReceiver(http.StatusInternalServerError)
		defer target.server.Close()

		hook := createTestWebhook(t, db, 1, target.server.URL, models.EventInvoicePaid)
		queue := &MockDelayQueue{}
		d := NewDispatcher(db, queue, email.LogSender{}, "http://app/api/v1/webhooks/retry")

		d.Dispatch(1, models.EventInvoicePaid, map[string]interface{}{"invoiceId": float64(1)})
		d.Wait()

		var delivery models.WebhookDelivery
		assert.NoError(t, db.Where("webhook_id = ?", hook.ID).First(&delivery).Error)
		assert.Equal(t, models.DeliveryStatusPending, delivery.Status)
		assert.Equal(t, 1, delivery.AttemptCount)
		assert.NotEmpty(t, delivery.PublicID)
		assert.NotNil(t, delivery.NextRetryAt)
		assert.WithinDuration(t, time.Now().Add(1*time.Minute), *delivery.NextRetryAt, 5*time.Second)

		assert.Equal(t, []int{60}, queue.delays())

		var stored models.UserWebhook
		db.First(&stored, hook.ID)
		assert.Equal(t, 1, stored.ConsecutiveFailures)
		assert.Equal(t, models.WebhookStatusFailing, stored.Status)
	})
}

func TestProcessRetryDelivery(t *testing.T) {
	failDelivery := func(t *testing.T, db *gorm.DB, d *Dispatcher, hook models.UserWebhook) models.WebhookDelivery {
		t.Helper()
		d.Dispatch(hook.UserID, models.EventInvoicePaid, map[string]interface{}{"invoiceId": float64(1)})
		d.Wait()
		var delivery models.WebhookDelivery
		assert.NoError(t, db.Where("webhook_id = ?", hook.ID).Order("id DESC").First(&delivery).Error)
		return delivery
	}

	t.Run("Backoff Follows The Schedule Until Exhaustion", func(t *testing.T) {
		db := setupTestDB(t)
		target := newReceiver(http.StatusBadGateway)
		defer target.server.Close()

		hook := createTestWebhook(t, db, 1, target.server.URL, models.EventInvoicePaid)
		queue := &MockDelayQueue{}
		d := NewDispatcher(db, queue, email.LogSender{}, "http://app/api/v1/webhooks/retry")
		delivery := failDelivery(t, db, d, hook)

		// Six retries follow the first attempt; the last one exhausts.
		for i := 0; i < MaxAttempts-1; i++ {
			delivered, err := d.ProcessRetryDelivery(delivery.PublicID)
			assert.NoError(t, err)
			assert.False(t, delivered)
		}

		var stored models.WebhookDelivery
		db.First(&stored, delivery.ID)
		assert.Equal(t, models.DeliveryStatusExhausted, stored.Status)
		assert.Equal(t, MaxAttempts, stored.AttemptCount)
		assert.Nil(t, stored.NextRetryAt)

		// 1m, 5m, 15m, 1h, 6h, 24h; no schedule after the exhausting attempt.
		assert.Equal(t, []int{60, 300, 900, 3600, 21600, 86400}, queue.delays())

		// An exhausted delivery is never retried again.
		delivered, err := d.ProcessRetryDelivery(delivery.PublicID)
		assert.NoError(t, err)
		assert.False(t, delivered)
		assert.Equal(t, MaxAttempts, target.count())
	})

	t.Run("Success Marks Delivered And Reactivates Hook", func(t *testing.T) {
		db := setupTestDB(t)
		target := newReceiver(http.StatusInternalServerError)
		defer target.server.Close()

		hook := createTestWebhook(t, db, 1, target.server.URL, models.EventInvoicePaid)
		d := NewDispatcher(db, &MockDelayQueue{}, email.LogSender{}, "")
		delivery := failDelivery(t, db, d, hook)

		target.setStatus(http.StatusOK)
		delivered, err := d.ProcessRetryDelivery(delivery.PublicID)
		assert.NoError(t, err)
		assert.True(t, delivered)

		var stored models.WebhookDelivery
		db.First(&stored, delivery.ID)
		assert.Equal(t, models.DeliveryStatusDelivered, stored.Status)
		assert.Equal(t, 2, stored.AttemptCount)

		var storedHook models.UserWebhook
		db.First(&storedHook, hook.ID)
		assert.Equal(t, 0, storedHook.ConsecutiveFailures)
		assert.Equal(t, models.WebhookStatusActive, storedHook.Status)
		assert.True(t, storedHook.IsActive)
	})

	t.Run("Chronic Failure Disables The Subscription", func(t *testing.T) {
		db := setupTestDB(t)
		target := newReceiver(http.StatusInternalServerError)
		defer target.server.Close()

		hook := createTestWebhook(t, db, 1, target.server.URL, models.EventInvoicePaid)
		d := NewDispatcher(db, &MockDelayQueue{}, email.LogSender{}, "")
		delivery := failDelivery(t, db, d, hook)

		// First attempt plus retries until the failure counter crosses the
		// threshold. The delivery exhausts before that, so fail a second one.
		for i := 0; i < MaxAttempts-1; i++ {
			d.ProcessRetryDelivery(delivery.PublicID)
		}
		second := failDelivery(t, db, d, hook)
		for i := 0; i < MaxAttempts-1; i++ {
			d.ProcessRetryDelivery(second.PublicID)
		}

		var stored models.UserWebhook
		db.First(&stored, hook.ID)
		assert.GreaterOrEqual(t, stored.ConsecutiveFailures, AutoDisableThreshold)
		assert.Equal(t, models.WebhookStatusDisabled, stored.Status)
		assert.False(t, stored.IsActive)
	})

	t.Run("Unknown Delivery", func(t *testing.T) {
		db := setupTestDB(t)
		d := NewDispatcher(db, &MockDelayQueue{}, email.LogSender{}, "")

		_, err := d.ProcessRetryDelivery("no-such-id")
		assert.ErrorIs(t, err, ErrDeliveryNotFound)
	})
}

func TestManualRetry(t *testing.T) {
	t.Run("Retries Pending Delivery Immediately", func(t *testing.T) {
		db := setupTestDB(t)
		target := newReceiver(http.StatusInternalServerError)
		defer target.server.Close()

		hook := createTestWebhook(t, db, 1, target.server.URL, models.EventInvoicePaid)
		d := NewDispatcher(db, &MockDelayQueue{}, email.LogSender{}, "")
		d.Dispatch(1, models.EventInvoicePaid, nil)
		d.Wait()

		var delivery models.WebhookDelivery
		assert.NoError(t, db.Where("webhook_id = ?", hook.ID).First(&delivery).Error)

		target.setStatus(http.StatusOK)
		result, err := d.ManualRetry(delivery.PublicID)
		assert.NoError(t, err)
		assert.True(t, result.Success)

		var stored models.WebhookDelivery
		db.First(&stored, delivery.ID)
		assert.Equal(t, models.DeliveryStatusDelivered, stored.Status)
	})

	t.Run("Rejects Terminal Deliveries", func(t *testing.T) {
		db := setupTestDB(t)
		hook := createTestWebhook(t, db, 1, "http://unused.invalid", models.EventInvoicePaid)
		d := NewDispatcher(db, &MockDelayQueue{}, email.LogSender{}, "")

		delivered := models.WebhookDelivery{
			PublicID: "pub-delivered", WebhookID: hook.ID, EventType: models.EventInvoicePaid,
			Payload: "{}", Status: models.DeliveryStatusDelivered,
		}
		exhausted := models.WebhookDelivery{
			PublicID: "pub-exhausted", WebhookID: hook.ID, EventType: models.EventInvoicePaid,
			Payload: "{}", Status: models.DeliveryStatusExhausted, AttemptCount: MaxAttempts,
		}
		assert.NoError(t, db.Create(&delivered).Error)
		assert.NoError(t, db.Create(&exhausted).Error)

		_, err := d.ManualRetry("pub-delivered")
		assert.ErrorIs(t, err, ErrAlreadyDelivered)

		_, err = d.ManualRetry("pub-exhausted")
		assert.ErrorIs(t, err, ErrDeliveryExhausted)
	})
}

func TestProcessPendingRetries(t *testing.T) {
	t.Run("Sweeps Due Deliveries", func(t *testing.T) {
		db := setupTestDB(t)
		target := newReceiver(http.StatusInternalServerError)
		defer target.server.Close()

		hook := createTestWebhook(t, db, 1, target.server.URL, models.EventInvoicePaid)
		d := NewDispatcher(db, nil, email.LogSender{}, "")
		d.Dispatch(1, models.EventInvoicePaid, nil)
		d.Wait()

		// Force the retry due.
		past := time.Now().Add(-time.Minute)
		db.Model(&models.WebhookDelivery{}).Where("webhook_id = ?", hook.ID).
			Update("next_retry_at", past)

		target.setStatus(http.StatusOK)
		stats := d.ProcessPendingRetries(50)
		assert.Equal(t, 1, stats.Processed)
		assert.Equal(t, 1, stats.Delivered)
	})

	t.Run("Abandons Deliveries Without A Subscription", func(t *testing.T) {
		db := setupTestDB(t)
		d := NewDispatcher(db, nil, email.LogSender{}, "")

		past := time.Now().Add(-time.Minute)
		orphan := models.WebhookDelivery{
			PublicID: "pub-orphan", WebhookID: 9999, EventType: models.EventInvoicePaid,
			Payload: "{}", Status: models.DeliveryStatusPending, AttemptCount: 1, NextRetryAt: &past,
		}
		assert.NoError(t, db.Create(&orphan).Error)

		stats := d.ProcessPendingRetries(50)
		assert.Equal(t, 1, stats.Processed)
		assert.Equal(t, 1, stats.Abandoned)

		var stored models.WebhookDelivery
		db.First(&stored, orphan.ID)
		assert.Equal(t, models.DeliveryStatusFailed, stored.Status)
	})

	t.Run("Ignores Future Retries", func(t *testing.T) {
		db := setupTestDB(t)
		hook := createTestWebhook(t, db, 1, "http://unused.invalid", models.EventInvoicePaid)
		d := NewDispatcher(db, nil, email.LogSender{}, "")

		future := time.Now().Add(time.Hour)
		assert.NoError(t, db.Create(&models.WebhookDelivery{
			PublicID: "pub-future", WebhookID: hook.ID, EventType: models.EventInvoicePaid,
			Payload: "{}", Status: models.DeliveryStatusPending, AttemptCount: 1, NextRetryAt: &future,
		}).Error)

		stats := d.ProcessPendingRetries(50)
		assert.Equal(t, 0, stats.Processed)
	})
}

func TestCleanupOldDeliveries(t *testing.T) {
	db := setupTestDB(t)
	hook := createTestWebhook(t, db, 1, "http://unused.invalid", models.EventInvoicePaid)
	d := NewDispatcher(db, nil, email.LogSender{}, "")

	old := models.WebhookDelivery{
		PublicID: "pub-old", WebhookID: hook.ID, EventType: models.EventInvoicePaid,
		Payload: "{}", Status: models.DeliveryStatusDelivered,
	}
	assert.NoError(t, db.Create(&old).Error)
	db.Model(&models.WebhookDelivery{}).Where("id = ?", old.ID).
		Update("updated_at", time.Now().AddDate(0, 0, -40))

	pending := models.WebhookDelivery{
		PublicID: "pub-pending", WebhookID: hook.ID, EventType: models.EventInvoicePaid,
		Payload: "{}", Status: models.DeliveryStatusPending,
	}
	assert.NoError(t, db.Create(&pending).Error)
	db.Model(&models.WebhookDelivery{}).Where("id = ?", pending.ID).
		Update("updated_at", time.Now().AddDate(0, 0, -40))

	pruned, err := d.CleanupOldDeliveries(DeliveryRetentionDays * 24 * time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	// Pending deliveries survive regardless of age.
	var remaining []models.WebhookDelivery
	db.Find(&remaining)
	assert.Len(t, remaining, 1)
	assert.Equal(t, "pub-pending", remaining[0].PublicID)
}
