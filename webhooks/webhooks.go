// Package webhooks implements durable, signed, at-least-once delivery of
// domain events to user-registered endpoints, with scheduled backoff retries
// and auto-disable on chronic failure.
package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/lancepay/lancepay-api/email"
	"github.com/lancepay/lancepay-api/models"
)

// RetryDelays is the backoff schedule applied after each failed attempt, in
// order. Together with the initial attempt this allows MaxAttempts total.
var RetryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	6 * time.Hour,
	24 * time.Hour,
}

const (
	MaxAttempts           = 7
	AutoDisableThreshold  = 10
	DeliveryTimeout       = 5 * time.Second
	DeliveryRetentionDays = 30
	userAgent             = "LancePay-Webhooks/1.0"
	headerSignature       = "X-Signature"
	headerEvent           = "X-Event"
)

var (
	ErrDeliveryNotFound  = errors.New("delivery not found")
	ErrAlreadyDelivered  = errors.New("delivery already completed")
	ErrDeliveryExhausted = errors.New("delivery exhausted all attempts")
)

// Payload is the wire format of an outbound event.
type Payload struct {
	Event     string                 `json:"event"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// DispatchResult is the outcome of a single delivery attempt.
type DispatchResult struct {
	Success      bool   `json:"success"`
	StatusCode   int    `json:"status_code,omitempty"`
	Error        string `json:"error,omitempty"`
	ResponseTime int64  `json:"response_time_ms"`
}

// Dispatcher delivers events and drives the retry state machine.
type Dispatcher struct {
	db          *gorm.DB
	queue       DelayQueue
	emails      email.Sender
	client      *http.Client
	callbackURL string // delay-queue callback endpoint for scheduled retries

	wg sync.WaitGroup
}

func NewDispatcher(db *gorm.DB, queue DelayQueue, emails email.Sender, callbackURL string) *Dispatcher {
	return &Dispatcher{
		db:          db,
		queue:       queue,
		emails:      emails,
		client:      &http.Client{Timeout: DeliveryTimeout},
		callbackURL: callbackURL,
	}
}

// Dispatch fans an event out to every active subscription of the user.
// First attempts run concurrently on detached goroutines; attempts for the
// same delivery stay strictly sequential because state only advances after
// an attempt completes.
func (d *Dispatcher) Dispatch(userID uint, eventType string, data map[string]interface{}) {
	var hooks []models.UserWebhook
	err := d.db.Where("user_id = ? AND is_active = ? AND status <> ?", userID, true, models.WebhookStatusDisabled).
		Find(&hooks).Error
	if err != nil {
		logrus.WithError(err).WithField("event", eventType).Error("failed to load webhook subscriptions")
		return
	}

	var subscribed []models.UserWebhook
	for _, h := range hooks {
		if h.SubscribesTo(eventType) {
			subscribed = append(subscribed, h)
		}
	}
	if len(subscribed) == 0 {
		return
	}

	payload, err := json.Marshal(Payload{
		Event:     eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		logrus.WithError(err).WithField("event", eventType).Error("failed to encode webhook payload")
		return
	}

	for _, hook := range subscribed {
		hook := hook
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.attemptFirstDelivery(&hook, payload, eventType); err != nil {
				logrus.WithError(err).WithField("webhook_id", hook.ID).Error("webhook dispatch failed")
			}
		}()
	}
}

// Wait blocks until in-flight first attempts finish. Used on shutdown and in
// tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// attemptFirstDelivery makes the synchronous first attempt. Success leaves no
// delivery record; failure creates one and schedules the first retry.
func (d *Dispatcher) attemptFirstDelivery(hook *models.UserWebhook, payload []byte, eventType string) error {
	result := d.sendRequest(hook.TargetURL, hook.SigningSecret, payload, eventType)

	now := time.Now()
	if result.Success {
		return d.recordSuccess(hook.ID, now, false)
	}

	nextRetryAt := now.Add(RetryDelays[0])
	delivery := models.WebhookDelivery{
		PublicID:       uuid.NewString(),
		WebhookID:      hook.ID,
		EventType:      eventType,
		Payload:        string(payload),
		Status:         models.DeliveryStatusPending,
		AttemptCount:   1,
		LastAttemptAt:  &now,
		NextRetryAt:    &nextRetryAt,
		LastStatusCode: statusCodePtr(result),
		LastError:      result.Error,
	}

	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&delivery).Error; err != nil {
			return err
		}
		_, err := d.recordFailure(tx, hook.ID, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record delivery failure: %w", err)
	}

	d.scheduleRetry(delivery.PublicID, RetryDelays[0])
	return nil
}

// sendRequest makes the signed POST. Pure HTTP: no storage access, reused by
// every delivery path. Any non-2xx response, timeout or network error counts
// as failure.
func (d *Dispatcher) sendRequest(targetURL, secret string, payload []byte, eventType string) DispatchResult {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), DeliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, bytes.NewReader(payload))
	if err != nil {
		return DispatchResult{Error: err.Error(), ResponseTime: time.Since(start).Milliseconds()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerSignature, ComputeSignature(payload, secret))
	req.Header.Set(headerEvent, eventType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return DispatchResult{Error: err.Error(), ResponseTime: time.Since(start).Milliseconds()}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return DispatchResult{
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode:   resp.StatusCode,
		ResponseTime: time.Since(start).Milliseconds(),
	}
}

// ProcessRetryDelivery runs one scheduled retry. Called by the delay-queue
// callback and by the sweep. Returns whether the delivery succeeded.
func (d *Dispatcher) ProcessRetryDelivery(publicID string) (bool, error) {
	var delivery models.WebhookDelivery
	err := d.db.Preload("Webhook").Where("public_id = ?", publicID).First(&delivery).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrDeliveryNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to load delivery: %w", err)
	}
	if delivery.Status != models.DeliveryStatusPending {
		return false, nil
	}

	result := d.sendRequest(delivery.Webhook.TargetURL, delivery.Webhook.SigningSecret, []byte(delivery.Payload), delivery.EventType)

	now := time.Now()
	newAttemptCount := delivery.AttemptCount + 1

	if result.Success {
		err := d.db.Model(&models.WebhookDelivery{}).Where("id = ?", delivery.ID).
			Updates(map[string]interface{}{
				"status":           models.DeliveryStatusDelivered,
				"attempt_count":    newAttemptCount,
				"last_attempt_at":  now,
				"next_retry_at":    nil,
				"last_status_code": result.StatusCode,
				"last_error":       "",
			}).Error
		if err != nil {
			return true, err
		}
		return true, d.recordSuccess(delivery.WebhookID, now, true)
	}

	disabled, err := d.recordFailure(d.db, delivery.WebhookID, now)
	if err != nil {
		return false, err
	}

	if newAttemptCount >= MaxAttempts {
		err := d.db.Model(&models.WebhookDelivery{}).Where("id = ?", delivery.ID).
			Updates(map[string]interface{}{
				"status":           models.DeliveryStatusExhausted,
				"attempt_count":    newAttemptCount,
				"last_attempt_at":  now,
				"next_retry_at":    nil,
				"last_status_code": statusCodePtr(result),
				"last_error":       result.Error,
			}).Error
		if err != nil {
			return false, err
		}
		d.notifyPermanentFailure(delivery.WebhookID, result, disabled)
		return false, nil
	}

	nextDelay := RetryDelays[newAttemptCount-1]
	nextRetryAt := now.Add(nextDelay)
	err = d.db.Model(&models.WebhookDelivery{}).Where("id = ?", delivery.ID).
		Updates(map[string]interface{}{
			"attempt_count":    newAttemptCount,
			"last_attempt_at":  now,
			"next_retry_at":    nextRetryAt,
			"last_status_code": statusCodePtr(result),
			"last_error":       result.Error,
		}).Error
	if err != nil {
		return false, err
	}

	d.scheduleRetry(delivery.PublicID, nextDelay)
	return false, nil
}

// ManualRetry re-attempts a delivery immediately, bypassing the delay queue.
// Allowed for pending and failed deliveries; success reactivates the
// subscription even if it had been disabled.
func (d *Dispatcher) ManualRetry(publicID string) (DispatchResult, error) {
	var delivery models.WebhookDelivery
	err := d.db.Preload("Webhook").Where("public_id = ?", publicID).First(&delivery).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DispatchResult{}, ErrDeliveryNotFound
	}
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to load delivery: %w", err)
	}

	switch delivery.Status {
	case models.DeliveryStatusDelivered:
		return DispatchResult{}, ErrAlreadyDelivered
	case models.DeliveryStatusExhausted:
		return DispatchResult{}, ErrDeliveryExhausted
	}

	result := d.sendRequest(delivery.Webhook.TargetURL, delivery.Webhook.SigningSecret, []byte(delivery.Payload), delivery.EventType)

	now := time.Now()
	if result.Success {
		err := d.db.Model(&models.WebhookDelivery{}).Where("id = ?", delivery.ID).
			Updates(map[string]interface{}{
				"status":           models.DeliveryStatusDelivered,
				"last_attempt_at":  now,
				"next_retry_at":    nil,
				"last_status_code": result.StatusCode,
				"last_error":       "",
			}).Error
		if err != nil {
			return result, err
		}
		return result, d.recordSuccess(delivery.WebhookID, now, true)
	}

	err = d.db.Model(&models.WebhookDelivery{}).Where("id = ?", delivery.ID).
		Updates(map[string]interface{}{
			"last_attempt_at":  now,
			"last_status_code": statusCodePtr(result),
			"last_error":       result.Error,
		}).Error
	return result, err
}

// RetrySweepStats summarizes one sweep run.
type RetrySweepStats struct {
	Processed int `json:"processed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

// ProcessPendingRetries is the safety net for delay-queue callbacks that
// never arrived: it re-attempts every due pending delivery. Deliveries whose
// subscription has been removed are marked failed instead of retried.
func (d *Dispatcher) ProcessPendingRetries(limit int) RetrySweepStats {
	var due []models.WebhookDelivery
	err := d.db.Where("status = ? AND next_retry_at <= ?", models.DeliveryStatusPending, time.Now()).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&due).Error
	if err != nil {
		logrus.WithError(err).Error("failed to load due webhook retries")
		return RetrySweepStats{}
	}

	stats := RetrySweepStats{Processed: len(due)}
	for _, delivery := range due {
		var hook models.UserWebhook
		if err := d.db.First(&hook, delivery.WebhookID).Error; err != nil {
			// Subscription is gone; retrying is pointless.
			d.db.Model(&models.WebhookDelivery{}).Where("id = ?", delivery.ID).
				Update("status", models.DeliveryStatusFailed)
			stats.Abandoned++
			continue
		}

		ok, err := d.ProcessRetryDelivery(delivery.PublicID)
		if err != nil {
			logrus.WithError(err).WithField("delivery", delivery.PublicID).Error("retry sweep item failed")
			stats.Failed++
			continue
		}
		if ok {
			stats.Delivered++
		} else {
			stats.Failed++
		}
	}
	return stats
}

// CleanupOldDeliveries prunes terminal delivery records past the retention
// window, bounding storage growth.
func (d *Dispatcher) CleanupOldDeliveries(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := d.db.Where("status IN ? AND updated_at < ?",
		[]string{models.DeliveryStatusDelivered, models.DeliveryStatusFailed, models.DeliveryStatusExhausted},
		cutoff).
		Delete(&models.WebhookDelivery{})
	return res.RowsAffected, res.Error
}

// recordSuccess resets the failure counter. reactivate additionally flips
// isActive back on, which is how a manual retry revives a disabled
// subscription.
func (d *Dispatcher) recordSuccess(webhookID uint, now time.Time, reactivate bool) error {
	updates := map[string]interface{}{
		"last_triggered_at":    now,
		"consecutive_failures": 0,
		"status":               models.WebhookStatusActive,
	}
	if reactivate {
		updates["is_active"] = true
	}
	return d.db.Model(&models.UserWebhook{}).Where("id = ?", webhookID).Updates(updates).Error
}

// recordFailure increments the consecutive-failure counter and disables the
// subscription once it crosses the threshold. Disablement is
// per-subscription: the delivery that tripped it keeps its own schedule.
func (d *Dispatcher) recordFailure(db *gorm.DB, webhookID uint, now time.Time) (disabled bool, err error) {
	err = db.Model(&models.UserWebhook{}).Where("id = ?", webhookID).
		Updates(map[string]interface{}{
			"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
			"status":               models.WebhookStatusFailing,
			"last_failure_at":      now,
		}).Error
	if err != nil {
		return false, err
	}

	var hook models.UserWebhook
	if err := db.First(&hook, webhookID).Error; err != nil {
		return false, err
	}

	if hook.ConsecutiveFailures >= AutoDisableThreshold {
		err := db.Model(&models.UserWebhook{}).Where("id = ?", webhookID).
			Updates(map[string]interface{}{
				"status":    models.WebhookStatusDisabled,
				"is_active": false,
			}).Error
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return hook.Status == models.WebhookStatusDisabled, nil
}

// notifyPermanentFailure emails the owner once, when a delivery exhausts all
// attempts.
func (d *Dispatcher) notifyPermanentFailure(webhookID uint, result DispatchResult, autoDisabled bool) {
	var hook models.UserWebhook
	if err := d.db.First(&hook, webhookID).Error; err != nil {
		logrus.WithError(err).WithField("webhook_id", webhookID).Error("failed to load webhook for failure notice")
		return
	}
	var owner models.User
	if err := d.db.First(&owner, hook.UserID).Error; err != nil || owner.Email == "" {
		return
	}

	lastError := result.Error
	if lastError == "" {
		lastError = fmt.Sprintf("HTTP %d", result.StatusCode)
	}
	userName := owner.Name
	if userName == "" {
		userName = "there"
	}

	err := d.emails.SendWebhookDisabled(email.WebhookDisabledNotice{
		To:           owner.Email,
		UserName:     userName,
		WebhookURL:   hook.TargetURL,
		LastError:    lastError,
		AutoDisabled: autoDisabled || hook.Status == models.WebhookStatusDisabled,
	})
	if err != nil {
		logrus.WithError(err).Error("failed to send webhook failure email")
	}
}

func (d *Dispatcher) scheduleRetry(publicID string, delay time.Duration) {
	if d.queue == nil || d.callbackURL == "" {
		// The sweep will pick the delivery up once nextRetryAt passes.
		return
	}
	err := d.queue.Enqueue(d.callbackURL, map[string]string{"deliveryId": publicID},
		int(delay/time.Second))
	if err != nil {
		logrus.WithError(err).WithField("delivery", publicID).Error("failed to schedule webhook retry")
	}
}

func statusCodePtr(result DispatchResult) *int {
	if result.StatusCode == 0 {
		return nil
	}
	code := result.StatusCode
	return &code
}

// EventList normalizes a subscribed-events slice into the stored form.
func EventList(events []string) string {
	cleaned := make([]string, 0, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			cleaned = append(cleaned, e)
		}
	}
	return strings.Join(cleaned, ",")
}
