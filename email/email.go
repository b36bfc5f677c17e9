// Package email defines the notification collaborator. Actual delivery is
// handled by an external provider; this module only needs the interface and
// a logging implementation for development and tests.
package email

import "github.com/sirupsen/logrus"

type WebhookDisabledNotice struct {
	To           string
	UserName     string
	WebhookURL   string
	LastError    string
	AutoDisabled bool
}

type EscrowReleasedNotice struct {
	To            string
	InvoiceNumber string
	ClientEmail   string
	Notes         string
}

type PaymentReceivedNotice struct {
	To             string
	FreelancerName string
	ClientName     string
	InvoiceNumber  string
	Amount         float64
	Currency       string
}

type InvoiceCancelledNotice struct {
	To             string
	FreelancerName string
	InvoiceNumber  string
	Amount         float64
	DaysOverdue    int
}

type Sender interface {
	SendWebhookDisabled(n WebhookDisabledNotice) error
	SendEscrowReleased(n EscrowReleasedNotice) error
	SendPaymentReceived(n PaymentReceivedNotice) error
	SendInvoiceCancelled(n InvoiceCancelledNotice) error
}

// LogSender writes notifications to the log instead of sending mail.
type LogSender struct{}

func (LogSender) SendWebhookDisabled(n WebhookDisabledNotice) error {
	logrus.WithFields(logrus.Fields{
		"to":            n.To,
		"webhook_url":   n.WebhookURL,
		"auto_disabled": n.AutoDisabled,
	}).Info("email: webhook delivery permanently failed")
	return nil
}

func (LogSender) SendEscrowReleased(n EscrowReleasedNotice) error {
	logrus.WithFields(logrus.Fields{
		"to":      n.To,
		"invoice": n.InvoiceNumber,
	}).Info("email: escrow released")
	return nil
}

func (LogSender) SendPaymentReceived(n PaymentReceivedNotice) error {
	logrus.WithFields(logrus.Fields{
		"to":      n.To,
		"invoice": n.InvoiceNumber,
		"amount":  n.Amount,
	}).Info("email: payment received")
	return nil
}

func (LogSender) SendInvoiceCancelled(n InvoiceCancelledNotice) error {
	logrus.WithFields(logrus.Fields{
		"to":           n.To,
		"invoice":      n.InvoiceNumber,
		"days_overdue": n.DaysOverdue,
	}).Info("email: invoice auto-cancelled")
	return nil
}
