package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment state machine position.
type Status string

// Payment states. RECEIVED and SUBMITTED are transient; the rest are
// terminal.
const (
	StatusReceived  Status = "RECEIVED"
	StatusSubmitted Status = "SUBMITTED"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusReturned  Status = "RETURNED"
	StatusRecalled  Status = "RECALLED"
)

// Event types written to the audit log.
const (
	EventPaymentReceived        = "PAYMENT_RECEIVED"
	EventStatusReportReceived   = "STATUS_REPORT_RECEIVED"
	EventProxyRequestReceived   = "PROXY_REQUEST_RECEIVED"
	EventProxyResponseReceived  = "PROXY_RESPONSE_RECEIVED"
	EventMessageReceived        = "MESSAGE_RECEIVED"
	EventSchemaValidationFailed = "SCHEMA_VALIDATION_FAILED"
	EventPaymentStatusChanged   = "PAYMENT_STATUS_CHANGED"
	EventCallbackDelivered      = "CALLBACK_DELIVERED"
	EventCallbackFailed         = "CALLBACK_DELIVERY_FAILED"
)

// Payment is the canonical record for one credit transfer, uniquely
// identified by (uetr, initiatedAt). Amounts mirror the bound quote;
// the row is created on the first valid instruction and mutated only by
// status transitions.
type Payment struct {
	UETR        string    `json:"uetr"`
	InitiatedAt time.Time `json:"initiatedAt"`
	Status      Status    `json:"status"`
	ReasonCode  string    `json:"reasonCode,omitempty"`

	QuoteID             string          `json:"quoteId,omitempty"`
	SourceCurrency      string          `json:"sourceCurrency,omitempty"`
	DestinationCurrency string          `json:"destinationCurrency,omitempty"`
	SourceAmount        decimal.Decimal `json:"sourceAmount"`
	DestinationAmount   decimal.Decimal `json:"destinationAmount"`
	ExchangeRate        decimal.Decimal `json:"exchangeRate"`

	DebtorName      string `json:"debtorName,omitempty"`
	DebtorAccount   string `json:"debtorAccount,omitempty"`
	CreditorName    string `json:"creditorName,omitempty"`
	CreditorAccount string `json:"creditorAccount,omitempty"`
	SourcePspBIC    string `json:"sourcePspBic,omitempty"`
	DestinationBIC  string `json:"destinationPspBic,omitempty"`

	// OriginalUETR is set when this payment returns an earlier one.
	OriginalUETR string `json:"originalUetr,omitempty"`
	// ReturnedBy names the UETR of the instruction that returned this
	// payment, once it flips to RETURNED.
	ReturnedBy string `json:"returnedBy,omitempty"`

	// PayloadDigest is the SHA-256 of the originating pacs.008 body,
	// used to tell idempotent resubmission from a DUPL conflict.
	PayloadDigest string `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaymentEvent is one append-only audit row. Exactly one raw-message
// slot is populated when the event carries an ISO document; pure state
// transitions leave Slot empty.
type PaymentEvent struct {
	ID            int64             `json:"eventId"`
	UETR          string            `json:"uetr,omitempty"`
	CorrelationID string            `json:"correlationId,omitempty"`
	EventType     string            `json:"eventType"`
	Actor         string            `json:"actor,omitempty"`
	Data          map[string]string `json:"data,omitempty"`

	// Slot names the raw-message column for MessageType; see
	// iso20022.MessageType.Slot.
	Slot        string `json:"slot,omitempty"`
	MessageType string `json:"messageType,omitempty"`
	RawMessage  []byte `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
}

// MessageRecord is the unit handed to the single write path. When
// Payment is non-nil its state is upserted in the same transaction that
// appends the event.
type MessageRecord struct {
	Event   PaymentEvent
	Payment *Payment
}

// MessageEnvelope is a stored raw ISO document with its slot, returned
// by the messages audit view in arrival order.
type MessageEnvelope struct {
	EventID     int64     `json:"eventId"`
	Slot        string    `json:"slot"`
	MessageType string    `json:"messageType"`
	ReceivedAt  time.Time `json:"receivedAt"`
	Raw         []byte    `json:"raw"`
}

// StatusSnapshot is the latest-status audit view for one UETR.
type StatusSnapshot struct {
	UETR       string    `json:"uetr"`
	Status     Status    `json:"status"`
	ReasonCode string    `json:"reasonCode,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// PaymentFilter narrows ListPayments. Zero values mean no constraint;
// Limit 0 falls back to 100.
type PaymentFilter struct {
	Status Status
	Limit  int
}

// Quote is the persisted FX offer. Immutable once stored; expiry makes
// it unbindable but it is never deleted.
type Quote struct {
	ID                  string          `json:"quoteId"`
	FXPID               string          `json:"fxpId"`
	SourceCurrency      string          `json:"sourceCurrency"`
	DestinationCurrency string          `json:"destinationCurrency"`
	RequestedAmount     decimal.Decimal `json:"requestedAmount"`
	AmountType          string          `json:"amountType"` // SOURCE_FIXED or DESTINATION_FIXED

	BaseRate          decimal.Decimal `json:"baseRate"`
	FinalRate         decimal.Decimal `json:"finalRate"`
	BaseSpreadBps     int             `json:"baseSpreadBps"`
	TierImprovement   int             `json:"tierImprovementBps"`
	PSPImprovement    int             `json:"pspImprovementBps"`
	AppliedSpreadBps  int             `json:"appliedSpreadBps"`
	SourceInterbank   decimal.Decimal `json:"sourceInterbankAmount"`
	DestinationAmount decimal.Decimal `json:"destinationInterbankAmount"`
	DestinationPspFee decimal.Decimal `json:"destinationPspFee"`
	CreditorAmount    decimal.Decimal `json:"creditorAccountAmount"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the quote is past its validity window at t.
func (q Quote) Expired(t time.Time) bool {
	return !t.Before(q.ExpiresAt)
}
