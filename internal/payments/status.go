package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/NexusGateway/server/internal/callbacks"
	"github.com/NexusGateway/server/internal/iso20022"
	"github.com/NexusGateway/server/internal/logger"
	"github.com/NexusGateway/server/internal/registry"
	"github.com/NexusGateway/server/internal/storage"
)

// SubmitStatusReport ingests a pacs.002 from the destination side and
// advances the named payment to its terminal state. A report for an
// unknown payment is recorded without a transition.
func (s *Service) SubmitStatusReport(ctx context.Context, raw []byte) (Ack, error) {
	start := time.Now()
	mt := iso20022.MsgPacs002

	if verr := s.admit(ctx, raw, mt); verr != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, verr
	}
	report, err := iso20022.ParseStatusReport(raw)
	if err != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, s.unparsable(ctx, raw, mt, err)
	}
	if !iso20022.IsUUIDShaped(report.OriginalUETR) {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, s.unparsable(ctx, raw, mt, fmt.Errorf("original UETR %q is not a UUID", report.OriginalUETR))
	}

	unlock := s.locks.lock(report.OriginalUETR)
	defer unlock()

	now := time.Now().UTC()
	data := map[string]string{"transactionStatus": report.Status}
	if report.ReasonCode != "" {
		data["reasonCode"] = report.ReasonCode
		if !KnownReason(report.ReasonCode) {
			data["unknownReason"] = "true"
		}
	}

	rec := storage.MessageRecord{Event: storage.PaymentEvent{
		UETR:        report.OriginalUETR,
		EventType:   storage.EventStatusReportReceived,
		Actor:       "downstream",
		Data:        data,
		Slot:        mt.Slot(),
		MessageType: string(mt),
		RawMessage:  raw,
		CreatedAt:   now,
	}}
	if err := s.store.RecordMessage(ctx, rec); err != nil {
		return Ack{}, fmt.Errorf("record status report %s: %w", report.OriginalUETR, err)
	}

	payment, err := s.store.GetPayment(ctx, report.OriginalUETR)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log := logger.FromContext(ctx)
		log.Warn().
			Str("uetr", report.OriginalUETR).
			Msg("payments: status report for unknown payment")
	case err != nil:
		return Ack{}, fmt.Errorf("look up payment %s: %w", report.OriginalUETR, err)
	default:
		s.applyStatusReport(ctx, payment, report, raw)
	}

	s.observeMessage(mt, "accepted", start)
	return Ack{UETR: report.OriginalUETR, Status: AckReceived, ProcessedAt: now}, nil
}

// applyStatusReport advances a SUBMITTED payment and forwards the
// report to the instructing agent's callback. Reports against a payment
// in any other state are recorded but change nothing.
func (s *Service) applyStatusReport(ctx context.Context, payment storage.Payment, report *iso20022.StatusReport, raw []byte) {
	log := logger.FromContext(ctx)

	var to storage.Status
	switch report.Status {
	case iso20022.StatusAccepted:
		to = storage.StatusAccepted
	case iso20022.StatusRejected:
		to = storage.StatusRejected
	default:
		log.Warn().
			Str("uetr", payment.UETR).
			Str("transactionStatus", report.Status).
			Msg("payments: status report carries no final status")
		return
	}
	if payment.Status != storage.StatusSubmitted {
		log.Warn().
			Str("uetr", payment.UETR).
			Str("status", string(payment.Status)).
			Str("transactionStatus", report.Status).
			Msg("payments: status report ignored, payment not awaiting one")
		return
	}

	from := payment.Status
	payment.Status = to
	if to == storage.StatusRejected {
		payment.ReasonCode = report.ReasonCode
		if payment.ReasonCode == "" {
			payment.ReasonCode = ReasonNotSpecified
		}
	}

	data := map[string]string{
		"from": string(from),
		"to":   string(to),
	}
	if to == storage.StatusRejected {
		data["reasonCode"] = payment.ReasonCode
	}
	rec := storage.MessageRecord{
		Event: storage.PaymentEvent{
			UETR:      payment.UETR,
			EventType: storage.EventPaymentStatusChanged,
			Actor:     "gateway",
			Data:      data,
			CreatedAt: time.Now().UTC(),
		},
		Payment: &payment,
	}
	if err := s.store.RecordMessage(ctx, rec); err != nil {
		log.Error().Err(err).
			Str("uetr", payment.UETR).
			Msg("payments: failed to apply status transition")
		return
	}

	if s.metrics != nil {
		s.metrics.ObservePaymentStatus(string(to), payment.ReasonCode)
	}
	log.Info().
		Str("uetr", payment.UETR).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("payments: status applied")

	s.forwardStatusReport(ctx, payment, report, raw)
}

// forwardStatusReport relays the terminal report to the instructing
// agent's registered callback so the source side learns the outcome.
func (s *Service) forwardStatusReport(ctx context.Context, payment storage.Payment, report *iso20022.StatusReport, raw []byte) {
	if payment.SourcePspBIC == "" {
		return
	}
	actor, err := s.actors.GetByBIC(ctx, payment.SourcePspBIC)
	if err != nil {
		if !errors.Is(err, registry.ErrActorNotFound) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).
				Str("bic", payment.SourcePspBIC).
				Msg("payments: registry lookup failed")
		}
		return
	}
	if actor.CallbackURL == "" {
		return
	}
	s.notifier.StatusReport(ctx, callbacks.Delivery{
		UETR:              payment.UETR,
		URL:               actor.CallbackURL,
		TransactionStatus: report.Status,
		Payload:           raw,
		Secret:            actor.CallbackSecret,
	})
}
