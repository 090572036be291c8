package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NexusGateway/server/internal/iso20022"
	"github.com/NexusGateway/server/internal/logger"
	"github.com/NexusGateway/server/internal/storage"
)

// messageFacts is what an accept-and-log family contributes to its
// audit event.
type messageFacts struct {
	uetr       string
	data       map[string]string
	resolution *iso20022.InvestigationResolution
}

// SubmitMessage ingests one of the accept-and-log families: validate,
// store against the referenced UETR, acknowledge. None of these advance
// payment state except camt.029, which recalls an ACCEPTED payment when
// the cancellation investigation resolved as confirmed.
func (s *Service) SubmitMessage(ctx context.Context, raw []byte, mt iso20022.MessageType) (Ack, error) {
	start := time.Now()

	switch mt {
	case iso20022.MsgPain001, iso20022.MsgCamt103, iso20022.MsgCamt054,
		iso20022.MsgPacs004, iso20022.MsgPacs028, iso20022.MsgCamt056, iso20022.MsgCamt029:
	default:
		return Ack{}, fmt.Errorf("message type %s has no handler", mt)
	}

	if verr := s.admit(ctx, raw, mt); verr != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, verr
	}
	facts, err := extractFacts(raw, mt)
	if err != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, s.unparsable(ctx, raw, mt, err)
	}

	if iso20022.IsUUIDShaped(facts.uetr) {
		unlock := s.locks.lock(facts.uetr)
		defer unlock()
	}

	now := time.Now().UTC()
	rec := storage.MessageRecord{Event: storage.PaymentEvent{
		UETR:        facts.uetr,
		EventType:   storage.EventMessageReceived,
		Actor:       "participant",
		Data:        facts.data,
		Slot:        mt.Slot(),
		MessageType: string(mt),
		RawMessage:  raw,
		CreatedAt:   now,
	}}
	if err := s.store.RecordMessage(ctx, rec); err != nil {
		return Ack{}, fmt.Errorf("record %s message: %w", mt, err)
	}

	if facts.resolution != nil && strings.EqualFold(facts.resolution.CancellationStatus, "CNCL") {
		s.markRecalled(ctx, facts.resolution)
	}

	s.observeMessage(mt, "accepted", start)
	log := logger.FromContext(ctx)
	log.Info().
		Str("messageType", string(mt)).
		Str("uetr", facts.uetr).
		Msg("payments: message logged")

	return Ack{UETR: facts.uetr, Status: AckReceived, ProcessedAt: now}, nil
}

// ValidateDocument runs schema validation without ingesting. Nothing is
// stored and no events are written.
func (s *Service) ValidateDocument(raw []byte, hint iso20022.MessageType) iso20022.Result {
	return s.schemas.Validate(raw, hint)
}

// extractFacts pulls the referenced UETR and the family's audit fields
// out of an already validated document.
func extractFacts(raw []byte, mt iso20022.MessageType) (messageFacts, error) {
	switch mt {
	case iso20022.MsgPacs004:
		r, err := iso20022.ParsePaymentReturn(raw)
		if err != nil {
			return messageFacts{}, err
		}
		f := messageFacts{uetr: r.OriginalUETR, data: map[string]string{}}
		if r.ReasonCode != "" {
			f.data["reasonCode"] = r.ReasonCode
		}
		if !r.ReturnedAmount.Value.IsZero() {
			f.data["returnedAmount"] = r.ReturnedAmount.Value.String()
			f.data["returnedCurrency"] = r.ReturnedAmount.Currency
		}
		return f, nil

	case iso20022.MsgCamt056:
		c, err := iso20022.ParseCancellationRequest(raw)
		if err != nil {
			return messageFacts{}, err
		}
		f := messageFacts{uetr: c.OriginalUETR, data: map[string]string{"caseId": c.CaseID}}
		if c.ReasonCode != "" {
			f.data["reasonCode"] = c.ReasonCode
		}
		return f, nil

	case iso20022.MsgCamt029:
		res, err := iso20022.ParseInvestigationResolution(raw)
		if err != nil {
			return messageFacts{}, err
		}
		return messageFacts{
			uetr: res.OriginalUETR,
			data: map[string]string{
				"caseId":             res.CaseID,
				"cancellationStatus": res.CancellationStatus,
			},
			resolution: res,
		}, nil

	default:
		return messageFacts{uetr: iso20022.SafeExtractUETR(raw), data: map[string]string{}}, nil
	}
}

// markRecalled flips an ACCEPTED payment to RECALLED on a confirmed
// cancellation. The caller already holds the UETR's lock.
func (s *Service) markRecalled(ctx context.Context, res *iso20022.InvestigationResolution) {
	log := logger.FromContext(ctx)
	uetr := res.OriginalUETR
	if !iso20022.IsUUIDShaped(uetr) {
		log.Warn().
			Str("caseId", res.CaseID).
			Msg("payments: cancellation confirmed without a usable UETR")
		return
	}

	payment, err := s.store.GetPayment(ctx, uetr)
	if err != nil {
		log.Warn().
			Str("uetr", uetr).
			Str("caseId", res.CaseID).
			Msg("payments: cancellation confirmed for unknown payment")
		return
	}
	if payment.Status != storage.StatusAccepted {
		log.Warn().
			Str("uetr", uetr).
			Str("status", string(payment.Status)).
			Msg("payments: cancellation target is not in a recallable state")
		return
	}

	from := payment.Status
	payment.Status = storage.StatusRecalled

	rec := storage.MessageRecord{
		Event: storage.PaymentEvent{
			UETR:      uetr,
			EventType: storage.EventPaymentStatusChanged,
			Actor:     "gateway",
			Data: map[string]string{
				"from":   string(from),
				"to":     string(storage.StatusRecalled),
				"caseId": res.CaseID,
			},
			CreatedAt: time.Now().UTC(),
		},
		Payment: &payment,
	}
	if err := s.store.RecordMessage(ctx, rec); err != nil {
		log.Error().Err(err).
			Str("uetr", uetr).
			Msg("payments: failed to mark payment recalled")
		return
	}

	if s.metrics != nil {
		s.metrics.ObservePaymentStatus(string(storage.StatusRecalled), "")
	}
	log.Info().
		Str("uetr", uetr).
		Str("caseId", res.CaseID).
		Msg("payments: payment recalled")
}
