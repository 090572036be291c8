package payments

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/NexusGateway/server/internal/callbacks"
	"github.com/NexusGateway/server/internal/iso20022"
	"github.com/NexusGateway/server/internal/logger"
	"github.com/NexusGateway/server/internal/storage"
)

// SubmitProxyRequest ingests an acmt.023 identification verification
// request. No payment row is created; the conversation is keyed by the
// correlation identifier. A valid responseEndpoint is remembered so the
// matching acmt.024 can be routed back to the requester.
func (s *Service) SubmitProxyRequest(ctx context.Context, raw []byte, responseEndpoint string) (Ack, error) {
	start := time.Now()
	mt := iso20022.MsgAcmt023

	if verr := s.admit(ctx, raw, mt); verr != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, verr
	}
	req, err := iso20022.ParseProxyResolutionRequest(raw)
	if err != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, s.unparsable(ctx, raw, mt, err)
	}
	if strings.TrimSpace(req.CorrelationID) == "" {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, s.unparsable(ctx, raw, mt, errors.New("request carries no correlation identifier"))
	}

	data := map[string]string{
		"proxyType":  req.ProxyType,
		"proxyValue": logger.MaskAccount(req.ProxyValue),
	}
	if responseEndpoint != "" {
		if u, err := url.Parse(responseEndpoint); err == nil && u.IsAbs() && u.Host != "" {
			data["responseEndpoint"] = responseEndpoint
		}
	}

	now := time.Now().UTC()
	rec := storage.MessageRecord{Event: storage.PaymentEvent{
		CorrelationID: req.CorrelationID,
		EventType:     storage.EventProxyRequestReceived,
		Actor:         "requester",
		Data:          data,
		Slot:          mt.Slot(),
		MessageType:   string(mt),
		RawMessage:    raw,
		CreatedAt:     now,
	}}
	if err := s.store.RecordMessage(ctx, rec); err != nil {
		return Ack{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveProxyResolution("request")
	}
	s.observeMessage(mt, "accepted", start)

	log := logger.FromContext(ctx)
	log.Info().
		Str("correlationId", req.CorrelationID).
		Str("proxyType", req.ProxyType).
		Msg("payments: proxy resolution requested")

	return Ack{
		CorrelationID:    req.CorrelationID,
		Status:           AckReceived,
		CallbackEndpoint: data["responseEndpoint"],
		ProcessedAt:      now,
	}, nil
}

// SubmitProxyReport ingests an acmt.024 verification report, closing
// the conversation opened by the matching request. When the request
// named a response endpoint the report is relayed there, signed with
// the gateway secret.
func (s *Service) SubmitProxyReport(ctx context.Context, raw []byte) (Ack, error) {
	start := time.Now()
	mt := iso20022.MsgAcmt024

	if verr := s.admit(ctx, raw, mt); verr != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, verr
	}
	rep, err := iso20022.ParseProxyResolutionReport(raw)
	if err != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, s.unparsable(ctx, raw, mt, err)
	}
	if strings.TrimSpace(rep.CorrelationID) == "" {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, s.unparsable(ctx, raw, mt, errors.New("report carries no correlation identifier"))
	}

	outcome := "resolved"
	data := map[string]string{"verified": strconv.FormatBool(rep.Verified)}
	if !rep.Verified {
		outcome = "unresolved"
		code := rep.ReasonCode
		if code == "" {
			code = ReasonInvalidProxy
		}
		data["reasonCode"] = code
	}
	if rep.AccountID != "" {
		data["accountId"] = logger.MaskAccount(rep.AccountID)
	}
	if rep.AgentBIC != "" {
		data["agentBic"] = strings.ToUpper(rep.AgentBIC)
	}

	now := time.Now().UTC()
	rec := storage.MessageRecord{Event: storage.PaymentEvent{
		CorrelationID: rep.CorrelationID,
		EventType:     storage.EventProxyResponseReceived,
		Actor:         "responder",
		Data:          data,
		Slot:          mt.Slot(),
		MessageType:   string(mt),
		RawMessage:    raw,
		CreatedAt:     now,
	}}
	if err := s.store.RecordMessage(ctx, rec); err != nil {
		return Ack{}, err
	}

	if s.metrics != nil {
		s.metrics.ObserveProxyResolution(outcome)
	}
	s.observeMessage(mt, "accepted", start)

	log := logger.FromContext(ctx)
	log.Info().
		Str("correlationId", rep.CorrelationID).
		Bool("verified", rep.Verified).
		Msg("payments: proxy resolution reported")

	s.relayProxyReport(ctx, rep, raw)

	return Ack{CorrelationID: rep.CorrelationID, Status: AckReceived, ProcessedAt: now}, nil
}

// relayProxyReport pushes the report to the endpoint the request named,
// when it named one. The correlation identifier rides the UETR header
// so relays for one conversation stay serialized.
func (s *Service) relayProxyReport(ctx context.Context, rep *iso20022.ProxyResolutionReport, raw []byte) {
	events, err := s.store.EventsByCorrelationID(ctx, rep.CorrelationID)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Str("correlationId", rep.CorrelationID).
			Msg("payments: conversation lookup failed")
		return
	}

	endpoint := ""
	for _, ev := range events {
		if ev.EventType == storage.EventProxyRequestReceived && ev.Data["responseEndpoint"] != "" {
			endpoint = ev.Data["responseEndpoint"]
		}
	}
	if endpoint == "" {
		return
	}

	status := iso20022.StatusAccepted
	if !rep.Verified {
		status = iso20022.StatusRejected
	}
	s.notifier.StatusReport(ctx, callbacks.Delivery{
		UETR:              rep.CorrelationID,
		URL:               endpoint,
		MessageType:       "acmt.024",
		TransactionStatus: status,
		Payload:           raw,
	})
}
