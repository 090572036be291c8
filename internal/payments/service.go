package payments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/NexusGateway/server/internal/callbacks"
	"github.com/NexusGateway/server/internal/config"
	"github.com/NexusGateway/server/internal/dedup"
	"github.com/NexusGateway/server/internal/iso20022"
	"github.com/NexusGateway/server/internal/logger"
	"github.com/NexusGateway/server/internal/metrics"
	"github.com/NexusGateway/server/internal/money"
	"github.com/NexusGateway/server/internal/registry"
	"github.com/NexusGateway/server/internal/storage"
)

// Acknowledgement statuses. ACCEPTED means the instruction bound its
// quote and awaits the terminal report; RECEIVED means the message was
// taken in and the outcome travels in the callback.
const (
	AckAccepted = "ACCEPTED"
	AckReceived = "RECEIVED"
)

// Sandbox creditor accounts that force a specific rejection outcome, so
// integrators can exercise the failure paths end to end. Inert in
// production.
const (
	TriggerClosedAccount     = "NEXUSTESTAC04"
	TriggerInsufficientFunds = "NEXUSTESTAM04"
	TriggerRegulatoryBlock   = "NEXUSTESTRR04"
)

// Ack is the synchronous acknowledgement body for an ingested message.
type Ack struct {
	UETR             string    `json:"uetr,omitempty"`
	CorrelationID    string    `json:"correlationId,omitempty"`
	Status           string    `json:"status"`
	CallbackEndpoint string    `json:"callbackEndpoint,omitempty"`
	ProcessedAt      time.Time `json:"processedAt"`
}

// ValidationError reports a document that failed admission. Result
// carries the error kind and line-annotated issues for the response
// body; an audit event has already been written when this is returned.
// Reference is the UETR the event was keyed under, set only when one
// was recoverable from the payload.
type ValidationError struct {
	Result    iso20022.Result
	Reference string
}

func (e *ValidationError) Error() string {
	if len(e.Result.Errors) > 0 {
		return "message validation failed: " + e.Result.Errors[0].String()
	}
	return "message validation failed: " + e.Result.ErrorKind
}

// rejection is a business rejection decided during processing. The
// submission is still acknowledged with HTTP 200; the reason code
// travels in the pacs.002 callback and the detail in the audit event.
type rejection struct {
	reason string
	detail map[string]string
}

func rejectf(reason, errorCode, format string, args ...interface{}) *rejection {
	return &rejection{
		reason: reason,
		detail: map[string]string{
			"errorCode": errorCode,
			"detail":    fmt.Sprintf(format, args...),
		},
	}
}

// Service ingests ISO 20022 traffic and drives the payment state
// machine. Every handler follows the same contract: the store write
// completes before the acknowledgement is returned, and callbacks are
// scheduled after, never blocking the response.
type Service struct {
	cfg      *config.Config
	store    storage.Store
	schemas  *iso20022.SchemaSet
	actors   registry.Repository
	notifier callbacks.Notifier
	dedup    *dedup.Cache
	metrics  *metrics.Metrics

	limits map[string]decimal.Decimal
	locks  *uetrLocks
}

// NewService wires the ingestion pipeline. A nil notifier disables
// callbacks; the metrics collector may be nil.
func NewService(cfg *config.Config, store storage.Store, schemas *iso20022.SchemaSet, actors registry.Repository, notifier callbacks.Notifier, dedupCache *dedup.Cache, metricsCollector *metrics.Metrics) *Service {
	if notifier == nil {
		notifier = callbacks.NoopNotifier{}
	}

	limits := make(map[string]decimal.Decimal, len(cfg.Money.TransactionLimits))
	for ccy, raw := range cfg.Money.TransactionLimits {
		v, err := money.ParsePositive(raw)
		if err != nil {
			continue
		}
		limits[strings.ToUpper(ccy)] = v
	}

	return &Service{
		cfg:      cfg,
		store:    store,
		schemas:  schemas,
		actors:   actors,
		notifier: notifier,
		dedup:    dedupCache,
		metrics:  metricsCollector,
		limits:   limits,
		locks:    newUETRLocks(),
	}
}

// SubmitPaymentInstruction runs the pacs.008 pipeline: admit, bind the
// referenced quote, run account and limit checks, persist payment and
// event atomically, acknowledge, then schedule the pacs.002 status
// report. callbackOverride is the optional per-request endpoint; it
// wins over the instructing agent's registered callback URL.
func (s *Service) SubmitPaymentInstruction(ctx context.Context, raw []byte, callbackOverride string) (Ack, error) {
	start := time.Now()
	mt := iso20022.MsgPacs008

	if verr := s.admit(ctx, raw, mt); verr != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, verr
	}
	inst, err := iso20022.ParsePaymentInstruction(raw)
	if err != nil {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, s.unparsable(ctx, raw, mt, err)
	}
	if !iso20022.IsUUIDShaped(inst.UETR) {
		s.observeMessage(mt, "validation_failed", start)
		return Ack{}, s.unparsable(ctx, raw, mt, fmt.Errorf("transaction UETR %q is not a UUID", inst.UETR))
	}

	unlock := s.locks.lock(inst.UETR)
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	digest := payloadDigest(raw)
	key := dedup.Key(inst.UETR, inst.CreatedAt, digest)
	if s.dedup != nil {
		if cached, ok := s.dedup.Get(key); ok {
			var ack Ack
			if err := json.Unmarshal(cached.Body, &ack); err == nil {
				s.observeMessage(mt, "duplicate", start)
				return ack, nil
			}
		}
	}

	// The store fallback covers duplicates that outlived the local cache
	// and resubmissions landing on another gateway instance.
	if existing, err := s.store.GetPayment(ctx, inst.UETR); err == nil {
		return s.resolveResubmission(ctx, inst, raw, existing, digest, callbackOverride, start)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return Ack{}, fmt.Errorf("look up payment %s: %w", inst.UETR, err)
	}

	quote, rej, err := s.bindQuote(ctx, inst)
	if err != nil {
		return Ack{}, err
	}
	if rej == nil {
		rej = s.checkInstruction(inst, quote)
	}

	payment := s.buildPayment(inst, quote, digest, rej)
	endpoint, secret := s.resolveCallback(ctx, inst, callbackOverride)

	data := map[string]string{"status": string(payment.Status)}
	if rej != nil {
		data["reasonCode"] = rej.reason
		for k, v := range rej.detail {
			data[k] = v
		}
	} else {
		data["quoteId"] = quote.ID
	}
	if endpoint != "" {
		data["callbackEndpoint"] = endpoint
	}

	rec := storage.MessageRecord{
		Event: storage.PaymentEvent{
			UETR:        inst.UETR,
			EventType:   storage.EventPaymentReceived,
			Actor:       actorOf(inst),
			Data:        data,
			Slot:        mt.Slot(),
			MessageType: string(mt),
			RawMessage:  raw,
			CreatedAt:   time.Now().UTC(),
		},
		Payment: payment,
	}
	if err := s.store.RecordMessage(ctx, rec); err != nil {
		return Ack{}, fmt.Errorf("persist payment %s: %w", inst.UETR, err)
	}

	ack := Ack{
		UETR:             inst.UETR,
		Status:           AckReceived,
		CallbackEndpoint: endpoint,
		ProcessedAt:      time.Now().UTC(),
	}
	txStatus := iso20022.StatusRejected
	reason := ""
	if rej == nil {
		ack.Status = AckAccepted
		txStatus = iso20022.StatusAccepted
	} else {
		reason = rej.reason
	}
	s.cacheAck(key, ack, txStatus)
	s.scheduleStatusReport(ctx, inst, endpoint, secret, txStatus, reason)

	if s.metrics != nil {
		s.metrics.ObservePaymentStatus(string(payment.Status), reason)
	}
	outcome := "accepted"
	if rej != nil {
		outcome = "rejected"
	}
	s.observeMessage(mt, outcome, start)

	log := logger.FromContext(ctx)
	evt := log.Info()
	if rej != nil {
		evt = log.Warn().Str("reasonCode", reason)
	}
	evt.Str("uetr", inst.UETR).
		Str("status", string(payment.Status)).
		Str("quoteRef", inst.InstructionID).
		Msg("payments: instruction processed")

	// Release the instruction's slot before flipping the returned
	// payment so two UETR locks are never held together.
	unlock()
	unlock = nil
	if rej == nil && inst.IsReturn() && inst.OriginalUETR() != inst.UETR {
		s.markReturned(ctx, inst)
	}

	return ack, nil
}

// resolveResubmission replays the stored outcome for an identical
// resubmission and rejects a payload conflict as DUPL. The original
// payment row is never modified either way.
func (s *Service) resolveResubmission(ctx context.Context, inst *iso20022.PaymentInstruction, raw []byte, existing storage.Payment, digest, callbackOverride string, start time.Time) (Ack, error) {
	mt := iso20022.MsgPacs008
	now := time.Now().UTC()
	endpoint, secret := s.resolveCallback(ctx, inst, callbackOverride)

	if existing.PayloadDigest == digest && existing.InitiatedAt.Equal(inst.CreatedAt) {
		ack := Ack{
			UETR:             existing.UETR,
			Status:           AckAccepted,
			CallbackEndpoint: endpoint,
			ProcessedAt:      now,
		}
		txStatus := iso20022.StatusAccepted
		if existing.Status == storage.StatusRejected {
			ack.Status = AckReceived
			txStatus = iso20022.StatusRejected
		}
		s.cacheAck(dedup.Key(inst.UETR, inst.CreatedAt, digest), ack, txStatus)
		s.observeMessage(mt, "duplicate", start)
		return ack, nil
	}

	rec := storage.MessageRecord{Event: storage.PaymentEvent{
		UETR:      inst.UETR,
		EventType: storage.EventPaymentReceived,
		Actor:     actorOf(inst),
		Data: map[string]string{
			"status":     string(storage.StatusRejected),
			"reasonCode": ReasonDuplicate,
			"errorCode":  "DUPLICATE_UETR",
			"detail":     "payload digest differs from the first submission",
		},
		Slot:        mt.Slot(),
		MessageType: string(mt),
		RawMessage:  raw,
		CreatedAt:   now,
	}}
	if err := s.store.RecordMessage(ctx, rec); err != nil {
		return Ack{}, fmt.Errorf("record duplicate %s: %w", inst.UETR, err)
	}

	ack := Ack{
		UETR:             inst.UETR,
		Status:           AckReceived,
		CallbackEndpoint: endpoint,
		ProcessedAt:      now,
	}
	s.cacheAck(dedup.Key(inst.UETR, inst.CreatedAt, digest), ack, iso20022.StatusRejected)
	s.scheduleStatusReport(ctx, inst, endpoint, secret, iso20022.StatusRejected, ReasonDuplicate)

	if s.metrics != nil {
		s.metrics.ObservePaymentStatus(string(storage.StatusRejected), ReasonDuplicate)
	}
	s.observeMessage(mt, "rejected", start)

	log := logger.FromContext(ctx)
	log.Warn().
		Str("uetr", inst.UETR).
		Str("reasonCode", ReasonDuplicate).
		Msg("payments: conflicting resubmission rejected")

	return ack, nil
}

// bindQuote resolves the referenced quote and verifies the instructed
// figures still match it. Every failure maps to the single AB04 reason;
// the audit detail distinguishes the cases.
func (s *Service) bindQuote(ctx context.Context, inst *iso20022.PaymentInstruction) (storage.Quote, *rejection, error) {
	ref := strings.TrimSpace(inst.InstructionID)
	if ref == "" {
		return storage.Quote{}, rejectf(ReasonQuoteBinding, "QUOTE_NOT_FOUND", "instruction names no quote"), nil
	}

	quote, err := s.store.GetQuote(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Quote{}, rejectf(ReasonQuoteBinding, "QUOTE_NOT_FOUND", "quote %s does not exist", ref), nil
	}
	if err != nil {
		return storage.Quote{}, nil, fmt.Errorf("look up quote %s: %w", ref, err)
	}

	if quote.Expired(time.Now()) {
		return quote, rejectf(ReasonQuoteBinding, "QUOTE_EXPIRED",
			"quote %s expired at %s", ref, quote.ExpiresAt.UTC().Format(time.RFC3339)), nil
	}
	if !strings.EqualFold(inst.InstructedAmount.Currency, quote.SourceCurrency) ||
		!strings.EqualFold(inst.SettlementAmount.Currency, quote.DestinationCurrency) {
		return quote, rejectf(ReasonQuoteBinding, "CURRENCY_MISMATCH",
			"instructed %s->%s, quoted %s->%s",
			inst.InstructedAmount.Currency, inst.SettlementAmount.Currency,
			quote.SourceCurrency, quote.DestinationCurrency), nil
	}
	if !money.WithinScaleTolerance(inst.InstructedAmount.Value, quote.SourceInterbank, quote.SourceCurrency) {
		return quote, rejectf(ReasonQuoteBinding, "RATE_MISMATCH",
			"instructed amount %s disagrees with quoted %s %s",
			inst.InstructedAmount.Value.String(), quote.SourceCurrency, quote.SourceInterbank.String()), nil
	}
	if !money.WithinScaleTolerance(inst.SettlementAmount.Value, quote.DestinationAmount, quote.DestinationCurrency) {
		return quote, rejectf(ReasonQuoteBinding, "RATE_MISMATCH",
			"settlement amount %s disagrees with quoted %s %s",
			inst.SettlementAmount.Value.String(), quote.DestinationCurrency, quote.DestinationAmount.String()), nil
	}
	if !inst.ExchangeRate.IsZero() && inst.ExchangeRate.Sub(quote.FinalRate).Abs().GreaterThan(money.RateTolerance) {
		return quote, rejectf(ReasonQuoteBinding, "RATE_MISMATCH",
			"instructed rate %s disagrees with quoted %s",
			inst.ExchangeRate.String(), quote.FinalRate.String()), nil
	}
	return quote, nil, nil
}

// checkInstruction runs the account, agent, cut-off, and limit checks
// in a fixed order. The first failure wins.
func (s *Service) checkInstruction(inst *iso20022.PaymentInstruction, quote storage.Quote) *rejection {
	if !plausibleAccount(inst.Debtor.AccountID) {
		return rejectf(ReasonIncorrectAccount, "DEBTOR_ACCOUNT", "debtor account fails format checks")
	}
	if !plausibleAccount(inst.Creditor.AccountID) {
		return rejectf(ReasonIncorrectAccount, "CREDITOR_ACCOUNT", "creditor account fails format checks")
	}
	if !validBIC(inst.Debtor.AgentBIC) {
		return rejectf(ReasonInvalidSettlementAgent, "DEBTOR_AGENT", "debtor agent %q is not a valid BIC", inst.Debtor.AgentBIC)
	}
	if !validBIC(inst.Creditor.AgentBIC) {
		return rejectf(ReasonInvalidSettlementAgent, "CREDITOR_AGENT", "creditor agent %q is not a valid BIC", inst.Creditor.AgentBIC)
	}
	if rej := checkCutoff(inst.SettlementDate); rej != nil {
		return rej
	}
	if rej := s.checkLimits(inst, quote); rej != nil {
		return rej
	}
	if !s.cfg.IsProduction() {
		switch inst.Creditor.AccountID {
		case TriggerClosedAccount:
			return rejectf(ReasonClosedAccount, "SANDBOX_TRIGGER", "creditor account designates the closed-account outcome")
		case TriggerInsufficientFunds:
			return rejectf(ReasonInsufficientFunds, "SANDBOX_TRIGGER", "creditor account designates the insufficient-funds outcome")
		case TriggerRegulatoryBlock:
			return rejectf(ReasonRegulatoryBlock, "SANDBOX_TRIGGER", "creditor account designates the regulatory-block outcome")
		}
	}
	return nil
}

// checkCutoff rejects instructions whose requested settlement date is
// already past. Same-day and forward-dated settlement pass.
func checkCutoff(settlementDate string) *rejection {
	if settlementDate == "" {
		return nil
	}
	d, err := time.Parse("2006-01-02", settlementDate)
	if err != nil {
		return rejectf(ReasonInvalidCutoff, "SETTLEMENT_DATE", "settlement date %q is not an ISO date", settlementDate)
	}
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if d.Before(today) {
		return rejectf(ReasonInvalidCutoff, "SETTLEMENT_DATE", "settlement date %s is in the past", settlementDate)
	}
	return nil
}

// checkLimits enforces the per-currency instructed amount caps on both
// legs. Currencies without a configured cap are unlimited.
func (s *Service) checkLimits(inst *iso20022.PaymentInstruction, quote storage.Quote) *rejection {
	if limit, ok := s.limits[quote.SourceCurrency]; ok && inst.InstructedAmount.Value.GreaterThan(limit) {
		return rejectf(ReasonAmountAboveLimit, "SOURCE_LIMIT",
			"instructed amount %s exceeds the %s cap %s",
			inst.InstructedAmount.Value.String(), quote.SourceCurrency, limit.String())
	}
	if limit, ok := s.limits[quote.DestinationCurrency]; ok && inst.SettlementAmount.Value.GreaterThan(limit) {
		return rejectf(ReasonAmountAboveLimit, "DESTINATION_LIMIT",
			"settlement amount %s exceeds the %s cap %s",
			inst.SettlementAmount.Value.String(), quote.DestinationCurrency, limit.String())
	}
	return nil
}

// buildPayment shapes the canonical row. A bound instruction mirrors
// the quote's figures; a rejected one keeps the instructed figures so
// the record shows what was asked.
func (s *Service) buildPayment(inst *iso20022.PaymentInstruction, quote storage.Quote, digest string, rej *rejection) *storage.Payment {
	p := &storage.Payment{
		UETR:            inst.UETR,
		InitiatedAt:     inst.CreatedAt,
		Status:          storage.StatusSubmitted,
		QuoteID:         quote.ID,
		DebtorName:      inst.Debtor.Name,
		DebtorAccount:   inst.Debtor.AccountID,
		CreditorName:    inst.Creditor.Name,
		CreditorAccount: inst.Creditor.AccountID,
		SourcePspBIC:    strings.ToUpper(inst.Debtor.AgentBIC),
		DestinationBIC:  strings.ToUpper(inst.Creditor.AgentBIC),
		OriginalUETR:    inst.OriginalUETR(),
		PayloadDigest:   digest,
	}
	if rej == nil {
		p.SourceCurrency = quote.SourceCurrency
		p.DestinationCurrency = quote.DestinationCurrency
		p.SourceAmount = quote.SourceInterbank
		p.DestinationAmount = quote.DestinationAmount
		p.ExchangeRate = quote.FinalRate
	} else {
		p.Status = storage.StatusRejected
		p.ReasonCode = rej.reason
		p.SourceCurrency = strings.ToUpper(inst.InstructedAmount.Currency)
		p.DestinationCurrency = strings.ToUpper(inst.SettlementAmount.Currency)
		p.SourceAmount = inst.InstructedAmount.Value
		p.DestinationAmount = inst.SettlementAmount.Value
		p.ExchangeRate = inst.ExchangeRate
	}
	return p
}

// markReturned flips the named payment to RETURNED once the return
// instruction is durable. A target that is missing or not ACCEPTED is
// left untouched; the return itself still settles as its own payment.
func (s *Service) markReturned(ctx context.Context, inst *iso20022.PaymentInstruction) {
	originalUETR := inst.OriginalUETR()
	log := logger.FromContext(ctx)

	unlock := s.locks.lock(originalUETR)
	defer unlock()

	orig, err := s.store.GetPayment(ctx, originalUETR)
	if err != nil {
		log.Warn().
			Str("uetr", inst.UETR).
			Str("originalUetr", originalUETR).
			Msg("payments: return names an unknown payment")
		return
	}
	if orig.Status != storage.StatusAccepted {
		log.Warn().
			Str("uetr", inst.UETR).
			Str("originalUetr", originalUETR).
			Str("originalStatus", string(orig.Status)).
			Msg("payments: return target is not in a returnable state")
		return
	}

	from := orig.Status
	orig.Status = storage.StatusReturned
	orig.ReturnedBy = inst.UETR

	rec := storage.MessageRecord{
		Event: storage.PaymentEvent{
			UETR:      originalUETR,
			EventType: storage.EventPaymentStatusChanged,
			Actor:     "gateway",
			Data: map[string]string{
				"from":       string(from),
				"to":         string(storage.StatusReturned),
				"returnedBy": inst.UETR,
			},
			CreatedAt: time.Now().UTC(),
		},
		Payment: &orig,
	}
	if err := s.store.RecordMessage(ctx, rec); err != nil {
		log.Error().Err(err).
			Str("originalUetr", originalUETR).
			Msg("payments: failed to mark payment returned")
		return
	}

	if s.metrics != nil {
		s.metrics.ObservePaymentStatus(string(storage.StatusReturned), "")
	}
	log.Info().
		Str("uetr", inst.UETR).
		Str("originalUetr", originalUETR).
		Msg("payments: payment marked returned")
}

// resolveCallback picks the endpoint for this instruction's status
// reports: an explicit override on the request wins over the
// instructing agent's registered URL. The signing secret always comes
// from the registered actor when one exists, so receivers verify with
// the secret they were issued.
func (s *Service) resolveCallback(ctx context.Context, inst *iso20022.PaymentInstruction, override string) (endpoint, secret string) {
	if a, err := s.actors.GetByBIC(ctx, inst.Debtor.AgentBIC); err == nil {
		endpoint = a.CallbackURL
		secret = a.CallbackSecret
	} else if !errors.Is(err, registry.ErrActorNotFound) {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Str("bic", inst.Debtor.AgentBIC).
			Msg("payments: registry lookup failed")
	}
	if override != "" {
		if u, err := url.Parse(override); err == nil && u.IsAbs() && u.Host != "" {
			endpoint = override
		}
	}
	return endpoint, secret
}

// scheduleStatusReport fires the pacs.002 callback for an ingested
// instruction. The notifier detaches from the request context; this
// returns immediately.
func (s *Service) scheduleStatusReport(ctx context.Context, inst *iso20022.PaymentInstruction, endpoint, secret, txStatus, reason string) {
	if endpoint == "" {
		return
	}
	report := iso20022.BuildStatusReport(iso20022.StatusReportSpec{
		OriginalMessageID: inst.MessageID,
		OriginalMsgDefID:  string(iso20022.MsgPacs008),
		OriginalUETR:      inst.UETR,
		OriginalEndToEnd:  inst.EndToEndID,
		Status:            txStatus,
		ReasonCode:        reason,
		AdditionalInfo:    additionalInfo(reason),
	})
	s.notifier.StatusReport(ctx, callbacks.Delivery{
		UETR:              inst.UETR,
		URL:               endpoint,
		TransactionStatus: txStatus,
		Payload:           report,
		Secret:            secret,
	})
}

func additionalInfo(reason string) string {
	if reason == "" {
		return ""
	}
	return ReasonDescription(reason)
}

// admit checks the body against the family's schema profile, recording
// the audit event on failure. A nil return admits the document.
func (s *Service) admit(ctx context.Context, raw []byte, mt iso20022.MessageType) *ValidationError {
	if len(bytes.TrimSpace(raw)) == 0 {
		return s.validationFailed(ctx, raw, mt, iso20022.Result{
			Valid:       false,
			MessageType: mt,
			ErrorKind:   iso20022.ErrKindXMLParse,
			Errors:      []iso20022.Issue{{Line: 1, Message: "empty request body"}},
		})
	}
	result := s.schemas.Validate(raw, mt)
	if !result.Valid {
		return s.validationFailed(ctx, raw, mt, result)
	}
	return nil
}

// unparsable converts a post-validation parse failure into the same
// audited rejection as a validation failure.
func (s *Service) unparsable(ctx context.Context, raw []byte, mt iso20022.MessageType, err error) *ValidationError {
	return s.validationFailed(ctx, raw, mt, iso20022.Result{
		Valid:       false,
		MessageType: mt,
		ErrorKind:   iso20022.ErrKindXMLParse,
		Errors:      []iso20022.Issue{{Line: 1, Message: err.Error()}},
	})
}

// validationFailed writes the SCHEMA_VALIDATION_FAILED event, keyed by
// the extracted UETR or a generated placeholder when none is readable.
func (s *Service) validationFailed(ctx context.Context, raw []byte, mt iso20022.MessageType, result iso20022.Result) *ValidationError {
	uetr := iso20022.SafeExtractUETR(raw)
	placeholder := uetr == ""
	if placeholder {
		uetr = "unparsed-" + uuid.NewString()
	}

	data := map[string]string{"errorKind": result.ErrorKind}
	if n := len(result.Errors); n > 0 {
		data["firstError"] = result.Errors[0].String()
		data["errorCount"] = strconv.Itoa(n)
	}
	if placeholder {
		data["placeholderUetr"] = "true"
	}
	// The originating request id joins the audit row to the HTTP logs.
	if reqID := logger.GetRequestID(ctx); reqID != "" {
		data["requestId"] = reqID
	}

	ev := storage.PaymentEvent{
		UETR:        uetr,
		EventType:   storage.EventSchemaValidationFailed,
		Actor:       "gateway",
		Data:        data,
		Slot:        mt.Slot(),
		MessageType: string(mt),
		RawMessage:  raw,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.RecordMessage(ctx, storage.MessageRecord{Event: ev}); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).
			Str("uetr", uetr).
			Msg("payments: failed to record validation failure")
	}

	if s.metrics != nil {
		stage := "schema"
		if result.ErrorKind == iso20022.ErrKindXMLParse {
			stage = "syntax"
		}
		s.metrics.ObserveValidationFailure(string(mt), stage)
	}

	verr := &ValidationError{Result: result}
	if !placeholder {
		verr.Reference = uetr
	}
	return verr
}

// cacheAck stores the marshaled acknowledgement so an identical
// resubmission replays the exact same body.
func (s *Service) cacheAck(key string, ack Ack, txStatus string) {
	if s.dedup == nil {
		return
	}
	body, err := json.Marshal(ack)
	if err != nil {
		return
	}
	s.dedup.Set(key, &dedup.CachedAck{
		UETR:              ack.UETR,
		TransactionStatus: txStatus,
		Body:              body,
		CachedAt:          time.Now().UTC(),
	}, dedup.DefaultTTL)
}

func (s *Service) observeMessage(mt iso20022.MessageType, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveMessage(string(mt), outcome, time.Since(start))
	}
}

// payloadDigest fingerprints the exact submitted bytes.
func payloadDigest(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func actorOf(inst *iso20022.PaymentInstruction) string {
	if bic := strings.TrimSpace(inst.Debtor.AgentBIC); bic != "" {
		return strings.ToUpper(bic)
	}
	return "unknown"
}

var bicPattern = regexp.MustCompile(`^[A-Z]{4}[A-Z]{2}[A-Z0-9]{2}([A-Z0-9]{3})?$`)

func validBIC(bic string) bool {
	return bicPattern.MatchString(strings.ToUpper(strings.TrimSpace(bic)))
}

// plausibleAccount applies the structural account check: non-empty,
// bounded length, alphanumeric with hyphens. Scheme-specific account
// validation is the destination IPS's business.
func plausibleAccount(id string) bool {
	if n := len(id); n < 4 || n > 34 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c == '-':
		default:
			return false
		}
	}
	return true
}

// uetrLocks serializes message processing per UETR so a duplicate
// submission or a racing status report always observes the first
// write. Locks are reference counted and dropped once free.
type uetrLocks struct {
	mu    sync.Mutex
	locks map[string]*uetrLock
}

type uetrLock struct {
	mu   sync.Mutex
	refs int
}

func newUETRLocks() *uetrLocks {
	return &uetrLocks{locks: make(map[string]*uetrLock)}
}

func (t *uetrLocks) lock(uetr string) func() {
	t.mu.Lock()
	l, ok := t.locks[uetr]
	if !ok {
		l = &uetrLock{}
		t.locks[uetr] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, uetr)
		}
		t.mu.Unlock()
	}
}
