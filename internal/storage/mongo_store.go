package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements Store using MongoDB. Decimal amounts are stored
// as canonical strings; BSON doubles never touch monetary values.
type MongoStore struct {
	client   *mongo.Client
	db       *mongo.Database
	payments *mongo.Collection
	events   *mongo.Collection
	quotes   *mongo.Collection
	counters *mongo.Collection
}

// NewMongoStore connects, pings, and ensures indexes.
func NewMongoStore(connectionString, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		// Disconnect errors during failed startup are not actionable.
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	store := &MongoStore{
		client:   client,
		db:       db,
		payments: db.Collection("payments"),
		events:   db.Collection("payment_events"),
		quotes:   db.Collection("quotes"),
		counters: db.Collection("counters"),
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	_, err := s.payments.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "uetr", Value: 1}, {Key: "initiated_at", Value: 1}},
			Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("create payments indexes: %w", err)
	}

	_, err = s.events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "uetr", Value: 1}, {Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "correlation_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create events indexes: %w", err)
	}

	_, err = s.quotes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "quote_id", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	if err != nil {
		return fmt.Errorf("create quotes indexes: %w", err)
	}
	return nil
}

// nextSeq allocates a monotonic event id from the counters collection.
func (s *MongoStore) nextSeq(ctx context.Context) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": "payment_events"},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, fmt.Errorf("allocate event seq: %w", err)
	}
	return doc.Value, nil
}

type paymentDoc struct {
	UETR                string    `bson:"uetr"`
	InitiatedAt         time.Time `bson:"initiated_at"`
	Status              string    `bson:"status"`
	ReasonCode          string    `bson:"reason_code"`
	QuoteID             string    `bson:"quote_id"`
	SourceCurrency      string    `bson:"source_currency"`
	DestinationCurrency string    `bson:"destination_currency"`
	SourceAmount        string    `bson:"source_amount"`
	DestinationAmount   string    `bson:"destination_amount"`
	ExchangeRate        string    `bson:"exchange_rate"`
	DebtorName          string    `bson:"debtor_name"`
	DebtorAccount       string    `bson:"debtor_account"`
	CreditorName        string    `bson:"creditor_name"`
	CreditorAccount     string    `bson:"creditor_account"`
	SourcePspBIC        string    `bson:"source_psp_bic"`
	DestinationBIC      string    `bson:"destination_psp_bic"`
	OriginalUETR        string    `bson:"original_uetr"`
	ReturnedBy          string    `bson:"returned_by"`
	PayloadDigest       string    `bson:"payload_digest"`
	CreatedAt           time.Time `bson:"created_at"`
	UpdatedAt           time.Time `bson:"updated_at"`
}

func toPaymentDoc(p Payment) paymentDoc {
	return paymentDoc{
		UETR:                p.UETR,
		InitiatedAt:         p.InitiatedAt.UTC(),
		Status:              string(p.Status),
		ReasonCode:          p.ReasonCode,
		QuoteID:             p.QuoteID,
		SourceCurrency:      p.SourceCurrency,
		DestinationCurrency: p.DestinationCurrency,
		SourceAmount:        p.SourceAmount.String(),
		DestinationAmount:   p.DestinationAmount.String(),
		ExchangeRate:        p.ExchangeRate.String(),
		DebtorName:          p.DebtorName,
		DebtorAccount:       p.DebtorAccount,
		CreditorName:        p.CreditorName,
		CreditorAccount:     p.CreditorAccount,
		SourcePspBIC:        p.SourcePspBIC,
		DestinationBIC:      p.DestinationBIC,
		OriginalUETR:        p.OriginalUETR,
		ReturnedBy:          p.ReturnedBy,
		PayloadDigest:       p.PayloadDigest,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func fromPaymentDoc(d paymentDoc) Payment {
	return Payment{
		UETR:                d.UETR,
		InitiatedAt:         d.InitiatedAt,
		Status:              Status(d.Status),
		ReasonCode:          d.ReasonCode,
		QuoteID:             d.QuoteID,
		SourceCurrency:      d.SourceCurrency,
		DestinationCurrency: d.DestinationCurrency,
		SourceAmount:        parseDecimal(d.SourceAmount),
		DestinationAmount:   parseDecimal(d.DestinationAmount),
		ExchangeRate:        parseDecimal(d.ExchangeRate),
		DebtorName:          d.DebtorName,
		DebtorAccount:       d.DebtorAccount,
		CreditorName:        d.CreditorName,
		CreditorAccount:     d.CreditorAccount,
		SourcePspBIC:        d.SourcePspBIC,
		DestinationBIC:      d.DestinationBIC,
		OriginalUETR:        d.OriginalUETR,
		ReturnedBy:          d.ReturnedBy,
		PayloadDigest:       d.PayloadDigest,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type eventDoc struct {
	Seq           int64             `bson:"seq"`
	UETR          string            `bson:"uetr"`
	CorrelationID string            `bson:"correlation_id"`
	EventType     string            `bson:"event_type"`
	Actor         string            `bson:"actor"`
	Data          map[string]string `bson:"data,omitempty"`
	Slot          string            `bson:"slot"`
	MessageType   string            `bson:"message_type"`
	RawMessage    []byte            `bson:"raw_message,omitempty"`
	CreatedAt     time.Time         `bson:"created_at"`
}

// RecordMessage upserts the payment and appends the event. MongoDB
// multi-document transactions need a replica set, so the two writes run
// sequentially; the unique (uetr, initiated_at) index still guarantees
// single-payment consistency and events are append-only anyway.
func (s *MongoStore) RecordMessage(ctx context.Context, rec MessageRecord) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()

	if rec.Payment != nil {
		p := *rec.Payment
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		doc := toPaymentDoc(p)

		filter := bson.M{"uetr": doc.UETR, "initiated_at": doc.InitiatedAt}
		update := bson.M{
			"$set": bson.M{
				"status":        doc.Status,
				"reason_code":   doc.ReasonCode,
				"original_uetr": doc.OriginalUETR,
				"returned_by":   doc.ReturnedBy,
				"updated_at":    doc.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"quote_id":             doc.QuoteID,
				"source_currency":      doc.SourceCurrency,
				"destination_currency": doc.DestinationCurrency,
				"source_amount":        doc.SourceAmount,
				"destination_amount":   doc.DestinationAmount,
				"exchange_rate":        doc.ExchangeRate,
				"debtor_name":          doc.DebtorName,
				"debtor_account":       doc.DebtorAccount,
				"creditor_name":        doc.CreditorName,
				"creditor_account":     doc.CreditorAccount,
				"source_psp_bic":       doc.SourcePspBIC,
				"destination_psp_bic":  doc.DestinationBIC,
				"payload_digest":       doc.PayloadDigest,
				"created_at":           doc.CreatedAt,
			},
		}
		if _, err := s.payments.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			return fmt.Errorf("upsert payment: %w", err)
		}
	}

	seq, err := s.nextSeq(ctx)
	if err != nil {
		return err
	}
	ev := rec.Event
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	doc := eventDoc{
		Seq:           seq,
		UETR:          ev.UETR,
		CorrelationID: ev.CorrelationID,
		EventType:     ev.EventType,
		Actor:         ev.Actor,
		Data:          ev.Data,
		Slot:          ev.Slot,
		MessageType:   ev.MessageType,
		RawMessage:    ev.RawMessage,
		CreatedAt:     ev.CreatedAt.UTC(),
	}
	if _, err := s.events.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

type quoteDoc struct {
	QuoteID             string    `bson:"quote_id"`
	FXPID               string    `bson:"fxp_id"`
	SourceCurrency      string    `bson:"source_currency"`
	DestinationCurrency string    `bson:"destination_currency"`
	RequestedAmount     string    `bson:"requested_amount"`
	AmountType          string    `bson:"amount_type"`
	BaseRate            string    `bson:"base_rate"`
	FinalRate           string    `bson:"final_rate"`
	BaseSpreadBps       int       `bson:"base_spread_bps"`
	TierImprovement     int       `bson:"tier_improvement_bps"`
	PSPImprovement      int       `bson:"psp_improvement_bps"`
	AppliedSpreadBps    int       `bson:"applied_spread_bps"`
	SourceInterbank     string    `bson:"source_interbank"`
	DestinationAmount   string    `bson:"destination_interbank"`
	DestinationPspFee   string    `bson:"destination_psp_fee"`
	CreditorAmount      string    `bson:"creditor_amount"`
	CreatedAt           time.Time `bson:"created_at"`
	ExpiresAt           time.Time `bson:"expires_at"`
}

// SaveQuote persists an immutable quote record.
func (s *MongoStore) SaveQuote(ctx context.Context, q Quote) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	doc := quoteDoc{
		QuoteID:             q.ID,
		FXPID:               q.FXPID,
		SourceCurrency:      q.SourceCurrency,
		DestinationCurrency: q.DestinationCurrency,
		RequestedAmount:     q.RequestedAmount.String(),
		AmountType:          q.AmountType,
		BaseRate:            q.BaseRate.String(),
		FinalRate:           q.FinalRate.String(),
		BaseSpreadBps:       q.BaseSpreadBps,
		TierImprovement:     q.TierImprovement,
		PSPImprovement:      q.PSPImprovement,
		AppliedSpreadBps:    q.AppliedSpreadBps,
		SourceInterbank:     q.SourceInterbank.String(),
		DestinationAmount:   q.DestinationAmount.String(),
		DestinationPspFee:   q.DestinationPspFee.String(),
		CreditorAmount:      q.CreditorAmount.String(),
		CreatedAt:           q.CreatedAt.UTC(),
		ExpiresAt:           q.ExpiresAt.UTC(),
	}
	_, err := s.quotes.UpdateOne(ctx,
		bson.M{"quote_id": doc.QuoteID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save quote: %w", err)
	}
	return nil
}

// GetQuote returns the stored quote, expired or not.
func (s *MongoStore) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc quoteDoc
	err := s.quotes.FindOne(ctx, bson.M{"quote_id": quoteID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Quote{}, ErrNotFound
	}
	if err != nil {
		return Quote{}, fmt.Errorf("query quote: %w", err)
	}
	return Quote{
		ID:                  doc.QuoteID,
		FXPID:               doc.FXPID,
		SourceCurrency:      doc.SourceCurrency,
		DestinationCurrency: doc.DestinationCurrency,
		RequestedAmount:     parseDecimal(doc.RequestedAmount),
		AmountType:          doc.AmountType,
		BaseRate:            parseDecimal(doc.BaseRate),
		FinalRate:           parseDecimal(doc.FinalRate),
		BaseSpreadBps:       doc.BaseSpreadBps,
		TierImprovement:     doc.TierImprovement,
		PSPImprovement:      doc.PSPImprovement,
		AppliedSpreadBps:    doc.AppliedSpreadBps,
		SourceInterbank:     parseDecimal(doc.SourceInterbank),
		DestinationAmount:   parseDecimal(doc.DestinationAmount),
		DestinationPspFee:   parseDecimal(doc.DestinationPspFee),
		CreditorAmount:      parseDecimal(doc.CreditorAmount),
		CreatedAt:           doc.CreatedAt,
		ExpiresAt:           doc.ExpiresAt,
	}, nil
}

// GetPayment retrieves the payment record for a UETR.
func (s *MongoStore) GetPayment(ctx context.Context, uetr string) (Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	var doc paymentDoc
	err := s.payments.FindOne(ctx, bson.M{"uetr": uetr},
		options.FindOne().SetSort(bson.D{{Key: "initiated_at", Value: -1}}),
	).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, fmt.Errorf("query payment: %w", err)
	}
	return fromPaymentDoc(doc), nil
}

// ListPayments returns payments matching the filter, newest first.
func (s *MongoStore) ListPayments(ctx context.Context, filter PaymentFilter) ([]Payment, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	cursor, err := s.payments.Find(ctx, query, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Payment
	for cursor.Next(ctx) {
		var doc paymentDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
		out = append(out, fromPaymentDoc(doc))
	}
	return out, cursor.Err()
}

func (s *MongoStore) queryEvents(ctx context.Context, filter bson.M) ([]PaymentEvent, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	cursor, err := s.events.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "seq", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer cursor.Close(ctx)

	var out []PaymentEvent
	for cursor.Next(ctx) {
		var doc eventDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, PaymentEvent{
			ID:            doc.Seq,
			UETR:          doc.UETR,
			CorrelationID: doc.CorrelationID,
			EventType:     doc.EventType,
			Actor:         doc.Actor,
			Data:          doc.Data,
			Slot:          doc.Slot,
			MessageType:   doc.MessageType,
			RawMessage:    doc.RawMessage,
			CreatedAt:     doc.CreatedAt,
		})
	}
	return out, cursor.Err()
}

// EventsByUETR returns the event log for one UETR in commit order.
func (s *MongoStore) EventsByUETR(ctx context.Context, uetr string) ([]PaymentEvent, error) {
	return s.queryEvents(ctx, bson.M{"uetr": uetr})
}

// EventsByCorrelationID returns the proxy-resolution conversation.
func (s *MongoStore) EventsByCorrelationID(ctx context.Context, correlationID string) ([]PaymentEvent, error) {
	if correlationID == "" {
		return nil, nil
	}
	return s.queryEvents(ctx, bson.M{"correlation_id": correlationID})
}

// MessagesByUETR returns stored raw envelopes for one UETR in order.
func (s *MongoStore) MessagesByUETR(ctx context.Context, uetr string) ([]MessageEnvelope, error) {
	events, err := s.EventsByUETR(ctx, uetr)
	if err != nil {
		return nil, err
	}
	return envelopesOf(events), nil
}

// LatestStatus reports the current state of a payment.
func (s *MongoStore) LatestStatus(ctx context.Context, uetr string) (StatusSnapshot, error) {
	p, err := s.GetPayment(ctx, uetr)
	if err != nil {
		return StatusSnapshot{}, err
	}
	return StatusSnapshot{
		UETR:       p.UETR,
		Status:     p.Status,
		ReasonCode: p.ReasonCode,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

// Ping verifies connectivity for the health monitor.
func (s *MongoStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

var _ Store = (*MongoStore)(nil)
