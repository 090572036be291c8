package payments

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/NexusGateway/server/internal/iso20022"
	"github.com/NexusGateway/server/internal/storage"
)

const proxyCorrelationID = "PRXY-CORR-4401"

func proxyRequest(correlationID string) []byte {
	return []byte(`<Document xmlns="urn:iso:std:iso:20022:tech:xsd:acmt.023.001.04"><IdVrfctnReq>` +
		`<Assgnmt><MsgId>PRX-REQ-4401</MsgId><CreDtTm>2026-08-25T08:00:00Z</CreDtTm></Assgnmt>` +
		`<Vrfctn><Id>` + correlationID + `</Id><PtyAndAcctId><Acct><Prxy><Tp><Cd>MBNO</Cd></Tp><Id>+66812345678</Id></Prxy></Acct></PtyAndAcctId></Vrfctn>` +
		`</IdVrfctnReq></Document>`)
}

type proxyReportOpts struct {
	correlationID string
	verified      bool
	reason        string // empty omits Rsn
	accountID     string // empty omits UpdtdPtyAndAcctId
	agentBIC      string
}

func (o proxyReportOpts) render() []byte {
	var b strings.Builder
	b.WriteString(`<Document xmlns="urn:iso:std:iso:20022:tech:xsd:acmt.024.001.04"><IdVrfctnRpt>`)
	b.WriteString(`<Assgnmt><MsgId>PRX-RSP-4401</MsgId><CreDtTm>2026-08-25T08:00:05Z</CreDtTm></Assgnmt>`)
	b.WriteString(`<Rpt><OrgnlId>` + o.correlationID + `</OrgnlId><Vrfctn>` + strconv.FormatBool(o.verified) + `</Vrfctn>`)
	if o.reason != "" {
		b.WriteString(`<Rsn><Cd>` + o.reason + `</Cd></Rsn>`)
	}
	if o.accountID != "" {
		b.WriteString(`<UpdtdPtyAndAcctId><Pty><Nm>Niran Chaiyaporn</Nm></Pty>`)
		b.WriteString(`<Acct><Id><Othr><Id>` + o.accountID + `</Id></Othr></Id></Acct>`)
		if o.agentBIC != "" {
			b.WriteString(`<Agt><FinInstnId><BICFI>` + o.agentBIC + `</BICFI></FinInstnId></Agt>`)
		}
		b.WriteString(`</UpdtdPtyAndAcctId>`)
	}
	b.WriteString(`</Rpt></IdVrfctnRpt></Document>`)
	return []byte(b.String())
}

func TestSubmitProxyRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	endpoint := "https://psp-kbank.example.com/nexus/proxy"

	ack, err := env.svc.SubmitProxyRequest(ctx, proxyRequest(proxyCorrelationID), endpoint)
	if err != nil {
		t.Fatalf("SubmitProxyRequest: %v", err)
	}
	if ack.CorrelationID != proxyCorrelationID {
		t.Errorf("ack correlation = %q, want %q", ack.CorrelationID, proxyCorrelationID)
	}
	if ack.Status != AckReceived {
		t.Errorf("ack status = %q, want %q", ack.Status, AckReceived)
	}
	if ack.CallbackEndpoint != endpoint {
		t.Errorf("ack callback endpoint = %q, want %q", ack.CallbackEndpoint, endpoint)
	}
	if ack.UETR != "" {
		t.Errorf("proxy ack carries UETR %q", ack.UETR)
	}

	events, err := env.store.EventsByCorrelationID(ctx, proxyCorrelationID)
	if err != nil {
		t.Fatalf("EventsByCorrelationID: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.EventType != storage.EventProxyRequestReceived || ev.Actor != "requester" {
		t.Errorf("event = %s by %s", ev.EventType, ev.Actor)
	}
	if ev.Data["proxyType"] != "MBNO" {
		t.Errorf("proxy type = %q, want MBNO", ev.Data["proxyType"])
	}
	// The proxy value is masked before it reaches the audit log.
	if ev.Data["proxyValue"] != "********5678" {
		t.Errorf("proxy value = %q, want masked", ev.Data["proxyValue"])
	}
	if ev.Data["responseEndpoint"] != endpoint {
		t.Errorf("response endpoint = %q, want %q", ev.Data["responseEndpoint"], endpoint)
	}
	if ev.Slot != iso20022.MsgAcmt023.Slot() || ev.MessageType != string(iso20022.MsgAcmt023) {
		t.Errorf("event slot/type = %s/%s", ev.Slot, ev.MessageType)
	}
}

func TestSubmitProxyRequestDropsRelativeEndpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ack, err := env.svc.SubmitProxyRequest(ctx, proxyRequest(proxyCorrelationID), "/nexus/proxy")
	if err != nil {
		t.Fatalf("SubmitProxyRequest: %v", err)
	}
	if ack.CallbackEndpoint != "" {
		t.Errorf("ack kept relative endpoint %q", ack.CallbackEndpoint)
	}

	events, err := env.store.EventsByCorrelationID(ctx, proxyCorrelationID)
	if err != nil {
		t.Fatalf("EventsByCorrelationID: %v", err)
	}
	if _, ok := events[0].Data["responseEndpoint"]; ok {
		t.Error("event kept the relative endpoint")
	}
}

func TestSubmitProxyReportRelaysToRequester(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	endpoint := "https://psp-kbank.example.com/nexus/proxy"

	if _, err := env.svc.SubmitProxyRequest(ctx, proxyRequest(proxyCorrelationID), endpoint); err != nil {
		t.Fatalf("SubmitProxyRequest: %v", err)
	}

	raw := proxyReportOpts{
		correlationID: proxyCorrelationID,
		verified:      true,
		accountID:     "TH-7788-9900-11",
		agentBIC:      "KASITHBKXXX",
	}.render()
	ack, err := env.svc.SubmitProxyReport(ctx, raw)
	if err != nil {
		t.Fatalf("SubmitProxyReport: %v", err)
	}
	if ack.CorrelationID != proxyCorrelationID || ack.Status != AckReceived {
		t.Errorf("ack = %+v", ack)
	}

	events, err := env.store.EventsByCorrelationID(ctx, proxyCorrelationID)
	if err != nil {
		t.Fatalf("EventsByCorrelationID: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	ev := findEvent(t, events, storage.EventProxyResponseReceived)
	if ev.Actor != "responder" {
		t.Errorf("event actor = %q, want responder", ev.Actor)
	}
	if ev.Data["verified"] != "true" {
		t.Errorf("verified = %q, want true", ev.Data["verified"])
	}
	if ev.Data["accountId"] != "***********0-11" {
		t.Errorf("account = %q, want masked", ev.Data["accountId"])
	}
	if ev.Data["agentBic"] != "KASITHBKXXX" {
		t.Errorf("agent = %q", ev.Data["agentBic"])
	}
	if _, ok := ev.Data["reasonCode"]; ok {
		t.Error("verified report carries a reason code")
	}

	deliveries := env.notifier.all()
	if len(deliveries) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(deliveries))
	}
	d := deliveries[0]
	if d.UETR != proxyCorrelationID || d.URL != endpoint {
		t.Errorf("relay routing = %q %q", d.UETR, d.URL)
	}
	if d.MessageType != "acmt.024" {
		t.Errorf("relay message type = %q, want acmt.024", d.MessageType)
	}
	if d.TransactionStatus != iso20022.StatusAccepted {
		t.Errorf("relay status = %q, want %q", d.TransactionStatus, iso20022.StatusAccepted)
	}
	if !bytes.Equal(d.Payload, raw) {
		t.Error("relay payload is not the inbound report")
	}
	// No actor secret for proxy conversations; the dispatcher signs
	// with the gateway secret.
	if d.Secret != "" {
		t.Errorf("relay secret = %q, want empty", d.Secret)
	}
}

func TestSubmitProxyReportUnverifiedDefaultsReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	endpoint := "https://psp-kbank.example.com/nexus/proxy"

	if _, err := env.svc.SubmitProxyRequest(ctx, proxyRequest(proxyCorrelationID), endpoint); err != nil {
		t.Fatalf("SubmitProxyRequest: %v", err)
	}
	raw := proxyReportOpts{correlationID: proxyCorrelationID, verified: false}.render()
	if _, err := env.svc.SubmitProxyReport(ctx, raw); err != nil {
		t.Fatalf("SubmitProxyReport: %v", err)
	}

	events, err := env.store.EventsByCorrelationID(ctx, proxyCorrelationID)
	if err != nil {
		t.Fatalf("EventsByCorrelationID: %v", err)
	}
	ev := findEvent(t, events, storage.EventProxyResponseReceived)
	if ev.Data["verified"] != "false" {
		t.Errorf("verified = %q, want false", ev.Data["verified"])
	}
	if ev.Data["reasonCode"] != ReasonInvalidProxy {
		t.Errorf("reason = %q, want %q", ev.Data["reasonCode"], ReasonInvalidProxy)
	}

	deliveries := env.notifier.all()
	if len(deliveries) != 1 {
		t.Fatalf("got %d deliveries, want 1", len(deliveries))
	}
	if deliveries[0].TransactionStatus != iso20022.StatusRejected {
		t.Errorf("relay status = %q, want %q", deliveries[0].TransactionStatus, iso20022.StatusRejected)
	}
}

func TestSubmitProxyReportKeepsExplicitReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	raw := proxyReportOpts{correlationID: proxyCorrelationID, verified: false, reason: ReasonClosedAccount}.render()
	if _, err := env.svc.SubmitProxyReport(ctx, raw); err != nil {
		t.Fatalf("SubmitProxyReport: %v", err)
	}
	events, err := env.store.EventsByCorrelationID(ctx, proxyCorrelationID)
	if err != nil {
		t.Fatalf("EventsByCorrelationID: %v", err)
	}
	ev := findEvent(t, events, storage.EventProxyResponseReceived)
	if ev.Data["reasonCode"] != ReasonClosedAccount {
		t.Errorf("reason = %q, want %q", ev.Data["reasonCode"], ReasonClosedAccount)
	}
}

func TestSubmitProxyReportWithoutRequestDoesNotRelay(t *testing.T) {
	env := newTestEnv(t)

	raw := proxyReportOpts{correlationID: proxyCorrelationID, verified: true}.render()
	ack, err := env.svc.SubmitProxyReport(context.Background(), raw)
	if err != nil {
		t.Fatalf("SubmitProxyReport: %v", err)
	}
	if ack.Status != AckReceived {
		t.Errorf("ack status = %q, want %q", ack.Status, AckReceived)
	}
	if deliveries := env.notifier.all(); len(deliveries) != 0 {
		t.Fatalf("got %d deliveries without a stored request", len(deliveries))
	}
}
