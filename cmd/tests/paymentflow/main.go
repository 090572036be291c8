// Command paymentflow drives a full sandbox payment against a running
// gateway: request a quote, render a pacs.008 bound to it, submit the
// instruction, and report the resulting payment status. Pair it with
// callbackreceiver to watch the signed pacs.002 arrive.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

type quoteResponse struct {
	QuoteID             string    `json:"quoteId"`
	SourceCurrency      string    `json:"sourceCurrency"`
	DestinationCurrency string    `json:"destinationCurrency"`
	FinalRate           string    `json:"finalRate"`
	SourceInterbank     string    `json:"sourceInterbankAmount"`
	DestinationAmount   string    `json:"destinationInterbankAmount"`
	CreditorAmount      string    `json:"creditorAccountAmount"`
	ExpiresAt           time.Time `json:"expiresAt"`
}

type submissionAck struct {
	UETR             string `json:"uetr"`
	Status           string `json:"status"`
	CallbackEndpoint string `json:"callbackEndpoint"`
}

type statusView struct {
	UETR       string `json:"uetr"`
	Status     string `json:"status"`
	ReasonCode string `json:"reasonCode"`
}

func main() {
	var (
		serverURL   = flag.String("server", "http://localhost:8080", "gateway base URL")
		source      = flag.String("source", "SGD", "source currency")
		destination = flag.String("destination", "THB", "destination currency")
		amount      = flag.String("amount", "1000.00", "amount in the fixed currency")
		amountType  = flag.String("amount-type", "SOURCE_FIXED", "SOURCE_FIXED or DESTINATION_FIXED")
		debtorBIC   = flag.String("debtor-bic", "DBSSSGSGXXX", "instructing PSP BIC")
		creditorBIC = flag.String("creditor-bic", "KASITHBKXXX", "destination PSP BIC")
		callback    = flag.String("callback", "", "pacs.002 endpoint override (e.g. a local callbackreceiver)")
	)
	flag.Parse()

	baseURL := strings.TrimRight(*serverURL, "/")

	quote, err := createQuote(baseURL, *source, *destination, *amount, *amountType)
	if err != nil {
		log.Fatalf("create quote: %v", err)
	}
	log.Printf("quote %s: %s %s -> %s %s at %s (expires %s)",
		quote.QuoteID, quote.SourceInterbank, quote.SourceCurrency,
		quote.DestinationAmount, quote.DestinationCurrency, quote.FinalRate,
		quote.ExpiresAt.Format(time.RFC3339))

	uetr := uuid.NewString()
	doc := renderInstruction(uetr, quote, *debtorBIC, *creditorBIC)

	ack, err := submitInstruction(baseURL, doc, *callback)
	if err != nil {
		log.Fatalf("submit pacs.008: %v", err)
	}
	log.Printf("ack: uetr=%s status=%s callback=%s", ack.UETR, ack.Status, ack.CallbackEndpoint)

	status, err := fetchStatus(baseURL, ack.UETR)
	if err != nil {
		log.Fatalf("fetch status: %v", err)
	}
	if status.ReasonCode != "" {
		fmt.Printf("payment %s: %s (%s)\n", status.UETR, status.Status, status.ReasonCode)
	} else {
		fmt.Printf("payment %s: %s\n", status.UETR, status.Status)
	}
	fmt.Printf("audit trail: %s/v1/payments/%s/events\n", baseURL, ack.UETR)
}

func createQuote(baseURL, source, destination, amount, amountType string) (*quoteResponse, error) {
	reqBody, err := json.Marshal(map[string]string{
		"sourceCurrency":      source,
		"destinationCurrency": destination,
		"amount":              amount,
		"amountType":          amountType,
	})
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(baseURL+"/v1/quotes", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// renderInstruction binds the credit transfer to the quote's own
// figures so the gateway's rate check passes exactly.
func renderInstruction(uetr string, quote *quoteResponse, debtorBIC, creditorBIC string) string {
	now := time.Now().UTC()
	settleDate := now.AddDate(0, 0, 1).Format("2006-01-02")

	var b strings.Builder
	b.WriteString(`<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.008.001.13"><FIToFICstmrCdtTrf>`)
	b.WriteString(`<GrpHdr><MsgId>` + uuid.NewString() + `</MsgId><CreDtTm>` + now.Format(time.RFC3339) + `</CreDtTm><NbOfTxs>1</NbOfTxs></GrpHdr>`)
	b.WriteString(`<CdtTrfTxInf><PmtId><InstrId>` + quote.QuoteID + `</InstrId>`)
	b.WriteString(`<EndToEndId>PAYMENTFLOW-` + now.Format("20060102-150405") + `</EndToEndId><UETR>` + uetr + `</UETR></PmtId>`)
	b.WriteString(`<IntrBkSttlmAmt Ccy="` + quote.DestinationCurrency + `">` + quote.DestinationAmount + `</IntrBkSttlmAmt>`)
	b.WriteString(`<IntrBkSttlmDt>` + settleDate + `</IntrBkSttlmDt>`)
	b.WriteString(`<InstdAmt Ccy="` + quote.SourceCurrency + `">` + quote.SourceInterbank + `</InstdAmt>`)
	b.WriteString(`<XchgRate>` + quote.FinalRate + `</XchgRate>`)
	b.WriteString(`<ChrgBr>SHAR</ChrgBr>`)
	b.WriteString(`<Dbtr><Nm>Sandbox Debtor</Nm></Dbtr>`)
	b.WriteString(`<DbtrAcct><Id><Othr><Id>SG-0012-3344-55</Id></Othr></Id></DbtrAcct>`)
	b.WriteString(`<DbtrAgt><FinInstnId><BICFI>` + debtorBIC + `</BICFI></FinInstnId></DbtrAgt>`)
	b.WriteString(`<CdtrAgt><FinInstnId><BICFI>` + creditorBIC + `</BICFI></FinInstnId></CdtrAgt>`)
	b.WriteString(`<Cdtr><Nm>Sandbox Creditor</Nm></Cdtr>`)
	b.WriteString(`<CdtrAcct><Id><Othr><Id>TH-7788-9900-11</Id></Othr></Id></CdtrAcct>`)
	b.WriteString(`</CdtTrfTxInf></FIToFICstmrCdtTrf></Document>`)
	return b.String()
}

func submitInstruction(baseURL, doc, callback string) (*submissionAck, error) {
	target := baseURL + "/v1/iso20022/pacs008"
	if callback != "" {
		target += "?pacs002Endpoint=" + url.QueryEscape(callback)
	}

	resp, err := http.Post(target, "application/xml", strings.NewReader(doc))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var raw bytes.Buffer
		raw.ReadFrom(resp.Body)
		return nil, fmt.Errorf("unexpected status %s: %s", resp.Status, raw.String())
	}

	var ack submissionAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

func fetchStatus(baseURL, uetr string) (*statusView, error) {
	resp, err := http.Get(baseURL + "/v1/payments/" + uetr + "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var status statusView
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}
