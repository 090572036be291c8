package iso20022

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Semantic projections of the message families the gateway acts on.
// Parsing assumes the document already passed schema validation, so the
// projections stay forgiving: missing optional fields become zero
// values, never errors.

// CurrencyAmount is an ISO amount element with its Ccy attribute.
type CurrencyAmount struct {
	Currency string
	Value    decimal.Decimal
}

// Party identifies one leg's customer and account.
type Party struct {
	Name      string
	AccountID string
	AgentBIC  string
}

// PaymentInstruction is the projection of a pacs.008 credit transfer.
type PaymentInstruction struct {
	MessageID     string
	CreatedAt     time.Time
	UETR          string
	InstructionID string // carries the quote reference
	EndToEndID    string
	TransactionID string

	InstructedAmount CurrencyAmount // what the debtor instructed, source side
	SettlementAmount CurrencyAmount // interbank settlement, destination side
	ExchangeRate     decimal.Decimal
	ChargeBearer     string
	SettlementDate   string

	Debtor   Party
	Creditor Party

	RemittanceInfo string
}

// OriginalUETR returns the embedded return marker, if this instruction
// is a return of an earlier payment.
func (p *PaymentInstruction) OriginalUETR() string {
	return ExtractOriginalUETR(p.RemittanceInfo)
}

// IsReturn reports whether the remittance text names an original UETR.
func (p *PaymentInstruction) IsReturn() bool {
	return p.OriginalUETR() != ""
}

type pacs008Doc struct {
	XMLName xml.Name `xml:"Document"`
	Body    struct {
		GrpHdr struct {
			MsgID   string `xml:"MsgId"`
			CreDtTm string `xml:"CreDtTm"`
			NbOfTxs string `xml:"NbOfTxs"`
		} `xml:"GrpHdr"`
		TxInf []struct {
			PmtID struct {
				InstrID    string `xml:"InstrId"`
				EndToEndID string `xml:"EndToEndId"`
				TxID       string `xml:"TxId"`
				UETR       string `xml:"UETR"`
			} `xml:"PmtId"`
			IntrBkSttlmAmt xmlAmount `xml:"IntrBkSttlmAmt"`
			IntrBkSttlmDt  string    `xml:"IntrBkSttlmDt"`
			InstdAmt       xmlAmount `xml:"InstdAmt"`
			XchgRate       string    `xml:"XchgRate"`
			ChrgBr         string    `xml:"ChrgBr"`
			Dbtr           xmlParty  `xml:"Dbtr"`
			DbtrAcct       xmlAcct   `xml:"DbtrAcct"`
			DbtrAgt        xmlAgent  `xml:"DbtrAgt"`
			CdtrAgt        xmlAgent  `xml:"CdtrAgt"`
			Cdtr           xmlParty  `xml:"Cdtr"`
			CdtrAcct       xmlAcct   `xml:"CdtrAcct"`
			RmtInf         struct {
				Ustrd []string `xml:"Ustrd"`
			} `xml:"RmtInf"`
		} `xml:"CdtTrfTxInf"`
	} `xml:"FIToFICstmrCdtTrf"`
}

type xmlAmount struct {
	Ccy   string `xml:"Ccy,attr"`
	Value string `xml:",chardata"`
}

func (a xmlAmount) amount() CurrencyAmount {
	v, err := decimal.NewFromString(strings.TrimSpace(a.Value))
	if err != nil {
		return CurrencyAmount{Currency: a.Ccy}
	}
	return CurrencyAmount{Currency: a.Ccy, Value: v}
}

type xmlParty struct {
	Nm string `xml:"Nm"`
}

type xmlAcct struct {
	ID struct {
		IBAN string `xml:"IBAN"`
		Othr struct {
			ID string `xml:"Id"`
		} `xml:"Othr"`
	} `xml:"Id"`
}

func (a xmlAcct) id() string {
	if a.ID.IBAN != "" {
		return a.ID.IBAN
	}
	return a.ID.Othr.ID
}

type xmlAgent struct {
	FinInstnID struct {
		BICFI string `xml:"BICFI"`
	} `xml:"FinInstnId"`
}

// ParsePaymentInstruction projects a pacs.008 document.
func ParsePaymentInstruction(data []byte) (*PaymentInstruction, error) {
	var doc pacs008Doc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pacs.008: %w", err)
	}
	if len(doc.Body.TxInf) == 0 {
		return nil, fmt.Errorf("parse pacs.008: no CdtTrfTxInf")
	}
	tx := doc.Body.TxInf[0]

	p := &PaymentInstruction{
		MessageID:        doc.Body.GrpHdr.MsgID,
		CreatedAt:        parseISOTime(doc.Body.GrpHdr.CreDtTm),
		UETR:             strings.ToLower(strings.TrimSpace(tx.PmtID.UETR)),
		InstructionID:    tx.PmtID.InstrID,
		EndToEndID:       tx.PmtID.EndToEndID,
		TransactionID:    tx.PmtID.TxID,
		InstructedAmount: tx.InstdAmt.amount(),
		SettlementAmount: tx.IntrBkSttlmAmt.amount(),
		ChargeBearer:     tx.ChrgBr,
		SettlementDate:   tx.IntrBkSttlmDt,
		Debtor: Party{
			Name:      tx.Dbtr.Nm,
			AccountID: tx.DbtrAcct.id(),
			AgentBIC:  tx.DbtrAgt.FinInstnID.BICFI,
		},
		Creditor: Party{
			Name:      tx.Cdtr.Nm,
			AccountID: tx.CdtrAcct.id(),
			AgentBIC:  tx.CdtrAgt.FinInstnID.BICFI,
		},
		RemittanceInfo: strings.Join(tx.RmtInf.Ustrd, "\n"),
	}
	if tx.XchgRate != "" {
		if r, err := decimal.NewFromString(strings.TrimSpace(tx.XchgRate)); err == nil {
			p.ExchangeRate = r
		}
	}
	return p, nil
}

// StatusReport is the projection of a pacs.002 payment status report.
type StatusReport struct {
	MessageID          string
	CreatedAt          time.Time
	OriginalMessageID  string
	OriginalUETR       string
	OriginalEndToEndID string
	Status             string
	ReasonCode         string
	AdditionalInfo     string
}

type pacs002Doc struct {
	XMLName xml.Name `xml:"Document"`
	Body    struct {
		GrpHdr struct {
			MsgID   string `xml:"MsgId"`
			CreDtTm string `xml:"CreDtTm"`
		} `xml:"GrpHdr"`
		OrgnlGrpInfAndSts struct {
			OrgnlMsgID string `xml:"OrgnlMsgId"`
		} `xml:"OrgnlGrpInfAndSts"`
		TxInfAndSts []struct {
			OrgnlEndToEndID string `xml:"OrgnlEndToEndId"`
			OrgnlUETR       string `xml:"OrgnlUETR"`
			TxSts           string `xml:"TxSts"`
			StsRsnInf       struct {
				Rsn struct {
					Cd string `xml:"Cd"`
				} `xml:"Rsn"`
				AddtlInf []string `xml:"AddtlInf"`
			} `xml:"StsRsnInf"`
		} `xml:"TxInfAndSts"`
	} `xml:"FIToFIPmtStsRpt"`
}

// ParseStatusReport projects a pacs.002 document.
func ParseStatusReport(data []byte) (*StatusReport, error) {
	var doc pacs002Doc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pacs.002: %w", err)
	}
	r := &StatusReport{
		MessageID:         doc.Body.GrpHdr.MsgID,
		CreatedAt:         parseISOTime(doc.Body.GrpHdr.CreDtTm),
		OriginalMessageID: doc.Body.OrgnlGrpInfAndSts.OrgnlMsgID,
	}
	if len(doc.Body.TxInfAndSts) > 0 {
		tx := doc.Body.TxInfAndSts[0]
		r.OriginalUETR = strings.ToLower(strings.TrimSpace(tx.OrgnlUETR))
		r.OriginalEndToEndID = tx.OrgnlEndToEndID
		r.Status = tx.TxSts
		r.ReasonCode = tx.StsRsnInf.Rsn.Cd
		r.AdditionalInfo = strings.Join(tx.StsRsnInf.AddtlInf, "\n")
	}
	return r, nil
}

// ProxyResolutionRequest is the projection of an acmt.023 identification
// verification request. CorrelationID pairs it with the later report.
type ProxyResolutionRequest struct {
	MessageID     string
	CreatedAt     time.Time
	CorrelationID string
	ProxyType     string
	ProxyValue    string
}

type acmt023Doc struct {
	XMLName xml.Name `xml:"Document"`
	Body    struct {
		Assgnmt struct {
			MsgID   string `xml:"MsgId"`
			CreDtTm string `xml:"CreDtTm"`
		} `xml:"Assgnmt"`
		Vrfctn []struct {
			ID           string `xml:"Id"`
			PtyAndAcctID struct {
				Acct struct {
					Prxy struct {
						Tp struct {
							Cd string `xml:"Cd"`
						} `xml:"Tp"`
						ID string `xml:"Id"`
					} `xml:"Prxy"`
				} `xml:"Acct"`
			} `xml:"PtyAndAcctId"`
		} `xml:"Vrfctn"`
	} `xml:"IdVrfctnReq"`
}

// ParseProxyResolutionRequest projects an acmt.023 document.
func ParseProxyResolutionRequest(data []byte) (*ProxyResolutionRequest, error) {
	var doc acmt023Doc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse acmt.023: %w", err)
	}
	r := &ProxyResolutionRequest{
		MessageID: doc.Body.Assgnmt.MsgID,
		CreatedAt: parseISOTime(doc.Body.Assgnmt.CreDtTm),
	}
	if len(doc.Body.Vrfctn) > 0 {
		v := doc.Body.Vrfctn[0]
		r.CorrelationID = v.ID
		r.ProxyType = v.PtyAndAcctID.Acct.Prxy.Tp.Cd
		r.ProxyValue = v.PtyAndAcctID.Acct.Prxy.ID
	}
	return r, nil
}

// ProxyResolutionReport is the projection of an acmt.024 identification
// verification report.
type ProxyResolutionReport struct {
	MessageID     string
	CreatedAt     time.Time
	CorrelationID string
	Verified      bool
	ReasonCode    string
	AccountID     string
	AccountName   string
	AgentBIC      string
}

type acmt024Doc struct {
	XMLName xml.Name `xml:"Document"`
	Body    struct {
		Assgnmt struct {
			MsgID   string `xml:"MsgId"`
			CreDtTm string `xml:"CreDtTm"`
		} `xml:"Assgnmt"`
		Rpt []struct {
			OrgnlID string `xml:"OrgnlId"`
			Vrfctn  string `xml:"Vrfctn"`
			Rsn     struct {
				Cd string `xml:"Cd"`
			} `xml:"Rsn"`
			UpdtdPtyAndAcctID struct {
				Pty struct {
					Nm string `xml:"Nm"`
				} `xml:"Pty"`
				Acct struct {
					ID struct {
						IBAN string `xml:"IBAN"`
						Othr struct {
							ID string `xml:"Id"`
						} `xml:"Othr"`
					} `xml:"Id"`
				} `xml:"Acct"`
				Agt struct {
					FinInstnID struct {
						BICFI string `xml:"BICFI"`
					} `xml:"FinInstnId"`
				} `xml:"Agt"`
			} `xml:"UpdtdPtyAndAcctId"`
		} `xml:"Rpt"`
	} `xml:"IdVrfctnRpt"`
}

// ParseProxyResolutionReport projects an acmt.024 document.
func ParseProxyResolutionReport(data []byte) (*ProxyResolutionReport, error) {
	var doc acmt024Doc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse acmt.024: %w", err)
	}
	r := &ProxyResolutionReport{
		MessageID: doc.Body.Assgnmt.MsgID,
		CreatedAt: parseISOTime(doc.Body.Assgnmt.CreDtTm),
	}
	if len(doc.Body.Rpt) > 0 {
		rp := doc.Body.Rpt[0]
		r.CorrelationID = rp.OrgnlID
		r.Verified = rp.Vrfctn == "true" || rp.Vrfctn == "1"
		r.ReasonCode = rp.Rsn.Cd
		r.AccountName = rp.UpdtdPtyAndAcctID.Pty.Nm
		r.AgentBIC = rp.UpdtdPtyAndAcctID.Agt.FinInstnID.BICFI
		if iban := rp.UpdtdPtyAndAcctID.Acct.ID.IBAN; iban != "" {
			r.AccountID = iban
		} else {
			r.AccountID = rp.UpdtdPtyAndAcctID.Acct.ID.Othr.ID
		}
	}
	return r, nil
}

// CancellationRequest is the projection of a camt.056 FI-to-FI payment
// cancellation request.
type CancellationRequest struct {
	MessageID    string
	CreatedAt    time.Time
	OriginalUETR string
	CaseID       string
	ReasonCode   string
}

type camt056Doc struct {
	XMLName xml.Name `xml:"Document"`
	Body    struct {
		Assgnmt struct {
			ID      string `xml:"Id"`
			CreDtTm string `xml:"CreDtTm"`
		} `xml:"Assgnmt"`
		Case struct {
			ID string `xml:"Id"`
		} `xml:"Case"`
		Undrlyg []struct {
			TxInf []struct {
				OrgnlUETR  string `xml:"OrgnlUETR"`
				CxlRsnInf  struct {
					Rsn struct {
						Cd string `xml:"Cd"`
					} `xml:"Rsn"`
				} `xml:"CxlRsnInf"`
			} `xml:"TxInf"`
		} `xml:"Undrlyg"`
	} `xml:"FIToFIPmtCxlReq"`
}

// ParseCancellationRequest projects a camt.056 document.
func ParseCancellationRequest(data []byte) (*CancellationRequest, error) {
	var doc camt056Doc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse camt.056: %w", err)
	}
	r := &CancellationRequest{
		MessageID: doc.Body.Assgnmt.ID,
		CreatedAt: parseISOTime(doc.Body.Assgnmt.CreDtTm),
		CaseID:    doc.Body.Case.ID,
	}
	if len(doc.Body.Undrlyg) > 0 && len(doc.Body.Undrlyg[0].TxInf) > 0 {
		tx := doc.Body.Undrlyg[0].TxInf[0]
		r.OriginalUETR = strings.ToLower(strings.TrimSpace(tx.OrgnlUETR))
		r.ReasonCode = tx.CxlRsnInf.Rsn.Cd
	}
	return r, nil
}

// InvestigationResolution is the projection of a camt.029 resolution of
// investigation.
type InvestigationResolution struct {
	MessageID          string
	CreatedAt          time.Time
	CaseID             string
	OriginalUETR       string
	CancellationStatus string // e.g. CNCL, RJCR
}

type camt029Doc struct {
	XMLName xml.Name `xml:"Document"`
	Body    struct {
		Assgnmt struct {
			ID      string `xml:"Id"`
			CreDtTm string `xml:"CreDtTm"`
		} `xml:"Assgnmt"`
		RslvdCase struct {
			ID string `xml:"Id"`
		} `xml:"RslvdCase"`
		CxlDtls []struct {
			TxInfAndSts []struct {
				OrgnlUETR string `xml:"OrgnlUETR"`
				TxCxlSts  string `xml:"TxCxlSts"`
			} `xml:"TxInfAndSts"`
		} `xml:"CxlDtls"`
	} `xml:"RsltnOfInvstgtn"`
}

// ParseInvestigationResolution projects a camt.029 document.
func ParseInvestigationResolution(data []byte) (*InvestigationResolution, error) {
	var doc camt029Doc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse camt.029: %w", err)
	}
	r := &InvestigationResolution{
		MessageID: doc.Body.Assgnmt.ID,
		CreatedAt: parseISOTime(doc.Body.Assgnmt.CreDtTm),
		CaseID:    doc.Body.RslvdCase.ID,
	}
	if len(doc.Body.CxlDtls) > 0 && len(doc.Body.CxlDtls[0].TxInfAndSts) > 0 {
		tx := doc.Body.CxlDtls[0].TxInfAndSts[0]
		r.OriginalUETR = strings.ToLower(strings.TrimSpace(tx.OrgnlUETR))
		r.CancellationStatus = tx.TxCxlSts
	}
	return r, nil
}

// PaymentReturn is the projection of a pacs.004 payment return.
type PaymentReturn struct {
	MessageID      string
	CreatedAt      time.Time
	OriginalUETR   string
	ReturnedAmount CurrencyAmount
	ReasonCode     string
}

type pacs004Doc struct {
	XMLName xml.Name `xml:"Document"`
	Body    struct {
		GrpHdr struct {
			MsgID   string `xml:"MsgId"`
			CreDtTm string `xml:"CreDtTm"`
		} `xml:"GrpHdr"`
		TxInf []struct {
			OrgnlUETR         string    `xml:"OrgnlUETR"`
			RtrdIntrBkSttlmAmt xmlAmount `xml:"RtrdIntrBkSttlmAmt"`
			RtrRsnInf         struct {
				Rsn struct {
					Cd string `xml:"Cd"`
				} `xml:"Rsn"`
			} `xml:"RtrRsnInf"`
		} `xml:"TxInf"`
	} `xml:"PmtRtr"`
}

// ParsePaymentReturn projects a pacs.004 document.
func ParsePaymentReturn(data []byte) (*PaymentReturn, error) {
	var doc pacs004Doc
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse pacs.004: %w", err)
	}
	r := &PaymentReturn{
		MessageID: doc.Body.GrpHdr.MsgID,
		CreatedAt: parseISOTime(doc.Body.GrpHdr.CreDtTm),
	}
	if len(doc.Body.TxInf) > 0 {
		tx := doc.Body.TxInf[0]
		r.OriginalUETR = strings.ToLower(strings.TrimSpace(tx.OrgnlUETR))
		r.ReturnedAmount = tx.RtrdIntrBkSttlmAmt.amount()
		r.ReasonCode = tx.RtrRsnInf.Rsn.Cd
	}
	return r, nil
}

// parseISOTime reads an ISO date-time with or without a zone designator.
// The zero time stands in for absent or malformed values.
func parseISOTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
