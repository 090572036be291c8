package iso20022

import (
	"bytes"
	"encoding/xml"
	"time"

	"github.com/google/uuid"
)

// Final transaction statuses carried in pacs.002.
const (
	StatusAccepted = "ACCC"
	StatusRejected = "RJCT"
)

// StatusReportSpec carries everything needed to build an outbound
// pacs.002 for one original message.
type StatusReportSpec struct {
	OriginalMessageID string
	OriginalMsgDefID  string // message definition of the original, e.g. "pacs.008.001.13"
	OriginalUETR      string
	OriginalEndToEnd  string
	Status            string // ACCC or RJCT
	ReasonCode        string // set when Status is RJCT
	AdditionalInfo    string
	CreatedAt         time.Time // zero means now
}

type pacs002Out struct {
	XMLName xml.Name `xml:"Document"`
	XMLNS   string   `xml:"xmlns,attr"`
	Body    struct {
		GrpHdr struct {
			MsgID   string `xml:"MsgId"`
			CreDtTm string `xml:"CreDtTm"`
		} `xml:"GrpHdr"`
		OrgnlGrpInfAndSts struct {
			OrgnlMsgID   string `xml:"OrgnlMsgId"`
			OrgnlMsgNmID string `xml:"OrgnlMsgNmId"`
		} `xml:"OrgnlGrpInfAndSts"`
		TxInfAndSts struct {
			OrgnlEndToEndID string `xml:"OrgnlEndToEndId,omitempty"`
			OrgnlUETR       string `xml:"OrgnlUETR,omitempty"`
			TxSts           string `xml:"TxSts"`
			StsRsnInf       *struct {
				Rsn struct {
					Cd string `xml:"Cd"`
				} `xml:"Rsn"`
				AddtlInf string `xml:"AddtlInf,omitempty"`
			} `xml:"StsRsnInf,omitempty"`
		} `xml:"TxInfAndSts"`
	} `xml:"FIToFIPmtStsRpt"`
}

// BuildStatusReport serializes a pacs.002.001.15 document. The message
// ID is a fresh UUID so redeliveries of the same status stay
// distinguishable on the receiving side.
func BuildStatusReport(spec StatusReportSpec) []byte {
	created := spec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	var doc pacs002Out
	doc.XMLNS = MsgPacs002.Namespace()
	doc.Body.GrpHdr.MsgID = uuid.NewString()
	doc.Body.GrpHdr.CreDtTm = created.UTC().Format("2006-01-02T15:04:05.000Z")
	doc.Body.OrgnlGrpInfAndSts.OrgnlMsgID = spec.OriginalMessageID
	doc.Body.OrgnlGrpInfAndSts.OrgnlMsgNmID = spec.OriginalMsgDefID
	doc.Body.TxInfAndSts.OrgnlEndToEndID = spec.OriginalEndToEnd
	doc.Body.TxInfAndSts.OrgnlUETR = spec.OriginalUETR
	doc.Body.TxInfAndSts.TxSts = spec.Status

	if spec.ReasonCode != "" || spec.AdditionalInfo != "" {
		doc.Body.TxInfAndSts.StsRsnInf = &struct {
			Rsn struct {
				Cd string `xml:"Cd"`
			} `xml:"Rsn"`
			AddtlInf string `xml:"AddtlInf,omitempty"`
		}{}
		doc.Body.TxInfAndSts.StsRsnInf.Rsn.Cd = spec.ReasonCode
		doc.Body.TxInfAndSts.StsRsnInf.AddtlInf = spec.AdditionalInfo
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	// Encoding a fully in-memory struct cannot fail.
	_ = enc.Encode(doc)
	_ = enc.Flush()
	buf.WriteByte('\n')
	return buf.Bytes()
}
