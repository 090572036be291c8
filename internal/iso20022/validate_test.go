package iso20022

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

var (
	schemaOnce sync.Once
	schemaSet  *SchemaSet
	schemaErr  error
)

// loadSchemas compiles the shipped profile set once per test binary.
func loadSchemas(t *testing.T) *SchemaSet {
	t.Helper()
	schemaOnce.Do(func() {
		schemaSet, schemaErr = LoadDir("../../schemas")
	})
	if schemaErr != nil {
		t.Fatalf("LoadDir: %v", schemaErr)
	}
	return schemaSet
}

const (
	fixtureMsgID = "9f1c7256-3a10-4c7a-9b43-7c0e5a1d9f02"
	fixtureUETR  = "6dc82b9b-7a3c-4a5e-8f21-0b9c4d1e7a55"
)

func validPacs008() string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.008.001.13">
  <FIToFICstmrCdtTrf>
    <GrpHdr>
      <MsgId>` + fixtureMsgID + `</MsgId>
      <CreDtTm>2026-03-01T08:30:00Z</CreDtTm>
      <NbOfTxs>1</NbOfTxs>
    </GrpHdr>
    <CdtTrfTxInf>
      <PmtId>
        <EndToEndId>E2E-20260301-0001</EndToEndId>
        <UETR>` + fixtureUETR + `</UETR>
      </PmtId>
      <IntrBkSttlmAmt Ccy="THB">25720.70</IntrBkSttlmAmt>
      <IntrBkSttlmDt>2026-03-02</IntrBkSttlmDt>
      <InstdAmt Ccy="SGD">1000.00</InstdAmt>
      <XchgRate>25.7207</XchgRate>
      <ChrgBr>SHAR</ChrgBr>
      <Dbtr><Nm>Somchai Tan</Nm></Dbtr>
      <DbtrAcct><Id><Othr><Id>SG-0012-3344-55</Id></Othr></Id></DbtrAcct>
      <DbtrAgt><FinInstnId><BICFI>DBSSSGSGXXX</BICFI></FinInstnId></DbtrAgt>
      <CdtrAgt><FinInstnId><BICFI>KASITHBKXXX</BICFI></FinInstnId></CdtrAgt>
      <Cdtr><Nm>Niran Chaiyaporn</Nm></Cdtr>
      <CdtrAcct><Id><Othr><Id>TH-7788-9900-11</Id></Othr></Id></CdtrAcct>
      <RmtInf><Ustrd>Invoice 4471</Ustrd></RmtInf>
    </CdtTrfTxInf>
  </FIToFICstmrCdtTrf>
</Document>`
}

func TestValidatePacs008Valid(t *testing.T) {
	set := loadSchemas(t)

	res := set.Validate([]byte(validPacs008()), MsgPacs008)
	if !res.Valid {
		t.Fatalf("expected valid document, got %s: %v", res.ErrorKind, res.Errors)
	}
	if res.MessageType != MsgPacs008 {
		t.Errorf("message type = %s, want %s", res.MessageType, MsgPacs008)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}
}

func TestValidateDetectsTypeFromNamespace(t *testing.T) {
	set := loadSchemas(t)

	res := set.Validate([]byte(validPacs008()), "")
	if !res.Valid {
		t.Fatalf("expected valid document, got %s: %v", res.ErrorKind, res.Errors)
	}
	if res.MessageType != MsgPacs008 {
		t.Errorf("detected type = %s, want %s", res.MessageType, MsgPacs008)
	}
}

func TestValidateHintMismatchWarns(t *testing.T) {
	set := loadSchemas(t)

	res := set.Validate([]byte(validPacs008()), MsgCamt054)
	if res.Valid {
		t.Fatal("pacs.008 document must not validate against the camt.054 profile")
	}
	if res.ErrorKind != ErrKindXSDValidation {
		t.Errorf("error kind = %s, want %s", res.ErrorKind, ErrKindXSDValidation)
	}
	if len(res.Warnings) == 0 || !strings.Contains(res.Warnings[0], "document namespace suggests pacs.008.001.13") {
		t.Errorf("expected namespace mismatch warning, got %v", res.Warnings)
	}
}

func TestValidateParseFailures(t *testing.T) {
	set := loadSchemas(t)

	tests := []struct {
		name string
		data string
		want string
	}{
		{"empty", "", "empty document"},
		{"whitespace only", "   \n\t  ", "empty document"},
		{"no root element", "<?xml version=\"1.0\"?>", "no root element"},
		{"unclosed element", validPacs008()[:200], "xml syntax"},
		{"mismatched tags", "<Document xmlns=\"urn:iso:std:iso:20022:tech:xsd:pacs.008.001.13\"><GrpHdr></Document>", "xml syntax"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := set.Validate([]byte(tt.data), MsgPacs008)
			if res.Valid {
				t.Fatal("expected invalid result")
			}
			if res.ErrorKind != ErrKindXMLParse {
				t.Fatalf("error kind = %s, want %s", res.ErrorKind, ErrKindXMLParse)
			}
			if len(res.Errors) == 0 || !strings.Contains(res.Errors[0].Message, tt.want) {
				t.Errorf("errors = %v, want message containing %q", res.Errors, tt.want)
			}
		})
	}
}

func TestValidateUnknownNamespaceWithoutHint(t *testing.T) {
	set := loadSchemas(t)

	doc := `<Document xmlns="urn:example:unknown"><Body/></Document>`
	res := set.Validate([]byte(doc), "")
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if res.ErrorKind != ErrKindSchemaNotLoaded {
		t.Errorf("error kind = %s, want %s", res.ErrorKind, ErrKindSchemaNotLoaded)
	}
}

func TestValidateSchemaNotLoaded(t *testing.T) {
	empty := &SchemaSet{schemas: map[MessageType]*Schema{}}

	res := empty.Validate([]byte(validPacs008()), MsgPacs008)
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if res.ErrorKind != ErrKindSchemaNotLoaded {
		t.Errorf("error kind = %s, want %s", res.ErrorKind, ErrKindSchemaNotLoaded)
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[0].Message, "no schema loaded for pacs.008.001.13") {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestValidatePacs008Violations(t *testing.T) {
	set := loadSchemas(t)

	tests := []struct {
		name   string
		mutate func(string) string
		want   string
	}{
		{
			"wrong root element",
			func(s string) string { return strings.ReplaceAll(s, "Document", "Doc") },
			"root element must be <Document>",
		},
		{
			"missing required element mid-sequence",
			func(s string) string { return strings.Replace(s, "<ChrgBr>SHAR</ChrgBr>", "", 1) },
			"unexpected element <Dbtr> in <CdtTrfTxInf>, expected <ChrgBr>",
		},
		{
			"missing trailing required element",
			func(s string) string {
				s = strings.Replace(s, "<CdtrAcct><Id><Othr><Id>TH-7788-9900-11</Id></Othr></Id></CdtrAcct>", "", 1)
				return strings.Replace(s, "<RmtInf><Ustrd>Invoice 4471</Ustrd></RmtInf>", "", 1)
			},
			"missing required element <CdtrAcct>",
		},
		{
			"elements out of order",
			func(s string) string {
				return strings.Replace(s,
					"<EndToEndId>E2E-20260301-0001</EndToEndId>\n        <UETR>"+fixtureUETR+"</UETR>",
					"<UETR>"+fixtureUETR+"</UETR>\n        <EndToEndId>E2E-20260301-0001</EndToEndId>", 1)
			},
			"unexpected element <UETR> in <PmtId>, expected <EndToEndId>",
		},
		{
			"uetr not lowercase uuid",
			func(s string) string { return strings.Replace(s, fixtureUETR, strings.ToUpper(fixtureUETR), 1) },
			"does not match the required pattern",
		},
		{
			"amount exceeds fraction digits",
			func(s string) string { return strings.Replace(s, "25720.70", "25720.123456", 1) },
			"exceeds 5 fraction digits",
		},
		{
			"amount exceeds total digits",
			func(s string) string { return strings.Replace(s, "25720.70", "12345678901234.56789", 1) },
			"exceeds 18 total digits",
		},
		{
			"negative amount",
			func(s string) string { return strings.Replace(s, "1000.00", "-1000.00", 1) },
			"below the minimum 0",
		},
		{
			"amount not a decimal",
			func(s string) string { return strings.Replace(s, "25720.70", "25,720.70", 1) },
			"not a valid decimal",
		},
		{
			"charge bearer outside enumeration",
			func(s string) string { return strings.Replace(s, "SHAR", "FREE", 1) },
			"not one of the allowed values",
		},
		{
			"settlement date malformed",
			func(s string) string { return strings.Replace(s, "2026-03-02", "02-03-2026", 1) },
			"not a valid date",
		},
		{
			"creation timestamp malformed",
			func(s string) string { return strings.Replace(s, "2026-03-01T08:30:00Z", "yesterday", 1) },
			"not a valid dateTime",
		},
		{
			"missing currency attribute",
			func(s string) string { return strings.Replace(s, `<IntrBkSttlmAmt Ccy="THB">`, "<IntrBkSttlmAmt>", 1) },
			`missing required attribute "Ccy"`,
		},
		{
			"undeclared attribute",
			func(s string) string {
				return strings.Replace(s, `<IntrBkSttlmAmt Ccy="THB">`, `<IntrBkSttlmAmt Ccy="THB" Unit="cents">`, 1)
			},
			`unexpected attribute "Unit"`,
		},
		{
			"both account choice alternatives",
			func(s string) string {
				return strings.Replace(s, "<Othr><Id>TH-7788-9900-11</Id></Othr>",
					"<IBAN>TH8912345678901234</IBAN><Othr><Id>TH-7788-9900-11</Id></Othr>", 1)
			},
			"allows only one alternative",
		},
		{
			"empty account choice",
			func(s string) string {
				return strings.Replace(s, "<Othr><Id>TH-7788-9900-11</Id></Othr>", "", 1)
			},
			"requires one of <IBAN>, <Othr>",
		},
		{
			"invalid choice alternative",
			func(s string) string {
				return strings.Replace(s, "<Othr><Id>TH-7788-9900-11</Id></Othr>", "<Prxy>x</Prxy>", 1)
			},
			"not a valid alternative",
		},
		{
			"text inside structured element",
			func(s string) string { return strings.Replace(s, "<PmtId>", "<PmtId>stray text", 1) },
			"must not contain text content",
		},
		{
			"child inside simple content",
			func(s string) string {
				return strings.Replace(s, "<NbOfTxs>1</NbOfTxs>", "<NbOfTxs><N>1</N></NbOfTxs>", 1)
			},
			"must not contain child element",
		},
		{
			"element repeated past maxOccurs",
			func(s string) string {
				return strings.Replace(s, "<NbOfTxs>1</NbOfTxs>", "<NbOfTxs>1</NbOfTxs><NbOfTxs>1</NbOfTxs>", 1)
			},
			"occurs more than 1 times",
		},
		{
			"child in foreign namespace",
			func(s string) string {
				return strings.Replace(s, "<Dbtr>", `<Dbtr xmlns="urn:example:other">`, 1)
			},
			"not in the document namespace",
		},
		{
			"bic fails pattern",
			func(s string) string { return strings.Replace(s, "DBSSSGSGXXX", "dbsssgsgxxx", 1) },
			"does not match the required pattern",
		},
		{
			"empty creditor name",
			func(s string) string { return strings.Replace(s, "Niran Chaiyaporn", "", 1) },
			"shorter than 1 characters",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := set.Validate([]byte(tt.mutate(validPacs008())), MsgPacs008)
			if res.Valid {
				t.Fatal("expected invalid result")
			}
			if res.ErrorKind != ErrKindXSDValidation {
				t.Fatalf("error kind = %s, want %s (errors: %v)", res.ErrorKind, ErrKindXSDValidation, res.Errors)
			}
			for _, iss := range res.Errors {
				if strings.Contains(iss.Message, tt.want) {
					if iss.Line <= 0 {
						t.Errorf("issue has no line number: %+v", iss)
					}
					return
				}
			}
			t.Errorf("no issue contains %q, got %v", tt.want, res.Errors)
		})
	}
}

func TestValidateTruncatesLongErrorLists(t *testing.T) {
	set := loadSchemas(t)

	// Thirty transactions, each with one enumeration violation.
	tx := strings.Replace(txBlock(), "SHAR", "FREE", 1)
	doc := `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.008.001.13"><FIToFICstmrCdtTrf><GrpHdr><MsgId>` +
		fixtureMsgID + `</MsgId><CreDtTm>2026-03-01T08:30:00Z</CreDtTm><NbOfTxs>30</NbOfTxs></GrpHdr>` +
		strings.Repeat(tx, 30) + `</FIToFICstmrCdtTrf></Document>`

	res := set.Validate([]byte(doc), MsgPacs008)
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if len(res.Errors) != maxIssues {
		t.Errorf("errors = %d, want %d", len(res.Errors), maxIssues)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "truncated") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected truncation warning, got %v", res.Warnings)
	}
}

// txBlock is one complete CdtTrfTxInf element on a single line, for
// fixtures that need many transactions.
func txBlock() string {
	return fmt.Sprintf(`<CdtTrfTxInf><PmtId><EndToEndId>E2E-1</EndToEndId><UETR>%s</UETR></PmtId>`+
		`<IntrBkSttlmAmt Ccy="THB">100.00</IntrBkSttlmAmt><IntrBkSttlmDt>2026-03-02</IntrBkSttlmDt>`+
		`<InstdAmt Ccy="SGD">10.00</InstdAmt><ChrgBr>SHAR</ChrgBr>`+
		`<Dbtr><Nm>A</Nm></Dbtr><DbtrAcct><Id><Othr><Id>SG-1</Id></Othr></Id></DbtrAcct>`+
		`<DbtrAgt><FinInstnId><BICFI>DBSSSGSGXXX</BICFI></FinInstnId></DbtrAgt>`+
		`<CdtrAgt><FinInstnId><BICFI>KASITHBKXXX</BICFI></FinInstnId></CdtrAgt>`+
		`<Cdtr><Nm>B</Nm></Cdtr><CdtrAcct><Id><Othr><Id>TH-1</Id></Othr></Id></CdtrAcct></CdtTrfTxInf>`,
		fixtureUETR)
}

func TestValidateEveryProfileAcceptsItsDocument(t *testing.T) {
	set := loadSchemas(t)

	docs := map[MessageType]string{
		MsgPacs002: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.002.001.15"><FIToFIPmtStsRpt>` +
			`<GrpHdr><MsgId>` + fixtureMsgID + `</MsgId><CreDtTm>2026-03-01T08:31:00Z</CreDtTm></GrpHdr>` +
			`<OrgnlGrpInfAndSts><OrgnlMsgId>` + fixtureMsgID + `</OrgnlMsgId><OrgnlMsgNmId>pacs.008.001.13</OrgnlMsgNmId></OrgnlGrpInfAndSts>` +
			`<TxInfAndSts><OrgnlUETR>` + fixtureUETR + `</OrgnlUETR><TxSts>ACCC</TxSts></TxInfAndSts>` +
			`</FIToFIPmtStsRpt></Document>`,
		MsgAcmt023: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:acmt.023.001.04"><IdVrfctnReq>` +
			`<Assgnmt><MsgId>PRX-REQ-001</MsgId><CreDtTm>2026-03-01T08:00:00Z</CreDtTm></Assgnmt>` +
			`<Vrfctn><Id>PRXY-CORR-0001</Id><PtyAndAcctId><Acct><Prxy><Tp><Cd>MBNO</Cd></Tp><Id>+66812345678</Id></Prxy></Acct></PtyAndAcctId></Vrfctn>` +
			`</IdVrfctnReq></Document>`,
		MsgAcmt024: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:acmt.024.001.04"><IdVrfctnRpt>` +
			`<Assgnmt><MsgId>PRX-RSP-001</MsgId><CreDtTm>2026-03-01T08:00:05Z</CreDtTm></Assgnmt>` +
			`<Rpt><OrgnlId>PRXY-CORR-0001</OrgnlId><Vrfctn>true</Vrfctn>` +
			`<UpdtdPtyAndAcctId><Pty><Nm>Niran Chaiyaporn</Nm></Pty><Acct><Id><Othr><Id>TH-7788-9900-11</Id></Othr></Id></Acct>` +
			`<Agt><FinInstnId><BICFI>KASITHBKXXX</BICFI></FinInstnId></Agt></UpdtdPtyAndAcctId></Rpt>` +
			`</IdVrfctnRpt></Document>`,
		MsgCamt054: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.054.001.13"><BkToCstmrDbtCdtNtfctn>` +
			`<GrpHdr><MsgId>NTFCTN-001</MsgId><CreDtTm>2026-03-01T09:00:00Z</CreDtTm></GrpHdr>` +
			`<Ntfctn><Id>NTF-1</Id><Ntry><Amt Ccy="THB">25720.70</Amt><CdtDbtInd>CRDT</CdtDbtInd>` +
			`<NtryDtls><TxDtls><Refs><UETR>` + fixtureUETR + `</UETR></Refs></TxDtls></NtryDtls></Ntry></Ntfctn>` +
			`</BkToCstmrDbtCdtNtfctn></Document>`,
		MsgCamt103: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.103.001.03"><CretRsvatn>` +
			`<MsgHdr><MsgId>RSV-001</MsgId><CreDtTm>2026-03-01T07:00:00Z</CreDtTm></MsgHdr>` +
			`<NewRsvatnValSet><Amt Ccy="SGD">50000.00</Amt></NewRsvatnValSet>` +
			`</CretRsvatn></Document>`,
		MsgPain001: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pain.001.001.12"><CstmrCdtTrfInitn>` +
			`<GrpHdr><MsgId>INIT-001</MsgId><CreDtTm>2026-03-01T07:55:00Z</CreDtTm><NbOfTxs>1</NbOfTxs><InitgPty><Nm>Somchai Tan</Nm></InitgPty></GrpHdr>` +
			`<PmtInf><PmtInfId>PMT-1</PmtInfId><PmtMtd>TRF</PmtMtd><ReqdExctnDt><Dt>2026-03-02</Dt></ReqdExctnDt>` +
			`<Dbtr><Nm>Somchai Tan</Nm></Dbtr><DbtrAcct><Id><Othr><Id>SG-0012-3344-55</Id></Othr></Id></DbtrAcct>` +
			`<DbtrAgt><FinInstnId><BICFI>DBSSSGSGXXX</BICFI></FinInstnId></DbtrAgt>` +
			`<CdtTrfTxInf><PmtId><EndToEndId>E2E-20260301-0001</EndToEndId><UETR>` + fixtureUETR + `</UETR></PmtId>` +
			`<Amt><InstdAmt Ccy="SGD">1000.00</InstdAmt></Amt></CdtTrfTxInf></PmtInf>` +
			`</CstmrCdtTrfInitn></Document>`,
		MsgPacs004: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.004.001.14"><PmtRtr>` +
			`<GrpHdr><MsgId>` + fixtureMsgID + `</MsgId><CreDtTm>2026-03-03T10:00:00Z</CreDtTm></GrpHdr>` +
			`<TxInf><OrgnlUETR>` + fixtureUETR + `</OrgnlUETR><RtrdIntrBkSttlmAmt Ccy="THB">25720.70</RtrdIntrBkSttlmAmt>` +
			`<RtrRsnInf><Rsn><Cd>AC04</Cd></Rsn></RtrRsnInf></TxInf>` +
			`</PmtRtr></Document>`,
		MsgPacs028: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.028.001.06"><FIToFIPmtStsReq>` +
			`<GrpHdr><MsgId>` + fixtureMsgID + `</MsgId><CreDtTm>2026-03-01T09:30:00Z</CreDtTm></GrpHdr>` +
			`<TxInf><OrgnlUETR>` + fixtureUETR + `</OrgnlUETR></TxInf>` +
			`</FIToFIPmtStsReq></Document>`,
		MsgCamt056: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.056.001.11"><FIToFIPmtCxlReq>` +
			`<Assgnmt><Id>CXL-ASGN-001</Id><CreDtTm>2026-03-01T09:45:00Z</CreDtTm></Assgnmt>` +
			`<Case><Id>CASE-001</Id></Case>` +
			`<Undrlyg><TxInf><OrgnlUETR>` + fixtureUETR + `</OrgnlUETR><CxlRsnInf><Rsn><Cd>DUPL</Cd></Rsn></CxlRsnInf></TxInf></Undrlyg>` +
			`</FIToFIPmtCxlReq></Document>`,
		MsgCamt029: `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:camt.029.001.13"><RsltnOfInvstgtn>` +
			`<Assgnmt><Id>RSL-ASGN-001</Id><CreDtTm>2026-03-01T10:15:00Z</CreDtTm></Assgnmt>` +
			`<RslvdCase><Id>CASE-001</Id></RslvdCase>` +
			`<Sts><Conf>CNCL</Conf></Sts>` +
			`<CxlDtls><TxInfAndSts><OrgnlUETR>` + fixtureUETR + `</OrgnlUETR><TxCxlSts>CNCL</TxCxlSts></TxInfAndSts></CxlDtls>` +
			`</RsltnOfInvstgtn></Document>`,
	}

	for mt, doc := range docs {
		t.Run(string(mt), func(t *testing.T) {
			res := set.Validate([]byte(doc), mt)
			if !res.Valid {
				t.Fatalf("expected valid %s document, got %s: %v", mt, res.ErrorKind, res.Errors)
			}
			if res.MessageType != mt {
				t.Errorf("message type = %s, want %s", res.MessageType, mt)
			}
		})
	}
}
