// Package iso20022 loads the scheme's XSD profiles, validates inbound
// messages against them, and parses the handful of fields the gateway
// acts on. Validation never panics and never returns a Go error for bad
// input; every failure mode is a structured result.
package iso20022

import "strings"

// MessageType identifies an ISO 20022 message family and version, e.g.
// "pacs.008.001.13". The zero value means unknown.
type MessageType string

// Message families handled by the gateway.
const (
	MsgPacs008 MessageType = "pacs.008.001.13" // FI to FI customer credit transfer
	MsgPacs002 MessageType = "pacs.002.001.15" // payment status report
	MsgAcmt023 MessageType = "acmt.023.001.04" // identification verification request (proxy resolution)
	MsgAcmt024 MessageType = "acmt.024.001.04" // identification verification report
	MsgCamt054 MessageType = "camt.054.001.13" // bank-to-customer debit/credit notification
	MsgCamt103 MessageType = "camt.103.001.03" // create reservation
	MsgPain001 MessageType = "pain.001.001.12" // customer credit transfer initiation
	MsgPacs004 MessageType = "pacs.004.001.14" // payment return
	MsgPacs028 MessageType = "pacs.028.001.06" // payment status request
	MsgCamt056 MessageType = "camt.056.001.11" // FI to FI payment cancellation request
	MsgCamt029 MessageType = "camt.029.001.13" // resolution of investigation
)

// namespacePrefix is the common stem of every ISO 20022 document namespace.
const namespacePrefix = "urn:iso:std:iso:20022:tech:xsd:"

// AllMessageTypes lists every family the gateway loads a schema for.
func AllMessageTypes() []MessageType {
	return []MessageType{
		MsgPacs008, MsgPacs002, MsgAcmt023, MsgAcmt024, MsgCamt054,
		MsgCamt103, MsgPain001, MsgPacs004, MsgPacs028, MsgCamt056, MsgCamt029,
	}
}

// IsKnown reports whether the message type is one the gateway handles.
func (m MessageType) IsKnown() bool {
	switch m {
	case MsgPacs008, MsgPacs002, MsgAcmt023, MsgAcmt024, MsgCamt054,
		MsgCamt103, MsgPain001, MsgPacs004, MsgPacs028, MsgCamt056, MsgCamt029:
		return true
	}
	return false
}

// Namespace returns the document namespace URI for the message type.
func (m MessageType) Namespace() string {
	return namespacePrefix + string(m)
}

// Family returns the four-letter business area, e.g. "pacs".
func (m MessageType) Family() string {
	if i := strings.IndexByte(string(m), '.'); i > 0 {
		return string(m)[:i]
	}
	return string(m)
}

// Slot names the raw-message column a stored event uses for this type.
// Exactly one slot is populated per event row.
func (m MessageType) Slot() string {
	switch m {
	case MsgPacs008:
		return "payment_instruction"
	case MsgPacs002:
		return "status_report"
	case MsgAcmt023:
		return "proxy_request"
	case MsgAcmt024:
		return "proxy_response"
	case MsgCamt054:
		return "notification"
	case MsgCamt103:
		return "reservation"
	case MsgPain001:
		return "customer_initiation"
	case MsgPacs004:
		return "payment_return"
	case MsgPacs028:
		return "status_query"
	case MsgCamt056:
		return "cancellation_request"
	case MsgCamt029:
		return "investigation_resolution"
	}
	return ""
}

// TypeFromHint resolves a caller-supplied message type string, either
// the full identifier ("pacs.008.001.13") or just the family and
// variant ("pacs.008"). Returns "" for anything else.
func TypeFromHint(hint string) MessageType {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return ""
	}
	if mt := MessageType(hint); mt.IsKnown() {
		return mt
	}
	for _, mt := range AllMessageTypes() {
		if strings.HasPrefix(string(mt), hint+".") {
			return mt
		}
	}
	return ""
}

// TypeFromNamespace maps a document namespace URI to a message type by
// its final path component. Returns "" when the URI is not a document
// namespace the gateway knows.
func TypeFromNamespace(ns string) MessageType {
	if !strings.HasPrefix(ns, namespacePrefix) {
		// Tolerate namespaces that put the family after the last colon
		// but use a different stem.
		if i := strings.LastIndexByte(ns, ':'); i >= 0 {
			mt := MessageType(ns[i+1:])
			if mt.IsKnown() {
				return mt
			}
		}
		return ""
	}
	mt := MessageType(strings.TrimPrefix(ns, namespacePrefix))
	if !mt.IsKnown() {
		return ""
	}
	return mt
}
