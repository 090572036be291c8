package iso20022

import "testing"

func TestMessageTypeHelpers(t *testing.T) {
	if !MsgPacs008.IsKnown() {
		t.Error("pacs.008 must be known")
	}
	if MessageType("pacs.009.001.08").IsKnown() {
		t.Error("pacs.009 is not handled")
	}
	if got := MsgPacs008.Namespace(); got != "urn:iso:std:iso:20022:tech:xsd:pacs.008.001.13" {
		t.Errorf("Namespace = %q", got)
	}
	if got := MsgCamt056.Family(); got != "camt" {
		t.Errorf("Family = %q", got)
	}
}

func TestEveryMessageTypeHasASlot(t *testing.T) {
	seen := make(map[string]MessageType, len(AllMessageTypes()))
	for _, mt := range AllMessageTypes() {
		slot := mt.Slot()
		if slot == "" {
			t.Errorf("%s has no slot", mt)
			continue
		}
		if prev, dup := seen[slot]; dup {
			t.Errorf("slot %q shared by %s and %s", slot, prev, mt)
		}
		seen[slot] = mt
	}
}

func TestTypeFromHint(t *testing.T) {
	tests := []struct {
		hint string
		want MessageType
	}{
		{"pacs.008.001.13", MsgPacs008},
		{"pacs.008", MsgPacs008},
		{"camt.029", MsgCamt029},
		{" pain.001 ", MsgPain001},
		{"pacs.008.001.02", ""},
		{"pacs", ""},
		{"invoice", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := TypeFromHint(tt.hint); got != tt.want {
			t.Errorf("TypeFromHint(%q) = %q, want %q", tt.hint, got, tt.want)
		}
	}
}

func TestTypeFromNamespace(t *testing.T) {
	tests := []struct {
		ns   string
		want MessageType
	}{
		{"urn:iso:std:iso:20022:tech:xsd:pacs.008.001.13", MsgPacs008},
		{"urn:iso:std:iso:20022:tech:xsd:camt.029.001.13", MsgCamt029},
		{"urn:iso:std:iso:20022:tech:xsd:pacs.008.001.02", ""},
		{"urn:swift:xsd:pacs.002.001.15", MsgPacs002},
		{"http://example.com/schema", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := TypeFromNamespace(tt.ns); got != tt.want {
			t.Errorf("TypeFromNamespace(%q) = %q, want %q", tt.ns, got, tt.want)
		}
	}
}
