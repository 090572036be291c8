package iso20022

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDirLoadsEveryProfile(t *testing.T) {
	set := loadSchemas(t)

	want := AllMessageTypes()
	got := set.Types()
	if len(got) != len(want) {
		t.Fatalf("loaded %d schemas, want %d: %v", len(got), len(want), got)
	}
	for _, mt := range want {
		sc, ok := set.Schema(mt)
		if !ok {
			t.Errorf("no schema loaded for %s", mt)
			continue
		}
		if sc.Type != mt {
			t.Errorf("schema for %s reports type %s", mt, sc.Type)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Errorf("Types() not sorted: %v", got)
			break
		}
	}
}

func TestLoadDirMissingDir(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestLoadDirEmptyDir(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	if err == nil || !strings.Contains(err.Error(), "no .xsd files") {
		t.Fatalf("err = %v, want no .xsd files", err)
	}
}

// writeXSD drops a one-off schema file into dir for compile-error tests.
func writeXSD(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

const schemaHead = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema"
  targetNamespace="urn:iso:std:iso:20022:tech:xsd:pacs.028.001.06"
  elementFormDefault="qualified">`

func TestLoadDirCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			"no target namespace",
			`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema">
  <xs:element name="Document" type="Document"/>
</xs:schema>`,
			"no targetNamespace",
		},
		{
			"unsupported namespace",
			`<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema" targetNamespace="urn:example:other">
  <xs:element name="Document" type="Document"/>
</xs:schema>`,
			"does not name a supported message type",
		},
		{
			"no root element",
			schemaHead + `
  <xs:complexType name="Document"><xs:sequence><xs:element name="A" type="xs:string"/></xs:sequence></xs:complexType>
</xs:schema>`,
			"exactly one root element",
		},
		{
			"two root elements",
			schemaHead + `
  <xs:element name="Document" type="Document"/>
  <xs:element name="Other" type="Document"/>
  <xs:complexType name="Document"><xs:sequence><xs:element name="A" type="xs:string"/></xs:sequence></xs:complexType>
</xs:schema>`,
			"exactly one root element",
		},
		{
			"root type undefined",
			schemaHead + `
  <xs:element name="Document" type="Document"/>
</xs:schema>`,
			"root element type Document is not defined",
		},
		{
			"child references undefined type",
			schemaHead + `
  <xs:element name="Document" type="Document"/>
  <xs:complexType name="Document"><xs:sequence><xs:element name="A" type="Missing"/></xs:sequence></xs:complexType>
</xs:schema>`,
			"references undefined type Missing",
		},
		{
			"unsupported restriction base",
			schemaHead + `
  <xs:element name="Document" type="Document"/>
  <xs:complexType name="Document"><xs:sequence><xs:element name="A" type="Weird"/></xs:sequence></xs:complexType>
  <xs:simpleType name="Weird"><xs:restriction base="xs:hexBinary"/></xs:simpleType>
</xs:schema>`,
			"unsupported base",
		},
		{
			"bad maxOccurs",
			schemaHead + `
  <xs:element name="Document" type="Document"/>
  <xs:complexType name="Document"><xs:sequence><xs:element name="A" type="xs:string" minOccurs="2" maxOccurs="1"/></xs:sequence></xs:complexType>
</xs:schema>`,
			"bad maxOccurs",
		},
		{
			"empty model group",
			schemaHead + `
  <xs:element name="Document" type="Document"/>
  <xs:complexType name="Document"><xs:sequence/></xs:complexType>
</xs:schema>`,
			"empty model group",
		},
		{
			"duplicate type name",
			schemaHead + `
  <xs:element name="Document" type="Document"/>
  <xs:complexType name="Document"><xs:sequence><xs:element name="A" type="xs:string"/></xs:sequence></xs:complexType>
  <xs:complexType name="Document"><xs:sequence><xs:element name="B" type="xs:string"/></xs:sequence></xs:complexType>
</xs:schema>`,
			"duplicate type Document",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeXSD(t, dir, "bad.xsd", tt.body)
			_, err := LoadDir(dir)
			if err == nil {
				t.Fatal("expected compile error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestLoadDirRejectsDuplicateNamespaces(t *testing.T) {
	body := schemaHead + `
  <xs:element name="Document" type="Document"/>
  <xs:complexType name="Document"><xs:sequence><xs:element name="A" type="xs:string"/></xs:sequence></xs:complexType>
</xs:schema>`

	dir := t.TempDir()
	writeXSD(t, dir, "a.xsd", body)
	writeXSD(t, dir, "b.xsd", body)

	_, err := LoadDir(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate schema for pacs.028.001.06") {
		t.Fatalf("err = %v, want duplicate schema error", err)
	}
}

func TestLoadDirAcceptsMinimalSchema(t *testing.T) {
	body := schemaHead + `
  <xs:element name="Document" type="Document"/>
  <xs:complexType name="Document">
    <xs:sequence>
      <xs:element name="Ref" type="RefText"/>
    </xs:sequence>
  </xs:complexType>
  <xs:simpleType name="RefText">
    <xs:restriction base="xs:string">
      <xs:maxLength value="16"/>
    </xs:restriction>
  </xs:simpleType>
</xs:schema>`

	dir := t.TempDir()
	writeXSD(t, dir, "pacs.028.001.06.xsd", body)

	set, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	doc := `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.028.001.06"><Ref>abc</Ref></Document>`
	if res := set.Validate([]byte(doc), MsgPacs028); !res.Valid {
		t.Errorf("expected valid, got %v", res.Errors)
	}
	long := `<Document xmlns="urn:iso:std:iso:20022:tech:xsd:pacs.028.001.06"><Ref>` + strings.Repeat("x", 17) + `</Ref></Document>`
	if res := set.Validate([]byte(long), MsgPacs028); res.Valid {
		t.Error("expected maxLength violation")
	}
}
