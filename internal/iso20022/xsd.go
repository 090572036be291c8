package iso20022

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// The gateway validates against the scheme's usage profiles, not the
// full ISO 20022 schemas. Profiles stay inside a deliberate XSD subset:
// named complex types built from a single sequence or choice of typed
// elements, simple-content extensions for amounts, and named simple
// types restricting the XSD builtins with pattern, enumeration, length,
// digit, and minInclusive facets. The loader rejects anything outside
// that subset so a malformed profile fails at startup, not at traffic
// time.

const xsdNamespace = "http://www.w3.org/2001/XMLSchema"

// SchemaSet holds one compiled schema per message type. Construct with
// LoadDir at startup; a SchemaSet is immutable and safe for concurrent
// use afterwards.
type SchemaSet struct {
	schemas map[MessageType]*Schema
}

// Schema is a compiled usage profile for a single message type.
type Schema struct {
	Type     MessageType
	targetNS string
	rootName string
	rootType string
	types    map[string]*ctype
}

type ckind int

const (
	ckSequence ckind = iota
	ckChoice
	ckSimple // text-only content with facets
	ckText   // simple content plus attributes (amounts)
)

type ctype struct {
	name     string
	kind     ckind
	children []cslot
	attrs    []cattr
	simple   *crestrict
}

type cslot struct {
	name     string
	typeName string
	min, max int // max of -1 means unbounded
}

type cattr struct {
	name     string
	typeName string
	required bool
}

type crestrict struct {
	base         string // string, decimal, boolean, dateTime, date
	pattern      *regexp.Regexp
	enum         map[string]struct{}
	minLen       int // -1 unset
	maxLen       int
	totalDigits  int
	fracDigits   int
	minInclusive string // empty unset
}

// Raw XSD document model. Profiles only ever use named top-level types,
// so local elements carry a type reference and nothing else.

type xsdFile struct {
	XMLName         xml.Name         `xml:"http://www.w3.org/2001/XMLSchema schema"`
	TargetNamespace string           `xml:"targetNamespace,attr"`
	Elements        []xsdTopElement  `xml:"element"`
	ComplexTypes    []xsdComplexType `xml:"complexType"`
	SimpleTypes     []xsdSimpleType  `xml:"simpleType"`
}

type xsdTopElement struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type xsdComplexType struct {
	Name          string            `xml:"name,attr"`
	Sequence      *xsdModelGroup    `xml:"sequence"`
	Choice        *xsdModelGroup    `xml:"choice"`
	SimpleContent *xsdSimpleContent `xml:"simpleContent"`
	Attributes    []xsdAttribute    `xml:"attribute"`
}

type xsdModelGroup struct {
	Elements []xsdLocalElement `xml:"element"`
}

type xsdLocalElement struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	MinOccurs string `xml:"minOccurs,attr"`
	MaxOccurs string `xml:"maxOccurs,attr"`
}

type xsdSimpleContent struct {
	Extension *xsdExtension `xml:"extension"`
}

type xsdExtension struct {
	Base       string         `xml:"base,attr"`
	Attributes []xsdAttribute `xml:"attribute"`
}

type xsdAttribute struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
	Use  string `xml:"use,attr"`
}

type xsdSimpleType struct {
	Name        string          `xml:"name,attr"`
	Restriction *xsdRestriction `xml:"restriction"`
}

type xsdRestriction struct {
	Base           string     `xml:"base,attr"`
	Patterns       []xsdFacet `xml:"pattern"`
	Enumerations   []xsdFacet `xml:"enumeration"`
	MinLength      *xsdFacet  `xml:"minLength"`
	MaxLength      *xsdFacet  `xml:"maxLength"`
	TotalDigits    *xsdFacet  `xml:"totalDigits"`
	FractionDigits *xsdFacet  `xml:"fractionDigits"`
	MinInclusive   *xsdFacet  `xml:"minInclusive"`
}

type xsdFacet struct {
	Value string `xml:"value,attr"`
}

// LoadDir reads every .xsd file under dir, compiles each profile, and
// indexes it by the message type derived from its target namespace.
// Any parse or compile failure aborts the load; the caller treats that
// as fatal.
func LoadDir(dir string) (*SchemaSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".xsd") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if len(names) == 0 {
		return nil, fmt.Errorf("no .xsd files in %s", dir)
	}

	set := &SchemaSet{schemas: make(map[MessageType]*Schema, len(names))}
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		s, err := compileSchema(data)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		if _, dup := set.schemas[s.Type]; dup {
			return nil, fmt.Errorf("duplicate schema for %s in %s", s.Type, name)
		}
		set.schemas[s.Type] = s
	}
	return set, nil
}

// Types returns the message types with a loaded schema, sorted.
func (s *SchemaSet) Types() []MessageType {
	out := make([]MessageType, 0, len(s.schemas))
	for mt := range s.schemas {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Schema returns the compiled schema for a message type, if loaded.
func (s *SchemaSet) Schema(mt MessageType) (*Schema, bool) {
	sc, ok := s.schemas[mt]
	return sc, ok
}

func compileSchema(data []byte) (*Schema, error) {
	var f xsdFile
	if err := xml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse xsd: %w", err)
	}
	if f.TargetNamespace == "" {
		return nil, fmt.Errorf("schema has no targetNamespace")
	}
	mt := TypeFromNamespace(f.TargetNamespace)
	if mt == "" {
		return nil, fmt.Errorf("targetNamespace %q does not name a supported message type", f.TargetNamespace)
	}
	if len(f.Elements) != 1 {
		return nil, fmt.Errorf("expected exactly one root element declaration, found %d", len(f.Elements))
	}

	sc := &Schema{
		Type:     mt,
		targetNS: f.TargetNamespace,
		rootName: f.Elements[0].Name,
		rootType: localTypeName(f.Elements[0].Type),
		types:    make(map[string]*ctype),
	}
	if sc.rootName == "" || sc.rootType == "" {
		return nil, fmt.Errorf("root element needs name and type attributes")
	}

	for _, st := range f.SimpleTypes {
		ct, err := compileSimpleType(st)
		if err != nil {
			return nil, err
		}
		if _, dup := sc.types[ct.name]; dup {
			return nil, fmt.Errorf("duplicate type %s", ct.name)
		}
		sc.types[ct.name] = ct
	}
	for _, xt := range f.ComplexTypes {
		ct, err := compileComplexType(xt)
		if err != nil {
			return nil, err
		}
		if _, dup := sc.types[ct.name]; dup {
			return nil, fmt.Errorf("duplicate type %s", ct.name)
		}
		sc.types[ct.name] = ct
	}

	if err := sc.checkReferences(); err != nil {
		return nil, err
	}
	return sc, nil
}

func compileSimpleType(st xsdSimpleType) (*ctype, error) {
	if st.Name == "" {
		return nil, fmt.Errorf("simpleType without a name")
	}
	if st.Restriction == nil {
		return nil, fmt.Errorf("simpleType %s has no restriction", st.Name)
	}
	r, err := compileRestriction(st.Name, st.Restriction)
	if err != nil {
		return nil, err
	}
	return &ctype{name: st.Name, kind: ckSimple, simple: r}, nil
}

func compileRestriction(owner string, x *xsdRestriction) (*crestrict, error) {
	base := localTypeName(x.Base)
	switch base {
	case "string", "decimal", "boolean", "dateTime", "date":
	default:
		return nil, fmt.Errorf("type %s restricts unsupported base %q", owner, x.Base)
	}

	r := &crestrict{base: base, minLen: -1, maxLen: -1, totalDigits: -1, fracDigits: -1}

	if len(x.Patterns) > 0 {
		// Multiple patterns union per XSD semantics.
		parts := make([]string, len(x.Patterns))
		for i, p := range x.Patterns {
			parts[i] = "(?:" + p.Value + ")"
		}
		re, err := regexp.Compile("^(?:" + strings.Join(parts, "|") + ")$")
		if err != nil {
			return nil, fmt.Errorf("type %s has unsupported pattern: %w", owner, err)
		}
		r.pattern = re
	}
	if len(x.Enumerations) > 0 {
		r.enum = make(map[string]struct{}, len(x.Enumerations))
		for _, e := range x.Enumerations {
			r.enum[e.Value] = struct{}{}
		}
	}

	var err error
	if r.minLen, err = facetInt(owner, "minLength", x.MinLength); err != nil {
		return nil, err
	}
	if r.maxLen, err = facetInt(owner, "maxLength", x.MaxLength); err != nil {
		return nil, err
	}
	if r.totalDigits, err = facetInt(owner, "totalDigits", x.TotalDigits); err != nil {
		return nil, err
	}
	if r.fracDigits, err = facetInt(owner, "fractionDigits", x.FractionDigits); err != nil {
		return nil, err
	}
	if x.MinInclusive != nil {
		r.minInclusive = x.MinInclusive.Value
	}
	return r, nil
}

func facetInt(owner, facet string, f *xsdFacet) (int, error) {
	if f == nil {
		return -1, nil
	}
	n, err := strconv.Atoi(f.Value)
	if err != nil || n < 0 {
		return -1, fmt.Errorf("type %s has bad %s facet %q", owner, facet, f.Value)
	}
	return n, nil
}

func compileComplexType(xt xsdComplexType) (*ctype, error) {
	if xt.Name == "" {
		return nil, fmt.Errorf("complexType without a name")
	}

	switch {
	case xt.SimpleContent != nil:
		ext := xt.SimpleContent.Extension
		if ext == nil {
			return nil, fmt.Errorf("type %s simpleContent needs an extension", xt.Name)
		}
		ct := &ctype{name: xt.Name, kind: ckText}
		ct.simple = &crestrict{base: localTypeName(ext.Base), minLen: -1, maxLen: -1, totalDigits: -1, fracDigits: -1}
		switch ct.simple.base {
		case "string", "decimal", "boolean", "dateTime", "date":
			// builtin base keeps its facet-free restriction
		default:
			// Named simple-type base; resolved during validation.
		}
		for _, a := range ext.Attributes {
			ct.attrs = append(ct.attrs, cattr{name: a.Name, typeName: localTypeName(a.Type), required: a.Use == "required"})
		}
		return ct, nil

	case xt.Sequence != nil:
		ct := &ctype{name: xt.Name, kind: ckSequence}
		if err := appendSlots(ct, xt.Sequence.Elements); err != nil {
			return nil, err
		}
		for _, a := range xt.Attributes {
			ct.attrs = append(ct.attrs, cattr{name: a.Name, typeName: localTypeName(a.Type), required: a.Use == "required"})
		}
		return ct, nil

	case xt.Choice != nil:
		ct := &ctype{name: xt.Name, kind: ckChoice}
		if err := appendSlots(ct, xt.Choice.Elements); err != nil {
			return nil, err
		}
		return ct, nil
	}
	return nil, fmt.Errorf("type %s has no sequence, choice, or simpleContent", xt.Name)
}

func appendSlots(ct *ctype, elems []xsdLocalElement) error {
	if len(elems) == 0 {
		return fmt.Errorf("type %s has an empty model group", ct.name)
	}
	for _, e := range elems {
		if e.Name == "" || e.Type == "" {
			return fmt.Errorf("type %s has an element without name or type", ct.name)
		}
		min, max := 1, 1
		if e.MinOccurs != "" {
			n, err := strconv.Atoi(e.MinOccurs)
			if err != nil || n < 0 {
				return fmt.Errorf("type %s element %s has bad minOccurs %q", ct.name, e.Name, e.MinOccurs)
			}
			min = n
		}
		if e.MaxOccurs != "" {
			if e.MaxOccurs == "unbounded" {
				max = -1
			} else {
				n, err := strconv.Atoi(e.MaxOccurs)
				if err != nil || n < min {
					return fmt.Errorf("type %s element %s has bad maxOccurs %q", ct.name, e.Name, e.MaxOccurs)
				}
				max = n
			}
		}
		ct.children = append(ct.children, cslot{name: e.Name, typeName: localTypeName(e.Type), min: min, max: max})
	}
	return nil
}

// checkReferences verifies every type reference resolves to a named type
// or an XSD builtin, so validation never meets a dangling reference.
func (s *Schema) checkReferences() error {
	if !s.resolvable(s.rootType) {
		return fmt.Errorf("root element type %s is not defined", s.rootType)
	}
	for _, ct := range s.types {
		for _, c := range ct.children {
			if !s.resolvable(c.typeName) {
				return fmt.Errorf("type %s references undefined type %s", ct.name, c.typeName)
			}
		}
		for _, a := range ct.attrs {
			if !s.resolvable(a.typeName) {
				return fmt.Errorf("type %s attribute %s references undefined type %s", ct.name, a.name, a.typeName)
			}
		}
		if ct.kind == ckText && !isBuiltin(ct.simple.base) {
			if _, ok := s.types[ct.simple.base]; !ok {
				return fmt.Errorf("type %s extends undefined simple type %s", ct.name, ct.simple.base)
			}
		}
	}
	return nil
}

func (s *Schema) resolvable(name string) bool {
	if isBuiltin(name) {
		return true
	}
	_, ok := s.types[name]
	return ok
}

func isBuiltin(name string) bool {
	switch name {
	case "string", "decimal", "boolean", "dateTime", "date":
		return true
	}
	return false
}

// localTypeName strips the namespace prefix from a QName: "xs:string"
// and "tns:UETRText" both reduce to their local part.
func localTypeName(q string) string {
	if i := strings.LastIndexByte(q, ':'); i >= 0 {
		return q[i+1:]
	}
	return q
}
