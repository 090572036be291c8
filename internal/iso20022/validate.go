package iso20022

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Validation error kinds.
const (
	ErrKindSchemaNotLoaded = "SCHEMA_NOT_LOADED"
	ErrKindXMLParse        = "XML_PARSE_ERROR"
	ErrKindXSDValidation   = "XSD_VALIDATION_FAILED"
)

// maxIssues caps the reasons collected per document so a pathological
// payload cannot balloon the response.
const maxIssues = 25

// Issue is a single line-annotated validation reason.
type Issue struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d: %s", i.Line, i.Message)
}

// Result is the outcome of validating one document. Valid results carry
// the detected message type; invalid ones add an error kind and the
// reasons. Validation never returns a Go error: every failure mode is a
// Result.
type Result struct {
	Valid       bool        `json:"valid"`
	MessageType MessageType `json:"messageType,omitempty"`
	ErrorKind   string      `json:"errorKind,omitempty"`
	Errors      []Issue     `json:"errors,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// Validate checks a document against the loaded profile for its message
// type. With hint == "" the type is detected from the root namespace.
func (s *SchemaSet) Validate(data []byte, hint MessageType) Result {
	if len(bytes.TrimSpace(data)) == 0 {
		return Result{
			ErrorKind: ErrKindXMLParse,
			Errors:    []Issue{{Line: 1, Message: "empty document"}},
		}
	}

	root, parseIssue := detectRoot(data)
	if parseIssue != nil {
		return Result{
			MessageType: hint,
			ErrorKind:   ErrKindXMLParse,
			Errors:      []Issue{*parseIssue},
		}
	}

	detected := TypeFromNamespace(root.Name.Space)

	mt := hint
	var warnings []string
	if mt == "" {
		if detected == "" {
			return Result{
				ErrorKind: ErrKindSchemaNotLoaded,
				Errors: []Issue{{
					Line:    1,
					Message: fmt.Sprintf("cannot determine message type from namespace %q", root.Name.Space),
				}},
			}
		}
		mt = detected
	} else if detected != "" && detected != mt {
		warnings = append(warnings, fmt.Sprintf("document namespace suggests %s, validating as %s", detected, mt))
	}

	schema, ok := s.schemas[mt]
	if !ok {
		return Result{
			MessageType: mt,
			ErrorKind:   ErrKindSchemaNotLoaded,
			Errors:      []Issue{{Line: 1, Message: fmt.Sprintf("no schema loaded for %s", mt)}},
			Warnings:    warnings,
		}
	}

	w := &walker{schema: schema, data: data}
	w.run()

	res := Result{MessageType: mt, Warnings: warnings}
	if w.syntax != nil {
		res.ErrorKind = ErrKindXMLParse
		res.Errors = []Issue{*w.syntax}
		return res
	}
	if len(w.issues) > 0 {
		res.ErrorKind = ErrKindXSDValidation
		res.Errors = w.issues
		if w.truncated {
			res.Warnings = append(res.Warnings, "error list truncated")
		}
		return res
	}
	res.Valid = true
	return res
}

// detectRoot finds the document's root start element without validating
// anything else.
func detectRoot(data []byte) (xml.StartElement, *Issue) {
	d := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, syntaxIssue(err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Copy(), nil
		}
	}
}

func syntaxIssue(err error) *Issue {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return &Issue{Line: se.Line, Message: "xml syntax: " + se.Msg}
	}
	if errors.Is(err, io.EOF) {
		return &Issue{Line: 1, Message: "document has no root element"}
	}
	return &Issue{Line: 1, Message: "xml parse: " + err.Error()}
}

// walker performs the structural walk of one document against one
// compiled schema. It collects issues instead of stopping, except for
// XML syntax errors which abort the walk.
type walker struct {
	schema    *Schema
	data      []byte
	d         *xml.Decoder
	issues    []Issue
	truncated bool
	syntax    *Issue
}

func (w *walker) run() {
	w.d = xml.NewDecoder(bytes.NewReader(w.data))

	start, ok := w.nextStart()
	if !ok {
		return
	}

	if start.Name.Local != w.schema.rootName {
		w.addf("root element must be <%s>, found <%s>", w.schema.rootName, start.Name.Local)
		return
	}
	if start.Name.Space != w.schema.targetNS {
		w.addf("document namespace %q does not match %q", start.Name.Space, w.schema.targetNS)
		return
	}

	w.element(start, w.schema.rootType)
}

func (w *walker) nextStart() (xml.StartElement, bool) {
	for {
		tok, err := w.d.Token()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.syntax = syntaxIssue(err)
			}
			return xml.StartElement{}, false
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, true
		}
	}
}

// element validates one element whose content model is typeName, with
// the decoder positioned just past its start tag. On return the decoder
// is positioned just past the matching end tag.
func (w *walker) element(start xml.StartElement, typeName string) {
	if w.syntax != nil {
		w.skip()
		return
	}

	ct := w.resolve(typeName)
	if ct == nil {
		// Unresolvable type references do not survive compilation, so
		// this content is from a schema revision no longer loaded.
		w.skip()
		return
	}

	switch ct.kind {
	case ckSimple:
		w.checkAttrs(start, nil)
		w.simpleContent(start, ct.simple)
	case ckText:
		w.checkAttrs(start, ct)
		w.simpleContent(start, w.textRestriction(ct))
	case ckSequence:
		w.checkAttrs(start, ct)
		w.sequence(start, ct)
	case ckChoice:
		w.checkAttrs(start, ct)
		w.choice(start, ct)
	}
}

// resolve maps a type reference to its compiled type, materializing
// facet-free stand-ins for the builtins.
func (w *walker) resolve(name string) *ctype {
	if ct, ok := w.schema.types[name]; ok {
		return ct
	}
	if isBuiltin(name) {
		return &ctype{name: name, kind: ckSimple, simple: &crestrict{base: name, minLen: -1, maxLen: -1, totalDigits: -1, fracDigits: -1}}
	}
	return nil
}

// textRestriction resolves a simple-content base that may itself be a
// named simple type.
func (w *walker) textRestriction(ct *ctype) *crestrict {
	if isBuiltin(ct.simple.base) {
		return ct.simple
	}
	if base, ok := w.schema.types[ct.simple.base]; ok && base.simple != nil {
		return base.simple
	}
	return ct.simple
}

func (w *walker) checkAttrs(start xml.StartElement, ct *ctype) {
	var declared []cattr
	if ct != nil {
		declared = ct.attrs
	}
	seen := make(map[string]bool, len(declared))

	for _, a := range start.Attr {
		if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" || a.Name.Space == "http://www.w3.org/2001/XMLSchema-instance" {
			continue
		}
		var spec *cattr
		for i := range declared {
			if declared[i].name == a.Name.Local {
				spec = &declared[i]
				break
			}
		}
		if spec == nil {
			w.addf("element <%s> has unexpected attribute %q", start.Name.Local, a.Name.Local)
			continue
		}
		seen[spec.name] = true
		w.value(spec.typeName, a.Value, fmt.Sprintf("attribute %q of <%s>", spec.name, start.Name.Local))
	}

	for _, spec := range declared {
		if spec.required && !seen[spec.name] {
			w.addf("element <%s> is missing required attribute %q", start.Name.Local, spec.name)
		}
	}
}

// simpleContent consumes the element body, which must be text only, and
// applies the restriction facets to it.
func (w *walker) simpleContent(start xml.StartElement, r *crestrict) {
	var text strings.Builder
	for {
		tok, err := w.d.Token()
		if err != nil {
			w.syntax = syntaxIssue(err)
			return
		}
		switch t := tok.(type) {
		case xml.CharData:
			text.Write(t)
		case xml.StartElement:
			w.addf("element <%s> must not contain child element <%s>", start.Name.Local, t.Name.Local)
			w.skip()
		case xml.EndElement:
			w.value2(r, strings.TrimSpace(text.String()), fmt.Sprintf("element <%s>", start.Name.Local))
			return
		}
	}
}

// sequence validates an ordered content model with occurrence bounds.
func (w *walker) sequence(start xml.StartElement, ct *ctype) {
	slots := ct.children
	si := 0
	counts := make([]int, len(slots))

	for {
		tok, err := w.d.Token()
		if err != nil {
			w.syntax = syntaxIssue(err)
			return
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				w.addf("element <%s> must not contain text content", start.Name.Local)
			}
		case xml.StartElement:
			if t.Name.Space != w.schema.targetNS {
				w.addf("element <%s> is not in the document namespace", t.Name.Local)
				w.skip()
				continue
			}
			j := si
			for j < len(slots) && slots[j].name != t.Name.Local {
				if counts[j] < slots[j].min {
					break
				}
				j++
			}
			if j >= len(slots) || slots[j].name != t.Name.Local {
				if j < len(slots) {
					w.addf("unexpected element <%s> in <%s>, expected <%s>", t.Name.Local, start.Name.Local, slots[j].name)
				} else {
					w.addf("unexpected element <%s> in <%s>", t.Name.Local, start.Name.Local)
				}
				w.skip()
				continue
			}
			si = j
			if slots[si].max != -1 && counts[si] >= slots[si].max {
				w.addf("element <%s> occurs more than %d times in <%s>", t.Name.Local, slots[si].max, start.Name.Local)
				w.skip()
				continue
			}
			counts[si]++
			w.element(t, slots[si].typeName)
			if w.syntax != nil {
				return
			}
		case xml.EndElement:
			for k := si; k < len(slots); k++ {
				if counts[k] < slots[k].min {
					w.addf("element <%s> is missing required element <%s>", start.Name.Local, slots[k].name)
				}
			}
			return
		}
	}
}

// choice validates a content model of exactly one element drawn from the
// member list.
func (w *walker) choice(start xml.StartElement, ct *ctype) {
	matched := 0
	for {
		tok, err := w.d.Token()
		if err != nil {
			w.syntax = syntaxIssue(err)
			return
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				w.addf("element <%s> must not contain text content", start.Name.Local)
			}
		case xml.StartElement:
			var member *cslot
			for i := range ct.children {
				if ct.children[i].name == t.Name.Local {
					member = &ct.children[i]
					break
				}
			}
			if member == nil {
				w.addf("element <%s> is not a valid alternative in <%s> (expected one of %s)",
					t.Name.Local, start.Name.Local, slotNames(ct.children))
				w.skip()
				continue
			}
			matched++
			if matched > 1 {
				w.addf("element <%s> allows only one alternative, found extra <%s>", start.Name.Local, t.Name.Local)
				w.skip()
				continue
			}
			w.element(t, member.typeName)
			if w.syntax != nil {
				return
			}
		case xml.EndElement:
			if matched == 0 {
				w.addf("element <%s> requires one of %s", start.Name.Local, slotNames(ct.children))
			}
			return
		}
	}
}

func slotNames(slots []cslot) string {
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = "<" + s.name + ">"
	}
	return strings.Join(names, ", ")
}

// value validates an attribute or text value against a named type.
func (w *walker) value(typeName, v, what string) {
	ct := w.resolve(typeName)
	if ct == nil || ct.simple == nil {
		return
	}
	w.value2(ct.simple, v, what)
}

func (w *walker) value2(r *crestrict, v, what string) {
	if r == nil {
		return
	}

	switch r.base {
	case "decimal":
		d, err := decimal.NewFromString(v)
		if err != nil {
			w.addf("%s: %q is not a valid decimal", what, v)
			return
		}
		if r.totalDigits >= 0 {
			if digits := totalDigitCount(d); digits > r.totalDigits {
				w.addf("%s: value %s exceeds %d total digits", what, v, r.totalDigits)
			}
		}
		if r.fracDigits >= 0 && int(-d.Exponent()) > r.fracDigits {
			w.addf("%s: value %s exceeds %d fraction digits", what, v, r.fracDigits)
		}
		if r.minInclusive != "" {
			if minVal, err := decimal.NewFromString(r.minInclusive); err == nil && d.LessThan(minVal) {
				w.addf("%s: value %s is below the minimum %s", what, v, r.minInclusive)
			}
		}
	case "boolean":
		switch v {
		case "true", "false", "1", "0":
		default:
			w.addf("%s: %q is not a valid boolean", what, v)
		}
	case "dateTime":
		if !validISODateTime(v) {
			w.addf("%s: %q is not a valid dateTime", what, v)
		}
	case "date":
		if !validISODate(v) {
			w.addf("%s: %q is not a valid date", what, v)
		}
	}

	n := utf8.RuneCountInString(v)
	if r.minLen >= 0 && n < r.minLen {
		w.addf("%s: value is shorter than %d characters", what, r.minLen)
	}
	if r.maxLen >= 0 && n > r.maxLen {
		w.addf("%s: value is longer than %d characters", what, r.maxLen)
	}
	if r.pattern != nil && !r.pattern.MatchString(v) {
		w.addf("%s: %q does not match the required pattern", what, v)
	}
	if r.enum != nil {
		if _, ok := r.enum[v]; !ok {
			w.addf("%s: %q is not one of the allowed values", what, v)
		}
	}
}

// totalDigitCount returns significant digits of the coefficient,
// ignoring sign and leading zeros.
func totalDigitCount(d decimal.Decimal) int {
	s := d.Coefficient().String()
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		return 1
	}
	return len(s)
}

func (w *walker) skip() {
	if w.d != nil {
		_ = w.d.Skip()
	}
}

func (w *walker) addf(format string, args ...interface{}) {
	if w.truncated {
		return
	}
	if len(w.issues) >= maxIssues {
		w.truncated = true
		return
	}
	w.issues = append(w.issues, Issue{
		Line:    lineAt(w.data, w.d.InputOffset()),
		Message: fmt.Sprintf(format, args...),
	})
}

// lineAt converts a byte offset into a 1-based line number.
func lineAt(data []byte, off int64) int {
	if off > int64(len(data)) {
		off = int64(len(data))
	}
	return 1 + bytes.Count(data[:off], []byte{'\n'})
}

// ISO dates and date-times accept an optional zone designator; the zone
// is commonly omitted in scheme traffic.
var dateTimeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
}

func validISODateTime(v string) bool {
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func validISODate(v string) bool {
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}
