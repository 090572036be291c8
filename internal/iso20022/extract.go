package iso20022

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strings"
)

var (
	uuidShape = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

	// Returns embed the original payment's reference in remittance
	// free-text as NEXUSORIGINALUETR:<uuid>.
	originalUETRRe = regexp.MustCompile(`NEXUSORIGINALUETR:([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})`)

	// Last-resort extraction for documents too broken to tokenize.
	rawUETRRe = regexp.MustCompile(`<(?:\w+:)?UETR>\s*([0-9a-fA-F-]{36})\s*</(?:\w+:)?UETR>`)
)

// SafeExtractUETR pulls the first transaction reference out of a
// document without ever failing: malformed input yields "" or whatever
// reference appeared before the damage. Preference order is <UETR>,
// <OrgnlUETR>, <OrgnlEndToEndId>, then a UUID-shaped <EndToEndId>.
func SafeExtractUETR(data []byte) string {
	d := xml.NewDecoder(bytes.NewReader(data))

	var orgnlUETR, orgnlE2E, e2e string
	var field string

	for {
		tok, err := d.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "UETR", "OrgnlUETR", "OrgnlEndToEndId", "EndToEndId":
				field = t.Name.Local
			default:
				field = ""
			}
		case xml.CharData:
			if field == "" {
				continue
			}
			v := strings.TrimSpace(string(t))
			if v == "" {
				continue
			}
			switch field {
			case "UETR":
				return strings.ToLower(v)
			case "OrgnlUETR":
				if orgnlUETR == "" {
					orgnlUETR = v
				}
			case "OrgnlEndToEndId":
				if orgnlE2E == "" {
					orgnlE2E = v
				}
			case "EndToEndId":
				if e2e == "" && uuidShape.MatchString(v) {
					e2e = v
				}
			}
			field = ""
		case xml.EndElement:
			field = ""
		}
	}

	switch {
	case orgnlUETR != "":
		return strings.ToLower(orgnlUETR)
	case orgnlE2E != "":
		return strings.ToLower(orgnlE2E)
	case e2e != "":
		return strings.ToLower(e2e)
	}

	// Tokenizing got nothing; try a raw scan for documents broken ahead
	// of their UETR.
	if m := rawUETRRe.FindSubmatch(data); m != nil {
		return strings.ToLower(string(m[1]))
	}
	return ""
}

// ExtractOriginalUETR finds the NEXUSORIGINALUETR:<uuid> marker a return
// instruction carries in its remittance text. Returns "" when absent.
func ExtractOriginalUETR(text string) string {
	m := originalUETRRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// IsUUIDShaped reports whether a reference has the canonical 36-char
// UUID form.
func IsUUIDShaped(s string) bool {
	return uuidShape.MatchString(s)
}
