package money

import (
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"plain integer", "1000", "1000", false},
		{"two decimals", "1000.00", "1000", false},
		{"high precision", "25.72075", "25.72075", false},
		{"leading space", " 42.5 ", "42.5", false},
		{"negative", "-5.25", "-5.25", false},
		{"empty", "", "", true},
		{"garbage", "abc", "", true},
		{"two dots", "10.50.30", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(MustParse(tt.want)) {
				t.Errorf("Parse(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParsePositive(t *testing.T) {
	if _, err := ParsePositive("10.00"); err != nil {
		t.Errorf("expected 10.00 to parse, got %v", err)
	}
	if _, err := ParsePositive("0"); err == nil {
		t.Error("expected zero to be rejected")
	}
	if _, err := ParsePositive("-1.50"); err == nil {
		t.Error("expected negative to be rejected")
	}
}

func TestQuantize(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     string
	}{
		{"THB keeps two decimals", "35.7207", "THB", "35.72"},
		{"half-even rounds to even low", "2.345", "SGD", "2.34"},
		{"half-even rounds to even high", "2.355", "SGD", "2.36"},
		{"JPY zero decimals", "1250.5", "JPY", "1250"},
		{"JPY half-even up", "1251.5", "JPY", "1252"},
		{"VND zero decimals", "19450.4", "VND", "19450"},
		{"unknown currency defaults to two", "9.995", "XTS", "10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Format(Quantize(MustParse(tt.amount), tt.currency), tt.currency)
			if got != tt.want {
				t.Errorf("Quantize(%s, %s) = %s, want %s", tt.amount, tt.currency, got, tt.want)
			}
		})
	}
}

func TestQuantizeRate_Truncates(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"25.72075", "25.7207"},
		{"25.72079", "25.7207"},
		{"25.7207", "25.7207"},
		{"0.03846", "0.0384"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := FormatRate(QuantizeRate(MustParse(tt.input)))
			if got != tt.want {
				t.Errorf("QuantizeRate(%s) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestConvert(t *testing.T) {
	got := Convert(MustParse("1000.00"), MustParse("25.7207"), "THB")
	if Format(got, "THB") != "25720.70" {
		t.Errorf("Convert(1000.00, 25.7207, THB) = %s, want 25720.70", Format(got, "THB"))
	}
}

func TestConvertBack(t *testing.T) {
	got, err := ConvertBack(MustParse("25720.70"), MustParse("25.7207"), "SGD")
	if err != nil {
		t.Fatalf("ConvertBack: %v", err)
	}
	if Format(got, "SGD") != "1000.00" {
		t.Errorf("ConvertBack(25720.70, 25.7207, SGD) = %s, want 1000.00", Format(got, "SGD"))
	}

	if _, err := ConvertBack(MustParse("100"), MustParse("0"), "SGD"); err == nil {
		t.Error("expected zero rate to be rejected")
	}
}

func TestFormat(t *testing.T) {
	if got := Format(MustParse("25720.7"), "THB"); got != "25720.70" {
		t.Errorf("Format THB = %s, want 25720.70", got)
	}
	if got := Format(MustParse("1250"), "JPY"); got != "1250" {
		t.Errorf("Format JPY = %s, want 1250", got)
	}
}

func TestWithinScaleTolerance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		currency string
		want     bool
	}{
		{"equal", "100.00", "100.00", "THB", true},
		{"one ulp apart", "100.00", "100.01", "THB", true},
		{"two ulps apart", "100.00", "100.02", "THB", false},
		{"jpy whole unit", "1000", "1001", "JPY", true},
		{"jpy two units", "1000", "1002", "JPY", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WithinScaleTolerance(MustParse(tt.a), MustParse(tt.b), tt.currency)
			if got != tt.want {
				t.Errorf("WithinScaleTolerance(%s, %s, %s) = %v, want %v", tt.a, tt.b, tt.currency, got, tt.want)
			}
		})
	}
}

func TestSetScale_Override(t *testing.T) {
	SetScale("IDR", 0)
	t.Cleanup(func() { SetScale("IDR", 2) })

	if got := Format(Quantize(MustParse("12150.75"), "IDR"), "IDR"); got != "12151" {
		t.Errorf("expected IDR quantized to whole units, got %s", got)
	}
}
