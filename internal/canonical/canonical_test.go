package canonical

import "testing"

func TestTextCollapsesNullMarkers(t *testing.T) {
	for _, cell := range []string{"", "   ", "nan", "NaN", "none", "None"} {
		if got := Text(cell); got != nil {
			t.Errorf("Text(%q) = %q, want nil", cell, *got)
		}
	}
	if got := Text("  Communauté de communes  "); got == nil || *got != "Communauté de communes" {
		t.Fatalf("Text should trim and keep real content, got %v", got)
	}
}

func TestCodeCanonicalizesNumericSpellings(t *testing.T) {
	cases := map[string]string{
		"003":         "3",
		"3":           "3",
		"3.0":         "3",
		"3e0":         "3",
		"200068000.0": "200068000",
		"2.00068e8":   "200068000",
		" 245900790 ": "245900790",
	}
	for cell, want := range cases {
		got := Code(cell)
		if got == nil || *got != want {
			t.Errorf("Code(%q) = %v, want %q", cell, got, want)
		}
	}
}

func TestCodeKeepsNonNumericText(t *testing.T) {
	if got := Code("3.7"); got == nil || *got != "3.7" {
		t.Errorf("Code(3.7) = %v, want passthrough", got)
	}
	if got := Code("ZFU-12"); got == nil || *got != "ZFU-12" {
		t.Errorf("Code(ZFU-12) = %v, want passthrough", got)
	}
	if got := Code("nan"); got != nil {
		t.Errorf("Code(nan) = %v, want nil", got)
	}
}

func TestIndicatorIDSpellings(t *testing.T) {
	for _, cell := range []string{"i7", "I 007", "7", "i007", " i 7 "} {
		got := IndicatorID(cell)
		if got == nil || *got != "i007" {
			t.Errorf("IndicatorID(%q) = %v, want i007", cell, got)
		}
	}
}

func TestIndicatorIDKeepsLegacyIds(t *testing.T) {
	if got := IndicatorID("IND-OLD"); got == nil || *got != "ind-old" {
		t.Errorf("IndicatorID(IND-OLD) = %v, want ind-old", got)
	}
	if got := IndicatorID(""); got != nil {
		t.Errorf("IndicatorID empty = %v, want nil", got)
	}
}

func TestIntTruncatesFloats(t *testing.T) {
	if got := Int("12.9"); got == nil || *got != 12 {
		t.Errorf("Int(12.9) = %v, want 12", got)
	}
	if got := Int("not a number"); got != nil {
		t.Errorf("Int(garbage) = %v, want nil", got)
	}
}

func TestFloatParseFailureIsNil(t *testing.T) {
	if got := Float("48.85"); got == nil || *got != 48.85 {
		t.Errorf("Float(48.85) = %v", got)
	}
	if got := Float("48,85"); got == nil || *got != 48.85 {
		t.Errorf("Float(48,85) = %v, want decimal comma accepted", got)
	}
	if got := Float("n/a"); got != nil {
		t.Errorf("Float(n/a) = %v, want nil", got)
	}
}

func TestFlagTokens(t *testing.T) {
	for _, cell := range []string{"x", "X", "1", "true", "TRUE", "oui", "yes", " x "} {
		if !Flag(cell) {
			t.Errorf("Flag(%q) = false, want true", cell)
		}
	}
	for _, cell := range []string{"", "0", "non", "false", "nan", "2"} {
		if Flag(cell) {
			t.Errorf("Flag(%q) = true, want false", cell)
		}
	}
}
