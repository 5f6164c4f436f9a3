package ir

import "testing"

func TestParseLengthFixedAndRange(t *testing.T) {
	fixed, err := parseLength("4")
	if err != nil || fixed.IsRange || fixed.Fixed != 4 {
		t.Fatalf("parseLength(4) = %+v, %v", fixed, err)
	}

	rng, err := parseLength("1:23")
	if err != nil || !rng.IsRange || rng.Min != 1 || rng.Max != 23 {
		t.Fatalf("parseLength(1:23) = %+v, %v", rng, err)
	}
}

func TestParseValueSpecSingleAndRange(t *testing.T) {
	single := parseValueSpec("0x10")
	if single.IsRange || single.Single != "0x10" {
		t.Fatalf("expected single literal, got %+v", single)
	}

	rng := parseValueSpec("0x10-0xFF")
	if !rng.IsRange || rng.RangeLo != "0x10" || rng.RangeHi != "0xFF" {
		t.Fatalf("expected range, got %+v", rng)
	}
}

func TestParseIntLiteralBases(t *testing.T) {
	cases := map[string]int64{
		"0x1F": 31,
		"0b101": 5,
		"10":    10,
	}
	for in, want := range cases {
		got, err := parseIntLiteral(in)
		if err != nil {
			t.Fatalf("parseIntLiteral(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseIntLiteral(%q) = %d, want %d", in, got, want)
		}
	}
}
