package textnorm

import "testing"

func TestNormalizeSmartQuotes(t *testing.T) {
	in := "‘hello’ “world”"
	got := Normalize(in)
	want := "'hello' \"world\""
	if got != want {
		t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
	}
}

func TestNormalizeLeavesOrdinaryTextAlone(t *testing.T) {
	in := "plain ascii, nothing to do"
	if got := Normalize(in); got != in {
		t.Fatalf("Normalize(%q) = %q, want unchanged", in, got)
	}
}
