package signalset

import "testing"

func TestParseNumber(t *testing.T) {
	cases := map[string]string{
		"0":       "0",
		"12":      "12",
		"-3.50":   "-3.50",
		"1e3":     "1000",
		"2.5E-2":  "0.025",
		"1.25e1":  "12.5",
		"-4.0E+1": "-40",
		"0.1e0":   "0.1",
		"7e-1":    "0.7",
	}
	for in, want := range cases {
		n, err := ParseNumber(in)
		if err != nil {
			t.Fatalf("ParseNumber(%q) failed: %v", in, err)
		}
		if n.String() != want {
			t.Fatalf("ParseNumber(%q) = %q, want %q", in, n.String(), want)
		}
	}
}

func TestParseNumberRejects(t *testing.T) {
	for _, in := range []string{"", "-", "01", "1.", ".5", "1e", "1e+", "0x10", "1e999", "NaN"} {
		if _, err := ParseNumber(in); err == nil {
			t.Fatalf("ParseNumber(%q) should fail", in)
		}
	}
}

func TestNumberInt(t *testing.T) {
	if v, ok := MustNumber("16").Int(); !ok || v != 16 {
		t.Fatalf("Int(16) = %d, %v", v, ok)
	}
	if _, ok := MustNumber("1.5").Int(); ok {
		t.Fatalf("Int(1.5) should fail")
	}
	if (Number{}).IsSet() {
		t.Fatalf("zero Number reports set")
	}
	if got := MustNumber("0.25").Float64(); got != 0.25 {
		t.Fatalf("Float64 = %v", got)
	}
}
