package callsign

import "testing"

func TestParseValid(t *testing.T) {
	cases := []struct {
		in       string
		base     string
		ssid     uint8
		reserved bool
	}{
		{"w1abc-10", "W1ABC", 10, false},
		{"K2XYZ-5", "K2XYZ", 5, false},
		{"N0CALL", "N0CALL", 0, false},
		{"cq", "CQ", 0, true},
		{"NODES", "NODES", 0, true},
		{"A-0", "A", 0, false},
	}

	for _, c := range cases {
		got, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error: %v", c.in, err)
		}
		if got.Base() != c.base || got.SSID() != c.ssid {
			t.Fatalf("Parse(%q) = %q/%d, want %q/%d", c.in, got.Base(), got.SSID(), c.base, c.ssid)
		}
		if got.IsReserved() != c.reserved {
			t.Fatalf("Parse(%q).IsReserved() = %v, want %v", c.in, got.IsReserved(), c.reserved)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	cases := []string{
		"",
		"TOOLONGCALL",
		"W1ABC-16",
		"W1ABC--1",
		"W1AB_C",
		"W1ABC-",
	}

	for _, in := range cases {
		if _, err := Parse(in); err == nil {
			t.Fatalf("Parse(%q): expected error, got none", in)
		}
	}
}

func TestEqualityIsCaseInsensitive(t *testing.T) {
	a := MustParse("w1abc-10")
	b := MustParse("W1ABC-10")
	if !a.Equal(b) {
		t.Fatalf("expected %v to equal %v", a, b)
	}
	if a.String() != "W1ABC-10" {
		t.Fatalf("String() = %q, want W1ABC-10", a.String())
	}
}

func TestStringBaseOnly(t *testing.T) {
	c := MustParse("N0CALL")
	if c.String() != "N0CALL" {
		t.Fatalf("String() = %q, want N0CALL", c.String())
	}
}
