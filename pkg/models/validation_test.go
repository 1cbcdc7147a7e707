package models

import "testing"

func TestValidateOrderInput(t *testing.T) {
	cases := []struct {
		name     string
		side     Side
		price    int
		quantity int
		wantErr  bool
	}{
		{"valid buy", SideBuy, 50, 10, false},
		{"valid boundary 0", SideSell, 0, 1, false},
		{"valid boundary 100", SideBuy, 100, 1, false},
		{"negative price", SideBuy, -1, 10, true},
		{"price over 100", SideSell, 101, 10, true},
		{"zero quantity", SideBuy, 50, 0, true},
		{"bad side", Side("hold"), 50, 10, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOrderInput(tc.side, tc.price, tc.quantity)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ValidateOrderInput(%v,%d,%d) error=%v, wantErr=%v", tc.side, tc.price, tc.quantity, err, tc.wantErr)
			}
		})
	}
}

func TestValidateMMQuotes(t *testing.T) {
	if err := ValidateMMQuotes(56, 58, 10); err != nil {
		t.Fatalf("expected valid quotes, got %v", err)
	}
	if err := ValidateMMQuotes(58, 56, 10); err == nil {
		t.Fatal("expected error when bid > ask")
	}
	if err := ValidateMMQuotes(0, 0, 1); err != nil {
		t.Fatalf("bid==ask==0 should be legal: %v", err)
	}
	if err := ValidateMMQuotes(10, 20, 0); err == nil {
		t.Fatal("expected error for qty < 1")
	}
}

func TestNormalizeFactorName(t *testing.T) {
	f := &Factor{Name: "  Macro Trend  "}
	if got := f.NormalizedName(); got != "macro trend" {
		t.Fatalf("got %q", got)
	}
}

func TestValidateProbability(t *testing.T) {
	if v, err := ValidateProbability("p", 1.5); err != nil || v != 1 {
		t.Fatalf("want clamp to 1, got %v err=%v", v, err)
	}
	if v, err := ValidateProbability("p", -0.2); err != nil || v != 0 {
		t.Fatalf("want clamp to 0, got %v err=%v", v, err)
	}
	nan := 0.0
	nan = nan / nan
	if _, err := ValidateProbability("p", nan); err == nil {
		t.Fatal("expected NaN rejection")
	}
}
