package token

import (
	"math/big"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in     string
		wantOK bool
		native bool
	}{
		{"", true, true},
		{"0x0000000000000000000000000000000000000000", true, true},
		{"0x036CbD53842c5426634e7929541eC2318f3dCF7e", true, false},
		{"036CbD53842c5426634e7929541eC2318f3dCF7e", true, false},
		{"0x12345", false, false},
		{"not-an-address", false, false},
	}

	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if (err == nil) != tt.wantOK {
			t.Errorf("Normalize(%q) err = %v, wantOK %v", tt.in, err, tt.wantOK)
			continue
		}
		if err == nil && IsNative(got) != tt.native {
			t.Errorf("IsNative(Normalize(%q)) = %v, want %v", tt.in, IsNative(got), tt.native)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"", "0", true},
		{"0", "0", true},
		{"1000000", "1000000", true},
		{" 42 ", "42", true},
		{"-1", "", false},
		{"1.5", "", false},
		{"abc", "", false},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if (err == nil) != tt.wantOK {
			t.Errorf("ParseAmount(%q) err = %v, wantOK %v", tt.in, err, tt.wantOK)
			continue
		}
		if err == nil && got.String() != tt.want {
			t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestFeeShare(t *testing.T) {
	tests := []struct {
		amount string
		rate   int64
		want   string
	}{
		{"1000000", 800, "80000"},
		{"1000000", 1100, "110000"},
		{"1000000", 2200, "220000"},
		{"500000", 3300, "165000"},
		{"250000", 4100, "102500"},
		{"1", 4100, "0"}, // truncates toward zero
		{"0", 4100, "0"},
		{"1000000", 0, "0"},
	}

	for _, tt := range tests {
		amt, _ := ParseAmount(tt.amount)
		got := FeeShare(amt, tt.rate)
		if got.String() != tt.want {
			t.Errorf("FeeShare(%s, %d) = %s, want %s", tt.amount, tt.rate, got, tt.want)
		}
		if amt.String() != tt.amount {
			t.Errorf("FeeShare mutated its input: %s -> %s", tt.amount, amt)
		}
	}
}

func TestFeeShareTruncates(t *testing.T) {
	// 999 * 3300 / 10000 = 329.67 -> 329
	got := FeeShare(big.NewInt(999), 3300)
	if got.Int64() != 329 {
		t.Errorf("FeeShare(999, 3300) = %d, want 329", got.Int64())
	}
}

func TestValidRate(t *testing.T) {
	if !ValidRate(0) || !ValidRate(10000) {
		t.Error("boundary rates should be valid")
	}
	if ValidRate(10001) || ValidRate(-1) {
		t.Error("out-of-range rates should be invalid")
	}
}
