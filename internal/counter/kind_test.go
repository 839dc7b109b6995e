package counter

import (
	"testing"

	"github.com/xtxerr/perfkit/internal/errors"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{"number", KindNumber, false},
		{"Rate", KindRate, false},
		{" percentile ", KindPercentile, false},
		{"number_percentiles", KindPercentile, false},
		{"gauge", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, errors.ErrInvalidKind) {
			t.Errorf("ParseKind(%q) error = %v, want ErrInvalidKind", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParsePercentile(t *testing.T) {
	tests := []struct {
		input   string
		want    Percentile
		wantErr bool
	}{
		{"50", P50, false},
		{"p90", P90, false},
		{"95", P95, false},
		{"0.99", P99, false},
		{"99.9", P999, false},
		{"P99.9", P999, false},
		{"0.999", P999, false},
		{"75", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := ParsePercentile(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePercentile(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParsePercentile(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPercentileLadder(t *testing.T) {
	ps := AllPercentiles()
	if len(ps) != NumPercentiles {
		t.Fatalf("AllPercentiles() = %d entries", len(ps))
	}
	for i := 1; i < len(ps); i++ {
		if ps[i].Quantile() <= ps[i-1].Quantile() {
			t.Errorf("%v quantile %v not above %v", ps[i], ps[i].Quantile(), ps[i-1].Quantile())
		}
	}
	if P999.String() != "p99.9" || P50.String() != "p50" {
		t.Errorf("names = %s, %s", P50, P999)
	}
	if Percentile(7).Valid() {
		t.Error("Percentile(7) should be invalid")
	}
}

func TestHandleID(t *testing.T) {
	h := Handle{slot: 1234, gen: 7}
	if got := HandleFromID(h.ID()); got != h {
		t.Errorf("HandleFromID(ID()) = %v, want %v", got, h)
	}
	if !(Handle{}).IsZero() {
		t.Error("zero handle should report IsZero")
	}
}
