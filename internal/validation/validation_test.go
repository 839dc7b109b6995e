package validation

import (
	"strings"
	"testing"

	"github.com/xtxerr/perfkit/internal/errors"
)

func TestValidateSection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "io", false},
		{"with dot", "net.tcp", false},
		{"with hyphen", "thread-pool", false},
		{"with underscore", "disk_io", false},
		{"numbers", "123", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"hidden", ".hidden", true},
		{"slash", "a/b", true},
		{"separator", "a*b", true},
		{"space", "a b", true},
		{"control char", "a\x00b", true},
		{"too long", strings.Repeat("a", 256), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSection(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSection(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrInvalidName) {
				t.Errorf("ValidateSection(%q) error = %v, want ErrInvalidName", tt.input, err)
			}
		})
	}
}

func TestValidateCounterName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "reads", false},
		{"path-like", "disk/sda/reads", false},
		{"with space", "bytes read", false},
		{"with dot", "rx.bytes", false},
		{"empty", "", true},
		{"leading space", " reads", true},
		{"trailing space", "reads ", true},
		{"separator", "a*b", true},
		{"tab", "a\tb", true},
		{"max length", strings.Repeat("a", 255), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCounterName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCounterName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateCommandName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"help", false},
		{"counter.list", false},
		{"log.level", false},
		{"", true},
		{"counter list", true},
		{strings.Repeat("c", 65), true},
	}

	for _, tt := range tests {
		err := ValidateCommandName(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCommandName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}

func TestParseCounterRef(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantSection string
		wantName    string
		wantErr     bool
	}{
		{"simple", "io*reads", "io", "reads", false},
		{"dotted section", "net.tcp*retransmits", "net.tcp", "retransmits", false},
		{"slashed name", "disk*sda/reads", "disk", "sda/reads", false},
		{"trimmed", " io * reads ", "io", "reads", false},
		{"empty", "", "", "", true},
		{"no separator", "io.reads", "", "", true},
		{"empty section", "*reads", "", "", true},
		{"empty name", "io*", "", "", true},
		{"two separators", "io*a*b", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseCounterRef(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCounterRef(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if err != nil {
				return
			}
			if ref.Section != tt.wantSection {
				t.Errorf("ParseCounterRef(%q).Section = %q, want %q", tt.input, ref.Section, tt.wantSection)
			}
			if ref.Name != tt.wantName {
				t.Errorf("ParseCounterRef(%q).Name = %q, want %q", tt.input, ref.Name, tt.wantName)
			}
			if got := ref.String(); got != tt.wantSection+"*"+tt.wantName {
				t.Errorf("String() = %q", got)
			}
		})
	}
}

func TestMetricName(t *testing.T) {
	tests := []struct {
		name  string
		parts []string
		want  string
	}{
		{"simple", []string{"io", "reads"}, "io_reads"},
		{"dots", []string{"net.tcp", "retransmits"}, "net_tcp_retransmits"},
		{"slashes and spaces", []string{"disk", "sda/bytes read"}, "disk_sda_bytes_read"},
		{"upper", []string{"IO", "Reads"}, "io_reads"},
		{"leading digit", []string{"9p", "ops"}, "_9p_ops"},
		{"empty part", []string{"", "ops"}, "ops"},
		{"only invalid", []string{"--", "ops"}, "ops"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MetricName(tt.parts...); got != tt.want {
				t.Errorf("MetricName(%q) = %q, want %q", tt.parts, got, tt.want)
			}
		})
	}
}

func BenchmarkParseCounterRef(b *testing.B) {
	ref := "net.tcp*retransmits"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseCounterRef(ref)
	}
}
