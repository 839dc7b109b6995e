// Package validation provides centralized input validation for perfkit.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/xtxerr/perfkit/config"
	"github.com/xtxerr/perfkit/internal/errors"
)

// KeySeparator joins section and name in a counter reference.
const KeySeparator = "*"

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
	AllowSlashes bool
	AllowSpaces  bool
}

// SectionRules returns the rules for counter sections.
func SectionRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    config.MaxNameLength,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// CounterNameRules returns the rules for counter names.
// Names may contain slashes (e.g. "disk/sda/reads") and spaces.
func CounterNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    config.MaxNameLength,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
		AllowSlashes: true,
		AllowSpaces:  true,
	}
}

// CommandRules returns the rules for CLI command names.
func CommandRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    64,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required: %w", rules.MinLength, errors.ErrInvalidName)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed: %w", rules.MaxLength, errors.ErrInvalidName)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..': %w", errors.ErrInvalidName)
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.': %w", errors.ErrInvalidName)
	}

	if strings.TrimSpace(name) != name {
		return fmt.Errorf("name cannot start or end with whitespace: %w", errors.ErrInvalidName)
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d: %w", i, errors.ErrInvalidName)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d: %w", r, i, errors.ErrInvalidName)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	case '/':
		return rules.AllowSlashes
	case ' ':
		return rules.AllowSpaces
	}
	return false
}

// ValidateSection validates a counter section.
func ValidateSection(section string) error {
	if err := ValidateName(section, SectionRules()); err != nil {
		return fmt.Errorf("section %q: %w", section, err)
	}
	return nil
}

// ValidateCounterName validates a counter name.
func ValidateCounterName(name string) error {
	if err := ValidateName(name, CounterNameRules()); err != nil {
		return fmt.Errorf("counter name %q: %w", name, err)
	}
	return nil
}

// ValidateCommandName validates a CLI command name.
func ValidateCommandName(name string) error {
	if err := ValidateName(name, CommandRules()); err != nil {
		return fmt.Errorf("command %q: %w", name, err)
	}
	return nil
}

// =============================================================================
// Counter Reference
// =============================================================================

// CounterRef represents a parsed "section*name" reference.
type CounterRef struct {
	Section string
	Name    string
}

// ParseCounterRef parses a "section*name" reference string.
// The first separator splits the reference; sections cannot contain it.
func ParseCounterRef(ref string) (*CounterRef, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty counter reference: %w", errors.ErrInvalidArgs)
	}

	section, name, ok := strings.Cut(ref, KeySeparator)
	if !ok {
		return nil, fmt.Errorf("invalid counter reference format: expected 'section%sname', got '%s': %w",
			KeySeparator, ref, errors.ErrInvalidArgs)
	}

	section = strings.TrimSpace(section)
	name = strings.TrimSpace(name)

	if err := ValidateSection(section); err != nil {
		return nil, fmt.Errorf("invalid counter reference: %w", err)
	}
	if err := ValidateCounterName(name); err != nil {
		return nil, fmt.Errorf("invalid counter reference: %w", err)
	}

	return &CounterRef{
		Section: section,
		Name:    name,
	}, nil
}

// String returns the string representation of the counter reference.
func (r *CounterRef) String() string {
	return r.Section + KeySeparator + r.Name
}

// =============================================================================
// Metric Names
// =============================================================================

var metricInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// MetricName turns a section and counter name into a Prometheus metric name
// component: runs of invalid characters become one underscore, the result
// is lower-cased, and a leading digit is prefixed with an underscore.
func MetricName(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(metricInvalidChars.ReplaceAllString(p, "_"), "_")
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('_')
		}
		b.WriteString(strings.ToLower(p))
	}
	out := b.String()
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
